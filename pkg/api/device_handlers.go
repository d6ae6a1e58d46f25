package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/simbridge-dev/simbridge-go/pkg/pairing"
	"github.com/simbridge-dev/simbridge-go/pkg/store"
)

type deviceCreateRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req deviceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	role := store.DeviceRole(req.Type)
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "type must be 'host' or 'client'")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	d := &store.Device{OwnerUserID: userID, Name: req.Name, Role: role}
	if err := s.store.CreateDevice(r.Context(), d); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        d.ID,
		"name":      d.Name,
		"type":      string(d.Role),
		"is_online": false,
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	devices, err := s.store.DevicesByUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		var lastSeen any
		if d.LastSeenAt != nil {
			lastSeen = d.LastSeenAt.Format(time.RFC3339)
		}
		items = append(items, map[string]any{
			"id":        d.ID,
			"name":      d.Name,
			"type":      string(d.Role),
			"is_online": s.registry.Lookup(d.ID) != nil,
			"last_seen": lastSeen,
		})
	}

	writeJSON(w, http.StatusOK, items)
}

type pairConfirmRequest struct {
	Code           string `json:"code"`
	ClientDeviceID int64  `json:"client_device_id"`
}

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	hostDeviceID, err := strconv.ParseInt(r.URL.Query().Get("host_device_id"), 10, 64)
	if err != nil || hostDeviceID <= 0 {
		writeError(w, http.StatusBadRequest, "host_device_id query parameter is required")
		return
	}

	code, ttl, err := s.pairing.IssueCode(r.Context(), hostDeviceID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":               code,
		"expires_in_seconds": ttl,
	})
}

func (s *Server) handleConfirmCode(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req pairConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ClientDeviceID <= 0 {
		writeError(w, http.StatusBadRequest, "client_device_id is required")
		return
	}

	result, err := s.pairing.ConfirmCode(r.Context(), req.Code, req.ClientDeviceID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	body := map[string]any{
		"status":     result.Status,
		"pairing_id": result.PairingID,
	}
	if result.Status == pairing.StatusPaired {
		body["host_device_id"] = result.HostDeviceID
	}
	writeJSON(w, http.StatusOK, body)
}
