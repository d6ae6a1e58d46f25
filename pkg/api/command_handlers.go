package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/simbridge-dev/simbridge-go/pkg/store"
	"github.com/simbridge-dev/simbridge-go/pkg/wire"
)

// Command field bounds.
const (
	maxRecipientLen = 30
	maxBodyLen      = 1600
)

// Command names carried in relayed frames.
const (
	cmdSendSMS  = "SEND_SMS"
	cmdMakeCall = "MAKE_CALL"
	cmdGetSIMs  = "GET_SIMS"
)

type smsRequest struct {
	ToDeviceID int64  `json:"to_device_id"`
	SIM        int    `json:"sim"`
	To         string `json:"to"`
	Body       string `json:"body"`
}

type callRequest struct {
	ToDeviceID int64  `json:"to_device_id"`
	SIM        int    `json:"sim"`
	To         string `json:"to"`
}

// validateCommandTarget checks the shared sim/recipient fields.
func validateCommandTarget(toDeviceID int64, sim int, to string) string {
	if toDeviceID <= 0 {
		return "to_device_id is required"
	}
	if sim != 1 && sim != 2 {
		return "sim must be 1 or 2"
	}
	if n := utf8.RuneCountInString(to); n < 1 || n > maxRecipientLen {
		return "to must be 1-30 characters"
	}
	return ""
}

// relayCommand authorizes the caller against the host and relays the
// command payload, writing the HTTP response.
func (s *Server) relayCommand(w http.ResponseWriter, r *http.Request, userID, hostDeviceID int64, payload wire.Payload) {
	fromDeviceID, err := s.engine.AuthorizeCommand(r.Context(), userID, hostDeviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	result, err := s.engine.Relay(r.Context(), hostDeviceID, store.RoleHost, payload, fromDeviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": result.Status,
		"req_id": result.ReqID,
	})
}

func (s *Server) handleSendSMS(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req smsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateCommandTarget(req.ToDeviceID, req.SIM, req.To); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	// Bounds count characters, not bytes; a multibyte body of 1600
	// runes is accepted.
	if n := utf8.RuneCountInString(req.Body); n < 1 || n > maxBodyLen {
		writeError(w, http.StatusBadRequest, "body must be 1-1600 characters")
		return
	}

	s.relayCommand(w, r, userID, req.ToDeviceID, wire.Payload{
		"type": wire.TypeCommand,
		"cmd":  cmdSendSMS,
		"sim":  req.SIM,
		"to":   req.To,
		"body": req.Body,
	})
}

func (s *Server) handleMakeCall(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateCommandTarget(req.ToDeviceID, req.SIM, req.To); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	s.relayCommand(w, r, userID, req.ToDeviceID, wire.Payload{
		"type": wire.TypeCommand,
		"cmd":  cmdMakeCall,
		"sim":  req.SIM,
		"to":   req.To,
	})
}

func (s *Server) handleGetSIMs(w http.ResponseWriter, r *http.Request) {
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

	s.relayCommand(w, r, userID, hostDeviceID, wire.Payload{
		"type": wire.TypeCommand,
		"cmd":  cmdGetSIMs,
	})
}

// History paging bounds.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	q := r.URL.Query()

	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
	}

	var filterID int64
	if v := q.Get("device_id"); v != "" {
		filterID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "device_id must be an integer")
			return
		}
	}

	devices, err := s.store.DevicesByUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if len(devices) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []any{}, "total": 0, "offset": offset, "limit": limit,
		})
		return
	}

	deviceIDs := make([]int64, len(devices))
	owned := make(map[int64]bool, len(devices))
	for i, d := range devices {
		deviceIDs[i] = d.ID
		owned[d.ID] = true
	}

	// The filter applies only to the caller's own devices; a foreign
	// id silently falls back to the unfiltered view, matching the
	// scoping of the whole endpoint.
	if !owned[filterID] {
		filterID = 0
	}

	total, err := s.store.CountMessages(r.Context(), deviceIDs, filterID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	logs, err := s.store.ListMessages(r.Context(), deviceIDs, filterID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(logs))
	for _, m := range logs {
		// Stored payloads are JSON text; return them as objects.
		var payload any
		if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
			payload = m.Payload
		}
		items = append(items, map[string]any{
			"id":             m.ID,
			"from_device_id": m.FromDeviceID,
			"to_device_id":   m.ToDeviceID,
			"msg_kind":       string(m.Kind),
			"payload":        payload,
			"created_at":     m.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}
