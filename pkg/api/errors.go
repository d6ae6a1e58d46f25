package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/simbridge-dev/simbridge-go/pkg/identity"
	"github.com/simbridge-dev/simbridge-go/pkg/pairing"
	"github.com/simbridge-dev/simbridge-go/pkg/relay"
)

// errorBody is the JSON envelope for all error responses.
type errorBody struct {
	Detail string `json:"detail"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// writeServiceError maps a service-layer error onto its HTTP status.
// This is the only place sentinel errors become status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrDuplicateUsername):
		writeError(w, http.StatusBadRequest, "Username already taken")
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, identity.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Too many attempts. Try again later.")
	case errors.Is(err, identity.ErrFederatedDisabled):
		writeError(w, http.StatusNotImplemented, "Federated login is not configured")
	case errors.Is(err, identity.ErrTokenExpired), errors.Is(err, identity.ErrTokenInvalid):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, pairing.ErrHostNotFound):
		writeError(w, http.StatusNotFound, "Host device not found")
	case errors.Is(err, pairing.ErrClientNotFound):
		writeError(w, http.StatusNotFound, "Client device not found")
	case errors.Is(err, pairing.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "Invalid or expired pairing code")
	case errors.Is(err, pairing.ErrCrossUser):
		writeError(w, http.StatusForbidden, "Pairing code does not belong to your account")
	case errors.Is(err, relay.ErrNoClientDevice):
		writeError(w, http.StatusBadRequest, "No client device registered")
	case errors.Is(err, relay.ErrNotPaired):
		writeError(w, http.StatusForbidden, "Devices are not paired")
	case errors.Is(err, relay.ErrHostNotYours):
		writeError(w, http.StatusForbidden, "Host device not found or not yours")
	case errors.Is(err, relay.ErrDeliveryFailed):
		writeError(w, http.StatusBadGateway, "Failed to deliver command to host")
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
