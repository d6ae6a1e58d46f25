// Package pairing implements the device pairing handshake: a host device
// requests a short-lived numeric code, and a client device redeems it to
// establish a durable pairing between the two.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/simbridge-dev/simbridge-go/pkg/identity"
	"github.com/simbridge-dev/simbridge-go/pkg/store"
)

// Pairing errors.
var (
	ErrHostNotFound   = errors.New("host device not found")
	ErrClientNotFound = errors.New("client device not found")
	ErrInvalidCode    = errors.New("invalid or expired pairing code")
	ErrCrossUser      = errors.New("pairing code belongs to another account")
)

// CodeTTL is how long an issued pairing code stays redeemable.
const CodeTTL = 10 * time.Minute

// Confirmation statuses.
const (
	StatusPaired        = "paired"
	StatusAlreadyPaired = "already_paired"
)

// Result describes the outcome of a code confirmation.
type Result struct {
	Status       string
	PairingID    int64
	HostDeviceID int64
}

// Service issues and confirms pairing codes.
type Service struct {
	store   *store.Store
	limiter *identity.RateLimiter
	logger  *slog.Logger
}

// NewService creates a pairing service. The limiter is shared with the
// identity service so login and pairing attempts draw from one budget;
// if nil, a limiter with default settings is created. The logger is
// optional.
func NewService(st *store.Store, limiter *identity.RateLimiter, logger *slog.Logger) *Service {
	if limiter == nil {
		limiter = identity.NewRateLimiter(identity.DefaultRateLimit, identity.DefaultRateWindow)
	}
	return &Service{store: st, limiter: limiter, logger: logger}
}

// IssueCode creates a fresh pairing code for a host device owned by the
// caller, invalidating any previously issued unused codes for that host.
// Returns the code and its lifetime in seconds.
func (s *Service) IssueCode(ctx context.Context, hostDeviceID, callerUserID int64) (string, int, error) {
	if _, err := s.store.OwnedDevice(ctx, hostDeviceID, callerUserID, store.RoleHost); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", 0, ErrHostNotFound
		}
		return "", 0, err
	}

	code, err := GenerateCode()
	if err != nil {
		return "", 0, err
	}

	pc := &store.PairingCode{
		OwnerUserID:  callerUserID,
		HostDeviceID: hostDeviceID,
		Code:         code.String(),
		ExpiresAt:    time.Now().Add(CodeTTL),
	}
	if err := s.store.CreatePairingCode(ctx, pc); err != nil {
		return "", 0, fmt.Errorf("failed to store pairing code: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("pairing code issued", "host_device_id", hostDeviceID, "expires_at", pc.ExpiresAt)
	}

	return code.String(), int(CodeTTL.Seconds()), nil
}

// ConfirmCode redeems a pairing code on behalf of a client device owned
// by the caller. Attempts are rate limited per client device. Redeeming
// a code for devices that are already paired consumes the code and
// reports already_paired with the existing pairing id.
func (s *Service) ConfirmCode(ctx context.Context, rawCode string, clientDeviceID, callerUserID int64) (*Result, error) {
	if !s.limiter.Allow("pair:" + strconv.FormatInt(clientDeviceID, 10)) {
		return nil, identity.ErrRateLimited
	}

	if _, err := s.store.OwnedDevice(ctx, clientDeviceID, callerUserID, store.RoleClient); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}

	code, err := ParseCode(rawCode)
	if err != nil {
		return nil, err
	}

	pc, err := s.store.ActiveCodeByValue(ctx, code.String(), time.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}

	if pc.OwnerUserID != callerUserID {
		return nil, ErrCrossUser
	}

	existing, err := s.store.PairingByDevices(ctx, pc.HostDeviceID, clientDeviceID)
	if err == nil {
		if err := s.store.MarkCodeUsed(ctx, pc.ID); err != nil {
			return nil, err
		}
		return &Result{Status: StatusAlreadyPaired, PairingID: existing.ID, HostDeviceID: pc.HostDeviceID}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	p := &store.Pairing{HostDeviceID: pc.HostDeviceID, ClientDeviceID: clientDeviceID}
	if err := s.store.CreatePairing(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent confirm for the same pair.
			existing, lookupErr := s.store.PairingByDevices(ctx, pc.HostDeviceID, clientDeviceID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if err := s.store.MarkCodeUsed(ctx, pc.ID); err != nil {
				return nil, err
			}
			return &Result{Status: StatusAlreadyPaired, PairingID: existing.ID, HostDeviceID: pc.HostDeviceID}, nil
		}
		return nil, err
	}

	if err := s.store.MarkCodeUsed(ctx, pc.ID); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("devices paired",
			"pairing_id", p.ID,
			"host_device_id", pc.HostDeviceID,
			"client_device_id", clientDeviceID)
	}

	return &Result{Status: StatusPaired, PairingID: p.ID, HostDeviceID: pc.HostDeviceID}, nil
}
