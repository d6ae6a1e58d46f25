package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// FederatedIdentity is the verified payload of a federated id token.
type FederatedIdentity struct {
	// Subject is the provider-scoped stable account id.
	Subject string

	// Email is the verified address, if the provider shared one.
	Email string
}

// FederatedVerifier checks a federated id token and extracts the identity.
type FederatedVerifier interface {
	Verify(ctx context.Context, idToken string) (*FederatedIdentity, error)
}

// googleTokenInfoEndpoint validates Google id tokens server-side.
const googleTokenInfoEndpoint = "https://oauth2.googleapis.com/tokeninfo"

// GoogleVerifier validates Google id tokens against the tokeninfo
// endpoint and checks their audience.
type GoogleVerifier struct {
	// ClientID is the expected token audience.
	ClientID string

	// HTTPClient is the client used for the tokeninfo call.
	// If nil, a client with a 10s timeout is used.
	HTTPClient *http.Client

	// Endpoint overrides the tokeninfo URL. Used by tests.
	Endpoint string
}

// Verify posts the id token to tokeninfo and checks audience and expiry.
// All verification failures map to ErrInvalidCredentials.
func (g *GoogleVerifier) Verify(ctx context.Context, idToken string) (*FederatedIdentity, error) {
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = googleTokenInfoEndpoint
	}

	client := g.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		endpoint+"?id_token="+url.QueryEscape(idToken), nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tokeninfo status %d", ErrInvalidCredentials, resp.StatusCode)
	}

	var info struct {
		Aud   string `json:"aud"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Exp   int64  `json:"exp,string"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: bad tokeninfo response", ErrInvalidCredentials)
	}

	if info.Aud != g.ClientID {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidCredentials)
	}
	if info.Exp != 0 && time.Now().Unix() >= info.Exp {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidCredentials)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredentials)
	}

	return &FederatedIdentity{Subject: info.Sub, Email: info.Email}, nil
}

// Compile-time interface satisfaction check.
var _ FederatedVerifier = (*GoogleVerifier)(nil)
