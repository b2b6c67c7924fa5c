package gateway

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming gateway requests.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// NoAuth accepts every request as the anonymous client.
type NoAuth struct{}

func (NoAuth) Authenticate(string) (*ClientInfo, error) {
	return &ClientInfo{Name: "anonymous"}, nil
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from configured tokens.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(tokens))}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name},
		})
	}
	return a
}

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}

// NewAuthenticator picks the authenticator named by cfg.Type: "" or "none"
// disables auth, "static" checks the configured tokens.
func NewAuthenticator(cfg config.AuthConfig) (Authenticator, error) {
	switch cfg.Type {
	case "", "none":
		return NoAuth{}, nil
	case "static":
		a := NewStaticTokenAuth(cfg.Tokens)
		if len(a.entries) == 0 {
			return nil, domain.NewSubSystemError("gateway", "NewAuthenticator", domain.ErrInvalidInput,
				"static auth needs at least one token")
		}
		return a, nil
	default:
		return nil, domain.NewSubSystemError("gateway", "NewAuthenticator", domain.ErrInvalidInput,
			fmt.Sprintf("unknown auth type %q", cfg.Type))
	}
}

// requestToken reads a bearer token from the Authorization header, falling
// back to the token query parameter used by browser WebSocket clients.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}
