// Package auth implements the built-in token-table authenticator and
// origin allowlist. Production deployments can swap in a real Auth
// service behind interfaces.Authenticator.
package auth

import (
	"fmt"
	"strings"
	"sync"

	"collabhub/internal/config"
	"collabhub/pkg/interfaces"
	"collabhub/pkg/types"
)

// TokenAuthenticator resolves static bearer tokens to user profiles
// and optionally accepts anonymous identities.
type TokenAuthenticator struct {
	mu             sync.RWMutex
	tokens         map[string]types.UserProfile
	allowedOrigins []string
	allowAnonymous bool
}

func NewTokenAuthenticator(cfg *config.AuthConfig) *TokenAuthenticator {
	tokens := make(map[string]types.UserProfile, len(cfg.Tokens))
	for _, entry := range cfg.Tokens {
		tokens[entry.Token] = types.UserProfile{
			UserID: entry.UserID,
			Name:   entry.Name,
			Email:  entry.Email,
			Admin:  entry.Admin,
		}
	}
	return &TokenAuthenticator{
		tokens:         tokens,
		allowedOrigins: cfg.AllowedOrigins,
		allowAnonymous: cfg.AllowAnonymous,
	}
}

// Authenticate resolves connect credentials into a user profile. A
// token is checked against the table; without one, an anonymous
// user_id/username pair is accepted when enabled.
func (a *TokenAuthenticator) Authenticate(creds types.ConnectPayload) (*types.UserProfile, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if creds.Token != "" {
		profile, ok := a.tokens[creds.Token]
		if !ok {
			return nil, interfaces.ErrAuthFailed
		}
		return &profile, nil
	}

	if !a.allowAnonymous {
		return nil, interfaces.ErrAuthFailed
	}
	if !types.IsValidUserID(creds.UserID) {
		return nil, fmt.Errorf("%w: invalid user ID", interfaces.ErrAuthFailed)
	}
	name := strings.TrimSpace(creds.Username)
	if name == "" {
		name = creds.UserID
	}
	return &types.UserProfile{UserID: creds.UserID, Name: name}, nil
}

// CheckOriginAllowed reports whether the Origin header is acceptable.
// An empty allowlist permits every origin. Browsers always send Origin;
// non-browser clients without one are allowed through.
func (a *TokenAuthenticator) CheckOriginAllowed(origin string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.allowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range a.allowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
