package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
)

// TokenSource supplies the bearer access token for REST calls and the
// stream handshake. Refresh is invoked after a 401-equivalent failure; a
// refresh failure propagates as ErrAuthExpired.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token and cannot refresh. Useful for
// tests and short-lived CLI sessions.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) { return string(s), nil }

func (s StaticTokenSource) Refresh(ctx context.Context) (string, error) {
	return "", ErrAuthExpired
}

// RefreshTokenSource exchanges a refresh token for new access tokens at
// the backend's refresh endpoint. Token proactively refreshes when the
// access token's exp claim has already passed, saving the wasted 401
// round-trip.
type RefreshTokenSource struct {
	RefreshURL   string
	RefreshToken string
	HTTPClient   *http.Client

	mu     sync.Mutex
	access string
}

func NewRefreshTokenSource(refreshURL, accessToken, refreshToken string) *RefreshTokenSource {
	return &RefreshTokenSource{
		RefreshURL:   refreshURL,
		RefreshToken: refreshToken,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		access:       accessToken,
	}
}

func (r *RefreshTokenSource) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	access := r.access
	r.mu.Unlock()

	if access != "" && !tokenExpired(access) {
		return access, nil
	}
	return r.Refresh(ctx)
}

func (r *RefreshTokenSource) Refresh(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"refreshToken": r.RefreshToken})
	if err != nil {
		return "", fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.RefreshURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ErrAuthExpired
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode refresh response: %v", ErrAuthExpired, err)
	}
	if payload.AccessToken == "" {
		return "", ErrAuthExpired
	}

	r.mu.Lock()
	r.access = payload.AccessToken
	r.mu.Unlock()

	return payload.AccessToken, nil
}

// tokenExpired inspects the unverified exp claim. Signature verification
// belongs to the server; the client only wants to know whether sending the
// token is pointless.
func tokenExpired(tokenString string) bool {
	parser := &jwt.Parser{}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return false
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return false
	}
	return time.Now().After(time.Unix(int64(exp), 0))
}
