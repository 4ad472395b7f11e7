package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// TokenStore persists the broker access token as {access_token, saved_at}
type TokenStore struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
	now    func() time.Time
}

func NewTokenStore(path string, logger zerolog.Logger) *TokenStore {
	return &TokenStore{path: path, logger: logger, now: time.Now}
}

func (s *TokenStore) Path() string {
	return s.path
}

// Load returns nil when no usable token is on disk. A file that cannot be
// decoded is moved aside to <path>.corrupt-<unix> so it is not read again.
func (s *TokenStore) Load() (*types.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var record types.TokenRecord
	if err := json.Unmarshal(raw, &record); err != nil || record.AccessToken == "" {
		quarantine := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if renameErr := os.Rename(s.path, quarantine); renameErr != nil {
			return nil, fmt.Errorf("failed to quarantine token file: %w", renameErr)
		}
		s.logger.Error().Err(err).Str("path", s.path).Str("moved_to", quarantine).Msg("token file unreadable, quarantined")
		return nil, nil
	}
	return &record, nil
}

func (s *TokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	raw, err := json.Marshal(types.TokenRecord{AccessToken: token, SavedAt: s.now().Unix()})
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	s.logger.Info().Str("path", s.path).Msg("token persisted")
	return nil
}

// storeToken switches to a freshly issued token and persists it
func (g *Gateway) storeToken(token string) error {
	g.SetAccessToken(token)
	if g.tokens == nil {
		return nil
	}
	return g.tokens.Save(token)
}

// ValidateToken checks the access token against the profile endpoint. The
// result is cached for TokenValidationTTL unless force is set; concurrent
// callers share one remote call, which is not tied to any one caller's
// cancellation.
func (g *Gateway) ValidateToken(ctx context.Context, force bool) bool {
	if g.AccessToken() == "" {
		return false
	}

	if !force {
		g.validationMu.Lock()
		if !g.validatedAt.IsZero() && g.now().Sub(g.validatedAt) < g.cfg.TokenValidationTTL {
			result := g.validationResult
			g.validationMu.Unlock()
			return result
		}
		g.validationMu.Unlock()
	}

	v, _, _ := g.validations.Do("profile", func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.Timeout)
		defer cancel()

		body, err := g.do(flightCtx, request{method: http.MethodGet, path: "/api/v3/profile", signed: true})
		valid := err == nil && gjson.GetBytes(body, "s").String() != "error"
		if err != nil {
			g.logger.Warn().Err(err).Msg("token validation failed")
			if flightCtx.Err() != nil {
				// no verdict, leave the cache alone
				return false, nil
			}
		}

		g.validationMu.Lock()
		g.validatedAt = g.now()
		g.validationResult = valid
		g.validationMu.Unlock()
		return valid, nil
	})
	return v.(bool)
}

// TokenStatus is the snapshot served by the auth status endpoint
type TokenStatus struct {
	HasToken    bool      `json:"has_token"`
	Valid       bool      `json:"valid"`
	ValidatedAt time.Time `json:"validated_at,omitempty"`
	TokenFile   string    `json:"token_file,omitempty"`
	AutoAuth    bool      `json:"auto_auth"`
}

func (g *Gateway) TokenStatus(ctx context.Context) TokenStatus {
	status := TokenStatus{
		HasToken: g.AccessToken() != "",
		AutoAuth: g.cfg.AutoAuth,
	}
	if status.HasToken {
		status.Valid = g.ValidateToken(ctx, false)
	}
	g.validationMu.Lock()
	status.ValidatedAt = g.validatedAt
	g.validationMu.Unlock()
	if g.tokens != nil {
		status.TokenFile = g.tokens.Path()
	}
	return status
}
