package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var ErrAuthInvalid = errors.New("token validation failed after authentication")

// LoginURL builds the OAuth login URL an operator opens in a browser
func (g *Gateway) LoginURL(state string) string {
	if state == "" {
		state = uuid.NewString()
	}
	params := url.Values{}
	params.Set("client_id", g.cfg.ClientID)
	params.Set("redirect_uri", g.cfg.RedirectURI)
	params.Set("response_type", "code")
	params.Set("state", state)
	return g.cfg.BaseURL + "/api/v3/generate-authcode?" + params.Encode()
}

// ExtractAuthCode accepts either a raw auth code or the full redirect URL.
// Redirect URLs may carry both code (a status value) and auth_code; auth_code wins.
func ExtractAuthCode(value string) string {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "http") {
		return value
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return ""
	}
	query := parsed.Query()
	if code := query.Get("auth_code"); code != "" {
		return code
	}
	return query.Get("code")
}

func (g *Gateway) appIDHash() string {
	sum := sha256.Sum256([]byte(g.cfg.ClientID + ":" + g.cfg.SecretKey))
	return hex.EncodeToString(sum[:])
}

// ExchangeAuthCode trades an auth code for an access token, persists it and
// forces a fresh validation. The token endpoint has accepted the code under
// both "code" and "auth_code"; the second key is tried when the first is
// rejected with 400/401.
func (g *Gateway) ExchangeAuthCode(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrEmptyAuthCode
	}

	var lastErr error
	for _, key := range []string{"code", "auth_code"} {
		payload := map[string]string{
			"grant_type": "authorization_code",
			"appIdHash":  g.appIDHash(),
			key:          code,
		}
		body, err := g.do(ctx, request{method: http.MethodPost, path: "/api/v3/token", body: payload})
		if err != nil {
			var reqErr *RequestError
			if errors.As(err, &reqErr) && (reqErr.StatusCode == http.StatusBadRequest || reqErr.StatusCode == http.StatusUnauthorized) {
				lastErr = err
				continue
			}
			return "", fmt.Errorf("token exchange failed: %w", err)
		}

		token := gjson.GetBytes(body, "access_token").String()
		if token == "" {
			return "", fmt.Errorf("token exchange returned no access_token: %s", string(body))
		}
		if err := g.storeToken(token); err != nil {
			return "", err
		}
		g.ValidateToken(ctx, true)
		g.logger.Info().Str("payload_key", key).Msg("auth code exchanged for access token")
		return token, nil
	}
	return "", fmt.Errorf("token exchange failed for all payload variants: %w", lastErr)
}

// Login exchanges an operator-supplied auth code (or redirect URL) under the
// auth lock and the failure cooldown.
func (g *Gateway) Login(ctx context.Context, codeOrURL string) error {
	return g.authenticate(ctx, false, func(context.Context) (string, error) {
		code := ExtractAuthCode(codeOrURL)
		if code == "" {
			return "", ErrEmptyAuthCode
		}
		return code, nil
	})
}

// AuthenticateAuto runs the headless OTP, TOTP and PIN login chain
func (g *Gateway) AuthenticateAuto(ctx context.Context) error {
	return g.authenticate(ctx, true, g.generateAuthCode)
}

// EnsureAuthenticated reports whether a valid token is available, running
// automatic login first when it is enabled.
func (g *Gateway) EnsureAuthenticated(ctx context.Context) (bool, error) {
	if g.ValidateToken(ctx, false) {
		return true, nil
	}
	if !g.cfg.AutoAuth {
		return false, nil
	}
	if err := g.AuthenticateAuto(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Gateway) authenticate(ctx context.Context, skipIfValid bool, source func(context.Context) (string, error)) error {
	g.authMu.Lock()
	defer g.authMu.Unlock()

	if skipIfValid && g.ValidateToken(ctx, false) {
		return nil
	}
	if remaining := g.authCooldownRemaining(); remaining > 0 {
		return fmt.Errorf("%w: retry in %s", ErrAuthCooldown, remaining.Round(time.Second))
	}

	code, err := source(ctx)
	if err != nil {
		if !errors.Is(err, ErrEmptyAuthCode) {
			g.markAuthFailure()
		}
		return err
	}
	if _, err := g.ExchangeAuthCode(ctx, code); err != nil {
		g.markAuthFailure()
		return err
	}
	if !g.ValidateToken(ctx, true) {
		g.markAuthFailure()
		return ErrAuthInvalid
	}
	authTotal.WithLabelValues("ok").Inc()
	g.logger.Info().Msg("broker authentication succeeded")
	return nil
}

func (g *Gateway) authCooldownRemaining() time.Duration {
	g.authFailMu.Lock()
	defer g.authFailMu.Unlock()
	if g.lastAuthFailure.IsZero() {
		return 0
	}
	return g.cfg.AuthFailureCooldown - g.now().Sub(g.lastAuthFailure)
}

func (g *Gateway) markAuthFailure() {
	g.authFailMu.Lock()
	g.lastAuthFailure = g.now()
	g.authFailMu.Unlock()
	authTotal.WithLabelValues("failed").Inc()
	g.logger.Warn().Dur("cooldown", g.cfg.AuthFailureCooldown).Msg("broker authentication failed")
}

func (g *Gateway) generateAuthCode(ctx context.Context) (string, error) {
	if g.cfg.UserID == "" || g.cfg.PIN == "" || g.cfg.TOTPSecret == "" {
		return "", fmt.Errorf("auto authentication needs user id, pin and totp secret")
	}

	body, err := g.do(ctx, request{
		baseURL: g.cfg.LoginBaseURL,
		method:  http.MethodPost,
		path:    "/vagator/v2/send_login_otp_v2",
		body:    map[string]string{"fy_id": g.cfg.UserID, "app_id": "2"},
	})
	if err != nil {
		return "", fmt.Errorf("send login otp: %w", err)
	}
	requestKey := gjson.GetBytes(body, "request_key").String()
	if requestKey == "" {
		return "", fmt.Errorf("send login otp returned no request_key: %s", string(body))
	}

	otp, err := GenerateTOTP(g.cfg.TOTPSecret, g.now())
	if err != nil {
		return "", err
	}
	body, err = g.do(ctx, request{
		baseURL: g.cfg.LoginBaseURL,
		method:  http.MethodPost,
		path:    "/vagator/v2/verify_otp",
		body:    map[string]string{"request_key": requestKey, "otp": otp},
	})
	if err != nil {
		return "", fmt.Errorf("verify totp: %w", err)
	}
	requestKey = gjson.GetBytes(body, "request_key").String()
	if requestKey == "" {
		return "", fmt.Errorf("verify totp returned no request_key: %s", string(body))
	}

	body, err = g.do(ctx, request{
		baseURL: g.cfg.LoginBaseURL,
		method:  http.MethodPost,
		path:    "/vagator/v2/verify_pin_v2",
		body:    map[string]string{"request_key": requestKey, "identity_type": "pin", "identifier": g.cfg.PIN},
	})
	if err != nil {
		return "", fmt.Errorf("verify pin: %w", err)
	}
	pinToken := gjson.GetBytes(body, "data.access_token").String()
	if pinToken == "" {
		return "", fmt.Errorf("verify pin returned no access token")
	}

	appID, _, _ := strings.Cut(g.cfg.ClientID, "-")
	body, err = g.do(ctx, request{
		baseURL: g.cfg.AuthCodeBaseURL,
		method:  http.MethodPost,
		path:    "/api/v2/token",
		headers: map[string]string{"Authorization": "Bearer " + pinToken},
		body: map[string]any{
			"fyers_id":       g.cfg.UserID,
			"app_id":         appID,
			"redirect_uri":   g.cfg.RedirectURI,
			"appType":        "100",
			"code_challenge": "",
			"state":          "auto_auth",
			"scope":          "",
			"nonce":          "",
			"response_type":  "code",
			"create_cookie":  true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("request auth code: %w", err)
	}
	redirect := gjson.GetBytes(body, "Url").String()
	if redirect == "" {
		redirect = gjson.GetBytes(body, "url").String()
	}
	code := ExtractAuthCode(redirect)
	if code == "" {
		return "", fmt.Errorf("auth code missing in redirect url %q", redirect)
	}
	return code, nil
}

// GenerateTOTP computes the 6 digit RFC 6238 code for a base32 secret
func GenerateTOTP(secret string, at time.Time) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	normalized = strings.TrimRight(normalized, "=")
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return "", fmt.Errorf("invalid totp secret: %w", err)
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(at.Unix()/30))
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	digest := mac.Sum(nil)

	offset := digest[len(digest)-1] & 0x0f
	code := binary.BigEndian.Uint32(digest[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", code%1000000), nil
}
