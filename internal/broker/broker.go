package broker

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	ErrBreakerOpen     = errors.New("circuit breaker open")
	ErrRequestFailed   = errors.New("request failed")
	ErrRequestRejected = errors.New("request rejected")
	ErrDuplicateOrder  = errors.New("duplicate order in flight")
	ErrAuthCooldown    = errors.New("authentication cooldown active")
	ErrEmptyAuthCode   = errors.New("auth code cannot be empty")
	ErrNoToken         = errors.New("no access token")
)

// RequestError describes a failed call to the broker API. Kind is one of
// ErrRequestFailed, ErrRequestRejected or ErrBreakerOpen.
type RequestError struct {
	Kind       error
	Method     string
	Path       string
	StatusCode int
	Payload    string
	Err        error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s %s %s", e.Kind, e.Method, e.Path)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Payload != "" {
		msg += ": " + e.Payload
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Config configures the gateway. Zero values fall back to the defaults below.
type Config struct {
	ClientID    string
	SecretKey   string
	RedirectURI string
	BaseURL     string
	TokenFile   string

	MaxRetries          int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	Timeout             time.Duration
	BreakerThreshold    int
	BreakerCooldown     time.Duration
	TokenValidationTTL  time.Duration
	AuthFailureCooldown time.Duration

	AutoAuth        bool
	UserID          string
	PIN             string
	TOTPSecret      string
	LoginBaseURL    string
	AuthCodeBaseURL string
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 90 * time.Second
	}
	if c.TokenValidationTTL <= 0 {
		c.TokenValidationTTL = 15 * time.Second
	}
	if c.AuthFailureCooldown <= 0 {
		c.AuthFailureCooldown = 60 * time.Second
	}
	if c.LoginBaseURL == "" {
		c.LoginBaseURL = "https://api-t2.fyers.in"
	}
	if c.AuthCodeBaseURL == "" {
		c.AuthCodeBaseURL = "https://api.fyers.in"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.LoginBaseURL = strings.TrimRight(c.LoginBaseURL, "/")
	c.AuthCodeBaseURL = strings.TrimRight(c.AuthCodeBaseURL, "/")
}

// Gateway turns the broker's HTTP API into a dependable primitive. Every call
// goes through do(), which applies the circuit breaker and retry policy.
type Gateway struct {
	cfg        Config
	httpClient *http.Client
	breaker    *Breaker
	tokens     *TokenStore
	logger     zerolog.Logger
	now        func() time.Time
	sleep      func(time.Duration) <-chan time.Time

	tokenMu     sync.RWMutex
	accessToken string

	validationMu     sync.Mutex
	validatedAt      time.Time
	validationResult bool
	validations      singleflight.Group

	authMu          sync.Mutex
	authFailMu      sync.Mutex
	lastAuthFailure time.Time

	dedupeMu sync.Mutex
	inFlight map[string]struct{}
}

// New builds a gateway and loads any persisted access token
func New(cfg Config, logger zerolog.Logger) (*Gateway, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("broker base url is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("broker client id is required")
	}

	logger = logger.With().Str("component", "broker").Logger()
	if strings.Contains(cfg.BaseURL, "api-t1") {
		logger.Warn().Str("base_url", cfg.BaseURL).Msg("using broker TEST environment (api-t1), ensure this is intentional")
	}

	g := &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    NewBreaker("broker", cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:     logger,
		now:        time.Now,
		sleep:      time.After,
		inFlight:   make(map[string]struct{}),
	}
	g.breaker.SetStateChangeHandler(func(name string, from, to State) {
		breakerState.Set(float64(to))
		g.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	})

	if cfg.TokenFile != "" {
		g.tokens = NewTokenStore(cfg.TokenFile, logger)
		record, err := g.tokens.Load()
		if err != nil {
			return nil, err
		}
		if record != nil {
			g.accessToken = record.AccessToken
		}
	}

	return g, nil
}

// SetHTTPClient replaces the transport, mostly for tests
func (g *Gateway) SetHTTPClient(client *http.Client) {
	g.httpClient = client
}

// Breaker exposes the gateway's circuit breaker for status reporting
func (g *Gateway) Breaker() *Breaker {
	return g.breaker
}

// AccessToken returns the token currently used to sign requests
func (g *Gateway) AccessToken() string {
	g.tokenMu.RLock()
	defer g.tokenMu.RUnlock()
	return g.accessToken
}

// SetAccessToken swaps the signing token and drops the cached validation
func (g *Gateway) SetAccessToken(token string) {
	g.tokenMu.Lock()
	g.accessToken = token
	g.tokenMu.Unlock()

	g.validationMu.Lock()
	g.validatedAt = time.Time{}
	g.validationResult = false
	g.validationMu.Unlock()
}

func (g *Gateway) authHeader() string {
	return fmt.Sprintf("%s:%s", g.cfg.ClientID, g.AccessToken())
}
