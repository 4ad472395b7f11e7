package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrMissingConfig = errors.New("missing required configuration")

// Config holds every tunable of the bot. Values come from the environment
// (optionally seeded from a .env file) and an optional config file.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	Broker   BrokerConfig
	Risk     RiskConfig
	Engine   EngineConfig
	Operator OperatorConfig
	Notify   NotifyConfig

	JournalPath   string
	SignalURL     string
	SignalTimeout time.Duration
	CORSOrigins   []string
}

type BrokerConfig struct {
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

type RiskConfig struct {
	Capital          float64
	RiskFraction     float64
	MaxTradesPerDay  int
	MaxLossesPerDay  int
	NoNewTradesAfter string
	SquareOffAt      string
	Timezone         string
	StopOffset       float64
	TargetOffset     float64
}

type EngineConfig struct {
	Symbol          string
	Resolution      string
	Lookback        int
	PollInterval    time.Duration
	SignalTTL       time.Duration
	ExpiryInterval  time.Duration
	StopJoinTimeout time.Duration
	ApprovalTimeout time.Duration
	InitialMode     string
	AutoStart       bool
}

type OperatorConfig struct {
	APIKey    string
	APISecret string
	JWTSecret string
}

type NotifyConfig struct {
	TelegramToken  string
	TelegramChatID string
}

// Load reads .env (if present), the optional file named by BOT_CONFIG and the
// process environment, then applies defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := strings.TrimSpace(os.Getenv("BOT_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "8000")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("FYERS_TOKEN_FILE", ".secrets/fyers_token.json")
	v.SetDefault("FYERS_MAX_RETRIES", 5)
	v.SetDefault("FYERS_BACKOFF_BASE", 0.5)
	v.SetDefault("FYERS_BACKOFF_CAP", 60)
	v.SetDefault("FYERS_HTTP_TIMEOUT", 15)
	v.SetDefault("FYERS_BREAKER_THRESHOLD", 5)
	v.SetDefault("FYERS_BREAKER_COOLDOWN_SECONDS", 90)
	v.SetDefault("FYERS_TOKEN_VALIDATION_TTL_SECONDS", 15)
	v.SetDefault("FYERS_AUTH_FAILURE_COOLDOWN_SECONDS", 60)
	v.SetDefault("FYERS_AUTO_AUTH", false)
	v.SetDefault("FYERS_LOGIN_BASE_URL", "https://api-t2.fyers.in")
	v.SetDefault("FYERS_AUTH_CODE_BASE_URL", "https://api.fyers.in")

	v.SetDefault("RISK_CAPITAL", 100000)
	v.SetDefault("RISK_FRACTION", 0.01)
	v.SetDefault("RISK_MAX_TRADES_PER_DAY", 3)
	v.SetDefault("RISK_MAX_LOSSES_PER_DAY", 2)
	v.SetDefault("RISK_NO_NEW_TRADES_AFTER", "14:45")
	v.SetDefault("RISK_SQUARE_OFF_AT", "15:15")
	v.SetDefault("MARKET_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("RISK_STOP_OFFSET", 50)
	v.SetDefault("RISK_TARGET_OFFSET", 100)

	v.SetDefault("ENGINE_SYMBOL", "NSE:NIFTY50-INDEX")
	v.SetDefault("ENGINE_RESOLUTION", "5")
	v.SetDefault("ENGINE_LOOKBACK", 150)
	v.SetDefault("ENGINE_POLL_SECONDS", 30)
	v.SetDefault("ENGINE_SIGNAL_TTL_SECONDS", 45)
	v.SetDefault("ENGINE_EXPIRY_CHECK_SECONDS", 1)
	v.SetDefault("ENGINE_STOP_TIMEOUT_SECONDS", 5)
	v.SetDefault("ENGINE_APPROVAL_TIMEOUT_SECONDS", 20)
	v.SetDefault("ENGINE_INITIAL_MODE", "PAPER")
	v.SetDefault("ENGINE_AUTO_START", true)

	v.SetDefault("JOURNAL_PATH", "data/journal.db")
	v.SetDefault("SIGNAL_TIMEOUT_SECONDS", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Env:      v.GetString("ENV"),
		Port:     v.GetString("PORT"),
		LogLevel: v.GetString("LOG_LEVEL"),
		Broker: BrokerConfig{
			ClientID:            strings.TrimSpace(v.GetString("FYERS_CLIENT_ID")),
			SecretKey:           strings.TrimSpace(v.GetString("FYERS_SECRET_KEY")),
			RedirectURI:         strings.TrimSpace(v.GetString("FYERS_REDIRECT_URI")),
			BaseURL:             strings.TrimRight(strings.TrimSpace(v.GetString("FYERS_BASE_URL")), "/"),
			TokenFile:           v.GetString("FYERS_TOKEN_FILE"),
			MaxRetries:          v.GetInt("FYERS_MAX_RETRIES"),
			BackoffBase:         seconds(v.GetFloat64("FYERS_BACKOFF_BASE")),
			BackoffCap:          seconds(v.GetFloat64("FYERS_BACKOFF_CAP")),
			Timeout:             seconds(v.GetFloat64("FYERS_HTTP_TIMEOUT")),
			BreakerThreshold:    v.GetInt("FYERS_BREAKER_THRESHOLD"),
			BreakerCooldown:     seconds(v.GetFloat64("FYERS_BREAKER_COOLDOWN_SECONDS")),
			TokenValidationTTL:  seconds(v.GetFloat64("FYERS_TOKEN_VALIDATION_TTL_SECONDS")),
			AuthFailureCooldown: seconds(v.GetFloat64("FYERS_AUTH_FAILURE_COOLDOWN_SECONDS")),
			AutoAuth:            v.GetBool("FYERS_AUTO_AUTH"),
			UserID:              strings.TrimSpace(v.GetString("FYERS_USER_ID")),
			PIN:                 strings.TrimSpace(v.GetString("FYERS_PIN")),
			TOTPSecret:          strings.TrimSpace(v.GetString("FYERS_TOTP_SECRET")),
			LoginBaseURL:        strings.TrimRight(v.GetString("FYERS_LOGIN_BASE_URL"), "/"),
			AuthCodeBaseURL:     strings.TrimRight(v.GetString("FYERS_AUTH_CODE_BASE_URL"), "/"),
		},
		Risk: RiskConfig{
			Capital:          v.GetFloat64("RISK_CAPITAL"),
			RiskFraction:     v.GetFloat64("RISK_FRACTION"),
			MaxTradesPerDay:  v.GetInt("RISK_MAX_TRADES_PER_DAY"),
			MaxLossesPerDay:  v.GetInt("RISK_MAX_LOSSES_PER_DAY"),
			NoNewTradesAfter: v.GetString("RISK_NO_NEW_TRADES_AFTER"),
			SquareOffAt:      v.GetString("RISK_SQUARE_OFF_AT"),
			Timezone:         v.GetString("MARKET_TIMEZONE"),
			StopOffset:       v.GetFloat64("RISK_STOP_OFFSET"),
			TargetOffset:     v.GetFloat64("RISK_TARGET_OFFSET"),
		},
		Engine: EngineConfig{
			Symbol:          v.GetString("ENGINE_SYMBOL"),
			Resolution:      v.GetString("ENGINE_RESOLUTION"),
			Lookback:        v.GetInt("ENGINE_LOOKBACK"),
			PollInterval:    seconds(v.GetFloat64("ENGINE_POLL_SECONDS")),
			SignalTTL:       seconds(v.GetFloat64("ENGINE_SIGNAL_TTL_SECONDS")),
			ExpiryInterval:  seconds(v.GetFloat64("ENGINE_EXPIRY_CHECK_SECONDS")),
			StopJoinTimeout: seconds(v.GetFloat64("ENGINE_STOP_TIMEOUT_SECONDS")),
			ApprovalTimeout: seconds(v.GetFloat64("ENGINE_APPROVAL_TIMEOUT_SECONDS")),
			InitialMode:     v.GetString("ENGINE_INITIAL_MODE"),
			AutoStart:       v.GetBool("ENGINE_AUTO_START"),
		},
		Operator: OperatorConfig{
			APIKey:    v.GetString("OPERATOR_API_KEY"),
			APISecret: v.GetString("OPERATOR_API_SECRET"),
			JWTSecret: v.GetString("JWT_SECRET"),
		},
		Notify: NotifyConfig{
			TelegramToken:  v.GetString("TELEGRAM_BOT_TOKEN"),
			TelegramChatID: v.GetString("TELEGRAM_CHAT_ID"),
		},
		JournalPath:   v.GetString("JOURNAL_PATH"),
		SignalURL:     strings.TrimSpace(v.GetString("SIGNAL_URL")),
		SignalTimeout: seconds(v.GetFloat64("SIGNAL_TIMEOUT_SECONDS")),
		CORSOrigins:   splitList(v.GetString("CORS_ORIGINS")),
	}
}

// Validate fails fast on settings the bot cannot run without
func (c *Config) Validate() error {
	var missing []string
	required := map[string]string{
		"FYERS_CLIENT_ID":    c.Broker.ClientID,
		"FYERS_SECRET_KEY":   c.Broker.SecretKey,
		"FYERS_REDIRECT_URI": c.Broker.RedirectURI,
		"FYERS_BASE_URL":     c.Broker.BaseURL,
		"JWT_SECRET":         c.Operator.JWTSecret,
	}
	for _, name := range []string{"FYERS_CLIENT_ID", "FYERS_SECRET_KEY", "FYERS_REDIRECT_URI", "FYERS_BASE_URL", "JWT_SECRET"} {
		if required[name] == "" {
			missing = append(missing, name)
		}
	}
	if c.Broker.AutoAuth {
		if c.Broker.UserID == "" {
			missing = append(missing, "FYERS_USER_ID")
		}
		if c.Broker.PIN == "" {
			missing = append(missing, "FYERS_PIN")
		}
		if c.Broker.TOTPSecret == "" {
			missing = append(missing, "FYERS_TOTP_SECRET")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	if c.Risk.Capital <= 0 || c.Risk.RiskFraction <= 0 {
		return fmt.Errorf("risk capital and fraction must be positive")
	}
	if c.Engine.Lookback <= 0 || c.Engine.PollInterval <= 0 || c.Engine.SignalTTL <= 0 {
		return fmt.Errorf("engine lookback, poll interval and signal ttl must be positive")
	}
	return nil
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
