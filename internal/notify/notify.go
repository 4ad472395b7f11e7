package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const defaultTelegramURL = "https://api.telegram.org"

// Notifier delivers operator-facing messages
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop discards every message
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Telegram posts messages to one chat through the Bot API
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewTelegram returns Nop when token or chat id is missing
func NewTelegram(token, chatID string, logger zerolog.Logger) Notifier {
	token = strings.TrimSpace(token)
	chatID = strings.TrimSpace(chatID)
	if token == "" || chatID == "" {
		logger.Info().Str("component", "notify").Msg("telegram not configured, notifications disabled")
		return Nop{}
	}
	return &Telegram{
		baseURL: defaultTelegramURL,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
		// Telegram allows roughly one message per second per chat
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// SetBaseURL points the notifier at another Bot API host
func (t *Telegram) SetBaseURL(base string) {
	t.baseURL = strings.TrimRight(base, "/")
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	form := url.Values{"chat_id": {t.chatID}, "text": {text}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK || !gjson.GetBytes(body, "ok").Bool() {
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, gjson.GetBytes(body, "description").String())
	}
	return nil
}
