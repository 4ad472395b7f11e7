package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTelegramWithoutConfigIsNop(t *testing.T) {
	n := NewTelegram("", "123", zerolog.Nop())
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Notify(context.Background(), "hello"))
}

func TestTelegramNotify(t *testing.T) {
	var path, chatID, text string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Error(err)
		}
		chatID = r.PostForm.Get("chat_id")
		text = r.PostForm.Get("text")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	n := NewTelegram("abc:def", "42", zerolog.Nop())
	tg, ok := n.(*Telegram)
	require.True(t, ok)
	tg.SetBaseURL(server.URL)

	require.NoError(t, tg.Notify(context.Background(), "Signal BUY 20"))
	assert.Equal(t, "/botabc:def/sendMessage", path)
	assert.Equal(t, "42", chatID)
	assert.Equal(t, "Signal BUY 20", text)
}

func TestTelegramNotifyError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	tg := NewTelegram("abc:def", "42", zerolog.Nop()).(*Telegram)
	tg.SetBaseURL(server.URL)

	err := tg.Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}
