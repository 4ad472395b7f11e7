package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeDecide(t *testing.T) {
	tests := []struct {
		name     string
		response string
		status   int
		wantSide types.Side
		wantOK   bool
		wantErr  bool
	}{
		{name: "buy", response: `{"signal":"BUY"}`, status: 200, wantSide: types.SideBuy, wantOK: true},
		{name: "lowercase sell", response: `{"signal":"sell"}`, status: 200, wantSide: types.SideSell, wantOK: true},
		{name: "null", response: `{"signal":null}`, status: 200},
		{name: "missing", response: `{}`, status: 200},
		{name: "garbage side", response: `{"signal":"HOLD"}`, status: 200, wantErr: true},
		{name: "invalid json", response: `not json`, status: 200, wantErr: true},
		{name: "server error", response: `boom`, status: 500, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got decideRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Error(err)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			bridge := NewBridge(server.URL, "NSE:NIFTY50-INDEX", time.Second, zerolog.Nop())
			candles := []types.Candle{{Timestamp: 1, Close: 22000}, {Timestamp: 2, Close: 22010}}

			side, ok, err := bridge.Decide(context.Background(), candles)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantSide, side)
			assert.Equal(t, "NSE:NIFTY50-INDEX", got.Symbol)
			assert.Len(t, got.Candles, 2)
		})
	}
}

func TestNoneNeverSignals(t *testing.T) {
	_, ok, err := None{}.Decide(context.Background(), []types.Candle{{Close: 1}})
	assert.NoError(t, err)
	assert.False(t, ok)
}
