package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

const maxResponseBytes = 4 << 20

type request struct {
	// baseURL overrides the gateway base url for the login hosts
	baseURL string
	method  string
	path    string
	query   url.Values
	body    any
	headers map[string]string
	// signed requests carry the client_id:access_token authorization header
	signed bool
}

// do is the single request executor every outbound call goes through
func (g *Gateway) do(ctx context.Context, req request) ([]byte, error) {
	logger := g.logger.With().Str("method", req.method).Str("path", req.path).Logger()

	if !g.breaker.Allow() {
		requestsTotal.WithLabelValues(req.path, "breaker_open").Inc()
		return nil, &RequestError{Kind: ErrBreakerOpen, Method: req.method, Path: req.path}
	}

	var payload []byte
	if req.body != nil {
		var err error
		if payload, err = json.Marshal(req.body); err != nil {
			g.breaker.Cancel()
			return nil, fmt.Errorf("failed to encode %s %s body: %w", req.method, req.path, err)
		}
	}

	var (
		lastErr    error
		lastStatus int
		lastBody   string
	)
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		status, body, err := g.send(ctx, req, payload)
		switch {
		case err != nil && ctx.Err() != nil:
			g.breaker.Cancel()
			requestsTotal.WithLabelValues(req.path, "cancelled").Inc()
			return nil, ctx.Err()
		case err != nil:
			g.breaker.RecordFailure()
			lastErr, lastStatus, lastBody = err, 0, ""
		case status == http.StatusTooManyRequests:
			lastErr, lastStatus, lastBody = nil, status, string(body)
		case status >= 500:
			g.breaker.RecordFailure()
			lastErr, lastStatus, lastBody = nil, status, string(body)
		case status >= 400:
			g.breaker.RecordSuccess()
			requestsTotal.WithLabelValues(req.path, "rejected").Inc()
			logger.Warn().Int("status", status).Str("payload", string(body)).Msg("broker rejected request")
			return nil, &RequestError{Kind: ErrRequestRejected, Method: req.method, Path: req.path, StatusCode: status, Payload: string(body)}
		default:
			g.breaker.RecordSuccess()
			requestsTotal.WithLabelValues(req.path, "ok").Inc()
			return body, nil
		}

		// a breaker that opened under this call ends the retries, the call itself still failed
		if attempt == g.cfg.MaxRetries || g.breaker.State() == StateOpen {
			break
		}

		delay := g.backoff(attempt)
		retriesTotal.WithLabelValues(req.path).Inc()
		logger.Warn().
			Int("status", lastStatus).
			AnErr("error", lastErr).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("retryable broker failure")

		select {
		case <-ctx.Done():
			g.breaker.Cancel()
			return nil, ctx.Err()
		case <-g.sleep(delay):
		}
	}

	g.breaker.Cancel()
	requestsTotal.WithLabelValues(req.path, "failed").Inc()
	logger.Error().Int("status", lastStatus).AnErr("error", lastErr).Msg("broker request failed after retries")
	return nil, &RequestError{Kind: ErrRequestFailed, Method: req.method, Path: req.path, StatusCode: lastStatus, Payload: lastBody, Err: lastErr}
}

func (g *Gateway) send(ctx context.Context, req request, payload []byte) (int, []byte, error) {
	base := g.cfg.BaseURL
	if req.baseURL != "" {
		base = req.baseURL
	}
	target := base + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.signed {
		httpReq.Header.Set("Authorization", g.authHeader())
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("error reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// backoff returns base*2^(attempt-1) plus up to 30% of base as jitter, capped
func (g *Gateway) backoff(attempt int) time.Duration {
	base := float64(g.cfg.BackoffBase)
	delay := base*math.Pow(2, float64(attempt-1)) + rand.Float64()*0.3*base
	if delay > float64(g.cfg.BackoffCap) {
		delay = float64(g.cfg.BackoffCap)
	}
	return time.Duration(delay)
}
