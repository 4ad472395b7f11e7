package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/proxyhifi-dev/Bot/internal/auth"
	"github.com/proxyhifi-dev/Bot/internal/database"
	"github.com/proxyhifi-dev/Bot/internal/engine"
	"github.com/proxyhifi-dev/Bot/internal/execution"
	"github.com/proxyhifi-dev/Bot/internal/journal"
	"github.com/proxyhifi-dev/Bot/internal/ledger"
	"github.com/proxyhifi-dev/Bot/internal/mode"
	"github.com/proxyhifi-dev/Bot/internal/risk"
	"github.com/proxyhifi-dev/Bot/internal/signal"
	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/proxyhifi-dev/Bot/pkg/middleware"
)

const (
	numWorkers = 6
	duration   = 20 * time.Second
	symbol     = "NSE:NIFTY50-INDEX"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// randomWalk is a market that drifts a few points per call
type randomWalk struct {
	mu    sync.Mutex
	price float64
	rng   *rand.Rand
}

func (m *randomWalk) step() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price += (m.rng.Float64() - 0.5) * 40
	return m.price
}

func (m *randomWalk) LatestCandles(_ context.Context, _ string, lookback int) ([]types.Candle, error) {
	candles := make([]types.Candle, 0, lookback)
	now := time.Now().Unix()
	for i := 0; i < lookback; i++ {
		p := m.step()
		candles = append(candles, types.Candle{Timestamp: now - int64(lookback-i)*300, Open: p, High: p + 5, Low: p - 5, Close: p, Volume: 1000})
	}
	return candles, nil
}

func (m *randomWalk) LatestPrice(context.Context, string) (float64, error) {
	return m.step(), nil
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) record(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate computes min, max, mean, median, p95 and p99 of recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]
	return
}

// simulationClient drives the operator API and checks its invariants from outside
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats

	mu        sync.Mutex
	executed  int
	violation []string
}

func newSimulationClient(baseURL, apiKey, apiSecret string) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"signal":  {name: "Signal"},
			"approve": {name: "Approve"},
			"reject":  {name: "Reject"},
			"status":  {name: "Status"},
		},
	}

	token, err := sc.authenticate(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token
	return sc, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call sends one request and decodes the response envelope's data into out
func (sc *simulationClient) call(route, method, path string, body any, out any) error {
	start := time.Now()
	var err error
	defer func() {
		sc.stats[route].record(time.Since(start), err != nil)
	}()

	var reader io.Reader
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			err = merr
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, rerr := http.NewRequest(method, sc.baseURL+path, reader)
	if rerr != nil {
		err = rerr
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, derr := sc.client.Do(req)
	if derr != nil {
		err = derr
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		err = fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
		return err
	}

	var env envelope
	if err = json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if out != nil {
		err = json.Unmarshal(env.Data, out)
	}
	return err
}

func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	var token auth.TokenResponse
	err := sc.call("auth", http.MethodPost, "/api/v1/auth/token", auth.Credentials{APIKey: apiKey, APISecret: apiSecret}, &token)
	return token.Token, err
}

func (sc *simulationClient) violated(format string, args ...any) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.violation = append(sc.violation, fmt.Sprintf(format, args...))
}

// worker mixes signal, approve, reject and status calls at random
func (sc *simulationClient) worker(ctx context.Context, id int) {
	rng := rand.New(rand.NewSource(int64(id)))
	for ctx.Err() == nil {
		switch n := rng.Intn(10); {
		case n < 3:
			_ = sc.call("signal", http.MethodGet, "/signal", nil, nil)
		case n < 6:
			var result engine.ApprovalResult
			if err := sc.call("approve", http.MethodPost, "/approve", nil, &result); err == nil && result.Status == engine.ApprovalExecuted {
				sc.mu.Lock()
				sc.executed++
				sc.mu.Unlock()
			}
		case n < 7:
			_ = sc.call("reject", http.MethodPost, "/reject", nil, nil)
		default:
			var status engine.Status
			if err := sc.call("status", http.MethodGet, "/status", nil, &status); err == nil {
				if status.OpenPosition != nil && status.Pending != nil && status.Pending.CorrelationID == status.OpenPosition.CorrelationID {
					sc.violated("signal %s is both pending and open", status.Pending.CorrelationID)
				}
			}
		}
		time.Sleep(time.Duration(rng.Intn(20)) * time.Millisecond)
	}
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs an in-process PAPER engine against a random-walk market and
// hammers its API from concurrent workers. Every executed approval must be
// accounted for as either a closed trade or the open position.
func main() {
	apiKey, apiSecret, jwtSecret := "sim-"+uuid.NewString(), uuid.NewString(), uuid.NewString()

	baseURL, eng, book, shutdown, err := startServer(apiKey, apiSecret, jwtSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
	defer shutdown()

	simClient, err := newSimulationClient(baseURL, apiKey, apiSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	fmt.Printf("Running %d workers for %s against %s\n", numWorkers, duration, baseURL)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			simClient.worker(ctx, id)
		}(i)
	}
	wg.Wait()

	eng.EmergencyStop()
	simClient.printPerformanceStats()

	open := 0
	if book.HasOpenPosition() {
		open = 1
	}
	closed := book.Stats().TotalTrades
	fmt.Printf("\nexecuted approvals: %d, closed trades: %d, open positions: %d\n", simClient.executed, closed, open)
	if simClient.executed != closed+open {
		simClient.violated("executed approvals %d != closed %d + open %d", simClient.executed, closed, open)
	}

	if len(simClient.violation) > 0 {
		for _, v := range simClient.violation {
			fmt.Println("VIOLATION:", v)
		}
		os.Exit(1)
	}
	fmt.Println("invariants held")
}

// startServer wires a PAPER engine with an in-memory journal and serves the
// operator API on a random local port.
func startServer(apiKey, apiSecret, jwtSecret string) (string, *engine.Engine, *ledger.Ledger, func(), error) {
	logger := log.Logger

	db, err := database.NewDatabase(":memory:")
	if err != nil {
		return "", nil, nil, nil, err
	}
	tradeJournal := journal.NewDatabase(db)

	gate, err := risk.New(risk.Config{
		Capital:          100000,
		RiskFraction:     0.01,
		MaxTradesPerDay:  1_000_000,
		MaxLossesPerDay:  1_000_000,
		NoNewTradesAfter: "23:59",
		SquareOffAt:      "23:59",
		Exits:            risk.FixedOffsets{Stop: 10, Target: 20},
	}, logger)
	if err != nil {
		return "", nil, nil, nil, err
	}

	book := ledger.New()
	modes := mode.NewController(types.ModePaper, logger)
	market := &randomWalk{price: 22000, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}

	var flip sync.Mutex
	buy := true
	alternating := signal.Func(func(context.Context, []types.Candle) (types.Side, bool, error) {
		flip.Lock()
		defer flip.Unlock()
		buy = !buy
		if buy {
			return types.SideBuy, true, nil
		}
		return types.SideSell, true, nil
	})

	eng := engine.New(engine.Config{
		Symbol:         symbol,
		Lookback:       20,
		PollInterval:   50 * time.Millisecond,
		SignalTTL:      300 * time.Millisecond,
		ExpiryInterval: 20 * time.Millisecond,
		StopTimeout:    2 * time.Second,
	}, engine.Deps{
		Market:   market,
		Signals:  alternating,
		Risk:     gate,
		Mode:     modes,
		Ledger:   book,
		Executor: execution.New(modes, book, nil, tradeJournal, logger),
		Journal:  tradeJournal,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.Start(ctx); err != nil {
		cancel()
		return "", nil, nil, nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	authService := auth.NewService(jwtSecret, apiKey, apiSecret)
	router.POST("/api/v1/auth/token", auth.NewGinHandlers(authService).GenerateTokenHandler())
	protected := router.Group("")
	protected.Use(middleware.JWTAuth(authService))
	engine.NewGinHandlers(ctx, eng).RegisterRoutes(router, protected)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		cancel()
		return "", nil, nil, nil, err
	}
	srv := &http.Server{Handler: router}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("serve")
		}
	}()

	shutdown := func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}
	return "http://" + listener.Addr().String(), eng, book, shutdown, nil
}
