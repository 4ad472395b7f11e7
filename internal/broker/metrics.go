package broker

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_broker_requests_total",
			Help: "Broker API calls by path and outcome (ok|rejected|failed|breaker_open|cancelled)",
		},
		[]string{"path", "outcome"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_broker_retries_total",
			Help: "Retried broker API attempts",
		},
		[]string{"path"},
	)

	// 0 closed, 1 open, 2 half-open
	breakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_broker_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_broker_orders_total",
			Help: "Orders submitted to the broker by result",
		},
		[]string{"result"},
	)

	authTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_broker_auth_total",
			Help: "Broker authentication attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, retriesTotal, breakerState, ordersTotal, authTotal)
}
