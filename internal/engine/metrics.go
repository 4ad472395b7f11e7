package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_engine_evaluations_total",
			Help: "Market evaluation cycles by status",
		},
		[]string{"status"},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_engine_signals_total",
			Help: "Signal lifecycle events by outcome",
		},
		[]string{"outcome"},
	)

	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_engine_pending_signal",
		Help: "1 while a signal awaits approval",
	})

	realizedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_engine_realized_pnl",
		Help: "Realized pnl held by the ledger",
	})

	modeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_engine_live_mode",
		Help: "1 in LIVE mode, 0 in PAPER",
	})

	runningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_engine_running",
		Help: "1 while the background loops run",
	})

	loopPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_engine_loop_panics_total",
			Help: "Panics recovered inside background loops",
		},
		[]string{"loop"},
	)
)

func init() {
	prometheus.MustRegister(evaluationsTotal, signalsTotal, pendingGauge, realizedGauge, modeGauge, runningGauge, loopPanicsTotal)
}
