// Package metrics exposes the bot's Prometheus metrics:
//
//   - vbo_orders_total{account,side,result} – orders by outcome (filled|pending|failed)
//   - vbo_tick_errors_total{account}        – recovered scheduling-tick errors
//   - vbo_pending_buys{account}             – unresolved buys awaiting reconciliation
//   - vbo_signal_recomputes_total{result}   – daily signal recomputations (ok|failed)
//
// Served at /metrics by the HTTP listener started in cmd/bot.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vbo_orders_total",
			Help: "Orders placed, by side and outcome",
		},
		[]string{"account", "side", "result"},
	)

	TickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vbo_tick_errors_total",
			Help: "Recovered errors in account scheduling ticks",
		},
		[]string{"account"},
	)

	PendingBuys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vbo_pending_buys",
			Help: "Buys with unresolved fills awaiting reconciliation",
		},
		[]string{"account"},
	)

	SignalRecomputes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vbo_signal_recomputes_total",
			Help: "Daily signal recomputations by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(Orders, TickErrors, PendingBuys, SignalRecomputes)
}

// Serve starts the metrics endpoint. Port 0 disables it.
func Serve(port int) {
	if port == 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
