package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "engine",
		Name:      "orders_placed_total",
		Help:      "Placement results by outcome status.",
	}, []string{"status"})

	TradesSettled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "engine",
		Name:      "trades_settled_total",
		Help:      "Fills settled and committed.",
	})

	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "engine",
		Name:      "settlement_failures_total",
		Help:      "Fill settlements rolled back.",
	})

	BookRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "book",
		Name:      "repairs_total",
		Help:      "Administrative book repair passes.",
	})

	TickNotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "marketdata",
		Name:      "tick_notify_failures_total",
		Help:      "Trade tick publications that failed.",
	})
)
