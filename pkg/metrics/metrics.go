// Package metrics exposes the engine's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TxCommitted counts transactions whose action phase committed.
	TxCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_transactions_committed_total",
		Help: "Transactions committed",
	})
	// TxRolledBack counts transactions reverted in compute or action phase.
	TxRolledBack = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_transactions_rolled_back_total",
		Help: "Transactions rolled back",
	})
	// TxRejected counts external messages refused at admission.
	TxRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_admission_rejected_total",
		Help: "External messages rejected at admission",
	})
	// BouncesSent counts synthesized bounce messages.
	BouncesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_bounces_sent_total",
		Help: "Bounce messages synthesized",
	})
	// MessagesEnqueued counts internal messages accepted by the bus.
	MessagesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_bus_enqueued_total",
		Help: "Internal messages enqueued on the bus",
	})
	// MessagesAcked counts internal messages removed after commit.
	MessagesAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_bus_acked_total",
		Help: "Internal messages acknowledged",
	})
	// BusPending gauges messages awaiting delivery.
	BusPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ember_bus_pending",
		Help: "Internal messages pending delivery",
	})
)
