package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProductionMetrics tracks workflow and stock ledger activity.
type ProductionMetrics struct {
	stageTransitions  *prometheus.CounterVec
	ordersCompleted   prometheus.Counter
	stockTransactions *prometheus.CounterVec
	stockRejections   *prometheus.CounterVec
	ledgerDrift       prometheus.Gauge
}

// NewProductionMetrics registers the workflow metrics on the provided
// registerer. A nil registerer yields a no-op recorder.
func NewProductionMetrics(reg prometheus.Registerer) *ProductionMetrics {
	if reg == nil {
		return &ProductionMetrics{}
	}
	m := &ProductionMetrics{
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_stage_transitions_total",
			Help: "Order item stage writes by target stage.",
		}, []string{"stage"}),
		ordersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workshop_orders_completed_total",
			Help: "Orders that reached COMPLETED and were credited to stock.",
		}),
		stockTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_stock_transactions_total",
			Help: "Committed stock ledger entries by type.",
		}, []string{"type"}),
		stockRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workshop_stock_rejections_total",
			Help: "Stock movements rejected before any write.",
		}, []string{"reason"}),
		ledgerDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workshop_stock_ledger_drift_products",
			Help: "Products whose cached stock differs from the ledger sum at the last audit.",
		}),
	}
	reg.MustRegister(m.stageTransitions, m.ordersCompleted, m.stockTransactions, m.stockRejections, m.ledgerDrift)
	return m
}

// ObserveStageTransitions adds n stage writes to the given stage.
func (m *ProductionMetrics) ObserveStageTransitions(stage string, n int) {
	if m == nil || m.stageTransitions == nil || n <= 0 {
		return
	}
	m.stageTransitions.WithLabelValues(normalizeLabel(stage)).Add(float64(n))
}

func (m *ProductionMetrics) IncOrdersCompleted() {
	if m == nil || m.ordersCompleted == nil {
		return
	}
	m.ordersCompleted.Inc()
}

func (m *ProductionMetrics) IncStockTransaction(txType string) {
	if m == nil || m.stockTransactions == nil {
		return
	}
	m.stockTransactions.WithLabelValues(normalizeLabel(txType)).Inc()
}

func (m *ProductionMetrics) IncStockRejection(reason string) {
	if m == nil || m.stockRejections == nil {
		return
	}
	m.stockRejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

// SetLedgerDrift records the number of drifting products from the last audit.
func (m *ProductionMetrics) SetLedgerDrift(products int) {
	if m == nil || m.ledgerDrift == nil {
		return
	}
	m.ledgerDrift.Set(float64(products))
}
