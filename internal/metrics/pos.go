package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// POS records counters for the transactional core. A nil *POS is valid and
// records nothing.
type POS struct {
	sales     *prometheus.CounterVec
	netCents  *prometheus.CounterVec
	movements *prometheus.CounterVec
	lowStock  *prometheus.CounterVec
	shifts    *prometheus.CounterVec
}

// NewPOS registers the POS metrics on reg. A nil registerer yields a no-op
// instance.
func NewPOS(reg prometheus.Registerer) *POS {
	if reg == nil {
		return &POS{}
	}
	sales := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poscore",
		Name:      "sales_total",
		Help:      "Sales by lifecycle event.",
	}, []string{"outlet", "event"})
	netCents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poscore",
		Name:      "sales_net_cents_total",
		Help:      "Net amount of recorded sales in cents.",
	}, []string{"outlet"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poscore",
		Name:      "stock_movements_total",
		Help:      "Committed stock movements by kind.",
	}, []string{"kind"})
	lowStock := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poscore",
		Name:      "low_stock_transitions_total",
		Help:      "Low-stock alert transitions.",
	}, []string{"result"})
	shifts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poscore",
		Name:      "shifts_closed_total",
		Help:      "Closed cash sessions by reconciliation outcome.",
	}, []string{"outcome"})
	reg.MustRegister(sales, netCents, movements, lowStock, shifts)
	return &POS{
		sales:     sales,
		netCents:  netCents,
		movements: movements,
		lowStock:  lowStock,
		shifts:    shifts,
	}
}

func (m *POS) SaleRecorded(outletID string, netCents int64) {
	if m == nil || m.sales == nil {
		return
	}
	outlet := normalizeLabel(outletID)
	m.sales.WithLabelValues(outlet, "recorded").Inc()
	if netCents > 0 {
		m.netCents.WithLabelValues(outlet).Add(float64(netCents))
	}
}

// SaleReversed counts a void or refund.
func (m *POS) SaleReversed(outletID string, event string) {
	if m == nil || m.sales == nil {
		return
	}
	m.sales.WithLabelValues(normalizeLabel(outletID), normalizeLabel(event)).Inc()
}

func (m *POS) MovementsRecorded(kind string, n int) {
	if m == nil || m.movements == nil || n <= 0 {
		return
	}
	m.movements.WithLabelValues(normalizeLabel(kind)).Add(float64(n))
}

func (m *POS) LowStockTransition(result string) {
	if m == nil || m.lowStock == nil {
		return
	}
	m.lowStock.WithLabelValues(normalizeLabel(result)).Inc()
}

// ShiftClosed buckets the drawer difference into balanced, over or short.
func (m *POS) ShiftClosed(differenceCents int64) {
	if m == nil || m.shifts == nil {
		return
	}
	outcome := "balanced"
	switch {
	case differenceCents > 0:
		outcome = "over"
	case differenceCents < 0:
		outcome = "short"
	}
	m.shifts.WithLabelValues(outcome).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
