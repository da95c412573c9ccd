package monitor

import (
	"github.com/fiffu/listingwatch/lib/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "listingwatch"

// Metrics are the engine's prometheus collectors.
type Metrics struct {
	WorkersActive   prometheus.Gauge
	CyclesTotal     *prometheus.CounterVec
	ChangesTotal    *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WorkersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "workers_active",
			Help:      "Number of live watch workers",
		}),
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Worker cycles by outcome",
		}, []string{"result"}),
		ChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "changes_total",
			Help:      "Classified listing changes by type",
		}, []string{"type"}),
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Notification delivery attempts by result",
		}, []string{"result"}),
	}
}

const (
	cycleOK         = "ok"
	cycleQuiet      = "quiet"
	cycleFetchError = "fetch_error"
	cycleEmpty      = "empty"
	cycleDiffError  = "diff_error"
)

func (m *Metrics) observeCycle(result string, stats *cycleStats) {
	m.CyclesTotal.WithLabelValues(result).Inc()
	if stats == nil {
		return
	}
	m.ChangesTotal.WithLabelValues(string(models.NotificationNew)).Add(float64(stats.new))
	m.ChangesTotal.WithLabelValues(string(models.NotificationPriceDrop)).Add(float64(stats.priceDrop))
	m.ChangesTotal.WithLabelValues(string(models.NotificationPriceChange)).Add(float64(stats.priceChange))
	m.DeliveriesTotal.WithLabelValues("delivered").Add(float64(stats.delivered))
	m.DeliveriesTotal.WithLabelValues("failed").Add(float64(stats.failed))
}

// cycleStats counts what happened during one worker cycle.
type cycleStats struct {
	fetched     int
	new         int
	priceDrop   int
	priceChange int
	unchanged   int
	skipped     int
	delivered   int
	failed      int
}

func (c *cycleStats) addChanges(changes []models.Change) {
	for _, ch := range changes {
		switch ch.Type {
		case models.NotificationNew:
			c.new++
		case models.NotificationPriceDrop:
			c.priceDrop++
		case models.NotificationPriceChange:
			c.priceChange++
		}
	}
}

// logFields returns only the non-zero counters as zap key-value pairs.
func (c *cycleStats) logFields() []any {
	args := make([]any, 0)
	for _, f := range []struct {
		key string
		val int
	}{
		{"fetched", c.fetched},
		{"new", c.new},
		{"price_drop", c.priceDrop},
		{"price_change", c.priceChange},
		{"unchanged", c.unchanged},
		{"skipped", c.skipped},
		{"delivered", c.delivered},
		{"failed", c.failed},
	} {
		if f.val != 0 {
			args = append(args, f.key, f.val)
		}
	}
	return args
}
