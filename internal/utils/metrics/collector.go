// internal/utils/metrics/collector.go
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

const namespace = "curvesale"

// MetricType names a metric held by the collector.
type MetricType string

const (
	TradeCounterType      MetricType = "trade_counter"
	TradeVolumeType       MetricType = "trade_volume"
	TradeFeesType         MetricType = "trade_fees"
	TokensSoldType        MetricType = "tokens_sold"
	PriceType             MetricType = "price"
	GraduationCounterType MetricType = "graduation_counter"
	FeesCollectedType     MetricType = "fees_collected"
	TokensReleasedType    MetricType = "tokens_released"
	OperationCounterType  MetricType = "operation_counter"
	OperationDurationType MetricType = "operation_duration"
)

// Collector turns sale and vesting events into Prometheus metrics. It owns
// its registry so several collectors can coexist in one process.
type Collector struct {
	registry *prometheus.Registry
	metrics  sync.Map

	tradeCounter      *prometheus.CounterVec
	tradeVolume       *prometheus.CounterVec
	tradeFees         *prometheus.CounterVec
	tokensSold        *prometheus.GaugeVec
	price             *prometheus.GaugeVec
	graduations       *prometheus.CounterVec
	feesCollected     *prometheus.CounterVec
	tokensReleased    prometheus.Counter
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tradeCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Committed trades by side",
		}, []string{"sale_id", "side"}),
		tradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_volume_bnb_total",
			Help:      "BNB paid into buys and out of sells",
		}, []string{"sale_id", "side"}),
		tradeFees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_fees_bnb_total",
			Help:      "Fees accrued on trades",
		}, []string{"sale_id", "kind"}),
		tokensSold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tokens_sold",
			Help:      "Tokens currently sold by the curve",
		}, []string{"sale_id"}),
		price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price_bnb",
			Help:      "Marginal price after the last trade",
		}, []string{"sale_id"}),
		graduations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graduations_total",
			Help:      "Sales graduated to the DEX",
		}, []string{"sale_id"}),
		feesCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_collected_bnb_total",
			Help:      "Fees paid out to recipients",
		}, []string{"sale_id", "kind"}),
		tokensReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vesting_released_tokens_total",
			Help:      "Tokens released by vesting schedules",
		}),
		operationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations by outcome; failures are labelled with their error kind",
		}, []string{"operation", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"operation"}),
	}
	c.initializeMetrics()
	return c
}

func (c *Collector) initializeMetrics() {
	metricsMap := map[MetricType]prometheus.Collector{
		TradeCounterType:      c.tradeCounter,
		TradeVolumeType:       c.tradeVolume,
		TradeFeesType:         c.tradeFees,
		TokensSoldType:        c.tokensSold,
		PriceType:             c.price,
		GraduationCounterType: c.graduations,
		FeesCollectedType:     c.feesCollected,
		TokensReleasedType:    c.tokensReleased,
		OperationCounterType:  c.operationCounter,
		OperationDurationType: c.operationDuration,
	}
	for metricType, metric := range metricsMap {
		c.metrics.Store(metricType, metric)
		c.registry.MustRegister(metric)
	}
}

// Registry exposes the collector's registry, e.g. for promhttp.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Reset clears every labelled metric.
func (c *Collector) Reset() {
	c.metrics.Range(func(_, value any) bool {
		switch m := value.(type) {
		case *prometheus.CounterVec:
			m.Reset()
		case *prometheus.GaugeVec:
			m.Reset()
		case *prometheus.HistogramVec:
			m.Reset()
		}
		return true
	})
}

// Attach subscribes the collector to every event the engines emit.
func (c *Collector) Attach(bus *events.Bus) []events.Subscription {
	return bus.SubscribeAll(c,
		events.TokensBought,
		events.TokensSold,
		events.GraduatedToDex,
		events.FeesCollected,
		events.TokensReleased,
	)
}

// Handle implements events.Handler.
func (c *Collector) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case *events.TokensBoughtEvent:
		c.recordTrade(e.SaleID, "buy", e.BnbIn, e.CreatorFee, e.PlatformFee, e.TokensSold, e.Price)
	case *events.TokensSoldEvent:
		c.recordTrade(e.SaleID, "sell", e.BnbOut, e.CreatorFee, e.PlatformFee, e.TokensSold, e.Price)
	case *events.GraduatedToDexEvent:
		c.graduations.WithLabelValues(e.SaleID).Inc()
	case *events.FeesCollectedEvent:
		c.feesCollected.WithLabelValues(e.SaleID, string(e.Kind)).Add(units(e.Amount))
	case *events.TokensReleasedEvent:
		c.tokensReleased.Add(units(e.Amount))
	}
	return nil
}

func (c *Collector) recordTrade(saleID, side string, bnb, creatorFee, platformFee, sold, price *uint256.Int) {
	c.tradeCounter.WithLabelValues(saleID, side).Inc()
	c.tradeVolume.WithLabelValues(saleID, side).Add(units(bnb))
	c.tradeFees.WithLabelValues(saleID, string(events.CreatorFee)).Add(units(creatorFee))
	c.tradeFees.WithLabelValues(saleID, string(events.PlatformFee)).Add(units(platformFee))
	c.tokensSold.WithLabelValues(saleID).Set(units(sold))
	c.price.WithLabelValues(saleID).Set(units(price))
}

// RecordOperation records the outcome and duration of an engine call.
func (c *Collector) RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = string(types.KindOf(err))
	}
	c.operationCounter.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// OperationCounter returns the counter of operation outcomes with status.
func (c *Collector) OperationCounter(operation, status string) prometheus.Counter {
	return c.operationCounter.WithLabelValues(operation, status)
}

// units converts an 18-decimal amount to a float for gauges and counters.
func units(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	return curve.ToDecimal(v).InexactFloat64()
}
