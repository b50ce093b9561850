package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names — spec section 4.I ("emits metrics and structured events").
const (
	MetricFillsTotal          = "b4_fills_total"
	MetricOrdersSubmittedTotal = "b4_orders_submitted_total"
	MetricOrdersCanceledTotal = "b4_orders_canceled_total"
	MetricRejectsTotal        = "b4_rejects_total"
	MetricThrottledTotal      = "b4_throttled_total"
	MetricEquity              = "b4_equity"
	MetricDrawdown            = "b4_drawdown_ratio"
	MetricRiskMode            = "b4_risk_mode" // 0=NORMAL 1=REDUCE_RISK_ONLY 2=OBSERVE_ONLY
	MetricKillSwitchOpen      = "b4_kill_switch_open"
	MetricUnknownOrders       = "b4_unknown_orders"
	MetricCycleDurationMs     = "b4_cycle_duration_ms"
)

// MetricsHolder holds initialized instruments for the cycle runner.
type MetricsHolder struct {
	FillsTotal           metric.Int64Counter
	OrdersSubmittedTotal metric.Int64Counter
	OrdersCanceledTotal  metric.Int64Counter
	RejectsTotal         metric.Int64Counter
	ThrottledTotal       metric.Int64Counter
	CycleDuration        metric.Float64Histogram

	Equity         metric.Float64ObservableGauge
	Drawdown       metric.Float64ObservableGauge
	RiskMode       metric.Int64ObservableGauge
	KillSwitchOpen metric.Int64ObservableGauge
	UnknownOrders  metric.Int64ObservableGauge

	mu             sync.RWMutex
	equityMap      map[string]float64
	drawdownMap    map[string]float64
	riskModeMap    map[string]int64
	killSwitchMap  map[string]int64
	unknownOrdersMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			equityMap:        make(map[string]float64),
			drawdownMap:      make(map[string]float64),
			riskModeMap:      make(map[string]int64),
			killSwitchMap:    make(map[string]int64),
			unknownOrdersMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.FillsTotal, err = meter.Int64Counter(MetricFillsTotal, metric.WithDescription("Total fills ingested into the ledger")); err != nil {
		return err
	}
	if m.OrdersSubmittedTotal, err = meter.Int64Counter(MetricOrdersSubmittedTotal, metric.WithDescription("Total orders submitted to the exchange")); err != nil {
		return err
	}
	if m.OrdersCanceledTotal, err = meter.Int64Counter(MetricOrdersCanceledTotal, metric.WithDescription("Total orders canceled")); err != nil {
		return err
	}
	if m.RejectsTotal, err = meter.Int64Counter(MetricRejectsTotal, metric.WithDescription("Total intents rejected by risk gates or the exchange")); err != nil {
		return err
	}
	if m.ThrottledTotal, err = meter.Int64Counter(MetricThrottledTotal, metric.WithDescription("Total submissions deferred by the rate limiter")); err != nil {
		return err
	}
	if m.CycleDuration, err = meter.Float64Histogram(MetricCycleDurationMs, metric.WithDescription("Cycle wall-clock duration"), metric.WithUnit("ms")); err != nil {
		return err
	}

	if m.Equity, err = meter.Float64ObservableGauge(MetricEquity, metric.WithDescription("Current account equity in quote currency"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for k, v := range m.equityMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("account", k)))
			}
			return nil
		})); err != nil {
		return err
	}

	if m.Drawdown, err = meter.Float64ObservableGauge(MetricDrawdown, metric.WithDescription("Drawdown from peak equity, as a ratio"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for k, v := range m.drawdownMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("account", k)))
			}
			return nil
		})); err != nil {
		return err
	}

	if m.RiskMode, err = meter.Int64ObservableGauge(MetricRiskMode, metric.WithDescription("Current risk mode: 0=NORMAL 1=REDUCE_RISK_ONLY 2=OBSERVE_ONLY"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for k, v := range m.riskModeMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("account", k)))
			}
			return nil
		})); err != nil {
		return err
	}

	if m.KillSwitchOpen, err = meter.Int64ObservableGauge(MetricKillSwitchOpen, metric.WithDescription("Kill switch state (1=open)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for k, v := range m.killSwitchMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("role", k)))
			}
			return nil
		})); err != nil {
		return err
	}

	if m.UnknownOrders, err = meter.Int64ObservableGauge(MetricUnknownOrders, metric.WithDescription("Count of orders with ambiguous submission outcome"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for k, v := range m.unknownOrdersMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("account", k)))
			}
			return nil
		})); err != nil {
		return err
	}

	return nil
}

func (m *MetricsHolder) SetEquity(account string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equityMap[account] = value
}

func (m *MetricsHolder) SetDrawdown(account string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawdownMap[account] = value
}

func (m *MetricsHolder) SetRiskMode(account string, mode int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskModeMap[account] = mode
}

func (m *MetricsHolder) SetKillSwitchOpen(role string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitchMap[role] = val
}

func (m *MetricsHolder) SetUnknownOrders(account string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unknownOrdersMap[account] = count
}
