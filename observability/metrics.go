package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ProtocolMetrics records core state machine activity: operation counts by
// outcome and the headline system gauges scraped by monitoring.
type ProtocolMetrics struct {
	operations *prometheus.CounterVec

	baseRate     prometheus.Gauge
	recoveryMode prometheus.Gauge
	activeCDPs   prometheus.Gauge
	poolDeposits prometheus.Gauge
	totalSupply  prometheus.Gauge
}

var (
	protocolMetricsOnce sync.Once
	protocolRegistry    *ProtocolMetrics
)

// Protocol returns the lazily-initialised protocol metrics registry.
func Protocol() *ProtocolMetrics {
	protocolMetricsOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkusd",
				Subsystem: "core",
				Name:      "operations_total",
				Help:      "Core state machine operations segmented by op and outcome.",
			}, []string{"op", "outcome"}),
			baseRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zkusd",
				Subsystem: "fees",
				Name:      "base_rate",
				Help:      "Current decayed base rate.",
			}),
			recoveryMode: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zkusd",
				Subsystem: "core",
				Name:      "recovery_mode",
				Help:      "1 while the protocol is in recovery mode.",
			}),
			activeCDPs: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zkusd",
				Subsystem: "core",
				Name:      "active_cdps",
				Help:      "Number of active collateralized debt positions.",
			}),
			poolDeposits: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zkusd",
				Subsystem: "pool",
				Name:      "total_deposits",
				Help:      "Stability pool deposits in token units.",
			}),
			totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zkusd",
				Subsystem: "token",
				Name:      "total_supply",
				Help:      "Token total supply in token units.",
			}),
		}
	})
	return protocolRegistry
}

// Register attaches the metric set to the provided registry.
func (p *ProtocolMetrics) Register(registry prometheus.Registerer) {
	if p == nil || registry == nil {
		return
	}
	registry.MustRegister(p.operations, p.baseRate, p.recoveryMode, p.activeCDPs, p.poolDeposits, p.totalSupply)
}

// RecordOp counts one operation attempt with its outcome.
func (p *ProtocolMetrics) RecordOp(op, outcome string) {
	if p == nil {
		return
	}
	p.operations.WithLabelValues(op, outcome).Inc()
}

// SystemGauges carries the headline values published after each commit.
type SystemGauges struct {
	BaseRate     float64
	RecoveryMode float64
	ActiveCDPs   float64
	PoolDeposits float64
	TotalSupply  float64
}

// SetSystemGauges publishes the headline gauges. Display only; the values
// never feed back into consensus state.
func (p *ProtocolMetrics) SetSystemGauges(g SystemGauges) {
	if p == nil {
		return
	}
	p.baseRate.Set(g.BaseRate)
	p.recoveryMode.Set(g.RecoveryMode)
	p.activeCDPs.Set(g.ActiveCDPs)
	p.poolDeposits.Set(g.PoolDeposits)
	p.totalSupply.Set(g.TotalSupply)
}
