package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type MarketMetrics struct {
	trades        *prometheus.CounterVec
	tradeVolume   *prometheus.CounterVec
	feesAccrued   prometheus.Counter
	withdrawals   prometheus.Counter
	supply        prometheus.Gauge
	pendingFees   prometheus.Gauge
	tradeFailures *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the lazily-initialised metrics registry for the trading
// engine.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			trades: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_trades_total",
				Help: "Count of settled trades by side.",
			}, []string{"side"}),
			tradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_trade_volume_units_total",
				Help: "Asset units traded by side.",
			}, []string{"side"}),
			feesAccrued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_fees_accrued_total",
				Help: "Cumulative fees charged, in the smallest settlement unit.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_fee_withdrawals_total",
				Help: "Count of successful fee withdrawals.",
			}),
			supply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "market_current_supply",
				Help: "Circulating supply of the traded asset.",
			}),
			pendingFees: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "market_accumulated_fees",
				Help: "Fees accrued but not yet withdrawn, in the smallest settlement unit.",
			}),
			tradeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_trade_failures_total",
				Help: "Count of rejected trades by side and reason.",
			}, []string{"side", "reason"}),
		}
		prometheus.MustRegister(
			marketRegistry.trades,
			marketRegistry.tradeVolume,
			marketRegistry.feesAccrued,
			marketRegistry.withdrawals,
			marketRegistry.supply,
			marketRegistry.pendingFees,
			marketRegistry.tradeFailures,
		)
	})
	return marketRegistry
}

func gaugeValue(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// RecordTrade notes a settled trade and refreshes the supply/fee gauges.
func (m *MarketMetrics) RecordTrade(side string, amount, fee, supply *big.Int) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(side).Inc()
	m.tradeVolume.WithLabelValues(side).Add(gaugeValue(amount))
	m.feesAccrued.Add(gaugeValue(fee))
	m.supply.Set(gaugeValue(supply))
	m.pendingFees.Add(gaugeValue(fee))
}

// RecordTradeFailure notes a rejected trade.
func (m *MarketMetrics) RecordTradeFailure(side, reason string) {
	if m == nil {
		return
	}
	m.tradeFailures.WithLabelValues(side, reason).Inc()
}

// RecordWithdrawal notes a successful fee payout.
func (m *MarketMetrics) RecordWithdrawal() {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
	m.pendingFees.Set(0)
}
