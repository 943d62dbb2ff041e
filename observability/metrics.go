package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	operations *prometheus.CounterVec
	faults     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

type psmMetrics struct {
	swaps        *prometheus.CounterVec
	stableVolume *prometheus.CounterVec
	reserve      prometheus.Gauge
	minted       prometheus.Gauge
}

type treasuryMetrics struct {
	deposits     prometheus.Counter
	redemptions  prometheus.Counter
	liquidations *prometheus.CounterVec
	badDebt      prometheus.Counter
	openings     *prometheus.GaugeVec
}

type oracleMetrics struct {
	refreshes  *prometheus.CounterVec
	deviations *prometheus.CounterVec
	quoteAge   *prometheus.GaugeVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *engineMetrics

	psmMetricsOnce sync.Once
	psmRegistry    *psmMetrics

	treasuryMetricsOnce sync.Once
	treasuryRegistry    *treasuryMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *oracleMetrics
)

// Engine returns the lazily-initialised registry recording engine operation
// outcomes across every native module.
func Engine() *engineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &engineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyd",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total engine operations segmented by module, operation, and outcome.",
			}, []string{"module", "op", "outcome"}),
			faults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyd",
				Subsystem: "engine",
				Name:      "faults_total",
				Help:      "Total rejected engine operations segmented by module and fault category.",
			}, []string{"module", "category"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "hyd",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "op"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.faults,
			engineRegistry.latency,
		)
	})
	return engineRegistry
}

// Observe records one engine operation outcome.
func (m *engineMetrics) Observe(module, op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(module, op, outcome).Inc()
	m.latency.WithLabelValues(module, op).Observe(duration.Seconds())
}

// RecordFault increments the fault counter for the module and category.
func (m *engineMetrics) RecordFault(module, category string) {
	if m == nil {
		return
	}
	if category == "" {
		category = "unknown"
	}
	m.faults.WithLabelValues(module, category).Inc()
}

// PSM returns the registry tracking peg stability module activity.
func PSM() *psmMetrics {
	psmMetricsOnce.Do(func() {
		psmRegistry = &psmMetrics{
			swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyd",
				Subsystem: "psm",
				Name:      "swaps_total",
				Help:      "Total swaps segmented by direction.",
			}, []string{"direction"}),
			stableVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyd",
				Subsystem: "psm",
				Name:      "stable_volume_base_units_total",
				Help:      "Cumulative stable base units moved through the reserve by direction.",
			}, []string{"direction"}),
			reserve: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hyd",
				Subsystem: "psm",
				Name:      "reserve_base_units",
				Help:      "Current stable reserve balance in base units.",
			}),
			minted: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hyd",
				Subsystem: "psm",
				Name:      "minted_base_units",
				Help:      "Running total of HYD minted through the reserve, in base units.",
			}),
		}
		prometheus.MustRegister(
			psmRegistry.swaps,
			psmRegistry.stableVolume,
			psmRegistry.reserve,
			psmRegistry.minted,
		)
	})
	return psmRegistry
}

// RecordSwap counts a completed swap and its stable volume.
func (m *psmMetrics) RecordSwap(direction string, stableBaseUnits float64) {
	if m == nil {
		return
	}
	m.swaps.WithLabelValues(direction).Inc()
	if stableBaseUnits > 0 {
		m.stableVolume.WithLabelValues(direction).Add(stableBaseUnits)
	}
}

// SetReserve updates the reserve gauges from a state snapshot.
func (m *psmMetrics) SetReserve(reserveBaseUnits, mintedBaseUnits float64) {
	if m == nil {
		return
	}
	m.reserve.Set(reserveBaseUnits)
	m.minted.Set(mintedBaseUnits)
}

// Treasury returns the registry tracking collateral vault activity.
func Treasury() *treasuryMetrics {
	treasuryMetricsOnce.Do(func() {
		treasuryRegistry = &treasuryMetrics{
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hyd",
				Subsystem: "treasury",
				Name:      "deposits_total",
				Help:      "Total collateral deposits accepted.",
			}),
			redemptions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hyd",
				Subsystem: "treasury",
				Name:      "redemptions_total",
				Help:      "Total redemptions executed.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyd",
				Subsystem: "treasury",
				Name:      "liquidations_total",
				Help:      "Total liquidations segmented by kind (partial or full).",
			}, []string{"kind"}),
			badDebt: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hyd",
				Subsystem: "treasury",
				Name:      "bad_debt_events_total",
				Help:      "Count of liquidations that closed with written-off debt.",
			}),
			openings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "hyd",
				Subsystem: "treasury",
				Name:      "open_positions",
				Help:      "Open positions per collateral asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			treasuryRegistry.deposits,
			treasuryRegistry.redemptions,
			treasuryRegistry.liquidations,
			treasuryRegistry.badDebt,
			treasuryRegistry.openings,
		)
	})
	return treasuryRegistry
}

// RecordDeposit counts an accepted deposit.
func (m *treasuryMetrics) RecordDeposit() {
	if m == nil {
		return
	}
	m.deposits.Inc()
}

// RecordRedemption counts an executed redemption.
func (m *treasuryMetrics) RecordRedemption() {
	if m == nil {
		return
	}
	m.redemptions.Inc()
}

// RecordLiquidation counts a liquidation and any bad-debt write-off.
func (m *treasuryMetrics) RecordLiquidation(partial, badDebt bool) {
	if m == nil {
		return
	}
	kind := "full"
	if partial {
		kind = "partial"
	}
	m.liquidations.WithLabelValues(kind).Inc()
	if badDebt {
		m.badDebt.Inc()
	}
}

// SetOpenPositions updates the open position gauge for an asset.
func (m *treasuryMetrics) SetOpenPositions(asset string, count float64) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.openings.WithLabelValues(normalized).Set(count)
}

// Oracle returns the registry tracking price feed health.
func Oracle() *oracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &oracleMetrics{
			refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyd",
				Subsystem: "oracle",
				Name:      "refreshes_total",
				Help:      "Total refresh attempts segmented by asset and outcome.",
			}, []string{"asset", "outcome"}),
			deviations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyd",
				Subsystem: "oracle",
				Name:      "deviations_total",
				Help:      "Deviation events segmented by asset and severity (alert or pause).",
			}, []string{"asset", "severity"}),
			quoteAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "hyd",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age of the freshest accepted quote per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			oracleRegistry.refreshes,
			oracleRegistry.deviations,
			oracleRegistry.quoteAge,
		)
	})
	return oracleRegistry
}

// RecordRefresh counts one refresh attempt per asset.
func (m *oracleMetrics) RecordRefresh(asset string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.WithLabelValues(strings.ToUpper(asset), outcome).Inc()
}

// RecordDeviation counts a deviation alert or latch trip.
func (m *oracleMetrics) RecordDeviation(asset string, paused bool) {
	if m == nil {
		return
	}
	severity := "alert"
	if paused {
		severity = "pause"
	}
	m.deviations.WithLabelValues(strings.ToUpper(asset), severity).Inc()
}

// SetQuoteAge updates the freshness gauge for an asset.
func (m *oracleMetrics) SetQuoteAge(asset string, age time.Duration) {
	if m == nil {
		return
	}
	m.quoteAge.WithLabelValues(strings.ToUpper(asset)).Set(age.Seconds())
}
