package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type consensusMetrics struct {
	blockInterval prometheus.Gauge
	height        prometheus.Gauge
	round         prometheus.Gauge
	qcFormed      *prometheus.CounterVec
	viewChanges   *prometheus.CounterVec
	walErrors     *prometheus.CounterVec
	verifyLatency prometheus.Histogram
}

var (
	consensusMetricsOnce sync.Once
	consensusRegistry    *consensusMetrics
)

// Consensus returns the lazily-initialised metrics registry for the
// consensus core: block cadence, current height/round, QC formation,
// view-change attribution and WAL failures.
func Consensus() *consensusMetrics {
	consensusMetricsOnce.Do(func() {
		consensusRegistry = &consensusMetrics{
			blockInterval: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "overlord",
				Subsystem: "consensus",
				Name:      "block_interval_seconds",
				Help:      "Interval in seconds between the timestamps of consecutive committed blocks.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "overlord",
				Subsystem: "consensus",
				Name:      "height",
				Help:      "Height the replica is currently driving consensus for.",
			}),
			round: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "overlord",
				Subsystem: "consensus",
				Name:      "round",
				Help:      "Round the replica is currently driving consensus for within its current height.",
			}),
			qcFormed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "overlord",
				Subsystem: "consensus",
				Name:      "qc_formed_total",
				Help:      "Count of quorum certificates formed locally, segmented by vote type (prevote, precommit, choke).",
			}, []string{"vote_type"}),
			viewChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "overlord",
				Subsystem: "consensus",
				Name:      "view_changes_total",
				Help:      "Count of reported view changes segmented by reason.",
			}, []string{"reason"}),
			walErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "overlord",
				Subsystem: "consensus",
				Name:      "wal_errors_total",
				Help:      "Count of write-ahead-log save/load failures segmented by operation.",
			}, []string{"operation"}),
			verifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "overlord",
				Subsystem: "consensus",
				Name:      "signature_verify_duration_seconds",
				Help:      "Latency distribution for a single signature verification on the parallel verifier pool.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			consensusRegistry.blockInterval,
			consensusRegistry.height,
			consensusRegistry.round,
			consensusRegistry.qcFormed,
			consensusRegistry.viewChanges,
			consensusRegistry.walErrors,
			consensusRegistry.verifyLatency,
		)
	})
	return consensusRegistry
}

// RecordBlockInterval updates the block interval gauge with the supplied duration.
func (m *consensusMetrics) RecordBlockInterval(interval time.Duration) {
	if m == nil {
		return
	}
	seconds := interval.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.blockInterval.Set(seconds)
}

// RecordHeightRound updates the current-position gauges.
func (m *consensusMetrics) RecordHeightRound(height, round uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
	m.round.Set(float64(round))
}

// RecordQCFormed increments the QC counter for voteType ("prevote",
// "precommit" or "choke").
func (m *consensusMetrics) RecordQCFormed(voteType string) {
	if m == nil {
		return
	}
	m.qcFormed.WithLabelValues(voteType).Inc()
}

// RecordViewChange increments the view-change counter for reason.
func (m *consensusMetrics) RecordViewChange(reason string) {
	if m == nil {
		return
	}
	m.viewChanges.WithLabelValues(reason).Inc()
}

// RecordWalError increments the WAL error counter for operation ("save" or
// "load").
func (m *consensusMetrics) RecordWalError(operation string) {
	if m == nil {
		return
	}
	m.walErrors.WithLabelValues(operation).Inc()
}

// ObserveVerifyLatency records how long one signature verification took on
// the parallel verifier pool.
func (m *consensusMetrics) ObserveVerifyLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.verifyLatency.Observe(d.Seconds())
}
