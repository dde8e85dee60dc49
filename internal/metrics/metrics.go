package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	discoveryClusterDurations = "cluster_durations"
	discoveryClusterFailures  = "cluster_failures"
	discoveryNodesCount       = "nodes"
	acquireAttempts           = "attempt_count"
	acquireDurations          = "durations"
	acquireNoSuitableHost     = "no_suitable_host_count"
	acquireFallbackTier       = "fallback_tier_count"
	nodeLoad                  = "load"
)

var (
	discoveryClusterDurationsSum = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Subsystem:  "discovery",
		Name:       discoveryClusterDurations,
		Help:       "Cluster membership discovery latencies in seconds",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"cluster"})

	discoveryClusterFailuresCnt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "discovery",
		Name:      discoveryClusterFailures,
		Help:      "Total number of failed cluster membership discoveries",
	}, []string{"cluster"})

	discoveryNodesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "discovery",
		Name:      discoveryNodesCount,
		Help:      "Number of nodes found by the last discovery",
	}, []string{"cluster", "role"})

	acquireAttemptsCnt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "acquire",
		Name:      acquireAttempts,
		Help:      "Total number of physical connection attempts per node",
	}, []string{"cluster", "host", "success"})

	acquireDurationsSum = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Subsystem:  "acquire",
		Name:       acquireDurations,
		Help:       "Connection acquisition latencies in seconds",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"cluster"})

	acquireNoSuitableHostCnt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "acquire",
		Name:      acquireNoSuitableHost,
		Help:      "Total number of acquisitions failed because no suitable host was available",
	}, []string{"cluster"})

	acquireFallbackTierCnt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "acquire",
		Name:      acquireFallbackTier,
		Help:      "Total number of acquisitions served by a placement tier",
	}, []string{"cluster", "tier"})

	nodeLoadGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "node",
		Name:      nodeLoad,
		Help:      "Number of connections attributed to the node",
	}, []string{"cluster", "host"})
)

func init() {
	prometheus.MustRegister(discoveryClusterDurationsSum)
	prometheus.MustRegister(discoveryClusterFailuresCnt)
	prometheus.MustRegister(discoveryNodesGauge)
	prometheus.MustRegister(acquireAttemptsCnt)
	prometheus.MustRegister(acquireDurationsSum)
	prometheus.MustRegister(acquireNoSuitableHostCnt)
	prometheus.MustRegister(acquireFallbackTierCnt)
	prometheus.MustRegister(nodeLoadGauge)
}

type Transaction interface {
	Start() Transaction
	End()
}

type timeTransaction struct {
	labels  []string
	summary *prometheus.SummaryVec
	timer   *prometheus.Timer
}

func (txn *timeTransaction) Start() Transaction {
	txn.timer = prometheus.NewTimer(txn.summary.WithLabelValues(txn.labels...))
	return txn
}

func (txn *timeTransaction) End() {
	txn.timer.ObserveDuration()
}

func StartClusterDiscovery(cluster string) Transaction {
	txn := &timeTransaction{
		summary: discoveryClusterDurationsSum,
		labels:  []string{cluster},
	}
	return txn.Start()
}

func NewFailedClusterDiscoveryAttempt(cluster string) {
	discoveryClusterFailuresCnt.WithLabelValues(cluster).Inc()
}

func SetDiscoveredNodes(cluster, role string, count int) {
	discoveryNodesGauge.WithLabelValues(cluster, role).Set(float64(count))
}

func StartAcquire(cluster string) Transaction {
	txn := &timeTransaction{
		summary: acquireDurationsSum,
		labels:  []string{cluster},
	}
	return txn.Start()
}

func NewAcquireAttempt(cluster, host string, success bool) {
	successValue := "0"
	if success {
		successValue = "1"
	}
	acquireAttemptsCnt.With(prometheus.Labels{
		"cluster": cluster,
		"host":    host,
		"success": successValue,
	}).Inc()
}

func NewNoSuitableHost(cluster string) {
	acquireNoSuitableHostCnt.WithLabelValues(cluster).Inc()
}

func NewFallbackTierHit(cluster, tier string) {
	acquireFallbackTierCnt.WithLabelValues(cluster, tier).Inc()
}

func SetNodeLoad(cluster, host string, load int) {
	nodeLoadGauge.WithLabelValues(cluster, host).Set(float64(load))
}

func DeleteNodeLoad(cluster, host string) {
	nodeLoadGauge.DeleteLabelValues(cluster, host)
}
