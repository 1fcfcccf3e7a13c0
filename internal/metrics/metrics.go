// Package metrics provides Prometheus metrics for rpzsync.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Namespace prefixes every metric name.
const Namespace = "rpzsync"

// Registry holds every rpzsync collector plus the Go and process collectors.
// It backs both the /metrics handler and Pushgateway pushes.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// BuildInfo exposes the running version.
	BuildInfo = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "go_version"})

	// RunsTotal counts runs by outcome (success, fetch_error, auth_error, error).
	RunsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "runs_total",
		Help:      "Total sync runs by outcome.",
	}, []string{"outcome"})

	// RunDuration tracks wall time per run.
	RunDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of sync runs.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// LastSuccess is the unix time of the last run without fatal errors.
	LastSuccess = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run.",
	})

	// DomainsDesired is the size of the authoritative set.
	DomainsDesired = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "domains_desired",
		Help:      "Number of domains in the authoritative blocklist.",
	})

	// DomainsRemote is the size of the appliance set before changes.
	DomainsRemote = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "domains_remote",
		Help:      "Number of policy items found on the appliance before reconciliation.",
	})

	// ItemsTotal counts item operations by action (add, remove) and status.
	ItemsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "items_total",
		Help:      "Policy item operations by action and status.",
	}, []string{"action", "status"})

	// DeploymentsTotal counts deployment requests by status.
	DeploymentsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "deployments_total",
		Help:      "Deployment requests by status.",
	}, []string{"status"})

	// ZoneFileWritesTotal counts zone file publications by status.
	ZoneFileWritesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "zonefile_writes_total",
		Help:      "Zone file publications by status.",
	}, []string{"status"})

	// ZoneFileSerial is the serial of the last published zone file.
	ZoneFileSerial = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "zonefile_serial",
		Help:      "SOA serial of the last published zone file.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// SetBuildInfo records the build version.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// ObserveRun records one finished run.
func ObserveRun(outcome string, d time.Duration) {
	RunsTotal.WithLabelValues(outcome).Inc()
	RunDuration.Observe(d.Seconds())
	if outcome == "success" {
		LastSuccess.SetToCurrentTime()
	}
}

// Push sends the registry to a Pushgateway under the given job name.
// It is used by one-shot runs that exit before a scrape could happen.
func Push(url, job string) error {
	if err := push.New(url, job).Gatherer(Registry).Push(); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
