// Package metrics defines the Prometheus instruments shared by the scheduler
// tasks and the HTTP layer. Everything is registered on the default registry
// and served by promhttp in both processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsAdmitted counts jobs the sender picked up from the queue.
	JobsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_jobs_admitted_total",
		Help: "Queued jobs admitted by the sender under the per-user/per-service limits.",
	})

	// Uploads counts destination uploads by outcome.
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_uploads_total",
		Help: "Destination uploads performed by the sender, by outcome.",
	}, []string{"outcome"})

	// Downloads counts destination downloads by outcome.
	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_downloads_total",
		Help: "Destination downloads performed by the getter, by outcome.",
	}, []string{"outcome"})

	// CleanedDirs counts artifact directories removed by the janitor.
	CleanedDirs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_cleaned_dirs_total",
		Help: "Artifact directories removed by the janitor after exceeding max age.",
	})

	// DataRootUsedBytes reports disk usage of the filesystem holding the
	// data root, sampled once per janitor sweep.
	DataRootUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_data_root_used_bytes",
		Help: "Used bytes on the filesystem holding the artifact data root.",
	})

	// PayloadRuns counts payload executions on the client, by outcome.
	PayloadRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_payload_runs_total",
		Help: "Payload script executions performed by the runner, by outcome.",
	}, []string{"outcome"})
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeNotReady = "not_ready"
)
