// Package metrics exposes the harvester's Prometheus metrics (§6):
// block_process_speed (histogram), current_job (enum gauge), job_count
// (counter), using package-level prometheus vars, an Init() that registers
// them, and small typed helper functions instead of call sites touching
// the prometheus API directly.
package metrics

import (
	"net/http"
	"time"

	"github.com/ledgerwatch/log/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	BlockProcessSpeedName = "block_process_speed"
	CurrentJobName         = "current_job"
	JobCountName           = "job_count"

	// extra gauges/counters beyond the minimal §6 surface, exercising the
	// retry-record and decode-record observability the jobs need.
	DecodeFailuresName = "decode_record_failures_total"
	RetryExhaustedName = "retry_exhausted_total"
)

// Job stage names for the current_job enum gauge (§4.1).
const (
	JobNone             = "-"
	JobStorageTasks     = "storage_tasks"
	JobCron             = "cron"
	JobRetrieveBlocks   = "blocks"
	JobRetrieveState    = "state"
	JobScaleDecode      = "decode"
	JobEtl              = "etl"
)

var allJobs = []string{JobNone, JobStorageTasks, JobCron, JobRetrieveBlocks, JobRetrieveState, JobScaleDecode, JobEtl}

var (
	BlockProcessSpeed = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    BlockProcessSpeedName,
		Help:    "per-block retrieval latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	currentJobGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: CurrentJobName,
		Help: "currently running supervisor stage, one-hot across known stage labels",
	}, []string{"job"})

	JobCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: JobCountName,
		Help: "number of completed supervisor iterations",
	})

	DecodeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: DecodeFailuresName,
		Help: "decode failures by record kind",
	}, []string{"kind"})

	RetryExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RetryExhaustedName,
		Help: "rows that exceeded CRON_RETRY_MAX_ATTEMPTS by record kind",
	}, []string{"kind"})
)

func Init() {
	prometheus.MustRegister(BlockProcessSpeed)
	prometheus.MustRegister(currentJobGauge)
	prometheus.MustRegister(JobCount)
	prometheus.MustRegister(DecodeFailures)
	prometheus.MustRegister(RetryExhausted)
	SetCurrentJob(JobNone)
}

// SetCurrentJob sets the enum gauge to 1 for `job` and 0 for every other
// known stage label, matching the "enum gauge reports the currently running
// stage name (or '-' when idle)" contract in §4.1/§6.
func SetCurrentJob(job string) {
	for _, j := range allJobs {
		if j == job {
			currentJobGauge.WithLabelValues(j).Set(1)
		} else {
			currentJobGauge.WithLabelValues(j).Set(0)
		}
	}
}

// TimeBlock records one observation of BlockProcessSpeed for the duration
// between start and now, matching harvester.py's
// `with self.harvester.prom_block_process_speed.time(): ...`.
func TimeBlock(start time.Time) {
	BlockProcessSpeed.Observe(time.Since(start).Seconds())
}

// ServeHTTP starts the Prometheus scrape endpoint on the given address
// (§6: port 9616) if enabled. It never blocks; failures are logged, not
// fatal, since metrics are an observability sink, not a core dependency.
func ServeHTTP(addr string, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("prometheus endpoint stopped", "err", err)
		}
	}()
	logger.Info("prometheus endpoint listening", "addr", addr)
}
