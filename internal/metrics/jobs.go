package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultOK        = "ok"
	ResultRunning   = "running"
	ResultTransient = "transient"
	ResultTerminal  = "terminal"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytpdf_submissions_total",
			Help: "Conversion submissions by result (ok or submission error kind).",
		},
		[]string{"result"},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytpdf_polls_total",
			Help: "Status polls by result.",
		},
		[]string{"result"},
	)

	jobOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytpdf_job_outcomes_total",
			Help: "Terminal job outcomes by kind.",
		},
		[]string{"kind"},
	)

	pollLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ytpdf_poll_latency_seconds",
			Help:    "Latency of status requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	activePolls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ytpdf_active_polls",
			Help: "Jobs currently being polled.",
		},
	)

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytpdf_audio_uploads_total",
			Help: "Audio uploads by result.",
		},
		[]string{"result"},
	)
)

func IncSubmission(result string) { submissionsTotal.WithLabelValues(norm(result)).Inc() }

func IncPoll(result string) { pollsTotal.WithLabelValues(norm(result)).Inc() }

func IncOutcome(kind string) { jobOutcomesTotal.WithLabelValues(norm(kind)).Inc() }

func IncUpload(result string) { uploadsTotal.WithLabelValues(norm(result)).Inc() }

func ObservePollLatency(d time.Duration) { pollLatency.Observe(d.Seconds()) }

// PollStarted and PollStopped track the active poll gauge.
func PollStarted() { activePolls.Inc() }
func PollStopped() { activePolls.Dec() }
