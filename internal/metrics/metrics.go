package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttemptsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exam_gateway",
		Name:      "attempts_generated_total",
		Help:      "Exam generation requests by outcome.",
	}, []string{"result"})

	AttemptsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exam_gateway",
		Name:      "attempts_started_total",
		Help:      "Attempt start requests by outcome.",
	}, []string{"result"})

	AnswersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exam_gateway",
		Name:      "answers_submitted_total",
		Help:      "Answers delivered to the exam service, by path and outcome.",
	}, []string{"path", "result"})

	Finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exam_gateway",
		Name:      "finalizations_total",
		Help:      "Finalization attempts by outcome.",
	}, []string{"result"})

	ResultsLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exam_gateway",
		Name:      "results_loads_total",
		Help:      "Results loads by source (cache, remote) and outcome.",
	}, []string{"source", "result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "exam_gateway",
		Name:      "active_sessions",
		Help:      "Attempt sessions currently held in memory.",
	})
)

// Outcome labels.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultRefused = "refused"
	ResultLoading = "loading"
)
