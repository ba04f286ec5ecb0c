package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine-level counters, exported on /metrics by the server.
var (
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regline",
		Name:      "lifecycle_transitions_total",
		Help:      "Lifecycle transition requests by result.",
	}, []string{"result"})

	ReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regline",
		Name:      "assessment_reviews_total",
		Help:      "Assessment review decisions by outcome.",
	}, []string{"outcome"})

	TaskEvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "regline",
		Name:      "task_evaluations_total",
		Help:      "Governance task evaluation runs.",
	})

	TasksAutoCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "regline",
		Name:      "tasks_auto_completed_total",
		Help:      "Governance tasks closed by a satisfied condition.",
	})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regline",
		Name:      "webhook_deliveries_total",
		Help:      "Webhook delivery attempts by result.",
	}, []string{"result"})
)
