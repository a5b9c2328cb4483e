package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AuthAttemptsTotal counts login, logout and register calls by outcome.
	AuthAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskr",
		Name:      "auth_attempts_total",
		Help:      "Authentication operations by kind and outcome.",
	}, []string{"op", "outcome"})

	// TaskOperationsTotal counts lifecycle operations by kind and outcome.
	TaskOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskr",
		Name:      "task_operations_total",
		Help:      "Task lifecycle operations by kind and outcome.",
	}, []string{"op", "outcome"})

	// AdminOverridesTotal counts mutations an admin made on someone else's task.
	AdminOverridesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskr",
		Name:      "admin_overrides_total",
		Help:      "Task mutations performed by an admin on tasks they do not own.",
	}, []string{"op"})

	// RemindersSentTotal counts reminder deliveries by channel and outcome.
	RemindersSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskr",
		Name:      "reminders_sent_total",
		Help:      "Reminder digests delivered by channel and outcome.",
	}, []string{"channel", "outcome"})

	// LoginThrottledTotal counts login attempts rejected by the limiter.
	LoginThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskr",
		Name:      "login_throttled_total",
		Help:      "Login attempts rejected by the rate limiter.",
	})

	once sync.Once
)

// InitMetrics registers the collectors with the default registry. Safe to call repeatedly.
func InitMetrics() {
	once.Do(func() {
		prometheus.MustRegister(
			AuthAttemptsTotal,
			TaskOperationsTotal,
			AdminOverridesTotal,
			RemindersSentTotal,
			LoginThrottledTotal,
		)
	})
}
