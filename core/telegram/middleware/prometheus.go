package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	tele "gopkg.in/telebot.v4"
)

// Instrument counts updates by kind and observes how long the handler chain
// took for each of them.
func Instrument(reg prometheus.Registerer) tele.MiddlewareFunc {
	factory := promauto.With(reg)
	updates := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telegram",
		Name:      "updates_total",
		Help:      "Telegram updates received, by kind and handler outcome.",
	}, []string{"kind", "outcome"})
	latency := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "telegram",
		Name:      "update_duration_seconds",
		Help:      "Time spent handling one update.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"kind"})

	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			kind := UpdateKind(c.Update())
			start := time.Now()
			err := next(c)
			outcome := "ok"
			if err != nil {
				outcome = "fail"
			}
			updates.WithLabelValues(kind, outcome).Inc()
			latency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
