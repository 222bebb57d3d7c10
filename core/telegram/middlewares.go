package telegram

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coreconfig "github.com/m3rciful/checklistbot/core/config"
	"github.com/m3rciful/checklistbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// MiddlewareOptions tunes DefaultMiddlewares.
type MiddlewareOptions struct {
	OnLimited tele.HandlerFunc
	// Metrics enables update counters when non-nil.
	Metrics prometheus.Registerer
}

// DefaultMiddlewares builds the shared middleware chain: recover, optional
// rate limiting, request logging, optional Prometheus instrumentation and
// message counters for handler summaries.
func DefaultMiddlewares(cfg *coreconfig.Config, opts MiddlewareOptions) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
	}

	if cfg != nil {
		if interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond; interval > 0 {
			ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
			for _, t := range cfg.RateLimit.ExcludeUpdates {
				ex[strings.ToLower(t)] = struct{}{}
			}
			mws = append(mws, Middleware{
				Name: "rate_limit",
				Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
					Interval:  interval,
					Exclude:   ex,
					OnLimited: opts.OnLimited,
				}),
			})
		}
	}

	mws = append(mws, Middleware{Name: "logger", Use: middleware.LoggerMiddleware})
	if opts.Metrics != nil {
		mws = append(mws, Middleware{Name: "prometheus", Use: middleware.Instrument(opts.Metrics)})
	}
	mws = append(mws, Middleware{Name: "metrics", Use: middleware.MessageMetricsMiddleware})
	return mws
}
