package middleware

import (
	"sync/atomic"

	tele "gopkg.in/telebot.v4"
)

const sendStatsKey = "send_stats"

// SendStats counts what a handler sent back for the update.
type SendStats struct {
	Messages atomic.Int32
	Keyboard atomic.Bool
}

// countingContext records successful sends on its SendStats.
type countingContext struct {
	tele.Context
	stats *SendStats
}

func (c countingContext) record(err error, opts []any) error {
	if err != nil {
		return err
	}
	c.stats.Messages.Add(1)
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				c.stats.Keyboard.Store(true)
			}
		case *tele.ReplyMarkup:
			if v != nil {
				c.stats.Keyboard.Store(true)
			}
		}
	}
	return nil
}

func (c countingContext) Send(what any, opts ...any) error {
	return c.record(c.Context.Send(what, opts...), opts)
}

func (c countingContext) Reply(what any, opts ...any) error {
	return c.record(c.Context.Reply(what, opts...), opts)
}

// MessageMetricsMiddleware counts messages sent through the handler's context.
// Sends made from the dispatcher's worker still go through the wrapped
// context, so queued replies are counted once they are delivered.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		stats := &SendStats{}
		c.Set(sendStatsKey, stats)
		return next(countingContext{Context: c, stats: stats})
	}
}

// Stats returns the counters for c, or zero values outside the middleware.
func Stats(c tele.Context) (messages int, keyboard bool) {
	if c == nil {
		return 0, false
	}
	s, ok := c.Get(sendStatsKey).(*SendStats)
	if !ok || s == nil {
		return 0, false
	}
	return int(s.Messages.Load()), s.Keyboard.Load()
}
