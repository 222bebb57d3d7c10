package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/checklistbot/core/logger"
	"github.com/m3rciful/checklistbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func currentDispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

func sendAsync(c tele.Context, action, endpoint string, run func() error) error {
	disp := currentDispatcher()
	if disp == nil {
		return run()
	}

	ctx := BuildContext(c)
	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				logger.Err(err),
			)
			return run()
		}
		return err
	}
	return nil
}

func sendOpts(opts []*tele.SendOptions) *tele.SendOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return nil
}

// SendText queues raw text (no parse mode) to the current recipient. Errors
// after queuing are only logged by the dispatcher.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	o := sendOpts(opts)
	return sendAsync(c, "send.text", "sendMessage", func() error {
		if o != nil {
			return c.Send(text, o)
		}
		return c.Send(text)
	})
}

// DeliverText sends raw text and waits for the result, retrying transient
// failures through the dispatcher when one is configured.
func DeliverText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	o := sendOpts(opts)
	run := func() error {
		if o != nil {
			return c.Send(text, o)
		}
		return c.Send(text)
	}
	disp := currentDispatcher()
	if disp == nil {
		return run()
	}
	return disp.Do(BuildContext(c), "deliver.text", "sendMessage", run)
}

// WithMarkup wraps reply markup into plain-text send options.
func WithMarkup(markup *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{ReplyMarkup: markup}
}
