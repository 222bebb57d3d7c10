package router

import (
	tg "github.com/m3rciful/checklistbot/core/telegram"
	tghelpers "github.com/m3rciful/checklistbot/core/telegram/helpers"
	"github.com/m3rciful/checklistbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// FSM is the conversation engine messages are routed to while the sender has
// a session.
type FSM interface {
	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// MessageOptions controls fallback behaviour for text and photo updates.
type MessageOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownPhoto tele.HandlerFunc
}

// MessageRoutes builds the OnText and OnPhoto routes. Messages from users with
// a session go to the FSM; other text is matched against registered commands
// and then falls back to the registry or UnknownText.
func MessageRoutes(fsm FSM, reg *tg.Registry, opts MessageOptions) []tg.Route {
	inProgress := func(c tele.Context) bool {
		return fsm != nil && fsm.InProgress(tghelpers.SenderID(c))
	}

	textHandler := func(c tele.Context) error {
		if inProgress(c) {
			return handleWithSummary(c, "fsm", func() error {
				return fsm.ManagerHandler(c)
			})
		}

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), func() error {
					return cmd.Handler(c)
				})
			}
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", func() error {
				return opts.UnknownText(c)
			})
		}

		logSkipped(c, "unknown_text")
		return nil
	}

	photoHandler := func(c tele.Context) error {
		if inProgress(c) {
			return handleWithSummary(c, "fsm_photo", func() error {
				return fsm.ManagerHandler(c)
			})
		}
		if opts.UnknownPhoto != nil {
			return handleWithSummary(c, "unexpected_photo", func() error {
				return opts.UnknownPhoto(c)
			})
		}
		logSkipped(c, "unexpected_photo")
		return nil
	}

	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(textHandler)},
		{Endpoint: tele.OnPhoto, Handler: wrap(photoHandler)},
	}
}
