package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/checklistbot/core/logger"
	tghelpers "github.com/m3rciful/checklistbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// seenUpdates remembers recently logged update ids so that a route wrapped by
// both global and per-route middleware logs its receipt once.
type seenUpdates struct {
	mu      sync.Mutex
	at      map[int]time.Time
	keepFor time.Duration
}

var recent = &seenUpdates{at: make(map[int]time.Time), keepFor: 10 * time.Second}

func (s *seenUpdates) firstTime(updateID int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ts := range s.at {
		if now.Sub(ts) > s.keepFor {
			delete(s.at, id)
		}
	}
	if _, ok := s.at[updateID]; ok {
		return false
	}
	s.at[updateID] = now
	return true
}

// LoggerMiddleware sets the request id and logging context for the update and
// writes one sampled debug receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if _, ok := tghelpers.ContextFrom(c); ok {
			return next(c)
		}

		upd := c.Update()
		chatID, userID := tghelpers.ChatID(c), tghelpers.SenderID(c)
		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set("rid", rid)
		c.Set("update_start", time.Now())

		ctx := logger.WithRID(logger.Background(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
		ctx = logger.WithLogger(ctx, logger.Component("tg"))
		tghelpers.StoreContext(c, ctx)

		if logger.ShouldSampleDebug() && recent.firstTime(upd.ID, time.Now()) {
			attrs := []slog.Attr{
				slog.String("status", "ok"),
				slog.String("operation", UpdateKind(upd)),
			}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
			}
			if user := c.Sender(); user != nil {
				if user.Username != "" {
					attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
				}
				if user.LanguageCode != "" {
					attrs = append(attrs, slog.String("lang", user.LanguageCode))
				}
			}
			if msg := upd.Message; msg != nil {
				switch {
				case msg.Photo != nil:
					attrs = append(attrs, slog.Bool("photo", true))
				case msg.Text != "":
					attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(msg.Text, 256)))
				}
			}
			logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", attrs...)
		}

		return next(c)
	}
}
