// Package tgbot connects the checklist conversation to Telegram.
package tgbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/m3rciful/checklistbot/checklist/archive"
	"github.com/m3rciful/checklistbot/checklist/flow"
	"github.com/m3rciful/checklistbot/checklist/report"
	coreconfig "github.com/m3rciful/checklistbot/core/config"
	"github.com/m3rciful/checklistbot/core/logger"
	tg "github.com/m3rciful/checklistbot/core/telegram"
	tghelpers "github.com/m3rciful/checklistbot/core/telegram/helpers"
	"github.com/m3rciful/checklistbot/core/telegram/router"
	tgsender "github.com/m3rciful/checklistbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

const (
	msgSendStart      = "Send /start to begin."
	msgAdminOnly      = "This command is only available to the administrator."
	msgNoHistory      = "No reports yet."
	msgHistoryOff     = "Report history is not available: no database is configured."
	msgHistoryFailed  = "Could not load report history."
	msgSlowDown       = "Too many messages, please slow down."
	defaultHistoryLen = 5
)

// Historian lists archived reports.
type Historian interface {
	Recent(ctx context.Context, limit int) ([]archive.Entry, error)
}

// Options wires the Telegram side of the bot.
type Options struct {
	Config  *coreconfig.Config
	Machine *flow.Machine
	// History backs /history; nil disables it.
	History Historian
	// Metrics receives Telegram update metrics; nil disables them.
	Metrics prometheus.Registerer
	// APIURL overrides the Bot API base used for photo download links.
	APIURL string
	// OnStart and OnStop are passed through to the runtime.
	OnStart func(ctx context.Context, rt tg.Runtime) error
	OnStop  func(ctx context.Context, rt tg.Runtime) error
}

// Bot routes Telegram updates into the checklist conversation.
type Bot struct {
	cfg     *coreconfig.Config
	machine *flow.Machine
	history Historian
	metrics prometheus.Registerer
	apiURL  string
	reg     *tg.Registry
	onStart func(ctx context.Context, rt tg.Runtime) error
	onStop  func(ctx context.Context, rt tg.Runtime) error
}

// New builds the bot and registers its commands.
func New(opts Options) (*Bot, error) {
	if opts.Config == nil {
		return nil, errors.New("tgbot: nil config")
	}
	if opts.Machine == nil {
		return nil, errors.New("tgbot: nil machine")
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = tele.DefaultApiURL
	}
	b := &Bot{
		cfg:     opts.Config,
		machine: opts.Machine,
		history: opts.History,
		metrics: opts.Metrics,
		apiURL:  apiURL,
		reg:     tg.NewRegistry(),
		onStart: opts.OnStart,
		onStop:  opts.OnStop,
	}
	b.reg.RegisterCommand("/start", tg.Command{
		Handler:     b.handleStart,
		Description: "Start a new checklist",
		Aliases:     []string{"restart"},
	})
	b.reg.RegisterCommand("/history", tg.Command{
		Handler:     b.handleHistory,
		Description: "Show recent reports",
		AdminOnly:   true,
	})
	b.reg.SetTextFallback(b.handleUnknown)
	return b, nil
}

// TelegramRunOptions assembles middlewares, routes and the sender for the runtime.
func (b *Bot) TelegramRunOptions() (tg.RunOptions, error) {
	routes := router.CommandRoutes(b.reg, router.CommandRouteOptions{
		AdminID:       b.cfg.Telegram.AdminID,
		OnAdminReject: b.reply(msgAdminOnly),
	})
	routes = append(routes, router.MessageRoutes(b, b.reg, router.MessageOptions{
		UnknownText:  b.handleUnknown,
		UnknownPhoto: b.handleUnknown,
	})...)

	return tg.RunOptions{
		Config:   b.cfg,
		Registry: b.reg,
		// One worker keeps queued replies in order. Sends are not repeated;
		// the operator resends input after a failure.
		DispatcherOptions: tgsender.Options{Workers: 1, MaxRetries: 0},
		Middlewares: tg.DefaultMiddlewares(b.cfg, tg.MiddlewareOptions{
			OnLimited: b.reply(msgSlowDown),
			Metrics:   b.metrics,
		}),
		Routes:  routes,
		OnStart: b.onStart,
		OnStop:  b.onStop,
	}, nil
}

// InProgress reports whether the user has a conversation session.
func (b *Bot) InProgress(userID int64) bool {
	return b.machine.InProgress(userID)
}

// ManagerHandler feeds a text or photo message into the conversation.
func (b *Bot) ManagerHandler(c tele.Context) error {
	return b.machine.Handle(tghelpers.BuildContext(c), eventFrom(c), b.transport(c))
}

// eventFrom maps an update to a conversation event. Photos win over text.
func eventFrom(c tele.Context) flow.Event {
	ev := flow.Event{UserID: tghelpers.SenderID(c), Kind: flow.EventText, Text: c.Text()}
	if msg := c.Message(); msg != nil && msg.Photo != nil {
		ev.Kind = flow.EventPhoto
		ev.PhotoID = msg.Photo.FileID
		ev.Text = ""
	}
	return ev
}

func (b *Bot) handleStart(c tele.Context) error {
	ev := flow.Event{UserID: tghelpers.SenderID(c), Kind: flow.EventStart}
	return b.machine.Handle(tghelpers.BuildContext(c), ev, b.transport(c))
}

func (b *Bot) handleUnknown(c tele.Context) error {
	return tghelpers.SendText(c, msgSendStart)
}

func (b *Bot) handleHistory(c tele.Context) error {
	if b.history == nil {
		return tghelpers.SendText(c, msgHistoryOff)
	}
	ctx := tghelpers.BuildContext(c)
	entries, err := b.history.Recent(ctx, defaultHistoryLen)
	if err != nil {
		logger.Error(ctx, "service.archive", "archive.recent",
			slog.String("status", "fail"),
			logger.Err(err),
		)
		_ = tghelpers.SendText(c, msgHistoryFailed)
		return err
	}
	return tghelpers.SendText(c, FormatHistory(entries))
}

func (b *Bot) reply(text string) tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, text)
	}
}

func (b *Bot) transport(c tele.Context) flow.Transport {
	return newTransport(c, c.Bot(), b.apiURL, b.cfg.Telegram.Token)
}

// FormatHistory renders archived reports, newest first, one block per report.
func FormatHistory(entries []archive.Entry) string {
	if len(entries) == 0 {
		return msgNoHistory
	}
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "#%d %s, %s, user %d\n", e.ID, e.CreatedAt.UTC().Format(time.DateTime), e.Location, e.UserID)
		commented := 0
		for _, v := range e.Verdicts {
			if v == report.VerdictCommented {
				commented++
			}
		}
		fmt.Fprintf(&sb, "Items: %d/%d answered, %d commented, %d photos\n", len(e.Verdicts), e.Size, commented, e.Photos)
		if !e.AnalysisOK {
			sb.WriteString("Analysis: failed")
			continue
		}
		sb.WriteString("Analysis: " + logger.SanitizeLimit(e.Analysis, 300))
	}
	return sb.String()
}
