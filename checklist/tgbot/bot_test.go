package tgbot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/checklistbot/checklist/archive"
	"github.com/m3rciful/checklistbot/checklist/flow"
	"github.com/m3rciful/checklistbot/checklist/report"
	coreconfig "github.com/m3rciful/checklistbot/core/config"

	tele "gopkg.in/telebot.v4"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(context.Context, string, []string) (string, error) { return "ok", nil }

type stubFiles struct {
	file tele.File
	err  error
	ids  []string
}

func (s *stubFiles) FileByID(id string) (tele.File, error) {
	s.ids = append(s.ids, id)
	return s.file, s.err
}

func newContext(t *testing.T, msg *tele.Message) tele.Context {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true})
	if err != nil {
		t.Fatalf("offline bot: %v", err)
	}
	return b.NewContext(tele.Update{ID: 7, Message: msg})
}

func newBot(t *testing.T) *Bot {
	t.Helper()
	store, err := flow.NewStore(2, 16)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	m, err := flow.New(flow.Options{Locations: 2, Items: 2, Store: store, Analyzer: stubAnalyzer{}})
	if err != nil {
		t.Fatalf("machine: %v", err)
	}
	b, err := New(Options{
		Config:  &coreconfig.Config{Telegram: coreconfig.TelegramConfig{Token: "T0K", AdminID: 1}},
		Machine: m,
	})
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	return b
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := New(Options{Config: &coreconfig.Config{}}); err == nil {
		t.Fatal("expected error for nil machine")
	}
}

func TestCommandsRegistered(t *testing.T) {
	b := newBot(t)
	if _, cmd, ok := b.reg.LookupCommand("/start"); !ok || cmd.AdminOnly {
		t.Fatalf("start command missing or admin-only: %v", ok)
	}
	if _, cmd, ok := b.reg.LookupCommand("/history"); !ok || !cmd.AdminOnly {
		t.Fatal("history must be admin-only")
	}
	if b.reg.TextFallback() == nil {
		t.Fatal("text fallback not set")
	}
	if b.apiURL != tele.DefaultApiURL {
		t.Fatalf("api url = %q", b.apiURL)
	}
}

func TestTelegramRunOptions(t *testing.T) {
	b := newBot(t)
	opts, err := b.TelegramRunOptions()
	if err != nil {
		t.Fatalf("run options: %v", err)
	}
	if opts.DispatcherOptions.Workers != 1 || opts.DispatcherOptions.MaxRetries != 0 {
		t.Fatalf("dispatcher options = %+v", opts.DispatcherOptions)
	}
	endpoints := map[string]bool{}
	for _, r := range opts.Routes {
		if s, ok := r.Endpoint.(string); ok {
			endpoints[s] = true
		}
	}
	for _, want := range []string{"/start", "/restart", "/history", tele.OnText, tele.OnPhoto} {
		if !endpoints[want] {
			t.Fatalf("missing route %q in %v", want, endpoints)
		}
	}
	if len(opts.Middlewares) == 0 {
		t.Fatal("no middlewares")
	}
}

func TestInProgressFollowsMachine(t *testing.T) {
	b := newBot(t)
	if b.InProgress(42) {
		t.Fatal("unknown user reported in progress")
	}
}

func TestEventFromText(t *testing.T) {
	c := newContext(t, &tele.Message{
		Sender: &tele.User{ID: 5},
		Chat:   &tele.Chat{ID: 5},
		Text:   "Location 2",
	})
	ev := eventFrom(c)
	if ev.UserID != 5 || ev.Kind != flow.EventText || ev.Text != "Location 2" || ev.PhotoID != "" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestEventFromPhoto(t *testing.T) {
	c := newContext(t, &tele.Message{
		Sender: &tele.User{ID: 6},
		Chat:   &tele.Chat{ID: 6},
		Photo:  &tele.Photo{File: tele.File{FileID: "AgAD"}},
	})
	ev := eventFrom(c)
	if ev.Kind != flow.EventPhoto || ev.PhotoID != "AgAD" || ev.Text != "" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestPhotoURL(t *testing.T) {
	files := &stubFiles{file: tele.File{FileID: "x", FilePath: "photos/file_1.jpg"}}
	tr := newTransport(nil, files, "https://api.example.org/", "T0K")
	got, err := tr.PhotoURL(context.Background(), "x")
	if err != nil {
		t.Fatalf("photo url: %v", err)
	}
	if got != "https://api.example.org/file/botT0K/photos/file_1.jpg" {
		t.Fatalf("url = %q", got)
	}
	if len(files.ids) != 1 || files.ids[0] != "x" {
		t.Fatalf("ids = %v", files.ids)
	}
}

func TestPhotoURLNotFound(t *testing.T) {
	cases := map[string]*stubFiles{
		"empty path": {file: tele.File{FileID: "x"}},
		"api 400":    {err: &tele.Error{Code: 400, Description: "Bad Request: invalid file_id"}},
		"api 404":    {err: &tele.Error{Code: 404, Description: "Not Found"}},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			tr := newTransport(nil, files, tele.DefaultApiURL, "T")
			_, err := tr.PhotoURL(context.Background(), "x")
			if !errors.Is(err, flow.ErrPhotoNotFound) {
				t.Fatalf("err = %v, want not found", err)
			}
		})
	}

	tr := newTransport(nil, &stubFiles{}, tele.DefaultApiURL, "T")
	if _, err := tr.PhotoURL(context.Background(), " "); !errors.Is(err, flow.ErrPhotoNotFound) {
		t.Fatalf("blank id err = %v", err)
	}
}

func TestPhotoURLTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	tr := newTransport(nil, &stubFiles{err: boom}, tele.DefaultApiURL, "T")
	_, err := tr.PhotoURL(context.Background(), "x")
	if !errors.Is(err, boom) || errors.Is(err, flow.ErrPhotoNotFound) {
		t.Fatalf("err = %v", err)
	}

	tr = newTransport(nil, &stubFiles{err: &tele.Error{Code: 500, Description: "Internal"}}, tele.DefaultApiURL, "T")
	if _, err := tr.PhotoURL(context.Background(), "x"); errors.Is(err, flow.ErrPhotoNotFound) {
		t.Fatal("server errors must not be reported as missing files")
	}
}

func TestFormatHistory(t *testing.T) {
	if got := FormatHistory(nil); got != msgNoHistory {
		t.Fatalf("empty = %q", got)
	}
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	out := FormatHistory([]archive.Entry{
		{
			ID: 12, UserID: 5, Location: "Location 1", Size: 2,
			Verdicts:   map[int]report.Verdict{1: report.VerdictClear, 2: report.VerdictCommented},
			Photos:     1,
			Analysis:   "All fine.",
			AnalysisOK: true,
			CreatedAt:  at,
		},
		{ID: 11, UserID: 6, Location: "Location 2", Size: 2, CreatedAt: at},
	})
	for _, want := range []string{
		"#12 2026-03-01 09:30:00, Location 1, user 5",
		"Items: 2/2 answered, 1 commented, 1 photos",
		"Analysis: All fine.",
		"#11",
		"Analysis: failed",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("history missing %q:\n%s", want, out)
		}
	}
}
