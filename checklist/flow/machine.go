// Package flow implements the per-user conversation that collects a checklist
// report and hands it to the analysis service.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/m3rciful/checklistbot/checklist/archive"
	"github.com/m3rciful/checklistbot/checklist/report"
	"github.com/m3rciful/checklistbot/core/logger"
	"github.com/m3rciful/checklistbot/core/telegram/state"
)

// Conversation states.
const (
	StateAwaitingLocation state.State = "awaiting_location"
	StateAwaitingAnswer   state.State = "awaiting_checklist_answer"
	StateAwaitingComment  state.State = "awaiting_comment"
	StateAwaitingPhoto    state.State = "awaiting_photo"
)

const component = "service.checklist"

// EventKind classifies inbound messages.
type EventKind int

const (
	// EventStart is an explicit restart command, valid in any state.
	EventStart EventKind = iota + 1
	// EventText is a plain text message.
	EventText
	// EventPhoto is a photo message; PhotoID refers to the largest size.
	EventPhoto
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventText:
		return "text"
	case EventPhoto:
		return "photo"
	}
	return "unknown"
}

// Event is one inbound message from the transport.
type Event struct {
	UserID  int64
	Kind    EventKind
	Text    string
	PhotoID string
}

// Transport delivers outbound messages for the user that sent the current event.
type Transport interface {
	// Prompt sends text with optional quick replies. clear removes any quick
	// replies shown earlier when options is empty.
	Prompt(ctx context.Context, text string, options []string, clear bool) error
	// Send sends a plain text message.
	Send(ctx context.Context, text string) error
	// PhotoURL resolves an uploaded photo to a URL the analysis service can fetch.
	PhotoURL(ctx context.Context, photoID string) (string, error)
}

// Analyzer evaluates a rendered report with its photos.
type Analyzer interface {
	Analyze(ctx context.Context, text string, photoURLs []string) (string, error)
}

// Archiver stores finished reports.
type Archiver interface {
	Save(ctx context.Context, e archive.Entry) (int64, error)
}

// Metrics receives checklist counters.
type Metrics interface {
	ObserveVerdict(verdict string)
	ObservePhoto()
	ObserveCycle(analysisOK bool, took time.Duration)
}

// Options wires the Machine's collaborators.
type Options struct {
	Locations int
	Items     int
	Store     state.Manager[*report.Report]
	Analyzer  Analyzer
	// Archive and Metrics are optional.
	Archive Archiver
	Metrics Metrics
}

type stepFunc func(ctx context.Context, sess *session, ev Event, out Transport, rec *pending) error

// Machine interprets inbound events against each user's session.
type Machine struct {
	items     int
	locations []string
	store     state.Manager[*report.Report]
	analyzer  Analyzer
	archive   Archiver
	metrics   Metrics
	steps     map[state.State]stepFunc
	locks     userLocks
}

// NewStore builds the session store the Machine expects: fresh sessions start
// in StateAwaitingLocation with an empty report of the given length.
func NewStore(items, capacity int) (state.Manager[*report.Report], error) {
	return state.NewMemoryManager(state.MemoryOptions[*report.Report]{
		Initial:  StateAwaitingLocation,
		NewData:  func() *report.Report { return report.New(items) },
		Capacity: capacity,
	})
}

// New validates options and builds a Machine.
func New(opts Options) (*Machine, error) {
	if opts.Locations < 1 {
		return nil, fmt.Errorf("flow: locations must be >= 1, got %d", opts.Locations)
	}
	if opts.Items < 1 {
		return nil, fmt.Errorf("flow: items must be >= 1, got %d", opts.Items)
	}
	if opts.Store == nil {
		return nil, errors.New("flow: nil session store")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("flow: nil analyzer")
	}
	m := &Machine{
		items:     opts.Items,
		locations: LocationLabels(opts.Locations),
		store:     opts.Store,
		analyzer:  opts.Analyzer,
		archive:   opts.Archive,
		metrics:   opts.Metrics,
		locks:     userLocks{m: make(map[int64]*userLock)},
	}
	m.steps = map[state.State]stepFunc{
		StateAwaitingLocation: m.onLocation,
		StateAwaitingAnswer:   m.onAnswer,
		StateAwaitingComment:  m.onComment,
		StateAwaitingPhoto:    m.onPhoto,
	}
	return m, nil
}

// InProgress reports whether the user has a session.
func (m *Machine) InProgress(userID int64) bool {
	return m.store.InProgress(userID)
}

// Handle processes one event. Events of the same user are handled one at a
// time in arrival order. Failures are reported to the user through out; the
// returned error is for logging only. A failed step leaves the session as it
// was before the event so the operator can resend the same input.
func (m *Machine) Handle(ctx context.Context, ev Event, out Transport) error {
	unlock := m.locks.lock(ev.UserID)
	defer unlock()

	if ev.Kind == EventStart {
		return m.start(ctx, ev, out)
	}

	sess := m.store.Get(ev.UserID)
	ctx = logger.WithState(ctx, string(sess.State))
	step, ok := m.steps[sess.State]
	if !ok {
		logger.Warn(ctx, component, "checklist.ignored",
			slog.String("cause", "no_step"),
			slog.String("operation", ev.Kind.String()),
		)
		return nil
	}

	snapshot := snapshotOf(sess)
	var rec pending
	err := safeStep(ctx, step, sess, ev, out, &rec)
	var done *committedError
	switch {
	case err == nil:
		m.commit(&rec)
	case errors.As(err, &done):
		m.commit(&rec)
		m.report(ctx, out, err)
	default:
		snapshot.restore(sess)
		m.report(ctx, out, err)
	}
	return err
}

// safeStep runs step and converts a panic into an error.
func safeStep(ctx context.Context, step stepFunc, sess *session, ev Event, out Transport, rec *pending) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, component, "checklist.panic",
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("flow: panic: %v", r)
		}
	}()
	return step(ctx, sess, ev, out, rec)
}

func (m *Machine) report(ctx context.Context, out Transport, err error) {
	kind, text := userMessage(err)
	logger.Warn(ctx, component, "checklist.failure",
		slog.String("status", "fail"),
		slog.String("error_kind", kind),
		logger.Err(err),
	)
	if sendErr := out.Send(ctx, text); sendErr != nil {
		logger.Error(ctx, component, "checklist.failure.notify",
			slog.String("status", "fail"),
			logger.Err(sendErr),
		)
	}
}

func (m *Machine) start(ctx context.Context, ev Event, out Transport) error {
	m.store.Reset(ev.UserID)
	ctx = logger.WithState(ctx, string(StateAwaitingLocation))
	logger.Info(ctx, component, "checklist.start", slog.String("status", "ok"))

	if err := out.Send(ctx, msgGreeting); err != nil {
		err = transportErr("send", err)
		m.report(ctx, out, err)
		return err
	}
	if err := m.promptLocation(ctx, out); err != nil {
		m.report(ctx, out, err)
		return err
	}
	return nil
}

func (m *Machine) promptLocation(ctx context.Context, out Transport) error {
	return transportErr("send", out.Prompt(ctx, msgChooseLocation, m.locations, false))
}

func (m *Machine) promptItem(ctx context.Context, item int, out Transport) error {
	return transportErr("send", out.Prompt(ctx, itemPrompt(item), []string{LabelAllClear, LabelLeaveComment}, false))
}

func (m *Machine) ignored(ctx context.Context, ev Event, cause string) {
	logger.Debug(ctx, component, "checklist.ignored",
		slog.String("cause", cause),
		slog.String("operation", ev.Kind.String()),
		slog.String("payload", logger.SanitizeLimit(ev.Text, 64)),
	)
}

// pending collects metric updates of a step. They are applied only when the
// step is kept, so a rolled back and resent input is counted once.
type pending struct {
	fns []func(Metrics)
}

func (p *pending) add(fn func(Metrics)) {
	p.fns = append(p.fns, fn)
}

func (m *Machine) commit(p *pending) {
	if m.metrics == nil {
		return
	}
	for _, fn := range p.fns {
		fn(m.metrics)
	}
}

type sessionSnapshot struct {
	state state.State
	data  *report.Report
}

func snapshotOf(sess *session) sessionSnapshot {
	return sessionSnapshot{state: sess.State, data: sess.Data.Clone()}
}

func (s sessionSnapshot) restore(sess *session) {
	sess.State = s.state
	sess.Data = s.data
}
