package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/checklistbot/checklist/archive"
	"github.com/m3rciful/checklistbot/checklist/report"
)

type sent struct {
	text    string
	options []string
	clear   bool
}

type fakeTransport struct {
	mu       sync.Mutex
	msgs     []sent
	photos   map[string]string
	photoErr error
	failSend int    // fail the next n sends
	failText string // fail every send of this text
}

func newTransport() *fakeTransport {
	return &fakeTransport{photos: map[string]string{}}
}

func (f *fakeTransport) Prompt(_ context.Context, text string, options []string, clear bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend > 0 {
		f.failSend--
		return errors.New("telegram: 502 bad gateway")
	}
	if f.failText != "" && text == f.failText {
		return errors.New("telegram: 502 bad gateway")
	}
	f.msgs = append(f.msgs, sent{text: text, options: options, clear: clear})
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, text string) error {
	return f.Prompt(ctx, text, nil, false)
}

func (f *fakeTransport) PhotoURL(_ context.Context, id string) (string, error) {
	if f.photoErr != nil {
		return "", f.photoErr
	}
	url, ok := f.photos[id]
	if !ok {
		return "", ErrPhotoNotFound
	}
	return url, nil
}

func (f *fakeTransport) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return sent{}
	}
	return f.msgs[len(f.msgs)-1]
}

func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.text)
	}
	return out
}

type analyzeCall struct {
	text   string
	photos []string
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	calls  []analyzeCall
	result string
	err    error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, text string, photos []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, analyzeCall{text: text, photos: photos})
	return f.result, f.err
}

func (f *fakeAnalyzer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeArchive struct {
	mu      sync.Mutex
	entries []archive.Entry
	err     error
}

func (f *fakeArchive) Save(_ context.Context, e archive.Entry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.entries = append(f.entries, e)
	return int64(len(f.entries)), nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	verdicts map[string]int
	photos   int
	cycles   map[bool]int
}

func newMetrics() *fakeMetrics {
	return &fakeMetrics{verdicts: map[string]int{}, cycles: map[bool]int{}}
}

func (f *fakeMetrics) ObserveVerdict(v string) {
	f.mu.Lock()
	f.verdicts[v]++
	f.mu.Unlock()
}

func (f *fakeMetrics) ObservePhoto() {
	f.mu.Lock()
	f.photos++
	f.mu.Unlock()
}

func (f *fakeMetrics) ObserveCycle(ok bool, _ time.Duration) {
	f.mu.Lock()
	f.cycles[ok]++
	f.mu.Unlock()
}

type harness struct {
	m        *Machine
	analyzer *fakeAnalyzer
	archive  *fakeArchive
	metrics  *fakeMetrics
}

func newHarness(t *testing.T, items int) *harness {
	t.Helper()
	store, err := NewStore(items, 0)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	h := &harness{
		analyzer: &fakeAnalyzer{result: "Looks fine."},
		archive:  &fakeArchive{},
		metrics:  newMetrics(),
	}
	h.m, err = New(Options{
		Locations: 2,
		Items:     items,
		Store:     store,
		Analyzer:  h.analyzer,
		Archive:   h.archive,
		Metrics:   h.metrics,
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	return h
}

func (h *harness) text(t *testing.T, out Transport, user int64, text string) {
	t.Helper()
	_ = h.m.Handle(context.Background(), Event{UserID: user, Kind: EventText, Text: text}, out)
}

func (h *harness) start(t *testing.T, out Transport, user int64) {
	t.Helper()
	if err := h.m.Handle(context.Background(), Event{UserID: user, Kind: EventStart}, out); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func (h *harness) session(user int64) (string, *report.Report) {
	s := h.m.store.Get(user)
	return string(s.State), s.Data
}

func TestEndToEndTwoItems(t *testing.T) {
	h := newHarness(t, 2)
	out := newTransport()
	const user = 42

	h.start(t, out, user)
	if got := out.last(); got.text != msgChooseLocation || !reflect.DeepEqual(got.options, []string{"Location 1", "Location 2"}) {
		t.Fatalf("unexpected location prompt: %+v", got)
	}

	h.text(t, out, user, "Location 1")
	if st, r := h.session(user); st != string(StateAwaitingAnswer) || r.CurrentItem != 1 || r.Location != "Location 1" {
		t.Fatalf("after location: state=%s report=%+v", st, r)
	}
	h.text(t, out, user, "All clear")
	h.text(t, out, user, "Leave comment")
	if st, _ := h.session(user); st != string(StateAwaitingComment) {
		t.Fatalf("expected awaiting comment, got %s", st)
	}
	h.text(t, out, user, "dusty")
	if st, _ := h.session(user); st != string(StateAwaitingPhoto) {
		t.Fatalf("expected awaiting photo, got %s", st)
	}
	h.text(t, out, user, "skip")

	if h.analyzer.count() != 1 {
		t.Fatalf("expected one analysis call, got %d", h.analyzer.count())
	}
	call := h.analyzer.calls[0]
	want := "Location: Location 1\n" +
		"Checklist item 1: clear\n" +
		"Checklist item 2: commented\n" +
		"Comment: dusty\n" +
		report.Instruction
	if call.text != want {
		t.Fatalf("report text:\n%s\nwant:\n%s", call.text, want)
	}
	if len(call.photos) != 0 {
		t.Fatalf("expected no photos, got %v", call.photos)
	}

	texts := out.texts()
	if !containsText(texts, "Report: Looks fine.") {
		t.Fatalf("verdict not relayed: %v", texts)
	}
	if out.last().text != msgChooseLocation {
		t.Fatalf("cycle did not restart: %+v", out.last())
	}
	if st, r := h.session(user); st != string(StateAwaitingLocation) || len(r.Items) != 0 || r.Location != "" {
		t.Fatalf("session not reset: state=%s report=%+v", st, r)
	}

	if len(h.archive.entries) != 1 {
		t.Fatalf("expected one archived report, got %d", len(h.archive.entries))
	}
	e := h.archive.entries[0]
	if e.UserID != user || e.Location != "Location 1" || e.Comments[2] != "dusty" || !e.AnalysisOK {
		t.Fatalf("unexpected archive entry: %+v", e)
	}
	if h.metrics.verdicts["clear"] != 1 || h.metrics.verdicts["commented"] != 1 || h.metrics.cycles[true] != 1 {
		t.Fatalf("unexpected metrics: %+v", h.metrics)
	}
}

func TestPhotoIsAttachedAndAdvances(t *testing.T) {
	h := newHarness(t, 2)
	out := newTransport()
	out.photos["file-1"] = "https://files.test/p1.jpg"
	const user = 7

	h.start(t, out, user)
	h.text(t, out, user, "location 2")
	h.text(t, out, user, "leave comment")
	h.text(t, out, user, "sticky floor")
	if err := h.m.Handle(context.Background(), Event{UserID: user, Kind: EventPhoto, PhotoID: "file-1"}, out); err != nil {
		t.Fatalf("photo: %v", err)
	}
	st, r := h.session(user)
	if st != string(StateAwaitingAnswer) || r.CurrentItem != 2 {
		t.Fatalf("expected item 2, got state=%s item=%d", st, r.CurrentItem)
	}
	if r.Photos[1] != "https://files.test/p1.jpg" {
		t.Fatalf("photo not recorded: %v", r.Photos)
	}
	h.text(t, out, user, "All clear")
	if got := h.analyzer.calls[0].photos; !reflect.DeepEqual(got, []string{"https://files.test/p1.jpg"}) {
		t.Fatalf("photos = %v", got)
	}
	if h.metrics.photos != 1 {
		t.Fatalf("photo metric = %d", h.metrics.photos)
	}
}

func TestAnalysisFailureStillResets(t *testing.T) {
	h := newHarness(t, 1)
	h.analyzer.err = errors.New("backend exploded")
	out := newTransport()
	const user = 1

	h.start(t, out, user)
	h.text(t, out, user, "Location 1")
	h.text(t, out, user, "All clear")

	if !containsText(out.texts(), msgAnalysisFailed) {
		t.Fatalf("fallback text missing: %v", out.texts())
	}
	if st, r := h.session(user); st != string(StateAwaitingLocation) || len(r.Items) != 0 {
		t.Fatalf("session not reset: %s %+v", st, r)
	}
	if len(h.archive.entries) != 1 || h.archive.entries[0].AnalysisOK {
		t.Fatalf("failed analysis should be archived as not ok: %+v", h.archive.entries)
	}
	if h.metrics.cycles[false] != 1 {
		t.Fatalf("failed cycle not counted: %+v", h.metrics.cycles)
	}
}

func TestArchiveFailureDoesNotBreakCycle(t *testing.T) {
	h := newHarness(t, 1)
	h.archive.err = errors.New("db down")
	out := newTransport()

	h.start(t, out, 3)
	h.text(t, out, 3, "Location 1")
	h.text(t, out, 3, "All clear")

	if !containsText(out.texts(), "Report: Looks fine.") {
		t.Fatalf("verdict not relayed: %v", out.texts())
	}
	if st, _ := h.session(3); st != string(StateAwaitingLocation) {
		t.Fatalf("state = %s", st)
	}
}

func TestInvalidInputRepromptsWithoutMutation(t *testing.T) {
	h := newHarness(t, 2)
	out := newTransport()
	const user = 5

	h.start(t, out, user)
	h.text(t, out, user, "Location 9")
	if st, r := h.session(user); st != string(StateAwaitingLocation) || r.Location != "" {
		t.Fatalf("unmatched location mutated session: %s %+v", st, r)
	}
	if out.last().text != msgChooseLocation {
		t.Fatalf("expected location re-prompt, got %+v", out.last())
	}

	h.text(t, out, user, "Location 1")
	h.text(t, out, user, "maybe")
	st, r := h.session(user)
	if st != string(StateAwaitingAnswer) || r.CurrentItem != 1 || len(r.Items) != 0 {
		t.Fatalf("unmatched answer mutated session: %s %+v", st, r)
	}
	if out.last().text != itemPrompt(1) {
		t.Fatalf("expected item re-prompt, got %+v", out.last())
	}

	if err := h.m.Handle(context.Background(), Event{UserID: user, Kind: EventPhoto, PhotoID: "x"}, out); err != nil {
		t.Fatalf("photo while answering: %v", err)
	}
	if st, r := h.session(user); st != string(StateAwaitingAnswer) || len(r.Items) != 0 {
		t.Fatalf("photo mutated session: %s %+v", st, r)
	}
}

func TestCommentedItemWaitsForCommentAndPhotoStep(t *testing.T) {
	h := newHarness(t, 3)
	out := newTransport()
	const user = 9

	h.start(t, out, user)
	h.text(t, out, user, "Location 1")
	h.text(t, out, user, "Leave comment")

	// A photo is not a comment.
	_ = h.m.Handle(context.Background(), Event{UserID: user, Kind: EventPhoto, PhotoID: "x"}, out)
	_, r := h.session(user)
	if r.CurrentItem != 1 {
		t.Fatalf("advanced before comment: %d", r.CurrentItem)
	}
	h.text(t, out, user, "   ")
	if st, r := h.session(user); st != string(StateAwaitingComment) || r.CurrentItem != 1 {
		t.Fatalf("blank comment accepted: %s %d", st, r.CurrentItem)
	}

	h.text(t, out, user, "smudges")
	if st, r := h.session(user); st != string(StateAwaitingPhoto) || r.CurrentItem != 1 {
		t.Fatalf("advanced before photo step: %s %d", st, r.CurrentItem)
	}
	h.text(t, out, user, "no photo")
	if st, r := h.session(user); st != string(StateAwaitingAnswer) || r.CurrentItem != 2 {
		t.Fatalf("expected item 2 after skip: %s %d", st, r.CurrentItem)
	}
}

func TestPhotoFailuresLeaveStateUnchanged(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(*fakeTransport)
		message string
	}{
		{"not found", func(*fakeTransport) {}, msgPhotoNotFound},
		{"transport", func(f *fakeTransport) { f.photoErr = errors.New("telegram: 500") }, msgTransportFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, 2)
			out := newTransport()
			const user = 11

			h.start(t, out, user)
			h.text(t, out, user, "Location 1")
			h.text(t, out, user, "Leave comment")
			h.text(t, out, user, "cracked tile")
			tc.setup(out)

			err := h.m.Handle(context.Background(), Event{UserID: user, Kind: EventPhoto, PhotoID: "missing"}, out)
			if err == nil {
				t.Fatal("expected error")
			}
			if out.last().text != tc.message {
				t.Fatalf("user message = %q, want %q", out.last().text, tc.message)
			}
			st, r := h.session(user)
			if st != string(StateAwaitingPhoto) || r.CurrentItem != 1 || len(r.Photos) != 0 || r.Comments[1] != "cracked tile" {
				t.Fatalf("state changed: %s %+v", st, r)
			}
		})
	}
}

func TestSendFailureRollsBackStep(t *testing.T) {
	h := newHarness(t, 2)
	out := newTransport()
	const user = 12

	h.start(t, out, user)
	out.failSend = 1
	err := h.m.Handle(context.Background(), Event{UserID: user, Kind: EventText, Text: "Location 1"}, out)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if te.Code() != "transport_send" {
		t.Fatalf("code = %s", te.Code())
	}
	if st, r := h.session(user); st != string(StateAwaitingLocation) || r.Location != "" || r.CurrentItem != 0 {
		t.Fatalf("step not rolled back: %s %+v", st, r)
	}
	if out.last().text != msgTransportFailure {
		t.Fatalf("user not notified: %+v", out.last())
	}

	h.text(t, out, user, "Location 1")
	if st, _ := h.session(user); st != string(StateAwaitingAnswer) {
		t.Fatalf("retry failed: %s", st)
	}
}

func TestLocationPromptFailureKeepsFinishedCycle(t *testing.T) {
	h := newHarness(t, 1)
	out := newTransport()
	const user = 21

	h.start(t, out, user)
	h.text(t, out, user, "Location 1")
	out.failText = msgChooseLocation
	err := h.m.Handle(context.Background(), Event{UserID: user, Kind: EventText, Text: "All clear"}, out)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !containsText(out.texts(), "Report: Looks fine.") {
		t.Fatalf("report not delivered: %v", out.texts())
	}
	if out.last().text != msgTransportFailure {
		t.Fatalf("user not notified: %+v", out.last())
	}
	if st, r := h.session(user); st != string(StateAwaitingLocation) || len(r.Items) != 0 {
		t.Fatalf("delivered cycle rolled back: state=%s report=%+v", st, r)
	}

	out.failText = ""
	h.text(t, out, user, "All clear")
	if out.last().text != msgChooseLocation {
		t.Fatalf("expected location prompt, got %+v", out.last())
	}
	if h.analyzer.count() != 1 || len(h.archive.entries) != 1 || h.metrics.cycles[true] != 1 {
		t.Fatalf("cycle repeated: analyses=%d archived=%d cycles=%v",
			h.analyzer.count(), len(h.archive.entries), h.metrics.cycles)
	}
}

func TestReportSendFailureCountsCycleOnce(t *testing.T) {
	h := newHarness(t, 1)
	out := newTransport()
	const user = 22

	h.start(t, out, user)
	h.text(t, out, user, "Location 1")
	out.failText = "Report: Looks fine."
	h.text(t, out, user, "All clear")

	if st, r := h.session(user); st != string(StateAwaitingAnswer) || r.CurrentItem != 1 || len(r.Items) != 0 {
		t.Fatalf("undelivered cycle not rolled back: state=%s report=%+v", st, r)
	}
	if len(h.archive.entries) != 0 || h.metrics.cycles[true] != 0 || h.metrics.verdicts["clear"] != 0 {
		t.Fatalf("rolled back step left side effects: archived=%d metrics=%+v", len(h.archive.entries), h.metrics)
	}

	out.failText = ""
	h.text(t, out, user, "All clear")
	if len(h.archive.entries) != 1 || h.metrics.cycles[true] != 1 || h.metrics.verdicts["clear"] != 1 {
		t.Fatalf("resent cycle: archived=%d metrics=%+v", len(h.archive.entries), h.metrics)
	}
	if h.analyzer.count() != 2 {
		t.Fatalf("analyses = %d, want 2", h.analyzer.count())
	}
}

func TestRestartHasNoLeakage(t *testing.T) {
	h := newHarness(t, 3)
	out := newTransport()
	const user = 13

	h.start(t, out, user)
	h.text(t, out, user, "Location 2")
	h.text(t, out, user, "Leave comment")
	h.text(t, out, user, "old comment")

	h.start(t, out, user)
	st, r := h.session(user)
	if st != string(StateAwaitingLocation) {
		t.Fatalf("state = %s", st)
	}
	if r.Location != "" || len(r.Items) != 0 || len(r.Comments) != 0 || r.CurrentItem != 0 {
		t.Fatalf("report leaked across restart: %+v", r)
	}
	if texts := out.texts(); texts[len(texts)-2] != msgGreeting {
		t.Fatalf("restart greeting missing: %v", texts)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	h := newHarness(t, 2)
	a, b := newTransport(), newTransport()

	h.start(t, a, 1)
	h.start(t, b, 2)
	h.text(t, a, 1, "Location 1")
	h.text(t, b, 2, "Location 2")
	h.text(t, a, 1, "Leave comment")

	if st, r := h.session(2); st != string(StateAwaitingAnswer) || r.Location != "Location 2" || len(r.Items) != 0 {
		t.Fatalf("user 2 affected by user 1: %s %+v", st, r)
	}
}

func TestConcurrentEventsForOneUserAreSerialized(t *testing.T) {
	const items = 5
	h := newHarness(t, items)
	out := newTransport()
	const user = 21

	h.start(t, out, user)
	h.text(t, out, user, "Location 1")

	var wg sync.WaitGroup
	for i := 0; i < items; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.m.Handle(context.Background(), Event{UserID: user, Kind: EventText, Text: LabelAllClear}, out)
		}()
	}
	wg.Wait()

	if got := h.analyzer.count(); got != 1 {
		t.Fatalf("expected exactly one finalize, got %d", got)
	}
	want := fmt.Sprintf("Checklist item %d: clear\n", items)
	if !strings.Contains(h.analyzer.calls[0].text, want) {
		t.Fatalf("report missing last item: %s", h.analyzer.calls[0].text)
	}
	if h.m.locks.size() != 0 {
		t.Fatalf("user locks leaked: %d", h.m.locks.size())
	}
}

func TestConcurrentUsers(t *testing.T) {
	h := newHarness(t, 2)
	const users = 20

	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			out := newTransport()
			ctx := context.Background()
			_ = h.m.Handle(ctx, Event{UserID: user, Kind: EventStart}, out)
			for _, text := range []string{"Location 1", "All clear", "All clear"} {
				_ = h.m.Handle(ctx, Event{UserID: user, Kind: EventText, Text: text}, out)
			}
		}(u)
	}
	wg.Wait()

	if got := h.analyzer.count(); got != users {
		t.Fatalf("analysis calls = %d, want %d", got, users)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	store, _ := NewStore(1, 0)
	cases := []Options{
		{Locations: 0, Items: 1, Store: store, Analyzer: &fakeAnalyzer{}},
		{Locations: 1, Items: 0, Store: store, Analyzer: &fakeAnalyzer{}},
		{Locations: 1, Items: 1, Analyzer: &fakeAnalyzer{}},
		{Locations: 1, Items: 1, Store: store},
	}
	for i, opts := range cases {
		if _, err := New(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(context.Context, string, []string) (string, error) {
	panic("boom")
}

func TestPanicIsReportedAndContained(t *testing.T) {
	store, _ := NewStore(1, 0)
	m, err := New(Options{Locations: 1, Items: 1, Store: store, Analyzer: panickingAnalyzer{}})
	if err != nil {
		t.Fatal(err)
	}
	out := newTransport()
	ctx := context.Background()
	_ = m.Handle(ctx, Event{UserID: 1, Kind: EventStart}, out)
	_ = m.Handle(ctx, Event{UserID: 1, Kind: EventText, Text: "Location 1"}, out)
	if err := m.Handle(ctx, Event{UserID: 1, Kind: EventText, Text: "All clear"}, out); err == nil {
		t.Fatal("expected error from panic")
	}
	if out.last().text != msgUnexpected {
		t.Fatalf("user message = %q", out.last().text)
	}
	if s := store.Get(1); s.State != StateAwaitingAnswer || s.Data.CurrentItem != 1 || len(s.Data.Items) != 0 {
		t.Fatalf("panicking step not rolled back: %s %+v", s.State, s.Data)
	}
	// The lock was released.
	if err := m.Handle(ctx, Event{UserID: 1, Kind: EventStart}, out); err != nil {
		t.Fatalf("restart after panic: %v", err)
	}
}

func containsText(texts []string, want string) bool {
	for _, t := range texts {
		if t == want {
			return true
		}
	}
	return false
}
