package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/checklistbot/checklist/archive"
	"github.com/m3rciful/checklistbot/checklist/report"
	"github.com/m3rciful/checklistbot/core/logger"
	"github.com/m3rciful/checklistbot/core/telegram/state"
)

type session = state.Session[*report.Report]

func (m *Machine) onLocation(ctx context.Context, sess *session, ev Event, out Transport, _ *pending) error {
	label, ok := "", false
	if ev.Kind == EventText {
		label, ok = matchLabel(ev.Text, m.locations...)
	}
	if !ok {
		m.ignored(ctx, ev, "unknown_location")
		return m.promptLocation(ctx, out)
	}

	sess.Data.SetLocation(label)
	sess.State = StateAwaitingAnswer
	logger.Info(ctx, component, "checklist.location",
		slog.String("status", "ok"),
		slog.String("location", label),
		slog.String("next_state", string(sess.State)),
	)

	if err := out.Prompt(ctx, fmt.Sprintf(msgLocationChosen, label), nil, true); err != nil {
		return transportErr("send", err)
	}
	return m.promptItem(ctx, sess.Data.CurrentItem, out)
}

func (m *Machine) onAnswer(ctx context.Context, sess *session, ev Event, out Transport, rec *pending) error {
	item := sess.Data.CurrentItem
	label, ok := "", false
	if ev.Kind == EventText {
		label, ok = matchLabel(ev.Text, LabelAllClear, LabelLeaveComment)
	}
	if !ok {
		m.ignored(ctx, ev, "unknown_answer")
		return m.promptItem(ctx, item, out)
	}

	verdict := report.VerdictClear
	if label == LabelLeaveComment {
		verdict = report.VerdictCommented
	}
	if err := sess.Data.RecordVerdict(item, verdict); err != nil {
		return fmt.Errorf("record verdict: %w", err)
	}
	rec.add(func(mt Metrics) { mt.ObserveVerdict(string(verdict)) })

	if verdict == report.VerdictCommented {
		sess.State = StateAwaitingComment
		m.logVerdict(ctx, item, verdict, sess.State)
		return transportErr("send", out.Prompt(ctx, msgEnterComment, nil, true))
	}
	m.logVerdict(ctx, item, verdict, sess.State)
	return m.advance(ctx, sess, out, rec)
}

func (m *Machine) onComment(ctx context.Context, sess *session, ev Event, out Transport, _ *pending) error {
	text := strings.TrimSpace(ev.Text)
	if ev.Kind != EventText || text == "" {
		m.ignored(ctx, ev, "empty_comment")
		return transportErr("send", out.Send(ctx, msgEnterComment))
	}
	if err := sess.Data.RecordComment(text); err != nil {
		return fmt.Errorf("record comment: %w", err)
	}
	sess.State = StateAwaitingPhoto
	logger.Info(ctx, component, "checklist.comment",
		slog.String("status", "ok"),
		slog.Int("item", sess.Data.CurrentItem),
		slog.Int("count", len([]rune(text))),
		slog.String("next_state", string(sess.State)),
	)
	return transportErr("send", out.Send(ctx, msgAttachPhoto))
}

func (m *Machine) onPhoto(ctx context.Context, sess *session, ev Event, out Transport, rec *pending) error {
	item := sess.Data.CurrentItem
	if ev.Kind != EventPhoto {
		logger.Info(ctx, component, "checklist.photo",
			slog.String("status", "skip"),
			slog.Int("item", item),
		)
		return m.advance(ctx, sess, out, rec)
	}

	url, err := out.PhotoURL(ctx, ev.PhotoID)
	if err != nil {
		if errors.Is(err, ErrPhotoNotFound) {
			return fmt.Errorf("resolve photo %d: %w", item, err)
		}
		return transportErr("get_file", err)
	}
	if url == "" {
		return fmt.Errorf("resolve photo %d: %w", item, ErrPhotoNotFound)
	}
	if err := sess.Data.RecordPhoto(url); err != nil {
		return fmt.Errorf("record photo: %w", err)
	}
	rec.add(func(mt Metrics) { mt.ObservePhoto() })
	logger.Info(ctx, component, "checklist.photo",
		slog.String("status", "ok"),
		slog.Int("item", item),
	)
	return m.advance(ctx, sess, out, rec)
}

// advance moves to the next item or finalizes the cycle after the last one.
func (m *Machine) advance(ctx context.Context, sess *session, out Transport, rec *pending) error {
	next, done := sess.Data.Advance()
	if done {
		return m.finalize(ctx, sess, out, rec)
	}
	sess.State = StateAwaitingAnswer
	return m.promptItem(ctx, next, out)
}

// finalize renders the report, relays the analysis verdict and restarts the
// cycle. An analysis failure is not an error for the conversation.
func (m *Machine) finalize(ctx context.Context, sess *session, out Transport, rec *pending) error {
	r := sess.Data
	if err := r.Validate(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	payload := r.Render()

	start := time.Now()
	verdict, err := m.analyzer.Analyze(ctx, payload.Text, payload.Photos)
	took := time.Since(start)
	analysisOK := err == nil
	rec.add(func(mt Metrics) { mt.ObserveCycle(analysisOK, took) })

	reply := msgReportPrefix + verdict
	if !analysisOK {
		reply = msgAnalysisFailed
		logger.Warn(ctx, component, "checklist.finalize",
			slog.String("status", "fail"),
			slog.String("error_kind", "analysis"),
			slog.String("location", r.Location),
			slog.Int("photos", len(payload.Photos)),
			slog.Duration("took", logger.RoundMS(took)),
			logger.Err(err),
		)
	} else {
		logger.Info(ctx, component, "checklist.finalize",
			slog.String("status", "ok"),
			slog.String("location", r.Location),
			slog.Int("items", r.Size),
			slog.Int("photos", len(payload.Photos)),
			slog.Duration("took", logger.RoundMS(took)),
		)
	}

	sess.State = StateAwaitingLocation
	sess.Data = report.New(m.items)

	if err := out.Send(ctx, reply); err != nil {
		return transportErr("send", err)
	}
	// The result reached the user: the cycle is done even if the next
	// prompt fails.
	m.saveArchive(ctx, sess.UserID, r, verdict, analysisOK)
	if err := m.promptLocation(ctx, out); err != nil {
		return &committedError{err: err}
	}
	return nil
}

func (m *Machine) saveArchive(ctx context.Context, userID int64, r *report.Report, analysis string, ok bool) {
	if m.archive == nil {
		return
	}
	id, err := m.archive.Save(ctx, archive.FromReport(userID, r, analysis, ok))
	if err != nil {
		logger.Error(ctx, component, "archive.save",
			slog.String("status", "fail"),
			logger.Err(err),
		)
		return
	}
	logger.Debug(ctx, component, "archive.save",
		slog.String("status", "ok"),
		slog.Int64("report_id", id),
	)
}

func (m *Machine) logVerdict(ctx context.Context, item int, v report.Verdict, next state.State) {
	logger.Info(ctx, component, "checklist.verdict",
		slog.String("status", "ok"),
		slog.Int("item", item),
		slog.String("verdict", string(v)),
		slog.String("next_state", string(next)),
	)
}
