// Package archive stores finished checklist reports in Postgres.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/checklistbot/checklist/report"
	"github.com/m3rciful/checklistbot/core/logger"
)

const component = "service.archive"

// Entry is one archived checklist cycle.
type Entry struct {
	ID         int64
	UserID     int64
	Location   string
	Size       int
	Verdicts   map[int]report.Verdict
	Comments   map[int]string
	Photos     int
	Analysis   string
	AnalysisOK bool
	CreatedAt  time.Time
}

// FromReport snapshots a finished report. Photo URLs embed the bot token and
// are therefore stored only as a count.
func FromReport(userID int64, r *report.Report, analysis string, analysisOK bool) Entry {
	verdicts := make(map[int]report.Verdict, len(r.Items))
	for k, v := range r.Items {
		verdicts[k] = v
	}
	comments := make(map[int]string, len(r.Comments))
	for k, v := range r.Comments {
		comments[k] = v
	}
	return Entry{
		UserID:     userID,
		Location:   r.Location,
		Size:       r.Size,
		Verdicts:   verdicts,
		Comments:   comments,
		Photos:     len(r.Photos),
		Analysis:   analysis,
		AnalysisOK: analysisOK,
	}
}

type row struct {
	ID         int64     `db:"id"`
	UserID     int64     `db:"user_id"`
	Location   string    `db:"location"`
	Size       int       `db:"size"`
	Verdicts   string    `db:"verdicts"`
	Comments   string    `db:"comments"`
	Photos     int       `db:"photos"`
	Analysis   string    `db:"analysis"`
	AnalysisOK bool      `db:"analysis_ok"`
	CreatedAt  time.Time `db:"created_at"`
}

// Store persists entries with sqlx.
type Store struct {
	db *sqlx.DB
}

// New wraps an open database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const insertQuery = `
INSERT INTO checklist_reports (user_id, location, size, verdicts, comments, photos, analysis, analysis_ok)
VALUES (:user_id, :location, :size, CAST(:verdicts AS jsonb), CAST(:comments AS jsonb), :photos, :analysis, :analysis_ok)
RETURNING id`

const recentQuery = `
SELECT id, user_id, location, size, verdicts::text AS verdicts, comments::text AS comments,
       photos, analysis, analysis_ok, created_at
FROM checklist_reports
ORDER BY created_at DESC, id DESC
LIMIT $1`

// Save inserts the entry and returns its id.
func (s *Store) Save(ctx context.Context, e Entry) (int64, error) {
	start := time.Now()
	r, err := toRow(e)
	if err != nil {
		return 0, err
	}
	query, args, err := s.db.BindNamed(insertQuery, r)
	if err != nil {
		return 0, fmt.Errorf("archive: bind insert: %w", err)
	}
	var id int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		logger.Error(ctx, component, "archive.save",
			slog.String("status", "fail"),
			logger.Err(err),
		)
		return 0, fmt.Errorf("archive: insert report: %w", err)
	}
	logger.Info(ctx, component, "archive.save",
		slog.String("status", "ok"),
		slog.Int64("report_id", id),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return id, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, recentQuery, limit); err != nil {
		return nil, fmt.Errorf("archive: select recent: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func toRow(e Entry) (row, error) {
	verdicts := make(map[string]string, len(e.Verdicts))
	for k, v := range e.Verdicts {
		verdicts[strconv.Itoa(k)] = string(v)
	}
	comments := make(map[string]string, len(e.Comments))
	for k, v := range e.Comments {
		comments[strconv.Itoa(k)] = v
	}
	vj, err := json.Marshal(verdicts)
	if err != nil {
		return row{}, fmt.Errorf("archive: encode verdicts: %w", err)
	}
	cj, err := json.Marshal(comments)
	if err != nil {
		return row{}, fmt.Errorf("archive: encode comments: %w", err)
	}
	return row{
		ID:         e.ID,
		UserID:     e.UserID,
		Location:   e.Location,
		Size:       e.Size,
		Verdicts:   string(vj),
		Comments:   string(cj),
		Photos:     e.Photos,
		Analysis:   e.Analysis,
		AnalysisOK: e.AnalysisOK,
		CreatedAt:  e.CreatedAt,
	}, nil
}

func fromRow(r row) (Entry, error) {
	var verdicts map[string]string
	if err := json.Unmarshal([]byte(r.Verdicts), &verdicts); err != nil {
		return Entry{}, fmt.Errorf("archive: decode verdicts of %d: %w", r.ID, err)
	}
	var comments map[string]string
	if err := json.Unmarshal([]byte(r.Comments), &comments); err != nil {
		return Entry{}, fmt.Errorf("archive: decode comments of %d: %w", r.ID, err)
	}
	e := Entry{
		ID:         r.ID,
		UserID:     r.UserID,
		Location:   r.Location,
		Size:       r.Size,
		Verdicts:   make(map[int]report.Verdict, len(verdicts)),
		Comments:   make(map[int]string, len(comments)),
		Photos:     r.Photos,
		Analysis:   r.Analysis,
		AnalysisOK: r.AnalysisOK,
		CreatedAt:  r.CreatedAt,
	}
	for k, v := range verdicts {
		item, err := strconv.Atoi(k)
		if err != nil {
			return Entry{}, fmt.Errorf("archive: bad item key %q in %d: %w", k, r.ID, err)
		}
		e.Verdicts[item] = report.Verdict(v)
	}
	for k, v := range comments {
		item, err := strconv.Atoi(k)
		if err != nil {
			return Entry{}, fmt.Errorf("archive: bad item key %q in %d: %w", k, r.ID, err)
		}
		e.Comments[item] = v
	}
	return e, nil
}
