// Package audit keeps an opt-in transcript of model call inputs and outputs
// in a dedicated SQLite database.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/homer-bot/homerbot/pkg/models"
)

// Logger writes and queries call transcripts. It satisfies the call recorder
// contract used by the tracer.
type Logger struct {
	db      *sql.DB
	cfg     models.AuditConfig
	done    chan struct{}
	wg      sync.WaitGroup
	include map[string]bool
	exclude map[string]bool
}

// New opens the transcript database and creates the schema.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	inc := make(map[string]bool)
	for _, v := range cfg.Include {
		inc[v] = true
	}
	exc := make(map[string]bool)
	for _, v := range cfg.ExcludeModels {
		exc[v] = true
	}

	l := &Logger{
		db:      db,
		cfg:     cfg,
		done:    make(chan struct{}),
		include: inc,
		exclude: exc,
	}

	if cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS transcripts (
		call_id     TEXT PRIMARY KEY,
		request_id  TEXT NOT NULL DEFAULT '',
		model       TEXT NOT NULL,
		provider    TEXT NOT NULL DEFAULT '',
		input       TEXT NOT NULL DEFAULT '',
		output      TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcripts_model ON transcripts(model)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcripts_request ON transcripts(request_id)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at)`)
	return err
}

// RecordCall stores the transcript of a finished call, respecting the
// include/exclude configuration.
func (l *Logger) RecordCall(ctx context.Context, rec models.CallRecord) error {
	if l == nil || l.db == nil {
		return nil
	}
	if l.exclude[rec.Model] {
		return nil
	}

	var input, output string
	if l.include["prompts"] && len(rec.Input) > 0 {
		b, err := json.Marshal(rec.Input)
		if err != nil {
			return fmt.Errorf("encode transcript input: %w", err)
		}
		input = string(b)
	}
	if l.include["responses"] {
		output = rec.Output
	}

	if l.cfg.MaxBodySize > 0 {
		input = truncate(input, l.cfg.MaxBodySize)
		output = truncate(output, l.cfg.MaxBodySize)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO transcripts
		(call_id, request_id, model, provider, input, output, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.Model, rec.Provider,
		input, output, rec.Error, rec.DurationMs, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// Query returns transcripts matching q, newest first.
func (l *Logger) Query(ctx context.Context, q models.TranscriptQuery) ([]models.Transcript, error) {
	stmt := `SELECT call_id, request_id, model, provider, input, output, error, duration_ms, created_at
		FROM transcripts WHERE 1=1`
	var args []any

	if q.RequestID != "" {
		stmt += " AND request_id = ?"
		args = append(args, q.RequestID)
	}
	if q.Model != "" {
		stmt += " AND model = ?"
		args = append(args, q.Model)
	}
	if !q.Since.IsZero() {
		stmt += " AND created_at >= ?"
		args = append(args, q.Since.UTC())
	}

	stmt += " ORDER BY created_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	stmt += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []models.Transcript
	for rows.Next() {
		var tr models.Transcript
		if err := rows.Scan(
			&tr.CallID, &tr.RequestID, &tr.Model, &tr.Provider,
			&tr.Input, &tr.Output, &tr.Error, &tr.DurationMs, &tr.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Stats returns transcript counts grouped by model and day.
func (l *Logger) Stats(ctx context.Context) ([]models.TranscriptStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, substr(created_at, 1, 10) AS day, count(*) AS cnt
		 FROM transcripts GROUP BY model, day ORDER BY day DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.TranscriptStat
	for rows.Next() {
		var s models.TranscriptStat
		var day sql.NullString
		if err := rows.Scan(&s.Model, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes transcripts older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
