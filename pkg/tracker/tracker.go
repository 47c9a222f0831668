package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/homer-bot/homerbot/pkg/models"
)

// Tracker records and queries per-call LLM telemetry.
type Tracker interface {
	// RecordCall stores one call record.
	RecordCall(ctx context.Context, rec models.CallRecord) error
	// Recent returns the newest call records, newest first.
	Recent(ctx context.Context, limit int) ([]models.CallRecord, error)
	// Summary returns per-model aggregates for calls since a given time.
	Summary(ctx context.Context, since time.Time) ([]models.CallSummary, error)
	// Cleanup deletes records created before cutoff.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db        *sql.DB
	retention time.Duration
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ Tracker = (*SQLiteTracker)(nil)

const createTable = `
CREATE TABLE IF NOT EXISTS call_records (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL,
	provider TEXT NOT NULL,
	streaming INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER,
	completion_tokens INTEGER,
	total_tokens INTEGER,
	ttft_seconds REAL,
	duration_ms INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_calls_model_time ON call_records(model, created_at);
CREATE INDEX IF NOT EXISTS idx_calls_time ON call_records(created_at);
`

// New creates a SQLiteTracker and runs auto-migration. When retention is
// positive, records older than retention are pruned hourly.
func New(dbPath string, retention time.Duration) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	t := &SQLiteTracker{db: db, retention: retention, done: make(chan struct{})}
	if retention > 0 {
		t.wg.Add(1)
		go t.retentionLoop()
	}
	return t, nil
}

// RecordCall stores a call record.
func (t *SQLiteTracker) RecordCall(ctx context.Context, rec models.CallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO call_records (id, request_id, model, provider, streaming, prompt_tokens, completion_tokens,
		 total_tokens, ttft_seconds, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.Model, rec.Provider, rec.Streaming,
		nullInt(rec.PromptTokens), nullInt(rec.CompletionTokens), nullInt(rec.TotalTokens),
		nullFloat(rec.TimeToFirstToken), rec.DurationMs, rec.Error, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// Recent returns the newest call records, newest first.
func (t *SQLiteTracker) Recent(ctx context.Context, limit int) ([]models.CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, request_id, model, provider, streaming, prompt_tokens, completion_tokens, total_tokens,
		 ttft_seconds, duration_ms, error, created_at
		 FROM call_records ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var r models.CallRecord
		var prompt, completion, total sql.NullInt64
		var ttft sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Model, &r.Provider, &r.Streaming,
			&prompt, &completion, &total, &ttft, &r.DurationMs, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		r.PromptTokens = intPtr(prompt)
		r.CompletionTokens = intPtr(completion)
		r.TotalTokens = intPtr(total)
		if ttft.Valid {
			v := ttft.Float64
			r.TimeToFirstToken = &v
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary returns per-model aggregates for calls created at or after since.
func (t *SQLiteTracker) Summary(ctx context.Context, since time.Time) ([]models.CallSummary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT model, COUNT(*),
		 SUM(CASE WHEN error != '' THEN 1 ELSE 0 END),
		 COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0),
		 AVG(duration_ms), COALESCE(AVG(ttft_seconds), 0)
		 FROM call_records WHERE created_at >= ?
		 GROUP BY model ORDER BY model`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.CallSummary
	for rows.Next() {
		var s models.CallSummary
		if err := rows.Scan(&s.Model, &s.RequestCount, &s.ErrorCount, &s.TotalPrompt, &s.TotalCompletion,
			&s.TotalTokens, &s.AvgDurationMs, &s.AvgTimeToFirstToken); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Cleanup deletes records created before cutoff.
func (t *SQLiteTracker) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM call_records WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("tracker cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and releases the database connection.
func (t *SQLiteTracker) Close() error {
	close(t.done)
	t.wg.Wait()
	return t.db.Close()
}

func (t *SQLiteTracker) retentionLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			_, _ = t.Cleanup(context.Background(), time.Now().Add(-t.retention))
		}
	}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
