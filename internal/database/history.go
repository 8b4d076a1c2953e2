// Package database persists per-request query history for diagnostics.
// Writes are buffered and flushed in batches so the hot path never waits on
// the database; a failed flush is logged and retried on the next interval.
package database

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	"raggate-api/internal/shared"

	"go.uber.org/zap"
)

// QueryRecord is one completed request.
type QueryRecord struct {
	RequestID        string
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
	TimeToFirstToken time.Duration
	TotalTime        time.Duration
	Degraded         bool
	Canceled         bool
	CreatedAt        time.Time
}

// History buffers query records and flushes them on an interval and at
// shutdown. A nil *History is valid and records nothing, which is how the
// feature stays off when no DSN is configured.
type History struct {
	db  *sql.DB
	log *zap.SugaredLogger

	mu  sync.Mutex
	buf []QueryRecord

	done chan struct{}
	wg   sync.WaitGroup
}

func NewHistory(db *sql.DB, log *zap.SugaredLogger) *History {
	h := &History{
		db:   db,
		log:  log,
		buf:  make([]QueryRecord, 0, shared.HistoryBufferSize),
		done: make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *History) run() {
	defer h.wg.Done()
	ticker := time.NewTicker(shared.HistoryFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Flush()
		case <-h.done:
			h.Flush()
			return
		}
	}
}

// Record appends one row to the buffer. Never blocks on the database.
func (h *History) Record(rec QueryRecord) {
	if h == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	h.mu.Lock()
	h.buf = append(h.buf, rec)
	full := len(h.buf) >= shared.HistoryBufferSize
	h.mu.Unlock()
	if full {
		go h.Flush()
	}
}

// Flush writes the buffered records in one multi-value insert. On failure
// the records are put back so the next interval retries them.
func (h *History) Flush() {
	h.mu.Lock()
	batch := h.buf
	h.buf = make([]QueryRecord, 0, shared.HistoryBufferSize)
	h.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	sqlStr := `INSERT INTO query_history (
		request_id, model, provider,
		prompt_tokens, completion_tokens,
		time_to_first_token, total_time,
		degraded, canceled, created_at
	) VALUES ` + strings.TrimSuffix(strings.Repeat("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?),", len(batch)), ",")

	vals := make([]any, 0, len(batch)*10)
	for _, rec := range batch {
		vals = append(vals,
			rec.RequestID, rec.Model, rec.Provider,
			rec.PromptTokens, rec.CompletionTokens,
			rec.TimeToFirstToken.Milliseconds(), rec.TotalTime.Milliseconds(),
			rec.Degraded, rec.Canceled, rec.CreatedAt,
		)
	}

	if _, err := h.db.Exec(sqlStr, vals...); err != nil {
		h.log.Errorw("failed flushing query history, requeueing", "error", err, "rows", len(batch))
		h.mu.Lock()
		h.buf = append(batch, h.buf...)
		h.mu.Unlock()
	}
}

// Shutdown stops the flusher after a final flush.
func (h *History) Shutdown() {
	if h == nil {
		return
	}
	close(h.done)
	h.wg.Wait()
}
