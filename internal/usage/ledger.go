// Package usage keeps a durable ledger of finished generation runs and their
// token consumption.
package usage

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/capforge/api/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// DB is the subset of pgxpool.Pool the ledger uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Ledger records finished runs in Postgres.
type Ledger struct {
	db     DB
	logger *zap.Logger
}

// NewLedger creates a ledger on db.
func NewLedger(db DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// PromptFingerprint identifies a prompt without storing its text.
func PromptFingerprint(prompt string) string {
	sum := blake2b.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// RecordRun implements jobs.UsageRecorder. Recording the same job twice is a no-op.
func (l *Ledger) RecordRun(ctx context.Context, run models.GenerationRun) error {
	const q = `
		INSERT INTO generation_runs
			(job_id, owner, provider, model, prompt_hash, outcome, iterations,
			 prompt_tokens, completion_tokens, duration_ms, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id) DO NOTHING
	`
	finishedAt := run.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}
	_, err := l.db.Exec(ctx, q,
		run.JobID, run.Owner, run.Provider, run.Model, PromptFingerprint(run.Prompt), run.Outcome,
		run.Iterations, run.Tokens.Prompt, run.Tokens.Completion, run.Duration.Milliseconds(), finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record generation run: %w", err)
	}
	l.logger.Debug("recorded generation run",
		zap.Stringer("job_id", run.JobID),
		zap.String("outcome", run.Outcome),
		zap.Int("total_tokens", run.Tokens.Total()),
	)
	return nil
}

// Total aggregates runs for one provider/model pair.
type Total struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	Runs             int64  `json:"runs"`
	Succeeded        int64  `json:"succeeded"`
	PromptTokens     int64  `json:"promptTokens"`
	CompletionTokens int64  `json:"completionTokens"`
}

// Filter narrows Totals. A zero Since means all time; an empty Owner means everyone.
type Filter struct {
	Since time.Time
	Owner string
}

// Totals sums token usage per provider and model.
func (l *Ledger) Totals(ctx context.Context, f Filter) ([]Total, error) {
	const q = `
		SELECT provider, model, COUNT(*),
		       COUNT(*) FILTER (WHERE outcome = 'success'),
		       COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		FROM generation_runs
		WHERE finished_at >= $1 AND ($2 = '' OR owner = $2)
		GROUP BY provider, model
		ORDER BY provider, model
	`
	rows, err := l.db.Query(ctx, q, f.Since, f.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage totals: %w", err)
	}
	defer rows.Close()

	totals := []Total{}
	for rows.Next() {
		var t Total
		if err := rows.Scan(&t.Provider, &t.Model, &t.Runs, &t.Succeeded, &t.PromptTokens, &t.CompletionTokens); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
