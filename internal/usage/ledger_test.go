package usage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/capforge/api/internal/database"
	"github.com/capforge/api/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPromptFingerprint(t *testing.T) {
	a := PromptFingerprint("show me all my tasks")
	assert.Len(t, a, 64)
	assert.Equal(t, a, PromptFingerprint("show me all my tasks"))
	assert.NotEqual(t, a, PromptFingerprint("show me all my tasks!"))
}

// DATABASE_TEST_URL points at a scratch Postgres database; the test is skipped without it.
func TestLedgerRecordAndTotals(t *testing.T) {
	url := os.Getenv("DATABASE_TEST_URL")
	if url == "" {
		t.Skip("DATABASE_TEST_URL not set")
	}
	logger := zaptest.NewLogger(t)
	require.NoError(t, database.RunMigrations(url, logger))

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, database.LedgerPoolConfig(url, 1, 0), logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	owner := "ledger-test-" + uuid.NewString()
	ledger := NewLedger(db.Pool(), logger)

	first := models.GenerationRun{
		JobID: uuid.New(), Owner: owner, Provider: "openai", Model: "gpt-4o", Prompt: "tasks",
		Outcome: "success", Iterations: 2, Tokens: models.TokenUsage{Prompt: 100, Completion: 40},
		Duration: 3 * time.Second,
	}
	require.NoError(t, ledger.RecordRun(ctx, first))
	require.NoError(t, ledger.RecordRun(ctx, first), "duplicate job ids are ignored")
	require.NoError(t, ledger.RecordRun(ctx, models.GenerationRun{
		JobID: uuid.New(), Owner: owner, Provider: "openai", Model: "gpt-4o",
		Outcome: "failure", Tokens: models.TokenUsage{Prompt: 10, Completion: 5},
	}))

	totals, err := ledger.Totals(ctx, Filter{Owner: owner, Since: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, Total{
		Provider: "openai", Model: "gpt-4o", Runs: 2, Succeeded: 1, PromptTokens: 110, CompletionTokens: 45,
	}, totals[0])

	none, err := ledger.Totals(ctx, Filter{Owner: owner, Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, none)
}
