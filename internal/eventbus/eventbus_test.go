package eventbus

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/capforge/api/internal/jobs"
	"github.com/capforge/api/internal/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSubject(t *testing.T) {
	id := uuid.MustParse("8f14e45f-ceea-467f-a8b1-9a1b2c3d4e5f")
	assert.Equal(t, "capforge.jobs.8f14e45f-ceea-467f-a8b1-9a1b2c3d4e5f.step", Subject(jobs.Event{JobID: id, Type: jobs.EventStep}))
}

// connect dials NATS_TEST_URL; the tests are skipped without it.
func connect(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}
	nc, err := Connect(url, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestPublisherDeliversEvents(t *testing.T) {
	nc := connect(t)
	id := uuid.New()

	sub, err := nc.SubscribeSync(SubjectPrefix + "." + id.String() + ".*")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	p := NewPublisher(nc)
	require.NoError(t, p.Publish(context.Background(), jobs.Event{Type: jobs.EventFinished, JobID: id, Status: models.JobStatusCompleted}))

	msg, err := sub.NextMsg(time.Second)
	require.NoError(t, err)
	var got jobs.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, id, got.JobID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestJetStreamHistory(t *testing.T) {
	nc := connect(t)
	p, err := NewJetStreamPublisher(nc, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	id := uuid.New()
	for _, e := range []jobs.Event{
		{Type: jobs.EventCreated, JobID: id, Status: models.JobStatusRunning},
		{Type: jobs.EventStep, JobID: id, Status: models.JobStatusRunning, Step: "intent"},
		{Type: jobs.EventStep, JobID: id, Status: models.JobStatusRunning, Step: "intent"},
		{Type: jobs.EventFinished, JobID: id, Status: models.JobStatusFailed, Error: "boom"},
	} {
		require.NoError(t, p.Publish(ctx, e))
	}

	history, err := p.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3, "duplicate publish is dropped")
	assert.Equal(t, jobs.EventCreated, history[0].Type)
	assert.Equal(t, "boom", history[2].Error)

	empty, err := p.History(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
