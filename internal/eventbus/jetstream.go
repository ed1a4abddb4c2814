package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/capforge/api/internal/jobs"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// StreamName is the JetStream stream holding job events.
const StreamName = "CAPFORGE_JOBS"

// historyWait bounds the wait for the next stored message when replaying.
const historyWait = 250 * time.Millisecond

// JetStreamPublisher appends job events to a stream so late subscribers can
// replay a job's history.
type JetStreamPublisher struct {
	js nats.JetStreamContext
}

// NewJetStreamPublisher binds to the job event stream, creating it if needed.
func NewJetStreamPublisher(nc *nats.Conn, maxAge time.Duration) (*JetStreamPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := ensureStream(js, maxAge); err != nil {
		return nil, err
	}
	return &JetStreamPublisher{js: js}, nil
}

func ensureStream(js nats.JetStreamContext, maxAge time.Duration) error {
	_, err := js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("lookup stream %s: %w", StreamName, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// Publish implements jobs.EventPublisher. The message id makes redelivered
// publishes of the same event idempotent.
func (p *JetStreamPublisher) Publish(ctx context.Context, e jobs.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(Subject(e))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("%s:%s:%s", e.JobID, e.Type, e.Step))
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	return err
}

// History returns the stored events of one job in publish order.
func (p *JetStreamPublisher) History(ctx context.Context, jobID uuid.UUID) ([]jobs.Event, error) {
	sub, err := p.js.SubscribeSync(
		fmt.Sprintf("%s.%s.*", SubjectPrefix, jobID),
		nats.BindStream(StreamName),
		nats.DeliverAll(),
		nats.AckNone(),
	)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	var events []jobs.Event
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := sub.NextMsg(historyWait)
		if errors.Is(err, nats.ErrTimeout) {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		var e jobs.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)

		if meta, err := msg.Metadata(); err == nil && meta.NumPending == 0 {
			return events, nil
		}
	}
}
