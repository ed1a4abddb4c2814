// Package eventbus publishes job lifecycle events to NATS, either as plain
// core NATS messages or into a JetStream stream that keeps history.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/capforge/api/internal/jobs"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix roots every job event subject.
const SubjectPrefix = "capforge.jobs"

// Subject returns the subject an event is published on:
// capforge.jobs.<job id>.<event type>.
func Subject(e jobs.Event) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, e.JobID, e.Type)
}

// Connect dials NATS with reconnect logging.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("capforge-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// Publisher sends job events as core NATS messages. Nothing is retained for
// subscribers that are not listening.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher creates a core NATS publisher.
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// Publish implements jobs.EventPublisher.
func (p *Publisher) Publish(_ context.Context, e jobs.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(e), data)
}
