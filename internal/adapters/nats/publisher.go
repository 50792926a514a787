package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kalisio/k2/internal/core/domain"
)

// Publisher implements ports.EventPublisher. Progress is fire-and-forget on
// core NATS; completions are persisted in a JetStream stream so late readers
// (async job status, dashboards) can still see them.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher enables JetStream on conn and ensures the profiles stream.
func NewPublisher(conn *nats.Conn) (*Publisher, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := nats.StreamConfig{
		Name:      StreamProfiles,
		Subjects:  []string{SubjectCompletedPfx + ">"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

func (p *Publisher) PublishProgress(ctx context.Context, ev *domain.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(ProgressSubject(ev.RequestID), data)
}

func (p *Publisher) PublishCompleted(ctx context.Context, ev *domain.ProfileCompleted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(CompletedSubject(ev.RequestID), data, nats.Context(ctx))
	return err
}

// LastCompleted returns the stored completion event of a request, if any.
func (p *Publisher) LastCompleted(ctx context.Context, requestID string) (*domain.ProfileCompleted, error) {
	msg, err := p.js.GetLastMsg(StreamProfiles, CompletedSubject(requestID), nats.Context(ctx))
	if err != nil {
		return nil, err
	}
	var ev domain.ProfileCompleted
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
