package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/kalisio/k2/internal/core/domain"
)

// Update is one event of a watched request. Exactly one field is set.
type Update struct {
	Progress  *domain.ProgressEvent    `json:"progress,omitempty"`
	Completed *domain.ProfileCompleted `json:"completed,omitempty"`
}

// Watch relays progress and completion events of one request until the
// completion event arrives or ctx is done. The channel is closed afterwards.
func Watch(ctx context.Context, conn *nats.Conn, requestID string) (<-chan Update, error) {
	msgs := make(chan *nats.Msg, 64)
	progress, err := conn.ChanSubscribe(ProgressSubject(requestID), msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe progress: %w", err)
	}
	completed, err := conn.ChanSubscribe(CompletedSubject(requestID), msgs)
	if err != nil {
		_ = progress.Unsubscribe()
		return nil, fmt.Errorf("subscribe completion: %w", err)
	}

	out := make(chan Update)
	go func() {
		defer close(out)
		defer func() {
			_ = progress.Unsubscribe()
			_ = completed.Unsubscribe()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				u, done := decodeUpdate(msg.Subject, msg.Data)
				if u == nil {
					continue
				}
				select {
				case out <- *u:
				case <-ctx.Done():
					return
				}
				if done {
					return
				}
			}
		}
	}()
	return out, nil
}

// decodeUpdate turns a raw message into an Update; done is true for the
// completion event.
func decodeUpdate(subject string, data []byte) (u *Update, done bool) {
	if strings.HasPrefix(subject, SubjectCompletedPfx) {
		var ev domain.ProfileCompleted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, false
		}
		return &Update{Completed: &ev}, true
	}
	var ev domain.ProgressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, false
	}
	return &Update{Progress: &ev}, false
}
