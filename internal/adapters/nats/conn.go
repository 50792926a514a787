package natsadapter

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects and stream used by the elevation pipeline.
const (
	SubjectResample      = "elevation.resample"
	QueueResamplers      = "resamplers"
	SubjectProgressPfx   = "elevation.progress."
	SubjectCompletedPfx  = "elevation.profile."
	StreamProfiles       = "ELEVATION_PROFILES"
	defaultRequestWindow = 2 * time.Minute
)

// Connect opens a NATS connection that keeps reconnecting in the background.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// ProgressSubject is the subject progress events of a request go to.
func ProgressSubject(requestID string) string { return SubjectProgressPfx + requestID }

// CompletedSubject is the subject the completion event of a request goes to.
func CompletedSubject(requestID string) string { return SubjectCompletedPfx + requestID }
