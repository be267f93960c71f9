package persistence

import (
	"context"

	"github.com/simmerhq/simmer/pkg/api"
)

// NoopEventStore discards all events. It is the default when history
// recording is not configured.
type NoopEventStore struct{}

var _ EventStore = (*NoopEventStore)(nil)

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.SessionEvent) error {
	return nil
}

func (NoopEventStore) ListEvents(ctx context.Context, sessionID string) ([]api.SessionEvent, error) {
	return nil, nil
}
