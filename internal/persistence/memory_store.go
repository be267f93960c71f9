package persistence

import (
	"context"
	"sync"

	"github.com/simmerhq/simmer/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of SessionStore and
// EventStore backed by maps. Sessions are stored and returned as deep
// copies, so callers never share mutable state with the store.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*api.Session
	checkpoints map[string][]*Checkpoint
	events      map[string][]api.SessionEvent
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:    make(map[string]*api.Session),
		checkpoints: make(map[string][]*Checkpoint),
		events:      make(map[string][]api.SessionEvent),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ SessionStore = (*InMemoryStore)(nil)

var _ EventStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveSession(ctx context.Context, sess *api.Session) error {
	copied, err := cloneSession(sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = copied
	return nil
}

func (s *InMemoryStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	copied, err := cloneSession(sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[sess.ID] = copied
	return nil
}

func (s *InMemoryStore) GetSession(ctx context.Context, id string) (*api.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(sess)
}

func (s *InMemoryStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*api.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Session
	for _, sess := range s.sessions {
		if filter.RecipeName != "" && sess.RecipeName != filter.RecipeName {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		copied, err := cloneSession(sess)
		if err != nil {
			return nil, err
		}
		result = append(result, copied)
	}
	return result, nil
}

func (s *InMemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.checkpoints, id)
	delete(s.events, id)
	return nil
}

func (s *InMemoryStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	copied, err := cloneCheckpoint(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.SessionID] = append(s.checkpoints[cp.SessionID], copied)
	return nil
}

func (s *InMemoryStore) LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cps := s.checkpoints[sessionID]
	if len(cps) == 0 {
		return nil, ErrCheckpointNotFound
	}

	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.Seq >= latest.Seq {
			latest = cp
		}
	}
	return cloneCheckpoint(latest)
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, ev api.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.SessionID] = append(s.events[ev.SessionID], ev)
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, sessionID string) ([]api.SessionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[sessionID]
	out := make([]api.SessionEvent, len(events))
	copy(out, events)
	return out, nil
}

// cloneSession deep-copies a session through the JSON codec. Context and
// outcome values are JSON values already, so the round trip is exact.
func cloneSession(sess *api.Session) (*api.Session, error) {
	data, err := EncodeValue(sess)
	if err != nil {
		return nil, err
	}
	return DecodeValue[*api.Session](data)
}

func cloneCheckpoint(cp *Checkpoint) (*Checkpoint, error) {
	data, err := EncodeValue(cp)
	if err != nil {
		return nil, err
	}
	return DecodeValue[*Checkpoint](data)
}
