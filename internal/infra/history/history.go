// Package history records the exchanges of each conversation served by the
// reference backend so they can be exported later.
package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned for a conversation id with no recorded history.
var ErrNotFound = errors.New("history: conversation not found")

// Exchange is one user turn and the reply to it.
type Exchange struct {
	At                time.Time
	UserInput         string
	AssistantResponse string
	// Template is set when the reply came from an uploaded template.
	Template bool
}

// Conversation is the ordered history of one client id.
type Conversation struct {
	ID        string
	CreatedAt time.Time
	Exchanges []Exchange
}

// Store persists conversations. Implementations are safe for concurrent use.
type Store interface {
	// Begin registers a conversation; it is a no-op for a known id.
	Begin(ctx context.Context, id string, at time.Time) error
	Append(ctx context.Context, id string, ex Exchange) error
	Get(ctx context.Context, id string) (Conversation, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore keeps conversations for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*Conversation)}
}

func (s *MemoryStore) Begin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		s.convs[id] = &Conversation{ID: id, CreatedAt: at}
	}
	return nil
}

func (s *MemoryStore) Append(_ context.Context, id string, ex Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		c = &Conversation{ID: id, CreatedAt: ex.At}
		s.convs[id] = c
	}
	c.Exchanges = append(c.Exchanges, ex)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	out := *c
	out.Exchanges = append([]Exchange(nil), c.Exchanges...)
	sort.SliceStable(out.Exchanges, func(i, j int) bool { return out.Exchanges[i].At.Before(out.Exchanges[j].At) })
	return out, nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs), nil
}

func (s *MemoryStore) Close() error { return nil }
