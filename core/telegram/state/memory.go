package state

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/m3rciful/checklistbot/core/logger"
)

// DefaultCapacity bounds the number of sessions kept by NewMemoryManager when capacity <= 0.
const DefaultCapacity = 10000

// MemoryOptions configures NewMemoryManager.
type MemoryOptions[T any] struct {
	// Initial is the state assigned to fresh sessions; StateIdle when empty.
	Initial State
	// NewData builds the zero data for a fresh session.
	NewData func() T
	// Capacity is the maximum number of sessions; least recently used ones are evicted.
	Capacity int
}

type memoryManager[T any] struct {
	initial  State
	newData  func() T
	sessions *lru.Cache[int64, *Session[T]]
}

// NewMemoryManager constructs an in-memory Manager backed by an LRU cache.
// Sessions do not survive a process restart.
func NewMemoryManager[T any](opts MemoryOptions[T]) (Manager[T], error) {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	initial := opts.Initial
	if initial == "" {
		initial = StateIdle
	}
	newData := opts.NewData
	if newData == nil {
		newData = func() T {
			var zero T
			return zero
		}
	}

	cache, err := lru.NewWithEvict[int64, *Session[T]](capacity, func(userID int64, _ *Session[T]) {
		logger.Debug(context.Background(), "tg", "session.evicted",
			slog.Int64("user_id", userID),
		)
	})
	if err != nil {
		return nil, err
	}
	return &memoryManager[T]{
		initial:  initial,
		newData:  newData,
		sessions: cache,
	}, nil
}

func (m *memoryManager[T]) fresh(userID int64) *Session[T] {
	return &Session[T]{UserID: userID, State: m.initial, Data: m.newData()}
}

// Get returns the session for a user, creating and storing a fresh one if none exists.
func (m *memoryManager[T]) Get(userID int64) *Session[T] {
	if session, ok := m.sessions.Get(userID); ok {
		return session
	}
	session := m.fresh(userID)
	// Another goroutine may have stored a session in between; keep the first one.
	if prev, ok, _ := m.sessions.PeekOrAdd(userID, session); ok {
		return prev
	}
	return session
}

// Reset replaces the user's session with a fresh one.
func (m *memoryManager[T]) Reset(userID int64) *Session[T] {
	session := m.fresh(userID)
	m.sessions.Add(userID, session)
	return session
}

// InProgress reports whether the user has a stored session.
func (m *memoryManager[T]) InProgress(userID int64) bool {
	return m.sessions.Contains(userID)
}

// Len returns the number of stored sessions.
func (m *memoryManager[T]) Len() int {
	return m.sessions.Len()
}
