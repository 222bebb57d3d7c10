package state

// State identifies a finite-state-machine step used in conversations.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
)

// Session stores conversation state and accumulated data for a user.
type Session[T any] struct {
	UserID int64
	State  State
	Data   T
}

// Manager keeps one session per user id.
// Callers that mutate a session are responsible for serializing access per user.
type Manager[T any] interface {
	// Get returns the user's session, creating a fresh one on first access.
	Get(userID int64) *Session[T]
	// Reset discards the user's session data and returns a fresh session.
	Reset(userID int64) *Session[T]
	// InProgress reports whether a session exists for the user.
	InProgress(userID int64) bool
	// Len returns the number of stored sessions.
	Len() int
}
