package shoppingagent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-payments/internal/mandate"
	"agent-payments/pkg/apperror"
)

// Session lifecycle states.
const (
	StateCreated       = "created"
	StateCartsReceived = "carts_received"
	StateCartConfirmed = "cart_confirmed"
	StateCompleted     = "completed"
	StateFailed        = "failed"
)

// CartCandidate is one signed cart offered to the user. The list is an
// unordered bag keyed by artifactId.
type CartCandidate struct {
	ArtifactID  string               `json:"artifactId"`
	Name        string               `json:"name"`
	CartMandate *mandate.CartMandate `json:"cart_mandate"`
}

// PaymentOutcome is the terminal result of a session.
type PaymentOutcome struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	ReceiptURL    string `json:"receipt_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Session is the in-memory state of one user action. Nothing persists
// beyond the process: an abandoned session simply ages out of the map.
type Session struct {
	ID         string                 `json:"session_id"`
	UserID     string                 `json:"user_id"`
	State      string                 `json:"state"`
	Intent     *mandate.IntentMandate `json:"intent_mandate,omitempty"`
	Candidates []CartCandidate        `json:"cart_candidates,omitempty"`
	Selected   *mandate.CartMandate   `json:"selected_cart,omitempty"`
	Outcome    *PaymentOutcome        `json:"outcome,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Sessions is the mutex-guarded session table.
type Sessions struct {
	mu sync.RWMutex
	m  map[string]*Session
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*Session)}
}

// Create registers a new session for the user.
func (s *Sessions) Create(userID string, now time.Time) *Session {
	sess := &Session{
		ID:        "sess_" + uuid.NewString(),
		UserID:    userID,
		State:     StateCreated,
		CreatedAt: now,
	}
	s.mu.Lock()
	s.m[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns a copy-free handle to the session. Callers mutate it only
// through Update.
func (s *Sessions) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.m[id]
	if !ok {
		return nil, apperror.ErrNotFound("session")
	}
	return sess, nil
}

// Update applies fn to the session under the table lock.
func (s *Sessions) Update(id string, fn func(*Session) error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	if !ok {
		return nil, apperror.ErrNotFound("session")
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	return sess, nil
}
