package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/store"
)

// Session is one issued API token
type Session struct {
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sessions keeps opaque session tokens in api_sessions.json
type Sessions struct {
	ttl    time.Duration
	now    func() time.Time
	logger *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	writer   *store.Debounced
}

// NewSessions loads the sessions file from data.Dir
func NewSessions(data config.DataConfig, ttl time.Duration, logger *logging.Logger) (*Sessions, error) {
	s := &Sessions{
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.Component("sessions"),
		sessions: make(map[string]*Session),
	}
	file := store.NewFile(data.Dir, store.SessionsFile, logger)
	if _, err := file.Load(&s.sessions); err != nil {
		return nil, err
	}
	s.writer = store.NewDebounced(file, data.Debounce, s.snapshot)
	return s, nil
}

func (s *Sessions) snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.sessions, "", "  ")
}

// Create issues a new token for userID
func (s *Sessions) Create(userID int64) (string, *Session) {
	token := uuid.NewString()
	now := s.now()
	sess := &Session{UserID: userID, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()
	s.writer.MarkDirty()

	s.logger.WithUserID(userID).Info("Session created")
	out := *sess
	return token, &out
}

// Lookup returns the user of a live token. Expired tokens are dropped.
func (s *Sessions) Lookup(token string) (int64, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[token]
	if ok && !s.now().Before(sess.ExpiresAt) {
		delete(s.sessions, token)
		s.mu.Unlock()
		s.writer.MarkDirty()
		return 0, false
	}
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	return sess.UserID, true
}

// Revoke drops token
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	s.writer.MarkDirty()
}

// Prune drops every expired token and returns how many
func (s *Sessions) Prune() int {
	now := s.now()
	n := 0
	s.mu.Lock()
	for token, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, token)
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.writer.MarkDirty()
	}
	return n
}

// Len returns the number of stored tokens
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close flushes the sessions file
func (s *Sessions) Close() error {
	return s.writer.Close()
}
