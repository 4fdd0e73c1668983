package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/harun/memeagent/internal/observability"
	"github.com/harun/memeagent/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "memeagent.session"

// Store holds conversation checkpoints for the lifetime of the process.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint

	turnLocks map[string]*sync.Mutex
	locksMu   sync.Mutex
}

// NewStore creates an empty checkpoint store.
func NewStore() *Store {
	observability.EnsureRegistered()

	return &Store{
		checkpoints: make(map[string]*Checkpoint),
		turnLocks:   make(map[string]*sync.Mutex),
	}
}

// ValidateSessionKey rejects blank keys and keys with control characters.
// Keys only index memory, so any other text is allowed.
func ValidateSessionKey(sessionKey string) error {
	if strings.TrimSpace(sessionKey) == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.IndexFunc(sessionKey, unicode.IsControl) >= 0 {
		return fmt.Errorf("session key cannot contain control characters")
	}
	return nil
}

// getTurnLock gets or creates the turn lock for a session
func (s *Store) getTurnLock(sessionKey string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.turnLocks[sessionKey]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.turnLocks[sessionKey] = lock
	return lock
}

// Lock serializes turns for a session and returns the matching unlock.
func (s *Store) Lock(sessionKey string) func() {
	lock := s.getTurnLock(sessionKey)
	lock.Lock()
	return lock.Unlock
}

// Load returns a copy of the session checkpoint, or an empty one for a new session.
func (s *Store) Load(ctx context.Context, sessionKey string) (*Checkpoint, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.load", attribute.String("session_key", sessionKey))
	defer span.End()

	if err := ValidateSessionKey(sessionKey); err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}

	s.mu.RLock()
	cp, ok := s.checkpoints[sessionKey]
	s.mu.RUnlock()

	if !ok {
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Debug().
			Str("session_key", sessionKey).
			Msg("Starting new session")
		return &Checkpoint{SessionKey: sessionKey}, nil
	}

	span.SetAttributes(
		attribute.Int("session.messages", len(cp.Messages)),
		attribute.Bool("session.pending", cp.HasPending()),
	)
	return cp.clone(), nil
}

// Save stores a copy of the checkpoint under its session key.
func (s *Store) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is nil")
	}

	_, span := tracing.StartSpan(ctx, tracerName, "session.save",
		attribute.String("session_key", cp.SessionKey),
		attribute.Int("session.messages", len(cp.Messages)),
	)
	defer span.End()

	if err := ValidateSessionKey(cp.SessionKey); err != nil {
		tracing.EndSpan(span, err)
		return err
	}

	stored := cp.clone()
	stored.UpdatedAt = time.Now()

	s.mu.Lock()
	s.checkpoints[cp.SessionKey] = stored
	pending := s.pendingCountLocked()
	s.mu.Unlock()

	observability.SetPendingSessions(pending)
	return nil
}

// PendingCount returns how many sessions are suspended mid-turn.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingCountLocked()
}

func (s *Store) pendingCountLocked() int {
	count := 0
	for _, cp := range s.checkpoints {
		if cp.HasPending() {
			count++
		}
	}
	return count
}
