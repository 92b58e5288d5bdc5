// Package memory provides an in-memory FlowStore implementation.
// It is suitable for development, testing, and single-instance deployments;
// multi-instance deployments need a shared backend such as storage/valkey.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelhq/dirgate/storage"
)

const defaultCleanupInterval = time.Minute

// Store is an in-memory implementation of storage.FlowStore.
type Store struct {
	mu sync.Mutex

	loginStates   map[string]*storage.LoginState
	redeemedCodes map[string]time.Time // code hash -> mark expiry

	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// New creates a store with a one-minute expiry sweep.
func New() *Store {
	return NewWithInterval(defaultCleanupInterval)
}

// NewWithInterval creates a store with a custom cleanup interval.
// Used by tests to exercise the sweep quickly.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	s := &Store{
		loginStates:   make(map[string]*storage.LoginState),
		redeemedCodes: make(map[string]time.Time),
		logger:        slog.Default(),
		stopCleanup:   make(chan struct{}),
	}

	go s.cleanupLoop(cleanupInterval)

	return s
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// SaveLoginState stores a pending login flow.
func (s *Store) SaveLoginState(_ context.Context, state *storage.LoginState) error {
	if state == nil || state.State == "" {
		return fmt.Errorf("invalid login state")
	}
	if !state.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("login state already expired")
	}

	cp := *state

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginStates[state.State] = &cp

	return nil
}

// ConsumeLoginState atomically fetches and deletes a login state.
func (s *Store) ConsumeLoginState(_ context.Context, state string) (*storage.LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, ok := s.loginStates[state]
	if !ok {
		return nil, storage.ErrLoginStateNotFound
	}
	delete(s.loginStates, state)

	if time.Now().After(ls.ExpiresAt) {
		return nil, storage.ErrLoginStateNotFound
	}

	cp := *ls
	return &cp, nil
}

// MarkCodeRedeemed atomically records a code redemption. Codes are stored
// hashed so the raw credential never sits in memory longer than the request.
func (s *Store) MarkCodeRedeemed(_ context.Context, code string, ttl time.Duration) (bool, error) {
	if code == "" {
		return false, fmt.Errorf("code is required")
	}

	key := hashCode(code)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.redeemedCodes[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.redeemedCodes[key] = now.Add(ttl)

	return true, nil
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ls := range s.loginStates {
		if now.After(ls.ExpiresAt) {
			delete(s.loginStates, k)
			removed++
		}
	}
	for k, expiry := range s.redeemedCodes {
		if now.After(expiry) {
			delete(s.redeemedCodes, k)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Cleaned up expired flow state", "removed", removed)
	}
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

var _ storage.FlowStore = (*Store)(nil)
