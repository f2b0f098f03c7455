package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tendant/replace-files/pkg/replacefiles"
)

type entry struct {
	binding   string
	expiresAt time.Time
}

// Store is an in-memory replacefiles.TokenStore. Expired tokens are dropped
// lazily on access and on Put.
type Store struct {
	mu     sync.Mutex
	tokens map[string]entry
	now    func() time.Time
}

// New creates a new in-memory token store
func New() *Store {
	return &Store{
		tokens: make(map[string]entry),
		now:    time.Now,
	}
}

// Put stores token with its binding until ttl elapses
func (s *Store) Put(ctx context.Context, token, binding string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.tokens {
		if !now.Before(e.expiresAt) {
			delete(s.tokens, k)
		}
	}
	s.tokens[token] = entry{binding: binding, expiresAt: now.Add(ttl)}
	return nil
}

// Consume removes token and returns its binding
func (s *Store) Consume(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[token]
	if !ok {
		return "", replacefiles.ErrTokenNotFound
	}
	delete(s.tokens, token)
	if !s.now().Before(e.expiresAt) {
		return "", replacefiles.ErrTokenNotFound
	}
	return e.binding, nil
}

// Len returns the number of stored tokens, expired ones included
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
