// Package otp holds short-lived email verification codes and delivers them.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/safar/cashback-store/internal/apperr"
)

// DefaultMaxAttempts is how many wrong guesses a code survives.
const DefaultMaxAttempts = 5

// Entry is the pending code for one email address.
type Entry struct {
	Code      string
	ExpiresAt time.Time
	Verified  bool
	Attempts  int
}

// Store is the collaborator the account service keeps codes in.
type Store interface {
	Put(email, code string, ttl time.Duration)
	Get(email string) (Entry, bool)
	Verify(email, code string) error
	Delete(email string)
}

// MemoryStore keeps codes in process memory. Expired entries are never
// returned; Sweep only reclaims their memory.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]Entry
	maxAttempts int
	now         func() time.Time
}

// NewMemoryStore discards a code after maxAttempts wrong guesses. A value
// below one uses DefaultMaxAttempts.
func NewMemoryStore(maxAttempts int) *MemoryStore {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MemoryStore{
		entries:     make(map[string]Entry),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Put replaces any existing code for email.
func (s *MemoryStore) Put(email, code string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[normalize(email)] = Entry{Code: code, ExpiresAt: s.now().Add(ttl)}
}

func (s *MemoryStore) Get(email string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(normalize(email))
}

func (s *MemoryStore) getLocked(key string) (Entry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	if !s.now().Before(entry.ExpiresAt) {
		delete(s.entries, key)
		return Entry{}, false
	}
	return entry, true
}

// Verify marks the code for email as verified when it matches. The code is
// deleted once it has been guessed wrong maxAttempts times.
func (s *MemoryStore) Verify(email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalize(email)
	entry, ok := s.getLocked(key)
	if !ok {
		return apperr.ErrCodeExpired
	}
	if subtle.ConstantTimeCompare([]byte(entry.Code), []byte(strings.TrimSpace(code))) != 1 {
		entry.Attempts++
		if entry.Attempts >= s.maxAttempts {
			delete(s.entries, key)
			return apperr.ErrCodeAttempts
		}
		s.entries[key] = entry
		return apperr.ErrCodeInvalid
	}

	entry.Verified = true
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Delete(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, normalize(email))
}

// Sweep drops expired entries and reports how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// GenerateCode returns a uniformly random numeric code of the given length.
func GenerateCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
