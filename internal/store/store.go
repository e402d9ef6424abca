// Package store holds compressed results for download until the caller
// releases them or they expire.
package store

import (
	"sync"
	"time"

	"photo-squeeze-go/internal/packager"

	"github.com/google/uuid"
)

// Entry is a stored compression result.
type Entry struct {
	ID        string          `json:"id"`
	Data      []byte          `json:"-"`
	Report    packager.Report `json:"report"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is an in-memory, TTL-bounded set of result handles.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
}

// New returns a Store whose entries expire after ttl. A zero ttl disables
// expiry.
func New(ttl time.Duration) *Store {
	return &Store{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores data under a fresh handle.
func (s *Store) Put(data []byte, report packager.Report) *Entry {
	e := &Entry{
		ID:        uuid.NewString(),
		Data:      data,
		Report:    report,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()
	return e
}

// Get returns the entry for id if it exists and has not expired.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || s.expired(e) {
		return nil, false
	}
	return e, true
}

// Release drops the entry for id. It reports whether an entry was removed.
func (s *Store) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// Sweep removes expired entries and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of held entries, including expired ones not yet
// swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) expired(e *Entry) bool {
	return s.ttl > 0 && s.now().Sub(e.CreatedAt) > s.ttl
}
