// Package auth holds the admin and authorized-user sets.
//
// Admins are fixed at startup from config. The authorized set is mutable and
// persisted to a JSON file after every mutation; writes go through a
// temp-file rename so the file is always a previously-valid state.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"guardbot/pkg/logx"
)

// Store answers capability queries and owns grant/revoke mutations.
// Admin status is a superset privilege: IsAuthorized is true for admins
// regardless of membership in the authorized set.
type Store struct {
	path   string
	admins map[int64]struct{}
	log    logx.Logger

	mu         sync.Mutex
	authorized map[int64]struct{}
}

type fileFormat struct {
	Authorized []int64 `json:"authorized"`
}

func New(path string, admins []int64, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		path:       path,
		admins:     make(map[int64]struct{}, len(admins)),
		authorized: map[int64]struct{}{},
		log:        log,
	}
	for _, id := range admins {
		s.admins[id] = struct{}{}
	}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run: start empty.
	case err != nil:
		return nil, fmt.Errorf("auth: read %s: %w", path, err)
	default:
		var f fileFormat
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("auth: parse %s: %w", path, err)
		}
		for _, id := range f.Authorized {
			s.authorized[id] = struct{}{}
		}
	}

	s.log.Info("authorization store loaded",
		logx.Int("admins", len(s.admins)), logx.Int("authorized", len(s.authorized)))
	return s, nil
}

func (s *Store) IsAdmin(id int64) bool {
	_, ok := s.admins[id]
	return ok
}

func (s *Store) IsAuthorized(id int64) bool {
	if s.IsAdmin(id) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.authorized[id]
	return ok
}

// Grant adds id to the authorized set. It is idempotent: the bool result
// reports whether the id was newly added. The store is persisted even on a
// duplicate so a lost earlier write heals itself.
func (s *Store) Grant(id int64) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.authorized[id]
	s.authorized[id] = struct{}{}
	if err := s.persistLocked(); err != nil {
		return !exists, err
	}
	return !exists, nil
}

// Revoke removes id from the authorized set; the bool result reports whether
// it was present.
func (s *Store) Revoke(id int64) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.authorized[id]
	if !exists {
		return false, nil
	}
	delete(s.authorized, id)
	if err := s.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// ListAll returns the authorized set (admins excluded unless also granted),
// sorted for stable output.
func (s *Store) ListAll() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.authorized))
	for id := range s.authorized {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count reports the authorized set size, excluding admins that were never
// explicitly granted.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.authorized)
}

// Path reports the durable file location (used by the backup snapshotter).
func (s *Store) Path() string { return s.path }

func (s *Store) persistLocked() error {
	ids := make([]int64, 0, len(s.authorized))
	for id := range s.authorized {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	b, err := json.MarshalIndent(fileFormat{Authorized: ids}, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("auth: mkdir %s: %w", dir, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("auth: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("auth: rename %s: %w", tmp, err)
	}
	return nil
}
