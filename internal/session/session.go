// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

// Package session owns the authenticated-user snapshot and its lifecycle:
// login, rehydration on startup, silent refresh of gamification state, and
// logout.
//
// The derived level fields are always a pure function of the experience
// total: the controller composes them in the same step that merges the
// backend profile and experience responses, and nothing else ever writes
// them. A session is either fully populated or absent; no partial state is
// ever published.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/readnest/readnest-go/internal/api"
	"github.com/readnest/readnest-go/internal/level"
)

// snapshotKey is the storage key for the serialized session snapshot. It is
// separate from the token keys so that clearing tokens never touches the
// snapshot blob and vice versa.
const snapshotKey = "session:snapshot"

// Session is the in-memory representation of the authenticated user,
// including derived gamification fields.
type Session struct {
	UserID       int64    `json:"userId"`
	LoginID      string   `json:"loginId"`
	Nickname     string   `json:"nickname"`
	Role         api.Role `json:"role"`
	ProfileImage string   `json:"profileImage,omitempty"`

	// Exp is the cumulative experience total as reported by the backend.
	// Level, Title and Region are derived from it; they are cached here but
	// only ever written together with Exp in one compose step.
	Exp    int64  `json:"exp"`
	Level  int    `json:"level"`
	Title  string `json:"title"`
	Region string `json:"region"`
}

// Snapshot is the durable representation of session state. Tokens are never
// embedded here; they live under their own keys in the token store.
type Snapshot struct {
	User            *Session `json:"user,omitempty"`
	IsAuthenticated bool     `json:"isAuthenticated"`
	SavedAt         time.Time `json:"savedAt"`
}

// SnapshotStore persists the session snapshot across restarts.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool)
	Clear(ctx context.Context) error
}

// BadgerSnapshotStore implements SnapshotStore using BadgerDB.
type BadgerSnapshotStore struct {
	db *badger.DB
}

// NewBadgerSnapshotStore creates a BadgerDB-backed snapshot store.
func NewBadgerSnapshotStore(db *badger.DB) *BadgerSnapshotStore {
	return &BadgerSnapshotStore{db: db}
}

var _ SnapshotStore = (*BadgerSnapshotStore)(nil)

// Save writes the snapshot.
func (s *BadgerSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot; the second return is false when none is stored
// or the stored blob cannot be decoded.
func (s *BadgerSnapshotStore) Load(ctx context.Context) (Snapshot, bool) {
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// Clear removes the snapshot. Clearing an empty store is a no-op.
func (s *BadgerSnapshotStore) Clear(ctx context.Context) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(snapshotKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// MemorySnapshotStore is an in-memory SnapshotStore for development and
// testing.
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewMemorySnapshotStore creates an in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)

// Save writes the snapshot.
func (s *MemorySnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = &snap
	return nil
}

// Load reads the snapshot.
func (s *MemorySnapshotStore) Load(ctx context.Context) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return Snapshot{}, false
	}
	return *s.snap, true
}

// Clear removes the snapshot.
func (s *MemorySnapshotStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	return nil
}

// compose builds a fully-populated session from a profile and an experience
// total, deriving the gamification fields in the same step.
func compose(p *api.Profile, exp int64) *Session {
	rank := level.Derive(exp)
	return &Session{
		UserID:       p.ID,
		LoginID:      p.LoginID,
		Nickname:     p.Nickname,
		Role:         p.Role,
		ProfileImage: p.ProfileImage,
		Exp:          exp,
		Level:        rank.Level,
		Title:        rank.Title,
		Region:       rank.Region,
	}
}
