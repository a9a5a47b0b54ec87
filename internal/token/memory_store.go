// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package token

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. For production, use BadgerStore.
type MemoryStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemoryStore creates a new in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ Store = (*MemoryStore)(nil)

// Save writes both tokens.
func (s *MemoryStore) Save(ctx context.Context, pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = pair.Access
	s.refresh = pair.Refresh
	return nil
}

// SaveAccess replaces only the access token.
func (s *MemoryStore) SaveAccess(ctx context.Context, access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	return nil
}

// Access returns the stored access token, or ("", false) when absent.
func (s *MemoryStore) Access(ctx context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.access != ""
}

// Refresh returns the stored refresh token, or ("", false) when absent.
func (s *MemoryStore) Refresh(ctx context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh, s.refresh != ""
}

// Clear removes both tokens.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
	return nil
}
