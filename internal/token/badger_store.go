// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/readnest/readnest-go/internal/logging"
)

// BadgerStore implements Store using BadgerDB for durable storage.
// Tokens survive process restarts, which is what lets the client rehydrate a
// session on startup without a fresh login.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a BadgerDB-backed token store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

var _ Store = (*BadgerStore)(nil)

// Save writes both tokens in a single transaction so a crash cannot leave a
// half-written pair behind.
func (s *BadgerStore) Save(ctx context.Context, pair Pair) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(accessKey), []byte(pair.Access)); err != nil {
			return fmt.Errorf("set access token: %w", err)
		}
		if err := txn.Set([]byte(refreshKey), []byte(pair.Refresh)); err != nil {
			return fmt.Errorf("set refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save token pair: %w", err)
	}
	return nil
}

// SaveAccess replaces only the access token.
func (s *BadgerStore) SaveAccess(ctx context.Context, access string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(accessKey), []byte(access))
	})
	if err != nil {
		return fmt.Errorf("save access token: %w", err)
	}
	return nil
}

// Access returns the stored access token, or ("", false) when absent.
func (s *BadgerStore) Access(ctx context.Context) (string, bool) {
	return s.get(accessKey)
}

// Refresh returns the stored refresh token, or ("", false) when absent.
func (s *BadgerStore) Refresh(ctx context.Context) (string, bool) {
	return s.get(refreshKey)
}

func (s *BadgerStore) get(key string) (string, bool) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false
	}
	if err != nil {
		// Read failures degrade to "no token"; the caller will be forced
		// through a fresh login rather than crash.
		logging.Error().Err(err).Str("key", key).Msg("token read failed")
		return "", false
	}
	if value == "" {
		return "", false
	}
	return value, true
}

// Clear removes both tokens. Clearing an empty store is a no-op.
func (s *BadgerStore) Clear(ctx context.Context) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(accessKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete access token: %w", err)
		}
		if err := txn.Delete([]byte(refreshKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}
