// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package token

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/readnest/readnest-go/internal/logging"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// openTestBadger opens an in-memory BadgerDB for testing.
func openTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// storeUnderTest lets the same contract suite run against every Store
// implementation.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": NewBadgerStore(openTestBadger(t)),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("absent tokens report false, not error", func(t *testing.T) {
				if v, ok := store.Access(ctx); ok || v != "" {
					t.Errorf("Access on empty store = (%q, %v), want (\"\", false)", v, ok)
				}
				if v, ok := store.Refresh(ctx); ok || v != "" {
					t.Errorf("Refresh on empty store = (%q, %v), want (\"\", false)", v, ok)
				}
			})

			t.Run("save and read back", func(t *testing.T) {
				if err := store.Save(ctx, Pair{Access: "acc-1", Refresh: "ref-1"}); err != nil {
					t.Fatalf("Save: %v", err)
				}
				if v, ok := store.Access(ctx); !ok || v != "acc-1" {
					t.Errorf("Access = (%q, %v), want (acc-1, true)", v, ok)
				}
				if v, ok := store.Refresh(ctx); !ok || v != "ref-1" {
					t.Errorf("Refresh = (%q, %v), want (ref-1, true)", v, ok)
				}
			})

			t.Run("SaveAccess replaces access only", func(t *testing.T) {
				if err := store.SaveAccess(ctx, "acc-2"); err != nil {
					t.Fatalf("SaveAccess: %v", err)
				}
				if v, _ := store.Access(ctx); v != "acc-2" {
					t.Errorf("Access = %q, want acc-2", v)
				}
				if v, _ := store.Refresh(ctx); v != "ref-1" {
					t.Errorf("Refresh = %q, want untouched ref-1", v)
				}
			})

			t.Run("Clear removes both", func(t *testing.T) {
				if err := store.Clear(ctx); err != nil {
					t.Fatalf("Clear: %v", err)
				}
				if _, ok := store.Access(ctx); ok {
					t.Error("Access present after Clear")
				}
				if _, ok := store.Refresh(ctx); ok {
					t.Error("Refresh present after Clear")
				}
			})

			t.Run("Clear on empty store is a no-op", func(t *testing.T) {
				if err := store.Clear(ctx); err != nil {
					t.Errorf("Clear on empty store: %v", err)
				}
			})
		})
	}
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	opts := badger.DefaultOptions(dir).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	if err := NewBadgerStore(db).Save(ctx, Pair{Access: "persisted", Refresh: "also"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close badger: %v", err)
	}

	db, err = badger.Open(opts)
	if err != nil {
		t.Fatalf("reopen badger: %v", err)
	}
	defer func() { _ = db.Close() }()

	store := NewBadgerStore(db)
	if v, ok := store.Access(ctx); !ok || v != "persisted" {
		t.Errorf("Access after reopen = (%q, %v), want (persisted, true)", v, ok)
	}
	if v, ok := store.Refresh(ctx); !ok || v != "also" {
		t.Errorf("Refresh after reopen = (%q, %v), want (also, true)", v, ok)
	}
}

func TestExpiryHint(t *testing.T) {
	t.Run("JWT with exp claim", func(t *testing.T) {
		exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "42",
			"exp": exp.Unix(),
		})
		signed, err := tok.SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}

		got, ok := ExpiryHint(signed)
		if !ok {
			t.Fatal("ExpiryHint returned false for a JWT with exp")
		}
		if !got.Equal(exp) {
			t.Errorf("ExpiryHint = %v, want %v", got, exp)
		}
	})

	t.Run("JWT without exp claim", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "42"})
		signed, err := tok.SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		if _, ok := ExpiryHint(signed); ok {
			t.Error("ExpiryHint returned true for a JWT without exp")
		}
	})

	t.Run("opaque token", func(t *testing.T) {
		if _, ok := ExpiryHint("not-a-jwt-at-all"); ok {
			t.Error("ExpiryHint returned true for an opaque token")
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if _, ok := ExpiryHint(""); ok {
			t.Error("ExpiryHint returned true for an empty token")
		}
	})
}
