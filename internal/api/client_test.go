// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/readnest/readnest-go/internal/logging"
	"github.com/readnest/readnest-go/internal/token"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// fakeBackend simulates the platform backend for client tests. It accepts a
// configurable set of valid access tokens and counts reissue calls.
type fakeBackend struct {
	mu           sync.Mutex
	validAccess  map[string]bool
	validRefresh map[string]bool
	rotateTo     string // refresh token returned by reissue; empty = no rotation
	issueAccess  string // access token returned by reissue

	// When reissueGate is non-nil the reissue handler signals
	// reissueStarted and then blocks until the gate closes, letting tests
	// act while the round trip is in flight.
	reissueGate    chan struct{}
	reissueStarted chan struct{}

	reissueCalls atomic.Int64
	meCalls      atomic.Int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		validAccess:  map[string]bool{"good-access": true},
		validRefresh: map[string]bool{"good-refresh": true},
		issueAccess:  "new-access",
	}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/reissue", func(w http.ResponseWriter, r *http.Request) {
		f.reissueCalls.Add(1)
		if f.reissueGate != nil {
			f.reissueStarted <- struct{}{}
			<-f.reissueGate
		}
		var req reissueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		ok := f.validRefresh[req.RefreshToken]
		issue := f.issueAccess
		rotate := f.rotateTo
		if ok {
			f.validAccess[issue] = true
			if rotate != "" {
				f.validRefresh[rotate] = true
			}
		}
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(reissueResponse{AccessToken: issue, RefreshToken: rotate})
	})

	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		f.meCalls.Add(1)
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Profile{ID: 7, LoginID: "reader@readnest.example", Nickname: "bookworm", Role: RoleUser})
	})

	mux.HandleFunc("GET /exp/me", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Experience{TotalExp: 1234})
	})

	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	})

	return mux
}

func (f *fakeBackend) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if len(auth) < 8 || auth[:7] != "Bearer " {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validAccess[auth[7:]]
}

// newTestClient starts a fake backend and returns a client wired to it.
func newTestClient(t *testing.T, f *fakeBackend, opts ...Option) (*Client, *token.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	tokens := token.NewMemoryStore()
	return New(srv.URL, tokens, opts...), tokens
}

func TestDoAttachesBearerToken(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	client, tokens := newTestClient(t, f)
	_ = tokens.Save(ctx, token.Pair{Access: "good-access", Refresh: "good-refresh"})

	p, err := client.Me(ctx)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if p.Nickname != "bookworm" || p.Role != RoleUser {
		t.Errorf("unexpected profile: %+v", p)
	}
	if f.reissueCalls.Load() != 0 {
		t.Errorf("expected no reissue calls, got %d", f.reissueCalls.Load())
	}
}

func TestDoSilentRefreshOn401(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	client, tokens := newTestClient(t, f)
	// Stale access token, valid refresh token.
	_ = tokens.Save(ctx, token.Pair{Access: "stale-access", Refresh: "good-refresh"})

	p, err := client.Me(ctx)
	if err != nil {
		t.Fatalf("Me after silent refresh: %v", err)
	}
	if p.ID != 7 {
		t.Errorf("unexpected profile: %+v", p)
	}

	if got := f.reissueCalls.Load(); got != 1 {
		t.Errorf("reissue calls = %d, want 1", got)
	}
	if got := f.meCalls.Load(); got != 2 {
		t.Errorf("profile endpoint calls = %d, want 2 (original + one retry)", got)
	}

	// New access token persisted; refresh untouched (not rotated).
	if v, _ := tokens.Access(ctx); v != "new-access" {
		t.Errorf("stored access = %q, want new-access", v)
	}
	if v, _ := tokens.Refresh(ctx); v != "good-refresh" {
		t.Errorf("stored refresh = %q, want good-refresh", v)
	}
}

func TestDoPersistsRotatedRefreshToken(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	f.rotateTo = "rotated-refresh"
	client, tokens := newTestClient(t, f)
	_ = tokens.Save(ctx, token.Pair{Access: "stale-access", Refresh: "good-refresh"})

	if _, err := client.Me(ctx); err != nil {
		t.Fatalf("Me: %v", err)
	}
	if v, _ := tokens.Refresh(ctx); v != "rotated-refresh" {
		t.Errorf("stored refresh = %q, want rotated-refresh", v)
	}
}

func TestDoSecond401DoesNotRefreshAgain(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	// Reissue succeeds but hands out a token the backend won't accept,
	// so the retried request gets a second 401.
	f.issueAccess = "still-bad"
	expired := false
	client, tokens := newTestClient(t, f, WithSessionExpiredHook(func() { expired = true }))
	_ = tokens.Save(ctx, token.Pair{Access: "stale-access", Refresh: "good-refresh"})

	f.mu.Lock()
	delete(f.validAccess, "still-bad")
	f.mu.Unlock()

	_, err := client.Me(ctx)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}

	if got := f.reissueCalls.Load(); got != 1 {
		t.Errorf("reissue calls = %d, want exactly 1", got)
	}
	if got := f.meCalls.Load(); got != 2 {
		t.Errorf("profile endpoint calls = %d, want 2", got)
	}
	if !expired {
		t.Error("session-expired hook did not fire")
	}
	if _, ok := tokens.Access(ctx); ok {
		t.Error("access token not cleared after unrecoverable auth failure")
	}
	if _, ok := tokens.Refresh(ctx); ok {
		t.Error("refresh token not cleared after unrecoverable auth failure")
	}
}

func TestDoRefreshFailureClearsTokens(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	expired := false
	client, tokens := newTestClient(t, f, WithSessionExpiredHook(func() { expired = true }))
	// Refresh token revoked server-side.
	_ = tokens.Save(ctx, token.Pair{Access: "stale-access", Refresh: "revoked-refresh"})

	_, err := client.Me(ctx)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
	if !expired {
		t.Error("session-expired hook did not fire")
	}
	if _, ok := tokens.Access(ctx); ok {
		t.Error("access token not cleared")
	}
	if _, ok := tokens.Refresh(ctx); ok {
		t.Error("refresh token not cleared")
	}
}

func TestDoNo401WithoutRefreshToken(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	expired := false
	client, tokens := newTestClient(t, f, WithSessionExpiredHook(func() { expired = true }))
	_ = tokens.SaveAccess(ctx, "stale-access")

	_, err := client.Me(ctx)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
	if got := f.reissueCalls.Load(); got != 0 {
		t.Errorf("reissue calls = %d, want 0 with no refresh token", got)
	}
	if !expired {
		t.Error("session-expired hook did not fire")
	}
}

func TestDoConcurrent401sShareOneReissue(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	client, tokens := newTestClient(t, f)
	_ = tokens.Save(ctx, token.Pair{Access: "stale-access", Refresh: "good-refresh"})

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Me(ctx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %d: %v", i, err)
		}
	}
	// Each request gets its own retry, but the reissue round trip itself is
	// single-flighted.
	if got := f.reissueCalls.Load(); got != 1 {
		t.Errorf("reissue calls = %d, want 1 shared across concurrent 401s", got)
	}
}

func TestDoClearDuringReissueDiscardsRefreshedPair(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	f.reissueGate = make(chan struct{})
	f.reissueStarted = make(chan struct{})
	client, tokens := newTestClient(t, f)
	_ = tokens.Save(ctx, token.Pair{Access: "stale-access", Refresh: "good-refresh"})

	done := make(chan error, 1)
	go func() {
		_, err := client.Me(ctx)
		done <- err
	}()

	// The user logs out while the reissue round trip is still in flight.
	// The fresh pair must not be persisted afterward.
	<-f.reissueStarted
	if err := tokens.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	close(f.reissueGate)

	if err := <-done; !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
	if v, ok := tokens.Access(ctx); ok {
		t.Errorf("token store holds access %q after Clear; late refresh resurrected credentials", v)
	}
	if v, ok := tokens.Refresh(ctx); ok {
		t.Errorf("token store holds refresh %q after Clear; late refresh resurrected credentials", v)
	}
}

func TestDoServerErrorReturnsStatusError(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	client, tokens := newTestClient(t, f)
	_ = tokens.Save(ctx, token.Pair{Access: "good-access", Refresh: "good-refresh"})

	err := client.Do(ctx, http.MethodGet, "/boom", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", se.Status)
	}
}

// jwtWithExp builds an unsigned JWT carrying only an exp claim. The expiry
// hint reads claims without verifying, so no key is needed.
func jwtWithExp(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"exp": exp.Unix()})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestProactiveRefreshFiresInsideLeadWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFakeBackend()
	client, tokens := newTestClient(t, f)
	// Expires well inside the lead window, so the loop refreshes on entry.
	access := jwtWithExp(t, time.Now().Add(30*time.Second))
	_ = tokens.Save(ctx, token.Pair{Access: access, Refresh: "good-refresh"})

	done := make(chan error, 1)
	go func() { done <- client.ProactiveRefresh(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if v, _ := tokens.Access(ctx); v == "new-access" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("access token was not refreshed ahead of expiry")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("ProactiveRefresh returned %v, want context.Canceled", err)
	}
	if got := f.reissueCalls.Load(); got != 1 {
		t.Errorf("reissue calls = %d, want 1", got)
	}
}

func TestProactiveRefreshLeavesFreshTokenAlone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFakeBackend()
	client, tokens := newTestClient(t, f)
	access := jwtWithExp(t, time.Now().Add(time.Hour))
	_ = tokens.Save(ctx, token.Pair{Access: access, Refresh: "good-refresh"})

	done := make(chan error, 1)
	go func() { done <- client.ProactiveRefresh(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if got := f.reissueCalls.Load(); got != 0 {
		t.Errorf("reissue calls = %d, want 0 for a token far from expiry", got)
	}
	if v, _ := tokens.Access(ctx); v != access {
		t.Errorf("stored access changed to %q", v)
	}
}

func TestNextRefreshDelayWithoutHint(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	client, tokens := newTestClient(t, f)

	// No token at all: recheck later.
	if d := client.nextRefreshDelay(ctx); d != refreshRecheck {
		t.Errorf("delay with empty store = %v, want %v", d, refreshRecheck)
	}

	// Opaque token with no readable exp claim: reactive refresh only.
	_ = tokens.SaveAccess(ctx, "opaque-access")
	if d := client.nextRefreshDelay(ctx); d != refreshRecheck {
		t.Errorf("delay with opaque token = %v, want %v", d, refreshRecheck)
	}
}

func TestMyExperience(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	client, tokens := newTestClient(t, f)
	_ = tokens.Save(ctx, token.Pair{Access: "good-access", Refresh: "good-refresh"})

	exp, err := client.MyExperience(ctx)
	if err != nil {
		t.Fatalf("MyExperience: %v", err)
	}
	if exp != 1234 {
		t.Errorf("exp = %d, want 1234", exp)
	}
}

func TestLogoutBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend()
	client, tokens := newTestClient(t, f)
	_ = tokens.Save(ctx, token.Pair{Access: "good-access", Refresh: "good-refresh"})

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
}
