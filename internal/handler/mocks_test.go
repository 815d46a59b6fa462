package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/shopadmin/internal/activity"
	"github.com/hitoshi/shopadmin/internal/auth"
	"github.com/hitoshi/shopadmin/internal/middleware"
	"github.com/hitoshi/shopadmin/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	authCodeURLFn     func(state string) string
	handleCallbackFn  func(ctx context.Context, params auth.CallbackParams) (*model.Identity, error)
	devLoginFn        func(ctx context.Context, secret string) (*model.Identity, error)
	devLoginEnabled   bool
	handleCallbackHit int
}

func (m *mockAuthService) AuthCodeURL(state string) string {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(state)
	}
	return "https://login.example.com/authorize?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, params auth.CallbackParams) (*model.Identity, error) {
	m.handleCallbackHit++
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) DevLogin(ctx context.Context, secret string) (*model.Identity, error) {
	if m.devLoginFn != nil {
		return m.devLoginFn(ctx, secret)
	}
	return nil, auth.ErrDevLoginDisabled
}

func (m *mockAuthService) DevLoginEnabled() bool { return m.devLoginEnabled }

type mockSessions struct {
	issueFn  func(identity *model.Identity) (string, time.Time, error)
	verifyFn func(token string) (*model.Identity, error)
}

func (m *mockSessions) Issue(identity *model.Identity) (string, time.Time, error) {
	if m.issueFn != nil {
		return m.issueFn(identity)
	}
	return "token-" + identity.Email, time.Now().Add(auth.SessionLifetime), nil
}

func (m *mockSessions) Verify(token string) (*model.Identity, error) {
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	return nil, auth.ErrInvalidOrExpiredSession
}

type recordingRecorder struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (m *recordingRecorder) Record(_ context.Context, entry activity.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *recordingRecorder) count(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func (m *recordingRecorder) find(action string) (activity.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Action == action {
			return e, true
		}
	}
	return activity.Entry{}, false
}

type countingLoginMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingLoginMetrics) RecordLogin(method, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[method+"/"+result]++
}

func (m *countingLoginMetrics) get(method, result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[method+"/"+result]
}

type mockActivityLister struct {
	listRecentFn func(ctx context.Context, limit int) ([]*model.ActivityRecord, error)
	lastLimit    int
}

func (m *mockActivityLister) ListRecent(ctx context.Context, limit int) ([]*model.ActivityRecord, error) {
	m.lastLimit = limit
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(context.Context) error { return m.err }

// --- compile-time interface checks ---
var _ AuthServiceInterface = (*mockAuthService)(nil)
var _ AuthServiceInterface = (*auth.Service)(nil)
var _ SessionManager = (*mockSessions)(nil)
var _ SessionManager = (*auth.SessionIssuer)(nil)
var _ middleware.ActivityRecorder = (*recordingRecorder)(nil)
var _ LoginMetrics = (*countingLoginMetrics)(nil)
var _ ActivityLister = (*mockActivityLister)(nil)
var _ Pinger = (*mockPinger)(nil)
