package middleware

import (
	"context"
	"sync"

	"github.com/hitoshi/shopadmin/internal/activity"
	"github.com/hitoshi/shopadmin/internal/auth"
	"github.com/hitoshi/shopadmin/internal/model"
)

// --- モック定義 ---

type mockVerifier struct {
	verifyFn func(token string) (*model.Identity, error)
}

func (m *mockVerifier) Verify(token string) (*model.Identity, error) {
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	return nil, auth.ErrInvalidOrExpiredSession
}

// tokenVerifier は"valid-<email>"形式のトークンだけを受け付ける。
func tokenVerifier() *mockVerifier {
	return &mockVerifier{
		verifyFn: func(token string) (*model.Identity, error) {
			const prefix = "valid-"
			if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
				return nil, auth.ErrInvalidOrExpiredSession
			}
			email := token[len(prefix):]
			return &model.Identity{ID: "id-" + email, Name: "Test", Email: email}, nil
		},
	}
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

type countingGuardMetrics struct {
	rejected, denied int
}

func (m *countingGuardMetrics) RecordSessionRejected() { m.rejected++ }
func (m *countingGuardMetrics) RecordAdminDenied()     { m.denied++ }

// --- compile-time interface checks ---
var _ SessionVerifier = (*mockVerifier)(nil)
var _ SessionVerifier = (*auth.SessionIssuer)(nil)
var _ AdminChecker = (*auth.AdminPolicy)(nil)
var _ ActivityRecorder = (*recordingRecorder)(nil)
var _ ActivityRecorder = (*activity.Recorder)(nil)
var _ GuardMetrics = (*countingGuardMetrics)(nil)
