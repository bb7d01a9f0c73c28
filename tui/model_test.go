package tui

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func update(t *testing.T, m Model, msgs ...any) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		if !ok {
			t.Fatalf("Update returned %T, want Model", next)
		}
	}
	return m
}

func TestModel_RefreshCycle(t *testing.T) {
	m := update(t, NewModel(),
		MsgBanner{Target: "api", BaseURL: "https://flags.example.com/api/v1/"},
		MsgCalling{Method: "GET", Path: "flags", Count: 3},
		MsgAccessTokenRejected{},
		MsgRefreshing{},
	)
	if m.state != stateRefreshing {
		t.Fatalf("state: want refreshing, got %d", m.state)
	}

	m = update(t, m, MsgRefreshed{}, MsgRetrying{})
	if m.state != stateCalling {
		t.Errorf("state after refresh: want calling, got %d", m.state)
	}
	if m.refreshes != 1 {
		t.Errorf("refreshes: want 1, got %d", m.refreshes)
	}

	m = update(t, m,
		MsgCallOK{ID: "a", Status: 200, Elapsed: 10 * time.Millisecond},
		MsgCallFailed{ID: "b", Err: errors.New("boom")},
	)
	if m.finished != 2 {
		t.Errorf("finished: want 2, got %d", m.finished)
	}
}

func TestModel_LoggedOut(t *testing.T) {
	m := update(t, NewModel(),
		MsgCalling{Method: "GET", Path: "flags", Count: 1},
		MsgLoggedOut{Reason: errors.New("session revoked")},
		MsgNavigated{Route: "Login"},
	)
	if m.state != stateLoggedOut {
		t.Fatalf("state: want logged out, got %d", m.state)
	}
	view := m.viewMain()
	if !strings.Contains(view, "Session ended") || !strings.Contains(view, "Redirected to Login") {
		t.Errorf("view missing logout lines:\n%s", view)
	}
}

func TestModel_Done(t *testing.T) {
	m := update(t, NewModel(), MsgDone{Succeeded: 4, Failed: 1, Elapsed: 2 * time.Second})
	if m.state != stateDone {
		t.Fatalf("state: want done, got %d", m.state)
	}
	if view := m.viewDone(); !strings.Contains(view, "1 call(s) failed") {
		t.Errorf("unexpected done view:\n%s", view)
	}
}

func TestModel_StatusLogIsBounded(t *testing.T) {
	m := NewModel()
	for range maxStatusLines + 5 {
		m = update(t, m, MsgTokensRotated{})
	}
	if len(m.statusLines) != maxStatusLines {
		t.Errorf("status lines: want %d, got %d", maxStatusLines, len(m.statusLines))
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{90 * time.Second, "1m 30s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
