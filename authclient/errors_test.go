package authclient

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStatusError_TruncatesOnRuneBoundary(t *testing.T) {
	// 199 ASCII bytes followed by a 3-byte rune straddling the limit.
	body := strings.Repeat("a", 199) + "旗" + "tail"
	err := &StatusError{StatusCode: http.StatusUnprocessableEntity, Body: []byte(body)}

	msg := err.Error()
	if !utf8.ValidString(msg) {
		t.Fatalf("error message is not valid UTF-8: %q", msg)
	}
	if strings.Contains(msg, "旗") || strings.Contains(msg, "tail") {
		t.Errorf("expected body to be cut before the straddling rune, got %q", msg)
	}
	if !strings.HasSuffix(msg, strings.Repeat("a", 199)) {
		t.Errorf("expected the ASCII prefix to be kept, got %q", msg)
	}
}

func TestStatusError_ShortBody(t *testing.T) {
	err := &StatusError{StatusCode: http.StatusNotFound, Body: []byte("flag not found")}
	if got, want := err.Error(), "request failed with status 404: flag not found"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	empty := &StatusError{StatusCode: http.StatusNotFound}
	if got, want := empty.Error(), "request failed with status 404"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"flags", 10, "flags"},
		{"flags", 3, "fla"},
		{"ab旗", 3, "ab"},
		{"ab旗", 5, "ab旗"},
		{"旗", 1, ""},
	}
	for _, tt := range tests {
		if got := truncateUTF8(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestAuthRevokedError_MatchesSentinel(t *testing.T) {
	err := &AuthRevokedError{StatusCode: http.StatusForbidden}
	if !errors.Is(err, ErrSessionRevoked) {
		t.Error("expected AuthRevokedError to match ErrSessionRevoked")
	}
}
