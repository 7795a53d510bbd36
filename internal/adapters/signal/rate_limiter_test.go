package signal

import (
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Viewing/internal/domain"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("c1") || !rl.Allow("c1") {
		t.Fatal("first two attempts should pass")
	}
	if rl.Allow("c1") {
		t.Fatal("third attempt inside the window should be refused")
	}
	if !rl.Allow("c2") {
		t.Fatal("limits are per connection")
	}

	now = now.Add(1100 * time.Millisecond)
	if !rl.Allow("c1") {
		t.Fatal("window should have slid")
	}
}

func TestRateLimiterForget(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	if !rl.Allow("c1") {
		t.Fatal("first attempt refused")
	}
	rl.Forget("c1")
	if !rl.Allow("c1") {
		t.Fatal("forgotten connection should start fresh")
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{domain.ErrSessionEnded, "session_ended"},
		{&domain.RelayError{To: "c2", Reason: "gone"}, "relay_failed"},
		{domain.ErrNotMember, "not_joined"},
		{domain.ErrAlreadyJoined, "already_joined"},
		{domain.ErrDuplicateConnection, "already_joined"},
		{domain.ErrNotHost, "not_host"},
		{domain.ErrUsernameTooLong, "invalid_name"},
		{domain.ErrEmptyMessage, "invalid_message"},
		{domain.ErrMessageTooLong, "invalid_message"},
		{fmt.Errorf("%w: connection refused", domain.ErrMetadataUnavailable), "unavailable"},
		{domain.ErrHandshake, "internal"},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.want {
			t.Fatalf("errorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
