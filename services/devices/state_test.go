package devices

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 90 * time.Second

	cases := []struct {
		name        string
		lastActive  time.Time
		isStreaming bool
		want        SessionState
	}{
		{"not streaming", now.Add(-5 * time.Second), false, StateIdle},
		{"not streaming and ancient", now.Add(-24 * time.Hour), false, StateIdle},
		{"streaming and fresh", now.Add(-5 * time.Second), true, StateStreaming},
		{"streaming exactly at ttl", now.Add(-ttl), true, StateStreaming},
		{"streaming just past ttl", now.Add(-ttl - time.Millisecond), true, StateExpired},
		{"streaming long dead", now.Add(-time.Hour), true, StateExpired},
		{"streaming with zero timestamp", time.Time{}, true, StateExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(now, tc.lastActive, tc.isStreaming, ttl)
			if got != tc.want {
				t.Fatalf("Classify(%v, streaming=%v) = %v, want %v", tc.lastActive, tc.isStreaming, got, tc.want)
			}
		})
	}
}

func TestSessionStateString(t *testing.T) {
	if StateIdle.String() != "idle" || StateStreaming.String() != "streaming" || StateExpired.String() != "expired" {
		t.Fatalf("unexpected state strings: %q %q %q", StateIdle, StateStreaming, StateExpired)
	}
}
