package models

import (
	"encoding/json"
	"testing"
)

func TestStreamCandidateKeepsUnknownFields(t *testing.T) {
	payload := `{"provider":"lush","url":"http://a","quality":"1080p","resolution":"1920x1080","lang":["en","mn"]}`

	var c StreamCandidate
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Provider != "lush" || c.URL != "http://a" || c.Quality != "1080p" {
		t.Fatalf("known fields lost: %+v", c)
	}
	if len(c.Extra) != 2 {
		t.Fatalf("extra = %v, want resolution and lang", c.Extra)
	}

	out, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(out, &flat); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if flat["resolution"] != "1920x1080" {
		t.Fatalf("provider-specific field dropped: %v", flat)
	}
	if flat["provider"] != "lush" {
		t.Fatalf("known field dropped: %v", flat)
	}
}

func TestProviderKey(t *testing.T) {
	cases := []struct {
		candidate StreamCandidate
		want      string
	}{
		{StreamCandidate{Provider: "Lush"}, "lush"},
		{StreamCandidate{Name: "FLOW"}, "flow"},
		{StreamCandidate{Provider: " zen ", Name: "ignored"}, "zen"},
		{StreamCandidate{}, ""},
	}
	for _, tc := range cases {
		if got := tc.candidate.ProviderKey(); got != tc.want {
			t.Fatalf("ProviderKey(%+v) = %q, want %q", tc.candidate, got, tc.want)
		}
	}
}

func TestMediaKindValid(t *testing.T) {
	for _, k := range []MediaKind{MediaKindMovie, MediaKindSeries, MediaKindAnime} {
		if !k.Valid() {
			t.Fatalf("%q should be valid", k)
		}
	}
	if MediaKind("podcast").Valid() {
		t.Fatal("podcast should not be valid")
	}
}
