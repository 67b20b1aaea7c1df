package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestGatewayMovie(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tmdbId":42,"streams":[{"provider":"lush","url":"http://a"},{"provider":"zen","url":"http://b"}]}`))
	}))
	defer srv.Close()

	gw := NewGateway("secret", []string{srv.URL}, srv.Client())
	streams, err := gw.Movie(context.Background(), 42)
	if err != nil {
		t.Fatalf("Movie: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(streams))
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotPath != "/movie/42" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestGatewaySeriesQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"streams":[]}`))
	}))
	defer srv.Close()

	gw := NewGateway("", []string{srv.URL}, srv.Client())
	if _, err := gw.Series(context.Background(), 7, 2, 5); err != nil {
		t.Fatalf("Series: %v", err)
	}
	if gotQuery != "episode=5&season=2" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestGatewayAnimePath(t *testing.T) {
	var gotPath, gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.URL.Query().Get("title")
		w.Write([]byte(`{"streams":[]}`))
	}))
	defer srv.Close()

	gw := NewGateway("", []string{srv.URL}, srv.Client())
	if _, err := gw.Anime(context.Background(), 9, 1, 3, "Frieren"); err != nil {
		t.Fatalf("Anime: %v", err)
	}
	if gotPath != "/neko/series/9" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotTitle != "Frieren" {
		t.Fatalf("title = %q", gotTitle)
	}
}

func TestGatewayFailsOverOnServerError(t *testing.T) {
	var badHits atomic.Int64
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"streams":[{"provider":"lush","url":"http://a"}]}`))
	}))
	defer good.Close()

	gw := NewGateway("", []string{bad.URL, good.URL}, good.Client())
	streams, err := gw.Movie(context.Background(), 42)
	if err != nil {
		t.Fatalf("expected the healthy mirror to answer, got %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
}

func TestGatewayNonRetryableAborts(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	// Two bases pointing at the same 404 server: a non-retryable status must
	// stop after the first request instead of walking the mirror list.
	gw := NewGateway("", []string{srv.URL, srv.URL}, srv.Client())
	_, err := gw.Movie(context.Background(), 42)

	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Status != http.StatusNotFound {
		t.Fatalf("expected 404 UpstreamError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly 1 request, got %d", hits.Load())
	}
}

func TestGatewayRetriesRateLimitPerBase(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"streams":[{"provider":"lush","url":"http://a"}]}`))
	}))
	defer srv.Close()

	gw := NewGateway("", []string{srv.URL}, srv.Client())
	streams, err := gw.Movie(context.Background(), 42)
	if err != nil {
		t.Fatalf("expected retry to recover from 429, got %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", hits.Load())
	}
}

func TestGatewayNoEndpoints(t *testing.T) {
	gw := NewGateway("", nil, nil)
	if _, err := gw.Movie(context.Background(), 42); !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("expected ErrNoEndpoints, got %v", err)
	}
}

func TestGatewayTitleIndexedRejectsAnime(t *testing.T) {
	gw := NewGateway("", []string{"http://unused"}, nil)
	if _, err := gw.TitleIndexed(context.Background(), "anime", 1, 1, 1, "x"); err == nil {
		t.Fatal("expected error for anime kind")
	}
}
