package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"streamgate/models"
)

const (
	defaultUpstreamTimeout = 15 * time.Second

	// attemptsPerBase: transient failures get one immediate re-try against
	// the same base before we fail over to the next mirror.
	attemptsPerBase = 2
)

var ErrNoEndpoints = errors.New("no resolver endpoints configured")

// UpstreamError is a non-2xx answer from a resolver gateway.
type UpstreamError struct {
	Status int
	Base   string
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("resolver upstream %s returned %d", e.Base, e.Status)
}

// Retryable reports whether the failure is worth trying against another
// mirror: rate limits and server errors are, other 4xx are not.
func (e *UpstreamError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func retryableUpstream(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	// No HTTP response at all (timeout, connection refused, DNS).
	return true
}

// upstreamPayload is the wire shape shared by all gateway endpoints.
type upstreamPayload struct {
	TmdbID   json.Number              `json:"tmdbId"`
	Provider string                   `json:"provider"`
	Streams  []models.StreamCandidate `json:"streams"`
}

// Gateway talks to a set of functionally identical stream-resolution
// endpoints (one primary plus mirrors). Each call shuffles the endpoint
// order to spread load, then walks the shuffled list retrying transient
// failures; a non-retryable failure aborts the whole attempt immediately.
type Gateway struct {
	apiKey string
	bases  []string
	client *http.Client
}

// NewGateway builds a gateway over the given base URLs. A nil client gets a
// default with the standard upstream timeout.
func NewGateway(apiKey string, bases []string, client *http.Client) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: defaultUpstreamTimeout}
	}
	cleaned := make([]string, 0, len(bases))
	for _, base := range bases {
		if trimmed := strings.TrimRight(strings.TrimSpace(base), "/"); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return &Gateway{apiKey: apiKey, bases: cleaned, client: client}
}

// Movie resolves the primary provider set for a movie.
func (g *Gateway) Movie(ctx context.Context, contentID int) ([]models.StreamCandidate, error) {
	payload, err := g.fetch(ctx, "/movie/"+strconv.Itoa(contentID), nil)
	if err != nil {
		return nil, err
	}
	return payload.Streams, nil
}

// Series resolves the primary provider set for one episode of a series.
func (g *Gateway) Series(ctx context.Context, contentID, season, episode int) ([]models.StreamCandidate, error) {
	query := url.Values{}
	query.Set("season", strconv.Itoa(season))
	query.Set("episode", strconv.Itoa(episode))
	payload, err := g.fetch(ctx, "/series/"+strconv.Itoa(contentID), query)
	if err != nil {
		return nil, err
	}
	return payload.Streams, nil
}

// Anime resolves an anime episode via the neko provider, which wants the
// human-readable title alongside the catalog id.
func (g *Gateway) Anime(ctx context.Context, contentID, season, episode int, title string) ([]models.StreamCandidate, error) {
	query := url.Values{}
	query.Set("season", strconv.Itoa(season))
	query.Set("episode", strconv.Itoa(episode))
	query.Set("title", title)
	payload, err := g.fetch(ctx, "/neko/series/"+strconv.Itoa(contentID), query)
	if err != nil {
		return nil, err
	}
	return payload.Streams, nil
}

// TitleIndexed queries the flow provider, which is indexed by title rather
// than catalog id and therefore only runs when the caller supplied one.
func (g *Gateway) TitleIndexed(ctx context.Context, kind models.MediaKind, contentID, season, episode int, title string) ([]models.StreamCandidate, error) {
	query := url.Values{}
	query.Set("title", title)

	var path string
	switch kind {
	case models.MediaKindMovie:
		path = "/flow/movie/" + strconv.Itoa(contentID)
	case models.MediaKindSeries:
		path = "/flow/series/" + strconv.Itoa(contentID)
		query.Set("season", strconv.Itoa(season))
		query.Set("episode", strconv.Itoa(episode))
	default:
		return nil, fmt.Errorf("title-indexed provider does not cover %q", kind)
	}

	payload, err := g.fetch(ctx, path, query)
	if err != nil {
		return nil, err
	}
	return payload.Streams, nil
}

func (g *Gateway) fetch(ctx context.Context, path string, query url.Values) (*upstreamPayload, error) {
	if len(g.bases) == 0 {
		return nil, ErrNoEndpoints
	}

	bases := append([]string(nil), g.bases...)
	rand.Shuffle(len(bases), func(i, j int) {
		bases[i], bases[j] = bases[j], bases[i]
	})

	var lastErr error
	for _, base := range bases {
		payload, err := g.fetchBase(ctx, base, path, query)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !retryableUpstream(err) {
			return nil, err
		}
		log.Printf("[resolver] gateway %s failed, trying next: %v", base, err)
	}

	return nil, lastErr
}

func (g *Gateway) fetchBase(ctx context.Context, base, path string, query url.Values) (*upstreamPayload, error) {
	var payload *upstreamPayload
	err := retry.Do(
		func() error {
			p, err := g.do(ctx, base, path, query)
			if err != nil {
				return err
			}
			payload = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attemptsPerBase),
		retry.Delay(250*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryableUpstream),
	)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (g *Gateway) do(ctx context.Context, base, path string, query url.Values) (*upstreamPayload, error) {
	endpoint := base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build resolver request: %w", err)
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolver request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{Status: resp.StatusCode, Base: base, Body: string(body)}
	}

	var payload upstreamPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode resolver response: %w", err)
	}
	return &payload, nil
}
