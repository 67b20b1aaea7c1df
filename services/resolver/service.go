package resolver

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"streamgate/models"
	"streamgate/services/streamcache"
)

// DefaultProviderPriority is the fixed provider ranking applied to merged
// results. Providers not in the list sort after every ranked one, keeping
// their relative order.
var DefaultProviderPriority = []string{"lush", "flow", "sonata", "breeze", "nova", "zen", "neko"}

// titleIndexedFamily is the provider family served by the secondary,
// title-indexed upstream.
const titleIndexedFamily = "flow"

// Request identifies one content unit to resolve. Season and Episode are
// ignored for movies. TitleHint feeds the title-indexed secondary provider
// (movies and series) or the neko primary (anime).
type Request struct {
	ContentID int
	Kind      models.MediaKind
	Season    int
	Episode   int
	TitleHint string
}

// Resolution is the ordered stream list plus provenance flags: Cached tells
// whether the streams came out of the cache, Fresh whether they are current,
// ErrorFromUpstream whether the primary upstream failed on the way here.
type Resolution struct {
	ContentID         int
	Season            int
	Episode           int
	Streams           []models.StreamCandidate
	Cached            bool
	Fresh             bool
	ErrorFromUpstream bool
}

type cacheStore interface {
	Get(ctx context.Context, key streamcache.Key) (streamcache.Entry, bool, error)
	Put(ctx context.Context, key streamcache.Key, streams []models.StreamCandidate, cachedAt time.Time) error
}

var _ cacheStore = (*streamcache.Store)(nil)

type upstreamGateway interface {
	Movie(ctx context.Context, contentID int) ([]models.StreamCandidate, error)
	Series(ctx context.Context, contentID, season, episode int) ([]models.StreamCandidate, error)
	Anime(ctx context.Context, contentID, season, episode int, title string) ([]models.StreamCandidate, error)
	TitleIndexed(ctx context.Context, kind models.MediaKind, contentID, season, episode int, title string) ([]models.StreamCandidate, error)
}

var _ upstreamGateway = (*Gateway)(nil)

// Service answers "give me playable streams for this content unit",
// preferring fresh data but never failing outright while any cached data
// exists (availability over recency).
type Service struct {
	gateway  upstreamGateway
	cache    cacheStore
	version  int
	freshFor time.Duration
	rank     map[string]int
}

// NewService wires the orchestrator. version discriminates cache entries
// across resolution-logic changes; a zero freshFor falls back to the default
// 3h window; a nil priority list falls back to DefaultProviderPriority.
func NewService(gateway upstreamGateway, cache cacheStore, version int, freshFor time.Duration, priority []string) *Service {
	if version <= 0 {
		version = 1
	}
	if freshFor <= 0 {
		freshFor = streamcache.DefaultFreshFor
	}
	if len(priority) == 0 {
		priority = DefaultProviderPriority
	}

	rank := make(map[string]int, len(priority))
	for i, p := range priority {
		rank[strings.ToLower(strings.TrimSpace(p))] = i
	}

	return &Service{
		gateway:  gateway,
		cache:    cache,
		version:  version,
		freshFor: freshFor,
		rank:     rank,
	}
}

// Resolve runs the cache-aside pipeline: fresh cache hit, else live primary
// (+ title-indexed secondary) resolution, merge, deterministic ordering,
// write-back, and stale fallback when live resolution yields nothing.
func (s *Service) Resolve(ctx context.Context, req Request) (Resolution, error) {
	key := s.cacheKey(req)

	prior, havePrior, err := s.cache.Get(ctx, key)
	if err != nil {
		return Resolution{}, err
	}

	hint := strings.TrimSpace(req.TitleHint)
	// For movies and series a hint routes to the secondary provider, which
	// the cached entry may never have seen, so the hint forces a live
	// attempt. Anime folds the title into its primary call and keeps the
	// cache short-circuit.
	useSecondary := hint != "" && req.Kind != models.MediaKindAnime

	now := time.Now().UTC()
	if !useSecondary && havePrior && prior.FreshAt(now, s.freshFor) {
		log.Printf("[resolver] %s/%d: fresh cache hit (%d streams)", req.Kind, req.ContentID, len(prior.Streams))
		return s.fromEntry(req, prior, true), nil
	}

	var (
		primary    []models.StreamCandidate
		primaryErr error
		secondary  []models.StreamCandidate
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		primary, primaryErr = s.fetchPrimary(ctx, req, hint)
	})
	if useSecondary {
		wg.Go(func() {
			secondary = s.fetchTitleIndexed(ctx, req, hint)
		})
	}
	wg.Wait()

	if primaryErr != nil {
		log.Printf("[resolver] %s/%d: primary upstream error: %v", req.Kind, req.ContentID, primaryErr)
	}

	combined := append(append([]models.StreamCandidate(nil), primary...), secondary...)

	// The title-indexed provider is flaky; when it returned nothing this
	// round but an earlier resolution cached its streams, splice those back
	// in rather than losing the provider family entirely.
	if havePrior && !hasFamily(combined, titleIndexedFamily) {
		if recycled := filterFamily(prior.Streams, titleIndexedFamily); len(recycled) > 0 {
			log.Printf("[resolver] %s/%d: reusing %d cached %s streams", req.Kind, req.ContentID, len(recycled), titleIndexedFamily)
			combined = append(combined, recycled...)
		}
	}

	s.sortCandidates(combined)

	if len(combined) > 0 {
		if err := s.cache.Put(ctx, key, combined, now); err != nil {
			// A broken write-back must not cost the caller their streams.
			log.Printf("[resolver] %s/%d: cache write failed: %v", req.Kind, req.ContentID, err)
		}
		return Resolution{
			ContentID:         req.ContentID,
			Season:            req.Season,
			Episode:           req.Episode,
			Streams:           combined,
			Fresh:             true,
			ErrorFromUpstream: primaryErr != nil,
		}, nil
	}

	if havePrior && len(prior.Streams) > 0 {
		log.Printf("[resolver] %s/%d: upstream empty, using stale cache (%d streams)", req.Kind, req.ContentID, len(prior.Streams))
		res := s.fromEntry(req, prior, false)
		res.ErrorFromUpstream = primaryErr != nil
		return res, nil
	}

	if primaryErr != nil {
		return Resolution{}, fmt.Errorf("resolve %s/%d: %w", req.Kind, req.ContentID, primaryErr)
	}

	// No streams anywhere is a valid outcome, not an error: the content may
	// simply not be available from any provider yet.
	return Resolution{
		ContentID: req.ContentID,
		Season:    req.Season,
		Episode:   req.Episode,
		Streams:   []models.StreamCandidate{},
		Fresh:     true,
	}, nil
}

func (s *Service) fetchPrimary(ctx context.Context, req Request, hint string) ([]models.StreamCandidate, error) {
	switch req.Kind {
	case models.MediaKindMovie:
		return s.gateway.Movie(ctx, req.ContentID)
	case models.MediaKindSeries:
		return s.gateway.Series(ctx, req.ContentID, req.Season, req.Episode)
	case models.MediaKindAnime:
		return s.gateway.Anime(ctx, req.ContentID, req.Season, req.Episode, hint)
	default:
		return nil, fmt.Errorf("unknown media kind %q", req.Kind)
	}
}

// fetchTitleIndexed tries the hint as given, then a whitespace-normalized
// variant, then a lowercased one, stopping at the first variant that yields
// streams. Failures here never fail the resolution; the provider is
// strictly supplementary.
func (s *Service) fetchTitleIndexed(ctx context.Context, req Request, hint string) []models.StreamCandidate {
	normalized := strings.Join(strings.Fields(hint), " ")
	variants := []string{hint, normalized, strings.ToLower(normalized)}

	seen := make(map[string]struct{}, len(variants))
	for _, title := range variants {
		if title == "" {
			continue
		}
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}

		streams, err := s.gateway.TitleIndexed(ctx, req.Kind, req.ContentID, req.Season, req.Episode, title)
		if err != nil {
			log.Printf("[resolver] title-indexed lookup %q failed: %v", title, err)
			continue
		}
		if len(streams) > 0 {
			return streams
		}
	}
	return nil
}

func (s *Service) cacheKey(req Request) streamcache.Key {
	season, episode := req.Season, req.Episode
	if req.Kind == models.MediaKindMovie {
		season, episode = 0, 0
	}
	return streamcache.Key{
		ContentID: req.ContentID,
		Kind:      req.Kind,
		Season:    season,
		Episode:   episode,
		Version:   s.version,
	}
}

func (s *Service) fromEntry(req Request, entry streamcache.Entry, fresh bool) Resolution {
	streams := entry.Streams
	if streams == nil {
		streams = []models.StreamCandidate{}
	}
	return Resolution{
		ContentID: req.ContentID,
		Season:    req.Season,
		Episode:   req.Episode,
		Streams:   streams,
		Cached:    true,
		Fresh:     fresh,
	}
}

// sortCandidates orders candidates by the fixed provider ranking. The sort
// is stable so identical inputs always produce identical output.
func (s *Service) sortCandidates(streams []models.StreamCandidate) {
	sort.SliceStable(streams, func(i, j int) bool {
		return s.rankOf(streams[i]) < s.rankOf(streams[j])
	})
}

func (s *Service) rankOf(c models.StreamCandidate) int {
	if r, ok := s.rank[c.ProviderKey()]; ok {
		return r
	}
	return len(s.rank) + 99
}

func hasFamily(streams []models.StreamCandidate, family string) bool {
	for _, c := range streams {
		if strings.Contains(c.ProviderKey(), family) {
			return true
		}
	}
	return false
}

func filterFamily(streams []models.StreamCandidate, family string) []models.StreamCandidate {
	var matched []models.StreamCandidate
	for _, c := range streams {
		if strings.Contains(c.ProviderKey(), family) {
			matched = append(matched, c)
		}
	}
	return matched
}
