package streamcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"streamgate/models"
)

// DefaultFreshFor is the window during which a cache entry short-circuits
// live resolution.
const DefaultFreshFor = 3 * time.Hour

// Key identifies one cached resolution. Season and Episode are 0 when not
// applicable (movies). Version is the resolver-version discriminant: bumping
// it in config orphans old entries without deleting them.
type Key struct {
	ContentID int
	Kind      models.MediaKind
	Season    int
	Episode   int
	Version   int
}

// Entry is a cached, ordered stream list plus its write timestamp.
type Entry struct {
	Key      Key
	Streams  []models.StreamCandidate
	CachedAt time.Time
}

// FreshAt reports whether the entry is within the freshness window at now.
func (e Entry) FreshAt(now time.Time, window time.Duration) bool {
	if e.CachedAt.IsZero() {
		return false
	}
	return now.Sub(e.CachedAt) < window
}

// Store is the cache-aside persistence for resolved streams. The resolution
// orchestrator is the sole writer; writes replace the whole stream list
// (last writer wins).
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get loads the entry for key. The second return is false when no entry
// exists.
func (s *Store) Get(ctx context.Context, key Key) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT streams, cached_at FROM stream_cache
		WHERE content_id = ? AND media_kind = ? AND season = ? AND episode = ? AND resolver_version = ?`,
		key.ContentID, key.Kind, key.Season, key.Episode, key.Version,
	)

	var (
		raw      string
		cachedAt time.Time
	)
	err := row.Scan(&raw, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read stream cache: %w", err)
	}

	entry := Entry{Key: key, CachedAt: cachedAt}
	if err := json.Unmarshal([]byte(raw), &entry.Streams); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached streams: %w", err)
	}

	return entry, true, nil
}

// Put upserts the entry for key, replacing any previous stream list and
// refreshing the cache timestamp.
func (s *Store) Put(ctx context.Context, key Key, streams []models.StreamCandidate, cachedAt time.Time) error {
	if streams == nil {
		streams = []models.StreamCandidate{}
	}
	payload, err := json.Marshal(streams)
	if err != nil {
		return fmt.Errorf("encode streams: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stream_cache (content_id, media_kind, season, episode, resolver_version, streams, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id, media_kind, season, episode, resolver_version)
		DO UPDATE SET streams = excluded.streams, cached_at = excluded.cached_at`,
		key.ContentID, key.Kind, key.Season, key.Episode, key.Version,
		string(payload), cachedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write stream cache: %w", err)
	}
	return nil
}

// Reap deletes entries cached before cutoff and returns how many rows went
// away. Retention is an operational concern, separate from the freshness
// window the read path uses.
func (s *Store) Reap(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stream_cache WHERE cached_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("reap stream cache: %w", err)
	}
	return res.RowsAffected()
}

// RunReaper periodically deletes entries older than retention until ctx is
// cancelled. Run it in its own goroutine.
func (s *Store) RunReaper(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Reap(ctx, time.Now().Add(-retention))
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[streamcache] reap failed: %v", err)
				}
				continue
			}
			if removed > 0 {
				log.Printf("[streamcache] reaped %d entries older than %s", removed, retention)
			}
		}
	}
}
