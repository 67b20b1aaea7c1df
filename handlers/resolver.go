package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"streamgate/models"
	"streamgate/services/resolver"
)

type streamResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (resolver.Resolution, error)
}

var _ streamResolver = (*resolver.Service)(nil)

// ResolverHandler exposes the stream-resolution endpoints for movies, series
// episodes and anime episodes.
type ResolverHandler struct {
	service streamResolver
}

func NewResolverHandler(service streamResolver) *ResolverHandler {
	return &ResolverHandler{service: service}
}

type resolveResponse struct {
	TmdbID            int                      `json:"tmdbId"`
	Season            string                   `json:"season,omitempty"`
	Episode           string                   `json:"episode,omitempty"`
	Count             int                      `json:"count"`
	Streams           []models.StreamCandidate `json:"streams"`
	Cached            bool                     `json:"cached"`
	Fresh             bool                     `json:"fresh"`
	ErrorFromUpstream bool                     `json:"errorFromUpstream,omitempty"`
}

func (h *ResolverHandler) Movie(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, models.MediaKindMovie)
}

func (h *ResolverHandler) Series(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, models.MediaKindSeries)
}

func (h *ResolverHandler) Anime(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, models.MediaKindAnime)
}

func (h *ResolverHandler) resolve(w http.ResponseWriter, r *http.Request, kind models.MediaKind) {
	// Responses must reflect the current arbitration/cache state, never an
	// intermediary's copy.
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	contentID, err := strconv.Atoi(mux.Vars(r)["contentID"])
	if err != nil || contentID <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_CONTENT_ID", "Content id must be a positive integer.")
		return
	}

	req := resolver.Request{
		ContentID: contentID,
		Kind:      kind,
		TitleHint: r.URL.Query().Get("title"),
	}

	if kind != models.MediaKindMovie {
		season, ok := queryInt(r, "season", 1)
		if !ok {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "Season must be a positive integer.")
			return
		}
		episode, ok := queryInt(r, "episode", 1)
		if !ok {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "Episode must be a positive integer.")
			return
		}
		req.Season, req.Episode = season, episode
	}

	res, err := h.service.Resolve(r.Context(), req)
	if err != nil {
		writeResolveError(w, err)
		return
	}

	resp := resolveResponse{
		TmdbID:            res.ContentID,
		Count:             len(res.Streams),
		Streams:           res.Streams,
		Cached:            res.Cached,
		Fresh:             res.Fresh,
		ErrorFromUpstream: res.ErrorFromUpstream,
	}
	if kind != models.MediaKindMovie {
		resp.Season = strconv.Itoa(res.Season)
		resp.Episode = strconv.Itoa(res.Episode)
	}

	writeJSON(w, http.StatusOK, resp)
}

// queryInt parses an optional positive integer query parameter, falling back
// to def when absent.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func writeResolveError(w http.ResponseWriter, err error) {
	var ue *resolver.UpstreamError
	if errors.As(err, &ue) && ue.Status >= 400 && ue.Status < 500 {
		// Non-retryable upstream rejections pass through as-is so clients
		// can distinguish e.g. an expired resolver key from an outage.
		writeError(w, ue.Status, "", "Stream resolver rejected the request")
		return
	}
	writeError(w, http.StatusBadGateway, "", "Stream resolver upstream error")
}
