package models

import (
	"encoding/json"
	"strings"
)

// MediaKind discriminates the content unit a stream request refers to.
type MediaKind string

const (
	MediaKindMovie  MediaKind = "movie"
	MediaKindSeries MediaKind = "series"
	MediaKindAnime  MediaKind = "anime"
)

// Valid reports whether the kind is one of the known discriminants.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaKindMovie, MediaKindSeries, MediaKindAnime:
		return true
	}
	return false
}

// StreamCandidate is one playable stream returned by an upstream provider.
// Providers disagree about everything beyond provider+url, so the shape keeps
// the fields we rely on and carries the rest as an open bag in Extra. The
// whole value is replaced wholesale on refresh, never patched in place.
type StreamCandidate struct {
	Provider string `json:"provider,omitempty"`
	Name     string `json:"name,omitempty"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url"`
	Quality  string `json:"quality,omitempty"`

	// Extra holds provider-specific metadata we do not interpret but must
	// round-trip (resolution labels, language tags, manifest hints).
	Extra map[string]json.RawMessage `json:"-"`
}

// ProviderKey returns the lowercase provider family used for ordering and
// merging. Some upstreams report the family under "name" instead of
// "provider".
func (c StreamCandidate) ProviderKey() string {
	p := c.Provider
	if p == "" {
		p = c.Name
	}
	return strings.ToLower(strings.TrimSpace(p))
}

// streamCandidateKnown lists the fields lifted out of the raw payload; the
// remainder lands in Extra.
var streamCandidateKnown = map[string]struct{}{
	"provider": {},
	"name":     {},
	"title":    {},
	"url":      {},
	"quality":  {},
}

type streamCandidateFields struct {
	Provider string `json:"provider,omitempty"`
	Name     string `json:"name,omitempty"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url"`
	Quality  string `json:"quality,omitempty"`
}

// UnmarshalJSON keeps unknown provider fields instead of dropping them.
func (c *StreamCandidate) UnmarshalJSON(data []byte) error {
	var fields streamCandidateFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Provider = fields.Provider
	c.Name = fields.Name
	c.Title = fields.Title
	c.URL = fields.URL
	c.Quality = fields.Quality
	c.Extra = nil

	for key, value := range raw {
		if _, known := streamCandidateKnown[key]; known {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[key] = value
	}

	return nil
}

// MarshalJSON flattens Extra back into the candidate object so clients see
// the provider payload they would have gotten from a live resolution.
func (c StreamCandidate) MarshalJSON() ([]byte, error) {
	flat := make(map[string]json.RawMessage, len(c.Extra)+5)
	for key, value := range c.Extra {
		flat[key] = value
	}

	known, err := json.Marshal(streamCandidateFields{
		Provider: c.Provider,
		Name:     c.Name,
		Title:    c.Title,
		URL:      c.URL,
		Quality:  c.Quality,
	})
	if err != nil {
		return nil, err
	}

	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for key, value := range knownMap {
		flat[key] = value
	}

	return json.Marshal(flat)
}
