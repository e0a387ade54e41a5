// Package types provides shared type definitions used across the playerd daemon.
package types

import "fmt"

// Source identifies where a playable item comes from
type Source string

const (
	SourceLocal    Source = "local"
	SourceExternal Source = "external"
)

// ItemKey is the stable identity of a playable item independent of the
// local database row id.
type ItemKey struct {
	Source        Source `json:"source"`
	SourceTrackID string `json:"sourceTrackId"`
}

// String returns "source:id"
func (k ItemKey) String() string {
	return fmt.Sprintf("%s:%s", k.Source, k.SourceTrackID)
}

// PlaybackItem is a playable unit with enough metadata to render and display.
// It is a value type; queue entries are copies.
type PlaybackItem struct {
	ID            int64    `json:"id"`
	Source        Source   `json:"source"`
	SourceTrackID string   `json:"sourceTrackId"`
	FileURI       string   `json:"fileUri,omitempty"`
	ArtworkURI    string   `json:"artworkUri,omitempty"`
	Title         string   `json:"title"`
	Artist        string   `json:"artist,omitempty"`
	Album         string   `json:"album,omitempty"`
	Duration      *float64 `json:"duration,omitempty"` // seconds
	ArtistID      *int64   `json:"artistId,omitempty"`
}

// Key returns the item's (source, sourceTrackId) identity
func (p PlaybackItem) Key() ItemKey {
	return ItemKey{Source: p.Source, SourceTrackID: p.SourceTrackID}
}

// KnownDuration returns the duration in seconds, or 0 when unknown
func (p PlaybackItem) KnownDuration() float64 {
	if p.Duration == nil {
		return 0
	}
	return *p.Duration
}

// RepeatMode represents the repeat behavior
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatOne
	RepeatAll
)

// String returns the string representation of the repeat mode
func (r RepeatMode) String() string {
	switch r {
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "off"
	}
}

// ParseRepeatMode parses a string into a RepeatMode
func ParseRepeatMode(s string) RepeatMode {
	switch s {
	case "one":
		return RepeatOne
	case "all":
		return RepeatAll
	default:
		return RepeatOff
	}
}

// MissingReason classifies why a resource could not be opened
type MissingReason string

const (
	MissingNotFound   MissingReason = "notFound"
	MissingPermission MissingReason = "permission"
	MissingInvalidURI MissingReason = "invalidUri"
)
