// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Track represents one playable audio item. Immutable once created,
// except for StreamURL which is re-resolved right before playback
// (stream URLs handed out by extractors expire).
type Track struct {
	ID           string // Extractor ID, or a generated UUID when the extractor has none
	Title        string
	Uploader     string
	SourceURL    string // Canonical page URL, stable across re-resolution
	ThumbnailURL string
	DurationSec  int    // 0 denotes a live/unbounded stream
	StreamURL    string // Time-limited stream locator; empty until resolved
}

// NewID returns an identity for tracks whose extractor reports none.
func NewID() string {
	return uuid.New().String()
}

// IsLive reports whether the track is a live/unbounded stream.
func (t Track) IsLive() bool {
	return t.DurationSec == 0
}

// Duration returns the track duration as a time.Duration.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationSec) * time.Second
}

// Requester represents the user who enqueued a track.
type Requester struct {
	ID          string // Chat platform user ID
	DisplayName string
}

// Queued represents a track waiting in a playback queue.
type Queued struct {
	Track     Track
	Requester Requester
	AddedAt   time.Time
}

// FormatDuration renders a duration in seconds as M:SS or H:MM:SS.
// Zero seconds denotes a live stream.
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "LIVE"
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
