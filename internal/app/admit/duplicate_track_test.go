package admit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osahiro/groovebox/internal/domain/track"
)

func queuedTrack(id, title, uploader string) track.Queued {
	return track.Queued{Track: track.Track{ID: id, Title: title, Uploader: uploader, SourceURL: "https://example.com/" + id}}
}

func TestDuplicateTrack_Check(t *testing.T) {
	tests := []struct {
		name       string
		settings   map[string]any
		queued     []track.Queued
		request    track.Queued
		wantReject bool
	}{
		{
			name:       "Empty queue accepts",
			queued:     nil,
			request:    queuedTrack("a", "Song", "Artist"),
			wantReject: false,
		},
		{
			name:       "Same ID rejected",
			queued:     []track.Queued{queuedTrack("a", "Song", "Artist")},
			request:    queuedTrack("a", "Song (different metadata)", "Artist"),
			wantReject: true,
		},
		{
			name: "Same source URL rejected",
			queued: []track.Queued{
				{Track: track.Track{ID: "x", SourceURL: "https://example.com/watch?v=1"}},
			},
			request:    track.Queued{Track: track.Track{ID: "y", SourceURL: "https://example.com/watch?v=1"}},
			wantReject: true,
		},
		{
			name:       "Remaster of queued track rejected",
			queued:     []track.Queued{queuedTrack("a", "Song", "Artist")},
			request:    queuedTrack("b", "Song - 2011 Remaster", "Artist"),
			wantReject: true,
		},
		{
			name:       "Cover by another uploader accepted",
			queued:     []track.Queued{queuedTrack("a", "Song", "Artist")},
			request:    queuedTrack("b", "Song", "Other Artist"),
			wantReject: false,
		},
		{
			name:       "Different song same uploader accepted",
			queued:     []track.Queued{queuedTrack("a", "Song One", "Artist")},
			request:    queuedTrack("b", "Song Two", "Artist"),
			wantReject: false,
		},
		{
			name:       "Variant matching disabled",
			settings:   map[string]any{"match_variants": false},
			queued:     []track.Queued{queuedTrack("a", "Song", "Artist")},
			request:    queuedTrack("b", "Song - 2011 Remaster", "Artist"),
			wantReject: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := NewDuplicateTrack(tt.settings)
			require.NoError(t, err)

			err = rule.Check(tt.request, tt.queued)
			if tt.wantReject {
				assert.ErrorIs(t, err, ErrDuplicateTrack)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "Plain title untouched", title: "Blue Monday", want: "blue monday"},
		{name: "Year remaster suffix", title: "Blue Monday - 2011 Remaster", want: "blue monday"},
		{name: "Parenthesized remaster", title: "Blue Monday (Remastered 2023)", want: "blue monday"},
		{name: "Bracketed remaster", title: "Blue Monday [Remastered]", want: "blue monday"},
		{name: "Radio edit", title: "Blue Monday - Radio Edit", want: "blue monday"},
		{name: "Single version", title: "Blue Monday (Single Version)", want: "blue monday"},
		{name: "Whitespace collapsed", title: "Blue    Monday", want: "blue monday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeTitle(tt.title))
		})
	}
}
