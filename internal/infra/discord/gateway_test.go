package discord

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/osahiro/groovebox/internal/domain/track"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "Age restricted",
			err:  &track.ResolveError{Kind: track.FailureAgeRestricted},
			want: "That track is age-restricted and cannot be played.",
		},
		{
			name: "Copyright blocked",
			err:  &track.ResolveError{Kind: track.FailureCopyrightBlocked},
			want: "That track is blocked in this region.",
		},
		{
			name: "Unavailable",
			err:  &track.ResolveError{Kind: track.FailureUnavailable},
			want: "That track is unavailable.",
		},
		{
			name: "Too long with limit",
			err:  &track.ResolveError{Kind: track.FailureTooLong, LimitSec: 600},
			want: "That track is too long (limit 10:00).",
		},
		{
			name: "Too long wrapped by admission chain",
			err:  errors.Wrap(&track.ResolveError{Kind: track.FailureTooLong, LimitSec: 600}, "rejected by duration_limit"),
			want: "That track is too long (limit 10:00).",
		},
		{
			name: "Unknown resolve failure",
			err:  &track.ResolveError{Kind: track.FailureUnknown},
			want: "The track could not be resolved.",
		},
		{
			name: "Plain engine error",
			err:  errors.New("not playing"),
			want: "Not playing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, userMessage(tt.err))
		})
	}
}

func TestTrackLink(t *testing.T) {
	withURL := track.Track{Title: "Song", SourceURL: "https://example.com/w"}
	assert.Equal(t, "[Song](https://example.com/w)", trackLink(withURL))

	withoutURL := track.Track{Title: "Song"}
	assert.Equal(t, "**Song**", trackLink(withoutURL))
}

func TestThumbnail(t *testing.T) {
	assert.Nil(t, thumbnail(track.Track{}))

	th := thumbnail(track.Track{ThumbnailURL: "https://i.example.com/t.jpg"})
	assert.NotNil(t, th)
	assert.Equal(t, "https://i.example.com/t.jpg", th.URL)
}
