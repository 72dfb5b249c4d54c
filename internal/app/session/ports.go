package session

import (
	"context"

	"github.com/osahiro/groovebox/internal/domain/track"
)

// Resolver turns a user query into track metadata and a stream
// locator. Both calls are network-bound; the session never invokes
// them on its control-decision path.
type Resolver interface {
	// Resolve resolves a search string or URL to a track with display
	// metadata. Returns *track.ResolveError on failure.
	Resolve(ctx context.Context, query string) (track.Track, error)

	// Regather refreshes the (time-limited) stream locator of an
	// already-resolved track immediately before playback.
	Regather(ctx context.Context, t track.Track) (track.Track, error)
}

// PlayResult is the transport's completion notification, delivered
// exactly once per Play call.
type PlayResult struct {
	Err   error
	Fatal bool // True when the transport cannot recover (session must tear down)
}

// Handle controls one in-flight playback started by Transport.Play.
type Handle interface {
	Pause() error
	Resume() error
	// Stop aborts playback. The completion notification is still
	// delivered on Done exactly once.
	Stop() error
	SetVolume(v float64) error
	Done() <-chan PlayResult
}

// Transport sends audio for one guild to its voice channel. Completion
// notifications may originate from the transport's own goroutines; the
// session marshals them into its loop.
type Transport interface {
	Connect(ctx context.Context, voiceChannelID string) error
	Move(ctx context.Context, voiceChannelID string) error
	Disconnect() error
	Play(ctx context.Context, streamURL string, volume float64) (Handle, error)
}
