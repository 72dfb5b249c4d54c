// Package ytdlp provides the track resolver backed by the yt-dlp
// extractor.
package ytdlp

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osahiro/groovebox/internal/domain/track"
)

// Config represents resolver configuration.
type Config struct {
	ForceIPv4 bool
	Timeout   time.Duration // Per-call ceiling for extractor invocations
}

// Resolver resolves queries and refreshes stream locators via yt-dlp.
// Safe for concurrent use; every call spawns its own extractor
// process.
type Resolver struct {
	cfg Config
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// printFormat is the tab-separated field list requested from the
// extractor. Field order must match parseLine.
const printFormat = "%(id)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(thumbnail)s\t%(webpage_url)s\t%(url)s"

// Resolve resolves a search string or URL to a track with display
// metadata and an initial stream locator.
func (r *Resolver) Resolve(ctx context.Context, query string) (track.Track, error) {
	target := query
	if !strings.HasPrefix(query, "http://") && !strings.HasPrefix(query, "https://") {
		// Bare search terms go through the extractor's search, first
		// hit wins.
		target = "ytsearch1:" + query
	}
	return r.extract(ctx, target)
}

// Regather refreshes the time-limited stream locator of an
// already-resolved track, immediately before playback.
func (r *Resolver) Regather(ctx context.Context, t track.Track) (track.Track, error) {
	if t.SourceURL == "" {
		return track.Track{}, &track.ResolveError{Kind: track.FailureUnavailable}
	}

	fresh, err := r.extract(ctx, t.SourceURL)
	if err != nil {
		return track.Track{}, err
	}

	// Keep the original identity and metadata; only the locator is
	// considered fresh.
	t.StreamURL = fresh.StreamURL
	return t, nil
}

func (r *Resolver) extract(ctx context.Context, target string) (track.Track, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := []string{"--skip-download"}
	if r.cfg.ForceIPv4 {
		args = append(args, "--force-ipv4")
	}
	args = append(args, target)

	res, err := ytdlp.New().
		Print(printFormat).
		Format("bestaudio/best").
		NoPlaylist().
		NoCheckFormats().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, args...)

	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		zlog.Debug().Msgf("ytdlp: extraction failed: target=%s err=%v", target, err)
		return track.Track{}, classify(stderr, err)
	}

	t, ok := parseLine(firstLine(res.Stdout))
	if !ok {
		return track.Track{}, &track.ResolveError{Kind: track.FailureUnknown, Cause: errors.New("unparseable extractor output")}
	}
	if t.StreamURL == "" {
		return track.Track{}, &track.ResolveError{Kind: track.FailureNoPlayableFormat}
	}
	return t, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// parseLine parses one tab-separated printFormat line.
func parseLine(line string) (track.Track, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) < 7 {
		return track.Track{}, false
	}

	t := track.Track{
		ID:           field(parts[0]),
		Title:        field(parts[1]),
		Uploader:     field(parts[2]),
		ThumbnailURL: field(parts[4]),
		SourceURL:    field(parts[5]),
		StreamURL:    field(parts[6]),
	}
	if t.ID == "" {
		t.ID = track.NewID()
	}

	// Live streams report no duration; anything unparseable counts as
	// live/unbounded rather than failing the whole track.
	if d := field(parts[3]); d != "" {
		if f, err := strconv.ParseFloat(d, 64); err == nil && f > 0 {
			t.DurationSec = int(f)
		}
	}
	return t, true
}

// field normalizes yt-dlp's "NA" placeholder to an empty string.
func field(s string) string {
	if s == "NA" {
		return ""
	}
	return s
}

// classify maps extractor stderr output onto resolver failure kinds.
func classify(stderr string, cause error) error {
	msg := strings.ToLower(stderr)
	if msg == "" && cause != nil {
		msg = strings.ToLower(cause.Error())
	}

	kind := track.FailureUnknown
	switch {
	case strings.Contains(msg, "sign in to confirm your age"),
		strings.Contains(msg, "age-restricted"),
		strings.Contains(msg, "age restricted"):
		kind = track.FailureAgeRestricted
	case strings.Contains(msg, "copyright"),
		strings.Contains(msg, "blocked in your country"),
		strings.Contains(msg, "who has blocked it"):
		kind = track.FailureCopyrightBlocked
	case strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "private video"),
		strings.Contains(msg, "has been removed"),
		strings.Contains(msg, "does not exist"):
		kind = track.FailureUnavailable
	case strings.Contains(msg, "requested format is not available"),
		strings.Contains(msg, "no video formats"),
		strings.Contains(msg, "drm"):
		kind = track.FailureNoPlayableFormat
	}

	return &track.ResolveError{Kind: kind, Cause: cause}
}
