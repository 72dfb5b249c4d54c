package admit

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osahiro/groovebox/internal/domain/track"
)

// ErrDuplicateTrack is returned when the requested track already waits
// in the queue.
var ErrDuplicateTrack = errors.New("track is already in the queue")

// DuplicateTrackConfig represents the configuration for DuplicateTrack.
type DuplicateTrackConfig struct {
	// MatchVariants also rejects remasters and alternate cuts of a
	// queued track: same uploader, same title after stripping version
	// decorations.
	MatchVariants bool `mapstructure:"match_variants" default:"true"`
}

// DuplicateTrack rejects requests for tracks already in the queue.
// Identity matches on source ID or page URL; with MatchVariants the
// normalized title plus uploader also counts as the same track, so a
// remaster does not slip past while a cover by someone else does.
type DuplicateTrack struct {
	config DuplicateTrackConfig
}

// NewDuplicateTrack builds the rule from loosely-typed settings.
func NewDuplicateTrack(settings map[string]any) (*DuplicateTrack, error) {
	var config DuplicateTrackConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &config,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &DuplicateTrack{config: config}, nil
}

func (r *DuplicateTrack) Name() string {
	return "duplicate_track"
}

func (r *DuplicateTrack) Check(qt track.Queued, queued []track.Queued) error {
	for _, q := range queued {
		if q.Track.ID != "" && q.Track.ID == qt.Track.ID {
			return ErrDuplicateTrack
		}
		if q.Track.SourceURL != "" && q.Track.SourceURL == qt.Track.SourceURL {
			return ErrDuplicateTrack
		}
		if r.config.MatchVariants && isVariant(q.Track, qt.Track) {
			return ErrDuplicateTrack
		}
	}
	return nil
}

// isVariant reports whether two tracks are the same song in different
// cuts. Same normalized title from a different uploader is treated as
// a cover and allowed.
func isVariant(a, b track.Track) bool {
	if a.Uploader == "" || b.Uploader == "" {
		return false
	}
	if !strings.EqualFold(a.Uploader, b.Uploader) {
		return false
	}
	return normalizeTitle(a.Title) == normalizeTitle(b.Title)
}

var titleDecorations = []*regexp.Regexp{
	regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),
	regexp.MustCompile(`\s*[(\[]remaster(ed)?\s*\d{0,4}[)\]]`),
	regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`),
	regexp.MustCompile(`\s*[(\[][^)\]]*remaster[^)\]]*[)\]]`),
	regexp.MustCompile(`\s*[(\[][^)\]]*version[)\]]`),
	regexp.MustCompile(`\s*[(\[][^)\]]*edit[)\]]`),
	regexp.MustCompile(`\s*-?\s*radio\s+edit`),
	regexp.MustCompile(`\s*-?\s*single\s+version`),
}

var titleSpaces = regexp.MustCompile(`\s+`)

// normalizeTitle strips remaster and version decorations so variants of
// the same song compare equal.
func normalizeTitle(title string) string {
	normalized := strings.ToLower(title)
	for _, pattern := range titleDecorations {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	normalized = titleSpaces.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)
	return strings.TrimRight(normalized, " -")
}
