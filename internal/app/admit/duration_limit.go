package admit

import (
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osahiro/groovebox/internal/domain/track"
)

// DurationLimitConfig represents the configuration for DurationLimit.
type DurationLimitConfig struct {
	MaxSeconds int  `mapstructure:"max_seconds" default:"0" validate:"gte=0"` // 0 = unlimited
	AllowLive  bool `mapstructure:"allow_live" default:"true"`
}

// DurationLimit rejects tracks longer than a configured ceiling. Live
// streams report a zero duration and are governed by AllowLive.
type DurationLimit struct {
	config DurationLimitConfig
}

// NewDurationLimit builds the rule from loosely-typed settings.
func NewDurationLimit(settings map[string]any) (*DurationLimit, error) {
	var config DurationLimitConfig

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

	return &DurationLimit{config: config}, nil
}

func (r *DurationLimit) Name() string {
	return "duration_limit"
}

func (r *DurationLimit) Check(qt track.Queued, _ []track.Queued) error {
	if qt.Track.IsLive() {
		if !r.config.AllowLive {
			return &track.ResolveError{Kind: track.FailureNoPlayableFormat}
		}
		return nil
	}
	if r.config.MaxSeconds > 0 && qt.Track.DurationSec > r.config.MaxSeconds {
		return &track.ResolveError{Kind: track.FailureTooLong, LimitSec: r.config.MaxSeconds}
	}
	return nil
}
