// Package session provides the per-guild playback session: the state
// machine, the control loop, and the command surface the chat gateway
// calls into.
package session

import "strings"

// State represents the playback session state.
type State int

const (
	StateIdle      State = iota // No current track
	StateResolving              // Refreshing the stream locator for the next track
	StatePlaying                // Transport is outputting audio
	StatePaused                 // Transport holds position
	StateDraining               // Post-track cleanup before re-evaluating the queue
	StateDestroyed              // Terminal; loop has exited
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDraining:
		return "draining"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// RepeatMode controls how the session advances after a track ends.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota // Advance through the queue
	RepeatOne                   // Replay the current track (re-resolved)
	RepeatAll                   // Append finished tracks to the back of the queue
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseRepeatMode parses a user-supplied repeat mode string.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(s) {
	case "off":
		return RepeatOff, nil
	case "one":
		return RepeatOne, nil
	case "all":
		return RepeatAll, nil
	default:
		return RepeatOff, ErrInvalidRepeatMode
	}
}
