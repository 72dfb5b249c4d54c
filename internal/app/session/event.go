package session

import "github.com/osahiro/groovebox/internal/domain/track"

// EventType represents a session event type.
type EventType int

const (
	EventTrackStarted EventType = iota // Playback of a track began
	EventTrackEnded                    // Track finished naturally
	EventTrackSkipped                  // Track was skipped (direct or vote)
	EventTrackFailed                   // Track could not be resolved or played
	EventStateChanged                  // Pause/resume
	EventDestroyed                     // Session tore down
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventTrackFailed:
		return "track_failed"
	case EventStateChanged:
		return "state_changed"
	case EventDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Event is delivered on the session's event channel. The chat gateway
// consumes it to render status messages to the text target.
type Event struct {
	Type   EventType
	Track  *track.Queued // nil for events without a track
	State  State
	Err    error  // Set for EventTrackFailed
	Reason string // Set for EventDestroyed: "idle_timeout", "leave", "transport_error"
}
