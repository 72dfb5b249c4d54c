// Package vote provides the skip-vote coordinator.
package vote

import "sync"

// Result represents the outcome of registering a skip vote.
type Result int

const (
	ResultRecorded Result = iota // Vote counted, threshold not reached
	ResultImmediateSkip          // Threshold reached or bypassed
	ResultAlreadyVoted           // Voter already voted for this track
)

// String returns the string representation of the result.
func (r Result) String() string {
	switch r {
	case ResultRecorded:
		return "recorded"
	case ResultImmediateSkip:
		return "immediate_skip"
	case ResultAlreadyVoted:
		return "already_voted"
	default:
		return "unknown"
	}
}

// Outcome carries the result of a vote plus the running tally.
type Outcome struct {
	Result   Result
	Count    int // Votes recorded for the current track
	Required int // Votes needed to skip
}

// Coordinator collects skip votes for the current track of one
// session. Votes are cleared whenever the session advances.
type Coordinator struct {
	mu     sync.Mutex
	voters map[string]struct{}
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{voters: make(map[string]struct{})}
}

// Required computes the vote threshold for the given number of
// eligible voters: a strict majority.
func Required(eligible int) int {
	if eligible < 1 {
		return 1
	}
	return eligible/2 + 1
}

// Register records a skip vote. privileged bypasses the threshold
// (elevated permission), as does alone (the voter is the only
// eligible listener).
func (c *Coordinator) Register(voterID string, eligible int, privileged, alone bool) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	required := Required(eligible)

	if privileged || alone {
		return Outcome{Result: ResultImmediateSkip, Count: len(c.voters), Required: required}
	}

	if _, ok := c.voters[voterID]; ok {
		return Outcome{Result: ResultAlreadyVoted, Count: len(c.voters), Required: required}
	}

	c.voters[voterID] = struct{}{}
	count := len(c.voters)
	if count >= required {
		return Outcome{Result: ResultImmediateSkip, Count: count, Required: required}
	}
	return Outcome{Result: ResultRecorded, Count: count, Required: required}
}

// Count returns the number of votes recorded for the current track.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.voters)
}

// Reset clears all votes. Called whenever the current track changes.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voters = make(map[string]struct{})
}
