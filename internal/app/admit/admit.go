// Package admit provides enqueue-time admission rules. A rule rejects
// a request before it reaches the queue; the rejection is returned
// synchronously to the caller and never touches the session loop.
package admit

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osahiro/groovebox/internal/domain/track"
)

// Rule checks one admission constraint against a resolved track.
// queued is a snapshot of the tracks already waiting in the session's
// queue at enqueue time.
type Rule interface {
	Name() string
	Check(qt track.Queued, queued []track.Queued) error
}

// Chain executes rules in order; the first rejection wins.
type Chain struct {
	rules []Rule
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Add appends a rule to the chain.
func (c *Chain) Add(r Rule) {
	c.rules = append(c.rules, r)
	zlog.Debug().Msgf("admit: rule registered: name=%s", r.Name())
}

// Check runs the chain. Returns the first rule rejection, or nil when
// every rule accepts.
func (c *Chain) Check(qt track.Queued, queued []track.Queued) error {
	for _, r := range c.rules {
		if err := r.Check(qt, queued); err != nil {
			return errors.Wrapf(err, "rejected by %s", r.Name())
		}
	}
	return nil
}
