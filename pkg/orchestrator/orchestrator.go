// Package orchestrator gives every quote venue "last request wins" semantics.
//
// Each venue owns a Channel with a monotonic request token. A quoter issues a handle
// before it starts a request and commits the response through Apply, which runs only if
// no newer handle was issued in the meantime. In-flight calls are never cancelled; their
// results are just dropped.
package orchestrator

import (
	"sync"

	"go.uber.org/zap"

	"venue-swap/pkg/metrics"
)

// Venue identifies an orchestration channel
type Venue int

const (
	VenueAMM Venue = iota
	VenueOffchain
	VenueComposite
)

func (v Venue) String() string {
	switch v {
	case VenueAMM:
		return "amm"
	case VenueOffchain:
		return "offchain"
	case VenueComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// Trigger is the reason a recompute was started
type Trigger int

const (
	TriggerTokens Trigger = iota
	TriggerAmount
	TriggerBlock
	TriggerSlippage
	TriggerPreference
)

func (t Trigger) String() string {
	switch t {
	case TriggerTokens:
		return "tokens"
	case TriggerAmount:
		return "amount"
	case TriggerBlock:
		return "block"
	case TriggerSlippage:
		return "slippage"
	case TriggerPreference:
		return "preference"
	default:
		return "unknown"
	}
}

// Handle identifies one issued request on a channel
type Handle struct {
	venue Venue
	token uint64
}

// Token returns the request token captured by the handle
func (h Handle) Token() uint64 {
	return h.token
}

// Channel sequences the requests of a single venue
type Channel struct {
	venue Venue
	log   *zap.Logger

	mu      sync.Mutex
	current uint64
}

// NewChannel creates a standalone channel for a venue
func NewChannel(venue Venue, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{venue: venue, log: log}
}

// Issue supersedes every earlier handle and returns a new one
func (c *Channel) Issue() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	return Handle{venue: c.venue, token: c.current}
}

// IsStale reports whether a newer handle has been issued since h
func (c *Channel) IsStale(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return h.token != c.current
}

// Apply runs fn only while h is still the current handle. No Issue can interleave
// between the check and fn, so a committed result always belongs to the latest request.
func (c *Channel) Apply(h Handle, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.token != c.current {
		metrics.StaleResponses.WithLabelValues(c.venue.String()).Inc()
		c.log.Debug("discarding stale response",
			zap.Stringer("venue", c.venue),
			zap.Uint64("token", h.token),
			zap.Uint64("current", c.current))
		return false
	}
	fn()
	return true
}

// Orchestrator owns one channel per venue for a swap session
type Orchestrator struct {
	log *zap.Logger

	mu       sync.Mutex
	channels map[Venue]*Channel
}

// New creates an orchestrator
func New(log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		log:      log,
		channels: make(map[Venue]*Channel),
	}
}

// Channel returns the channel for a venue, creating it on first use
func (o *Orchestrator) Channel(v Venue) *Channel {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch, ok := o.channels[v]
	if !ok {
		ch = NewChannel(v, o.log)
		o.channels[v] = ch
	}
	return ch
}

// InvalidateAll makes every outstanding handle stale
func (o *Orchestrator) InvalidateAll() {
	o.mu.Lock()
	channels := make([]*Channel, 0, len(o.channels))
	for _, ch := range o.channels {
		channels = append(channels, ch)
	}
	o.mu.Unlock()

	for _, ch := range channels {
		ch.Issue()
	}
}
