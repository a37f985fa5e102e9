// Package swap composes the venue quoters behind a single session.
//
// A Session holds the user's current intent. Every change to it, and every new block,
// triggers a recompute: all venues are re-quoted, one route is selected and the active
// venue's quote becomes the session quote. Submit executes that quote on the active
// venue.
package swap

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"venue-swap/pkg/amm"
	"venue-swap/pkg/chain"
	"venue-swap/pkg/composite"
	"venue-swap/pkg/metrics"
	"venue-swap/pkg/offchain"
	"venue-swap/pkg/orchestrator"
	"venue-swap/pkg/quotemath"
	"venue-swap/pkg/route"
	"venue-swap/pkg/tokens"
	"venue-swap/pkg/types"
)

// DefaultHighPriceImpact is the impact above which a quote is flagged
var DefaultHighPriceImpact = decimal.RequireFromString("0.05")

// ErrSubmissionFailed is what the session reports for any non-rejection submit failure
var ErrSubmissionFailed = errors.New("swap submission failed")

// Settings are the chain addresses and thresholds a session works with
type Settings struct {
	Native          common.Address
	Wrapped         common.Address
	Vault           common.Address
	Relayer         common.Address
	HighPriceImpact decimal.Decimal
	// Deadline is how long on-chain swaps stay executable. Zero means no deadline.
	Deadline time.Duration
}

// Recorder stores submitted swaps
type Recorder interface {
	Record(r types.SwapResult) (types.SwapResult, error)
}

// Deps is everything a session needs. Offchain, Orchestrator and History may be nil.
type Deps struct {
	AMM       *amm.Quoter
	Offchain  *offchain.Quoter
	Composite *composite.Quoter
	Tokens    tokens.Metadata
	Submitter chain.Submitter
	Signer    chain.Signer
	History   Recorder
	Settings  Settings
	// Orchestrator owns the venue channels; every intent change invalidates its
	// outstanding requests
	Orchestrator *orchestrator.Orchestrator
	// OnUpdate, if set, is called after every committed recompute
	OnUpdate func(View)
	Log      *zap.Logger
}

// View is a consistent copy of the session state
type View struct {
	Intent      types.SwapIntent
	Route       types.Route
	Quote       types.Quote
	HasQuote    bool
	Loading     bool
	Validation  types.Validation
	HighFees    bool
	Unavailable bool
	Trigger     orchestrator.Trigger
	Submission  error
}

// Session is the swap façade
type Session struct {
	deps   Deps
	log    *zap.Logger
	notify chan struct{}

	submitting atomic.Bool

	mu            sync.RWMutex
	intent        types.SwapIntent
	committed     uint64 // intent version of the last committed recompute
	gasless       bool
	trigger       orchestrator.Trigger
	route         types.Route
	wrapQuote     *types.Quote
	validation    types.Validation
	submissionErr error
}

// NewSession creates a session over deps
func NewSession(deps Deps) *Session {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Settings.HighPriceImpact.IsZero() {
		deps.Settings.HighPriceImpact = DefaultHighPriceImpact
	}
	if deps.Settings.Native == (common.Address{}) {
		deps.Settings.Native = chain.NativeAsset
	}
	return &Session{
		deps:   deps,
		log:    deps.Log,
		notify: make(chan struct{}, 1),
	}
}

// SetTokens changes the trading pair
func (s *Session) SetTokens(in, out common.Address) {
	s.update(orchestrator.TriggerTokens, func(i *types.SwapIntent) {
		i.TokenIn, i.TokenOut = in, out
	})
}

// SetAmount changes the fixed amount and which side it fixes
func (s *Session) SetAmount(value decimal.Decimal, exactIn bool) {
	s.update(orchestrator.TriggerAmount, func(i *types.SwapIntent) {
		i.Amount, i.ExactIn = value, exactIn
	})
}

// SetSlippageBufferBps changes the slippage buffer used for bounds
func (s *Session) SetSlippageBufferBps(bps int64) {
	s.update(orchestrator.TriggerSlippage, func(i *types.SwapIntent) {
		i.SlippageBufferBps = bps
	})
}

// SetGasless enables or disables the off-chain gasless venue
func (s *Session) SetGasless(enabled bool) {
	s.mu.Lock()
	s.gasless = enabled
	s.mu.Unlock()
	s.update(orchestrator.TriggerPreference, func(*types.SwapIntent) {})
}

// SetIntent replaces the whole intent at once
func (s *Session) SetIntent(intent types.SwapIntent) {
	s.update(orchestrator.TriggerAmount, func(i *types.SwapIntent) {
		version := i.Version
		*i = intent
		i.Version = version
	})
}

// Refresh asks for a recompute without changing the intent, e.g. after new liquidity
func (s *Session) Refresh() {
	s.mu.Lock()
	s.trigger = orchestrator.TriggerBlock
	s.mu.Unlock()
	s.wake()
}

func (s *Session) update(trigger orchestrator.Trigger, fn func(*types.SwapIntent)) {
	s.mu.Lock()
	fn(&s.intent)
	s.intent.Version++
	s.trigger = trigger
	s.submissionErr = nil
	if s.deps.Orchestrator != nil {
		s.deps.Orchestrator.InvalidateAll()
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Settings returns the settings the session was created with, defaults applied
func (s *Session) Settings() Settings {
	return s.deps.Settings
}

// Intent returns the current intent
func (s *Session) Intent() types.SwapIntent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intent
}

// HandleAmountChange re-quotes every venue for the current intent and selects a route.
// Results of a recompute that was overtaken by a newer intent are not committed.
func (s *Session) HandleAmountChange(ctx context.Context) {
	s.mu.RLock()
	intent := s.intent
	gasless := s.gasless
	trigger := s.trigger
	s.mu.RUnlock()

	// a timeout seen on the previous round only takes effect on this one
	prevUnavailable := s.deps.Offchain != nil && s.deps.Offchain.State().Unavailable
	s.resetVenues()

	st := s.deps.Settings
	if !intent.Ready() {
		s.commit(intent, types.RouteDirectAMM, nil, types.ValidationNone)
		return
	}

	if route.IsWrapPair(intent.TokenIn, intent.TokenOut, st.Native, st.Wrapped) {
		q, err := s.wrapQuoteFor(ctx, intent)
		if err != nil {
			s.log.Warn("wrap quote failed", zap.Error(err))
			s.commit(intent, types.RouteWrapUnwrap, nil, types.ValidationNone)
			return
		}
		validation := s.validate(ctx, intent, types.VenueState{Quote: *q, HasQuote: true})
		s.commit(intent, types.RouteWrapUnwrap, q, validation)
		return
	}

	// a native sell always routes to the AMM, so the off-chain venue is not asked
	offchainEnabled := gasless && s.deps.Offchain != nil && s.deps.Offchain.SupportsNetwork() &&
		!amm.IsNative(intent.TokenIn, st.Native)

	var g errgroup.Group
	g.Go(func() error {
		s.deps.AMM.HandleAmountChange(ctx, intent)
		return nil
	})
	if offchainEnabled {
		g.Go(func() error {
			s.deps.Offchain.HandleAmountChange(ctx, intent)
			return nil
		})
	}
	_ = g.Wait()
	// composite reads the AMM optimizer's selection for this same intent
	s.deps.Composite.HandleAmountChange(ctx, intent)

	in := route.Inputs{
		TokenIn:           intent.TokenIn,
		TokenOut:          intent.TokenOut,
		Native:            st.Native,
		Wrapped:           st.Wrapped,
		GaslessEnabled:    gasless,
		CompositeEligible: s.deps.Composite.Eligible(),
		CompositeHasQuote: s.deps.Composite.State().HasQuote,
	}
	if s.deps.Offchain != nil {
		in.OffchainSupportsNetwork = s.deps.Offchain.SupportsNetwork()
		in.OffchainUnavailable = prevUnavailable && !s.deps.Offchain.State().HasQuote
	}
	selected := route.Select(in)

	validation := s.validate(ctx, intent, s.venueState(selected))
	if s.commit(intent, selected, nil, validation) {
		s.log.Debug("recomputed",
			zap.Stringer("trigger", trigger),
			zap.Stringer("route", selected),
			zap.Uint64("intent", intent.Version))
	}
}

// commit stores the outcome of a recompute unless the intent changed meanwhile
func (s *Session) commit(intent types.SwapIntent, selected types.Route, wrap *types.Quote, validation types.Validation) bool {
	s.mu.Lock()
	if s.intent.Version != intent.Version {
		s.mu.Unlock()
		return false
	}
	prev := s.route
	s.committed = intent.Version
	s.route = selected
	s.wrapQuote = wrap
	s.validation = validation
	s.mu.Unlock()

	if prev != selected {
		s.clearInactiveWarnings(selected)
	}
	metrics.RouteSelected.WithLabelValues(selected.String()).Inc()

	if s.deps.OnUpdate != nil {
		s.deps.OnUpdate(s.Snapshot())
	}
	return true
}

func (s *Session) resetVenues() {
	s.deps.AMM.Reset()
	s.deps.Composite.Reset()
	if s.deps.Offchain != nil {
		s.deps.Offchain.Reset()
	}
}

func (s *Session) clearInactiveWarnings(active types.Route) {
	if active != types.RouteDirectAMM {
		s.deps.AMM.ClearWarnings()
	}
	if active != types.RouteComposite {
		s.deps.Composite.ClearWarnings()
	}
	if active != types.RouteOffchainGasless && s.deps.Offchain != nil {
		s.deps.Offchain.ClearWarnings()
	}
}

// wrapQuoteFor prices a wrap or unwrap, which always trades 1:1
func (s *Session) wrapQuoteFor(ctx context.Context, intent types.SwapIntent) (*types.Quote, error) {
	decimals, err := s.deps.Tokens.Decimals(ctx, intent.TokenIn)
	if err != nil {
		return nil, err
	}
	amount := quotemath.ToRaw(intent.Amount, decimals)
	return &types.Quote{
		FeeAmountInToken:  new(big.Int),
		FeeAmountOutToken: new(big.Int),
		MaximumInAmount:   amount,
		MinimumOutAmount:  amount,
		ReturnAmount:      amount,
		TokenInAmount:     amount,
		TokenOutAmount:    amount,
		MarketSpotPrice:   decimal.NewFromInt(1),
		PriceImpact:       decimal.Zero,
	}, nil
}

// validate computes the blocking condition for the selected venue's quote
func (s *Session) validate(ctx context.Context, intent types.SwapIntent, state types.VenueState) types.Validation {
	if state.Validation != types.ValidationNone {
		return state.Validation
	}
	if !state.HasQuote {
		return types.ValidationNone
	}

	balance, err := s.deps.Tokens.Balance(ctx, intent.TokenIn)
	if err != nil {
		s.log.Debug("balance check skipped", zap.Error(err))
	} else if state.Quote.MaximumInAmount != nil && state.Quote.MaximumInAmount.Cmp(balance) > 0 {
		return types.ValidationPriceExceedsBalance
	}

	if state.Quote.PriceImpact.GreaterThan(s.deps.Settings.HighPriceImpact) {
		return types.ValidationHighPriceImpact
	}
	return types.ValidationNone
}

func (s *Session) venueState(r types.Route) types.VenueState {
	switch r {
	case types.RouteOffchainGasless:
		if s.deps.Offchain == nil {
			return types.VenueState{}
		}
		return s.deps.Offchain.State()
	case types.RouteComposite:
		return s.deps.Composite.State()
	case types.RouteWrapUnwrap:
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.wrapQuote == nil {
			return types.VenueState{}
		}
		return types.VenueState{Quote: *s.wrapQuote, HasQuote: true}
	default:
		return s.deps.AMM.State()
	}
}

// ActiveRoute returns the selected route
func (s *Session) ActiveRoute() types.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.route
}

// current reports whether the committed route and validation belong to the current
// intent. It is false between an intent change and the recompute that follows it.
func (s *Session) current() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed == s.intent.Version
}

// Quote returns the active venue's quote. There is none until the current intent has
// been recomputed.
func (s *Session) Quote() (types.Quote, bool) {
	if !s.current() {
		return types.Quote{}, false
	}
	state := s.venueState(s.ActiveRoute())
	return state.Quote, state.HasQuote
}

// IsLoading is true until the active venue settles on a usable quote or a blocking
// condition. A wrap route never loads.
func (s *Session) IsLoading() bool {
	r := s.ActiveRoute()
	if r == types.RouteWrapUnwrap {
		return false
	}
	s.mu.RLock()
	validation := s.validation
	ready := s.intent.Ready()
	pending := s.committed != s.intent.Version
	s.mu.RUnlock()
	if !ready {
		return false
	}
	if pending {
		return true
	}
	if validation != types.ValidationNone {
		return false
	}
	state := s.venueState(r)
	if state.HasQuote && state.Quote.NonDegenerate() {
		return false
	}
	return state.Err == nil
}

// ValidationError returns the condition blocking submission, if any
func (s *Session) ValidationError() (types.Validation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validation, s.validation != types.ValidationNone
}

// SubmissionError returns the error of the last failed submission
func (s *Session) SubmissionError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.submissionErr
}

// Snapshot returns a consistent view of the session for display
func (s *Session) Snapshot() View {
	r := s.ActiveRoute()
	state := s.venueState(r)
	if !s.current() {
		state = types.VenueState{}
	}

	s.mu.RLock()
	v := View{
		Intent:     s.intent,
		Route:      r,
		Quote:      state.Quote,
		HasQuote:   state.HasQuote,
		Validation: s.validation,
		HighFees:   state.HighFees,
		Trigger:    s.trigger,
		Submission: s.submissionErr,
	}
	s.mu.RUnlock()

	if s.deps.Offchain != nil {
		v.Unavailable = s.deps.Offchain.State().Unavailable
	}
	v.Loading = s.IsLoading()
	return v
}

// Run is the session's event loop. It recomputes after every setter call and every
// new block until ctx is done.
func (s *Session) Run(ctx context.Context, blocks <-chan uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
			s.HandleAmountChange(ctx)
		case height, ok := <-blocks:
			if !ok {
				blocks = nil
				continue
			}
			s.mu.Lock()
			s.trigger = orchestrator.TriggerBlock
			s.mu.Unlock()
			s.log.Debug("new block", zap.Uint64("height", height))
			s.HandleAmountChange(ctx)
		}
	}
}
