package amm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"venue-swap/pkg/chain"
	"venue-swap/pkg/metrics"
	"venue-swap/pkg/orchestrator"
	"venue-swap/pkg/quotemath"
	"venue-swap/pkg/tokens"
	"venue-swap/pkg/types"
)

// Selection is a best-route answer together with the request it belongs to
type Selection struct {
	Intent      types.SwapIntent
	Query       Query
	Best        BestSwap
	DecimalsIn  int32
	DecimalsOut int32
}

// SelectionReader exposes the optimizer's latest join/exit-enabled selection without
// letting the reader change it.
type SelectionReader interface {
	Selection() (Selection, bool)
}

// Quoter produces the DirectAMM venue quote
type Quoter struct {
	swapper Swapper
	meta    tokens.Metadata
	native  common.Address
	wrapped common.Address
	ch      *orchestrator.Channel
	log     *zap.Logger

	mu        sync.RWMutex
	state     types.VenueState
	route     *Selection
	selection *Selection
}

// NewQuoter creates the DirectAMM quoter. Legs in the native asset are priced through
// wrapped; native may be zero to only recognise the built-in pseudo addresses.
func NewQuoter(swapper Swapper, meta tokens.Metadata, native, wrapped common.Address, ch *orchestrator.Channel, log *zap.Logger) *Quoter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Quoter{swapper: swapper, meta: meta, native: native, wrapped: wrapped, ch: ch, log: log}
}

// IsNative reports whether addr stands for the gas token, either as one of the built-in
// pseudo addresses or as the configured native address.
func IsNative(addr, native common.Address) bool {
	return chain.IsNative(addr) || (native != (common.Address{}) && addr == native)
}

// State returns a copy of the venue state
func (q *Quoter) State() types.VenueState {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

// Route returns the swap-only selection the DirectAMM quote was built from
func (q *Quoter) Route() (Selection, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.route == nil {
		return Selection{}, false
	}
	return *q.route, true
}

// Selection implements SelectionReader
func (q *Quoter) Selection() (Selection, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.selection == nil {
		return Selection{}, false
	}
	return *q.selection, true
}

// Reset supersedes any in-flight request and clears the venue state
func (q *Quoter) Reset() {
	h := q.ch.Issue()
	q.ch.Apply(h, func() {
		q.mu.Lock()
		q.state = types.VenueState{}
		q.route = nil
		q.selection = nil
		q.mu.Unlock()
	})
}

// ClearWarnings drops validation and warning flags but keeps the quote
func (q *Quoter) ClearWarnings() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state.Validation = types.ValidationNone
	q.state.HighFees = false
}

// HandleAmountChange quotes intent. The result is committed only if no newer request
// was issued meanwhile; failures end up in the venue state.
func (q *Quoter) HandleAmountChange(ctx context.Context, intent types.SwapIntent) {
	h := q.ch.Issue()
	q.ch.Apply(h, func() {
		q.mu.Lock()
		q.state = types.VenueState{Loading: true}
		q.route = nil
		q.selection = nil
		q.mu.Unlock()
	})

	start := time.Now()
	route, selection, err := q.quote(ctx, h, intent)
	metrics.QuoteLatency.WithLabelValues(orchestrator.VenueAMM.String()).Observe(time.Since(start).Seconds())

	q.ch.Apply(h, func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		if err != nil {
			metrics.QuoteFailures.WithLabelValues(orchestrator.VenueAMM.String(), "error").Inc()
			q.log.Warn("amm quote failed", zap.Error(err), zap.Uint64("intent", intent.Version))
			q.state = types.VenueState{Err: err}
			return
		}

		q.selection = selection
		if !route.Best.HasSwaps {
			metrics.QuoteFailures.WithLabelValues(orchestrator.VenueAMM.String(), "no_route").Inc()
			q.state = types.VenueState{Validation: types.ValidationNoRoute}
			return
		}
		q.route = route
		q.state = types.VenueState{
			HasQuote: true,
			Quote: quotemath.MarketQuote(intent.Direction(), route.Query.Amount, route.Best.ReturnAmount,
				route.DecimalsIn, route.DecimalsOut, route.Best.MarketSpotPrice, intent.SlippageBufferBps),
		}
	})
}

func (q *Quoter) quote(ctx context.Context, h orchestrator.Handle, intent types.SwapIntent) (*Selection, *Selection, error) {
	decIn, err := q.meta.Decimals(ctx, intent.TokenIn)
	if err != nil {
		return nil, nil, fmt.Errorf("decimals of token in: %w", err)
	}
	decOut, err := q.meta.Decimals(ctx, intent.TokenOut)
	if err != nil {
		return nil, nil, fmt.Errorf("decimals of token out: %w", err)
	}

	fixedDecimals := decIn
	if !intent.ExactIn {
		fixedDecimals = decOut
	}
	query := Query{
		TokenIn:     q.poolAsset(intent.TokenIn),
		TokenOut:    q.poolAsset(intent.TokenOut),
		DecimalsIn:  decIn,
		DecimalsOut: decOut,
		Direction:   intent.Direction(),
		Amount:      quotemath.ToRaw(intent.Amount, fixedDecimals),
	}

	best, err := q.swapper.BestSwap(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("best swap: %w", err)
	}
	route := &Selection{Intent: intent, Query: query, Best: best, DecimalsIn: decIn, DecimalsOut: decOut}

	// join/exit routes are only ever executed as exact-in relayer batches without the
	// native asset, so skip the second search otherwise
	if !intent.ExactIn || IsNative(intent.TokenIn, q.native) || IsNative(intent.TokenOut, q.native) {
		return route, nil, nil
	}
	// superseded meanwhile, nothing of this request will be applied
	if q.ch.IsStale(h) {
		return route, nil, nil
	}
	jq := query
	jq.JoinExit = true
	joinExit, err := q.swapper.BestSwap(ctx, jq)
	if err != nil {
		return nil, nil, fmt.Errorf("best join/exit swap: %w", err)
	}
	return route, &Selection{Intent: intent, Query: jq, Best: joinExit, DecimalsIn: decIn, DecimalsOut: decOut}, nil
}

func (q *Quoter) poolAsset(addr common.Address) common.Address {
	if IsNative(addr, q.native) && q.wrapped != (common.Address{}) {
		return q.wrapped
	}
	return addr
}
