// Package composite quotes and builds routes that join or exit nested pools on the way,
// executed through a batch relayer as a single transaction.
package composite

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"venue-swap/pkg/amm"
	"venue-swap/pkg/metrics"
	"venue-swap/pkg/orchestrator"
	"venue-swap/pkg/quotemath"
	"venue-swap/pkg/types"
)

// Eligible reports whether a composite route may be offered for intent. Only exact-in
// trades without the native asset qualify, and the optimizer must have found a route
// that joins or exits one of its selected pools.
func Eligible(intent types.SwapIntent, sel amm.Selection, native common.Address) bool {
	if !intent.ExactIn {
		return false
	}
	if amm.IsNative(intent.TokenIn, native) || amm.IsNative(intent.TokenOut, native) {
		return false
	}
	if !sel.Best.HasSwaps || sel.Best.ReturnAmount == nil || sel.Best.ReturnAmount.Sign() <= 0 {
		return false
	}
	return sel.Best.HasJoinExit()
}

// Quoter produces the Composite venue quote from the AMM optimizer's selection
type Quoter struct {
	reader amm.SelectionReader
	native common.Address
	ch     *orchestrator.Channel
	log    *zap.Logger

	mu        sync.RWMutex
	state     types.VenueState
	eligible  bool
	selection *amm.Selection
}

// NewQuoter creates the composite quoter
func NewQuoter(reader amm.SelectionReader, native common.Address, ch *orchestrator.Channel, log *zap.Logger) *Quoter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Quoter{reader: reader, native: native, ch: ch, log: log}
}

// State returns a copy of the venue state
func (q *Quoter) State() types.VenueState {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

// Eligible reports whether the last applied request qualified for a composite route
func (q *Quoter) Eligible() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.eligible
}

// Selection returns the selection the current quote was built from
func (q *Quoter) Selection() (amm.Selection, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.selection == nil {
		return amm.Selection{}, false
	}
	return *q.selection, true
}

// Reset supersedes any in-flight request and clears the venue state
func (q *Quoter) Reset() {
	h := q.ch.Issue()
	q.ch.Apply(h, func() {
		q.mu.Lock()
		q.state = types.VenueState{}
		q.eligible = false
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

// HandleAmountChange quotes intent from the optimizer's latest selection. It must run
// after the AMM quoter has handled the same intent.
func (q *Quoter) HandleAmountChange(_ context.Context, intent types.SwapIntent) {
	h := q.ch.Issue()
	start := time.Now()

	sel, ok := q.reader.Selection()
	eligible := ok && sameIntent(sel.Intent, intent) && Eligible(intent, sel, q.native)

	var state types.VenueState
	if eligible {
		state = types.VenueState{
			HasQuote: true,
			Quote: quotemath.MarketQuote(types.ExactIn, sel.Query.Amount, sel.Best.ReturnAmount,
				sel.DecimalsIn, sel.DecimalsOut, sel.Best.MarketSpotPrice, intent.SlippageBufferBps),
		}
	}
	metrics.QuoteLatency.WithLabelValues(orchestrator.VenueComposite.String()).Observe(time.Since(start).Seconds())

	q.ch.Apply(h, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.state = state
		q.eligible = eligible
		q.selection = nil
		if eligible {
			q.selection = &sel
		}
	})
	if eligible {
		q.log.Debug("composite route available",
			zap.Int("steps", len(sel.Best.Steps)), zap.String("return", sel.Best.ReturnAmount.String()))
	}
}

func sameIntent(a, b types.SwapIntent) bool {
	return a.TokenIn == b.TokenIn &&
		a.TokenOut == b.TokenOut &&
		a.ExactIn == b.ExactIn &&
		a.Amount.Equal(b.Amount)
}
