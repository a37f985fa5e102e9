package offchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
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

const (
	DefaultQuoteTimeout = 5 * time.Second
	DefaultValidFor     = 20 * time.Minute
	DefaultPollInterval = 3 * time.Second
)

// Config tunes the off-chain quoter
type Config struct {
	ChainID      int64
	QuoteTimeout time.Duration
	ValidFor     time.Duration
	PollInterval time.Duration
	AppData      common.Hash
	Domain       Domain
}

// Quoter produces the OffchainGasless venue quote
type Quoter struct {
	venue Venue
	meta  tokens.Metadata
	ch    *orchestrator.Channel
	cfg   Config
	log   *zap.Logger

	mu    sync.RWMutex
	state types.VenueState
	last  *priced
}

// priced is the venue's answer for one intent, kept for order construction
type priced struct {
	intent types.SwapIntent
	fee    *big.Int
	quote  types.Quote
}

// NewQuoter creates the off-chain quoter
func NewQuoter(venue Venue, meta tokens.Metadata, ch *orchestrator.Channel, cfg Config, log *zap.Logger) *Quoter {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = DefaultQuoteTimeout
	}
	if cfg.ValidFor <= 0 {
		cfg.ValidFor = DefaultValidFor
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Domain.Name == "" {
		cfg.Domain = NewDomain(cfg.ChainID, common.Address{})
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Quoter{venue: venue, meta: meta, ch: ch, cfg: cfg, log: log}
}

// SupportsNetwork reports whether the venue serves the configured chain
func (q *Quoter) SupportsNetwork() bool {
	return q.venue.SupportsNetwork(q.cfg.ChainID)
}

// State returns a copy of the venue state
func (q *Quoter) State() types.VenueState {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

// Reset supersedes any in-flight request and clears the venue state
func (q *Quoter) Reset() {
	h := q.ch.Issue()
	q.ch.Apply(h, func() {
		q.mu.Lock()
		q.state = types.VenueState{}
		q.last = nil
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

// HandleAmountChange quotes intent on the venue. A price quote that does not answer
// within the quote timeout marks the venue unavailable instead of failing.
func (q *Quoter) HandleAmountChange(ctx context.Context, intent types.SwapIntent) {
	h := q.ch.Issue()
	q.ch.Apply(h, func() {
		q.mu.Lock()
		q.state = types.VenueState{Loading: true}
		q.last = nil
		q.mu.Unlock()
	})

	start := time.Now()
	state, last := q.quote(ctx, h, intent)
	metrics.QuoteLatency.WithLabelValues(orchestrator.VenueOffchain.String()).Observe(time.Since(start).Seconds())

	q.ch.Apply(h, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.state = state
		q.last = last
	})
}

func (q *Quoter) quote(ctx context.Context, h orchestrator.Handle, intent types.SwapIntent) (types.VenueState, *priced) {
	decIn, err := q.meta.Decimals(ctx, intent.TokenIn)
	if err != nil {
		return q.failed(intent, fmt.Errorf("decimals of token in: %w", err)), nil
	}
	decOut, err := q.meta.Decimals(ctx, intent.TokenOut)
	if err != nil {
		return q.failed(intent, fmt.Errorf("decimals of token out: %w", err)), nil
	}

	params := OrderParams{
		SellToken: intent.TokenIn,
		BuyToken:  intent.TokenOut,
		Kind:      KindOf(intent.Direction()),
	}
	if intent.ExactIn {
		params.Amount = quotemath.ToRaw(intent.Amount, decIn)
	} else {
		params.Amount = quotemath.ToRaw(intent.Amount, decOut)
	}

	fee, err := q.venue.FeeQuote(ctx, params)
	if err != nil {
		return q.failed(intent, fmt.Errorf("fee quote: %w", err)), nil
	}
	feeAmount := fee.Amount
	if feeAmount == nil {
		feeAmount = new(big.Int)
	}
	// superseded while waiting on the fee; the price quote would be discarded
	if q.ch.IsStale(h) {
		return types.VenueState{}, nil
	}

	if intent.ExactIn {
		return q.quoteExactIn(ctx, intent, params, feeAmount)
	}
	return q.quoteExactOut(ctx, intent, params, feeAmount)
}

func (q *Quoter) quoteExactIn(ctx context.Context, intent types.SwapIntent, params OrderParams, fee *big.Int) (types.VenueState, *priced) {
	amount := params.Amount
	if fee.Cmp(amount) >= 0 {
		metrics.QuoteFailures.WithLabelValues(orchestrator.VenueOffchain.String(), "fee_exceeds_amount").Inc()
		return types.VenueState{Validation: types.ValidationFeeExceedsAmount}, nil
	}

	sell := new(big.Int).Sub(amount, fee)
	params.Amount = sell
	price, state, ok := q.priceQuote(ctx, intent, params)
	if !ok {
		return state, nil
	}
	buy := price.Amount

	quote := types.Quote{
		FeeAmountInToken:  new(big.Int).Set(fee),
		FeeAmountOutToken: quotemath.MulDiv(fee, buy, sell),
		MaximumInAmount:   new(big.Int).Set(amount),
		MinimumOutAmount:  quotemath.MinusSlippage(buy, intent.SlippageBufferBps),
		ReturnAmount:      new(big.Int).Set(buy),
		TokenInAmount:     new(big.Int).Set(amount),
		TokenOutAmount:    new(big.Int).Set(buy),
	}
	return types.VenueState{
		Quote:    quote,
		HasQuote: true,
		HighFees: quotemath.ExceedsFraction(fee, amount, quotemath.HighFeeThreshold),
	}, &priced{intent: intent, fee: fee, quote: quote}
}

func (q *Quoter) quoteExactOut(ctx context.Context, intent types.SwapIntent, params OrderParams, fee *big.Int) (types.VenueState, *priced) {
	buy := params.Amount
	price, state, ok := q.priceQuote(ctx, intent, params)
	if !ok {
		return state, nil
	}
	sell := price.Amount
	if fee.Cmp(sell) >= 0 {
		metrics.QuoteFailures.WithLabelValues(orchestrator.VenueOffchain.String(), "fee_exceeds_amount").Inc()
		return types.VenueState{Validation: types.ValidationFeeExceedsAmount}, nil
	}

	total := new(big.Int).Add(sell, fee)
	quote := types.Quote{
		FeeAmountInToken:  new(big.Int).Set(fee),
		FeeAmountOutToken: quotemath.MulDiv(fee, buy, sell),
		MaximumInAmount:   quotemath.AddSlippage(total, intent.SlippageBufferBps),
		MinimumOutAmount:  new(big.Int).Set(buy),
		ReturnAmount:      new(big.Int).Set(total),
		TokenInAmount:     total,
		TokenOutAmount:    new(big.Int).Set(buy),
	}
	return types.VenueState{
		Quote:    quote,
		HasQuote: true,
		HighFees: quotemath.ExceedsFraction(fee, sell, quotemath.HighFeeThreshold),
	}, &priced{intent: intent, fee: fee, quote: quote}
}

// priceQuote asks the venue under the quote timeout. ok is false when state already holds
// the outcome.
func (q *Quoter) priceQuote(ctx context.Context, intent types.SwapIntent, params OrderParams) (PriceQuote, types.VenueState, bool) {
	pctx, cancel := context.WithTimeout(ctx, q.cfg.QuoteTimeout)
	defer cancel()

	price, err := q.venue.PriceQuote(pctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			metrics.QuoteFailures.WithLabelValues(orchestrator.VenueOffchain.String(), "timeout").Inc()
			q.log.Info("offchain price quote timed out",
				zap.Duration("timeout", q.cfg.QuoteTimeout), zap.Uint64("intent", intent.Version))
			return PriceQuote{}, types.VenueState{Unavailable: true}, false
		}
		return PriceQuote{}, q.failed(intent, fmt.Errorf("price quote: %w", err)), false
	}
	if price.Amount == nil || price.Amount.Sign() <= 0 {
		metrics.QuoteFailures.WithLabelValues(orchestrator.VenueOffchain.String(), "no_route").Inc()
		return PriceQuote{}, types.VenueState{Validation: types.ValidationNoRoute}, false
	}
	return price, types.VenueState{}, true
}

func (q *Quoter) failed(intent types.SwapIntent, err error) types.VenueState {
	metrics.QuoteFailures.WithLabelValues(orchestrator.VenueOffchain.String(), "error").Inc()
	q.log.Warn("offchain quote failed", zap.Error(err), zap.Uint64("intent", intent.Version))
	return types.VenueState{Err: err}
}

// QuotedIntent returns the intent the last applied quote was priced for
func (q *Quoter) QuotedIntent() (types.SwapIntent, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.last == nil {
		return types.SwapIntent{}, false
	}
	return q.last.intent, true
}

// Order builds the order for the last applied quote
func (q *Quoter) Order(receiver common.Address) (Order, error) {
	q.mu.RLock()
	last := q.last
	q.mu.RUnlock()
	if last == nil {
		return Order{}, types.ErrQuoteUnavailable
	}
	if chain.IsNative(last.intent.TokenIn) {
		return Order{}, fmt.Errorf("%w: gasless orders cannot sell the native asset", types.ErrInvalidIntent)
	}

	// the fee is charged on top of the sell amount in both directions
	o := Order{
		SellToken:  last.intent.TokenIn,
		BuyToken:   last.intent.TokenOut,
		Receiver:   receiver,
		SellAmount: new(big.Int).Sub(last.quote.MaximumInAmount, last.fee),
		BuyAmount:  new(big.Int).Set(last.quote.MinimumOutAmount),
		FeeAmount:  new(big.Int).Set(last.fee),
		ValidTo:    uint32(time.Now().Add(q.cfg.ValidFor).Unix()),
		AppData:    q.cfg.AppData,
		Kind:       KindOf(last.intent.Direction()),
	}
	return o, nil
}

// Submit signs and submits the order for the last applied quote and returns its id
func (q *Quoter) Submit(ctx context.Context, signer chain.Signer) (string, error) {
	o, err := q.Order(signer.Address())
	if err != nil {
		return "", err
	}
	signed, err := SignOrder(ctx, signer, q.cfg.Domain, o)
	if err != nil {
		return "", err
	}
	uid, err := q.venue.SubmitSignedOrder(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("submit order: %w", err)
	}
	return uid, nil
}

// Await polls the order until it reaches a terminal status or ctx is done
func (q *Quoter) Await(ctx context.Context, uid string) (OrderStatus, error) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := q.venue.OrderStatus(ctx, uid)
		switch {
		case err != nil && !types.IsRetriable(err):
			return "", fmt.Errorf("order status: %w", err)
		case err != nil:
			q.log.Debug("order status failed, retrying", zap.String("uid", uid), zap.Error(err))
		case status.Terminal():
			return status, nil
		}

		select {
		case <-ctx.Done():
			return OrderOpen, ctx.Err()
		case <-ticker.C:
		}
	}
}
