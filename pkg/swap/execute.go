package swap

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"venue-swap/pkg/amm"
	"venue-swap/pkg/chain"
	"venue-swap/pkg/composite"
	"venue-swap/pkg/metrics"
	"venue-swap/pkg/offchain"
	"venue-swap/pkg/types"
)

// Submit executes the active quote on the active venue and waits until it settles.
// On success the result is recorded, onSuccess is called and all venue state is reset.
// A rejected signature resets state and returns ErrUserRejected; any other failure
// keeps the quote and is reported through SubmissionError.
func (s *Session) Submit(ctx context.Context, onSuccess func(types.SwapResult)) (types.SwapResult, error) {
	if !s.submitting.CompareAndSwap(false, true) {
		return types.SwapResult{}, types.ErrSubmissionInFlight
	}
	defer s.submitting.Store(false)

	s.mu.RLock()
	intent := s.intent
	r := s.route
	validation := s.validation
	committed := s.committed
	s.mu.RUnlock()

	if committed != intent.Version {
		return types.SwapResult{}, fmt.Errorf("%w: intent changed since the last quote", types.ErrQuoteUnavailable)
	}
	if validation != types.ValidationNone {
		return types.SwapResult{}, fmt.Errorf("%w: %s", types.ErrQuoteUnavailable, validation)
	}
	quote, ok := s.Quote()
	if !ok || !quote.NonDegenerate() {
		return types.SwapResult{}, types.ErrQuoteUnavailable
	}

	result, err := s.execute(ctx, r, intent, quote)
	if err != nil {
		if types.IsUserRejected(err) {
			metrics.Submissions.WithLabelValues(r.String(), "rejected").Inc()
			s.log.Info("submission rejected by user", zap.Stringer("route", r))
			s.reset()
			return types.SwapResult{}, types.ErrUserRejected
		}
		metrics.Submissions.WithLabelValues(r.String(), "failed").Inc()
		s.log.Error("submission failed", zap.Stringer("route", r), zap.Error(err))
		s.mu.Lock()
		s.submissionErr = ErrSubmissionFailed
		s.mu.Unlock()
		return types.SwapResult{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	metrics.Submissions.WithLabelValues(r.String(), "success").Inc()
	if s.deps.History != nil {
		recorded, err := s.deps.History.Record(result)
		if err != nil {
			s.log.Warn("failed to record swap", zap.String("tx", result.TransactionID), zap.Error(err))
		} else {
			result = recorded
		}
	}
	if onSuccess != nil {
		onSuccess(result)
	}
	s.reset()
	return result, nil
}

// reset drops all venue state and the session quote without touching the intent
func (s *Session) reset() {
	s.resetVenues()
	s.mu.Lock()
	s.wrapQuote = nil
	s.validation = types.ValidationNone
	s.submissionErr = nil
	s.mu.Unlock()
}

func (s *Session) execute(ctx context.Context, r types.Route, intent types.SwapIntent, quote types.Quote) (types.SwapResult, error) {
	result := types.SwapResult{
		Venue:     r,
		TokenIn:   s.symbol(intent.TokenIn),
		TokenOut:  s.symbol(intent.TokenOut),
		AmountIn:  quote.TokenInAmount,
		AmountOut: quote.TokenOutAmount,
		Status:    types.SwapStatusSubmitted,
	}

	if r == types.RouteOffchainGasless {
		uid, status, err := s.executeOffchain(ctx, intent)
		if err != nil {
			return types.SwapResult{}, err
		}
		result.TransactionID = uid
		result.Status = status.SwapStatus()
		if status != offchain.OrderFulfilled {
			return types.SwapResult{}, fmt.Errorf("order %s ended %s", uid, status)
		}
		now := time.Now().UTC()
		result.ConfirmedAt = &now
		return result, nil
	}

	req, err := s.txRequest(r, intent, quote)
	if err != nil {
		return types.SwapResult{}, err
	}
	h, err := s.deps.Submitter.Submit(ctx, req)
	if err != nil {
		return types.SwapResult{}, fmt.Errorf("submit %s transaction: %w", r, err)
	}
	s.log.Info("transaction sent", zap.Stringer("route", r), zap.String("hash", h.Hash.Hex()))

	receipt, err := s.deps.Submitter.AwaitConfirmation(ctx, h)
	if err != nil {
		return types.SwapResult{}, fmt.Errorf("confirm %s transaction: %w", r, err)
	}
	result.TransactionID = receipt.Hash.Hex()
	result.Status = types.SwapStatusConfirmed
	now := time.Now().UTC()
	result.ConfirmedAt = &now
	return result, nil
}

func (s *Session) executeOffchain(ctx context.Context, intent types.SwapIntent) (string, offchain.OrderStatus, error) {
	if s.deps.Offchain == nil {
		return "", "", fmt.Errorf("%w: no off-chain venue configured", types.ErrQuoteUnavailable)
	}
	if quoted, ok := s.deps.Offchain.QuotedIntent(); !ok || quoted.Version != intent.Version {
		return "", "", types.ErrQuoteUnavailable
	}
	uid, err := s.deps.Offchain.Submit(ctx, s.deps.Signer)
	if err != nil {
		return "", "", err
	}
	s.log.Info("order submitted", zap.String("uid", uid))

	status, err := s.deps.Offchain.Await(ctx, uid)
	if err != nil {
		return "", "", fmt.Errorf("await order %s: %w", uid, err)
	}
	return uid, status, nil
}

// txRequest builds the on-chain transaction for the route
func (s *Session) txRequest(r types.Route, intent types.SwapIntent, quote types.Quote) (chain.TxRequest, error) {
	st := s.deps.Settings
	sender := s.deps.Signer.Address()

	switch r {
	case types.RouteWrapUnwrap:
		return wrapTx(st, intent, quote.TokenInAmount)

	case types.RouteComposite:
		sel, ok := s.deps.Composite.Selection()
		if !ok || sel.Intent.Version != intent.Version {
			return chain.TxRequest{}, types.ErrQuoteUnavailable
		}
		batch, err := composite.BuildBatch(sel, st.Relayer, sender, quote.MinimumOutAmount, s.deadline())
		if err != nil {
			return chain.TxRequest{}, err
		}
		return batch.TxRequest()

	case types.RouteDirectAMM:
		sel, ok := s.deps.AMM.Route()
		if !ok || sel.Intent.Version != intent.Version {
			return chain.TxRequest{}, types.ErrQuoteUnavailable
		}
		return amm.BatchSwapTx(st.Vault, st.Native, sel, sender, quote.MaximumInAmount, quote.MinimumOutAmount, s.deadline())

	default:
		return chain.TxRequest{}, fmt.Errorf("route %s has no transaction", r)
	}
}

func wrapTx(st Settings, intent types.SwapIntent, amount *big.Int) (chain.TxRequest, error) {
	if amm.IsNative(intent.TokenIn, st.Native) {
		data, err := chain.WETH.Pack("deposit")
		if err != nil {
			return chain.TxRequest{}, fmt.Errorf("failed to pack deposit: %w", err)
		}
		return chain.TxRequest{To: st.Wrapped, Value: new(big.Int).Set(amount), Data: data}, nil
	}
	data, err := chain.WETH.Pack("withdraw", amount)
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("failed to pack withdraw: %w", err)
	}
	return chain.TxRequest{To: st.Wrapped, Value: new(big.Int), Data: data}, nil
}

func (s *Session) deadline() *big.Int {
	if s.deps.Settings.Deadline <= 0 {
		return nil
	}
	return big.NewInt(time.Now().Add(s.deps.Settings.Deadline).Unix())
}

func (s *Session) symbol(addr common.Address) string {
	return s.deps.Tokens.Symbol(addr)
}
