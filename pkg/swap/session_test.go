package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-swap/pkg/amm"
	"venue-swap/pkg/chain"
	"venue-swap/pkg/composite"
	"venue-swap/pkg/history"
	"venue-swap/pkg/offchain"
	"venue-swap/pkg/orchestrator"
	"venue-swap/pkg/quotemath"
	"venue-swap/pkg/tokens"
	"venue-swap/pkg/types"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	weth      = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc      = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai       = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	bal       = common.HexToAddress("0xba100000625a3754423978a60c9317c58a424e3D")
	nestedBPT = common.HexToAddress("0x1000000000000000000000000000000000000001")

	vault   = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	relayer = common.HexToAddress("0x000000000000000000000000000000000000bEEF")
)

func raw(human string, decimals int32) *big.Int {
	return quotemath.ToRaw(decimal.RequireFromString(human), decimals)
}

func pool(addr common.Address, joinExit bool, fee string, a common.Address, aBal string, aDec int32, b common.Address, bBal string, bDec int32) amm.Pool {
	var id [32]byte
	copy(id[:20], addr.Bytes())
	half := decimal.RequireFromString("0.5")
	return amm.Pool{
		ID:          common.Hash(id).Hex(),
		Address:     addr,
		SwapFee:     decimal.RequireFromString(fee),
		TotalSupply: raw("2000000", 18),
		JoinExit:    joinExit,
		Tokens: []amm.PoolToken{
			{Address: a, Balance: raw(aBal, aDec), Decimals: aDec, Weight: half},
			{Address: b, Balance: raw(bBal, bDec), Decimals: bDec, Weight: half},
		},
	}
}

func wethUSDC() amm.Pool {
	return pool(common.HexToAddress("0x2000000000000000000000000000000000000002"), false, "0",
		weth, "1000000000", 18, usdc, "2000000000000", 6)
}

func usdcDAI() amm.Pool {
	return pool(common.HexToAddress("0x3000000000000000000000000000000000000003"), false, "0.001",
		usdc, "10000000", 6, dai, "10000000", 18)
}

func shallowWethDAI() amm.Pool {
	return pool(common.HexToAddress("0x6000000000000000000000000000000000000006"), false, "0.003",
		weth, "10", 18, dai, "20000", 18)
}

func nested() amm.Pool {
	return pool(nestedBPT, true, "0.001", usdc, "1000000", 6, bal, "1000000", 18)
}

func outer() amm.Pool {
	return pool(common.HexToAddress("0x5000000000000000000000000000000000000005"), false, "0.003",
		nestedBPT, "1000000", 18, dai, "1000000", 18)
}

func registry() *tokens.Registry {
	return tokens.NewRegistry([]tokens.Token{
		{Symbol: "WETH", Address: weth, Decimals: 18},
		{Symbol: "USDC", Address: usdc, Decimals: 6},
		{Symbol: "DAI", Address: dai, Decimals: 18},
		{Symbol: "BAL", Address: bal, Decimals: 18},
	}, nil, common.Address{})
}

// fundedRegistry reports a fixed balance for every token
type fundedRegistry struct {
	*tokens.Registry
	balance *big.Int
}

func (r fundedRegistry) Balance(context.Context, common.Address) (*big.Int, error) {
	return r.balance, nil
}

type fakeSubmitter struct {
	mu      sync.Mutex
	sent    []chain.TxRequest
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSubmitter) Submit(_ context.Context, req chain.TxRequest) (chain.Handle, error) {
	if f.entered != nil {
		close(f.entered)
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return chain.Handle{}, f.err
	}
	f.sent = append(f.sent, req)
	return chain.Handle{Hash: common.BigToHash(big.NewInt(int64(len(f.sent)))), SentAt: time.Now()}, nil
}

func (f *fakeSubmitter) AwaitConfirmation(_ context.Context, h chain.Handle) (chain.Receipt, error) {
	return chain.Receipt{Hash: h.Hash, BlockNumber: 1, Success: true}, nil
}

func (f *fakeSubmitter) requests() []chain.TxRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.TxRequest(nil), f.sent...)
}

type fakeVenue struct {
	mu     sync.Mutex
	fee    *big.Int
	price  func(ctx context.Context, p offchain.OrderParams) (offchain.PriceQuote, error)
	asked  int
	signed []offchain.SignedOrder
}

func (f *fakeVenue) FeeQuote(context.Context, offchain.OrderParams) (offchain.FeeQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked++
	if f.fee != nil {
		return offchain.FeeQuote{Amount: new(big.Int).Set(f.fee)}, nil
	}
	return offchain.FeeQuote{Amount: new(big.Int)}, nil
}

func (f *fakeVenue) PriceQuote(ctx context.Context, p offchain.OrderParams) (offchain.PriceQuote, error) {
	f.mu.Lock()
	f.asked++
	f.mu.Unlock()
	return f.price(ctx, p)
}

func (f *fakeVenue) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.asked
}

// gatedSwapper blocks the swap-only query for one amount until released
type gatedSwapper struct {
	inner   amm.Swapper
	gate    *big.Int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSwapper) BestSwap(ctx context.Context, q amm.Query) (amm.BestSwap, error) {
	if q.Amount.Cmp(g.gate) == 0 && !q.JoinExit {
		close(g.entered)
		<-g.release
	}
	return g.inner.BestSwap(ctx, q)
}

func (f *fakeVenue) SubmitSignedOrder(_ context.Context, o offchain.SignedOrder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signed = append(f.signed, o)
	return fmt.Sprintf("uid-%d", len(f.signed)), nil
}

func (f *fakeVenue) OrderStatus(context.Context, string) (offchain.OrderStatus, error) {
	return offchain.OrderFulfilled, nil
}

func (f *fakeVenue) SupportsNetwork(chainID int64) bool { return chainID == 1 }

type fixture struct {
	session   *Session
	submitter *fakeSubmitter
	history   *history.Store
	updates   chan View
}

type fixtureOpts struct {
	pools   []amm.Pool
	swapper func(amm.Swapper) amm.Swapper
	venue   offchain.Venue
	meta    tokens.Metadata
	confirm chain.ConfirmFunc
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()

	adapter := amm.NewAdapter(amm.NewStaticSource(o.pools), nil)
	require.NoError(t, adapter.RefreshLiquidity(context.Background()))

	meta := o.meta
	if meta == nil {
		meta = registry()
	}
	var swapper amm.Swapper = adapter
	if o.swapper != nil {
		swapper = o.swapper(adapter)
	}
	orch := orchestrator.New(nil)
	ammQuoter := amm.NewQuoter(swapper, meta, chain.NativeAsset, weth, orch.Channel(orchestrator.VenueAMM), nil)

	var offQuoter *offchain.Quoter
	if o.venue != nil {
		offQuoter = offchain.NewQuoter(o.venue, meta, orch.Channel(orchestrator.VenueOffchain), offchain.Config{
			ChainID:      1,
			QuoteTimeout: 20 * time.Millisecond,
			PollInterval: time.Millisecond,
		}, nil)
	}

	signer, err := chain.NewKeySigner(testKey, o.confirm)
	require.NoError(t, err)
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	f := &fixture{submitter: &fakeSubmitter{}, history: store, updates: make(chan View, 16)}
	f.session = NewSession(Deps{
		AMM:       ammQuoter,
		Offchain:  offQuoter,
		Composite: composite.NewQuoter(ammQuoter, chain.NativeAsset, orch.Channel(orchestrator.VenueComposite), nil),
		Tokens:    meta,
		Submitter: f.submitter,
		Signer:    signer,
		History:   store,
		Settings: Settings{
			Wrapped:  weth,
			Vault:    vault,
			Relayer:  relayer,
			Deadline: time.Hour,
		},
		Orchestrator: orch,
		OnUpdate: func(v View) {
			select {
			case f.updates <- v:
			default:
			}
		},
	})
	return f
}

func (f *fixture) quote(t *testing.T, in, out common.Address, amount string, exactIn bool) {
	t.Helper()
	f.session.SetIntent(types.SwapIntent{
		TokenIn: in, TokenOut: out, Amount: decimal.RequireFromString(amount),
		ExactIn: exactIn, SlippageBufferBps: 50,
	})
	f.session.HandleAmountChange(context.Background())
}

func TestDirectAMMScenario(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.quote(t, weth, usdc, "2", true)

	s := f.session
	assert.Equal(t, types.RouteDirectAMM, s.ActiveRoute())
	assert.False(t, s.IsLoading())
	_, blocked := s.ValidationError()
	assert.False(t, blocked)

	q, ok := s.Quote()
	require.True(t, ok)
	assert.True(t, quotemath.ToHuman(q.TokenOutAmount, 6).Round(0).Equal(decimal.NewFromInt(4000)))
	assert.True(t, q.PriceImpact.Equal(quotemath.MinPriceImpact))
	assert.Equal(t, quotemath.MinusSlippage(q.ReturnAmount, 50).String(), q.MinimumOutAmount.String())
}

func TestNotReadyIntent(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.quote(t, weth, usdc, "0", true)

	_, ok := f.session.Quote()
	assert.False(t, ok)
	assert.False(t, f.session.IsLoading())
}

func TestWrapRouteAndSubmit(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.quote(t, chain.NativeAsset, weth, "1.5", true)

	s := f.session
	require.Equal(t, types.RouteWrapUnwrap, s.ActiveRoute())
	assert.False(t, s.IsLoading())
	q, ok := s.Quote()
	require.True(t, ok)
	assert.Equal(t, raw("1.5", 18).String(), q.TokenOutAmount.String())
	assert.Equal(t, q.TokenInAmount.String(), q.MinimumOutAmount.String())

	var called types.SwapResult
	result, err := s.Submit(context.Background(), func(r types.SwapResult) { called = r })
	require.NoError(t, err)
	assert.Equal(t, result.ID, called.ID)
	assert.Equal(t, types.SwapStatusConfirmed, result.Status)
	assert.Equal(t, "ETH", result.TokenIn)

	sent := f.submitter.requests()
	require.Len(t, sent, 1)
	assert.Equal(t, weth, sent[0].To)
	assert.Equal(t, raw("1.5", 18).String(), sent[0].Value.String())
	method, err := chain.WETH.MethodById(sent[0].Data[:4])
	require.NoError(t, err)
	assert.Equal(t, "deposit", method.Name)

	stored, err := f.history.Get(result.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RouteWrapUnwrap, stored.Venue)

	_, ok = s.Quote()
	assert.False(t, ok, "venue state is reset after success")
}

func TestUnwrapSubmit(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.quote(t, weth, chain.NativeAsset, "2", true)

	_, err := f.session.Submit(context.Background(), nil)
	require.NoError(t, err)
	sent := f.submitter.requests()
	require.Len(t, sent, 1)
	method, err := chain.WETH.MethodById(sent[0].Data[:4])
	require.NoError(t, err)
	assert.Equal(t, "withdraw", method.Name)
	assert.Zero(t, sent[0].Value.Sign())
}

func TestDirectAMMSubmitUsesVault(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.quote(t, weth, usdc, "2", true)

	result, err := f.session.Submit(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, types.RouteDirectAMM, result.Venue)

	sent := f.submitter.requests()
	require.Len(t, sent, 1)
	assert.Equal(t, vault, sent[0].To)
	method, err := amm.VaultABI.MethodById(sent[0].Data[:4])
	require.NoError(t, err)
	assert.Equal(t, "batchSwap", method.Name)
}

func TestGaslessRouteAndSubmit(t *testing.T) {
	venue := &fakeVenue{price: func(context.Context, offchain.OrderParams) (offchain.PriceQuote, error) {
		return offchain.PriceQuote{Amount: raw("99", 18)}, nil
	}}
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{usdcDAI()}, venue: venue})
	f.session.SetGasless(true)
	f.quote(t, usdc, dai, "100", true)

	s := f.session
	require.Equal(t, types.RouteOffchainGasless, s.ActiveRoute())
	q, ok := s.Quote()
	require.True(t, ok)
	assert.Equal(t, raw("99", 18).String(), q.TokenOutAmount.String())
	assert.False(t, s.IsLoading())

	result, err := s.Submit(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", result.TransactionID)
	assert.Equal(t, types.SwapStatusConfirmed, result.Status)
	assert.Empty(t, f.submitter.requests(), "gasless orders send no transaction")
	require.Len(t, venue.signed, 1)
	assert.Equal(t, usdc, venue.signed[0].SellToken)
}

func TestGaslessDisabledUsesAMM(t *testing.T) {
	venue := &fakeVenue{price: func(context.Context, offchain.OrderParams) (offchain.PriceQuote, error) {
		return offchain.PriceQuote{Amount: raw("99", 18)}, nil
	}}
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{usdcDAI()}, venue: venue})
	f.quote(t, usdc, dai, "100", true)

	assert.Equal(t, types.RouteDirectAMM, f.session.ActiveRoute())
}

func TestGaslessTimeoutFallsThroughOnNextRecompute(t *testing.T) {
	venue := &fakeVenue{price: func(ctx context.Context, _ offchain.OrderParams) (offchain.PriceQuote, error) {
		<-ctx.Done()
		return offchain.PriceQuote{}, ctx.Err()
	}}
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{usdcDAI()}, venue: venue})
	f.session.SetGasless(true)
	f.quote(t, usdc, dai, "100", true)

	s := f.session
	assert.Equal(t, types.RouteOffchainGasless, s.ActiveRoute(), "the timeout is not acted on synchronously")
	assert.True(t, s.IsLoading())
	assert.True(t, s.Snapshot().Unavailable)
	_, err := s.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrQuoteUnavailable)

	s.HandleAmountChange(context.Background())
	assert.Equal(t, types.RouteDirectAMM, s.ActiveRoute())
	assert.False(t, s.IsLoading())
	_, ok := s.Quote()
	assert.True(t, ok)
}

func TestGaslessFeeExceedsAmountKeepsRoute(t *testing.T) {
	venue := &fakeVenue{fee: raw("5", 6), price: func(context.Context, offchain.OrderParams) (offchain.PriceQuote, error) {
		return offchain.PriceQuote{Amount: raw("3", 18)}, nil
	}}
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{usdcDAI()}, venue: venue})
	f.session.SetGasless(true)
	f.quote(t, usdc, dai, "3", true)

	s := f.session
	assert.Equal(t, types.RouteOffchainGasless, s.ActiveRoute(), "the route does not switch to the AMM")
	v, blocked := s.ValidationError()
	require.True(t, blocked)
	assert.Equal(t, types.ValidationFeeExceedsAmount, v)
	_, ok := s.Quote()
	assert.False(t, ok)
	assert.False(t, s.IsLoading())

	_, err := s.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrQuoteUnavailable)
	assert.Empty(t, venue.signed)
}

func TestGaslessSkipsNativeSell(t *testing.T) {
	venue := &fakeVenue{price: func(context.Context, offchain.OrderParams) (offchain.PriceQuote, error) {
		return offchain.PriceQuote{Amount: raw("1", 6)}, nil
	}}
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}, venue: venue})
	f.session.SetGasless(true)
	f.quote(t, chain.NativeAsset, usdc, "1", true)

	assert.Equal(t, types.RouteDirectAMM, f.session.ActiveRoute())
	_, ok := f.session.Quote()
	assert.True(t, ok)
	assert.Zero(t, venue.calls(), "the off-chain venue is never asked for a native sell")
}

func TestCompositeRouteAndSubmit(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{nested(), outer()}})
	f.quote(t, usdc, dai, "1000", true)

	s := f.session
	require.Equal(t, types.RouteComposite, s.ActiveRoute())
	_, blocked := s.ValidationError()
	assert.False(t, blocked, "the AMM no-route flag belongs to an inactive venue")
	q, ok := s.Quote()
	require.True(t, ok)
	assert.True(t, q.NonDegenerate())

	_, err := s.Submit(context.Background(), nil)
	require.NoError(t, err)
	sent := f.submitter.requests()
	require.Len(t, sent, 1)
	assert.Equal(t, relayer, sent[0].To)
	method, err := composite.RelayerABI.MethodById(sent[0].Data[:4])
	require.NoError(t, err)
	assert.Equal(t, "multicall", method.Name)
}

func TestNoRouteAnywhere(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.quote(t, dai, bal, "1", true)

	v, blocked := f.session.ValidationError()
	require.True(t, blocked)
	assert.Equal(t, types.ValidationNoRoute, v)
	assert.False(t, f.session.IsLoading())
}

func TestPriceExceedsBalance(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		pools: []amm.Pool{wethUSDC()},
		meta:  fundedRegistry{Registry: registry(), balance: raw("1", 18)},
	})
	f.quote(t, weth, usdc, "2", true)

	v, blocked := f.session.ValidationError()
	require.True(t, blocked)
	assert.Equal(t, types.ValidationPriceExceedsBalance, v)

	_, err := f.session.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrQuoteUnavailable)
	assert.Empty(t, f.submitter.requests())
}

func TestHighPriceImpact(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{shallowWethDAI()}})
	f.quote(t, weth, dai, "5", true)

	v, blocked := f.session.ValidationError()
	require.True(t, blocked)
	assert.Equal(t, types.ValidationHighPriceImpact, v)
	q, ok := f.session.Quote()
	require.True(t, ok, "the quote is still shown")
	assert.True(t, q.PriceImpact.GreaterThan(DefaultHighPriceImpact))
}

func TestSubmitUserRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.submitter.err = fmt.Errorf("sign: %w", types.ErrUserRejected)
	f.quote(t, weth, usdc, "2", true)

	_, err := f.session.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrUserRejected)
	assert.NoError(t, f.session.SubmissionError())
	_, ok := f.session.Quote()
	assert.False(t, ok)
	assert.Empty(t, f.history.List())
}

func TestGaslessSignatureRejected(t *testing.T) {
	venue := &fakeVenue{price: func(context.Context, offchain.OrderParams) (offchain.PriceQuote, error) {
		return offchain.PriceQuote{Amount: raw("99", 18)}, nil
	}}
	f := newFixture(t, fixtureOpts{
		pools:   []amm.Pool{usdcDAI()},
		venue:   venue,
		confirm: func(context.Context, string) (bool, error) { return false, nil },
	})
	f.session.SetGasless(true)
	f.quote(t, usdc, dai, "100", true)

	_, err := f.session.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrUserRejected)
	assert.Empty(t, venue.signed)
}

func TestSubmitFailureKeepsQuote(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.submitter.err = errors.New("nonce too low")
	f.quote(t, weth, usdc, "2", true)

	var called bool
	_, err := f.session.Submit(context.Background(), func(types.SwapResult) { called = true })
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.False(t, called)
	assert.Equal(t, ErrSubmissionFailed, f.session.SubmissionError())
	_, ok := f.session.Quote()
	assert.True(t, ok)

	f.session.SetSlippageBufferBps(100)
	assert.NoError(t, f.session.SubmissionError(), "editing the intent clears the submission error")
}

func TestSubmitInFlight(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.submitter.entered = make(chan struct{})
	f.submitter.release = make(chan struct{})
	f.quote(t, weth, usdc, "2", true)

	done := make(chan error, 1)
	go func() {
		_, err := f.session.Submit(context.Background(), nil)
		done <- err
	}()
	<-f.submitter.entered

	_, err := f.session.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrSubmissionInFlight)

	close(f.submitter.release)
	assert.NoError(t, <-done)
}

func TestIntentChangeDuringQuoteIsNotSubmitted(t *testing.T) {
	var gate *gatedSwapper
	f := newFixture(t, fixtureOpts{
		pools: []amm.Pool{wethUSDC()},
		swapper: func(inner amm.Swapper) amm.Swapper {
			gate = &gatedSwapper{inner: inner, gate: raw("1", 18), entered: make(chan struct{}), release: make(chan struct{})}
			return gate
		},
	})
	s := f.session
	s.SetIntent(types.SwapIntent{TokenIn: weth, TokenOut: usdc, Amount: decimal.NewFromInt(1), ExactIn: true, SlippageBufferBps: 50})

	done := make(chan struct{})
	go func() {
		s.HandleAmountChange(context.Background())
		close(done)
	}()
	<-gate.entered
	s.SetAmount(decimal.NewFromInt(5), true)
	close(gate.release)
	<-done

	_, ok := s.Quote()
	assert.False(t, ok, "the answer for the old amount is not shown")
	assert.True(t, s.IsLoading())
	_, err := s.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrQuoteUnavailable)
	assert.Empty(t, f.submitter.requests())

	s.HandleAmountChange(context.Background())
	q, ok := s.Quote()
	require.True(t, ok)
	assert.Equal(t, raw("5", 18).String(), q.TokenInAmount.String())

	_, err = s.Submit(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, f.submitter.requests(), 1)
}

func TestSubmitRefusesQuoteForOlderIntent(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.quote(t, weth, usdc, "2", true)
	_, ok := f.session.Quote()
	require.True(t, ok)

	f.session.SetAmount(decimal.NewFromInt(3), true)

	_, ok = f.session.Quote()
	assert.False(t, ok)
	assert.False(t, f.session.Snapshot().HasQuote)
	assert.True(t, f.session.IsLoading(), "a recompute is pending")
	_, err := f.session.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrQuoteUnavailable)
	assert.Empty(t, f.submitter.requests())
}

func TestRunRecomputesOnSetterAndBlock(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	ctx, cancel := context.WithCancel(context.Background())
	blocks := make(chan uint64)
	done := make(chan error, 1)
	go func() { done <- f.session.Run(ctx, blocks) }()

	f.session.SetTokens(weth, usdc)
	f.session.SetAmount(decimal.NewFromInt(2), true)

	var v View
	require.Eventually(t, func() bool {
		select {
		case v = <-f.updates:
			return v.HasQuote
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, types.RouteDirectAMM, v.Route)

	blocks <- 100
	require.Eventually(t, func() bool {
		select {
		case v = <-f.updates:
			return v.Trigger == orchestrator.TriggerBlock
		default:
			return false
		}
	}, time.Second, time.Millisecond, "no recompute after block")
	assert.True(t, v.HasQuote)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
