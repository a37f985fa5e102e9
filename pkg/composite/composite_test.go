package composite

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-swap/pkg/amm"
	"venue-swap/pkg/chain"
	"venue-swap/pkg/orchestrator"
	"venue-swap/pkg/quotemath"
	"venue-swap/pkg/types"
)

var (
	usdc    = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai     = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	bal     = common.HexToAddress("0xba100000625a3754423978a60c9317c58a424e3D")
	nested  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	outer   = common.HexToAddress("0x5000000000000000000000000000000000000005")
	relayer = common.HexToAddress("0x000000000000000000000000000000000000bEEF")
	user    = common.HexToAddress("0x00000000000000000000000000000000000000Ab")
)

func poolID(addr common.Address) string {
	var id [32]byte
	copy(id[:20], addr.Bytes())
	return common.Hash(id).Hex()
}

func composedSelection() amm.Selection {
	nestedPool := amm.Pool{
		ID: poolID(nested), Address: nested, JoinExit: true,
		Tokens: []amm.PoolToken{{Address: usdc, Decimals: 6}, {Address: bal, Decimals: 18}},
	}
	outerPool := amm.Pool{
		ID: poolID(outer), Address: outer,
		Tokens: []amm.PoolToken{{Address: nested, Decimals: 18}, {Address: dai, Decimals: 18}},
	}
	amount := big.NewInt(1_000_000_000)
	ret, _ := new(big.Int).SetString("990000000000000000000", 10)

	return amm.Selection{
		Intent: types.SwapIntent{TokenIn: usdc, TokenOut: dai, Amount: decimal.NewFromInt(1000), ExactIn: true, SlippageBufferBps: 50},
		Query:  amm.Query{TokenIn: usdc, TokenOut: dai, DecimalsIn: 6, DecimalsOut: 18, Direction: types.ExactIn, Amount: amount, JoinExit: true},
		Best: amm.BestSwap{
			HasSwaps:        true,
			ReturnAmount:    ret,
			MarketSpotPrice: decimal.RequireFromString("1.0005"),
			SelectedPools:   []amm.Pool{nestedPool, outerPool},
			Steps: []amm.Step{
				{PoolID: nestedPool.ID, Kind: amm.StepJoin, AssetIn: usdc, AssetOut: nested, AmountIn: amount, AmountOut: big.NewInt(1)},
				{PoolID: outerPool.ID, Kind: amm.StepSwap, AssetIn: nested, AssetOut: dai, AmountIn: big.NewInt(1), AmountOut: ret},
			},
		},
		DecimalsIn:  6,
		DecimalsOut: 18,
	}
}

func swapOnlySelection() amm.Selection {
	sel := composedSelection()
	sel.Best.Steps[0].Kind = amm.StepSwap
	return sel
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.SwapIntent, *amm.Selection)
		want   bool
	}{
		{"join route", func(*types.SwapIntent, *amm.Selection) {}, true},
		{"exact out", func(i *types.SwapIntent, _ *amm.Selection) { i.ExactIn = false }, false},
		{"native in", func(i *types.SwapIntent, _ *amm.Selection) { i.TokenIn = chain.NativeAsset }, false},
		{"no swaps", func(_ *types.SwapIntent, s *amm.Selection) { s.Best.HasSwaps = false }, false},
		{"zero return", func(_ *types.SwapIntent, s *amm.Selection) { s.Best.ReturnAmount = new(big.Int) }, false},
		{"swaps only", func(_ *types.SwapIntent, s *amm.Selection) { *s = swapOnlySelection() }, false},
		{"join on unselected pool", func(_ *types.SwapIntent, s *amm.Selection) { s.Best.SelectedPools = s.Best.SelectedPools[1:] }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := composedSelection()
			intent := sel.Intent
			tt.mutate(&intent, &sel)
			assert.Equal(t, tt.want, Eligible(intent, sel, common.Address{}))
		})
	}

	sel := composedSelection()
	assert.False(t, Eligible(sel.Intent, sel, dai), "configured native asset")
}

type staticReader struct {
	sel amm.Selection
	ok  bool
}

func (r staticReader) Selection() (amm.Selection, bool) { return r.sel, r.ok }

func TestQuoter(t *testing.T) {
	sel := composedSelection()
	q := NewQuoter(staticReader{sel: sel, ok: true}, common.Address{}, orchestrator.NewChannel(orchestrator.VenueComposite, nil), nil)

	q.HandleAmountChange(context.Background(), sel.Intent)

	st := q.State()
	require.True(t, st.HasQuote)
	assert.True(t, q.Eligible())
	assert.Equal(t, sel.Query.Amount.String(), st.Quote.MaximumInAmount.String())
	assert.Equal(t, quotemath.MinusSlippage(sel.Best.ReturnAmount, 50).String(), st.Quote.MinimumOutAmount.String())
	assert.Equal(t, sel.Best.ReturnAmount.String(), st.Quote.ReturnAmount.String())
	assert.True(t, st.Quote.PriceImpact.GreaterThanOrEqual(decimal.Zero))

	got, ok := q.Selection()
	require.True(t, ok)
	assert.Equal(t, sel.Best.Steps, got.Best.Steps)
}

func TestQuoterIgnoresSelectionForOtherIntent(t *testing.T) {
	sel := composedSelection()
	q := NewQuoter(staticReader{sel: sel, ok: true}, common.Address{}, orchestrator.NewChannel(orchestrator.VenueComposite, nil), nil)

	other := sel.Intent
	other.Amount = decimal.NewFromInt(5)
	q.HandleAmountChange(context.Background(), other)

	assert.False(t, q.State().HasQuote)
	assert.False(t, q.Eligible())
}

func TestQuoterExactOutNeverEligible(t *testing.T) {
	sel := composedSelection()
	sel.Intent.ExactIn = false
	q := NewQuoter(staticReader{sel: sel, ok: true}, common.Address{}, orchestrator.NewChannel(orchestrator.VenueComposite, nil), nil)

	q.HandleAmountChange(context.Background(), sel.Intent)
	assert.False(t, q.State().HasQuote)
	assert.False(t, q.Eligible())
}

func decodeCall(t *testing.T, call []byte) (string, []interface{}) {
	t.Helper()
	method, err := RelayerABI.MethodById(call[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(call[4:])
	require.NoError(t, err)
	return method.Name, args
}

func TestBuildBatch(t *testing.T) {
	sel := composedSelection()
	minOut := big.NewInt(12345)

	batch, err := BuildBatch(sel, relayer, user, minOut, big.NewInt(1_900_000_000))
	require.NoError(t, err)
	require.Len(t, batch.Calls, 2)

	name, args := decodeCall(t, batch.Calls[0])
	require.Equal(t, "joinPool", name)
	assert.Equal(t, user, args[2].(common.Address), "first step pulls from the user")
	assert.Equal(t, relayer, args[3].(common.Address), "intermediate output stays with the relayer")
	assert.Equal(t, ChainedReference(0).String(), args[6].(*big.Int).String())

	req := *abi.ConvertType(args[4], new(joinPoolRequest)).(*joinPoolRequest)
	assert.Equal(t, []common.Address{usdc, bal}, req.Assets)
	userData, err := joinUserData.Unpack(req.UserData)
	require.NoError(t, err)
	assert.Equal(t, int64(joinExactTokensIn), userData[0].(*big.Int).Int64())
	amounts := userData[1].([]*big.Int)
	assert.Equal(t, sel.Query.Amount.String(), amounts[0].String())
	assert.Zero(t, amounts[1].Sign())
	assert.Zero(t, userData[2].(*big.Int).Sign(), "only the last step enforces a minimum")

	name, args = decodeCall(t, batch.Calls[1])
	require.Equal(t, "swap", name)
	swap := *abi.ConvertType(args[0], new(singleSwap)).(*singleSwap)
	assert.True(t, IsChainedReference(swap.Amount))
	assert.Equal(t, ChainedReference(0).String(), swap.Amount.String())
	assert.Equal(t, nested, swap.AssetIn)
	assert.Equal(t, dai, swap.AssetOut)
	funds := *abi.ConvertType(args[1], new(fundManagement)).(*fundManagement)
	assert.Equal(t, relayer, funds.Sender)
	assert.Equal(t, user, funds.Recipient)
	assert.Equal(t, minOut.String(), args[2].(*big.Int).String())

	data, err := batch.Calldata()
	require.NoError(t, err)
	method, err := RelayerABI.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "multicall", method.Name)

	tx, err := batch.TxRequest()
	require.NoError(t, err)
	assert.Equal(t, relayer, tx.To)
	assert.Zero(t, tx.Value.Sign())
}

func TestBuildBatchExit(t *testing.T) {
	sel := composedSelection()
	sel.Intent.TokenIn, sel.Intent.TokenOut = dai, usdc
	sel.Query.TokenIn, sel.Query.TokenOut = dai, usdc
	sel.Best.Steps = []amm.Step{
		{PoolID: poolID(outer), Kind: amm.StepSwap, AssetIn: dai, AssetOut: nested},
		{PoolID: poolID(nested), Kind: amm.StepExit, AssetIn: nested, AssetOut: usdc},
	}

	batch, err := BuildBatch(sel, relayer, user, big.NewInt(7), nil)
	require.NoError(t, err)

	name, args := decodeCall(t, batch.Calls[1])
	require.Equal(t, "exitPool", name)
	assert.Equal(t, relayer, args[2].(common.Address))
	assert.Equal(t, user, args[3].(common.Address))

	req := *abi.ConvertType(args[4], new(exitPoolRequest)).(*exitPoolRequest)
	assert.Equal(t, "7", req.MinAmountsOut[0].String())
	userData, err := exitUserData.Unpack(req.UserData)
	require.NoError(t, err)
	assert.Zero(t, userData[0].(*big.Int).Sign())
	assert.Equal(t, ChainedReference(0).String(), userData[1].(*big.Int).String())
	assert.Zero(t, userData[2].(*big.Int).Sign(), "usdc is token 0 of the nested pool")
}

func TestBuildBatchRejectsExactOut(t *testing.T) {
	sel := composedSelection()
	sel.Intent.ExactIn = false
	_, err := BuildBatch(sel, relayer, user, nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidIntent)

	_, err = BuildBatch(amm.Selection{Best: amm.NoSwaps()}, relayer, user, nil, nil)
	assert.ErrorIs(t, err, types.ErrNoRoute)
}
