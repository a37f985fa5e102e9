package tokens

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-swap/pkg/chain"
)

var (
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	other = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	owner = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type callBackend struct {
	chain.Backend
	calls   int
	balance *big.Int
	fn      func(msg ethereum.CallMsg) ([]byte, error)
}

func (b *callBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.calls++
	return b.fn(msg)
}

func (b *callBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return b.balance, nil
}

func (b *callBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return nil, errors.New("not used")
}

func testList() []Token {
	return []Token{
		{Symbol: "WETH", Address: weth, Decimals: 18},
		{Symbol: "USDC", Address: usdc, Decimals: 6},
	}
}

func TestLookup(t *testing.T) {
	r := NewRegistry(testList(), nil, common.Address{})

	tok, ok := r.Lookup("usdc")
	require.True(t, ok)
	assert.Equal(t, usdc, tok.Address)

	tok, ok = r.Lookup("ETH")
	require.True(t, ok)
	assert.Equal(t, chain.NativeAsset, tok.Address)

	_, ok = r.Lookup("DOGE")
	assert.False(t, ok)

	assert.Equal(t, "WETH", r.Symbol(weth))
	assert.Len(t, r.All(), 3)
}

func TestDecimalsConfiguredAndOnchain(t *testing.T) {
	backend := &callBackend{fn: func(msg ethereum.CallMsg) ([]byte, error) {
		assert.Equal(t, other, *msg.To)
		return common.LeftPadBytes([]byte{18}, 32), nil
	}}
	r := NewRegistry(testList(), backend, owner)

	d, err := r.Decimals(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, int32(6), d)
	assert.Equal(t, 0, backend.calls)

	d, err = r.Decimals(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, int32(18), d)

	_, err = r.Decimals(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)
}

func TestDecimalsUnknownWithoutBackend(t *testing.T) {
	r := NewRegistry(testList(), nil, owner)
	_, err := r.Decimals(context.Background(), other)
	assert.Error(t, err)
}

func TestBalance(t *testing.T) {
	backend := &callBackend{
		balance: big.NewInt(3e18),
		fn: func(ethereum.CallMsg) ([]byte, error) {
			return common.LeftPadBytes(big.NewInt(4000e6).Bytes(), 32), nil
		},
	}
	r := NewRegistry(testList(), backend, owner)

	bal, err := r.Balance(context.Background(), chain.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, "3000000000000000000", bal.String())

	bal, err = r.Balance(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, "4000000000", bal.String())

	_, err = NewRegistry(testList(), nil, owner).Balance(context.Background(), usdc)
	assert.Error(t, err)
}
