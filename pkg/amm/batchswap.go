package amm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"venue-swap/pkg/chain"
	"venue-swap/pkg/types"
)

const batchSwapABI = `[
{"inputs":[
 {"name":"kind","type":"uint8"},
 {"components":[{"name":"poolId","type":"bytes32"},{"name":"assetInIndex","type":"uint256"},{"name":"assetOutIndex","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"userData","type":"bytes"}],"name":"swaps","type":"tuple[]"},
 {"name":"assets","type":"address[]"},
 {"components":[{"name":"sender","type":"address"},{"name":"fromInternalBalance","type":"bool"},{"name":"recipient","type":"address"},{"name":"toInternalBalance","type":"bool"}],"name":"funds","type":"tuple"},
 {"name":"limits","type":"int256[]"},
 {"name":"deadline","type":"uint256"}],
 "name":"batchSwap","outputs":[{"name":"assetDeltas","type":"int256[]"}],"stateMutability":"payable","type":"function"}
]`

// VaultABI holds the vault's batchSwap entry point
var VaultABI = chain.MustParseABI(batchSwapABI)

const (
	vaultGivenIn  = 0
	vaultGivenOut = 1
)

type batchSwapStep struct {
	PoolId        [32]byte
	AssetInIndex  *big.Int
	AssetOutIndex *big.Int
	Amount        *big.Int
	UserData      []byte
}

type vaultFunds struct {
	Sender              common.Address
	FromInternalBalance bool
	Recipient           common.Address
	ToInternalBalance   bool
}

// BatchSwapTx builds the vault batchSwap transaction for a swap-only selection. maxIn
// and minOut bound the user's side of the trade; a nil deadline means no deadline.
// A native asset on either side of the intent is passed to the vault as the zero
// address, with maxIn sent as value when it is the input. native is the configured
// native address, zero for the built-in ones only.
func BatchSwapTx(vault, native common.Address, sel Selection, sender common.Address, maxIn, minOut, deadline *big.Int) (chain.TxRequest, error) {
	if !sel.Best.HasSwaps || len(sel.Best.Steps) == 0 {
		return chain.TxRequest{}, types.ErrNoRoute
	}
	for _, s := range sel.Best.Steps {
		if s.Kind != StepSwap {
			return chain.TxRequest{}, fmt.Errorf("%w: vault batch swaps cannot %s pools", types.ErrInvalidIntent, s.Kind)
		}
	}
	if deadline == nil {
		deadline = math.MaxBig256
	}

	nativeIn := IsNative(sel.Intent.TokenIn, native)
	nativeOut := IsNative(sel.Intent.TokenOut, native)

	var assets []common.Address
	index := make(map[common.Address]int)
	assetIndex := func(addr common.Address) *big.Int {
		i, ok := index[addr]
		if !ok {
			i = len(assets)
			index[addr] = i
			assets = append(assets, addr)
		}
		return big.NewInt(int64(i))
	}

	steps := sel.Best.Steps
	kind := uint8(vaultGivenIn)
	if sel.Query.Direction == types.ExactOut {
		kind = vaultGivenOut
	}

	swaps := make([]batchSwapStep, len(steps))
	for i, s := range steps {
		swaps[i] = batchSwapStep{
			PoolId:        common.HexToHash(s.PoolID),
			AssetInIndex:  assetIndex(s.AssetIn),
			AssetOutIndex: assetIndex(s.AssetOut),
			Amount:        new(big.Int),
			UserData:      []byte{},
		}
	}
	// given-out swaps are executed from the last hop backwards
	if kind == vaultGivenOut {
		for i, j := 0, len(swaps)-1; i < j; i, j = i+1, j-1 {
			swaps[i], swaps[j] = swaps[j], swaps[i]
		}
	}
	// later hops consume the previous hop's result when their amount is zero
	swaps[0].Amount = new(big.Int).Set(sel.Query.Amount)

	limits := make([]*big.Int, len(assets))
	for i := range limits {
		limits[i] = new(big.Int)
	}
	limits[index[sel.Query.TokenIn]] = new(big.Int).Set(maxIn)
	limits[index[sel.Query.TokenOut]] = new(big.Int).Neg(minOut)

	if nativeIn {
		assets[index[sel.Query.TokenIn]] = common.Address{}
	}
	if nativeOut {
		assets[index[sel.Query.TokenOut]] = common.Address{}
	}

	funds := vaultFunds{Sender: sender, Recipient: sender}
	data, err := VaultABI.Pack("batchSwap", kind, swaps, assets, funds, limits, deadline)
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("failed to pack batchSwap: %w", err)
	}

	value := new(big.Int)
	if nativeIn {
		value.Set(maxIn)
	}
	return chain.TxRequest{To: vault, Value: value, Data: data}, nil
}
