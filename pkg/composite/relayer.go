package composite

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"venue-swap/pkg/amm"
	"venue-swap/pkg/chain"
	"venue-swap/pkg/types"
)

const relayerABI = `[
{"inputs":[{"name":"data","type":"bytes[]"}],"name":"multicall","outputs":[{"name":"results","type":"bytes[]"}],"stateMutability":"payable","type":"function"},
{"inputs":[
 {"components":[{"name":"poolId","type":"bytes32"},{"name":"kind","type":"uint8"},{"name":"assetIn","type":"address"},{"name":"assetOut","type":"address"},{"name":"amount","type":"uint256"},{"name":"userData","type":"bytes"}],"name":"singleSwap","type":"tuple"},
 {"components":[{"name":"sender","type":"address"},{"name":"fromInternalBalance","type":"bool"},{"name":"recipient","type":"address"},{"name":"toInternalBalance","type":"bool"}],"name":"funds","type":"tuple"},
 {"name":"limit","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"value","type":"uint256"},{"name":"outputReference","type":"uint256"}],
 "name":"swap","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[
 {"name":"poolId","type":"bytes32"},{"name":"kind","type":"uint8"},{"name":"sender","type":"address"},{"name":"recipient","type":"address"},
 {"components":[{"name":"assets","type":"address[]"},{"name":"maxAmountsIn","type":"uint256[]"},{"name":"userData","type":"bytes"},{"name":"fromInternalBalance","type":"bool"}],"name":"request","type":"tuple"},
 {"name":"value","type":"uint256"},{"name":"outputReference","type":"uint256"}],
 "name":"joinPool","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[
 {"name":"poolId","type":"bytes32"},{"name":"kind","type":"uint8"},{"name":"sender","type":"address"},{"name":"recipient","type":"address"},
 {"components":[{"name":"assets","type":"address[]"},{"name":"minAmountsOut","type":"uint256[]"},{"name":"userData","type":"bytes"},{"name":"toInternalBalance","type":"bool"}],"name":"request","type":"tuple"},
 {"components":[{"name":"index","type":"uint256"},{"name":"key","type":"uint256"}],"name":"outputReferences","type":"tuple[]"}],
 "name":"exitPool","outputs":[],"stateMutability":"payable","type":"function"}
]`

// RelayerABI is the batch relayer interface used to execute composite routes
var RelayerABI = chain.MustParseABI(relayerABI)

const (
	swapKindGivenIn      = 0
	poolKindWeighted     = 0
	joinExactTokensIn    = 1
	exitExactBPTInForOne = 0
)

// chainedReferencePrefix marks an amount as a reference to an earlier call's output
var chainedReferencePrefix = new(big.Int).Lsh(big.NewInt(0xba10), 240)

// ChainedReference returns the placeholder amount that reads the output stored under key
func ChainedReference(key int) *big.Int {
	return new(big.Int).Or(chainedReferencePrefix, big.NewInt(int64(key)))
}

// IsChainedReference reports whether amount is a chained reference placeholder
func IsChainedReference(amount *big.Int) bool {
	return amount != nil && new(big.Int).Rsh(amount, 240).Cmp(big.NewInt(0xba10)) == 0
}

type singleSwap struct {
	PoolId   [32]byte
	Kind     uint8
	AssetIn  common.Address
	AssetOut common.Address
	Amount   *big.Int
	UserData []byte
}

type fundManagement struct {
	Sender              common.Address
	FromInternalBalance bool
	Recipient           common.Address
	ToInternalBalance   bool
}

type joinPoolRequest struct {
	Assets              []common.Address
	MaxAmountsIn        []*big.Int
	UserData            []byte
	FromInternalBalance bool
}

type exitPoolRequest struct {
	Assets            []common.Address
	MinAmountsOut     []*big.Int
	UserData          []byte
	ToInternalBalance bool
}

type outputReference struct {
	Index *big.Int
	Key   *big.Int
}

// Batch is a composite route as a list of relayer calls executed in one transaction
type Batch struct {
	Relayer common.Address
	Calls   [][]byte
	MinOut  *big.Int
}

// Calldata packs the batch into the relayer's multicall
func (b Batch) Calldata() ([]byte, error) {
	return RelayerABI.Pack("multicall", b.Calls)
}

// TxRequest turns the batch into a transaction for the relayer
func (b Batch) TxRequest() (chain.TxRequest, error) {
	data, err := b.Calldata()
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("pack multicall: %w", err)
	}
	return chain.TxRequest{To: b.Relayer, Value: new(big.Int), Data: data}, nil
}

var (
	uint256Type, _      = abi.NewType("uint256", "", nil)
	uint256ArrayType, _ = abi.NewType("uint256[]", "", nil)

	joinUserData = abi.Arguments{{Type: uint256Type}, {Type: uint256ArrayType}, {Type: uint256Type}}
	exitUserData = abi.Arguments{{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}}
)

// BuildBatch turns the optimizer's selection into relayer calls. Every step after the
// first reads its input from the previous step's output reference, intermediate funds
// stay with the relayer, and only the final step enforces minOut.
func BuildBatch(sel amm.Selection, relayer, sender common.Address, minOut *big.Int, deadline *big.Int) (Batch, error) {
	if !sel.Best.HasSwaps || len(sel.Best.Steps) == 0 {
		return Batch{}, types.ErrNoRoute
	}
	if sel.Intent.Direction() != types.ExactIn {
		return Batch{}, fmt.Errorf("%w: composite routes are exact-in only", types.ErrInvalidIntent)
	}
	if minOut == nil {
		minOut = new(big.Int)
	}
	if deadline == nil {
		deadline = math.MaxBig256
	}

	pools := make(map[string]amm.Pool, len(sel.Best.SelectedPools))
	for _, p := range sel.Best.SelectedPools {
		pools[p.ID] = p
	}

	steps := sel.Best.Steps
	calls := make([][]byte, 0, len(steps))
	for i, step := range steps {
		pool, ok := pools[step.PoolID]
		if !ok {
			return Batch{}, fmt.Errorf("step %d uses unselected pool %s", i, step.PoolID)
		}
		last := i == len(steps)-1

		amountIn := sel.Query.Amount
		from := sender
		if i > 0 {
			amountIn = ChainedReference(i - 1)
			from = relayer
		}
		to := relayer
		limit := new(big.Int)
		outRef := ChainedReference(i)
		if last {
			to = sender
			limit = minOut
		}

		var (
			call []byte
			err  error
		)
		switch step.Kind {
		case amm.StepJoin:
			call, err = packJoin(pool, step, from, to, amountIn, limit, outRef)
		case amm.StepExit:
			call, err = packExit(pool, step, from, to, amountIn, limit, outRef)
		default:
			call, err = RelayerABI.Pack("swap",
				singleSwap{
					PoolId:   pool.PoolID(),
					Kind:     swapKindGivenIn,
					AssetIn:  step.AssetIn,
					AssetOut: step.AssetOut,
					Amount:   amountIn,
					UserData: []byte{},
				},
				fundManagement{Sender: from, Recipient: to},
				limit, deadline, new(big.Int), outRef)
		}
		if err != nil {
			return Batch{}, fmt.Errorf("pack step %d (%s): %w", i, step.Kind, err)
		}
		calls = append(calls, call)
	}
	return Batch{Relayer: relayer, Calls: calls, MinOut: new(big.Int).Set(minOut)}, nil
}

func packJoin(pool amm.Pool, step amm.Step, from, to common.Address, amountIn, minBPT, outRef *big.Int) ([]byte, error) {
	idx := pool.TokenIndex(step.AssetIn)
	if idx < 0 {
		return nil, fmt.Errorf("pool %s does not hold %s", pool.ID, step.AssetIn.Hex())
	}
	assets := make([]common.Address, len(pool.Tokens))
	amounts := make([]*big.Int, len(pool.Tokens))
	maxIn := make([]*big.Int, len(pool.Tokens))
	for i, t := range pool.Tokens {
		assets[i] = t.Address
		amounts[i] = new(big.Int)
		maxIn[i] = new(big.Int)
	}
	amounts[idx] = amountIn
	maxIn[idx] = math.MaxBig256

	userData, err := joinUserData.Pack(big.NewInt(joinExactTokensIn), amounts, minBPT)
	if err != nil {
		return nil, err
	}
	return RelayerABI.Pack("joinPool", pool.PoolID(), uint8(poolKindWeighted), from, to,
		joinPoolRequest{Assets: assets, MaxAmountsIn: maxIn, UserData: userData},
		new(big.Int), outRef)
}

func packExit(pool amm.Pool, step amm.Step, from, to common.Address, bptIn, minOut, outRef *big.Int) ([]byte, error) {
	idx := pool.TokenIndex(step.AssetOut)
	if idx < 0 {
		return nil, fmt.Errorf("pool %s does not hold %s", pool.ID, step.AssetOut.Hex())
	}
	assets := make([]common.Address, len(pool.Tokens))
	minAmounts := make([]*big.Int, len(pool.Tokens))
	for i, t := range pool.Tokens {
		assets[i] = t.Address
		minAmounts[i] = new(big.Int)
	}
	minAmounts[idx] = minOut

	userData, err := exitUserData.Pack(big.NewInt(exitExactBPTInForOne), bptIn, big.NewInt(int64(idx)))
	if err != nil {
		return nil, err
	}
	refs := []outputReference{{Index: big.NewInt(int64(idx)), Key: outRef}}
	return RelayerABI.Pack("exitPool", pool.PoolID(), uint8(poolKindWeighted), from, to,
		exitPoolRequest{Assets: assets, MinAmountsOut: minAmounts, UserData: userData},
		refs)
}
