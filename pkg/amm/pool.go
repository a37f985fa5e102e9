// Package amm finds and quotes routes through on-chain weighted pools.
//
// The Adapter owns an immutable liquidity Snapshot that is swapped atomically on every
// refresh, and delegates route search to a PathFinder. The Quoter turns the best route
// into the DirectAMM venue quote and exposes the optimizer's selection to other venues.
package amm

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"venue-swap/pkg/types"
)

// BPTDecimals is the precision of every pool share token
const BPTDecimals = 18

// PoolToken is one asset held by a pool
type PoolToken struct {
	Address  common.Address  `json:"address"`
	Balance  *big.Int        `json:"balance"`
	Decimals int32           `json:"decimals"`
	Weight   decimal.Decimal `json:"weight"`
}

// Pool is a weighted pool as seen at snapshot time
type Pool struct {
	ID          string          `json:"id"`
	Address     common.Address  `json:"address"`
	SwapFee     decimal.Decimal `json:"swapFee"`
	TotalSupply *big.Int        `json:"totalSupply"`
	Tokens      []PoolToken     `json:"tokens"`
	JoinExit    bool            `json:"joinExit"`
}

// PoolID returns the 32 byte vault id of the pool
func (p Pool) PoolID() [32]byte {
	return common.HexToHash(p.ID)
}

// TokenIndex returns the position of addr in the pool, or -1
func (p Pool) TokenIndex(addr common.Address) int {
	for i, t := range p.Tokens {
		if t.Address == addr {
			return i
		}
	}
	return -1
}

// Snapshot is an immutable view of pool liquidity. Never modify one after publishing it.
type Snapshot struct {
	Pools     []Pool    `json:"pools"`
	Block     uint64    `json:"block"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// NewSnapshot sorts pools by id so route search is deterministic
func NewSnapshot(pools []Pool, block uint64, fetchedAt time.Time) *Snapshot {
	sorted := make([]Pool, len(pools))
	copy(sorted, pools)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Snapshot{Pools: sorted, Block: block, FetchedAt: fetchedAt}
}

// Empty reports whether the snapshot holds no liquidity
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Pools) == 0
}

// Pool looks a pool up by id
func (s *Snapshot) Pool(id string) (Pool, bool) {
	if s == nil {
		return Pool{}, false
	}
	for _, p := range s.Pools {
		if p.ID == id {
			return p, true
		}
	}
	return Pool{}, false
}

// StepKind is the kind of operation a route step performs
type StepKind int

const (
	StepSwap StepKind = iota
	StepJoin
	StepExit
)

func (k StepKind) String() string {
	switch k {
	case StepJoin:
		return "join"
	case StepExit:
		return "exit"
	default:
		return "swap"
	}
}

// Step is one hop of a route. Amounts are raw units of AssetIn and AssetOut.
type Step struct {
	PoolID    string         `json:"poolId"`
	Kind      StepKind       `json:"kind"`
	AssetIn   common.Address `json:"assetIn"`
	AssetOut  common.Address `json:"assetOut"`
	AmountIn  *big.Int       `json:"amountIn"`
	AmountOut *big.Int       `json:"amountOut"`
}

// Query asks for the best route for a trade. Amount is raw units of tokenIn for exact-in
// trades and of tokenOut for exact-out trades.
type Query struct {
	TokenIn     common.Address
	TokenOut    common.Address
	DecimalsIn  int32
	DecimalsOut int32
	Direction   types.Direction
	Amount      *big.Int
	JoinExit    bool
}

// BestSwap is the optimizer's answer. ReturnAmount is the output for exact-in queries
// and the required input for exact-out queries. MarketSpotPrice is tokenIn per tokenOut
// for exact-in and tokenOut per tokenIn for exact-out.
type BestSwap struct {
	HasSwaps        bool            `json:"hasSwaps"`
	ReturnAmount    *big.Int        `json:"returnAmount"`
	MarketSpotPrice decimal.Decimal `json:"marketSpotPrice"`
	SelectedPools   []Pool          `json:"selectedPools"`
	Steps           []Step          `json:"steps"`
}

// NoSwaps is the answer when no route exists
func NoSwaps() BestSwap {
	return BestSwap{ReturnAmount: new(big.Int)}
}

// HasJoinExit reports whether any step joins or exits a pool the optimizer selected
func (b BestSwap) HasJoinExit() bool {
	selected := make(map[string]Pool, len(b.SelectedPools))
	for _, p := range b.SelectedPools {
		selected[p.ID] = p
	}
	for _, s := range b.Steps {
		if s.Kind == StepSwap {
			continue
		}
		if p, ok := selected[s.PoolID]; ok && p.JoinExit {
			return true
		}
	}
	return false
}
