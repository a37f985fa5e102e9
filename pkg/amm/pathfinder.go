package amm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"venue-swap/pkg/quotemath"
	"venue-swap/pkg/types"
)

// PathFinder searches a snapshot for the best route. Implementations must return the
// same answer for the same snapshot and query.
type PathFinder interface {
	FindBestSwap(ctx context.Context, snap *Snapshot, q Query) (BestSwap, error)
}

// DefaultMaxHops bounds route length for the weighted path finder
const DefaultMaxHops = 3

// WeightedPathFinder enumerates single routes of up to MaxHops through weighted pools.
// Join and exit edges are only used for exact-in queries that ask for them.
type WeightedPathFinder struct {
	MaxHops int
}

// NewWeightedPathFinder creates a finder; maxHops <= 0 selects DefaultMaxHops
func NewWeightedPathFinder(maxHops int) *WeightedPathFinder {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &WeightedPathFinder{MaxHops: maxHops}
}

type edge struct {
	pool     int
	kind     StepKind
	in, out  int // token index inside the pool, -1 for the pool's own BPT
	assetIn  common.Address
	assetOut common.Address
}

type candidate struct {
	edges   []edge
	amounts []decimal.Decimal // len(edges)+1 human amounts along the path
	spot    decimal.Decimal   // tokenIn per tokenOut
	key     string
}

// FindBestSwap implements PathFinder
func (f *WeightedPathFinder) FindBestSwap(ctx context.Context, snap *Snapshot, q Query) (BestSwap, error) {
	if snap.Empty() || q.Amount == nil || q.Amount.Sign() <= 0 || q.TokenIn == q.TokenOut {
		return NoSwaps(), nil
	}
	joinExit := q.JoinExit && q.Direction == types.ExactIn

	graph := buildGraph(snap, joinExit)
	paths := f.enumerate(graph, snap, q.TokenIn, q.TokenOut)

	var best *candidate
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return NoSwaps(), err
		}
		c, ok := evaluate(snap, path, q)
		if !ok {
			continue
		}
		if best == nil || better(q.Direction, c, *best) {
			cc := c
			best = &cc
		}
	}
	if best == nil {
		return NoSwaps(), nil
	}
	return toBestSwap(snap, best, q), nil
}

func buildGraph(snap *Snapshot, joinExit bool) map[common.Address][]edge {
	graph := make(map[common.Address][]edge)
	for pi, p := range snap.Pools {
		for i, ti := range p.Tokens {
			for j, tj := range p.Tokens {
				if i == j {
					continue
				}
				graph[ti.Address] = append(graph[ti.Address], edge{
					pool: pi, kind: StepSwap, in: i, out: j,
					assetIn: ti.Address, assetOut: tj.Address,
				})
			}
			if joinExit && p.JoinExit && p.TotalSupply != nil && p.TotalSupply.Sign() > 0 {
				graph[ti.Address] = append(graph[ti.Address], edge{
					pool: pi, kind: StepJoin, in: i, out: -1,
					assetIn: ti.Address, assetOut: p.Address,
				})
				graph[p.Address] = append(graph[p.Address], edge{
					pool: pi, kind: StepExit, in: -1, out: i,
					assetIn: p.Address, assetOut: ti.Address,
				})
			}
		}
	}
	return graph
}

// enumerate does a bounded depth-first search. No pool or token is visited twice.
func (f *WeightedPathFinder) enumerate(graph map[common.Address][]edge, snap *Snapshot, from, to common.Address) [][]edge {
	var out [][]edge
	usedPools := make(map[int]bool)
	seen := map[common.Address]bool{from: true}

	var walk func(at common.Address, path []edge)
	walk = func(at common.Address, path []edge) {
		if len(path) == f.MaxHops {
			return
		}
		for _, e := range graph[at] {
			if usedPools[e.pool] || seen[e.assetOut] {
				continue
			}
			next := append(append([]edge(nil), path...), e)
			if e.assetOut == to {
				out = append(out, next)
				continue
			}
			usedPools[e.pool] = true
			seen[e.assetOut] = true
			walk(e.assetOut, next)
			delete(usedPools, e.pool)
			delete(seen, e.assetOut)
		}
	}
	walk(from, nil)
	return out
}

func evaluate(snap *Snapshot, path []edge, q Query) (candidate, bool) {
	c := candidate{
		edges:   path,
		amounts: make([]decimal.Decimal, len(path)+1),
		spot:    one,
	}

	keys := make([]string, len(path))
	for i, e := range path {
		keys[i] = snap.Pools[e.pool].ID + ":" + e.kind.String()
		sp := edgeSpot(snap.Pools[e.pool], e)
		if !sp.IsPositive() {
			return c, false
		}
		c.spot = c.spot.Mul(sp)
	}
	c.key = strings.Join(keys, ">")

	if q.Direction == types.ExactIn {
		c.amounts[0] = quotemath.ToHuman(q.Amount, q.DecimalsIn)
		for i, e := range path {
			out, err := edgeOut(snap.Pools[e.pool], e, c.amounts[i])
			if err != nil {
				return c, false
			}
			c.amounts[i+1] = out
		}
		return c, true
	}

	c.amounts[len(path)] = quotemath.ToHuman(q.Amount, q.DecimalsOut)
	for i := len(path) - 1; i >= 0; i-- {
		e := path[i]
		if e.kind != StepSwap {
			return c, false
		}
		in, err := edgeIn(snap.Pools[e.pool], e, c.amounts[i+1])
		if err != nil {
			return c, false
		}
		c.amounts[i] = in
	}
	return c, true
}

func better(dir types.Direction, a, b candidate) bool {
	if dir == types.ExactIn {
		if cmp := a.amounts[len(a.amounts)-1].Cmp(b.amounts[len(b.amounts)-1]); cmp != 0 {
			return cmp > 0
		}
	} else {
		if cmp := a.amounts[0].Cmp(b.amounts[0]); cmp != 0 {
			return cmp < 0
		}
	}
	if len(a.edges) != len(b.edges) {
		return len(a.edges) < len(b.edges)
	}
	return a.key < b.key
}

func edgeOut(p Pool, e edge, amountIn decimal.Decimal) (decimal.Decimal, error) {
	fee := p.SwapFee
	switch e.kind {
	case StepJoin:
		t := p.Tokens[e.in]
		return bptOutGivenTokenIn(human(t.Balance, t.Decimals), t.Weight, human(p.TotalSupply, BPTDecimals), amountIn, fee)
	case StepExit:
		t := p.Tokens[e.out]
		return tokenOutGivenBptIn(human(t.Balance, t.Decimals), t.Weight, human(p.TotalSupply, BPTDecimals), amountIn, fee)
	default:
		ti, to := p.Tokens[e.in], p.Tokens[e.out]
		return outGivenIn(human(ti.Balance, ti.Decimals), ti.Weight, human(to.Balance, to.Decimals), to.Weight, amountIn, fee)
	}
}

func edgeIn(p Pool, e edge, amountOut decimal.Decimal) (decimal.Decimal, error) {
	ti, to := p.Tokens[e.in], p.Tokens[e.out]
	return inGivenOut(human(ti.Balance, ti.Decimals), ti.Weight, human(to.Balance, to.Decimals), to.Weight, amountOut, p.SwapFee)
}

func edgeSpot(p Pool, e edge) decimal.Decimal {
	switch e.kind {
	case StepJoin:
		t := p.Tokens[e.in]
		return joinSpotPrice(human(t.Balance, t.Decimals), t.Weight, human(p.TotalSupply, BPTDecimals), p.SwapFee)
	case StepExit:
		t := p.Tokens[e.out]
		return exitSpotPrice(human(t.Balance, t.Decimals), t.Weight, human(p.TotalSupply, BPTDecimals), p.SwapFee)
	default:
		ti, to := p.Tokens[e.in], p.Tokens[e.out]
		return spotPrice(human(ti.Balance, ti.Decimals), ti.Weight, human(to.Balance, to.Decimals), to.Weight, p.SwapFee)
	}
}

func toBestSwap(snap *Snapshot, c *candidate, q Query) BestSwap {
	steps := make([]Step, len(c.edges))
	var selected []Pool
	picked := make(map[int]bool)

	for i, e := range c.edges {
		p := snap.Pools[e.pool]
		steps[i] = Step{
			PoolID:    p.ID,
			Kind:      e.kind,
			AssetIn:   e.assetIn,
			AssetOut:  e.assetOut,
			AmountIn:  rawFloor(c.amounts[i], assetDecimals(p, e.in)),
			AmountOut: rawFloor(c.amounts[i+1], assetDecimals(p, e.out)),
		}
		if !picked[e.pool] {
			picked[e.pool] = true
			selected = append(selected, p)
		}
	}

	out := BestSwap{
		HasSwaps:      true,
		SelectedPools: selected,
		Steps:         steps,
	}
	if q.Direction == types.ExactIn {
		out.ReturnAmount = rawFloor(c.amounts[len(c.amounts)-1], q.DecimalsOut)
		out.MarketSpotPrice = c.spot
		steps[0].AmountIn = new(big.Int).Set(q.Amount)
	} else {
		out.ReturnAmount = rawCeil(c.amounts[0], q.DecimalsIn)
		out.MarketSpotPrice = div(one, c.spot)
		steps[len(steps)-1].AmountOut = new(big.Int).Set(q.Amount)
	}
	if out.ReturnAmount.Sign() <= 0 {
		return NoSwaps()
	}
	return out
}

func assetDecimals(p Pool, idx int) int32 {
	if idx < 0 {
		return BPTDecimals
	}
	return p.Tokens[idx].Decimals
}

func human(raw *big.Int, decimals int32) decimal.Decimal {
	return quotemath.ToHuman(raw, decimals)
}

func rawFloor(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Floor().BigInt()
}

func rawCeil(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Ceil().BigInt()
}
