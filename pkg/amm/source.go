package amm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"venue-swap/pkg/chain"
	"venue-swap/pkg/tokens"
)

// StaticSource serves a fixed pool list, typically from configuration
type StaticSource struct {
	pools []Pool
}

func NewStaticSource(pools []Pool) *StaticSource {
	return &StaticSource{pools: pools}
}

func (s *StaticSource) FetchPools(context.Context) ([]Pool, uint64, error) {
	out := make([]Pool, len(s.pools))
	copy(out, s.pools)
	return out, 0, nil
}

const vaultABI = `[
{"inputs":[{"name":"poolId","type":"bytes32"}],"name":"getPoolTokens","outputs":[{"name":"tokens","type":"address[]"},{"name":"balances","type":"uint256[]"},{"name":"lastChangeBlock","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const weightedPoolABI = `[
{"inputs":[],"name":"getNormalizedWeights","outputs":[{"name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"getSwapFeePercentage","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	vaultContract = chain.MustParseABI(vaultABI)
	poolContract  = chain.MustParseABI(weightedPoolABI)
)

// callsPerPool is the number of multicall entries each pool needs
const callsPerPool = 4

// poolsPerBatch keeps each aggregate call well under node gas limits
const poolsPerBatch = 25

// OnchainSource reads weighted pools through the vault and a multicall contract
type OnchainSource struct {
	multicall *chain.Multicall
	vault     common.Address
	poolIDs   []string
	meta      tokens.Metadata
	joinExit  map[string]bool
}

// NewOnchainSource reads poolIDs from vault. Pools listed in joinExit may be used for
// single-token joins and exits.
func NewOnchainSource(mc *chain.Multicall, vault common.Address, poolIDs []string, meta tokens.Metadata, joinExit []string) *OnchainSource {
	je := make(map[string]bool, len(joinExit))
	for _, id := range joinExit {
		je[common.HexToHash(id).Hex()] = true
	}
	return &OnchainSource{multicall: mc, vault: vault, poolIDs: poolIDs, meta: meta, joinExit: je}
}

// FetchPools implements LiquiditySource
func (s *OnchainSource) FetchPools(ctx context.Context) ([]Pool, uint64, error) {
	pools := make([]Pool, len(s.poolIDs))
	blocks := make([]uint64, (len(s.poolIDs)+poolsPerBatch-1)/poolsPerBatch)

	g, gctx := errgroup.WithContext(ctx)
	for batch := 0; batch*poolsPerBatch < len(s.poolIDs); batch++ {
		batch := batch
		start := batch * poolsPerBatch
		end := min(start+poolsPerBatch, len(s.poolIDs))
		g.Go(func() error {
			block, err := s.fetchBatch(gctx, s.poolIDs[start:end], pools[start:end])
			blocks[batch] = block
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var block uint64
	for _, b := range blocks {
		block = max(block, b)
	}
	return pools, block, nil
}

func (s *OnchainSource) fetchBatch(ctx context.Context, ids []string, out []Pool) (uint64, error) {
	calls := make([]chain.Call, 0, len(ids)*callsPerPool)
	for _, id := range ids {
		poolID := common.HexToHash(id)
		poolAddr := common.BytesToAddress(poolID[:20])

		getTokens, err := vaultContract.Pack("getPoolTokens", poolID)
		if err != nil {
			return 0, fmt.Errorf("pack getPoolTokens: %w", err)
		}
		weights, _ := poolContract.Pack("getNormalizedWeights")
		fee, _ := poolContract.Pack("getSwapFeePercentage")
		supply, _ := poolContract.Pack("totalSupply")

		calls = append(calls,
			chain.Call{Target: s.vault, CallData: getTokens},
			chain.Call{Target: poolAddr, CallData: weights},
			chain.Call{Target: poolAddr, CallData: fee},
			chain.Call{Target: poolAddr, CallData: supply},
		)
	}

	block, results, err := s.multicall.Aggregate(ctx, calls)
	if err != nil {
		return 0, fmt.Errorf("fetch pools: %w", err)
	}

	for i, id := range ids {
		pool, err := s.decodePool(ctx, id, results[i*callsPerPool:(i+1)*callsPerPool])
		if err != nil {
			return 0, fmt.Errorf("decode pool %s: %w", id, err)
		}
		out[i] = pool
	}
	return block, nil
}

func (s *OnchainSource) decodePool(ctx context.Context, id string, res [][]byte) (Pool, error) {
	poolID := common.HexToHash(id)

	tokensOut, err := vaultContract.Unpack("getPoolTokens", res[0])
	if err != nil {
		return Pool{}, fmt.Errorf("unpack getPoolTokens: %w", err)
	}
	addrs := tokensOut[0].([]common.Address)
	balances := tokensOut[1].([]*big.Int)

	weightsOut, err := poolContract.Unpack("getNormalizedWeights", res[1])
	if err != nil {
		return Pool{}, fmt.Errorf("unpack getNormalizedWeights: %w", err)
	}
	weights := weightsOut[0].([]*big.Int)
	if len(weights) != len(addrs) {
		return Pool{}, fmt.Errorf("pool has %d tokens but %d weights", len(addrs), len(weights))
	}

	feeOut, err := poolContract.Unpack("getSwapFeePercentage", res[2])
	if err != nil {
		return Pool{}, fmt.Errorf("unpack getSwapFeePercentage: %w", err)
	}
	supplyOut, err := poolContract.Unpack("totalSupply", res[3])
	if err != nil {
		return Pool{}, fmt.Errorf("unpack totalSupply: %w", err)
	}

	pool := Pool{
		ID:          poolID.Hex(),
		Address:     common.BytesToAddress(poolID[:20]),
		SwapFee:     decimal.NewFromBigInt(feeOut[0].(*big.Int), -18),
		TotalSupply: supplyOut[0].(*big.Int),
		Tokens:      make([]PoolToken, len(addrs)),
		JoinExit:    s.joinExit[poolID.Hex()],
	}
	for i, addr := range addrs {
		dec, err := s.meta.Decimals(ctx, addr)
		if err != nil {
			return Pool{}, err
		}
		pool.Tokens[i] = PoolToken{
			Address:  addr,
			Balance:  balances[i],
			Decimals: dec,
			Weight:   decimal.NewFromBigInt(weights[i], -18),
		}
	}
	return pool, nil
}
