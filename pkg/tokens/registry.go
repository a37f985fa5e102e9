// Package tokens resolves token metadata and wallet balances.
package tokens

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"venue-swap/pkg/chain"
)

// Token is a known asset
type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals int32          `json:"decimals"`
}

// Metadata is what quoters need to know about tokens
type Metadata interface {
	Decimals(ctx context.Context, addr common.Address) (int32, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	Symbol(addr common.Address) string
}

// Registry serves configured tokens and falls back to the chain for anything else
type Registry struct {
	bySymbol map[string]Token
	byAddr   map[common.Address]Token

	backend chain.Backend
	owner   common.Address

	decimalsCache sync.Map // common.Address -> int32
}

// NativeSymbol is the symbol the gas token is listed under
const NativeSymbol = "ETH"

// NewRegistry creates a registry. backend may be nil, in which case only configured
// tokens resolve and balances are unavailable.
func NewRegistry(list []Token, backend chain.Backend, owner common.Address) *Registry {
	r := &Registry{
		bySymbol: make(map[string]Token),
		byAddr:   make(map[common.Address]Token),
		backend:  backend,
		owner:    owner,
	}
	r.add(Token{Symbol: NativeSymbol, Address: chain.NativeAsset, Decimals: 18})
	for _, t := range list {
		r.add(t)
	}
	return r
}

func (r *Registry) add(t Token) {
	r.bySymbol[strings.ToUpper(t.Symbol)] = t
	r.byAddr[t.Address] = t
}

// Lookup finds a token by symbol, case-insensitively
func (r *Registry) Lookup(symbol string) (Token, bool) {
	t, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return t, ok
}

// All returns the configured tokens sorted by symbol
func (r *Registry) All() []Token {
	out := make([]Token, 0, len(r.bySymbol))
	for _, t := range r.bySymbol {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbol returns the configured symbol or a shortened address
func (r *Registry) Symbol(addr common.Address) string {
	if t, ok := r.byAddr[addr]; ok {
		return t.Symbol
	}
	hex := addr.Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}

// Decimals returns the token's decimals, reading decimals() on-chain for unknown tokens
func (r *Registry) Decimals(ctx context.Context, addr common.Address) (int32, error) {
	if t, ok := r.byAddr[addr]; ok {
		return t.Decimals, nil
	}
	if v, ok := r.decimalsCache.Load(addr); ok {
		return v.(int32), nil
	}
	if r.backend == nil {
		return 0, fmt.Errorf("unknown token %s", addr.Hex())
	}

	data, err := chain.ERC20.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to pack decimals data: %w", err)
	}
	res, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call decimals on %s: %w", addr.Hex(), err)
	}
	out, err := chain.ERC20.Unpack("decimals", res)
	if err != nil || len(out) != 1 {
		return 0, fmt.Errorf("failed to decode decimals of %s: %v", addr.Hex(), err)
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}

	r.decimalsCache.Store(addr, int32(dec))
	return int32(dec), nil
}

// Balance returns the owner's balance of addr in raw units
func (r *Registry) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if r.backend == nil || r.owner == (common.Address{}) {
		return nil, fmt.Errorf("balances unavailable: no wallet configured")
	}
	if chain.IsNative(addr) {
		bal, err := r.backend.BalanceAt(ctx, r.owner, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		return bal, nil
	}
	return chain.ERC20Balance(ctx, r.backend, addr, r.owner)
}
