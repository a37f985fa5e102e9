// Package route decides which venue serves the current intent.
package route

import (
	"github.com/ethereum/go-ethereum/common"

	"venue-swap/pkg/chain"
	"venue-swap/pkg/types"
)

// Inputs is everything the selector looks at
type Inputs struct {
	TokenIn  common.Address
	TokenOut common.Address
	Native   common.Address
	Wrapped  common.Address

	GaslessEnabled          bool
	OffchainSupportsNetwork bool
	// OffchainUnavailable is set when the previous off-chain request timed out
	OffchainUnavailable bool

	CompositeEligible bool
	CompositeHasQuote bool
}

// Select applies the routing rules in order. The same inputs always give the same route.
func Select(in Inputs) types.Route {
	switch {
	case IsWrapPair(in.TokenIn, in.TokenOut, in.Native, in.Wrapped):
		return types.RouteWrapUnwrap
	case isNative(in.TokenIn, in.Native):
		return types.RouteDirectAMM
	case in.GaslessEnabled && in.OffchainSupportsNetwork && !in.OffchainUnavailable:
		return types.RouteOffchainGasless
	case in.CompositeEligible && in.CompositeHasQuote:
		return types.RouteComposite
	default:
		return types.RouteDirectAMM
	}
}

// IsWrapPair reports whether the trade only wraps or unwraps the native asset
func IsWrapPair(tokenIn, tokenOut, native, wrapped common.Address) bool {
	if wrapped == (common.Address{}) {
		return false
	}
	return (isNative(tokenIn, native) && tokenOut == wrapped) ||
		(tokenIn == wrapped && isNative(tokenOut, native))
}

func isNative(addr, native common.Address) bool {
	if native != (common.Address{}) && addr == native {
		return true
	}
	return chain.IsNative(addr)
}
