// Package offchain quotes and submits gasless orders on an off-chain venue.
//
// A Venue is either an order-book API that settles signed EIP-712 orders (GnosisClient)
// or an intents solver network reached through the 1Click SDK (IntentsVenue). The Quoter
// turns venue answers into the OffchainGasless quote.
package offchain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"venue-swap/pkg/types"
)

// Kind is the side of an order that is fixed
type Kind string

const (
	KindSell Kind = "sell"
	KindBuy  Kind = "buy"
)

// KindOf maps a trade direction to an order kind
func KindOf(d types.Direction) Kind {
	if d == types.ExactOut {
		return KindBuy
	}
	return KindSell
}

// OrderParams asks a venue about an order. Amount is raw sell units for KindSell and raw
// buy units for KindBuy.
type OrderParams struct {
	SellToken common.Address
	BuyToken  common.Address
	Amount    *big.Int
	Kind      Kind
	From      common.Address
}

// FeeQuote is the venue fee in sell token units
type FeeQuote struct {
	Amount    *big.Int
	ExpiresAt time.Time
}

// PriceQuote carries the variable side of the order: the buy amount for KindSell, the
// sell amount for KindBuy.
type PriceQuote struct {
	Amount *big.Int
}

// OrderStatus is the venue's view of a submitted order
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFulfilled OrderStatus = "fulfilled"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
	OrderFailed    OrderStatus = "failed"
)

// Terminal reports whether the order will not change anymore
func (s OrderStatus) Terminal() bool {
	return s != OrderOpen && s != ""
}

// SwapStatus maps the order status onto the swap lifecycle
func (s OrderStatus) SwapStatus() types.SwapStatus {
	switch s {
	case OrderFulfilled:
		return types.SwapStatusConfirmed
	case OrderCancelled, OrderExpired, OrderFailed:
		return types.SwapStatusFailed
	default:
		return types.SwapStatusSubmitted
	}
}

// Venue is an off-chain order venue
type Venue interface {
	FeeQuote(ctx context.Context, p OrderParams) (FeeQuote, error)
	PriceQuote(ctx context.Context, p OrderParams) (PriceQuote, error)
	SubmitSignedOrder(ctx context.Context, o SignedOrder) (string, error)
	OrderStatus(ctx context.Context, id string) (OrderStatus, error)
	SupportsNetwork(chainID int64) bool
}
