package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Direction tells which side of a swap is fixed by the user
type Direction int

const (
	ExactIn Direction = iota
	ExactOut
)

func (d Direction) String() string {
	if d == ExactOut {
		return "exact_out"
	}
	return "exact_in"
}

// SwapRequest represents a parsed swap command
type SwapRequest struct {
	Amount      string
	SourceToken string
	DestToken   string
	ExactIn     bool
}

// SwapIntent is what the user currently wants to trade. Quoters take a copy of it at
// request time, so later edits never leak into an in-flight request.
type SwapIntent struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Amount            decimal.Decimal
	ExactIn           bool
	SlippageBufferBps int64
	Version           uint64
}

// Direction returns the trade direction of the intent
func (i SwapIntent) Direction() Direction {
	if i.ExactIn {
		return ExactIn
	}
	return ExactOut
}

// Ready reports whether the intent has enough information to be quoted
func (i SwapIntent) Ready() bool {
	return i.TokenIn != (common.Address{}) &&
		i.TokenOut != (common.Address{}) &&
		i.TokenIn != i.TokenOut &&
		i.Amount.IsPositive()
}

// Quote is the priced outcome of one venue for one intent. All amounts are raw token
// units; FeeAmountInToken is denominated in tokenIn, FeeAmountOutToken in tokenOut.
type Quote struct {
	FeeAmountInToken  *big.Int        `json:"feeAmountInToken"`
	FeeAmountOutToken *big.Int        `json:"feeAmountOutToken"`
	MaximumInAmount   *big.Int        `json:"maximumInAmount"`
	MinimumOutAmount  *big.Int        `json:"minimumOutAmount"`
	ReturnAmount      *big.Int        `json:"returnAmount"`
	TokenInAmount     *big.Int        `json:"tokenInAmount"`
	TokenOutAmount    *big.Int        `json:"tokenOutAmount"`
	MarketSpotPrice   decimal.Decimal `json:"marketSpotPrice"`
	PriceImpact       decimal.Decimal `json:"priceImpact"`
}

// NonDegenerate reports whether both sides of the quote carry a positive amount
func (q Quote) NonDegenerate() bool {
	return positive(q.TokenInAmount) && positive(q.TokenOutAmount)
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// QuoteDisplay holds formatted quote information for display
type QuoteDisplay struct {
	Route        string   `json:"route"`
	SourceAmount string   `json:"sourceAmount"`
	SourceToken  string   `json:"sourceToken"`
	DestAmount   string   `json:"destAmount"`
	DestToken    string   `json:"destToken"`
	Rate         string   `json:"rate"`
	Fee          string   `json:"fee,omitempty"`
	MaximumIn    string   `json:"maximumIn"`
	MinimumOut   string   `json:"minimumOut"`
	PriceImpact  string   `json:"priceImpact"`
	Validation   string   `json:"validation,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// SwapStatus is the lifecycle of a submitted swap
type SwapStatus string

const (
	SwapStatusSubmitted SwapStatus = "submitted"
	SwapStatusConfirmed SwapStatus = "confirmed"
	SwapStatusFailed    SwapStatus = "failed"
)

// Terminal reports whether no further updates are expected for the status
func (s SwapStatus) Terminal() bool {
	return s == SwapStatusConfirmed || s == SwapStatusFailed
}

// SwapResult is created once a swap has been submitted
type SwapResult struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transactionId"`
	Venue         Route      `json:"venue"`
	TokenIn       string     `json:"tokenIn"`
	TokenOut      string     `json:"tokenOut"`
	AmountIn      *big.Int   `json:"amountIn"`
	AmountOut     *big.Int   `json:"amountOut"`
	Status        SwapStatus `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
}
