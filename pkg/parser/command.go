package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"venue-swap/pkg/tokens"
	"venue-swap/pkg/types"
)

var (
	// <amount> <token> TO <token>
	exactInPattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9]+)\s+(?:TO|FOR)\s+([A-Z0-9]+)$`)
	// <token> TO <amount> <token>
	exactOutPattern = regexp.MustCompile(`^([A-Z0-9]+)\s+(?:TO|FOR)\s+(\d+\.?\d*)\s+([A-Z0-9]+)$`)
)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 2 WETH to USDC" sells exactly 2 WETH
//   - "WETH for 4000 USDC" buys exactly 4000 USDC
//   - "0.5 ETH to DAI"
func ParseSwapCommand(command string) (*types.SwapRequest, error) {
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	command = strings.TrimPrefix(command, "SWAP ")

	if m := exactInPattern.FindStringSubmatch(command); m != nil {
		return &types.SwapRequest{Amount: m[1], SourceToken: m[2], DestToken: m[3], ExactIn: true}, nil
	}
	if m := exactOutPattern.FindStringSubmatch(command); m != nil {
		return &types.SwapRequest{Amount: m[2], SourceToken: m[1], DestToken: m[3], ExactIn: false}, nil
	}

	return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token>' or 'swap <token> to <amount> <token>' (e.g., 'swap 2 WETH to USDC')")
}

// ValidateSwapRequest validates that a swap request has all required fields
func ValidateSwapRequest(req *types.SwapRequest) error {
	if req.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if req.SourceToken == "" {
		return fmt.Errorf("source token is required")
	}
	if req.DestToken == "" {
		return fmt.Errorf("destination token is required")
	}
	if strings.EqualFold(req.SourceToken, req.DestToken) {
		return fmt.Errorf("source and destination token are the same")
	}
	return nil
}

// Resolver looks tokens up by symbol
type Resolver interface {
	Lookup(symbol string) (tokens.Token, bool)
}

// ToIntent resolves a request's symbols and amount into a swap intent
func ToIntent(req *types.SwapRequest, r Resolver, slippageBps int64) (types.SwapIntent, error) {
	if err := ValidateSwapRequest(req); err != nil {
		return types.SwapIntent{}, fmt.Errorf("%w: %v", types.ErrInvalidIntent, err)
	}

	in, ok := r.Lookup(req.SourceToken)
	if !ok {
		return types.SwapIntent{}, fmt.Errorf("%w: unknown token %s", types.ErrInvalidIntent, req.SourceToken)
	}
	out, ok := r.Lookup(req.DestToken)
	if !ok {
		return types.SwapIntent{}, fmt.Errorf("%w: unknown token %s", types.ErrInvalidIntent, req.DestToken)
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return types.SwapIntent{}, fmt.Errorf("%w: invalid amount %q", types.ErrInvalidIntent, req.Amount)
	}
	if !amount.IsPositive() {
		return types.SwapIntent{}, fmt.Errorf("%w: amount must be positive", types.ErrInvalidIntent)
	}

	// the fixed side of the trade may not carry more precision than the token
	fixed := out
	if req.ExactIn {
		fixed = in
	}
	if amount.Exponent() < -fixed.Decimals {
		return types.SwapIntent{}, fmt.Errorf("%w: %s supports at most %d decimals", types.ErrInvalidIntent, fixed.Symbol, fixed.Decimals)
	}

	return types.SwapIntent{
		TokenIn:           in.Address,
		TokenOut:          out.Address,
		Amount:            amount,
		ExactIn:           req.ExactIn,
		SlippageBufferBps: slippageBps,
	}, nil
}
