package swap

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"venue-swap/pkg/quotemath"
	"venue-swap/pkg/tokens"
	"venue-swap/pkg/types"
)

// Display formats a view for the terminal or JSON output. It needs a quote.
func Display(ctx context.Context, v View, meta tokens.Metadata, highImpact decimal.Decimal) (types.QuoteDisplay, error) {
	if !v.HasQuote {
		return types.QuoteDisplay{}, types.ErrQuoteUnavailable
	}
	decIn, err := meta.Decimals(ctx, v.Intent.TokenIn)
	if err != nil {
		return types.QuoteDisplay{}, fmt.Errorf("token in decimals: %w", err)
	}
	decOut, err := meta.Decimals(ctx, v.Intent.TokenOut)
	if err != nil {
		return types.QuoteDisplay{}, fmt.Errorf("token out decimals: %w", err)
	}

	q := v.Quote
	in := quotemath.ToHuman(q.TokenInAmount, decIn)
	out := quotemath.ToHuman(q.TokenOutAmount, decOut)

	d := types.QuoteDisplay{
		Route:        v.Route.String(),
		SourceAmount: in.String(),
		SourceToken:  meta.Symbol(v.Intent.TokenIn),
		DestAmount:   out.String(),
		DestToken:    meta.Symbol(v.Intent.TokenOut),
		MaximumIn:    quotemath.ToHuman(q.MaximumInAmount, decIn).String(),
		MinimumOut:   quotemath.ToHuman(q.MinimumOutAmount, decOut).String(),
		PriceImpact:  q.PriceImpact.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%",
	}
	if in.IsPositive() {
		d.Rate = quotemath.RoundSignificant(out.Div(in), 6).String()
	}
	if q.FeeAmountInToken != nil && q.FeeAmountInToken.Sign() > 0 {
		d.Fee = quotemath.ToHuman(q.FeeAmountInToken, decIn).String() + " " + d.SourceToken
	}
	if v.Validation != types.ValidationNone {
		d.Validation = v.Validation.String()
	}

	if v.HighFees {
		d.Warnings = append(d.Warnings, "venue fee is a large share of the trade")
	}
	if v.Unavailable {
		d.Warnings = append(d.Warnings, "gasless venue did not answer in time")
	}
	if highImpact.IsPositive() && q.PriceImpact.GreaterThan(highImpact) && v.Validation != types.ValidationHighPriceImpact {
		d.Warnings = append(d.Warnings, "price impact above "+highImpact.Mul(decimal.NewFromInt(100)).String()+"%")
	}
	return d, nil
}
