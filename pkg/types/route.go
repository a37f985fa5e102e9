package types

import (
	"encoding/json"
	"fmt"
)

// Route is the venue chosen for the current intent
type Route int

const (
	RouteDirectAMM Route = iota
	RouteWrapUnwrap
	RouteOffchainGasless
	RouteComposite
)

var routeNames = map[Route]string{
	RouteDirectAMM:       "direct_amm",
	RouteWrapUnwrap:      "wrap_unwrap",
	RouteOffchainGasless: "offchain_gasless",
	RouteComposite:       "composite",
}

func (r Route) String() string {
	if name, ok := routeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("route(%d)", int(r))
}

func (r Route) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Route) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for route, n := range routeNames {
		if n == name {
			*r = route
			return nil
		}
	}
	return fmt.Errorf("unknown route %q", name)
}

// Validation is a recoverable, user-visible condition that blocks submission
type Validation int

const (
	ValidationNone Validation = iota
	ValidationNoRoute
	ValidationFeeExceedsAmount
	ValidationPriceExceedsBalance
	ValidationHighPriceImpact
)

func (v Validation) String() string {
	switch v {
	case ValidationNoRoute:
		return "no viable route for this pair and amount"
	case ValidationFeeExceedsAmount:
		return "fee exceeds the amount to exchange"
	case ValidationPriceExceedsBalance:
		return "price exceeds wallet balance"
	case ValidationHighPriceImpact:
		return "price impact is too high"
	default:
		return ""
	}
}

// VenueState is what a venue quoter exposes to the façade. Failures are folded into
// flags here instead of being returned as errors.
type VenueState struct {
	Quote       Quote
	HasQuote    bool
	Loading     bool
	Validation  Validation
	HighFees    bool
	Unavailable bool
	Err         error
}

// Settled reports whether the venue finished its latest request, with or without a quote
func (s VenueState) Settled() bool {
	return !s.Loading && (s.HasQuote || s.Validation != ValidationNone || s.Unavailable || s.Err != nil)
}
