package swap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-swap/pkg/amm"
	"venue-swap/pkg/chain"
	"venue-swap/pkg/types"
)

func TestDisplayWrap(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.quote(t, chain.NativeAsset, weth, "1.5", true)

	d, err := Display(context.Background(), f.session.Snapshot(), registry(), DefaultHighPriceImpact)
	require.NoError(t, err)
	assert.Equal(t, types.RouteWrapUnwrap.String(), d.Route)
	assert.Equal(t, "ETH", d.SourceToken)
	assert.Equal(t, "WETH", d.DestToken)
	assert.Equal(t, "1.5", d.SourceAmount)
	assert.Equal(t, "1.5", d.DestAmount)
	assert.Equal(t, "1", d.Rate)
	assert.Empty(t, d.Fee)
	assert.Empty(t, d.Validation)
}

func TestDisplayDirectAMM(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.quote(t, weth, usdc, "2", true)

	d, err := Display(context.Background(), f.session.Snapshot(), registry(), DefaultHighPriceImpact)
	require.NoError(t, err)
	assert.Equal(t, types.RouteDirectAMM.String(), d.Route)
	assert.Equal(t, "2", d.SourceAmount)
	assert.Equal(t, "2", d.MaximumIn)
	assert.NotEmpty(t, d.MinimumOut)
	assert.Empty(t, d.Warnings)
}

func TestDisplayWithoutQuote(t *testing.T) {
	f := newFixture(t, fixtureOpts{pools: []amm.Pool{wethUSDC()}})
	f.quote(t, weth, usdc, "0", true)

	_, err := Display(context.Background(), f.session.Snapshot(), registry(), DefaultHighPriceImpact)
	assert.ErrorIs(t, err, types.ErrQuoteUnavailable)
}
