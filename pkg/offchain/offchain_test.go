package offchain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-swap/pkg/chain"
	"venue-swap/pkg/orchestrator"
	"venue-swap/pkg/tokens"
	"venue-swap/pkg/types"
)

var (
	tka = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tkb = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func registry() *tokens.Registry {
	return tokens.NewRegistry([]tokens.Token{
		{Symbol: "TKA", Address: tka, Decimals: 0},
		{Symbol: "TKB", Address: tkb, Decimals: 0},
	}, nil, common.Address{})
}

type fakeVenue struct {
	mu       sync.Mutex
	fee      *big.Int
	price    func(ctx context.Context, p OrderParams) (PriceQuote, error)
	priced   []OrderParams
	statuses []OrderStatus
	signed   []SignedOrder
	onFee    func()
}

func (f *fakeVenue) FeeQuote(context.Context, OrderParams) (FeeQuote, error) {
	if f.onFee != nil {
		f.onFee()
	}
	return FeeQuote{Amount: f.fee}, nil
}

func (f *fakeVenue) PriceQuote(ctx context.Context, p OrderParams) (PriceQuote, error) {
	f.mu.Lock()
	f.priced = append(f.priced, p)
	f.mu.Unlock()
	return f.price(ctx, p)
}

func (f *fakeVenue) SubmitSignedOrder(_ context.Context, o SignedOrder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signed = append(f.signed, o)
	return "uid-1", nil
}

func (f *fakeVenue) OrderStatus(context.Context, string) (OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

func (f *fakeVenue) SupportsNetwork(chainID int64) bool { return chainID == 1 }

func fixedPrice(amount int64) func(context.Context, OrderParams) (PriceQuote, error) {
	return func(context.Context, OrderParams) (PriceQuote, error) {
		return PriceQuote{Amount: big.NewInt(amount)}, nil
	}
}

func newTestQuoter(v Venue, timeout time.Duration) *Quoter {
	return NewQuoter(v, registry(), orchestrator.NewChannel(orchestrator.VenueOffchain, nil), Config{
		ChainID:      1,
		QuoteTimeout: timeout,
		PollInterval: time.Millisecond,
	}, nil)
}

func intent(amount int64, exactIn bool) types.SwapIntent {
	return types.SwapIntent{
		TokenIn: tka, TokenOut: tkb, Amount: decimal.NewFromInt(amount),
		ExactIn: exactIn, SlippageBufferBps: 50,
	}
}

func TestFeeExceedsAmount(t *testing.T) {
	v := &fakeVenue{fee: big.NewInt(5), price: fixedPrice(100)}
	q := newTestQuoter(v, time.Second)

	q.HandleAmountChange(context.Background(), intent(3, true))

	st := q.State()
	assert.Equal(t, types.ValidationFeeExceedsAmount, st.Validation)
	assert.False(t, st.HasQuote)
	assert.False(t, st.Loading)
	assert.Empty(t, v.priced, "no price quote once the fee eats the amount")
}

func TestSupersededQuoteSkipsPrice(t *testing.T) {
	ch := orchestrator.NewChannel(orchestrator.VenueOffchain, nil)
	// a newer request arrives while the fee is being quoted
	v := &fakeVenue{fee: big.NewInt(10), price: fixedPrice(1980), onFee: func() { ch.Issue() }}
	q := NewQuoter(v, registry(), ch, Config{ChainID: 1, QuoteTimeout: time.Second}, nil)

	q.HandleAmountChange(context.Background(), intent(1000, true))

	assert.Empty(t, v.priced)
	assert.True(t, q.State().Loading, "the superseded answer is never applied")
	_, ok := q.QuotedIntent()
	assert.False(t, ok)
}

func TestExactInQuote(t *testing.T) {
	v := &fakeVenue{fee: big.NewInt(10), price: fixedPrice(1980)}
	q := newTestQuoter(v, time.Second)

	q.HandleAmountChange(context.Background(), intent(1000, true))

	st := q.State()
	require.True(t, st.HasQuote)
	assert.False(t, st.HighFees)
	require.Len(t, v.priced, 1)
	assert.Equal(t, "990", v.priced[0].Amount.String())
	assert.Equal(t, KindSell, v.priced[0].Kind)

	assert.Equal(t, "10", st.Quote.FeeAmountInToken.String())
	assert.Equal(t, "20", st.Quote.FeeAmountOutToken.String())
	assert.Equal(t, "1000", st.Quote.MaximumInAmount.String())
	assert.Equal(t, "1970", st.Quote.MinimumOutAmount.String())
	assert.Equal(t, "1980", st.Quote.TokenOutAmount.String())
	assert.True(t, st.Quote.PriceImpact.IsZero())

	quoted, ok := q.QuotedIntent()
	require.True(t, ok)
	assert.Equal(t, intent(1000, true), quoted)
}

func TestHighFees(t *testing.T) {
	v := &fakeVenue{fee: big.NewInt(300), price: fixedPrice(1400)}
	q := newTestQuoter(v, time.Second)

	q.HandleAmountChange(context.Background(), intent(1000, true))

	st := q.State()
	assert.True(t, st.HasQuote)
	assert.True(t, st.HighFees)
}

func TestExactOutQuote(t *testing.T) {
	v := &fakeVenue{fee: big.NewInt(10), price: fixedPrice(250)}
	q := newTestQuoter(v, time.Second)

	in := intent(500, false)
	in.SlippageBufferBps = 100
	q.HandleAmountChange(context.Background(), in)

	st := q.State()
	require.True(t, st.HasQuote)
	assert.Equal(t, KindBuy, v.priced[0].Kind)
	assert.Equal(t, "500", v.priced[0].Amount.String())
	assert.Equal(t, "263", st.Quote.MaximumInAmount.String())
	assert.Equal(t, "500", st.Quote.MinimumOutAmount.String())
	assert.Equal(t, "260", st.Quote.TokenInAmount.String())
	assert.Equal(t, "20", st.Quote.FeeAmountOutToken.String())
}

func TestExactOutFeeExceedsSellAmount(t *testing.T) {
	v := &fakeVenue{fee: big.NewInt(300), price: fixedPrice(250)}
	q := newTestQuoter(v, time.Second)

	q.HandleAmountChange(context.Background(), intent(500, false))

	st := q.State()
	assert.Equal(t, types.ValidationFeeExceedsAmount, st.Validation)
	assert.False(t, st.HasQuote)
}

func TestPriceQuoteTimeoutMarksUnavailable(t *testing.T) {
	v := &fakeVenue{fee: big.NewInt(1), price: func(ctx context.Context, _ OrderParams) (PriceQuote, error) {
		<-ctx.Done()
		return PriceQuote{}, ctx.Err()
	}}
	q := newTestQuoter(v, 20*time.Millisecond)

	q.HandleAmountChange(context.Background(), intent(1000, true))

	st := q.State()
	assert.True(t, st.Unavailable)
	assert.NoError(t, st.Err)
	assert.False(t, st.HasQuote)
	assert.True(t, st.Settled())
}

func TestVenueErrorIsState(t *testing.T) {
	v := &fakeVenue{fee: big.NewInt(1), price: func(context.Context, OrderParams) (PriceQuote, error) {
		return PriceQuote{}, errors.New("boom")
	}}
	q := newTestQuoter(v, time.Second)

	q.HandleAmountChange(context.Background(), intent(1000, true))

	st := q.State()
	assert.Error(t, st.Err)
	assert.False(t, st.Unavailable)
}

func TestStaleResponseDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	v := &fakeVenue{fee: big.NewInt(0), price: func(_ context.Context, p OrderParams) (PriceQuote, error) {
		if p.Amount.Int64() == 100 {
			close(entered)
			<-release
		}
		return PriceQuote{Amount: new(big.Int).Mul(p.Amount, big.NewInt(2))}, nil
	}}
	q := newTestQuoter(v, time.Second)

	done := make(chan struct{})
	go func() {
		q.HandleAmountChange(context.Background(), intent(100, true))
		close(done)
	}()
	<-entered

	q.HandleAmountChange(context.Background(), intent(200, true))
	close(release)
	<-done

	st := q.State()
	require.True(t, st.HasQuote)
	assert.Equal(t, "400", st.Quote.TokenOutAmount.String())
}

func TestSubmitSignsOrder(t *testing.T) {
	v := &fakeVenue{fee: big.NewInt(10), price: fixedPrice(1980), statuses: []OrderStatus{OrderOpen, OrderOpen, OrderFulfilled}}
	q := newTestQuoter(v, time.Second)
	signer, err := chain.NewKeySigner(testKey, nil)
	require.NoError(t, err)

	_, err = q.Submit(context.Background(), signer)
	assert.ErrorIs(t, err, types.ErrQuoteUnavailable)

	q.HandleAmountChange(context.Background(), intent(1000, true))
	uid, err := q.Submit(context.Background(), signer)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", uid)

	require.Len(t, v.signed, 1)
	o := v.signed[0]
	assert.Equal(t, "990", o.SellAmount.String())
	assert.Equal(t, "1970", o.BuyAmount.String())
	assert.Equal(t, "10", o.FeeAmount.String())
	assert.Equal(t, signer.Address(), o.Receiver)
	assert.True(t, int64(o.ValidTo) > time.Now().Unix())

	hash, err := o.Hash(NewDomain(1, common.Address{}))
	require.NoError(t, err)
	sig := append([]byte(nil), o.Signature...)
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), crypto.PubkeyToAddress(*pub))

	status, err := q.Await(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, OrderFulfilled, status)
	assert.Equal(t, types.SwapStatusConfirmed, status.SwapStatus())
}

func TestSubmitUserRejected(t *testing.T) {
	v := &fakeVenue{fee: big.NewInt(10), price: fixedPrice(1980)}
	q := newTestQuoter(v, time.Second)
	signer, err := chain.NewKeySigner(testKey, func(context.Context, string) (bool, error) { return false, nil })
	require.NoError(t, err)

	q.HandleAmountChange(context.Background(), intent(1000, true))
	_, err = q.Submit(context.Background(), signer)
	assert.True(t, types.IsUserRejected(err))
	assert.Empty(t, v.signed)
}

func TestGnosisClient(t *testing.T) {
	var posted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/fee":
			assert.Equal(t, "sell", r.URL.Query().Get("kind"))
			assert.Equal(t, "1000", r.URL.Query().Get("amount"))
			_, _ = io.WriteString(w, `{"amount":"12","expirationDate":"2030-01-01T00:00:00Z"}`)
		case r.URL.Path == "/api/v1/markets/"+tka.Hex()+"-"+tkb.Hex()+"/sell/988":
			_, _ = io.WriteString(w, `{"amount":"1950","token":"x"}`)
		case r.URL.Path == "/api/v1/orders" && r.Method == http.MethodPost:
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `"0xabc"`)
		case r.URL.Path == "/api/v1/orders/0xabc":
			_, _ = io.WriteString(w, `{"status":"fulfilled"}`)
		case r.URL.Path == "/api/v1/orders/0xdead":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"errorType":"Busy","description":"try later"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errorType":"NotFound","description":"no such route"}`)
		}
	}))
	defer srv.Close()

	g := NewGnosisClient(srv.URL, []int64{1, 100}, WithRateLimit(0, 0))
	ctx := context.Background()

	assert.True(t, g.SupportsNetwork(100))
	assert.False(t, g.SupportsNetwork(5))

	fee, err := g.FeeQuote(ctx, OrderParams{SellToken: tka, BuyToken: tkb, Amount: big.NewInt(1000), Kind: KindSell})
	require.NoError(t, err)
	assert.Equal(t, "12", fee.Amount.String())
	assert.Equal(t, 2030, fee.ExpiresAt.Year())

	price, err := g.PriceQuote(ctx, OrderParams{SellToken: tka, BuyToken: tkb, Amount: big.NewInt(988), Kind: KindSell})
	require.NoError(t, err)
	assert.Equal(t, "1950", price.Amount.String())

	uid, err := g.SubmitSignedOrder(ctx, SignedOrder{
		Order: Order{
			SellToken: tka, BuyToken: tkb, Receiver: tka,
			SellAmount: big.NewInt(988), BuyAmount: big.NewInt(1940), FeeAmount: big.NewInt(12),
			ValidTo: 1700000000, Kind: KindSell,
		},
		Owner:     tkb,
		Signature: []byte{1, 2, 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", uid)
	assert.Equal(t, "988", posted["sellAmount"])
	assert.Equal(t, "eip712", posted["signingScheme"])
	assert.Equal(t, "0x010203", posted["signature"])
	assert.Equal(t, "erc20", posted["sellTokenBalance"])

	status, err := g.OrderStatus(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, OrderFulfilled, status)

	_, err = g.OrderStatus(ctx, "0xdead")
	require.Error(t, err)
	assert.True(t, types.IsRetriable(err))
	assert.Contains(t, err.Error(), "try later")

	_, err = g.PriceQuote(ctx, OrderParams{SellToken: tkb, BuyToken: tka, Amount: big.NewInt(1), Kind: KindBuy})
	require.Error(t, err)
	assert.False(t, types.IsRetriable(err))
}

func TestGnosisClientHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	g := NewGnosisClient(srv.URL, []int64{1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.PriceQuote(ctx, OrderParams{SellToken: tka, BuyToken: tkb, Amount: big.NewInt(1), Kind: KindSell})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
