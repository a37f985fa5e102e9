package offchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"venue-swap/pkg/chain"
	"venue-swap/pkg/client"
)

// Transferer moves funds to a deposit address
type Transferer interface {
	Transfer(ctx context.Context, token, recipient common.Address, amount *big.Int) (chain.Handle, error)
}

// IntentsConfig describes how local tokens map onto the intents network
type IntentsConfig struct {
	ChainID      int64
	Blockchain   string
	NativeSymbol string
	SlippageBps  int64
	Deadline     time.Duration
}

// IntentsVenue routes gasless orders through the 1Click intents API. Fees are embedded
// in the quoted amounts and the user pays by depositing to a one-off address.
type IntentsVenue struct {
	client   *client.OneClickClient
	transfer Transferer
	cfg      IntentsConfig
	log      *zap.Logger
}

// NewIntentsVenue creates the intents venue
func NewIntentsVenue(c *client.OneClickClient, transfer Transferer, cfg IntentsConfig, log *zap.Logger) *IntentsVenue {
	if cfg.Blockchain == "" {
		cfg.Blockchain = "eth"
	}
	if cfg.NativeSymbol == "" {
		cfg.NativeSymbol = "ETH"
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IntentsVenue{client: c, transfer: transfer, cfg: cfg, log: log}
}

// SupportsNetwork implements Venue
func (v *IntentsVenue) SupportsNetwork(chainID int64) bool {
	return chainID == v.cfg.ChainID
}

// FeeQuote implements Venue. The intents network charges inside the quote.
func (v *IntentsVenue) FeeQuote(context.Context, OrderParams) (FeeQuote, error) {
	return FeeQuote{Amount: new(big.Int)}, nil
}

// PriceQuote implements Venue with a dry quote
func (v *IntentsVenue) PriceQuote(ctx context.Context, p OrderParams) (PriceQuote, error) {
	params, err := v.quoteParams(ctx, p.SellToken, p.BuyToken, p.Amount, p.Kind, p.From, p.From)
	if err != nil {
		return PriceQuote{}, err
	}
	params.Dry = true

	resp, err := v.client.GetQuote(ctx, params)
	if err != nil {
		return PriceQuote{}, err
	}
	quote := resp.GetQuote()

	raw := quote.GetAmountOut()
	if p.Kind == KindBuy {
		raw = quote.GetAmountIn()
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return PriceQuote{}, fmt.Errorf("invalid quoted amount %q", raw)
	}
	return PriceQuote{Amount: amount}, nil
}

// SubmitSignedOrder takes a firm quote and deposits the sell amount to its deposit
// address. The deposit address identifies the order from then on.
func (v *IntentsVenue) SubmitSignedOrder(ctx context.Context, o SignedOrder) (string, error) {
	fixed := new(big.Int).Add(o.SellAmount, o.FeeAmount)
	if o.Kind == KindBuy {
		fixed = o.BuyAmount
	}
	params, err := v.quoteParams(ctx, o.SellToken, o.BuyToken, fixed, o.Kind, o.Receiver, o.Owner)
	if err != nil {
		return "", err
	}

	resp, err := v.client.GetQuote(ctx, params)
	if err != nil {
		return "", err
	}
	quote := resp.GetQuote()
	depositAddress := quote.GetDepositAddress()
	if depositAddress == "" {
		return "", fmt.Errorf("firm quote has no deposit address")
	}

	deposit, ok := new(big.Int).SetString(quote.GetAmountIn(), 10)
	if !ok {
		return "", fmt.Errorf("invalid deposit amount %q", quote.GetAmountIn())
	}
	limit := new(big.Int).Add(o.SellAmount, o.FeeAmount)
	if deposit.Cmp(limit) > 0 {
		return "", fmt.Errorf("firm quote asks %s, above the signed limit %s", deposit, limit)
	}
	if out, ok := new(big.Int).SetString(quote.GetAmountOut(), 10); ok && out.Cmp(o.BuyAmount) < 0 {
		return "", fmt.Errorf("firm quote returns %s, below the signed minimum %s", out, o.BuyAmount)
	}

	h, err := v.transfer.Transfer(ctx, o.SellToken, common.HexToAddress(depositAddress), deposit)
	if err != nil {
		return "", fmt.Errorf("deposit: %w", err)
	}
	v.log.Info("intent deposit sent",
		zap.String("deposit_address", depositAddress),
		zap.String("tx", h.Hash.Hex()),
		zap.String("amount", deposit.String()))

	if err := v.client.SubmitDepositTx(ctx, depositAddress, h.Hash.Hex()); err != nil {
		// the solver also picks deposits up on its own
		v.log.Warn("failed to notify deposit", zap.Error(err))
	}
	return depositAddress, nil
}

// OrderStatus implements Venue
func (v *IntentsVenue) OrderStatus(ctx context.Context, depositAddress string) (OrderStatus, error) {
	status, err := v.client.GetSwapStatus(ctx, depositAddress)
	if err != nil {
		return "", err
	}
	switch strings.ToUpper(status.GetStatus()) {
	case "SUCCESS", "COMPLETED":
		return OrderFulfilled, nil
	case "FAILED":
		return OrderFailed, nil
	case "REFUNDED":
		return OrderCancelled, nil
	default:
		return OrderOpen, nil
	}
}

func (v *IntentsVenue) quoteParams(ctx context.Context, sell, buy common.Address, amount *big.Int, kind Kind, recipient, refund common.Address) (client.QuoteParams, error) {
	origin, err := v.assetID(ctx, sell)
	if err != nil {
		return client.QuoteParams{}, fmt.Errorf("sell token: %w", err)
	}
	dest, err := v.assetID(ctx, buy)
	if err != nil {
		return client.QuoteParams{}, fmt.Errorf("buy token: %w", err)
	}
	// dry quotes still need a well formed recipient
	if recipient == (common.Address{}) {
		recipient = chain.NativeAsset
	}
	if refund == (common.Address{}) {
		refund = recipient
	}
	return client.QuoteParams{
		ExactIn:     kind == KindSell,
		SlippageBps: v.cfg.SlippageBps,
		OriginAsset: origin,
		DestAsset:   dest,
		Amount:      amount,
		RefundTo:    refund.Hex(),
		Recipient:   recipient.Hex(),
		Deadline:    time.Now().Add(v.cfg.Deadline),
	}, nil
}

func (v *IntentsVenue) assetID(ctx context.Context, addr common.Address) (string, error) {
	contract := ""
	if !chain.IsNative(addr) {
		contract = addr.Hex()
	}
	token, err := v.client.FindTokenByAddress(ctx, v.cfg.Blockchain, contract, v.cfg.NativeSymbol)
	if err != nil {
		return "", err
	}
	return token.GetAssetId(), nil
}
