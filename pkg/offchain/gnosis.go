package offchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"venue-swap/pkg/types"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultRateLimit   = 5
	maxResponseBytes   = 1 << 20
)

// GnosisClient talks to an order-book API that settles EIP-712 signed orders
type GnosisClient struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	networks map[int64]bool
	log      *zap.Logger
}

// GnosisOption configures a GnosisClient
type GnosisOption func(*GnosisClient)

// WithHTTPClient replaces the default http client
func WithHTTPClient(c *http.Client) GnosisOption {
	return func(g *GnosisClient) { g.http = c }
}

// WithRateLimit caps outgoing requests per second
func WithRateLimit(perSecond float64, burst int) GnosisOption {
	return func(g *GnosisClient) {
		if perSecond <= 0 {
			g.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithGnosisLogger sets the client's logger
func WithGnosisLogger(log *zap.Logger) GnosisOption {
	return func(g *GnosisClient) { g.log = log }
}

// NewGnosisClient creates a client for baseURL serving the given chain ids
func NewGnosisClient(baseURL string, networks []int64, opts ...GnosisOption) *GnosisClient {
	g := &GnosisClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: defaultHTTPTimeout},
		limiter:  rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
		networks: make(map[int64]bool, len(networks)),
		log:      zap.NewNop(),
	}
	for _, id := range networks {
		g.networks[id] = true
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SupportsNetwork implements Venue
func (g *GnosisClient) SupportsNetwork(chainID int64) bool {
	return g.networks[chainID]
}

// FeeQuote implements Venue
func (g *GnosisClient) FeeQuote(ctx context.Context, p OrderParams) (FeeQuote, error) {
	q := url.Values{}
	q.Set("sellToken", p.SellToken.Hex())
	q.Set("buyToken", p.BuyToken.Hex())
	q.Set("amount", amountString(p.Amount))
	q.Set("kind", string(p.Kind))

	body, err := g.do(ctx, http.MethodGet, "/api/v1/fee?"+q.Encode(), nil)
	if err != nil {
		return FeeQuote{}, err
	}

	res := gjson.ParseBytes(body)
	amount, err := parseAmount(res.Get("amount"))
	if err != nil {
		return FeeQuote{}, fmt.Errorf("fee quote: %w", err)
	}
	fee := FeeQuote{Amount: amount}
	if exp := res.Get("expirationDate"); exp.Exists() {
		if t, err := time.Parse(time.RFC3339, exp.String()); err == nil {
			fee.ExpiresAt = t
		}
	}
	return fee, nil
}

// PriceQuote implements Venue
func (g *GnosisClient) PriceQuote(ctx context.Context, p OrderParams) (PriceQuote, error) {
	path := fmt.Sprintf("/api/v1/markets/%s-%s/%s/%s",
		p.SellToken.Hex(), p.BuyToken.Hex(), p.Kind, amountString(p.Amount))

	body, err := g.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	amount, err := parseAmount(gjson.GetBytes(body, "amount"))
	if err != nil {
		return PriceQuote{}, fmt.Errorf("price quote: %w", err)
	}
	return PriceQuote{Amount: amount}, nil
}

type orderBody struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	Receiver          string `json:"receiver"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           uint32 `json:"validTo"`
	AppData           string `json:"appData"`
	FeeAmount         string `json:"feeAmount"`
	Kind              Kind   `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`
	SigningScheme     string `json:"signingScheme"`
	Signature         string `json:"signature"`
	From              string `json:"from"`
}

// SubmitSignedOrder implements Venue and returns the order uid
func (g *GnosisClient) SubmitSignedOrder(ctx context.Context, o SignedOrder) (string, error) {
	payload, err := json.Marshal(orderBody{
		SellToken:         o.SellToken.Hex(),
		BuyToken:          o.BuyToken.Hex(),
		Receiver:          o.Receiver.Hex(),
		SellAmount:        amountString(o.SellAmount),
		BuyAmount:         amountString(o.BuyAmount),
		ValidTo:           o.ValidTo,
		AppData:           hexutil.Encode(o.AppData[:]),
		FeeAmount:         amountString(o.FeeAmount),
		Kind:              o.Kind,
		PartiallyFillable: o.PartiallyFillable,
		SellTokenBalance:  balanceERC20,
		BuyTokenBalance:   balanceERC20,
		SigningScheme:     "eip712",
		Signature:         hexutil.Encode(o.Signature),
		From:              o.Owner.Hex(),
	})
	if err != nil {
		return "", fmt.Errorf("encode order: %w", err)
	}

	body, err := g.do(ctx, http.MethodPost, "/api/v1/orders", payload)
	if err != nil {
		return "", err
	}
	uid := gjson.ParseBytes(body).String()
	if uid == "" {
		return "", fmt.Errorf("order submission returned no uid")
	}
	g.log.Info("order submitted", zap.String("uid", uid), zap.String("kind", string(o.Kind)))
	return uid, nil
}

// OrderStatus implements Venue
func (g *GnosisClient) OrderStatus(ctx context.Context, uid string) (OrderStatus, error) {
	body, err := g.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(uid), nil)
	if err != nil {
		return "", err
	}
	switch status := gjson.GetBytes(body, "status").String(); status {
	case "open", "presignaturePending":
		return OrderOpen, nil
	case "fulfilled":
		return OrderFulfilled, nil
	case "cancelled":
		return OrderCancelled, nil
	case "expired":
		return OrderExpired, nil
	default:
		return "", fmt.Errorf("unknown order status %q", status)
	}
}

func (g *GnosisClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	op := method + " " + strings.SplitN(path, "?", 2)[0]

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", op, err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, &types.NetworkError{Op: op, Err: err, Retriable: ctx.Err() == nil}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &types.NetworkError{Op: op, Err: err, Retriable: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "description").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		g.log.Debug("order api error", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return nil, &types.NetworkError{
			Op:        op,
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, msg),
			Retriable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}
	return body, nil
}

func parseAmount(v gjson.Result) (*big.Int, error) {
	if !v.Exists() {
		return nil, fmt.Errorf("missing amount")
	}
	amount, ok := new(big.Int).SetString(v.String(), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", v.String())
	}
	return amount, nil
}
