package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
)

// tokenListTTL is how long the supported token list is reused
const tokenListTTL = 10 * time.Minute

// OneClickClient wraps the 1Click SDK
type OneClickClient struct {
	client *oneclick.APIClient
	token  string

	mu        sync.Mutex
	tokens    []oneclick.TokenResponse
	fetchedAt time.Time
}

// NewOneClickClient creates a new 1Click API client. baseURL may be empty to use the
// SDK default server.
func NewOneClickClient(jwtToken, baseURL string) *OneClickClient {
	config := oneclick.NewConfiguration()
	if baseURL != "" {
		config.Servers = oneclick.ServerConfigurations{{URL: strings.TrimRight(baseURL, "/")}}
	}

	return &OneClickClient{
		client: oneclick.NewAPIClient(config),
		token:  jwtToken,
	}
}

func (c *OneClickClient) auth(ctx context.Context) context.Context {
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.token)
}

// GetSupportedTokens retrieves all supported tokens. The list is cached for a few minutes.
func (c *OneClickClient) GetSupportedTokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokens != nil && time.Since(c.fetchedAt) < tokenListTTL {
		return c.tokens, nil
	}

	resp, httpResp, err := c.client.OneClickAPI.GetTokens(c.auth(ctx)).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	c.tokens = resp
	c.fetchedAt = time.Now()
	return resp, nil
}

// FindTokenByAddress looks a token up by its contract address on a chain. An empty
// address selects the chain's native token with the given symbol.
func (c *OneClickClient) FindTokenByAddress(ctx context.Context, chain, address, nativeSymbol string) (*oneclick.TokenResponse, error) {
	tokens, err := c.GetSupportedTokens(ctx)
	if err != nil {
		return nil, err
	}

	chain = strings.ToLower(chain)
	for _, token := range tokens {
		if strings.ToLower(token.GetBlockchain()) != chain {
			continue
		}
		contract := token.GetContractAddress()
		if address == "" {
			if contract == "" && strings.EqualFold(token.GetSymbol(), nativeSymbol) {
				return &token, nil
			}
			continue
		}
		if strings.EqualFold(contract, address) {
			return &token, nil
		}
	}

	if address == "" {
		return nil, fmt.Errorf("native token '%s' not found on chain '%s'", nativeSymbol, chain)
	}
	return nil, fmt.Errorf("token '%s' not found on chain '%s'", address, chain)
}

// QuoteParams describes an intents quote. Amount is in the smallest unit of the origin
// asset for EXACT_INPUT and of the destination asset for EXACT_OUTPUT.
type QuoteParams struct {
	Dry         bool
	ExactIn     bool
	SlippageBps int64
	OriginAsset string
	DestAsset   string
	Amount      *big.Int
	RefundTo    string
	Recipient   string
	Deadline    time.Time
}

// GetQuote generates a swap quote
func (c *OneClickClient) GetQuote(ctx context.Context, p QuoteParams) (*oneclick.QuoteResponse, error) {
	if p.Recipient == "" {
		return nil, fmt.Errorf("recipient address is required")
	}
	refundTo := p.RefundTo
	if refundTo == "" {
		refundTo = p.Recipient
	}
	deadline := p.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(24 * time.Hour)
	}

	quoteReq := oneclick.NewQuoteRequest(
		p.Dry,               // dry
		"EXACT_INPUT",       // swapType
		100,                 // slippageTolerance (1%)
		p.OriginAsset,       // originAsset
		"ORIGIN_CHAIN",      // depositType
		p.DestAsset,         // destinationAsset
		p.Amount.String(),   // amount in smallest unit
		refundTo,            // refundTo
		"ORIGIN_CHAIN",      // refundType
		p.Recipient,         // recipient
		"DESTINATION_CHAIN", // recipientType
		deadline,            // deadline
	)
	if !p.ExactIn {
		setString(&quoteReq.SwapType, "EXACT_OUTPUT")
	}
	if p.SlippageBps > 0 {
		setNumber(&quoteReq.SlippageTolerance, p.SlippageBps)
	}

	resp, httpResp, err := c.client.OneClickAPI.GetQuote(c.auth(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return nil, apiError(httpResp, err)
	}
	defer httpResp.Body.Close()

	// Check for successful status codes (200-299)
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	if resp == nil {
		return nil, fmt.Errorf("empty quote response")
	}

	return resp, nil
}

// apiError extracts the provider's error message from a failed response
func apiError(httpResp *http.Response, err error) error {
	if httpResp == nil {
		return fmt.Errorf("failed to get quote from API: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil || len(bodyBytes) == 0 {
		return fmt.Errorf("failed to get quote from API (status: %d): %w", httpResp.StatusCode, err)
	}

	var errorResp map[string]interface{}
	if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
		if message, ok := errorResp["message"].(string); ok {
			return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, message)
		}
		if errors, ok := errorResp["errors"]; ok {
			return fmt.Errorf("API error (status %d): %v", httpResp.StatusCode, errors)
		}
	}
	// If we can't parse it, show the raw body
	return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(bodyBytes))
}

// GetSwapStatus checks the execution status of a swap
func (c *OneClickClient) GetSwapStatus(ctx context.Context, depositAddress string) (*oneclick.GetExecutionStatusResponse, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetExecutionStatus(c.auth(ctx)).DepositAddress(depositAddress).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	return resp, nil
}

// SubmitDepositTx submits the deposit transaction hash
func (c *OneClickClient) SubmitDepositTx(ctx context.Context, depositAddress, txHash string) error {
	req := oneclick.NewSubmitDepositTxRequest(depositAddress, txHash)

	_, httpResp, err := c.client.OneClickAPI.SubmitDepositTx(c.auth(ctx)).SubmitDepositTxRequest(*req).Execute()
	if err != nil {
		return fmt.Errorf("failed to submit deposit: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		return fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	return nil
}

// setString assigns to an SDK enum field whatever its underlying string type
func setString[T ~string](dst *T, v string) {
	*dst = T(v)
}

// setNumber assigns to an SDK numeric field whatever its underlying numeric type
func setNumber[T ~int | ~int32 | ~int64 | ~float32 | ~float64](dst *T, v int64) {
	*dst = T(v)
}
