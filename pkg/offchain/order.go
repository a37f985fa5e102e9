package offchain

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"venue-swap/pkg/chain"
)

// DefaultSettlement is the canonical settlement contract orders are signed for
var DefaultSettlement = common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")

// Balance sources understood by the settlement contract
const balanceERC20 = "erc20"

// Order is an off-chain limit order. All amounts are raw token units.
type Order struct {
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	FeeAmount         *big.Int
	ValidTo           uint32
	AppData           common.Hash
	Kind              Kind
	PartiallyFillable bool
}

// SignedOrder is an order with the owner's EIP-712 signature
type SignedOrder struct {
	Order
	Owner     common.Address
	Signature []byte
}

// Domain is the EIP-712 signing domain
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// NewDomain returns the settlement domain for a chain
func NewDomain(chainID int64, settlement common.Address) Domain {
	if settlement == (common.Address{}) {
		settlement = DefaultSettlement
	}
	return Domain{Name: "Gnosis Protocol", Version: "v2", ChainID: chainID, VerifyingContract: settlement}
}

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "sellToken", Type: "address"},
		{Name: "buyToken", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "sellAmount", Type: "uint256"},
		{Name: "buyAmount", Type: "uint256"},
		{Name: "validTo", Type: "uint32"},
		{Name: "appData", Type: "bytes32"},
		{Name: "feeAmount", Type: "uint256"},
		{Name: "kind", Type: "string"},
		{Name: "partiallyFillable", Type: "bool"},
		{Name: "sellTokenBalance", Type: "string"},
		{Name: "buyTokenBalance", Type: "string"},
	},
}

// TypedData builds the EIP-712 payload for o
func (o Order) TypedData(d Domain) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           math.NewHexOrDecimal256(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sellToken":         o.SellToken.Hex(),
			"buyToken":          o.BuyToken.Hex(),
			"receiver":          o.Receiver.Hex(),
			"sellAmount":        amountString(o.SellAmount),
			"buyAmount":         amountString(o.BuyAmount),
			"validTo":           strconv.FormatUint(uint64(o.ValidTo), 10),
			"appData":           hexutil.Encode(o.AppData[:]),
			"feeAmount":         amountString(o.FeeAmount),
			"kind":              string(o.Kind),
			"partiallyFillable": o.PartiallyFillable,
			"sellTokenBalance":  balanceERC20,
			"buyTokenBalance":   balanceERC20,
		},
	}
}

// Hash returns the EIP-712 digest of o
func (o Order) Hash(d Domain) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(o.TypedData(d))
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash order: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// SignOrder signs o for the signer's address
func SignOrder(ctx context.Context, signer chain.Signer, d Domain, o Order) (SignedOrder, error) {
	sig, err := signer.SignTypedData(ctx, o.TypedData(d))
	if err != nil {
		return SignedOrder{}, err
	}
	return SignedOrder{Order: o, Owner: signer.Address(), Signature: sig}, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
