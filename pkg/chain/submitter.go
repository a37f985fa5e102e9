package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// NativeAsset is the pseudo address used for the chain's gas token
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// IsNative reports whether addr stands for the gas token
func IsNative(addr common.Address) bool {
	return addr == NativeAsset || addr == (common.Address{})
}

// TxRequest describes a transaction to send. GasLimit zero means estimate.
type TxRequest struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// Handle identifies a sent transaction
type Handle struct {
	Hash   common.Hash
	SentAt time.Time
}

// Receipt is the confirmed outcome of a transaction
type Receipt struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}

// Submitter broadcasts transactions and waits for them to be mined
type Submitter interface {
	Submit(ctx context.Context, req TxRequest) (Handle, error)
	AwaitConfirmation(ctx context.Context, h Handle) (Receipt, error)
}

// ErrReverted is returned when a mined transaction failed
var ErrReverted = errors.New("transaction reverted")

const (
	defaultPollInterval = 2 * time.Second
	gasHeadroomPercent  = 120
	nativeTransferGas   = 21000
)

// EVMSubmitter sends EIP-1559 transactions through a Backend
type EVMSubmitter struct {
	backend      Backend
	signer       Signer
	chainID      *big.Int
	pollInterval time.Duration
	log          *zap.Logger
}

// NewEVMSubmitter creates a submitter for the given chain
func NewEVMSubmitter(backend Backend, signer Signer, chainID *big.Int, log *zap.Logger) *EVMSubmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &EVMSubmitter{
		backend:      backend,
		signer:       signer,
		chainID:      chainID,
		pollInterval: defaultPollInterval,
		log:          log,
	}
}

// WithPollInterval changes how often receipts are polled
func (e *EVMSubmitter) WithPollInterval(d time.Duration) *EVMSubmitter {
	e.pollInterval = d
	return e
}

// From is the account transactions are sent from
func (e *EVMSubmitter) From() common.Address {
	return e.signer.Address()
}

// Submit signs and broadcasts req
func (e *EVMSubmitter) Submit(ctx context.Context, req TxRequest) (Handle, error) {
	from := e.signer.Address()
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	// Check balance for the value leg
	if value.Sign() > 0 {
		balance, err := e.backend.BalanceAt(ctx, from, nil)
		if err != nil {
			return Handle{}, fmt.Errorf("failed to get balance: %w", err)
		}
		if balance.Cmp(value) < 0 {
			return Handle{}, fmt.Errorf("insufficient balance: have %s wei, need %s wei", balance, value)
		}
	}

	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	tipCap, feeCap, err := e.fees(ctx)
	if err != nil {
		return Handle{}, err
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		to := req.To
		estimated, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &to,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return Handle{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimated * gasHeadroomPercent / 100
	}

	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})

	signed, err := e.signer.SignTx(ctx, tx, e.chainID)
	if err != nil {
		return Handle{}, err
	}

	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return Handle{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	e.log.Info("transaction sent",
		zap.String("hash", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gasLimit))

	return Handle{Hash: signed.Hash(), SentAt: time.Now()}, nil
}

// AwaitConfirmation polls for the receipt of h until it is mined or ctx is done
func (e *EVMSubmitter) AwaitConfirmation(ctx context.Context, h Handle) (Receipt, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, h.Hash)
		switch {
		case err == nil:
			out := Receipt{
				Hash:        h.Hash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
			}
			if !out.Success {
				return out, fmt.Errorf("%s: %w", h.Hash.Hex(), ErrReverted)
			}
			return out, nil
		case errors.Is(err, ethereum.NotFound):
			// not mined yet
		default:
			e.log.Warn("receipt lookup failed", zap.String("hash", h.Hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("waiting for %s: %w", h.Hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Transfer sends amount of token to recipient, using a plain value transfer for the
// native asset and an ERC-20 transfer otherwise.
func (e *EVMSubmitter) Transfer(ctx context.Context, token, recipient common.Address, amount *big.Int) (Handle, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Handle{}, fmt.Errorf("invalid transfer amount: %v", amount)
	}

	if IsNative(token) {
		return e.Submit(ctx, TxRequest{To: recipient, Value: amount, GasLimit: nativeTransferGas})
	}

	balance, err := ERC20Balance(ctx, e.backend, token, e.signer.Address())
	if err != nil {
		return Handle{}, fmt.Errorf("failed to get token balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return Handle{}, fmt.Errorf("insufficient token balance: have %s, need %s", balance, amount)
	}

	data, err := ERC20.Pack("transfer", recipient, amount)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to pack transfer data: %w", err)
	}
	return e.Submit(ctx, TxRequest{To: token, Data: data})
}

// ERC20Balance reads balanceOf(account) on token
func ERC20Balance(ctx context.Context, backend Backend, token, account common.Address) (*big.Int, error) {
	data, err := ERC20.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf data: %w", err)
	}
	result, err := backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

func (e *EVMSubmitter) fees(ctx context.Context) (tipCap, feeCap *big.Int, err error) {
	tipCap, err = e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get gas tip: %w", err)
	}
	head, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	feeCap = new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return tipCap, feeCap, nil
}
