package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	swaptypes "venue-swap/pkg/types"
)

// Signer signs transactions and typed orders on behalf of the user
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// ConfirmFunc asks the user to approve a signature. Returning false rejects it.
type ConfirmFunc func(ctx context.Context, summary string) (bool, error)

// KeySigner signs with a local private key
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	confirm ConfirmFunc
}

// NewKeySigner parses a hex private key. confirm may be nil to sign without prompting.
func NewKeySigner(hexKey string, confirm ConfirmFunc) (*KeySigner, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("private key not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		confirm: confirm,
	}, nil
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	to := "contract creation"
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	summary := fmt.Sprintf("send transaction to %s (value %s wei, gas %d)", to, tx.Value(), tx.Gas())
	if err := s.approve(ctx, summary); err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// SignTypedData returns a 65 byte EIP-712 signature with v in {27, 28}
func (s *KeySigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	if err := s.approve(ctx, fmt.Sprintf("sign %s for %s", data.PrimaryType, data.Domain.Name)); err != nil {
		return nil, err
	}

	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *KeySigner) approve(ctx context.Context, summary string) error {
	if s.confirm == nil {
		return nil
	}
	ok, err := s.confirm(ctx, summary)
	if err != nil {
		return err
	}
	if !ok {
		return swaptypes.ErrUserRejected
	}
	return nil
}
