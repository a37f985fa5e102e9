package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multicallABI = `[
{
    "constant": false,
    "inputs": [
        {
            "components": [
                {"name": "target", "type": "address"},
                {"name": "callData", "type": "bytes"}
            ],
            "name": "calls",
            "type": "tuple[]"
        }
    ],
    "name": "aggregate",
    "outputs": [
        {"name": "blockNumber", "type": "uint256"},
        {"name": "returnData", "type": "bytes[]"}
    ],
    "payable": false,
    "stateMutability": "nonpayable",
    "type": "function"
}
]`

// Call is one read batched through Multicall
type Call struct {
	Target   common.Address
	CallData []byte
}

// Multicall batches contract reads into a single eth_call
type Multicall struct {
	backend Backend
	addr    common.Address
	abi     abi.ABI
}

// NewMulticall binds the aggregate contract deployed at addr
func NewMulticall(backend Backend, addr common.Address) *Multicall {
	return &Multicall{backend: backend, addr: addr, abi: MustParseABI(multicallABI)}
}

// Aggregate executes calls and returns their raw results along with the block they
// were read at. The whole batch fails if any call reverts.
func (m *Multicall) Aggregate(ctx context.Context, calls []Call) (uint64, [][]byte, error) {
	payload, err := m.abi.Pack("aggregate", calls)
	if err != nil {
		return 0, nil, fmt.Errorf("pack aggregate: %w", err)
	}

	res, err := m.backend.CallContract(ctx, ethereum.CallMsg{To: &m.addr, Data: payload}, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("call aggregate: %w", err)
	}

	var out struct {
		BlockNumber *big.Int
		ReturnData  [][]byte
	}
	if err := m.abi.UnpackIntoInterface(&out, "aggregate", res); err != nil {
		return 0, nil, fmt.Errorf("unpack aggregate: %w", err)
	}
	if len(out.ReturnData) != len(calls) {
		return 0, nil, fmt.Errorf("aggregate returned %d results for %d calls", len(out.ReturnData), len(calls))
	}
	return out.BlockNumber.Uint64(), out.ReturnData, nil
}
