package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string  { return e.msg }
func (e rpcError) ErrorCode() int { return e.code }

func TestIsUserRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrUserRejected, true},
		{"wrapped sentinel", fmt.Errorf("sign order: %w", ErrUserRejected), true},
		{"eip-1193 code", rpcError{code: 4001, msg: "whatever"}, true},
		{"provider message", errors.New("MetaMask Tx Signature: User denied transaction signature."), true},
		{"other code", rpcError{code: -32000, msg: "insufficient funds"}, false},
		{"infrastructure", errors.New("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUserRejected(tt.err))
		})
	}
}

func TestNetworkErrorUnwrap(t *testing.T) {
	inner := errors.New("timeout")
	err := fmt.Errorf("price quote: %w", &NetworkError{Op: "GET /markets", Err: inner, Retriable: true})

	assert.True(t, errors.Is(err, inner))
	assert.True(t, IsRetriable(err))
	assert.False(t, IsRetriable(inner))
}

func TestRouteJSON(t *testing.T) {
	data, err := RouteComposite.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"composite"`, string(data))

	var r Route
	assert.NoError(t, r.UnmarshalJSON([]byte(`"wrap_unwrap"`)))
	assert.Equal(t, RouteWrapUnwrap, r)
	assert.Error(t, r.UnmarshalJSON([]byte(`"teleport"`)))
}
