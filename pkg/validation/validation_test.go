package validation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsInvalid(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Errorf("amount", "must be positive"))
	require.True(t, errors.Is(err, ErrInvalid))

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "amount", verr.Field)
	assert.Equal(t, "invalid amount: must be positive", verr.Error())
}

func TestWalletAddress(t *testing.T) {
	tests := []struct {
		addr string
		ok   bool
	}{
		{"0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0", true},
		{"0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb", false},
		{"742d35Cc6634C0532925a3b844Bc9e7595f0bEb0aa", false},
		{"0xZZ2d35Cc6634C0532925a3b844Bc9e7595f0bEb0", false},
		{"", false},
	}
	for _, tt := range tests {
		err := WalletAddress("walletAddress", tt.addr)
		if tt.ok {
			assert.NoError(t, err, tt.addr)
		} else {
			assert.ErrorIs(t, err, ErrInvalid, tt.addr)
		}
	}
}

func TestNonEmpty(t *testing.T) {
	assert.NoError(t, NonEmpty("userId", "user-1"))
	assert.EqualError(t, NonEmpty("userId", ""), "invalid userId: must be a non-empty string")
}
