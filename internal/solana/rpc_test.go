package solana

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubRPCClient(t *testing.T) {
	ctx := context.Background()
	s := NewStubRPCClient()

	s.SetLamports("wallet", 1_500_000_000)
	lamports, err := s.GetBalance(ctx, "wallet")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), lamports)

	_, err = s.GetTokenAccountBalance(ctx, "ata")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	s.SetTokenBalance("ata", decimal.NewFromInt(3))
	bal, err := s.GetTokenAccountBalance(ctx, "ata")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(3)))

	ok, err := s.AccountExists(ctx, "ata")
	require.NoError(t, err)
	assert.True(t, ok)

	sig, err := s.SendTransaction(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, Signature("stub-sig-1"), sig)
	assert.Equal(t, []string{"tx1"}, s.Sent())

	s.SetFailNext()
	_, err = s.GetBalance(ctx, "wallet")
	assert.Error(t, err)
	_, err = s.GetBalance(ctx, "wallet")
	assert.NoError(t, err, "failure is one-shot")
}
