package custody

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/predictd/internal/domain"
)

func TestEscrowRelease(t *testing.T) {
	r := NewRecorder(slog.New(slog.DiscardHandler))
	ctx := context.Background()

	require.NoError(t, r.Escrow(ctx, domain.TransferIntent{
		MarketID: "m1", Principal: "alice", Amount: 1000, Kind: domain.TransferEscrow,
	}))
	require.NoError(t, r.Escrow(ctx, domain.TransferIntent{
		MarketID: "m1", Principal: "bob", Amount: 500, Kind: domain.TransferEscrow,
	}))
	assert.Equal(t, uint64(1500), r.Escrowed("m1"))

	require.NoError(t, r.Release(ctx, domain.TransferIntent{
		MarketID: "m1", Principal: "alice", Amount: 700, Kind: domain.TransferRelease,
	}))
	assert.Equal(t, uint64(800), r.Escrowed("m1"))

	// Pool accounts are independent per market.
	assert.Zero(t, r.Escrowed("m2"))
}

func TestReleaseExceedingEscrow(t *testing.T) {
	r := NewRecorder(slog.New(slog.DiscardHandler))
	ctx := context.Background()

	require.NoError(t, r.Escrow(ctx, domain.TransferIntent{
		MarketID: "m1", Principal: "alice", Amount: 100, Kind: domain.TransferEscrow,
	}))

	err := r.Release(ctx, domain.TransferIntent{
		MarketID: "m1", Principal: "alice", Amount: 101, Kind: domain.TransferRelease,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// A failed release leaves the balance untouched.
	assert.Equal(t, uint64(100), r.Escrowed("m1"))
}
