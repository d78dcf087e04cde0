// Package custody provides an in-process stand-in for the external asset
// custodian. The real custodian moves the base asset; the recorder only
// tracks pool-account balances so dev deployments and tests can validate the
// escrow/release choreography without a transfer backend.
package custody

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openpredict/predictd/internal/domain"
)

// Recorder implements domain.AssetCustody by bookkeeping escrowed balances
// per market pool account.
type Recorder struct {
	mu       sync.Mutex
	escrowed map[string]uint64 // marketID -> pool-account balance
	logger   *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		escrowed: make(map[string]uint64),
		logger:   logger,
	}
}

// Escrow credits the pool account. It never rejects: the recorder assumes the
// caller's balance was validated upstream, matching the trust boundary the
// ledger core expects from a real custodian.
func (r *Recorder) Escrow(ctx context.Context, intent domain.TransferIntent) error {
	r.mu.Lock()
	r.escrowed[intent.MarketID] += intent.Amount
	r.mu.Unlock()

	r.logger.DebugContext(ctx, "custody: escrowed",
		slog.String("market_id", intent.MarketID),
		slog.String("principal", intent.Principal),
		slog.Uint64("amount", intent.Amount),
		slog.String("reference", intent.Reference),
	)
	return nil
}

// Release debits the pool account. A release exceeding the recorded escrow
// means the ledger and custodian have diverged.
func (r *Recorder) Release(ctx context.Context, intent domain.TransferIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.escrowed[intent.MarketID]
	if intent.Amount > held {
		return fmt.Errorf("custody: release %d exceeds escrowed %d for market %s: %w",
			intent.Amount, held, intent.MarketID, domain.ErrInsufficientFunds)
	}
	r.escrowed[intent.MarketID] = held - intent.Amount

	r.logger.DebugContext(ctx, "custody: released",
		slog.String("market_id", intent.MarketID),
		slog.String("principal", intent.Principal),
		slog.Uint64("amount", intent.Amount),
		slog.String("reference", intent.Reference),
	)
	return nil
}

// Escrowed returns the pool-account balance recorded for a market.
func (r *Recorder) Escrowed(marketID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.escrowed[marketID]
}

// Compile-time interface check.
var _ domain.AssetCustody = (*Recorder)(nil)
