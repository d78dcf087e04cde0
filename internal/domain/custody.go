package domain

import "context"

// TransferKind names the direction of a custody movement relative to the
// pool-controlled account.
type TransferKind string

const (
	TransferEscrow  TransferKind = "escrow"  // principal -> pool account
	TransferRelease TransferKind = "release" // pool account -> principal
	TransferRefund  TransferKind = "refund"  // pool account -> principal, ledger rejected the operation
)

// TransferIntent is the deterministic pre-image of the base-asset movement a
// ledger operation requires. The custodian makes the movement atomic with the
// ledger commit; the ledger itself never touches raw transfers.
type TransferIntent struct {
	MarketID  string
	Principal string
	Amount    uint64
	Kind      TransferKind
	Reference string // operation reference, e.g. trade or redemption ID
}

// AssetCustody is the external collaborator holding the base asset. Escrow is
// confirmed before a mutation begins; Release is issued after the commit.
// Implementations must be side-effect-free on error.
type AssetCustody interface {
	Escrow(ctx context.Context, intent TransferIntent) error
	Release(ctx context.Context, intent TransferIntent) error
}
