// Package cauldron defines the engine's view of its external collaborators:
// the debt/vault ledger, the per-asset custody adapters, and the debt token.
// The auction engine depends only on the interfaces here; the HTTP clients
// in this package are thin adapters over the ledger service.
package cauldron

import (
	"context"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Vault is a borrower's collateralized debt position as the ledger reports it.
type Vault struct {
	Owner        string
	CollateralID string
	BaseID       string
	SeriesID     string
}

// Balances are a vault's collateral (ink) and debt (art) amounts.
type Balances struct {
	Ink *uint256.Int
	Art *uint256.Int
}

// DebtParams carries the per-base minimum-debt rule. Min is expressed in
// whole units; Decimals is the base asset's decimal scale, so the dust
// threshold in native units is Min * 10^Decimals.
type DebtParams struct {
	Min      uint64
	Decimals uint8
}

// Ledger is the debt/vault ledger the engine reads from and instructs.
type Ledger interface {
	// Vault returns the vault's owner, collateral type, and debt-asset type.
	Vault(ctx context.Context, id uuid.UUID) (Vault, error)

	// Balances returns the vault's current ink and art.
	Balances(ctx context.Context, id uuid.UUID) (Balances, error)

	// IsUndercollateralized reports whether the vault is below its
	// collateralization bound.
	IsUndercollateralized(ctx context.Context, id uuid.UUID) (bool, error)

	// TransferVaultCustody gives a new owner custody of the vault.
	TransferVaultCustody(ctx context.Context, id uuid.UUID, newOwner string) error

	// ReduceBalances decreases the vault's ink and art and returns the new
	// balances.
	ReduceBalances(ctx context.Context, id uuid.UUID, ink, art *uint256.Int) (Balances, error)

	// DebtParams returns the minimum-debt rule for a base asset.
	DebtParams(ctx context.Context, baseID string) (DebtParams, error)

	// DebtToTokenUnits converts a base-asset amount into debt-token units.
	DebtToTokenUnits(ctx context.Context, baseID string, amount *uint256.Int) (*uint256.Int, error)

	// DebtFromTokenUnits converts debt-token units into a base-asset amount.
	DebtFromTokenUnits(ctx context.Context, baseID string, units *uint256.Int) (*uint256.Int, error)
}

// Join is a custody adapter for one asset.
type Join interface {
	// ReceiveFrom pulls amount of the asset from payer into the join and
	// returns the amount actually received.
	ReceiveFrom(ctx context.Context, payer string, amount *uint256.Int) (*uint256.Int, error)

	// ReleaseTo pushes amount of the asset from the join to receiver.
	ReleaseTo(ctx context.Context, receiver string, amount *uint256.Int) error
}

// Joins resolves the custody adapter for an asset.
type Joins interface {
	Join(assetID string) (Join, error)
}

// DebtToken burns debt tokens 1:1 with debt. The engine only burns.
type DebtToken interface {
	Burn(ctx context.Context, payer string, amount *uint256.Int) error
}
