package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Key identifies a market line and exposure limit: one collateral asset
// auctioned against one base (debt) asset.
type Key struct {
	CollateralID string
	BaseID       string
}

func (k Key) String() string {
	return k.CollateralID + "/" + k.BaseID
}

// Line holds the decay parameters for one market.
// InitialOffer and Proportion are wad fractions (1e18 = 100%), both bounded
// to [1e16, 1e18].
type Line struct {
	Duration     time.Duration
	InitialOffer *uint256.Int
	Proportion   *uint256.Int
}

// Limit is the soft exposure cap for one key. Max caps the collateral
// concurrently under auction; Sum is the running total. Sum may exceed Max
// after a large reservation; once Sum >= Max no new auction opens.
type Limit struct {
	Max *uint256.Int
	Sum *uint256.Int
}

// Auction is one open auction record. Owner and BaseID are fixed at
// creation; Art and Ink only ever decrease, by the same proportional amount,
// on each settlement.
type Auction struct {
	VaultID      uuid.UUID
	Owner        string
	Start        time.Time
	CollateralID string
	BaseID       string
	SeriesID     string
	Art          *uint256.Int
	Ink          *uint256.Int
}

func (a *Auction) Key() Key {
	return Key{CollateralID: a.CollateralID, BaseID: a.BaseID}
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (a *Auction) Clone() *Auction {
	return &Auction{
		VaultID:      a.VaultID,
		Owner:        a.Owner,
		Start:        a.Start,
		CollateralID: a.CollateralID,
		BaseID:       a.BaseID,
		SeriesID:     a.SeriesID,
		Art:          new(uint256.Int).Set(a.Art),
		Ink:          new(uint256.Int).Set(a.Ink),
	}
}
