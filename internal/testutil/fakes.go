// Package testutil provides in-memory fakes for the engine's external
// collaborators and a controllable clock, so lifecycle tests run without a
// live ledger, custody, or token service.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/aaoferreira/vault-v2/internal/cauldron"
	"github.com/aaoferreira/vault-v2/internal/event"
	"github.com/aaoferreira/vault-v2/internal/fixed"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// FakeLedger is an in-memory cauldron.Ledger. Rates convert base-asset
// amounts to debt-token units as amount * rate / 1e18; an unset rate means
// 1:1.
type FakeLedger struct {
	Vaults  map[uuid.UUID]cauldron.Vault
	Bals    map[uuid.UUID]cauldron.Balances
	Under   map[uuid.UUID]bool
	Custody map[uuid.UUID]string
	Params  map[string]cauldron.DebtParams
	Rates   map[string]*uint256.Int

	// Fail, when set, makes every call return an error. FailCustody only
	// fails custody transfers. Used for rollback tests.
	Fail        error
	FailCustody error
}

func NewFakeLedger() *FakeLedger {
	return &FakeLedger{
		Vaults:  make(map[uuid.UUID]cauldron.Vault),
		Bals:    make(map[uuid.UUID]cauldron.Balances),
		Under:   make(map[uuid.UUID]bool),
		Custody: make(map[uuid.UUID]string),
		Params:  make(map[string]cauldron.DebtParams),
		Rates:   make(map[string]*uint256.Int),
	}
}

// AddVault registers a vault with its balances and marks the initial
// custodian as the owner.
func (l *FakeLedger) AddVault(id uuid.UUID, v cauldron.Vault, ink, art *uint256.Int) {
	l.Vaults[id] = v
	l.Bals[id] = cauldron.Balances{
		Ink: new(uint256.Int).Set(ink),
		Art: new(uint256.Int).Set(art),
	}
	l.Custody[id] = v.Owner
}

func (l *FakeLedger) Vault(ctx context.Context, id uuid.UUID) (cauldron.Vault, error) {
	if l.Fail != nil {
		return cauldron.Vault{}, l.Fail
	}
	v, ok := l.Vaults[id]
	if !ok {
		return cauldron.Vault{}, fmt.Errorf("fake ledger: unknown vault %s", id)
	}
	return v, nil
}

func (l *FakeLedger) Balances(ctx context.Context, id uuid.UUID) (cauldron.Balances, error) {
	if l.Fail != nil {
		return cauldron.Balances{}, l.Fail
	}
	b, ok := l.Bals[id]
	if !ok {
		return cauldron.Balances{}, fmt.Errorf("fake ledger: unknown vault %s", id)
	}
	return cauldron.Balances{
		Ink: new(uint256.Int).Set(b.Ink),
		Art: new(uint256.Int).Set(b.Art),
	}, nil
}

func (l *FakeLedger) IsUndercollateralized(ctx context.Context, id uuid.UUID) (bool, error) {
	if l.Fail != nil {
		return false, l.Fail
	}
	return l.Under[id], nil
}

func (l *FakeLedger) TransferVaultCustody(ctx context.Context, id uuid.UUID, newOwner string) error {
	if l.Fail != nil {
		return l.Fail
	}
	if l.FailCustody != nil {
		return l.FailCustody
	}
	if _, ok := l.Vaults[id]; !ok {
		return fmt.Errorf("fake ledger: unknown vault %s", id)
	}
	l.Custody[id] = newOwner
	return nil
}

func (l *FakeLedger) ReduceBalances(ctx context.Context, id uuid.UUID, ink, art *uint256.Int) (cauldron.Balances, error) {
	if l.Fail != nil {
		return cauldron.Balances{}, l.Fail
	}
	b, ok := l.Bals[id]
	if !ok {
		return cauldron.Balances{}, fmt.Errorf("fake ledger: unknown vault %s", id)
	}
	newInk, err := fixed.Sub(b.Ink, ink)
	if err != nil {
		return cauldron.Balances{}, fmt.Errorf("fake ledger: ink underflow: %w", err)
	}
	newArt, err := fixed.Sub(b.Art, art)
	if err != nil {
		return cauldron.Balances{}, fmt.Errorf("fake ledger: art underflow: %w", err)
	}
	l.Bals[id] = cauldron.Balances{Ink: newInk, Art: newArt}
	return cauldron.Balances{
		Ink: new(uint256.Int).Set(newInk),
		Art: new(uint256.Int).Set(newArt),
	}, nil
}

func (l *FakeLedger) DebtParams(ctx context.Context, baseID string) (cauldron.DebtParams, error) {
	if l.Fail != nil {
		return cauldron.DebtParams{}, l.Fail
	}
	p, ok := l.Params[baseID]
	if !ok {
		return cauldron.DebtParams{}, fmt.Errorf("fake ledger: no debt params for %s", baseID)
	}
	return p, nil
}

func (l *FakeLedger) rate(baseID string) *uint256.Int {
	if r, ok := l.Rates[baseID]; ok {
		return r
	}
	return fixed.Wad
}

func (l *FakeLedger) DebtToTokenUnits(ctx context.Context, baseID string, amount *uint256.Int) (*uint256.Int, error) {
	if l.Fail != nil {
		return nil, l.Fail
	}
	return fixed.MulDiv(amount, l.rate(baseID), fixed.Wad)
}

func (l *FakeLedger) DebtFromTokenUnits(ctx context.Context, baseID string, units *uint256.Int) (*uint256.Int, error) {
	if l.Fail != nil {
		return nil, l.Fail
	}
	return fixed.MulDiv(units, fixed.Wad, l.rate(baseID))
}

// Transfer records one custody movement through a fake join.
type Transfer struct {
	Party  string
	Amount *uint256.Int
}

// FakeJoin records receive/release calls for one asset.
type FakeJoin struct {
	AssetID  string
	Received []Transfer
	Released []Transfer
	Fail     error
}

func (j *FakeJoin) ReceiveFrom(ctx context.Context, payer string, amount *uint256.Int) (*uint256.Int, error) {
	if j.Fail != nil {
		return nil, j.Fail
	}
	j.Received = append(j.Received, Transfer{Party: payer, Amount: new(uint256.Int).Set(amount)})
	return new(uint256.Int).Set(amount), nil
}

func (j *FakeJoin) ReleaseTo(ctx context.Context, receiver string, amount *uint256.Int) error {
	if j.Fail != nil {
		return j.Fail
	}
	j.Released = append(j.Released, Transfer{Party: receiver, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// FakeJoins hands out one FakeJoin per asset.
type FakeJoins struct {
	ByAsset map[string]*FakeJoin
}

func NewFakeJoins() *FakeJoins {
	return &FakeJoins{ByAsset: make(map[string]*FakeJoin)}
}

func (f *FakeJoins) Join(assetID string) (cauldron.Join, error) {
	j, ok := f.ByAsset[assetID]
	if !ok {
		j = &FakeJoin{AssetID: assetID}
		f.ByAsset[assetID] = j
	}
	return j, nil
}

// FakeToken records burns.
type FakeToken struct {
	Burns []Transfer
	Fail  error
}

func (t *FakeToken) Burn(ctx context.Context, payer string, amount *uint256.Int) error {
	if t.Fail != nil {
		return t.Fail
	}
	t.Burns = append(t.Burns, Transfer{Party: payer, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// CollectEmitter gathers emitted events in order.
type CollectEmitter struct {
	mu     sync.Mutex
	seq    int64
	Events []event.Event
}

func (c *CollectEmitter) Emit(e event.Event) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.Events = append(c.Events, e)
	return c.seq
}

// LastEvent returns the most recent event, nil when none were emitted.
func (c *CollectEmitter) LastEvent() event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Events) == 0 {
		return nil
	}
	return c.Events[len(c.Events)-1]
}
