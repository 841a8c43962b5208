package auction

import (
	"sort"

	"github.com/google/uuid"
)

// Registry is the single source of truth for open auctions, keyed by vault
// id. Absence of an entry means the vault is not under auction. Like the
// limiter it relies on the engine for serialization.
type Registry struct {
	auctions map[uuid.UUID]*Auction
}

func NewRegistry() *Registry {
	return &Registry{auctions: make(map[uuid.UUID]*Auction)}
}

func (r *Registry) Get(vaultID uuid.UUID) (*Auction, bool) {
	a, ok := r.auctions[vaultID]
	return a, ok
}

func (r *Registry) Has(vaultID uuid.UUID) bool {
	_, ok := r.auctions[vaultID]
	return ok
}

func (r *Registry) Put(a *Auction) {
	r.auctions[a.VaultID] = a
}

func (r *Registry) Delete(vaultID uuid.UUID) {
	delete(r.auctions, vaultID)
}

func (r *Registry) Len() int {
	return len(r.auctions)
}

// List returns copies of all open auctions in stable vault-id order.
func (r *Registry) List() []*Auction {
	out := make([]*Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].VaultID.String() < out[j].VaultID.String()
	})
	return out
}

// Restore replaces the registry contents, used on snapshot recovery.
func (r *Registry) Restore(auctions []*Auction) {
	r.auctions = make(map[uuid.UUID]*Auction, len(auctions))
	for _, a := range auctions {
		r.auctions[a.VaultID] = a.Clone()
	}
}
