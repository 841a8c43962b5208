package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/aaoferreira/vault-v2/internal/auction"
)

// SnapshotManager persists the engine's in-memory state (open auctions,
// exposure sums, lines, limits, event sequence) so a restart does not
// forget open auctions.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotData is the serialized engine state. Amounts are decimal
// strings; map keys are "COLLATERAL/BASE".
type SnapshotData struct {
	Sequence  int64                `json:"sequence"`
	Auctions  []AuctionSnap        `json:"auctions"`
	Lines     map[string]LineSnap  `json:"lines"`
	Limits    map[string]LimitSnap `json:"limits"`
	CreatedAt time.Time            `json:"created_at"`
}

type AuctionSnap struct {
	VaultID    string    `json:"vault_id"`
	Owner      string    `json:"owner"`
	Start      time.Time `json:"start"`
	Collateral string    `json:"collateral"`
	Base       string    `json:"base"`
	Series     string    `json:"series"`
	Art        string    `json:"art"`
	Ink        string    `json:"ink"`
}

type LineSnap struct {
	DurationSeconds uint64 `json:"duration_seconds"`
	InitialOffer    string `json:"initial_offer"`
	Proportion      string `json:"proportion"`
}

type LimitSnap struct {
	Max string `json:"max"`
	Sum string `json:"sum"`
}

// FromEngineState converts the engine's state into its serialized form.
func FromEngineState(sequence int64, s auction.State, createdAt time.Time) *SnapshotData {
	snap := &SnapshotData{
		Sequence:  sequence,
		Auctions:  make([]AuctionSnap, 0, len(s.Auctions)),
		Lines:     make(map[string]LineSnap, len(s.Lines)),
		Limits:    make(map[string]LimitSnap, len(s.Limits)),
		CreatedAt: createdAt,
	}
	for _, a := range s.Auctions {
		snap.Auctions = append(snap.Auctions, AuctionSnap{
			VaultID:    a.VaultID.String(),
			Owner:      a.Owner,
			Start:      a.Start,
			Collateral: a.CollateralID,
			Base:       a.BaseID,
			Series:     a.SeriesID,
			Art:        a.Art.Dec(),
			Ink:        a.Ink.Dec(),
		})
	}
	for key, line := range s.Lines {
		snap.Lines[key.String()] = LineSnap{
			DurationSeconds: uint64(line.Duration / time.Second),
			InitialOffer:    line.InitialOffer.Dec(),
			Proportion:      line.Proportion.Dec(),
		}
	}
	for key, limit := range s.Limits {
		ls := LimitSnap{Sum: limit.Sum.Dec()}
		if limit.Max != nil {
			ls.Max = limit.Max.Dec()
		}
		snap.Limits[key.String()] = ls
	}
	return snap
}

// EngineState converts a loaded snapshot back into engine state.
func (s *SnapshotData) EngineState() (auction.State, error) {
	state := auction.State{
		Auctions: make([]*auction.Auction, 0, len(s.Auctions)),
		Lines:    make(map[auction.Key]auction.Line, len(s.Lines)),
		Limits:   make(map[auction.Key]auction.Limit, len(s.Limits)),
	}

	for _, a := range s.Auctions {
		vaultID, err := uuid.Parse(a.VaultID)
		if err != nil {
			return auction.State{}, fmt.Errorf("snapshot vault id %q: %w", a.VaultID, err)
		}
		art, err := uint256.FromDecimal(a.Art)
		if err != nil {
			return auction.State{}, fmt.Errorf("snapshot art %q: %w", a.Art, err)
		}
		ink, err := uint256.FromDecimal(a.Ink)
		if err != nil {
			return auction.State{}, fmt.Errorf("snapshot ink %q: %w", a.Ink, err)
		}
		state.Auctions = append(state.Auctions, &auction.Auction{
			VaultID:      vaultID,
			Owner:        a.Owner,
			Start:        a.Start,
			CollateralID: a.Collateral,
			BaseID:       a.Base,
			SeriesID:     a.Series,
			Art:          art,
			Ink:          ink,
		})
	}

	for raw, line := range s.Lines {
		key, err := parseKey(raw)
		if err != nil {
			return auction.State{}, err
		}
		offer, err := uint256.FromDecimal(line.InitialOffer)
		if err != nil {
			return auction.State{}, fmt.Errorf("snapshot initial offer %q: %w", line.InitialOffer, err)
		}
		proportion, err := uint256.FromDecimal(line.Proportion)
		if err != nil {
			return auction.State{}, fmt.Errorf("snapshot proportion %q: %w", line.Proportion, err)
		}
		state.Lines[key] = auction.Line{
			Duration:     time.Duration(line.DurationSeconds) * time.Second,
			InitialOffer: offer,
			Proportion:   proportion,
		}
	}

	for raw, limit := range s.Limits {
		key, err := parseKey(raw)
		if err != nil {
			return auction.State{}, err
		}
		sum, err := uint256.FromDecimal(limit.Sum)
		if err != nil {
			return auction.State{}, fmt.Errorf("snapshot sum %q: %w", limit.Sum, err)
		}
		lim := auction.Limit{Sum: sum}
		if limit.Max != "" {
			max, err := uint256.FromDecimal(limit.Max)
			if err != nil {
				return auction.State{}, fmt.Errorf("snapshot max %q: %w", limit.Max, err)
			}
			lim.Max = max
		}
		state.Limits[key] = lim
	}

	return state, nil
}

// parseKey splits "COLLATERAL/BASE". Asset ids must not contain "/".
func parseKey(raw string) (auction.Key, error) {
	collateral, base, ok := strings.Cut(raw, "/")
	if !ok || collateral == "" || base == "" {
		return auction.Key{}, fmt.Errorf("snapshot key %q: want COLLATERAL/BASE", raw)
	}
	return auction.Key{CollateralID: collateral, BaseID: base}, nil
}

// SaveSnapshot persists a snapshot, replacing any existing one at the same
// sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO witch.snapshots (sequence, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sequence) DO UPDATE SET data = $2, size_bytes = $3
	`, snap.Sequence, data, len(data), snap.CreatedAt)
	return err
}

// LoadLatestSnapshot loads the most recent snapshot, nil on cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM witch.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
