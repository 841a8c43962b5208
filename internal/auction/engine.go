package auction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/aaoferreira/vault-v2/internal/cauldron"
	"github.com/aaoferreira/vault-v2/internal/event"
	"github.com/aaoferreira/vault-v2/internal/fixed"
	"github.com/aaoferreira/vault-v2/internal/observability"
)

// Engine orchestrates the auction lifecycle: open, cancel, settlement, and
// quoting, calling into the ledger and custody collaborators. A single
// mutex serializes every state-mutating operation, so each call is atomic
// with respect to all others: either all of its state changes land or none
// do.
type Engine struct {
	mu sync.Mutex

	ledger  cauldron.Ledger
	joins   cauldron.Joins
	token   cauldron.DebtToken
	account string

	registry *Registry
	lines    *LineBook
	limiter  *Limiter

	emitter event.Emitter
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// Config wires the engine's collaborators. Account is the custody owner
// recorded on the ledger while a vault is under auction. Now is injectable
// for deterministic pricing in tests and defaults to time.Now.
type Config struct {
	Ledger  cauldron.Ledger
	Joins   cauldron.Joins
	Token   cauldron.DebtToken
	Account string
	Emitter event.Emitter
	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

func NewEngine(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		ledger:   cfg.Ledger,
		joins:    cfg.Joins,
		token:    cfg.Token,
		account:  cfg.Account,
		registry: NewRegistry(),
		lines:    NewLineBook(),
		limiter:  NewLimiter(),
		emitter:  cfg.Emitter,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		now:      now,
	}
}

// SetLine replaces the market line for a key. Authorization is enforced by
// the caller-facing surface before this is reached.
func (e *Engine) SetLine(key Key, line Line) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.lines.Set(key, line); err != nil {
		return err
	}

	e.emit(&event.LineSet{
		Collateral:      key.CollateralID,
		Base:            key.BaseID,
		DurationSeconds: durationSeconds(line.Duration),
		InitialOffer:    line.InitialOffer.Dec(),
		Proportion:      line.Proportion.Dec(),
	})
	e.log.Info().Str("key", key.String()).Dur("duration", line.Duration).
		Str("initial_offer", line.InitialOffer.Dec()).
		Str("proportion", line.Proportion.Dec()).
		Msg("market line set")
	return nil
}

// SetLimit replaces the exposure cap for a key. The running sum is left
// untouched; the new cap applies to subsequent reservations only.
func (e *Engine) SetLimit(key Key, max *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.limiter.SetMax(key, max)

	e.emit(&event.LimitSet{
		Collateral: key.CollateralID,
		Base:       key.BaseID,
		Max:        max.Dec(),
	})
	e.log.Info().Str("key", key.String()).Str("max", max.Dec()).Msg("exposure cap set")
}

// Line returns the market line for a key.
func (e *Engine) Line(key Key) (Line, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lines.Line(key)
}

// Limit returns the exposure cap and running sum for a key.
func (e *Engine) Limit(key Key) (Limit, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limiter.Limit(key)
}

// Auction returns a copy of the open auction record for a vault.
func (e *Engine) Auction(vaultID uuid.UUID) (*Auction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.registry.Get(vaultID)
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Auctions returns copies of all open auction records.
func (e *Engine) Auctions() []*Auction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.List()
}

// Open seizes an undercollateralized vault and starts a decaying-price
// auction on the slice of its position given by the market line's
// proportion. If the debt remainder after a partial auction would sit
// below the dust threshold, the whole position is auctioned instead.
// Anyone may call.
func (e *Engine) Open(ctx context.Context, vaultID uuid.UUID) (*Auction, error) {
	started := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.open(ctx, vaultID)
	e.observe("open", started, err)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (e *Engine) open(ctx context.Context, vaultID uuid.UUID) (*Auction, error) {
	if e.registry.Has(vaultID) {
		return nil, ErrVaultAlreadyAuctioned
	}

	vault, err := e.ledger.Vault(ctx, vaultID)
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}

	under, err := e.ledger.IsUndercollateralized(ctx, vaultID)
	if err != nil {
		return nil, fmt.Errorf("read collateralization: %w", err)
	}
	if !under {
		return nil, ErrNotUndercollateralized
	}

	bal, err := e.ledger.Balances(ctx, vaultID)
	if err != nil {
		return nil, fmt.Errorf("read balances: %w", err)
	}

	key := Key{CollateralID: vault.CollateralID, BaseID: vault.BaseID}
	line, ok := e.lines.Line(key)
	if !ok {
		return nil, ErrLineNotSet
	}

	dust, err := e.dust(ctx, vault.BaseID)
	if err != nil {
		return nil, err
	}

	artAuctioned, inkAuctioned, err := auctionedSlice(bal, line.Proportion, dust)
	if err != nil {
		return nil, err
	}

	if err := e.limiter.Reserve(key, inkAuctioned); err != nil {
		return nil, err
	}

	if err := e.ledger.TransferVaultCustody(ctx, vaultID, e.account); err != nil {
		// Reservation rolls back so the failed open leaves no trace.
		if relErr := e.limiter.Release(key, inkAuctioned); relErr != nil {
			e.log.Error().Err(relErr).Str("key", key.String()).Msg("reservation rollback failed")
		}
		return nil, fmt.Errorf("seize vault custody: %w", err)
	}

	rec := &Auction{
		VaultID:      vaultID,
		Owner:        vault.Owner,
		Start:        e.now(),
		CollateralID: vault.CollateralID,
		BaseID:       vault.BaseID,
		SeriesID:     vault.SeriesID,
		Art:          artAuctioned,
		Ink:          inkAuctioned,
	}
	e.registry.Put(rec)

	e.emit(&event.AuctionOpened{
		Vault:      vaultID.String(),
		Owner:      rec.Owner,
		Collateral: rec.CollateralID,
		Base:       rec.BaseID,
		Art:        rec.Art.Dec(),
		Ink:        rec.Ink.Dec(),
		Start:      rec.Start,
	})
	if e.metrics != nil {
		e.metrics.AuctionsOpened.WithLabelValues(key.CollateralID, key.BaseID).Inc()
		e.metrics.OpenAuctions.Set(float64(e.registry.Len()))
		e.setExposureGauge(key)
	}
	e.log.Info().Str("vault", vaultID.String()).Str("key", key.String()).
		Str("art", rec.Art.Dec()).Str("ink", rec.Ink.Dec()).
		Msg("auction opened")

	return rec, nil
}

// auctionedSlice computes the auctioned (art, ink) per the line's
// proportion, widening to the full position when the remainder would fall
// below dust.
func auctionedSlice(bal cauldron.Balances, proportion, dust *uint256.Int) (art, ink *uint256.Int, err error) {
	art, err = fixed.WadMul(bal.Art, proportion)
	if err != nil {
		return nil, nil, err
	}
	remainder, err := fixed.Sub(bal.Art, art)
	if err != nil {
		return nil, nil, err
	}
	if remainder.Lt(dust) {
		return new(uint256.Int).Set(bal.Art), new(uint256.Int).Set(bal.Ink), nil
	}
	ink, err = fixed.WadMul(bal.Ink, proportion)
	if err != nil {
		return nil, nil, err
	}
	return art, ink, nil
}

// Cancel returns a vault whose collateralization has recovered to its
// pre-auction owner. Anyone may call.
func (e *Engine) Cancel(ctx context.Context, vaultID uuid.UUID) error {
	started := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.cancel(ctx, vaultID)
	e.observe("cancel", started, err)
	return err
}

func (e *Engine) cancel(ctx context.Context, vaultID uuid.UUID) error {
	rec, ok := e.registry.Get(vaultID)
	if !ok {
		return ErrVaultNotAuctioned
	}

	under, err := e.ledger.IsUndercollateralized(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("read collateralization: %w", err)
	}
	if under {
		return ErrStillUndercollateralized
	}

	if err := e.ledger.TransferVaultCustody(ctx, vaultID, rec.Owner); err != nil {
		return fmt.Errorf("return vault custody: %w", err)
	}

	key := rec.Key()
	if err := e.limiter.Release(key, rec.Ink); err != nil {
		return fmt.Errorf("release exposure: %w", err)
	}
	e.registry.Delete(vaultID)

	e.emit(&event.AuctionCancelled{
		Vault:      vaultID.String(),
		Owner:      rec.Owner,
		Collateral: rec.CollateralID,
		Base:       rec.BaseID,
		Art:        rec.Art.Dec(),
		Ink:        rec.Ink.Dec(),
	})
	if e.metrics != nil {
		e.metrics.AuctionsCancelled.WithLabelValues(key.CollateralID, key.BaseID).Inc()
		e.metrics.OpenAuctions.Set(float64(e.registry.Len()))
		e.setExposureGauge(key)
	}
	e.log.Info().Str("vault", vaultID.String()).Str("key", key.String()).
		Msg("auction cancelled, vault returned to owner")

	return nil
}

// SettleWithAsset repays auctioned debt with the base asset itself. The
// buyer pays at most maxAssetIn of the base asset and receives the
// currently priced share of collateral at receiver, no less than minInkOut.
func (e *Engine) SettleWithAsset(ctx context.Context, vaultID uuid.UUID, buyer, receiver string, minInkOut, maxAssetIn *uint256.Int) (inkOut, assetIn *uint256.Int, err error) {
	started := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	inkOut, assetIn, err = e.settleWithAsset(ctx, vaultID, buyer, receiver, minInkOut, maxAssetIn)
	e.observe("settle_asset", started, err)
	return inkOut, assetIn, err
}

func (e *Engine) settleWithAsset(ctx context.Context, vaultID uuid.UUID, buyer, receiver string, minInkOut, maxAssetIn *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	rec, ok := e.registry.Get(vaultID)
	if !ok {
		return nil, nil, ErrVaultNotAuctioned
	}

	artIn, err := e.ledger.DebtToTokenUnits(ctx, rec.BaseID, maxAssetIn)
	if err != nil {
		return nil, nil, fmt.Errorf("convert repayment: %w", err)
	}
	if artIn.Gt(rec.Art) {
		artIn = new(uint256.Int).Set(rec.Art)
	}

	artIn, err = e.widenForDust(ctx, rec, artIn, func(fullArt *uint256.Int) (bool, error) {
		needed, convErr := e.ledger.DebtFromTokenUnits(ctx, rec.BaseID, fullArt)
		if convErr != nil {
			return false, fmt.Errorf("convert full remainder: %w", convErr)
		}
		return !needed.Gt(maxAssetIn), nil
	})
	if err != nil {
		return nil, nil, err
	}

	inkOut, err := e.priceFill(rec, artIn)
	if err != nil {
		return nil, nil, err
	}
	if inkOut.Lt(minInkOut) {
		return nil, nil, ErrNotEnoughBought
	}

	assetIn, err := e.ledger.DebtFromTokenUnits(ctx, rec.BaseID, artIn)
	if err != nil {
		return nil, nil, fmt.Errorf("convert repayment: %w", err)
	}

	if _, err := e.ledger.ReduceBalances(ctx, vaultID, inkOut, artIn); err != nil {
		return nil, nil, fmt.Errorf("reduce balances: %w", err)
	}

	baseJoin, err := e.joins.Join(rec.BaseID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := baseJoin.ReceiveFrom(ctx, buyer, assetIn); err != nil {
		return nil, nil, fmt.Errorf("collect repayment: %w", err)
	}

	if err := e.payCollateral(ctx, rec, receiver, inkOut); err != nil {
		return nil, nil, err
	}

	if err := e.finishSettle(ctx, rec, artIn, inkOut, buyer, receiver, assetIn.Dec()); err != nil {
		return nil, nil, err
	}
	return inkOut, assetIn, nil
}

// SettleWithDebtToken repays auctioned debt by burning the buyer's debt
// tokens; debt-token units are debt units, so no conversion applies.
func (e *Engine) SettleWithDebtToken(ctx context.Context, vaultID uuid.UUID, buyer, receiver string, minInkOut, maxTokenIn *uint256.Int) (inkOut, tokenIn *uint256.Int, err error) {
	started := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	inkOut, tokenIn, err = e.settleWithDebtToken(ctx, vaultID, buyer, receiver, minInkOut, maxTokenIn)
	e.observe("settle_token", started, err)
	return inkOut, tokenIn, err
}

func (e *Engine) settleWithDebtToken(ctx context.Context, vaultID uuid.UUID, buyer, receiver string, minInkOut, maxTokenIn *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	rec, ok := e.registry.Get(vaultID)
	if !ok {
		return nil, nil, ErrVaultNotAuctioned
	}

	artIn := new(uint256.Int).Set(maxTokenIn)
	if artIn.Gt(rec.Art) {
		artIn = new(uint256.Int).Set(rec.Art)
	}

	artIn, err := e.widenForDust(ctx, rec, artIn, func(fullArt *uint256.Int) (bool, error) {
		return !fullArt.Gt(maxTokenIn), nil
	})
	if err != nil {
		return nil, nil, err
	}

	inkOut, err := e.priceFill(rec, artIn)
	if err != nil {
		return nil, nil, err
	}
	if inkOut.Lt(minInkOut) {
		return nil, nil, ErrNotEnoughBought
	}

	if _, err := e.ledger.ReduceBalances(ctx, vaultID, inkOut, artIn); err != nil {
		return nil, nil, fmt.Errorf("reduce balances: %w", err)
	}

	if err := e.token.Burn(ctx, buyer, artIn); err != nil {
		return nil, nil, fmt.Errorf("burn debt tokens: %w", err)
	}

	if err := e.payCollateral(ctx, rec, receiver, inkOut); err != nil {
		return nil, nil, err
	}

	if err := e.finishSettle(ctx, rec, artIn, inkOut, buyer, receiver, ""); err != nil {
		return nil, nil, err
	}
	return inkOut, artIn, nil
}

// widenForDust enforces the minimum-remainder rule on a fill: a partial
// fill that would leave the remaining debt above zero but below dust is
// widened to the full remainder, provided covered reports the buyer's
// bound can pay for it; otherwise the fill fails.
func (e *Engine) widenForDust(ctx context.Context, rec *Auction, artIn *uint256.Int, covered func(fullArt *uint256.Int) (bool, error)) (*uint256.Int, error) {
	remainder, err := fixed.Sub(rec.Art, artIn)
	if err != nil {
		return nil, err
	}
	if remainder.IsZero() {
		return artIn, nil
	}

	dust, err := e.dust(ctx, rec.BaseID)
	if err != nil {
		return nil, err
	}
	if !remainder.Lt(dust) {
		return artIn, nil
	}

	ok, err := covered(rec.Art)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLeavesDust
	}
	return new(uint256.Int).Set(rec.Art), nil
}

// priceFill computes the collateral released for repaying artIn at the
// auction's current elapsed time.
func (e *Engine) priceFill(rec *Auction, artIn *uint256.Int) (*uint256.Int, error) {
	line, ok := e.lines.Line(rec.Key())
	if !ok {
		return nil, ErrLineNotSet
	}
	fraction := PriceFraction(line.InitialOffer, e.elapsed(rec), durationSeconds(line.Duration))
	return Payout(rec.Ink, rec.Art, artIn, fraction)
}

func (e *Engine) payCollateral(ctx context.Context, rec *Auction, receiver string, inkOut *uint256.Int) error {
	collJoin, err := e.joins.Join(rec.CollateralID)
	if err != nil {
		return err
	}
	if err := collJoin.ReleaseTo(ctx, receiver, inkOut); err != nil {
		return fmt.Errorf("release collateral: %w", err)
	}
	return nil
}

// finishSettle applies the post-payment bookkeeping common to both
// settlement paths: exposure release, record mutation or deletion, custody
// return on full settlement, and the Bought event.
func (e *Engine) finishSettle(ctx context.Context, rec *Auction, artIn, inkOut *uint256.Int, buyer, receiver, assetIn string) error {
	full := artIn.Eq(rec.Art)

	if full {
		if err := e.ledger.TransferVaultCustody(ctx, rec.VaultID, rec.Owner); err != nil {
			return fmt.Errorf("return vault custody: %w", err)
		}
	}

	// A full settlement releases the record's entire remaining ink, so the
	// running sum stays the exact total of ink across open auctions; a
	// partial one releases just the collateral paid out.
	key := rec.Key()
	released := inkOut
	if full {
		released = rec.Ink
	}
	if err := e.limiter.Release(key, released); err != nil {
		return fmt.Errorf("release exposure: %w", err)
	}

	if full {
		e.registry.Delete(rec.VaultID)
	} else {
		newArt, err := fixed.Sub(rec.Art, artIn)
		if err != nil {
			return err
		}
		newInk, err := fixed.Sub(rec.Ink, inkOut)
		if err != nil {
			return err
		}
		rec.Art = newArt
		rec.Ink = newInk
	}

	e.emit(&event.Bought{
		Vault:      rec.VaultID.String(),
		Buyer:      buyer,
		Receiver:   receiver,
		Collateral: rec.CollateralID,
		Base:       rec.BaseID,
		Ink:        inkOut.Dec(),
		Art:        artIn.Dec(),
		AssetIn:    assetIn,
		Full:       full,
	})
	if e.metrics != nil {
		kind := "partial"
		if full {
			kind = "full"
		}
		e.metrics.Buys.WithLabelValues(key.CollateralID, key.BaseID, kind).Inc()
		e.metrics.OpenAuctions.Set(float64(e.registry.Len()))
		e.setExposureGauge(key)
	}
	e.log.Info().Str("vault", rec.VaultID.String()).Str("buyer", buyer).
		Str("ink_out", inkOut.Dec()).Str("art_in", artIn.Dec()).Bool("full", full).
		Msg("auction settled")

	return nil
}

// QuotePayout is the read-only pricing quote: the collateral a repayment
// of artIn debt-token units would release right now. artIn above the
// remaining art is treated as a full-remainder repayment.
func (e *Engine) QuotePayout(vaultID uuid.UUID, artIn *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.registry.Get(vaultID)
	if !ok {
		return nil, ErrVaultNotAuctioned
	}
	if artIn.Gt(rec.Art) {
		artIn = rec.Art
	}
	return e.priceFill(rec, artIn)
}

// dust returns the minimum-debt threshold in debt units for a base asset.
func (e *Engine) dust(ctx context.Context, baseID string) (*uint256.Int, error) {
	params, err := e.ledger.DebtParams(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("read debt params: %w", err)
	}
	scale, err := fixed.Pow10(params.Decimals)
	if err != nil {
		return nil, err
	}
	return fixed.Mul(uint256.NewInt(params.Min), scale)
}

func (e *Engine) elapsed(rec *Auction) uint64 {
	d := e.now().Sub(rec.Start)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}

func (e *Engine) emit(ev event.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func (e *Engine) observe(op string, started time.Time, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		e.metrics.OpRejected.WithLabelValues(op, rejectReason(err)).Inc()
	}
}

func (e *Engine) setExposureGauge(key Key) {
	limit, ok := e.limiter.Limit(key)
	if !ok {
		return
	}
	f, _ := new(big.Float).SetInt(limit.Sum.ToBig()).Float64()
	e.metrics.ExposureSum.WithLabelValues(key.CollateralID, key.BaseID).Set(f)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNotUndercollateralized):
		return "not_undercollateralized"
	case errors.Is(err, ErrVaultAlreadyAuctioned):
		return "already_auctioned"
	case errors.Is(err, ErrVaultNotAuctioned):
		return "not_auctioned"
	case errors.Is(err, ErrExposureExceeded):
		return "exposure_exceeded"
	case errors.Is(err, ErrStillUndercollateralized):
		return "still_undercollateralized"
	case errors.Is(err, ErrNotEnoughBought):
		return "not_enough_bought"
	case errors.Is(err, ErrLeavesDust):
		return "leaves_dust"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrLineNotSet):
		return "line_not_set"
	default:
		return "internal"
	}
}

// State is the serializable engine state used for snapshot recovery.
type State struct {
	Auctions []*Auction
	Lines    map[Key]Line
	Limits   map[Key]Limit
}

// Snapshot returns a deep copy of the engine's full state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Auctions: e.registry.List(),
		Lines:    e.lines.Snapshot(),
		Limits:   e.limiter.Snapshot(),
	}
}

// Restore replaces the engine's state from a snapshot, refreshing gauges.
func (e *Engine) Restore(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.registry.Restore(s.Auctions)
	e.lines.Restore(s.Lines)
	e.limiter.Restore(s.Limits)

	if e.metrics != nil {
		e.metrics.OpenAuctions.Set(float64(e.registry.Len()))
		for key := range s.Limits {
			e.setExposureGauge(key)
		}
	}
}
