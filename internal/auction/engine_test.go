package auction_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/aaoferreira/vault-v2/internal/auction"
	"github.com/aaoferreira/vault-v2/internal/cauldron"
	"github.com/aaoferreira/vault-v2/internal/event"
	"github.com/aaoferreira/vault-v2/internal/testutil"
)

var (
	vaultID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	start   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	engine *auction.Engine
	ledger *testutil.FakeLedger
	joins  *testutil.FakeJoins
	token  *testutil.FakeToken
	events *testutil.CollectEmitter
	clock  *testutil.Clock
}

// newFixture builds an engine over fakes with one undercollateralized
// vault: 100e18 ETH collateral against 100000e6 DAI debt, a one-hour line
// at 71.4% initial offer auctioning half the position, and a 1000e18 cap.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger := testutil.NewFakeLedger()
	ledger.Params["DAI"] = cauldron.DebtParams{Min: 5000, Decimals: 6}
	ledger.AddVault(vaultID, cauldron.Vault{
		Owner:        "alice",
		CollateralID: "ETH",
		BaseID:       "DAI",
		SeriesID:     "FYDAI2609",
	}, wad(100), uint256.NewInt(100_000_000_000))
	ledger.Under[vaultID] = true

	joins := testutil.NewFakeJoins()
	token := &testutil.FakeToken{}
	events := &testutil.CollectEmitter{}
	clock := testutil.NewClock(start)

	engine := auction.NewEngine(auction.Config{
		Ledger:  ledger,
		Joins:   joins,
		Token:   token,
		Account: "witch",
		Emitter: events,
		Logger:  zerolog.Nop(),
		Now:     clock.Now,
	})

	if err := engine.SetLine(ethDAI, auction.Line{
		Duration:     time.Hour,
		InitialOffer: uint256.NewInt(714_000_000_000_000_000),
		Proportion:   uint256.NewInt(500_000_000_000_000_000),
	}); err != nil {
		t.Fatalf("SetLine: %v", err)
	}
	engine.SetLimit(ethDAI, wad(1000))

	return &fixture{engine: engine, ledger: ledger, joins: joins, token: token, events: events, clock: clock}
}

func (f *fixture) open(t *testing.T) *auction.Auction {
	t.Helper()
	rec, err := f.engine.Open(context.Background(), vaultID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return rec
}

func (f *fixture) sum(t *testing.T) *uint256.Int {
	t.Helper()
	lim, ok := f.engine.Limit(ethDAI)
	if !ok {
		t.Fatal("limit not found")
	}
	return lim.Sum
}

// ============================================================================
// Test: Open
// ============================================================================

func TestOpen_AuctionsHalfThePosition(t *testing.T) {
	f := newFixture(t)

	rec := f.open(t)

	if !rec.Art.Eq(uint256.NewInt(50_000_000_000)) {
		t.Errorf("art: got %s, want 50000000000", rec.Art.Dec())
	}
	if !rec.Ink.Eq(wad(50)) {
		t.Errorf("ink: got %s, want %s", rec.Ink.Dec(), wad(50).Dec())
	}
	if rec.Owner != "alice" || rec.SeriesID != "FYDAI2609" {
		t.Errorf("owner/series: got %s/%s", rec.Owner, rec.SeriesID)
	}
	if !rec.Start.Equal(start) {
		t.Errorf("start: got %s, want %s", rec.Start, start)
	}

	if f.ledger.Custody[vaultID] != "witch" {
		t.Errorf("custody: got %q, want engine account", f.ledger.Custody[vaultID])
	}
	if !f.sum(t).Eq(wad(50)) {
		t.Errorf("sum: got %s, want %s", f.sum(t).Dec(), wad(50).Dec())
	}

	opened, ok := f.events.LastEvent().(*event.AuctionOpened)
	if !ok {
		t.Fatalf("last event: got %T, want AuctionOpened", f.events.LastEvent())
	}
	if opened.Vault != vaultID.String() || opened.Ink != wad(50).Dec() {
		t.Errorf("event: vault=%s ink=%s", opened.Vault, opened.Ink)
	}
}

func TestOpen_Twice(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	_, err := f.engine.Open(context.Background(), vaultID)
	if !errors.Is(err, auction.ErrVaultAlreadyAuctioned) {
		t.Errorf("got %v, want ErrVaultAlreadyAuctioned", err)
	}
}

func TestOpen_HealthyVault(t *testing.T) {
	f := newFixture(t)
	f.ledger.Under[vaultID] = false

	_, err := f.engine.Open(context.Background(), vaultID)
	if !errors.Is(err, auction.ErrNotUndercollateralized) {
		t.Errorf("got %v, want ErrNotUndercollateralized", err)
	}
}

func TestOpen_NoLine(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()
	f.ledger.AddVault(other, cauldron.Vault{
		Owner: "alice", CollateralID: "WBTC", BaseID: "DAI",
	}, wad(1), uint256.NewInt(1_000_000_000))
	f.ledger.Under[other] = true

	_, err := f.engine.Open(context.Background(), other)
	if !errors.Is(err, auction.ErrLineNotSet) {
		t.Errorf("got %v, want ErrLineNotSet", err)
	}
}

func TestOpen_ExposureCap(t *testing.T) {
	f := newFixture(t)
	f.engine.SetLimit(ethDAI, wad(40))

	// First open reserves 50e18 against a 40e18 cap: the cap is soft, the
	// sum may overshoot.
	f.open(t)
	if !f.sum(t).Eq(wad(50)) {
		t.Fatalf("sum: got %s, want %s", f.sum(t).Dec(), wad(50).Dec())
	}

	// At or above the cap, nothing else opens under this key.
	other := uuid.New()
	f.ledger.AddVault(other, cauldron.Vault{
		Owner: "bob", CollateralID: "ETH", BaseID: "DAI",
	}, wad(10), uint256.NewInt(10_000_000_000))
	f.ledger.Under[other] = true

	_, err := f.engine.Open(context.Background(), other)
	if !errors.Is(err, auction.ErrExposureExceeded) {
		t.Errorf("got %v, want ErrExposureExceeded", err)
	}
}

func TestOpen_DustWidensToFullPosition(t *testing.T) {
	f := newFixture(t)
	small := uuid.New()
	// Half of 9000e6 would leave 4500e6, below the 5000e6 dust bound, so
	// the whole position goes under the hammer.
	f.ledger.AddVault(small, cauldron.Vault{
		Owner: "bob", CollateralID: "ETH", BaseID: "DAI",
	}, wad(9), uint256.NewInt(9_000_000_000))
	f.ledger.Under[small] = true

	rec, err := f.engine.Open(context.Background(), small)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !rec.Art.Eq(uint256.NewInt(9_000_000_000)) {
		t.Errorf("art: got %s, want full 9000000000", rec.Art.Dec())
	}
	if !rec.Ink.Eq(wad(9)) {
		t.Errorf("ink: got %s, want full %s", rec.Ink.Dec(), wad(9).Dec())
	}
}

func TestOpen_CustodyFailureRollsBackReservation(t *testing.T) {
	f := newFixture(t)
	f.ledger.FailCustody = errors.New("ledger unavailable")

	if _, err := f.engine.Open(context.Background(), vaultID); err == nil {
		t.Fatal("expected error")
	}
	if !f.sum(t).IsZero() {
		t.Errorf("sum after failed open: got %s, want 0", f.sum(t).Dec())
	}

	// The failed open leaves no trace: a retry succeeds.
	f.ledger.FailCustody = nil
	f.open(t)
}

// ============================================================================
// Test: Cancel
// ============================================================================

func TestCancel_RecoveredVault(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	f.ledger.Under[vaultID] = false

	if err := f.engine.Cancel(context.Background(), vaultID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if f.ledger.Custody[vaultID] != "alice" {
		t.Errorf("custody: got %q, want original owner", f.ledger.Custody[vaultID])
	}
	if _, ok := f.engine.Auction(vaultID); ok {
		t.Error("record must be deleted")
	}
	if !f.sum(t).IsZero() {
		t.Errorf("sum: got %s, want 0", f.sum(t).Dec())
	}
	if _, ok := f.events.LastEvent().(*event.AuctionCancelled); !ok {
		t.Errorf("last event: got %T, want AuctionCancelled", f.events.LastEvent())
	}
}

func TestCancel_StillUndercollateralized(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	err := f.engine.Cancel(context.Background(), vaultID)
	if !errors.Is(err, auction.ErrStillUndercollateralized) {
		t.Errorf("got %v, want ErrStillUndercollateralized", err)
	}
	if _, ok := f.engine.Auction(vaultID); !ok {
		t.Error("record must survive a failed cancel")
	}
}

func TestCancel_NotAuctioned(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Cancel(context.Background(), vaultID)
	if !errors.Is(err, auction.ErrVaultNotAuctioned) {
		t.Errorf("got %v, want ErrVaultNotAuctioned", err)
	}
}

// ============================================================================
// Test: SettleWithDebtToken
// ============================================================================

func TestSettleWithDebtToken_FullAfterDecay(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	f.clock.Advance(time.Hour)

	inkOut, tokenIn, err := f.engine.SettleWithDebtToken(context.Background(),
		vaultID, "bob", "carol", new(uint256.Int), uint256.NewInt(50_000_000_000))
	if err != nil {
		t.Fatalf("SettleWithDebtToken: %v", err)
	}
	if !inkOut.Eq(wad(50)) {
		t.Errorf("inkOut: got %s, want %s", inkOut.Dec(), wad(50).Dec())
	}
	if !tokenIn.Eq(uint256.NewInt(50_000_000_000)) {
		t.Errorf("tokenIn: got %s, want 50000000000", tokenIn.Dec())
	}

	// Full settlement: record gone, custody home, exposure fully released.
	if _, ok := f.engine.Auction(vaultID); ok {
		t.Error("record must be deleted on full settlement")
	}
	if f.ledger.Custody[vaultID] != "alice" {
		t.Errorf("custody: got %q, want original owner", f.ledger.Custody[vaultID])
	}
	if !f.sum(t).IsZero() {
		t.Errorf("sum: got %s, want 0", f.sum(t).Dec())
	}

	if len(f.token.Burns) != 1 || f.token.Burns[0].Party != "bob" ||
		!f.token.Burns[0].Amount.Eq(uint256.NewInt(50_000_000_000)) {
		t.Errorf("burns: %+v", f.token.Burns)
	}
	eth := f.joins.ByAsset["ETH"]
	if len(eth.Released) != 1 || eth.Released[0].Party != "carol" || !eth.Released[0].Amount.Eq(wad(50)) {
		t.Errorf("collateral released: %+v", eth.Released)
	}

	bought, ok := f.events.LastEvent().(*event.Bought)
	if !ok {
		t.Fatalf("last event: got %T, want Bought", f.events.LastEvent())
	}
	if !bought.Full || bought.Buyer != "bob" || bought.Receiver != "carol" {
		t.Errorf("event: %+v", bought)
	}
}

func TestSettleWithDebtToken_SequentialPartials(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	// At elapsed 0 the fraction is the initial offer, 0.714.
	// First fill: 40% of the auctioned art.
	inkOut, tokenIn, err := f.engine.SettleWithDebtToken(context.Background(),
		vaultID, "bob", "bob", new(uint256.Int), uint256.NewInt(20_000_000_000))
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if !tokenIn.Eq(uint256.NewInt(20_000_000_000)) {
		t.Errorf("first tokenIn: got %s", tokenIn.Dec())
	}
	// 50e18 * 2e10 * 0.714e18 / (5e10 * 1e18) = 14.28e18.
	want1 := uint256.MustFromDecimal("14280000000000000000")
	if !inkOut.Eq(want1) {
		t.Errorf("first inkOut: got %s, want %s", inkOut.Dec(), want1.Dec())
	}

	rec, ok := f.engine.Auction(vaultID)
	if !ok {
		t.Fatal("record must survive a partial settlement")
	}
	if !rec.Art.Eq(uint256.NewInt(30_000_000_000)) {
		t.Errorf("art after first: got %s, want 30000000000", rec.Art.Dec())
	}
	wantInk := uint256.MustFromDecimal("35720000000000000000")
	if !rec.Ink.Eq(wantInk) {
		t.Errorf("ink after first: got %s, want %s", rec.Ink.Dec(), wantInk.Dec())
	}
	if !f.sum(t).Eq(wantInk) {
		t.Errorf("sum after first: got %s, want %s", f.sum(t).Dec(), wantInk.Dec())
	}

	// Second fill: 20% of the remaining art.
	inkOut, _, err = f.engine.SettleWithDebtToken(context.Background(),
		vaultID, "bob", "bob", new(uint256.Int), uint256.NewInt(6_000_000_000))
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	// 35.72e18 * 6e9 * 0.714e18 / (3e10 * 1e18) = 5.100816e18.
	want2 := uint256.MustFromDecimal("5100816000000000000")
	if !inkOut.Eq(want2) {
		t.Errorf("second inkOut: got %s, want %s", inkOut.Dec(), want2.Dec())
	}

	rec, _ = f.engine.Auction(vaultID)
	if !rec.Art.Eq(uint256.NewInt(24_000_000_000)) {
		t.Errorf("art after second: got %s, want 24000000000", rec.Art.Dec())
	}
	wantInk2 := uint256.MustFromDecimal("30619184000000000000")
	if !rec.Ink.Eq(wantInk2) {
		t.Errorf("ink after second: got %s, want %s", rec.Ink.Dec(), wantInk2.Dec())
	}
	if !f.sum(t).Eq(wantInk2) {
		t.Errorf("sum after second: got %s, want %s", f.sum(t).Dec(), wantInk2.Dec())
	}
}

func TestSettleWithDebtToken_LeavesDust(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	// 47000e6 of the 50000e6 auctioned would leave 3000e6, below the
	// 5000e6 bound, and the buyer's bound cannot cover the remainder.
	_, _, err := f.engine.SettleWithDebtToken(context.Background(),
		vaultID, "bob", "bob", new(uint256.Int), uint256.NewInt(47_000_000_000))
	if !errors.Is(err, auction.ErrLeavesDust) {
		t.Errorf("got %v, want ErrLeavesDust", err)
	}

	rec, ok := f.engine.Auction(vaultID)
	if !ok || !rec.Art.Eq(uint256.NewInt(50_000_000_000)) {
		t.Error("record must be untouched after a rejected fill")
	}
	if len(f.token.Burns) != 0 {
		t.Errorf("burns after rejected fill: %+v", f.token.Burns)
	}
}

func TestSettleWithDebtToken_NotEnoughBought(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	// Full remainder at elapsed 0 pays 35.7e18, below a 36e18 floor.
	_, _, err := f.engine.SettleWithDebtToken(context.Background(),
		vaultID, "bob", "bob", wad(36), uint256.NewInt(50_000_000_000))
	if !errors.Is(err, auction.ErrNotEnoughBought) {
		t.Errorf("got %v, want ErrNotEnoughBought", err)
	}
}

func TestSettleWithDebtToken_NotAuctioned(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.engine.SettleWithDebtToken(context.Background(),
		vaultID, "bob", "bob", new(uint256.Int), uint256.NewInt(1))
	if !errors.Is(err, auction.ErrVaultNotAuctioned) {
		t.Errorf("got %v, want ErrVaultNotAuctioned", err)
	}
}

// ============================================================================
// Test: SettleWithAsset
// ============================================================================

func TestSettleWithAsset_RoutesAssetThroughJoin(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	f.clock.Advance(time.Hour)

	inkOut, assetIn, err := f.engine.SettleWithAsset(context.Background(),
		vaultID, "bob", "carol", new(uint256.Int), uint256.NewInt(50_000_000_000))
	if err != nil {
		t.Fatalf("SettleWithAsset: %v", err)
	}
	if !inkOut.Eq(wad(50)) {
		t.Errorf("inkOut: got %s, want %s", inkOut.Dec(), wad(50).Dec())
	}
	if !assetIn.Eq(uint256.NewInt(50_000_000_000)) {
		t.Errorf("assetIn: got %s, want 50000000000", assetIn.Dec())
	}

	dai := f.joins.ByAsset["DAI"]
	if len(dai.Received) != 1 || dai.Received[0].Party != "bob" ||
		!dai.Received[0].Amount.Eq(uint256.NewInt(50_000_000_000)) {
		t.Errorf("debt asset received: %+v", dai.Received)
	}
	eth := f.joins.ByAsset["ETH"]
	if len(eth.Released) != 1 || eth.Released[0].Party != "carol" || !eth.Released[0].Amount.Eq(wad(50)) {
		t.Errorf("collateral released: %+v", eth.Released)
	}
	if len(f.token.Burns) != 0 {
		t.Errorf("asset path must not burn tokens: %+v", f.token.Burns)
	}
}

func TestSettleWithAsset_ConversionWidensToFullRemainder(t *testing.T) {
	f := newFixture(t)
	// 3 debt-token units per asset unit: the converted bound lands two
	// units short of the full remainder, inside the dust band, but the
	// asset bound still covers the truncated full-remainder price.
	f.ledger.Rates["DAI"] = uint256.NewInt(3_000_000_000_000_000_000)
	f.open(t)
	f.clock.Advance(time.Hour)

	inkOut, assetIn, err := f.engine.SettleWithAsset(context.Background(),
		vaultID, "bob", "bob", new(uint256.Int), uint256.NewInt(16_666_666_666))
	if err != nil {
		t.Fatalf("SettleWithAsset: %v", err)
	}
	if !inkOut.Eq(wad(50)) {
		t.Errorf("inkOut: got %s, want %s", inkOut.Dec(), wad(50).Dec())
	}
	if !assetIn.Eq(uint256.NewInt(16_666_666_666)) {
		t.Errorf("assetIn: got %s, want 16666666666", assetIn.Dec())
	}
	if _, ok := f.engine.Auction(vaultID); ok {
		t.Error("record must be deleted on widened full settlement")
	}
}

// ============================================================================
// Test: QuotePayout
// ============================================================================

func TestQuotePayout_DecaySchedule(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	cases := []struct {
		advance time.Duration
		want    string
	}{
		{0, "35700000000000000000"},
		{300 * time.Second, "36891666666666666650"},
		{1500 * time.Second, "42850000000000000000"},
		{1800 * time.Second, "50000000000000000000"},
		{time.Hour, "50000000000000000000"},
	}

	for _, tc := range cases {
		f.clock.Advance(tc.advance)
		got, err := f.engine.QuotePayout(vaultID, uint256.NewInt(50_000_000_000))
		if err != nil {
			t.Fatalf("QuotePayout: %v", err)
		}
		if got.Dec() != tc.want {
			t.Errorf("after +%s: got %s, want %s", tc.advance, got.Dec(), tc.want)
		}
	}
}

func TestQuotePayout_CapsAtRemainingArt(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	f.clock.Advance(time.Hour)

	// Anything above the remaining art quotes the full remainder.
	got, err := f.engine.QuotePayout(vaultID, uint256.NewInt(999_000_000_000))
	if err != nil {
		t.Fatalf("QuotePayout: %v", err)
	}
	if !got.Eq(wad(50)) {
		t.Errorf("got %s, want %s", got.Dec(), wad(50).Dec())
	}
}

func TestQuotePayout_NotAuctioned(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.QuotePayout(vaultID, uint256.NewInt(1))
	if !errors.Is(err, auction.ErrVaultNotAuctioned) {
		t.Errorf("got %v, want ErrVaultNotAuctioned", err)
	}
}

// ============================================================================
// Test: Snapshot / Restore
// ============================================================================

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	state := f.engine.Snapshot()

	restored := auction.NewEngine(auction.Config{
		Ledger:  f.ledger,
		Joins:   f.joins,
		Token:   f.token,
		Account: "witch",
		Emitter: f.events,
		Logger:  zerolog.Nop(),
		Now:     f.clock.Now,
	})
	restored.Restore(state)

	rec, ok := restored.Auction(vaultID)
	if !ok {
		t.Fatal("auction not restored")
	}
	if !rec.Art.Eq(uint256.NewInt(50_000_000_000)) || !rec.Ink.Eq(wad(50)) {
		t.Errorf("restored record: art=%s ink=%s", rec.Art.Dec(), rec.Ink.Dec())
	}
	lim, ok := restored.Limit(ethDAI)
	if !ok || !lim.Sum.Eq(wad(50)) {
		t.Errorf("restored sum: %+v", lim)
	}

	// The restored engine settles against the same line and clock.
	f.clock.Advance(time.Hour)
	inkOut, _, err := restored.SettleWithDebtToken(context.Background(),
		vaultID, "bob", "bob", new(uint256.Int), uint256.NewInt(50_000_000_000))
	if err != nil {
		t.Fatalf("settle after restore: %v", err)
	}
	if !inkOut.Eq(wad(50)) {
		t.Errorf("inkOut after restore: got %s", inkOut.Dec())
	}
}

// ============================================================================
// Test: line administration
// ============================================================================

func TestSetLine_Bounds(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		line auction.Line
	}{
		{"zero duration", auction.Line{
			Duration:     0,
			InitialOffer: uint256.NewInt(5e17),
			Proportion:   uint256.NewInt(5e17),
		}},
		{"offer below 1%", auction.Line{
			Duration:     time.Hour,
			InitialOffer: uint256.NewInt(1e15),
			Proportion:   uint256.NewInt(5e17),
		}},
		{"offer above 100%", auction.Line{
			Duration:     time.Hour,
			InitialOffer: uint256.MustFromDecimal("1000000000000000001"),
			Proportion:   uint256.NewInt(5e17),
		}},
		{"proportion below 1%", auction.Line{
			Duration:     time.Hour,
			InitialOffer: uint256.NewInt(5e17),
			Proportion:   uint256.NewInt(1e15),
		}},
	}

	for _, tc := range cases {
		if err := f.engine.SetLine(ethDAI, tc.line); !errors.Is(err, auction.ErrInvalidParameter) {
			t.Errorf("%s: got %v, want ErrInvalidParameter", tc.name, err)
		}
	}
}

func TestSetLine_ReplacesExisting(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.SetLine(ethDAI, auction.Line{
		Duration:     30 * time.Minute,
		InitialOffer: uint256.NewInt(8e17),
		Proportion:   uint256.NewInt(1e18),
	}); err != nil {
		t.Fatalf("SetLine: %v", err)
	}

	line, ok := f.engine.Line(ethDAI)
	if !ok {
		t.Fatal("line not found")
	}
	if line.Duration != 30*time.Minute || !line.InitialOffer.Eq(uint256.NewInt(8e17)) {
		t.Errorf("line: %+v", line)
	}
}
