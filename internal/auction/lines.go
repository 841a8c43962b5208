package auction

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/aaoferreira/vault-v2/internal/fixed"
)

// minFraction is the lower bound for InitialOffer and Proportion: 1% (1e16).
var minFraction = uint256.NewInt(1e16)

// LineBook holds the market line for each (collateral, base) key. Lines are
// read on every open and settlement; only ValidateLine-checked values are
// stored.
type LineBook struct {
	lines map[Key]Line
}

func NewLineBook() *LineBook {
	return &LineBook{lines: make(map[Key]Line)}
}

// ValidateLine checks the market-line bounds: duration positive, offer and
// proportion wad fractions in [1%, 100%].
func ValidateLine(line Line) error {
	if line.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidParameter, line.Duration)
	}
	if line.InitialOffer == nil || line.InitialOffer.Lt(minFraction) || line.InitialOffer.Gt(fixed.Wad) {
		return fmt.Errorf("%w: initial offer must be within [1e16, 1e18]", ErrInvalidParameter)
	}
	if line.Proportion == nil || line.Proportion.Lt(minFraction) || line.Proportion.Gt(fixed.Wad) {
		return fmt.Errorf("%w: proportion must be within [1e16, 1e18]", ErrInvalidParameter)
	}
	return nil
}

func (b *LineBook) Set(key Key, line Line) error {
	if err := ValidateLine(line); err != nil {
		return err
	}
	b.lines[key] = Line{
		Duration:     line.Duration,
		InitialOffer: new(uint256.Int).Set(line.InitialOffer),
		Proportion:   new(uint256.Int).Set(line.Proportion),
	}
	return nil
}

func (b *LineBook) Line(key Key) (Line, bool) {
	line, ok := b.lines[key]
	return line, ok
}

// Snapshot returns all configured lines.
func (b *LineBook) Snapshot() map[Key]Line {
	out := make(map[Key]Line, len(b.lines))
	for k, line := range b.lines {
		out[k] = Line{
			Duration:     line.Duration,
			InitialOffer: new(uint256.Int).Set(line.InitialOffer),
			Proportion:   new(uint256.Int).Set(line.Proportion),
		}
	}
	return out
}

// Restore replaces the book contents, used on snapshot recovery. Stored
// snapshots were validated when first set, so bounds are not re-checked.
func (b *LineBook) Restore(lines map[Key]Line) {
	b.lines = make(map[Key]Line, len(lines))
	for k, line := range lines {
		b.lines[k] = Line{
			Duration:     line.Duration,
			InitialOffer: new(uint256.Int).Set(line.InitialOffer),
			Proportion:   new(uint256.Int).Set(line.Proportion),
		}
	}
}

func durationSeconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Second)
}
