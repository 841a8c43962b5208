package auction

import (
	"github.com/holiman/uint256"

	"github.com/aaoferreira/vault-v2/internal/fixed"
)

// PriceFraction returns the wad fraction of the auctioned collateral
// released for a full-remainder repayment at the given elapsed time:
//
//	fraction = initialOffer + (1e18 - initialOffer) * elapsed / duration
//
// The fraction starts at initialOffer, grows linearly, and pins at 1e18
// once elapsed reaches duration. Division truncates; the multiplication
// happens first so the rounding error is at most one wad unit.
func PriceFraction(initialOffer *uint256.Int, elapsed, duration uint64) *uint256.Int {
	if duration == 0 || elapsed >= duration {
		return new(uint256.Int).Set(fixed.Wad)
	}
	// initialOffer <= 1e18 is enforced by the line setter, so neither the
	// subtraction nor the final addition can wrap.
	remainder := new(uint256.Int).Sub(fixed.Wad, initialOffer)
	decayed, _ := fixed.MulDiv(remainder, uint256.NewInt(elapsed), uint256.NewInt(duration))
	return new(uint256.Int).Add(initialOffer, decayed)
}

// Payout computes the collateral released for repaying artIn of an
// auction's remaining art:
//
//	inkOut = ink * artIn * fraction / (art * 1e18)
//
// All multiplications happen before any division (full-width intermediate),
// and the single division truncates toward zero, so the buyer never gains
// more than integer truncation allows. artIn of zero pays out zero.
func Payout(ink, art, artIn, fraction *uint256.Int) (*uint256.Int, error) {
	if artIn.IsZero() {
		return new(uint256.Int), nil
	}
	if art.IsZero() {
		return nil, fixed.ErrDivByZero
	}

	num, err := fixed.Mul(ink, artIn)
	if err != nil {
		return nil, err
	}
	denom, err := fixed.Mul(art, fixed.Wad)
	if err != nil {
		return nil, err
	}
	return fixed.MulDiv(num, fraction, denom)
}
