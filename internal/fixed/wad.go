// Package fixed provides overflow-checked fixed-point arithmetic on
// 256-bit unsigned integers. The scale is the wad (1e18 = 100%).
package fixed

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow  = errors.New("fixed: arithmetic overflow")
	ErrUnderflow = errors.New("fixed: arithmetic underflow")
	ErrDivByZero = errors.New("fixed: division by zero")
)

// Wad is the fixed-point scale constant: 1e18 represents 100%.
var Wad = uint256.NewInt(1e18)

// Add returns a+b, failing instead of wrapping.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns a-b, failing if b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// Mul returns a*b, failing instead of wrapping.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDiv returns a*b/d with a full-width intermediate product and
// truncating division. The product is computed before the division so no
// precision is lost to intermediate rounding.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// WadMul returns a*b/1e18, truncating. Used to apply a wad fraction to an
// amount.
func WadMul(a, fraction *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, fraction, Wad)
}

// Pow10 returns 10^n. Decimal scales above 10^77 overflow and fail.
func Pow10(n uint8) (*uint256.Int, error) {
	z := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < n; i++ {
		var overflow bool
		z, overflow = new(uint256.Int).MulOverflow(z, ten)
		if overflow {
			return nil, ErrOverflow
		}
	}
	return z, nil
}
