package auction

import (
	"github.com/holiman/uint256"

	"github.com/aaoferreira/vault-v2/internal/fixed"
)

// Limiter tracks, per market key, how much collateral is concurrently under
// auction against a soft cap. It is not goroutine-safe on its own; the
// engine serializes all access.
type Limiter struct {
	limits map[Key]*Limit
}

func NewLimiter() *Limiter {
	return &Limiter{limits: make(map[Key]*Limit)}
}

// SetMax sets the cap for a key. It takes effect for subsequent Reserve
// calls only and never touches the running sum.
func (l *Limiter) SetMax(key Key, max *uint256.Int) {
	limit, ok := l.limits[key]
	if !ok {
		limit = &Limit{Sum: new(uint256.Int)}
		l.limits[key] = limit
	}
	limit.Max = new(uint256.Int).Set(max)
}

// Reserve adds ink to the key's running total. The cap is soft: the check
// only blocks new reservations once the sum is at or above the cap, it
// never bounds how far a single accepted reservation pushes the sum.
func (l *Limiter) Reserve(key Key, ink *uint256.Int) error {
	limit, ok := l.limits[key]
	if !ok || limit.Max == nil {
		return ErrExposureExceeded
	}
	if limit.Sum.Cmp(limit.Max) >= 0 {
		return ErrExposureExceeded
	}
	sum, err := fixed.Add(limit.Sum, ink)
	if err != nil {
		return err
	}
	limit.Sum = sum
	return nil
}

// Release subtracts cancelled or settled collateral from the running total.
// Callers only release amounts previously reserved, so underflow indicates
// a bookkeeping bug and is surfaced as an error rather than wrapped.
func (l *Limiter) Release(key Key, ink *uint256.Int) error {
	limit, ok := l.limits[key]
	if !ok {
		return fixed.ErrUnderflow
	}
	sum, err := fixed.Sub(limit.Sum, ink)
	if err != nil {
		return err
	}
	limit.Sum = sum
	return nil
}

// Limit returns a copy of the key's cap and running total.
func (l *Limiter) Limit(key Key) (Limit, bool) {
	limit, ok := l.limits[key]
	if !ok {
		return Limit{}, false
	}
	out := Limit{Sum: new(uint256.Int).Set(limit.Sum)}
	if limit.Max != nil {
		out.Max = new(uint256.Int).Set(limit.Max)
	}
	return out, true
}

// Snapshot returns all keys and their current limits.
func (l *Limiter) Snapshot() map[Key]Limit {
	out := make(map[Key]Limit, len(l.limits))
	for k := range l.limits {
		lim, _ := l.Limit(k)
		out[k] = lim
	}
	return out
}

// Restore replaces the limiter's state, used on snapshot recovery.
func (l *Limiter) Restore(limits map[Key]Limit) {
	l.limits = make(map[Key]*Limit, len(limits))
	for k, lim := range limits {
		restored := &Limit{Sum: new(uint256.Int)}
		if lim.Sum != nil {
			restored.Sum = new(uint256.Int).Set(lim.Sum)
		}
		if lim.Max != nil {
			restored.Max = new(uint256.Int).Set(lim.Max)
		}
		l.limits[k] = restored
	}
}
