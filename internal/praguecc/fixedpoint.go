package praguecc

import "math/bits"

// saturated is returned by the fixed-point primitives below on
// overflow, matching the C reference's 2^64-1 saturation rather than
// wrapping or panicking.
const saturated = ^uint64(0)

// mulShift computes (left*right)>>shift as a saturating uint64. The
// intermediate product is computed to full 128-bit width via
// math/bits so no precision is lost before the shift is applied; if
// the shifted result still does not fit in 64 bits it saturates.
func mulShift(left, right uint64, shift uint) uint64 {
	hi, lo := bits.Mul64(left, right)
	if shift == 0 {
		if hi != 0 {
			return saturated
		}
		return lo
	}
	if shift >= 128 {
		return 0
	}
	var resHi, resLo uint64
	if shift < 64 {
		resLo = (lo >> shift) | (hi << (64 - shift))
		resHi = hi >> shift
	} else {
		resLo = hi >> (shift - 64)
	}
	if resHi != 0 {
		return saturated
	}
	return resLo
}

// divFloor computes floor(a/divisor), saturating on divisor==0. Used
// for the derivations the reference implementation performs with a
// plain truncating integer divide, as opposed to the rounded divide
// the growth formulas use.
func divFloor(a, divisor uint64) uint64 {
	if divisor == 0 {
		return saturated
	}
	return a / divisor
}

// divRound computes round(a/divisor), i.e. floor((a+divisor/2)/divisor),
// saturating rather than overflowing when a+divisor/2 does not fit in
// 64 bits, and saturating on divisor==0.
func divRound(a, divisor uint64) uint64 {
	if divisor == 0 {
		return saturated
	}
	half := divisor >> 1
	sum := a + half
	if sum < a {
		// The addition overflowed 64 bits: the true numerator is
		// (1<<64 + sum). bits.Div64 panics if the quotient would not
		// fit in 64 bits, i.e. if divisor <= 1 (hi==1 here).
		if divisor <= 1 {
			return saturated
		}
		q, _ := bits.Div64(1, sum, divisor)
		return q
	}
	return sum / divisor
}
