package dtype

import "math"

// BFloat16 is a 16-bit brain float: 1 sign bit, 8 exponent bits (same
// range as float32), 7 mantissa bits. The top half of a float32's bit
// pattern, which makes widening exact and narrowing a single rounding.
type BFloat16 uint16

// FromFloat32 narrows f to bfloat16 with round-to-nearest-even.
func FromFloat32(f float32) BFloat16 {
	bits := math.Float32bits(f)

	// NaN payloads do not survive truncation cleanly; force a quiet NaN.
	if bits&0x7FFFFFFF > 0x7F800000 {
		return BFloat16((bits >> 16) | 0x0040)
	}

	rounding := uint32(0x7FFF) + ((bits >> 16) & 1)
	return BFloat16((bits + rounding) >> 16)
}

// Float32 widens b to float32. Exact: the low mantissa bits are zero.
func (b BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// Float64 widens b to float64. Exact for the same reason, including
// denormals and infinities, which the float32->float64 conversion
// preserves bit-for-bit in value.
func (b BFloat16) Float64() float64 {
	return float64(b.Float32())
}

func (b BFloat16) IsNaN() bool {
	return b&0x7F80 == 0x7F80 && b&0x7F != 0
}

func (b BFloat16) IsInf() bool {
	return b&0x7FFF == 0x7F80
}
