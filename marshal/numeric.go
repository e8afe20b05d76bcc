package marshal

import "math"

// NarrowingMode controls how strict round-trip checking applies (spec.md
// §4.4's "numeric narrowing rule"): Strict for overloaded methods of the
// same arity, Lenient otherwise (silent narrowing permitted provided the
// value round-trips).
type NarrowingMode int

const (
	Lenient NarrowingMode = iota
	Strict
)

// NarrowInt reports whether a 64-bit integer v can be represented in the
// width implied by targetName (byte/short/char/int/long), and if so
// returns the narrowed value. Strict mode additionally forbids any
// width-reducing conversion outright, independent of whether the specific
// value happens to round-trip - this is what the spec means by "refuses
// any narrowing that would lose precision" for an overloaded candidate
// set: width reduction is rejected on principle, not value-by-value.
func NarrowInt(v int64, targetName string, sourceRank int, mode NarrowingMode) (int64, bool) {
	targetRank := integralRank(targetName)
	if targetRank < 0 {
		return 0, false
	}
	if mode == Strict && targetRank < sourceRank {
		return 0, false
	}
	lo, hi := intRange(targetName)
	if v < lo || v > hi {
		return 0, false
	}
	return v, true
}

func intRange(name string) (lo, hi int64) {
	switch name {
	case "byte":
		return math.MinInt8, math.MaxInt8
	case "short":
		return math.MinInt16, math.MaxInt16
	case "char":
		return 0, math.MaxUint16
	case "int":
		return math.MinInt32, math.MaxInt32
	case "long":
		return math.MinInt64, math.MaxInt64
	}
	return 0, -1
}

// NarrowFloat reports whether a float64 v can be represented as the target
// width without loss, applying the float64-9007199254740993 trap: casting
// down to float32 and back up must recover the exact original bit pattern,
// with NaN treated as equal to itself for round-trip purposes (spec.md
// §4.4).
func NarrowFloat(v float64, targetIsFloat32 bool, mode NarrowingMode) (float64, bool) {
	if !targetIsFloat32 {
		return v, true
	}
	if mode == Strict {
		// An overloaded double/float pair always rejects double->float
		// narrowing outright, independent of round-trip, same as integers.
		return 0, false
	}
	f32 := float32(v)
	back := float64(f32)
	if roundTripsEqual(v, back) {
		return back, true
	}
	return 0, false
}

func roundTripsEqual(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}

// MostSpecificIntegral picks the narrowest integral primitive name that
// exactly represents v, per spec.md §4.4's generic-object-target
// inference: byte < short < int < long.
func MostSpecificIntegral(v int64) string {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return "byte"
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return "short"
	case v >= math.MinInt32 && v <= math.MaxInt32:
		return "int"
	default:
		return "long"
	}
}

// MostSpecificFloat prefers float32 over float64 when the value survives
// the round trip exactly (spec.md §4.4: "float preferred over double when
// representation is exact").
func MostSpecificFloat(v float64) string {
	if f32 := float32(v); roundTripsEqual(v, float64(f32)) {
		return "float"
	}
	return "double"
}
