// Package conv provides safe integer type conversion utilities.
//
// These functions perform bounds checking to prevent integer overflow/underflow
// when converting between the signed sizes callers pass in (int, int64) and the
// unsigned address arithmetic the platform layer works in (uintptr).
//
// For conversions that are provably safe by domain constraints (e.g. values
// already clamped to a reservation), use direct type casts instead.
package conv
