package conv

import (
	"fmt"
	"math"
)

// IntToUintptr converts int to uintptr safely.
func IntToUintptr(v int) (uintptr, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uintptr (negative)", v)
	}
	return uintptr(v), nil
}

// Int64ToUintptr converts int64 to uintptr safely.
func Int64ToUintptr(v int64) (uintptr, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uintptr (negative)", v)
	}
	if uint64(v) > uint64(math.MaxUint) {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uintptr (too large)", v)
	}
	return uintptr(v), nil
}

// UintptrToInt converts uintptr to int safely.
func UintptrToInt(v uintptr) (int, error) {
	if uint64(v) > uint64(math.MaxInt) {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to int (too large)", v)
	}
	return int(v), nil
}

// UintptrToInt64 converts uintptr to int64 safely.
func UintptrToInt64(v uintptr) (int64, error) {
	if uint64(v) > math.MaxInt64 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to int64 (too large)", v)
	}
	return int64(v), nil
}

// Int64ToInt converts int64 to int safely.
func Int64ToInt(v int64) (int, error) {
	if v > int64(math.MaxInt) || v < int64(math.MinInt) {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to int", v)
	}
	return int(v), nil
}

// UintptrToUint32 converts uintptr to uint32 safely.
func UintptrToUint32(v uintptr) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint32 (too large)", v)
	}
	return uint32(v), nil
}
