// Package testutil provides testing utilities for mapio.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded random source and helpers for building
// scatter-gather buffer sets.
//
// # Random Data
//
//	rng := testutil.NewRNG(seed)
//	buf := make([]byte, 4096)
//	rng.FillBytes(buf)
//
// # Scatter-Gather Buffers
//
//	bufs := rng.ScatterGather(3*4096+17, 8) // at most 8 buffers
//	flat := testutil.Concat(bufs)
package testutil
