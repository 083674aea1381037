package testutil

import (
	"math/rand"
	"slices"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// FillBytes fills dst with random bytes.
// Locks only once per call.
func (r *RNG) FillBytes(dst []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.rand.Read(dst)
}

// Bytes returns n random bytes.
func (r *RNG) Bytes(n int) []byte {
	b := make([]byte, n)
	r.FillBytes(b)
	return b
}

// ScatterGather splits total random bytes into between 1 and maxBuffers
// buffers of random, non-zero sizes. Uses a single backing array.
func (r *RNG) ScatterGather(total, maxBuffers int) [][]byte {
	if total <= 0 {
		return nil
	}
	maxBuffers = max(1, min(maxBuffers, total))

	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]byte, total)
	_, _ = r.rand.Read(data)

	n := 1 + r.rand.Intn(maxBuffers)
	cuts := []int{0, total}
	for _, c := range r.rand.Perm(total - 1)[:n-1] {
		cuts = append(cuts, c+1)
	}
	slices.Sort(cuts)

	buffers := make([][]byte, 0, len(cuts)-1)
	for i := 1; i < len(cuts); i++ {
		buffers = append(buffers, data[cuts[i-1]:cuts[i]:cuts[i]])
	}
	return buffers
}

// Shapes returns buffers of the given sizes with no content, for reading
// into.
func Shapes(sizes ...int) [][]byte {
	out := make([][]byte, len(sizes))
	for i, n := range sizes {
		out[i] = make([]byte, n)
	}
	return out
}

// Sizes returns the length of each buffer.
func Sizes(buffers [][]byte) []int {
	out := make([]int, len(buffers))
	for i, b := range buffers {
		out[i] = len(b)
	}
	return out
}

// Concat joins buffers into one slice.
func Concat(buffers [][]byte) []byte {
	var n int
	for _, b := range buffers {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range buffers {
		out = append(out, b...)
	}
	return out
}
