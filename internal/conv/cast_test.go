//go:build amd64 || arm64

package conv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntToUintptr(t *testing.T) {
	t.Run("valid zero", func(t *testing.T) {
		got, err := IntToUintptr(0)
		assert.NoError(t, err)
		assert.Equal(t, uintptr(0), got)
	})

	t.Run("valid max int", func(t *testing.T) {
		got, err := IntToUintptr(math.MaxInt)
		assert.NoError(t, err)
		assert.Equal(t, uintptr(math.MaxInt), got)
	})

	t.Run("invalid negative", func(t *testing.T) {
		_, err := IntToUintptr(-1)
		assert.Error(t, err)
	})
}

func TestInt64ToUintptr(t *testing.T) {
	got, err := Int64ToUintptr(4096)
	assert.NoError(t, err)
	assert.Equal(t, uintptr(4096), got)

	_, err = Int64ToUintptr(-4096)
	assert.Error(t, err)
}

func TestUintptrToInt(t *testing.T) {
	got, err := UintptrToInt(123)
	assert.NoError(t, err)
	assert.Equal(t, 123, got)

	_, err = UintptrToInt(uintptr(math.MaxUint))
	assert.Error(t, err)
}

func TestUintptrToInt64(t *testing.T) {
	got, err := UintptrToInt64(1 << 40)
	assert.NoError(t, err)
	assert.Equal(t, int64(1<<40), got)

	_, err = UintptrToInt64(uintptr(math.MaxUint))
	assert.Error(t, err)
}

func TestInt64ToInt(t *testing.T) {
	got, err := Int64ToInt(-7)
	assert.NoError(t, err)
	assert.Equal(t, -7, got)
}

func TestUintptrToUint32(t *testing.T) {
	t.Run("valid max uint32", func(t *testing.T) {
		got, err := UintptrToUint32(math.MaxUint32)
		assert.NoError(t, err)
		assert.Equal(t, uint32(math.MaxUint32), got)
	})

	t.Run("invalid too large", func(t *testing.T) {
		_, err := UintptrToUint32(math.MaxUint32 + 1)
		assert.Error(t, err)
	})
}
