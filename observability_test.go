package mapio

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).WithPath("/data/file")
	ctx := context.Background()

	logger.LogMap(ctx, "anonymous", 4096, 0x1000, nil)
	logger.LogTruncate(ctx, 4096, 8192, true, nil)
	logger.LogFault(ctx, "write", 0x2000)
	logger.LogCacheTrim(ctx, CacheStats{ItemsTrimmed: 2, BytesTrimmed: 8192})
	logger.LogFatal(ctx, "close", 0x3000, 4096, errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"path":"/data/file"`)
	assert.Contains(t, out, "map created")
	assert.Contains(t, out, `"relocated":true`)
	assert.Contains(t, out, "memory fault inside mapping")
	assert.Contains(t, out, `"items_trimmed":2`)
	assert.Contains(t, out, "unrecoverable mapping failure")
}

func TestNoopLogger(t *testing.T) {
	logger := NoopLogger()
	require.NotNil(t, logger)
	logger.LogMap(context.Background(), "section", 1, 0, errors.New("ignored"))
}

func TestBasicMetricsCollector(t *testing.T) {
	m := &BasicMetricsCollector{}

	m.RecordMap(4096, time.Millisecond, nil)
	m.RecordMap(4096, time.Millisecond, errors.New("fail"))
	m.RecordTruncate(true, time.Millisecond, nil)
	m.RecordTruncate(false, time.Millisecond, errors.New("fail"))
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)
	m.RecordBarrier(BarrierWaitAll, 100, 2*time.Millisecond, nil)
	m.RecordFault()

	s := m.GetStats()
	assert.Equal(t, int64(2), s.MapCount)
	assert.Equal(t, int64(1), s.MapErrors)
	assert.Equal(t, int64(4096), s.MapBytes)
	assert.Equal(t, time.Millisecond.Nanoseconds(), s.MapAvgNanos)
	assert.Equal(t, int64(2), s.TruncateCount)
	assert.Equal(t, int64(1), s.TruncateErrors)
	assert.Equal(t, int64(1), s.Relocations)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(2), s.CacheMisses)
	assert.Equal(t, int64(1), s.BarrierCount)
	assert.Equal(t, int64(100), s.BarrierBytes)
	assert.Equal(t, (2 * time.Millisecond).Nanoseconds(), s.BarrierAvgNanos)
	assert.Equal(t, int64(1), s.FaultCount)
}

func TestOptions(t *testing.T) {
	o := applyOptions(nil)
	assert.Same(t, DefaultCache(), o.cache)
	assert.NotNil(t, o.logger)
	assert.NotNil(t, o.backend)

	o = applyOptions([]Option{WithCache(nil), WithLogger(nil), WithMetricsCollector(nil), WithStartingOffset(4096)})
	assert.Nil(t, o.cache)
	assert.NotNil(t, o.logger)
	assert.IsType(t, NoopMetricsCollector{}, o.metricsCollector)
	assert.Equal(t, int64(4096), o.startingOffset)
}
