package mapio

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/mapio/internal/nvram"
	"github.com/hupe1980/mapio/internal/platform"
)

// Request is a scatter-gather request starting at Offset.
type Request struct {
	Buffers [][]byte
	Offset  int64
}

// BarrierKind selects how far a Barrier pushes modified data.
type BarrierKind int

const (
	// BarrierNoWaitViewOnly schedules write-back of the mapped view.
	BarrierNoWaitViewOnly BarrierKind = iota
	// BarrierWaitViewOnly writes back the mapped view and waits.
	BarrierWaitViewOnly
	// BarrierNoWaitDataOnly schedules write-back of view and file data.
	BarrierNoWaitDataOnly
	// BarrierWaitDataOnly writes back view and file data and waits.
	BarrierWaitDataOnly
	// BarrierNoWaitAll schedules write-back of data and metadata.
	BarrierNoWaitAll
	// BarrierWaitAll writes back data and metadata and waits.
	BarrierWaitAll
)

func (k BarrierKind) wait() bool {
	return k == BarrierWaitViewOnly || k == BarrierWaitDataOnly || k == BarrierWaitAll
}

func (k BarrierKind) viewOnly() bool { return k <= BarrierWaitViewOnly }

func (k BarrierKind) String() string {
	switch k {
	case BarrierNoWaitViewOnly:
		return "nowait_view_only"
	case BarrierWaitViewOnly:
		return "wait_view_only"
	case BarrierNoWaitDataOnly:
		return "nowait_data_only"
	case BarrierWaitDataOnly:
		return "wait_data_only"
	case BarrierNoWaitAll:
		return "nowait_all"
	case BarrierWaitAll:
		return "wait_all"
	}
	return "unknown"
}

// Read returns views of the mapping covering req without copying. Each view
// is clamped to the bytes available; reading at or past Length returns no
// views. The views dangle once the map changes.
func (m *Map) Read(req Request) ([][]byte, error) {
	if req.Offset < 0 {
		return nil, newError("read", ErrInvalidArgument)
	}
	if req.Offset >= int64(m.length) {
		return nil, nil
	}
	mem := m.Bytes()
	off := int(req.Offset)
	out := make([][]byte, 0, len(req.Buffers))
	for _, b := range req.Buffers {
		if off >= len(mem) {
			break
		}
		n := min(len(b), len(mem)-off)
		out = append(out, mem[off:off+n:off+n])
		off += n
	}
	return out, nil
}

// Write copies req.Buffers into the mapping and returns the written prefix of
// each buffer. A fault during the copy, as when the backing file shrank or
// the device is full, yields ErrNoSpace.
func (m *Map) Write(req Request) ([][]byte, error) {
	if req.Offset < 0 || !m.flags.writable() {
		return nil, newError("write", ErrInvalidArgument)
	}
	if req.Offset >= int64(m.length) {
		return nil, nil
	}
	mem := m.Bytes()
	lo, hi := m.addr, m.addr+uintptr(m.reservation)
	off := int(req.Offset)
	out := make([][]byte, 0, len(req.Buffers))
	for _, b := range req.Buffers {
		if off >= len(mem) {
			break
		}
		n := min(len(b), len(mem)-off)
		if _, err := platform.GuardedCopy(mem[off:off+n], b[:n], lo, hi); err != nil {
			return out, m.faultError("write", err)
		}
		out = append(out, b[:n])
		off += n
	}
	return out, nil
}

func (m *Map) faultError(op string, err error) error {
	var f *platform.Fault
	if errors.As(err, &f) {
		m.opts.metricsCollector.RecordFault()
		m.opts.logger.LogFault(context.Background(), op, f.Addr)
	}
	return wrapError(op, err)
}

// Barrier makes modified regions durable to the degree kind asks for and
// returns the regions it covered. No regions means the whole valid range.
//
// Maps over persistent memory are flushed from the CPU caches; when that
// covers every byte the kernel is not involved. Anonymous maps have nothing
// to write back.
func (m *Map) Barrier(ctx context.Context, regions [][]byte, kind BarrierKind) ([][]byte, error) {
	start := time.Now()
	out, n, err := m.barrier(ctx, regions, kind)
	m.opts.metricsCollector.RecordBarrier(kind, n, time.Since(start), err)
	return out, err
}

func (m *Map) barrier(ctx context.Context, regions [][]byte, kind BarrierKind) ([][]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, wrapError("barrier", err)
	}
	if m.addr == 0 {
		return nil, 0, nil
	}
	if len(regions) == 0 {
		if m.length == 0 {
			return nil, 0, nil
		}
		regions = [][]byte{m.Bytes()}
	}

	total := 0
	flushedAll := true
	for _, r := range regions {
		if len(r) == 0 {
			continue
		}
		s, e, err := m.pageRange("barrier", r, true)
		if err != nil {
			return nil, total, err
		}
		total += len(r)
		if m.nvram && nvram.Flush(addressOf(r), uintptr(len(r))) == uintptr(len(r)) {
			continue
		}
		flushedAll = false
		if m.section == nil {
			continue
		}
		if err := m.opts.backend.Sync(s, e-s, kind.wait()); err != nil {
			return nil, total, wrapError("barrier", err)
		}
	}
	if m.section != nil && !flushedAll && !kind.viewOnly() && kind.wait() {
		if err := m.section.Backing().Sync(); err != nil {
			return nil, total, wrapError("barrier", err)
		}
	}
	return regions, total, nil
}
