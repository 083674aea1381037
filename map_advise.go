package mapio

import (
	"context"
	"errors"

	"github.com/hupe1980/mapio/internal/platform"
)

// pageRange checks that region lies inside the reservation and returns its
// page-aligned bounds, rounded outward or inward.
func (m *Map) pageRange(op string, region []byte, outward bool) (uintptr, uintptr, error) {
	if len(region) == 0 || m.addr == 0 {
		return 0, 0, newError(op, ErrInvalidArgument)
	}
	start := addressOf(region)
	end := start + uintptr(len(region))
	if start < m.addr || end > m.addr+uintptr(m.reservation) {
		return 0, 0, newError(op, ErrInvalidArgument)
	}
	if outward {
		return platform.RoundDown(start, m.pageSize), platform.RoundUp(end, m.pageSize), nil
	}
	return platform.RoundUp(start, m.pageSize), platform.RoundDown(end, m.pageSize), nil
}

// Commit makes the pages covering region accessible with the access bits of
// flags. With no access bits the map's own access is used, or read-write for
// a pure reservation. A reservation adopts the first access granted, so that
// Write accepts it. It returns the page-rounded region.
func (m *Map) Commit(region []byte, flags Flag) ([]byte, error) {
	s, e, err := m.pageRange("commit", region, true)
	if err != nil {
		return nil, err
	}
	n := e - s
	granted := flags & accessMask
	if granted == 0 {
		granted = m.flags & accessMask
	}
	if granted == 0 {
		granted = FlagReadWrite
	}
	access := granted.access()

	anonymous := m.section == nil
	var charge int64
	if anonymous {
		charge = max(0, min(int64(n), int64(m.reservation)-m.charge))
		if err := m.opts.controller.AcquireCommit(charge); err != nil {
			return nil, wrapError("commit", err)
		}
	}
	if err := m.opts.backend.Commit(s, n, access, anonymous); err != nil {
		m.opts.controller.ReleaseCommit(charge)
		return nil, wrapError("commit", err)
	}
	m.charge += charge
	if granted != FlagReadWrite {
		m.recyclable = false
	}
	if anonymous && (!m.committed() || granted != m.flags&accessMask) {
		m.uneven = true
	}
	if m.flags&accessMask == 0 {
		m.flags |= granted
	}
	return memory(s, int(n)), nil
}

// Decommit releases the pages covering region. Their address space stays
// reserved. It returns the page-rounded region.
func (m *Map) Decommit(region []byte) ([]byte, error) {
	s, e, err := m.pageRange("decommit", region, true)
	if err != nil {
		return nil, err
	}
	n := e - s
	anonymous := m.section == nil
	if err := m.opts.backend.Decommit(s, n, anonymous); err != nil {
		return nil, wrapError("decommit", err)
	}
	if anonymous {
		credit := min(m.charge, int64(n))
		m.opts.controller.ReleaseCommit(credit)
		m.charge -= credit
		m.uneven = true
	}
	m.recyclable = false
	return memory(s, int(n)), nil
}

// ZeroMemory sets region to zero. Whole pages are returned to the system
// where that reads back as zero; partial pages at either end are cleared.
func (m *Map) ZeroMemory(region []byte) error {
	if len(region) == 0 {
		return nil
	}
	if _, _, err := m.pageRange("zero memory", region, true); err != nil {
		return err
	}
	lo, hi := m.addr, m.addr+uintptr(m.reservation)
	start := addressOf(region)
	end := start + uintptr(len(region))
	inS := platform.RoundUp(start, m.pageSize)
	inE := platform.RoundDown(end, m.pageSize)

	anonymous := m.section == nil
	if (anonymous || !m.flags.Has(FlagCOW)) && inE > inS {
		if err := m.opts.backend.Discard(inS, inE-inS, platform.DiscardZero, anonymous); err == nil {
			if err := platform.GuardedClear(region[:inS-start], lo, hi); err != nil {
				return m.faultError("zero memory", err)
			}
			if err := platform.GuardedClear(region[inE-start:], lo, hi); err != nil {
				return m.faultError("zero memory", err)
			}
			return nil
		}
	}
	if err := platform.GuardedClear(region, lo, hi); err != nil {
		return m.faultError("zero memory", err)
	}
	return nil
}

// DoNotStore tells the system the contents of the whole pages inside region
// are no longer needed. Their contents become undefined. It returns the pages
// affected, which is empty for file-backed maps or when the platform has no
// such hint.
func (m *Map) DoNotStore(region []byte) ([]byte, error) {
	if _, _, err := m.pageRange("do not store", region, true); err != nil {
		return nil, err
	}
	if m.section != nil {
		return nil, nil
	}
	s, e, _ := m.pageRange("do not store", region, false)
	if e <= s {
		return nil, nil
	}
	if err := m.opts.backend.Discard(s, e-s, platform.DiscardFree, true); err != nil {
		if errors.Is(err, platform.ErrUnsupported) {
			return nil, nil
		}
		return nil, wrapError("do not store", err)
	}
	return memory(s, int(e-s)), nil
}

// Prefetch asks the system to read ahead the pages covering regions and
// returns the regions it was issued for. Regions over the resource
// controller's read-ahead budget are skipped. Platforms without read-ahead
// return nothing.
func Prefetch(regions [][]byte, optFns ...Option) ([][]byte, error) {
	return prefetch(context.Background(), regions, false, baseOptions(optFns))
}

// PrefetchContext is like Prefetch but waits for read-ahead budget instead of
// skipping regions. It stops with ctx's error once ctx is done, returning the
// regions already issued.
func PrefetchContext(ctx context.Context, regions [][]byte, optFns ...Option) ([][]byte, error) {
	return prefetch(ctx, regions, true, baseOptions(optFns))
}

func prefetch(ctx context.Context, regions [][]byte, wait bool, o options) ([][]byte, error) {
	ps := o.backend.PageSize()
	var done [][]byte
	for _, r := range regions {
		if len(r) == 0 {
			continue
		}
		start := addressOf(r)
		s := platform.RoundDown(start, ps)
		e := platform.RoundUp(start+uintptr(len(r)), ps)
		if wait {
			if err := o.controller.AcquireIO(ctx, int(e-s)); err != nil {
				return done, err
			}
		} else if !o.controller.TryAcquireIO(int(e - s)) {
			continue
		}
		if err := o.backend.Prefetch(s, e-s); err != nil {
			if errors.Is(err, platform.ErrUnsupported) {
				return nil, nil
			}
			return done, wrapError("prefetch", err)
		}
		done = append(done, r)
	}
	return done, nil
}
