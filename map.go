package mapio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/hupe1980/mapio/internal/conv"
	"github.com/hupe1980/mapio/internal/platform"
	"github.com/hupe1980/mapio/internal/recycle"
)

// discardFailureLimit is the number of failed discard hints after which
// closing maps stops issuing them before recycling.
const discardFailureLimit = 4

var discardFailures atomic.Uint32

// fatal aborts the process after an unrecoverable failure.
var fatal = func(msg string) {
	fmt.Fprintln(os.Stderr, "mapio: fatal:", msg)
	os.Exit(2)
}

// Map is a reservation of address space, optionally backed by a Section.
//
// Capacity is the reserved size, Length the part of it that is valid to
// access. Length never exceeds Capacity and Address is 0 exactly when
// Capacity is 0. A Map never closes its Section.
//
// A Map is not safe for concurrent mutation.
type Map struct {
	section     *Section
	addr        uintptr
	offset      int64
	reservation int
	length      int
	pageSize    uintptr
	flags       Flag
	nvram       bool
	recyclable  bool
	uneven      bool
	charge      int64
	opts        options
}

func memory(addr uintptr, n int) []byte {
	if addr == 0 || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n) //nolint:govet // addr is a live mapping
}

func addressOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// cacheable reports whether anonymous memory with flags may come from, and
// go back to, the recycling cache.
func cacheable(flags Flag) bool {
	return flags&accessMask == FlagReadWrite &&
		flags&(FlagNoCommit|FlagExecutable|pageSizeMask) == 0
}

// MapAnonymous creates bytes of anonymous memory.
//
// Ordinary read-write committed memory is taken from the recycling cache when
// possible. Recycled memory is not zero unless zeroed is set.
func MapAnonymous(bytes int, zeroed bool, flags Flag, optFns ...Option) (*Map, error) {
	o := applyOptions(optFns)
	start := time.Now()
	m, err := mapAnonymous(bytes, zeroed, flags, o)
	o.metricsCollector.RecordMap(bytes, time.Since(start), err)
	o.logger.LogMap(context.Background(), "anonymous", bytes, m.Address(), err)
	return m, err
}

// Reserve reserves bytes of address space without committing memory.
func Reserve(bytes int, optFns ...Option) (*Map, error) {
	return MapAnonymous(bytes, false, FlagNone|FlagNoCommit, optFns...)
}

func mapAnonymous(bytes int, zeroed bool, flags Flag, o options) (*Map, error) {
	if bytes <= 0 {
		return nil, newError("map", ErrArgumentOutOfDomain)
	}
	if flags&accessMask == 0 && !flags.Has(FlagNoCommit) {
		flags |= FlagReadWrite
	}
	ps, err := pageSizeFor(o.backend, flags)
	if err != nil {
		return nil, err
	}
	reservation := platform.RoundUp(uintptr(bytes), ps)
	if reservation < uintptr(bytes) {
		return nil, newError("map", ErrValueTooLarge)
	}

	triedCache := false
	if cacheable(flags) && o.cache != nil {
		triedCache = true
		if m := recycled(o, reservation, ps, zeroed, flags); m != nil {
			return m, nil
		}
	}
	retry := func(err error) (*Map, error) {
		if !triedCache && o.cache != nil && errors.Is(err, ErrNotEnoughMemory) {
			if m := recycled(o, reservation, ps, zeroed, flags); m != nil {
				return m, nil
			}
		}
		return nil, err
	}

	committed := !flags.Has(FlagNoCommit)
	var charge int64
	if committed {
		charge = int64(reservation)
		if err := o.controller.AcquireCommit(charge); err != nil {
			return retry(wrapError("map", err))
		}
	}
	r, err := o.backend.Map(platform.Request{
		Bytes:    reservation,
		Access:   flags.access(),
		Commit:   committed,
		Prefault: flags.Has(FlagPrefault),
		PageSize: ps,
	})
	if err != nil {
		o.controller.ReleaseCommit(charge)
		return retry(wrapError("map", err))
	}
	return &Map{
		addr:        r.Addr,
		reservation: int(r.Bytes),
		length:      int(r.Bytes),
		pageSize:    r.PageSize,
		flags:       flags,
		recyclable:  cacheable(flags),
		charge:      charge,
		opts:        o,
	}, nil
}

// recycled takes a reservation from the cache and makes it ready for use. Any
// failure gives the reservation back to the platform and reports nil.
func recycled(o options, bytes, pageSize uintptr, zeroed bool, flags Flag) *Map {
	it, ok := o.cache.get(bytes, pageSize)
	o.metricsCollector.RecordCacheLookup(ok)
	if !ok {
		return nil
	}
	discard := func() {
		if err := o.backend.Unmap(it.Addr, it.Bytes, true); err != nil {
			o.logger.Error("failed to release recycled reservation", "addr", it.Addr, "error", err)
		}
		it.Controller.ReleaseCommit(it.Charge)
	}

	if it.Controller != o.controller {
		it.Controller.ReleaseCommit(it.Charge)
		it.Controller, it.Charge = nil, 0
		if err := o.controller.AcquireCommit(int64(it.Bytes)); err != nil {
			discard()
			return nil
		}
		it.Controller, it.Charge = o.controller, int64(it.Bytes)
	}
	if err := o.backend.Commit(it.Addr, it.Bytes, flags.access(), true); err != nil {
		discard()
		return nil
	}
	if zeroed {
		if err := o.backend.Discard(it.Addr, it.Bytes, platform.DiscardZero, true); err != nil {
			clear(memory(it.Addr, int(it.Bytes)))
		}
	}
	return &Map{
		addr:        it.Addr,
		reservation: int(it.Bytes),
		length:      int(it.Bytes),
		pageSize:    pageSize,
		flags:       flags,
		recyclable:  cacheable(flags),
		charge:      it.Charge,
		opts:        o,
	}
}

// MapSection maps bytes of s starting at offset. A bytes of 0 maps the rest
// of the section. The reservation may exceed the section; Length is clamped
// to the section's current end. Apart from the access bits, section flags
// are added to flags.
//
// offset must be a multiple of the allocation granularity (the page size on
// POSIX, 64KiB on Windows).
func MapSection(s *Section, bytes int, offset int64, flags Flag, optFns ...Option) (*Map, error) {
	if s == nil {
		return nil, newError("map section", ErrInvalidArgument)
	}
	o := s.opts
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	start := time.Now()
	m, err := mapSection(s, bytes, offset, flags, o)
	o.metricsCollector.RecordMap(bytes, time.Since(start), err)
	o.logger.LogMap(context.Background(), "section", bytes, m.Address(), err)
	return m, err
}

func mapSection(s *Section, bytes int, offset int64, flags Flag, o options) (*Map, error) {
	if bytes < 0 || offset < 0 || uint64(offset)%uint64(o.backend.Granularity()) != 0 {
		return nil, newError("map section", ErrInvalidArgument)
	}
	if s.closed {
		return nil, newError("map section", ErrClosed)
	}
	if flags&accessMask == 0 {
		flags |= s.flags & accessMask
	}
	flags |= s.flags &^ accessMask

	ps, err := pageSizeFor(o.backend, flags)
	if err != nil {
		return nil, err
	}
	slen, err := s.Length()
	if err != nil {
		return nil, err
	}
	avail := slen - offset
	if bytes == 0 {
		if avail <= 0 {
			return nil, newError("map section", ErrArgumentOutOfDomain)
		}
		if bytes, err = conv.Int64ToInt(avail); err != nil {
			return nil, &Error{Op: "map section", Kind: ErrValueTooLarge, Err: err}
		}
	}
	reservation := platform.RoundUp(uintptr(bytes), ps)
	if reservation < uintptr(bytes) {
		return nil, newError("map section", ErrValueTooLarge)
	}

	r, err := o.backend.Map(platform.Request{
		Bytes:    reservation,
		Access:   flags.access(),
		Prefault: flags.Has(FlagPrefault),
		PageSize: ps,
		Section:  &s.native,
		Offset:   offset,
		NVRAM:    flags.Has(FlagNVRAM),
	})
	if err != nil {
		return nil, wrapError("map section", err)
	}
	m := &Map{
		section:     s,
		addr:        r.Addr,
		offset:      offset,
		reservation: int(r.Bytes),
		pageSize:    r.PageSize,
		flags:       flags,
		nvram:       r.NVRAM,
		opts:        o,
	}
	m.length = clampLength(avail, m.reservation)
	return m, nil
}

func clampLength(avail int64, reservation int) int {
	switch {
	case avail <= 0:
		return 0
	case avail > int64(reservation):
		return reservation
	}
	return int(avail)
}

// Address returns the base address of the reservation, or 0.
func (m *Map) Address() uintptr {
	if m == nil {
		return 0
	}
	return m.addr
}

// Bytes returns the valid part of the mapping. The slice dangles once the map
// is closed, truncated to zero or relocated.
func (m *Map) Bytes() []byte { return memory(m.addr, m.length) }

// Offset returns the section offset byte 0 of the map corresponds to.
func (m *Map) Offset() int64 { return m.offset }

// Capacity returns the size of the reservation.
func (m *Map) Capacity() int { return m.reservation }

// Length returns the number of valid bytes.
func (m *Map) Length() int { return m.length }

// PageSize returns the page size backing the map.
func (m *Map) PageSize() int { return int(m.pageSize) }

// IsNVRAM reports whether barriers may flush CPU caches instead of calling
// into the kernel.
func (m *Map) IsNVRAM() bool { return m.nvram }

// Section returns the backing section, or nil for anonymous memory.
func (m *Map) Section() *Section { return m.section }

// Flags returns the effective flags of the map.
func (m *Map) Flags() Flag { return m.flags }

// Fd returns the native identity the map borrows: the backing file of its
// section, or for anonymous memory the base address of the allocation.
func (m *Map) Fd() uintptr {
	if m.section != nil {
		return m.section.Fd()
	}
	return m.addr
}

func (m *Map) committed() bool { return !m.flags.Has(FlagNoCommit) }

func (m *Map) request(bytes int) platform.Request {
	req := platform.Request{
		Bytes:    uintptr(bytes),
		Access:   m.flags.access(),
		Commit:   m.committed(),
		PageSize: m.pageSize,
		Offset:   m.offset,
		Uneven:   m.uneven,
	}
	if m.section != nil {
		req.Section = &m.section.native
	}
	return req
}

// UpdateMap re-synchronises Length with the section's current size, capped
// at Capacity. It never changes the reservation. Anonymous maps report
// Capacity.
func (m *Map) UpdateMap() (int, error) {
	if m.section == nil {
		m.length = m.reservation
		return m.length, nil
	}
	slen, err := m.section.Length()
	if err != nil {
		return 0, err
	}
	m.length = clampLength(slen-m.offset, m.reservation)
	return m.length, nil
}

func (m *Map) syncLength() {
	if m.section == nil {
		m.length = m.reservation
		return
	}
	if _, err := m.UpdateMap(); err != nil {
		m.length = min(m.length, m.reservation)
	}
}

// Truncate resizes the reservation, not the backing store, and returns the
// new capacity.
//
// Shrinking releases the tail; a newSize of 0 unmaps everything. Growing
// extends the reservation in place or fails with ErrAddressInUse. With
// permitRelocation the map may instead move to a new address, which
// invalidates every pointer into it. Anonymous contents survive a move. A
// failed call leaves the map unchanged.
func (m *Map) Truncate(newSize int, permitRelocation bool) (int, error) {
	start := time.Now()
	from := m.reservation
	relocated, err := m.truncate(newSize, permitRelocation)
	m.opts.metricsCollector.RecordTruncate(relocated, time.Since(start), err)
	m.opts.logger.LogTruncate(context.Background(), from, m.reservation, relocated, err)
	if err != nil {
		return 0, err
	}
	return m.reservation, nil
}

func (m *Map) truncate(newSize int, permitRelocation bool) (bool, error) {
	if newSize < 0 {
		return false, newError("truncate", ErrInvalidArgument)
	}
	if m.pageSize == 0 {
		m.pageSize = m.opts.backend.PageSize()
	}
	anonymous := m.section == nil
	rounded := platform.RoundUp(uintptr(newSize), m.pageSize)
	if rounded < uintptr(newSize) {
		return false, newError("truncate", ErrValueTooLarge)
	}
	newRes := int(rounded)

	switch {
	case newRes == m.reservation:
		return false, nil

	case newRes == 0:
		if err := m.opts.backend.Unmap(m.addr, uintptr(m.reservation), anonymous); err != nil {
			return false, wrapError("truncate", err)
		}
		m.opts.controller.ReleaseCommit(m.charge)
		m.charge = 0
		m.addr, m.reservation, m.length = 0, 0, 0
		m.uneven = false
		return false, nil

	case m.addr == 0:
		var charge int64
		if anonymous && m.committed() {
			charge = int64(newRes)
			if err := m.opts.controller.AcquireCommit(charge); err != nil {
				return false, wrapError("truncate", err)
			}
		}
		r, err := m.opts.backend.Map(m.request(newRes))
		if err != nil {
			m.opts.controller.ReleaseCommit(charge)
			return false, wrapError("truncate", err)
		}
		m.addr, m.reservation, m.charge = r.Addr, int(r.Bytes), charge
		m.syncLength()
		return false, nil

	case newRes < m.reservation:
		tail := uintptr(m.reservation - newRes)
		if err := m.opts.backend.Unmap(m.addr+uintptr(newRes), tail, anonymous); err != nil {
			return false, wrapError("truncate", err)
		}
		credit := min(m.charge, int64(tail))
		m.opts.controller.ReleaseCommit(credit)
		m.charge -= credit
		m.reservation = newRes
		m.syncLength()
		return false, nil
	}

	var extra int64
	if anonymous && m.committed() {
		extra = int64(newRes - m.reservation)
		if err := m.opts.controller.AcquireCommit(extra); err != nil {
			return false, wrapError("truncate", err)
		}
	}
	req := m.request(newRes)
	relocated := false
	if err := m.opts.backend.Extend(m.addr, uintptr(m.reservation), req); err != nil {
		if !permitRelocation {
			m.opts.controller.ReleaseCommit(extra)
			if errors.Is(err, platform.ErrNotContiguous) {
				return false, &Error{Op: "truncate", Kind: ErrAddressInUse, Err: err}
			}
			return false, wrapError("truncate", err)
		}
		r, err := m.opts.backend.Relocate(m.addr, uintptr(m.reservation), req)
		if err != nil {
			m.opts.controller.ReleaseCommit(extra)
			return false, wrapError("truncate", err)
		}
		m.addr = r.Addr
		relocated = true
	}
	m.charge += extra
	m.reservation = newRes
	m.syncLength()
	return relocated, nil
}

// Close releases the map. A writable map flagged FlagBarrierOnClose is
// flushed first; if that fails the map stays open and the error is returned.
//
// Eligible anonymous memory is parked in the recycling cache instead of being
// unmapped. Failure to unmap is unrecoverable and aborts the process.
func (m *Map) Close() error {
	if m.addr == 0 {
		m.reservation, m.length = 0, 0
		return nil
	}
	if m.flags.writable() && m.flags.Has(FlagBarrierOnClose) {
		if _, err := m.Barrier(context.Background(), nil, BarrierWaitAll); err != nil {
			return err
		}
	}

	if m.recyclable && m.section == nil && m.opts.cache != nil && !m.opts.cache.disabled() &&
		!m.opts.backend.RecyclingCounterProductive() {
		if discardFailures.Load() < discardFailureLimit {
			err := m.opts.backend.Discard(m.addr, uintptr(m.reservation), platform.DiscardFree, true)
			if err != nil && !errors.Is(err, platform.ErrUnsupported) {
				discardFailures.Add(1)
			}
		}
		if m.opts.cache.add(recycle.Item{
			Addr:       m.addr,
			Bytes:      uintptr(m.reservation),
			PageSize:   m.pageSize,
			Charge:     m.charge,
			Controller: m.opts.controller,
		}) {
			m.forget()
			return nil
		}
	}

	if err := m.opts.backend.Unmap(m.addr, uintptr(m.reservation), m.section == nil); err != nil {
		m.opts.logger.LogFatal(context.Background(), "close", m.addr, m.reservation, err)
		fatal(fmt.Sprintf("failed to unmap %d bytes at %#x: %v", m.reservation, m.addr, err))
		return wrapError("close", err)
	}
	m.opts.controller.ReleaseCommit(m.charge)
	m.forget()
	return nil
}

// Release detaches the reservation without unmapping it. The caller owns the
// returned range from now on.
func (m *Map) Release() (addr uintptr, reservation int) {
	addr, reservation = m.addr, m.reservation
	m.opts.controller.ReleaseCommit(m.charge)
	m.forget()
	return addr, reservation
}

func (m *Map) forget() {
	m.addr, m.reservation, m.length, m.charge = 0, 0, 0, 0
	m.uneven = false
}
