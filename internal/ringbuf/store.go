/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package ringbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header probe offsets, pinned by the layout tests.
const (
	probeVersionOff  = 0x08
	probeDataSizeOff = 0x40
	probeSize        = 0x48
)

// Handle is one participant's attachment to a store. A Handle serializes
// its own metadata access, but a request and its commit must come from the
// same goroutine: the outstanding reservation lives in the handle.
type Handle struct {
	*store
	cfg     Config
	bk      *backing
	lk      *sharedLock
	slot    *slot
	slotIdx int // reader slot, -1 for the writer
	closed  bool

	// writer reservation
	lastWriteBytes uint32
	lastAlign      uint32
	lastKind       FrameKind
	jumpedHole     bool

	// reader hold
	lastReadBytes uint32
	seenSeq       uint32
}

// backing is the open file and its mapping.
type backing struct {
	path string
	file *os.File
	m    mapping
}

func (b *backing) close() error {
	return errors.Join(b.m.unmap(), b.file.Close())
}

// Open attaches a participant to a store, creating and initializing the
// store if it does not exist.
func Open(cfg Config) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.logger().With().
		Str("store", cfg.Store).
		Str("participant", cfg.Participant).
		Stringer("capability", cfg.Capability).
		Logger()

	h := &Handle{cfg: cfg, slotIdx: -1}
	path := StorePath(cfg.Dir, cfg.Store)
	st, bk, lk, err := attach(path, uint64(cfg.Capacity), true, cfg.Capability.writableData(), &log,
		func(st *store, fresh bool) error {
			if fresh {
				st.initLocked(cfg.Store, cfg.Persistent)
				log.Info().Uint32("data_size", st.size).Msg("store initialized")
			}
			h.store = st
			return h.installLocked(fresh)
		})
	if err != nil {
		return nil, err
	}
	h.store, h.bk, h.lk = st, bk, lk

	log.Info().Int("slot", h.slotIdx).Uint32("data_size", st.size).Msg("attached")
	return h, nil
}

// attach opens and maps the backing file. setup runs while the shared lock
// is held for the first time, so header initialization and slot
// installation are atomic with respect to other openers.
func attach(path string, want uint64, create, writableData bool, log *zerolog.Logger,
	setup func(st *store, fresh bool) error) (*store, *backing, *sharedLock, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open store file %s: %w", path, err)
	}
	fd := int(file.Fd())
	lk := newSharedLock(fd, nil, log)
	lk.mu.Lock()
	if err := flockFile(fd, true); err != nil {
		lk.mu.Unlock()
		file.Close()
		return nil, nil, nil, fmt.Errorf("failed to lock store file: %w", err)
	}
	fail := func(err error) (*store, *backing, *sharedLock, error) {
		flockFile(fd, false)
		lk.mu.Unlock()
		file.Close()
		return nil, nil, nil, err
	}

	page := os.Getpagesize()
	span := headerSpan(page)
	dataSize, fresh, err := prepareFile(file, span, want, create, page)
	if err != nil {
		return fail(err)
	}
	m, err := mapRegion(fd, uintptr(span), uintptr(dataSize), writableData)
	if err != nil {
		return fail(fmt.Errorf("failed to map store: %w", err))
	}
	hdr := m.header()
	if fresh {
		*hdr = storeHeader{}
	} else if err := validateHeader(hdr, page); err != nil {
		m.unmap()
		return fail(fmt.Errorf("invalid store header: %w", err))
	}

	lk.hdr = hdr
	g := lk.enter()
	st := &store{hdr: hdr, data: m.data(), size: uint32(dataSize), log: *log}
	err = setup(st, fresh)
	g.unlock()
	if err != nil {
		m.unmap()
		file.Close()
		return nil, nil, nil, err
	}
	return st, &backing{path: path, file: file, m: m}, lk, nil
}

// prepareFile sizes the backing file. An existing valid header decides the
// data size; otherwise the file is (re)initialized with the requested size.
func prepareFile(f *os.File, span, want uint64, create bool, page int) (dataSize uint64, fresh bool, err error) {
	info, err := f.Stat()
	if err != nil {
		return 0, false, fmt.Errorf("failed to stat store file: %w", err)
	}
	if size := uint64(info.Size()); size >= span {
		var probe [probeSize]byte
		if _, err := f.ReadAt(probe[:], 0); err == nil {
			if ds, ok := probeHeader(probe[:], page); ok && size >= span+ds {
				return ds, false, nil
			}
		}
	}
	if !create {
		return 0, false, fmt.Errorf("store file %s holds no valid store: %w", f.Name(), ErrInvalidParam)
	}
	dataSize = alignUp(want, uint64(page))
	if err := f.Truncate(int64(span + dataSize)); err != nil {
		return 0, false, fmt.Errorf("failed to resize store file: %w", err)
	}
	return dataSize, true, nil
}

func probeHeader(b []byte, page int) (uint64, bool) {
	if string(b[:len(StoreMagic)]) != StoreMagic {
		return 0, false
	}
	if binary.NativeEndian.Uint32(b[probeVersionOff:]) != StoreVersion {
		return 0, false
	}
	ds := binary.NativeEndian.Uint64(b[probeDataSizeOff:])
	if ds == 0 || ds > MaxCapacity || ds%uint64(page) != 0 {
		return 0, false
	}
	return ds, true
}

func (s *store) initLocked(name string, persistent bool) {
	h := s.hdr
	copy(h.magic[:], StoreMagic)
	h.version = StoreVersion
	h.setFlag(headerPersistent, persistent)
	h.setFlag(headerVideo, true)
	copy(h.name[:NameSize-1], name)
	id := uuid.New()
	copy(h.instanceID[:], id[:])
	h.dataSize = uint64(s.size)
	h.alignBytes = DefaultAlignment
	h.alignKind = uint32(FrameKey)
}

// installLocked places the caller into its slot.
func (h *Handle) installLocked(fresh bool) error {
	switch h.cfg.Capability {
	case Writer:
		return h.installWriterLocked(fresh)
	case Reader, Decrypter, Dumper:
		return h.installReaderLocked()
	}
	return fmt.Errorf("capability %v: %w", h.cfg.Capability, ErrInvalidParam)
}

func (h *Handle) installWriterLocked(fresh bool) error {
	w := &h.hdr.writer
	if w.inUse() && w.nameString() != h.cfg.Participant {
		if processAlive(w.pid) {
			return fmt.Errorf("writer slot held by %q: %w", w.nameString(), ErrExists)
		}
		h.log.Warn().Str("stale", w.nameString()).Uint32("pid", w.pid).Msg("reclaiming writer slot of exited process")
	}

	h.hdr.setFlag(headerPersistent, h.cfg.Persistent)
	if !fresh && !h.cfg.Persistent {
		h.resetReadersLocked()
	} else if !fresh {
		h.log.Info().
			Uint32("index", w.index).
			Uint32("offset", w.offset).
			Msg("persistent store, resuming writer cursor")
	}

	w.setName(h.cfg.Participant)
	w.pid = uint32(os.Getpid())
	w.capability = uint32(Writer)
	w.state = uint32(StateFree)
	w.reserved = 0
	w.installs++
	h.slot = w
	h.slotIdx = -1
	return nil
}

func (h *Handle) installReaderLocked() error {
	name := h.cfg.Participant
	idx, existing := h.findReaderSlotLocked(name)
	if idx < 0 {
		return fmt.Errorf("no free reader slot among %d: %w", MaxReaders, ErrNoSpace)
	}
	r := &h.hdr.readers[idx]
	if !existing {
		*r = slot{}
		r.setName(name)
	}
	r.pid = uint32(os.Getpid())
	r.capability = uint32(h.cfg.Capability)
	h.deleteHolesOwnedLocked(name)
	r.state = uint32(StateFree)
	r.setFlag(slotMoved, false)

	w := &h.hdr.writer
	switch {
	case h.hdr.dataWritten == 0:
		r.moveTo(w.index, w.offset, true)
	case h.cfg.Capability == Dumper:
		oldest := h.oldestValidLocked()
		r.moveTo(oldest, h.entryOffset(oldest), false)
	default:
		if k, ok := h.latestKeyLocked(); ok {
			r.moveTo(k, h.hdr.frames[k].offset, false)
		} else {
			r.moveTo(w.index, w.offset, true)
		}
	}
	r.installs++
	h.slot = r
	h.slotIdx = idx
	return nil
}

// findReaderSlotLocked returns the slot already named name, else the first
// empty slot, else a slot whose process has exited.
func (s *store) findReaderSlotLocked(name string) (idx int, existing bool) {
	empty := -1
	for i := range s.hdr.readers {
		r := &s.hdr.readers[i]
		if !r.inUse() {
			if empty < 0 {
				empty = i
			}
			continue
		}
		if r.nameString() == name {
			return i, true
		}
	}
	if empty >= 0 {
		return empty, false
	}
	for i := range s.hdr.readers {
		r := &s.hdr.readers[i]
		if !processAlive(r.pid) {
			s.log.Warn().Str("stale", r.nameString()).Uint32("pid", r.pid).Msg("reclaiming reader slot of exited process")
			s.releaseReaderLocked(i)
			return i, false
		}
	}
	return -1, false
}

func (s *store) releaseReaderLocked(i int) {
	r := &s.hdr.readers[i]
	s.deleteHolesOwnedLocked(r.nameString())
	*r = slot{}
}

// releaseWriterLocked empties the writer slot. The cursor survives so the
// frame index stays addressable for readers and a resuming writer.
func (s *store) releaseWriterLocked() {
	w := &s.hdr.writer
	index, offset := w.index, w.offset
	*w = slot{}
	w.index, w.offset = index, offset
}

func (s *store) participantsLocked() int {
	n := 0
	if s.hdr.writer.inUse() {
		n++
	}
	for i := range s.hdr.readers {
		if s.hdr.readers[i].inUse() {
			n++
		}
	}
	return n
}

// resetReadersLocked invalidates every reader cursor and rewinds the writer.
// Readers holding a frame keep their bytes protected by a black hole.
func (s *store) resetReadersLocked() {
	for i := range s.hdr.readers {
		r := &s.hdr.readers[i]
		if !r.inUse() {
			continue
		}
		switch r.slotState() {
		case StateHolding:
			s.protectHeldLocked(r)
			r.setFlag(slotMoved, true)
			r.state = uint32(StateBlocked)
		case StateBlocked:
			r.setFlag(slotMoved, true)
		}
		r.moveTo(0, 0, true)
	}
	w := &s.hdr.writer
	w.discards++
	w.index, w.offset = 0, 0
	s.hdr.dataWritten = 0
	s.hdr.contiBytes = 0
	s.hdr.frameCount = 0
	s.hdr.frames = [MaxFrames]frameEntry{}
	s.log.Info().Msg("reader cursors reset")
}

// protectHeldLocked turns the range r holds into a black hole.
func (s *store) protectHeldLocked(r *slot) {
	first := &s.hdr.frames[r.refStart]
	last := &s.hdr.frames[r.refEnd]
	end := s.advanceOffset(last.offset, last.length)
	if err := s.insertHoleLocked(r.nameString(), first.offset, end); err != nil {
		s.log.Warn().Err(err).Str("reader", r.nameString()).Msg("could not protect held frames")
	}
}

// Close detaches the participant. The backing file of a non-persistent
// store is removed when its last participant detaches.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	g := h.lk.acquire()
	if h.cfg.Capability == Writer {
		h.releaseWriterLocked()
	} else {
		h.releaseReaderLocked(h.slotIdx)
	}
	remove := !h.hdr.persistent() && h.participantsLocked() == 0
	var rmErr error
	if remove {
		if err := os.Remove(h.bk.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			rmErr = fmt.Errorf("failed to remove store file: %w", err)
		}
	}
	g.unlock()

	h.closed = true
	h.slot = nil
	h.log.Info().Bool("removed", remove).Msg("detached")
	return errors.Join(rmErr, h.bk.close())
}

// RemoveStore removes the backing file of a store.
func RemoveStore(dir, store string) error {
	err := os.Remove(StorePath(dir, store))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// StoreExists checks if a backing file exists.
func StoreExists(dir, store string) bool {
	_, err := os.Stat(StorePath(dir, store))
	return err == nil
}

// Name returns the participant name.
func (h *Handle) Name() string { return h.cfg.Participant }

// Capability returns the role the handle attached with.
func (h *Handle) Capability() Capability { return h.cfg.Capability }

// Path returns the backing file.
func (h *Handle) Path() string { return h.bk.path }

// BufferSize returns the data area size in bytes.
func (h *Handle) BufferSize() int { return int(h.size) }

func (h *Handle) checkWriter() error {
	if h.closed {
		return ErrClosed
	}
	if h.cfg.Capability != Writer {
		return fmt.Errorf("%v attempted a writer operation: %w", h.cfg.Capability, ErrPermission)
	}
	return nil
}

func (h *Handle) checkReader() error {
	if h.closed {
		return ErrClosed
	}
	if !h.cfg.Capability.isReader() {
		return fmt.Errorf("%v attempted a reader operation: %w", h.cfg.Capability, ErrPermission)
	}
	return nil
}

func (h *Handle) lock() lockGuard {
	return h.lk.acquire()
}
