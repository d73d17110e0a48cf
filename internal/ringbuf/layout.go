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
	"bytes"
	"fmt"
	"sync/atomic"
	"time"
)

// Memory layout constants
const (
	// Magic bytes for store identification
	StoreMagic = "<_R_B_>\x00"

	// Current layout version
	StoreVersion = uint32(1)

	// MaxReaders is the size of the reader slot pool.
	MaxReaders = 10

	// MaxFrames is the capacity of the frame index ring.
	MaxFrames = 1024 - 128

	// MaxBlackHoles bounds the black-hole set. Each reader owns at most one.
	MaxBlackHoles = MaxReaders

	// NameSize is the fixed size of participant and store names, NUL included.
	NameSize = 32

	// headerReserve is the space set aside for storeHeader before the data
	// area, rounded up to the page size at map time.
	headerReserve = 6 * 4096

	// DefaultAlignment is the alignment unit applied to key frames.
	DefaultAlignment = 512

	// MaxCapacity bounds the data area so offsets fit in 32 bits.
	MaxCapacity = 1 << 30

	// MaxRetries bounds the writer's relocate-and-retry loop.
	MaxRetries = 100

	// BlackHoleLifetime is how long a black hole protects its range.
	BlackHoleLifetime = 20 * time.Second

	// forceAlignDivisor forces alignment once this fraction of the data area
	// has been written without padding.
	forceAlignDivisor = 5
)

// Header flags
const (
	headerPersistent uint32 = 1 << 0
	headerVideo      uint32 = 1 << 1
)

// Slot flags
const (
	slotMoved   uint32 = 1 << 0 // relocated by the writer since the last request
	slotWaitKey uint32 = 1 << 1 // must resynchronize to the next key frame
)

// SlotState is the request/commit state of a participant slot.
type SlotState uint32

const (
	StateFree    SlotState = 0
	StateHolding SlotState = 1
	StateBlocked SlotState = 2
)

func (s SlotState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateHolding:
		return "holding"
	case StateBlocked:
		return "blocked"
	}
	return fmt.Sprintf("SlotState(%d)", uint32(s))
}

// storeHeader is the metadata region at the start of the backing store.
// Every field is mutated under the shared lock except lockOwner and
// commitSeq, which are accessed atomically.
type storeHeader struct {
	magic          [8]byte        // 0x00: StoreMagic
	version        uint32         // 0x08: layout version
	flags          uint32         // 0x0C: headerPersistent | headerVideo
	name           [NameSize]byte // 0x10: store name
	instanceID     [16]byte       // 0x30: random ID chosen at init
	dataSize       uint64         // 0x40: data area size in bytes
	alignBytes     uint32         // 0x48: alignment unit
	alignKind      uint32         // 0x4C: frame kind that triggers alignment
	dataWritten    uint32         // 0x50: any frame committed since reset
	holeCount      uint32         // 0x54: active black holes
	contiBytes     uint64         // 0x58: bytes written since the last padding
	lockOwner      uint32         // 0x60: PID inside the critical section, 0 if none
	lockRecoveries uint32         // 0x64: times a dead holder was detected
	commitSeq      uint32         // 0x68: bumped per commit, futex word
	holesCreated   uint32         // 0x6C: lifetime black-hole insertions
	holesExpired   uint32         // 0x70: lifetime black-hole expirations
	pad            uint32         // 0x74: padding
	frameCount     uint64         // 0x78: frames committed since reset
	writer         slot           // 0x80
	readers        [MaxReaders]slot
	frames         [MaxFrames]frameEntry
	holes          [MaxBlackHoles]blackHole
}

// slot is a participant slot. A zero name marks it empty.
type slot struct {
	name        [NameSize]byte // 0x00
	pid         uint32         // 0x20: owning process
	capability  uint32         // 0x24: Capability
	offset      uint32         // 0x28: byte cursor
	index       uint32         // 0x2C: frame index cursor
	refStart    uint32         // 0x30: first held index
	refEnd      uint32         // 0x34: last held index
	state       uint32         // 0x38: SlotState
	flags       uint32         // 0x3C: slotMoved | slotWaitKey
	requestTime int64          // 0x40: uptime (ms) of the last request

	// accounting
	installs              uint32 // 0x48
	requests              uint32 // 0x4C
	commits               uint32 // 0x50
	discards              uint32 // 0x54
	seeks                 uint32 // 0x58
	blockings             uint32 // 0x5C
	relocations           uint32 // 0x60
	commitsWithoutRequest uint32 // 0x64
	requestsWithoutCommit uint32 // 0x68
	reserved              uint32 // 0x6C: writer only, bytes reserved from offset
	bytes                 uint64 // 0x70
}

// frameEntry describes one committed frame.
type frameEntry struct {
	offset      uint32 // 0x00: start of the frame in the data area
	length      uint32 // 0x04
	kind        uint8  // 0x08: FrameKind
	continuous  uint8  // 0x09: 1 if the frame directly follows the previous one
	pad         uint16 // 0x0A
	requestTime uint32 // 0x0C: uptime (s) when the write was requested
	timestamp   int64  // 0x10: application timestamp
}

// blackHole is a byte range [start, end) that the writer must not reuse.
type blackHole struct {
	start   uint32         // 0x00
	end     uint32         // 0x04
	created int64          // 0x08: uptime (ms)
	owner   [NameSize]byte // 0x10
}

// Sizes pinned by layout tests.
const (
	slotSize       = 0x78
	frameEntrySize = 0x18
	blackHoleSize  = 0x30
)

func (s *slot) inUse() bool {
	return s.name[0] != 0
}

func (s *slot) nameString() string {
	return cString(s.name[:])
}

func (s *slot) setName(name string) {
	s.name = [NameSize]byte{}
	copy(s.name[:NameSize-1], name)
}

func (s *slot) moved() bool {
	return s.flags&slotMoved != 0
}

func (s *slot) waitKey() bool {
	return s.flags&slotWaitKey != 0
}

func (s *slot) setFlag(f uint32, on bool) {
	if on {
		s.flags |= f
	} else {
		s.flags &^= f
	}
}

// moveTo repositions the cursor and drops any held range.
func (s *slot) moveTo(index, offset uint32, waitKey bool) {
	s.index = index
	s.offset = offset
	s.refStart = index
	s.refEnd = index
	s.setFlag(slotWaitKey, waitKey)
}

func (s *slot) slotState() SlotState {
	return SlotState(s.state)
}

func (b *blackHole) ownerString() string {
	return cString(b.owner[:])
}

// Magic returns the magic bytes
func (h *storeHeader) Magic() [8]byte {
	return h.magic
}

// CommitSequence returns the commit sequence word
func (h *storeHeader) CommitSequence() uint32 {
	return atomic.LoadUint32(&h.commitSeq)
}

func (h *storeHeader) persistent() bool {
	return h.flags&headerPersistent != 0
}

func (h *storeHeader) video() bool {
	return h.flags&headerVideo != 0
}

func (h *storeHeader) setFlag(f uint32, on bool) {
	if on {
		h.flags |= f
	} else {
		h.flags &^= f
	}
}

// validateHeader checks a header written by another participant.
func validateHeader(h *storeHeader, pageSize int) error {
	if string(h.magic[:]) != StoreMagic {
		return fmt.Errorf("invalid magic bytes")
	}
	if h.version != StoreVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.version, StoreVersion)
	}
	if h.dataSize == 0 || h.dataSize > MaxCapacity || h.dataSize%uint64(pageSize) != 0 {
		return fmt.Errorf("data size %d is not a page multiple within %d", h.dataSize, MaxCapacity)
	}
	if h.alignBytes == 0 || !isPowerOfTwo(uint64(h.alignBytes)) {
		return fmt.Errorf("alignment %d is not a power of two", h.alignBytes)
	}
	return nil
}

// isPowerOfTwo returns true if n is a power of two
func isPowerOfTwo(n uint64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// alignUp rounds n up to a multiple of unit, which must be a power of two.
func alignUp(n, unit uint64) uint64 {
	return (n + unit - 1) &^ (unit - 1)
}

// headerSpan is the page-aligned size of the metadata region.
func headerSpan(pageSize int) uint64 {
	return alignUp(headerReserve, uint64(pageSize))
}

// advanceIndex moves a frame index forward by n positions.
func advanceIndex(i, n uint32) uint32 {
	return (i + n%MaxFrames) % MaxFrames
}

// stepbackIndex moves a frame index backward by n positions.
func stepbackIndex(i, n uint32) uint32 {
	return (i + MaxFrames - n%MaxFrames) % MaxFrames
}

// indexDistance is the number of positions from a forward to b.
func indexDistance(a, b uint32) uint32 {
	return (b + MaxFrames - a) % MaxFrames
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
