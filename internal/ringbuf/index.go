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

import "github.com/rs/zerolog"

// store is the view of one mapped backing store. Its *Locked methods hold
// the index, slot and black-hole algorithms and expect the shared lock.
type store struct {
	hdr  *storeHeader
	data []byte // data area mapped twice, len == 2*size
	size uint32
	log  zerolog.Logger
}

// bufferLen is the distance in bytes from start forward to end.
func (s *store) bufferLen(start, end uint32) uint32 {
	return (s.size + end - start) % s.size
}

func (s *store) advanceOffset(off, n uint32) uint32 {
	return uint32((uint64(off) + uint64(n)) % uint64(s.size))
}

// writable is the number of bytes the writer may use before reaching a
// reader at readOff. Equal cursors mean the reader has consumed everything.
func (s *store) writable(readOff, writeOff uint32) uint32 {
	if readOff == writeOff {
		return s.size
	}
	return s.bufferLen(writeOff, readOff)
}

// view returns n bytes at off without wrap splitting.
func (s *store) view(off, n uint32) []byte {
	end := uint64(off) + uint64(n)
	return s.data[off:end:end]
}

// entryOffset is the byte position of index idx, or the writer's offset if
// idx is the writer's next slot.
func (s *store) entryOffset(idx uint32) uint32 {
	if idx == s.hdr.writer.index {
		return s.hdr.writer.offset
	}
	return s.hdr.frames[idx].offset
}

// findNextLocked returns the first entry in [from, writer index) of the
// given kind. FrameAny matches every entry.
func (s *store) findNextLocked(from uint32, kind FrameKind) (uint32, bool) {
	w := s.hdr.writer.index
	for idx := from; idx != w; idx = advanceIndex(idx, 1) {
		if kind == FrameAny || FrameKind(s.hdr.frames[idx].kind) == kind {
			return idx, true
		}
	}
	return 0, false
}

// findRunStartLocked returns the first entry in [from, writer index) that
// starts a new contiguous run: padding, a hole jump, or the alignment kind
// separated it from its predecessor.
func (s *store) findRunStartLocked(from uint32) (uint32, bool) {
	w := s.hdr.writer.index
	for idx := from; idx != w; idx = advanceIndex(idx, 1) {
		e := &s.hdr.frames[idx]
		if e.continuous == 0 || uint32(e.kind) == s.hdr.alignKind {
			return idx, true
		}
	}
	return 0, false
}

// searchBackLocked walks from the newest entry down to oldest, inclusive,
// and returns the first entry match accepts. oldest equal to the writer's
// index means the window is empty.
func (s *store) searchBackLocked(oldest uint32, match func(e *frameEntry) bool) (uint32, bool) {
	w := s.hdr.writer.index
	if oldest == w {
		return 0, false
	}
	for idx := stepbackIndex(w, 1); ; idx = stepbackIndex(idx, 1) {
		if match(&s.hdr.frames[idx]) {
			return idx, true
		}
		if idx == oldest {
			return 0, false
		}
	}
}

// oldestValidLocked finds the oldest entry whose bytes have not been
// overwritten. Walking back from the writer, the span from each entry to the
// writer's offset grows until the walk crosses into reused bytes; the last
// entry before the span stops growing is the oldest valid one. The walk also
// stops before any entry that overlaps the writer's outstanding reservation,
// whose bytes may be changing. The writer's own index is returned when
// nothing is valid.
func (s *store) oldestValidLocked() uint32 {
	w := &s.hdr.writer
	if s.hdr.dataWritten == 0 {
		return w.index
	}
	limit := s.hdr.frameCount
	if limit > MaxFrames-1 {
		limit = MaxFrames - 1
	}
	from := w.index
	var last uint32
	for steps := uint64(0); steps < limit; steps++ {
		prev := stepbackIndex(from, 1)
		e := &s.hdr.frames[prev]
		span := s.bufferLen(e.offset, w.offset)
		if span <= last || s.inReservationLocked(e) {
			break
		}
		last = span
		from = prev
	}
	return from
}

// inReservationLocked reports whether e shares bytes with the range the
// writer has reserved but not yet committed.
func (s *store) inReservationLocked(e *frameEntry) bool {
	w := &s.hdr.writer
	if w.reserved == 0 {
		return false
	}
	d := s.bufferLen(w.offset, e.offset)
	return d < w.reserved || uint64(d)+uint64(e.length) > uint64(s.size)
}

// latestKeyLocked returns the newest key frame at or after the oldest valid
// entry.
func (s *store) latestKeyLocked() (uint32, bool) {
	return s.searchBackLocked(s.oldestValidLocked(), func(e *frameEntry) bool {
		return FrameKind(e.kind) == FrameKey
	})
}

// newerKeyLocked returns the newest key frame strictly after index from,
// which must lie in the valid window.
func (s *store) newerKeyLocked(from uint32) (uint32, bool) {
	if from == s.hdr.writer.index {
		return 0, false
	}
	return s.searchBackLocked(advanceIndex(from, 1), func(e *frameEntry) bool {
		return FrameKind(e.kind) == FrameKey
	})
}

// timestampLocked returns the newest key frame stamped at or before t,
// falling back to the oldest valid entry.
func (s *store) timestampLocked(t int64) (uint32, bool) {
	oldest := s.oldestValidLocked()
	if oldest == s.hdr.writer.index {
		return 0, false
	}
	idx, ok := s.searchBackLocked(oldest, func(e *frameEntry) bool {
		return FrameKind(e.kind) == FrameKey && e.timestamp != 0 && e.timestamp <= t
	})
	if !ok {
		return oldest, true
	}
	return idx, true
}

// indexBlockersLocked returns readers whose cursor the writer's next index
// entry would run into.
func (s *store) indexBlockersLocked() []Blocker {
	next := advanceIndex(s.hdr.writer.index, 1)
	var blockers []Blocker
	for i := range s.hdr.readers {
		r := &s.hdr.readers[i]
		if r.inUse() && r.index == next {
			blockers = append(blockers, Blocker{Slot: i, Name: r.nameString()})
		}
	}
	return blockers
}

// addEntryLocked appends a frame at the writer's index.
func (s *store) addEntryLocked(e frameEntry) {
	w := &s.hdr.writer
	s.hdr.frames[w.index] = e
	w.index = advanceIndex(w.index, 1)
	s.hdr.frameCount++
}
