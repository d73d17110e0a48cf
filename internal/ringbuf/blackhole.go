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
	"fmt"
	"sort"
)

// nowMillis is the clock black holes age by. Tests replace it.
var nowMillis = monotonicMillis

// insertHoleLocked registers [start, end) as owned by owner. The set is kept
// sorted by start offset and holds at most one hole per owner.
func (s *store) insertHoleLocked(owner string, start, end uint32) error {
	h := s.hdr
	if start == end || start >= s.size || end >= s.size {
		return fmt.Errorf("black hole [%d, %d): %w", start, end, ErrInvalidParam)
	}
	n := int(h.holeCount)
	for i := 0; i < n; i++ {
		if h.holes[i].ownerString() == owner {
			return fmt.Errorf("black hole for %q: %w", owner, ErrExists)
		}
	}
	if n >= MaxBlackHoles {
		return fmt.Errorf("black hole set full: %w", ErrNoSpace)
	}

	pos := sort.Search(n, func(i int) bool { return h.holes[i].start > start })
	copy(h.holes[pos+1:n+1], h.holes[pos:n])
	h.holes[pos] = blackHole{start: start, end: end, created: nowMillis()}
	copy(h.holes[pos].owner[:NameSize-1], owner)
	h.holeCount++
	h.holesCreated++

	s.log.Debug().
		Str("owner", owner).
		Uint32("start", start).
		Uint32("end", end).
		Msg("black hole inserted")
	return nil
}

func (s *store) deleteHoleLocked(i int) {
	h := s.hdr
	n := int(h.holeCount)
	copy(h.holes[i:n-1], h.holes[i+1:n])
	h.holes[n-1] = blackHole{}
	h.holeCount--
}

// deleteHolesOwnedLocked removes the hole owned by owner, if any.
func (s *store) deleteHolesOwnedLocked(owner string) int {
	removed := 0
	for i := 0; i < int(s.hdr.holeCount); {
		if s.hdr.holes[i].ownerString() == owner {
			s.deleteHoleLocked(i)
			removed++
			continue
		}
		i++
	}
	return removed
}

// expireHolesLocked drops holes older than BlackHoleLifetime.
func (s *store) expireHolesLocked() int {
	now := nowMillis()
	expired := 0
	for i := 0; i < int(s.hdr.holeCount); {
		hole := &s.hdr.holes[i]
		if now-hole.created > BlackHoleLifetime.Milliseconds() {
			s.log.Debug().Str("owner", hole.ownerString()).Msg("black hole expired")
			s.deleteHoleLocked(i)
			s.hdr.holesExpired++
			expired++
			continue
		}
		i++
	}
	return expired
}

// holeSpan is a merged obstacle. Owners of merged holes are joined with "|".
type holeSpan struct {
	start  uint32
	length uint32
	owners string
}

// mergedHolesLocked returns the holes ordered by distance from from, with
// overlapping and adjacent holes merged.
func (s *store) mergedHolesLocked(from uint32) []holeSpan {
	n := int(s.hdr.holeCount)
	if n == 0 {
		return nil
	}
	spans := make([]holeSpan, 0, n)
	for i := 0; i < n; i++ {
		hole := &s.hdr.holes[i]
		spans = append(spans, holeSpan{
			start:  hole.start,
			length: s.bufferLen(hole.start, hole.end),
			owners: hole.ownerString(),
		})
	}
	sort.Slice(spans, func(a, b int) bool {
		return s.bufferLen(from, spans[a].start) < s.bufferLen(from, spans[b].start)
	})

	merged := make([]holeSpan, 0, n)
	for _, sp := range spans {
		if k := len(merged); k > 0 {
			last := &merged[k-1]
			if d := s.bufferLen(last.start, sp.start); d <= last.length {
				if end := d + sp.length; end > last.length {
					last.length = min(end, s.size)
				}
				last.owners += "|" + sp.owners
				continue
			}
		}
		merged = append(merged, sp)
	}
	return merged
}

// overlaps reports whether the ring ranges [a, a+aLen) and [b, b+bLen)
// intersect.
func (s *store) overlaps(a, aLen, b, bLen uint32) bool {
	return s.bufferLen(a, b) < aLen || s.bufferLen(b, a) < bLen
}

// blackholeJumpLocked returns the first offset at or after writeOffset where
// length+alignment bytes fit without touching a black hole, and the number
// of bytes skipped to get there. ok is false when no such offset exists
// within one lap of the ring.
func (s *store) blackholeJumpLocked(writeOffset, length, alignment uint32) (offset, skipped uint32, ok bool) {
	holes := s.mergedHolesLocked(writeOffset)
	if len(holes) == 0 {
		return writeOffset, 0, true
	}
	need := length + alignment
	pos := writeOffset
	var total uint64
	// Each pass either settles or moves past at least one hole.
	for pass := 0; pass <= len(holes); pass++ {
		moved := false
		for _, hl := range holes {
			if !s.overlaps(pos, need, hl.start, hl.length) {
				continue
			}
			end := s.advanceOffset(hl.start, hl.length)
			total += uint64(s.bufferLen(pos, end))
			if total >= uint64(s.size) {
				return 0, 0, false
			}
			pos = end
			moved = true
		}
		if !moved {
			return pos, uint32(total), true
		}
	}
	return 0, 0, false
}
