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
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Counters is the accounting kept in every slot.
type Counters struct {
	Installs              uint32
	Requests              uint32
	Commits               uint32
	Discards              uint32
	Seeks                 uint32
	Blockings             uint32
	Relocations           uint32
	CommitsWithoutRequest uint32
	RequestsWithoutCommit uint32
	Bytes                 uint64
}

// SlotInfo describes one occupied participant slot.
type SlotInfo struct {
	Slot        int // -1 for the writer
	Name        string
	PID         uint32
	Capability  Capability
	State       SlotState
	Index       uint32
	Offset      uint32
	Moved       bool
	WaitKey     bool
	RequestTime int64 // uptime in ms
	Writable    uint32
	Readable    uint32
	Reserved    uint32 // writer only: bytes reserved from Offset, uncommitted
	Counters    Counters
}

// HoleInfo describes one black hole.
type HoleInfo struct {
	Owner   string
	Start   uint32
	End     uint32
	Created int64 // uptime in ms
}

// Snapshot is a consistent copy of a store's metadata.
type Snapshot struct {
	Name           string
	InstanceID     uuid.UUID
	Version        uint32
	DataSize       uint32
	AlignBytes     uint32
	AlignKind      FrameKind
	Persistent     bool
	Video          bool
	DataWritten    bool
	ContiBytes     uint64
	FrameCount     uint64
	LockRecoveries uint32
	CommitSeq      uint32
	HolesCreated   uint32
	HolesExpired   uint32

	Writer  *SlotInfo // nil when no writer is attached
	Readers []SlotInfo
	Holes   []HoleInfo

	// Frames is the valid index window, oldest first.
	Frames      []FrameInfo
	OldestIndex uint32
	WriterIndex uint32
	WriterOff   uint32
}

func (s *store) snapshotLocked() *Snapshot {
	h := s.hdr
	snap := &Snapshot{
		Name:           cString(h.name[:]),
		InstanceID:     uuid.UUID(h.instanceID),
		Version:        h.version,
		DataSize:       s.size,
		AlignBytes:     h.alignBytes,
		AlignKind:      FrameKind(h.alignKind),
		Persistent:     h.persistent(),
		Video:          h.video(),
		DataWritten:    h.dataWritten != 0,
		ContiBytes:     h.contiBytes,
		FrameCount:     h.frameCount,
		LockRecoveries: atomic.LoadUint32(&h.lockRecoveries),
		CommitSeq:      atomic.LoadUint32(&h.commitSeq),
		HolesCreated:   h.holesCreated,
		HolesExpired:   h.holesExpired,
		WriterIndex:    h.writer.index,
		WriterOff:      h.writer.offset,
	}
	if h.writer.inUse() {
		info := s.slotInfo(-1, &h.writer)
		snap.Writer = &info
	}
	for i := range h.readers {
		if r := &h.readers[i]; r.inUse() {
			snap.Readers = append(snap.Readers, s.slotInfo(i, r))
		}
	}
	for i := 0; i < int(h.holeCount); i++ {
		hole := &h.holes[i]
		snap.Holes = append(snap.Holes, HoleInfo{
			Owner:   hole.ownerString(),
			Start:   hole.start,
			End:     hole.end,
			Created: hole.created,
		})
	}

	snap.OldestIndex = s.oldestValidLocked()
	for idx := snap.OldestIndex; idx != h.writer.index; idx = advanceIndex(idx, 1) {
		snap.Frames = append(snap.Frames, frameInfo(idx, &h.frames[idx]))
	}
	return snap
}

func (s *store) slotInfo(i int, sl *slot) SlotInfo {
	w := &s.hdr.writer
	info := SlotInfo{
		Slot:        i,
		Name:        sl.nameString(),
		PID:         sl.pid,
		Capability:  Capability(sl.capability),
		State:       sl.slotState(),
		Index:       sl.index,
		Offset:      sl.offset,
		Moved:       sl.moved(),
		WaitKey:     sl.waitKey(),
		RequestTime: sl.requestTime,
		Reserved:    sl.reserved,
		Counters: Counters{
			Installs:              sl.installs,
			Requests:              sl.requests,
			Commits:               sl.commits,
			Discards:              sl.discards,
			Seeks:                 sl.seeks,
			Blockings:             sl.blockings,
			Relocations:           sl.relocations,
			CommitsWithoutRequest: sl.commitsWithoutRequest,
			RequestsWithoutCommit: sl.requestsWithoutCommit,
			Bytes:                 sl.bytes,
		},
	}
	if i >= 0 {
		info.Writable = s.writable(sl.offset, w.offset)
		info.Readable = s.bufferLen(sl.offset, w.offset)
	}
	return info
}

// Snapshot copies the store's metadata under the shared lock.
func (h *Handle) Snapshot() (*Snapshot, error) {
	if h.closed {
		return nil, ErrClosed
	}
	g := h.lock()
	defer g.unlock()
	return h.snapshotLocked(), nil
}

// Inspector observes a store without occupying a slot. It never creates a
// store and maps the data area read-only.
type Inspector struct {
	*store
	bk *backing
	lk *sharedLock
}

// Inspect attaches an observer to an existing store.
func Inspect(name, dir string, logger *zerolog.Logger) (*Inspector, error) {
	if err := validateName("store", name); err != nil {
		return nil, err
	}
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	log = log.With().Str("store", name).Str("participant", "inspector").Logger()

	st, bk, lk, err := attach(StorePath(dir, name), 0, false, false, &log,
		func(*store, bool) error { return nil })
	if err != nil {
		return nil, err
	}
	return &Inspector{store: st, bk: bk, lk: lk}, nil
}

// Snapshot copies the store's metadata under the shared lock.
func (in *Inspector) Snapshot() *Snapshot {
	g := in.lk.acquire()
	defer g.unlock()
	return in.snapshotLocked()
}

// ReadFrame copies the bytes of a valid index entry.
func (in *Inspector) ReadFrame(idx uint32) ([]byte, error) {
	if idx >= MaxFrames {
		return nil, fmt.Errorf("index %d: %w", idx, ErrInvalidParam)
	}
	g := in.lk.acquire()
	defer g.unlock()
	oldest := in.oldestValidLocked()
	if in.hdr.dataWritten == 0 || indexDistance(oldest, idx) >= indexDistance(oldest, in.hdr.writer.index) {
		return nil, fmt.Errorf("index %d outside the valid window: %w", idx, ErrNoIndex)
	}
	e := &in.hdr.frames[idx]
	return append([]byte(nil), in.view(e.offset, e.length)...), nil
}

// Reclaim frees the slots, and the black holes, of participants whose
// process has exited. It returns the names it freed. A non-persistent store
// left without participants has its backing file removed, as the last
// Close would have done.
func (in *Inspector) Reclaim() ([]string, error) {
	g := in.lk.acquire()
	defer g.unlock()

	var freed []string
	if w := &in.hdr.writer; w.inUse() && !processAlive(w.pid) {
		freed = append(freed, w.nameString())
		in.releaseWriterLocked()
	}
	for i := range in.hdr.readers {
		r := &in.hdr.readers[i]
		if r.inUse() && !processAlive(r.pid) {
			freed = append(freed, r.nameString())
			in.releaseReaderLocked(i)
		}
	}
	for _, name := range freed {
		in.log.Info().Str("stale", name).Msg("reclaimed slot")
	}
	if len(freed) == 0 || in.hdr.persistent() || in.participantsLocked() != 0 {
		return freed, nil
	}
	if err := os.Remove(in.bk.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return freed, fmt.Errorf("failed to remove abandoned store file: %w", err)
	}
	in.log.Info().Str("path", in.bk.path).Msg("removed abandoned store file")
	return freed, nil
}

// Close detaches the observer.
func (in *Inspector) Close() error {
	if in.bk == nil {
		return nil
	}
	err := in.bk.close()
	in.bk = nil
	return err
}
