//go:build linux

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
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapping is a header view followed by the data area mapped twice, so any
// run of up to dataSize bytes starting inside the data area is contiguous.
//
//	[ header | data | data (mirror) ]
type mapping struct {
	base     unsafe.Pointer
	length   uintptr
	hdrSpan  uintptr
	dataSize uintptr
}

// mapRegion reserves address space for the whole layout and then maps the
// file views over it with MAP_FIXED.
func mapRegion(fd int, hdrSpan, dataSize uintptr, writableData bool) (mapping, error) {
	total := hdrSpan + 2*dataSize
	base, err := unix.MmapPtr(-1, 0, nil, total, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return mapping{}, fmt.Errorf("reserve %d bytes: %w", total, err)
	}
	m := mapping{base: base, length: total, hdrSpan: hdrSpan, dataSize: dataSize}

	rw := unix.PROT_READ | unix.PROT_WRITE
	dataProt := unix.PROT_READ
	if writableData {
		dataProt = rw
	}
	views := []struct {
		addr   unsafe.Pointer
		off    int64
		length uintptr
		prot   int
	}{
		{base, 0, hdrSpan, rw},
		{unsafe.Add(base, hdrSpan), int64(hdrSpan), dataSize, dataProt},
		{unsafe.Add(base, hdrSpan+dataSize), int64(hdrSpan), dataSize, dataProt},
	}
	for _, v := range views {
		if _, err := unix.MmapPtr(fd, v.off, v.addr, v.length, v.prot, unix.MAP_SHARED|unix.MAP_FIXED); err != nil {
			m.unmap()
			return mapping{}, fmt.Errorf("map view at file offset %d: %w", v.off, err)
		}
	}
	return m, nil
}

func (m mapping) header() *storeHeader {
	return (*storeHeader)(m.base)
}

// data returns the mirrored data area, 2*dataSize bytes long.
func (m mapping) data() []byte {
	return unsafe.Slice((*byte)(unsafe.Add(m.base, m.hdrSpan)), 2*m.dataSize)
}

func (m mapping) unmap() error {
	if m.base == nil {
		return nil
	}
	if err := unix.MunmapPtr(m.base, m.length); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}

// flockFile takes or releases the advisory lock on the backing file. The
// kernel drops it when the holder exits, which is what makes the shared
// lock recoverable.
func flockFile(fd int, lock bool) error {
	how := unix.LOCK_UN
	if lock {
		how = unix.LOCK_EX
	}
	for {
		err := unix.Flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// monotonicMillis is the system uptime in milliseconds. It is consistent
// across processes, unlike the Go runtime's monotonic clock.
func monotonicMillis() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano() / 1e6
}

// processAlive reports whether pid still exists.
func processAlive(pid uint32) bool {
	if pid == 0 {
		return false
	}
	err := unix.Kill(int(pid), 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
