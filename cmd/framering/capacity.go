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

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

const (
	probeStore  = "capacity-probe"
	probeReader = "probe-reader"
	probeChunk  = 1000
)

type sizeResult struct {
	Size int
	Err  error
}

// capacityReport is what probeCapacity learned about a scratch store.
type capacityReport struct {
	DataSize int
	Single   []sizeResult
	// Filled is how far the writer got while the reader stood still.
	FilledFrames int
	FilledBytes  int
	Blocked      *ringbuf.BlockedError
}

// probeCapacity creates a scratch store in dir, writes frames of growing
// size that a reader consumes, then fills the store behind a reader that
// does not read until the writer is blocked.
func probeCapacity(dir string, capacity int, log *zerolog.Logger) (*capacityReport, error) {
	cfg := ringbuf.Config{
		Participant: "probe-writer",
		Store:       probeStore,
		Capacity:    capacity,
		Capability:  ringbuf.Writer,
		Dir:         dir,
		WriteMode:   ringbuf.WriteHard,
		Logger:      log,
	}
	w, err := ringbuf.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer w.Close()
	rcfg := cfg
	rcfg.Participant, rcfg.Capability = probeReader, ringbuf.Reader
	r, err := ringbuf.Open(rcfg)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rep := &capacityReport{DataSize: w.BufferSize()}
	sizes := []int{10, 100, 1000, 10000, rep.DataSize / 2, rep.DataSize}
	for _, size := range sizes {
		err := w.WriteFrame(make([]byte, size), ringbuf.FrameKey, 0)
		rep.Single = append(rep.Single, sizeResult{Size: size, Err: err})
		if err != nil {
			continue
		}
		if _, err := r.AcquireNextFrame(ringbuf.FrameAny); err != nil {
			return nil, fmt.Errorf("read back %d bytes: %w", size, err)
		}
		if err := r.CommitRead(); err != nil {
			return nil, err
		}
	}

	chunk := make([]byte, probeChunk)
	for i := 0; i < ringbuf.MaxFrames; i++ {
		err := w.WriteFrame(chunk, ringbuf.FrameNonKey, 0)
		if errors.As(err, &rep.Blocked) {
			break
		}
		if err != nil {
			return nil, err
		}
		rep.FilledFrames++
		rep.FilledBytes += probeChunk
	}
	return rep, nil
}

func runCapacity(a *app, args []string) error {
	fs := flag.NewFlagSet("capacity", flag.ContinueOnError)
	capacity := fs.Int("capacity", 65536, "requested data area size")
	if _, err := subcommand(fs, args, 0); err != nil {
		return err
	}
	dir, err := os.MkdirTemp("", "framering-capacity")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	rep, err := probeCapacity(dir, *capacity, &a.log)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", titleStyle.Render("Store capacity"))
	fmt.Printf("Requested capacity: %d bytes\n", *capacity)
	fmt.Printf("Data area size: %d bytes\n", rep.DataSize)

	fmt.Printf("%s\n", sectionStyle.Render("Single writes"))
	for _, s := range rep.Single {
		if s.Err != nil {
			fmt.Printf("Size %d bytes: %s (%v)\n", s.Size, warnStyle.Render("FAIL"), s.Err)
		} else {
			fmt.Printf("Size %d bytes: OK\n", s.Size)
		}
	}

	fmt.Printf("%s\n", sectionStyle.Render("Backpressure"))
	fmt.Printf("Written %d bytes (%d chunks of %d) behind a stalled reader\n", rep.FilledBytes, rep.FilledFrames, probeChunk)
	if rep.Blocked != nil {
		fmt.Printf("Writer blocked: %v\n", rep.Blocked)
	}
	return nil
}
