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
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/media"
	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

// dumpRecord is one frame in a dump stream. Frames carrying a media header
// have it decoded into Media, and Data holds only the payload.
type dumpRecord struct {
	Index     uint32       `msgpack:"index"`
	Kind      string       `msgpack:"kind"`
	Timestamp int64        `msgpack:"ts"`
	Media     *mediaRecord `msgpack:"media,omitempty"`
	Data      []byte       `msgpack:"data"`
}

type mediaRecord struct {
	Type       string `msgpack:"type"`
	StreamID   uint8  `msgpack:"stream"`
	FrameIndex uint64 `msgpack:"frame"`
	DeviceTime int64  `msgpack:"device_ts"`
	WallTime   int64  `msgpack:"wall_ts"`
	Width      uint16 `msgpack:"width,omitempty"`
	Height     uint16 `msgpack:"height,omitempty"`
	FrameType  uint8  `msgpack:"frame_type"`
	Codec      uint8  `msgpack:"codec"`
	Channels   uint8  `msgpack:"channels,omitempty"`
	Bits       uint8  `msgpack:"bits,omitempty"`
	SampleRate uint32 `msgpack:"rate,omitempty"`
}

func newDumpRecord(f ringbuf.Frame) dumpRecord {
	rec := dumpRecord{Index: f.Index, Kind: f.Kind.String(), Timestamp: f.Timestamp, Data: f.Data}
	h, err := media.DecodeHeader(f.Data)
	if err != nil {
		return rec
	}
	mr := &mediaRecord{
		Type:       h.Type.String(),
		StreamID:   h.StreamID,
		FrameIndex: h.FrameIndex,
		DeviceTime: h.Timestamp,
		WallTime:   h.WallTimestamp,
	}
	switch h.Type {
	case media.MediaVideo:
		mr.Width, mr.Height = h.Video.Width, h.Video.Height
		mr.FrameType, mr.Codec = uint8(h.Video.FrameType), uint8(h.Video.Codec)
	case media.MediaAudio:
		mr.Codec = uint8(h.Audio.Format)
		mr.Channels, mr.Bits, mr.SampleRate = h.Audio.Channels, h.Audio.Bits, h.Audio.SampleRate
	}
	rec.Media = mr
	rec.Data = f.Data[media.HeaderSize : media.HeaderSize+int(h.Length)]
	return rec
}

type dumpOptions struct {
	kind   ringbuf.FrameKind
	limit  int  // 0 for no limit
	follow bool // wait for new frames instead of stopping at the writer
}

// dumpFrames encodes frames from h until the writer is reached, the limit
// is hit, or ctx is done while following. It returns the records written.
func dumpFrames(ctx context.Context, h *ringbuf.Handle, enc *msgpack.Encoder, opts dumpOptions) (int, error) {
	n := 0
	for opts.limit <= 0 || n < opts.limit {
		var (
			f   ringbuf.Frame
			err error
		)
		if opts.follow {
			f, err = h.NextFrame(ctx, opts.kind)
			if ctx.Err() != nil {
				return n, nil
			}
		} else {
			f, err = h.AcquireNextFrame(opts.kind)
			if errors.Is(err, ringbuf.ErrNoIndex) {
				return n, nil
			}
		}
		if err != nil {
			return n, err
		}
		if err := enc.Encode(newDumpRecord(f)); err != nil {
			return n, fmt.Errorf("failed to encode frame %d: %w", f.Index, err)
		}
		if err := h.CommitRead(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func runDump(a *app, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	out := fs.String("o", "-", "output file, - for stdout")
	kindName := fs.String("kind", "any", "frame kind to dump")
	limit := fs.Int("n", 0, "stop after this many frames")
	follow := fs.Bool("follow", false, "keep waiting for new frames")
	participant := fs.String("name", fmt.Sprintf("dump-%d", os.Getpid()), "participant name")
	rest, err := subcommand(fs, args, 1)
	if err != nil {
		return err
	}
	kind, err := ringbuf.ParseFrameKind(*kindName)
	if err != nil {
		return err
	}
	store := rest[0]
	if !ringbuf.StoreExists(a.cfg.Dir, store) {
		return fmt.Errorf("store %q does not exist", store)
	}

	var w io.Writer = os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)

	h, err := ringbuf.Open(a.cfg.Ring(a.cfg.Store(store), *participant, ringbuf.Dumper, &a.log))
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	n, err := dumpFrames(ctx, h, msgpack.NewEncoder(bw), dumpOptions{kind: kind, limit: *limit, follow: *follow})
	a.log.Info().Int("frames", n).Str("store", store).Msg("dump finished")
	return errors.Join(err, bw.Flush())
}
