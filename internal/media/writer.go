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

package media

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

var now = time.Now

// Writer publishes encoded frames to a store. Video frames are committed
// with their wall timestamp so readers can seek by time; audio frames carry
// no store timestamp.
type Writer struct {
	h      *ringbuf.Handle
	mode   ringbuf.WriteMode
	log    zerolog.Logger
	frames uint64
}

// OpenWriter attaches cfg.Participant as the writer of cfg.Store.
func OpenWriter(cfg ringbuf.Config) (*Writer, error) {
	cfg.Capability = ringbuf.Writer
	h, err := ringbuf.Open(cfg)
	if err != nil {
		return nil, err
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Writer{
		h:    h,
		mode: cfg.WriteMode,
		log:  log.With().Str("store", cfg.Store).Logger(),
	}, nil
}

// WriteVideo stores one video frame. A zero WallTimestamp is replaced by
// the current time.
func (w *Writer) WriteVideo(h Header, payload []byte) error {
	h.Type = MediaVideo
	return w.write(h, payload)
}

// WriteAudio stores one audio frame. A zero WallTimestamp is replaced by
// the current time.
func (w *Writer) WriteAudio(h Header, payload []byte) error {
	h.Type = MediaAudio
	return w.write(h, payload)
}

func (w *Writer) write(h Header, payload []byte) error {
	t := now()
	if h.WallTimestamp == 0 {
		h.WallTimestamp = t.UnixMicro()
	}
	h.WriteTime = t.UnixMilli()
	h.Length = uint32(len(payload))
	kind := h.Kind()
	var stamp int64
	if h.Type == MediaVideo {
		stamp = h.WallTimestamp
	}

	buf, err := w.h.AcquireWriteSpace(HeaderSize+len(payload), kind, w.mode)
	if err != nil {
		return fmt.Errorf("media: reserve %v frame of %d bytes: %w", kind, len(payload), err)
	}
	encodeHeaderTo((*[HeaderSize]byte)(buf[:HeaderSize]), h)
	copy(buf[HeaderSize:], payload)
	if _, err := w.h.CommitWrite(ringbuf.CommitAll, stamp); err != nil {
		return fmt.Errorf("media: commit: %w", err)
	}
	w.frames++
	if kind == ringbuf.FrameKey {
		w.log.Debug().Uint64("frame", h.FrameIndex).Int("bytes", len(payload)).Msg("key frame written")
	}
	return nil
}

// Frames is the number of frames written through w.
func (w *Writer) Frames() uint64 { return w.frames }

// Handle exposes the underlying store attachment.
func (w *Writer) Handle() *ringbuf.Handle { return w.h }

// Close detaches the writer.
func (w *Writer) Close() error {
	w.log.Info().Uint64("frames", w.frames).Msg("media writer closed")
	return w.h.Close()
}
