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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

// Message is one frame read from a store. Payload aliases the store and is
// only valid until the next Commit.
type Message struct {
	Header
	Index   uint32
	Payload []byte
}

// Reader consumes encoded frames from a store.
type Reader struct {
	h         *ringbuf.Handle
	log       zerolog.Logger
	malformed uint64
}

// OpenReader attaches cfg.Participant as a reader of cfg.Store. A positive
// preRoll starts the reader at the newest key frame written at least
// preRoll ago; otherwise it starts at the newest key frame. The capability
// defaults to ringbuf.Reader.
func OpenReader(cfg ringbuf.Config, preRoll time.Duration) (*Reader, error) {
	if cfg.Capability == 0 {
		cfg.Capability = ringbuf.Reader
	}
	if cfg.Capability == ringbuf.Writer {
		return nil, fmt.Errorf("media: reader opened with writer capability: %w", ringbuf.ErrInvalidParam)
	}
	h, err := ringbuf.Open(cfg)
	if err != nil {
		return nil, err
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	r := &Reader{h: h, log: log.With().Str("store", cfg.Store).Str("reader", cfg.Participant).Logger()}
	if preRoll > 0 {
		if err := r.SeekTo(now().Add(-preRoll)); err != nil && !errors.Is(err, ringbuf.ErrNoIndex) {
			h.Close()
			return nil, err
		}
	}
	return r, nil
}

// Next acquires the next frame of the given kind. A frame without a valid
// header is consumed and reported as ErrMalformed.
func (r *Reader) Next(kind ringbuf.FrameKind) (Message, error) {
	f, err := r.h.AcquireNextFrame(kind)
	if err != nil {
		return Message{}, err
	}
	return r.decode(f)
}

// NextContext is Next that waits for a frame to arrive.
func (r *Reader) NextContext(ctx context.Context, kind ringbuf.FrameKind) (Message, error) {
	f, err := r.h.NextFrame(ctx, kind)
	if err != nil {
		return Message{}, err
	}
	return r.decode(f)
}

func (r *Reader) decode(f ringbuf.Frame) (Message, error) {
	h, err := DecodeHeader(f.Data)
	if err != nil {
		r.malformed++
		r.log.Warn().Err(err).Uint32("index", f.Index).Msg("skipping malformed frame")
		if cerr := r.h.CommitRead(); cerr != nil {
			return Message{}, errors.Join(err, cerr)
		}
		return Message{}, err
	}
	return Message{
		Header:  h,
		Index:   f.Index,
		Payload: f.Data[HeaderSize : HeaderSize+int(h.Length)],
	}, nil
}

// Commit releases the message returned by the last Next.
func (r *Reader) Commit() error {
	return r.h.CommitRead()
}

// SeekTo positions the reader at the newest key frame written at or
// before t, falling back to the oldest frame in the store.
func (r *Reader) SeekTo(t time.Time) error {
	got, err := r.h.SeekToTimestamp(t.UnixMicro())
	if err != nil {
		return err
	}
	r.log.Debug().Time("want", t).Time("got", time.UnixMicro(got)).Msg("seeked")
	return nil
}

// Malformed is the number of frames skipped for a bad header.
func (r *Reader) Malformed() uint64 { return r.malformed }

// Handle exposes the underlying store attachment.
func (r *Reader) Handle() *ringbuf.Handle { return r.h }

// Close detaches the reader.
func (r *Reader) Close() error {
	return r.h.Close()
}
