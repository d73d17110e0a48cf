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

// Package media frames encoder output for the frame ring store. Every
// stored frame is a fixed header followed by the encoded payload.
package media

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

// Header layout (48 bytes, little-endian):
//
//	[2]byte magic       // "FM"
//	uint8   version     // headerVersion
//	uint8   type        // MediaType
//	uint8   streamID    // 0 main stream, 1 sub stream
//	uint8   codec       // video Codec or audio AudioFormat
//	uint8   frameType   // video VideoFrameType or audio channel count
//	uint8   bits        // audio sample width, zero for video
//	uint16  width       // video only; audio: low half of the sample rate
//	uint16  height      // video only; audio: high half of the sample rate
//	uint32  length      // payload length, header excluded
//	uint64  frameIndex  // encoder frame counter
//	int64   timestamp   // device clock, microseconds
//	int64   wallTime    // wall clock, Unix microseconds
//	int64   writeTime   // wall clock at store write, Unix milliseconds
const HeaderSize = 48

const (
	headerMagic   = "FM"
	headerVersion = 1
)

// ErrMalformed is returned for frames that do not carry a valid header.
var ErrMalformed = errors.New("media: malformed frame")

// MediaType is the kind of stream a frame belongs to.
type MediaType uint8

const (
	MediaVideo MediaType = 0
	MediaAudio MediaType = 1
)

func (t MediaType) String() string {
	switch t {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	}
	return fmt.Sprintf("MediaType(%d)", uint8(t))
}

// VideoFrameType is the encoder's picture type.
type VideoFrameType uint8

const (
	VideoMJPEG    VideoFrameType = 0
	VideoIDR      VideoFrameType = 1
	VideoI        VideoFrameType = 2
	VideoP        VideoFrameType = 3
	VideoB        VideoFrameType = 4
	VideoFastSeek VideoFrameType = 5
	VideoEnd      VideoFrameType = 7
)

// Codec is the video encoding.
type Codec uint8

const (
	CodecH265  Codec = 0
	CodecH264  Codec = 1
	CodecMJPEG Codec = 2
)

// AudioFormat is the audio encoding.
type AudioFormat uint8

const (
	AudioPCM   AudioFormat = 0
	AudioAAC   AudioFormat = 1
	AudioG711A AudioFormat = 2
)

// VideoInfo is the video part of a Header.
type VideoInfo struct {
	Width     uint16
	Height    uint16
	FrameType VideoFrameType
	Codec     Codec
}

// AudioInfo is the audio part of a Header.
type AudioInfo struct {
	Format     AudioFormat
	Channels   uint8
	Bits       uint8
	SampleRate uint32
}

// Header describes one encoded frame.
type Header struct {
	Type          MediaType
	StreamID      uint8
	Length        uint32
	FrameIndex    uint64
	Timestamp     int64
	WallTimestamp int64
	WriteTime     int64
	Video         VideoInfo // valid when Type is MediaVideo
	Audio         AudioInfo // valid when Type is MediaAudio
}

// Kind is the store frame kind a frame with this header is committed as.
func (h Header) Kind() ringbuf.FrameKind {
	if h.Type == MediaAudio {
		return ringbuf.FrameAudio
	}
	switch h.Video.FrameType {
	case VideoIDR, VideoI:
		return ringbuf.FrameKey
	case VideoMJPEG:
		return ringbuf.FrameJPEG
	case VideoFastSeek:
		return ringbuf.FrameSeek
	case VideoEnd:
		return ringbuf.FrameEnd
	}
	return ringbuf.FrameNonKey
}

func encodeHeaderTo(dst *[HeaderSize]byte, h Header) {
	b := dst[:]
	copy(b[0:2], headerMagic)
	b[2] = headerVersion
	b[3] = byte(h.Type)
	b[4] = h.StreamID
	switch h.Type {
	case MediaAudio:
		b[5] = byte(h.Audio.Format)
		b[6] = h.Audio.Channels
		b[7] = h.Audio.Bits
		binary.LittleEndian.PutUint32(b[8:12], h.Audio.SampleRate)
	default:
		b[5] = byte(h.Video.Codec)
		b[6] = byte(h.Video.FrameType)
		b[7] = 0
		binary.LittleEndian.PutUint16(b[8:10], h.Video.Width)
		binary.LittleEndian.PutUint16(b[10:12], h.Video.Height)
	}
	binary.LittleEndian.PutUint32(b[12:16], h.Length)
	binary.LittleEndian.PutUint64(b[16:24], h.FrameIndex)
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.Timestamp))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.WallTimestamp))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.WriteTime))
}

// DecodeHeader parses the header at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header of %d bytes: %w", len(b), ErrMalformed)
	}
	if string(b[0:2]) != headerMagic {
		return Header{}, fmt.Errorf("bad magic %q: %w", b[0:2], ErrMalformed)
	}
	if b[2] != headerVersion {
		return Header{}, fmt.Errorf("unsupported header version %d: %w", b[2], ErrMalformed)
	}
	var h Header
	h.Type = MediaType(b[3])
	h.StreamID = b[4]
	switch h.Type {
	case MediaVideo:
		h.Video.Codec = Codec(b[5])
		h.Video.FrameType = VideoFrameType(b[6])
		h.Video.Width = binary.LittleEndian.Uint16(b[8:10])
		h.Video.Height = binary.LittleEndian.Uint16(b[10:12])
	case MediaAudio:
		h.Audio.Format = AudioFormat(b[5])
		h.Audio.Channels = b[6]
		h.Audio.Bits = b[7]
		h.Audio.SampleRate = binary.LittleEndian.Uint32(b[8:12])
	default:
		return Header{}, fmt.Errorf("media type %d: %w", b[3], ErrMalformed)
	}
	h.Length = binary.LittleEndian.Uint32(b[12:16])
	h.FrameIndex = binary.LittleEndian.Uint64(b[16:24])
	h.Timestamp = int64(binary.LittleEndian.Uint64(b[24:32]))
	h.WallTimestamp = int64(binary.LittleEndian.Uint64(b[32:40]))
	h.WriteTime = int64(binary.LittleEndian.Uint64(b[40:48]))
	if uint64(h.Length) > uint64(len(b)-HeaderSize) {
		return Header{}, fmt.Errorf("payload length %d exceeds frame of %d bytes: %w", h.Length, len(b), ErrMalformed)
	}
	return h, nil
}

// StoreName is the store a device channel publishes one media type on.
func StoreName(device string, channel int, t MediaType) string {
	return fmt.Sprintf("%s_%d_%d", device, channel, uint8(t))
}
