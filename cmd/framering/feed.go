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
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/media"
	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

// syntheticStream produces the frames of an H.264 stream with a fixed GOP.
type syntheticStream struct {
	gop     int
	keySize int
	next    uint64
	start   time.Time
}

func (s *syntheticStream) frame(at time.Time) (media.Header, []byte) {
	idx := s.next
	s.next++
	ft, size := media.VideoP, max(s.keySize/4, 1)
	if idx%uint64(s.gop) == 0 {
		ft, size = media.VideoIDR, s.keySize
	}
	h := media.Header{
		FrameIndex: idx,
		Timestamp:  at.Sub(s.start).Microseconds(),
		Video:      media.VideoInfo{Width: 1280, Height: 720, FrameType: ft, Codec: media.CodecH264},
	}
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(idx) + byte(i)
	}
	return h, payload
}

// audioFrame is 20ms of silent 8kHz G.711 A-law.
func audioFrame(idx uint64, deviceTime int64) (media.Header, []byte) {
	h := media.Header{
		FrameIndex: idx,
		Timestamp:  deviceTime,
		Audio:      media.AudioInfo{Format: media.AudioG711A, Channels: 1, Bits: 8, SampleRate: 8000},
	}
	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = 0xD5
	}
	return h, payload
}

func runFeed(a *app, args []string) error {
	fs := flag.NewFlagSet("feed", flag.ContinueOnError)
	channel := fs.Int("channel", 0, "device channel")
	fps := fs.Int("fps", 25, "video frames per second")
	gop := fs.Int("gop", 50, "frames per key frame interval")
	frames := fs.Int("frames", 0, "stop after this many video frames, 0 to run until interrupted")
	keySize := fs.Int("size", 32<<10, "key frame size in bytes; other frames are a quarter of it")
	audio := fs.Bool("audio", false, "also publish an audio store")
	rest, err := subcommand(fs, args, 1)
	if err != nil {
		return err
	}
	if *fps <= 0 || *gop <= 0 || *keySize <= 0 {
		return fmt.Errorf("feed: fps, gop and size must be positive")
	}
	device := rest[0]
	participant := fmt.Sprintf("feed-%d", os.Getpid())

	videoStore := a.cfg.Store(media.StoreName(device, *channel, media.MediaVideo))
	vw, err := media.OpenWriter(a.cfg.Ring(videoStore, participant, ringbuf.Writer, &a.log))
	if err != nil {
		return err
	}
	defer vw.Close()

	var aw *media.Writer
	if *audio {
		audioStore := a.cfg.Store(media.StoreName(device, *channel, media.MediaAudio))
		aw, err = media.OpenWriter(a.cfg.Ring(audioStore, participant, ringbuf.Writer, &a.log))
		if err != nil {
			return err
		}
		defer aw.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream := &syntheticStream{
		gop:     *gop,
		keySize: *keySize,
		start:   time.Now(),
	}
	ticker := time.NewTicker(time.Second / time.Duration(*fps))
	defer ticker.Stop()
	a.log.Info().Str("store", videoStore.Name).Int("fps", *fps).Bool("audio", *audio).Msg("feeding")

	for *frames <= 0 || stream.next < uint64(*frames) {
		select {
		case <-ctx.Done():
			return nil
		case at := <-ticker.C:
			h, payload := stream.frame(at)
			if err := vw.WriteVideo(h, payload); err != nil {
				return err
			}
			if aw != nil {
				ah, ap := audioFrame(h.FrameIndex, h.Timestamp)
				if err := aw.WriteAudio(ah, ap); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
