// Package demosource stands in for the real encoder pipeline: it ticks out
// a synthetic H.264 access unit stream (SPS/PPS once, then one IDR followed
// by a run of P-frames) and, optionally, silent PCMU audio, feeding both
// into a stream.Registry the way a camera's actual capture/encode pipeline
// would.
package demosource

import (
	"context"
	"time"

	"github.com/ethan/rtsp-cam-server/pkg/logger"
	"github.com/ethan/rtsp-cam-server/pkg/stream"
)

// Config controls the synthetic feed's cadence and content size.
type Config struct {
	StreamID     string
	Framerate    int // frames/sec, default 15
	GOPSize      int // frames between IDRs, default 30
	AudioEnabled bool
}

// synthetic SPS/PPS for a 640x480 baseline profile stream. Not a real
// encoder output, just enough bytes to exercise the parameter-set capture
// and sprop-parameter-sets path end to end.
var (
	syntheticSPS = []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xe0, 0x1f, 0xd9, 0x00, 0x50, 0x05, 0xba, 0x10}
	syntheticPPS = []byte{0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x38, 0x80}
)

// Source ticks a synthetic access unit stream into a registry until its
// context is canceled.
type Source struct {
	cfg      Config
	registry *stream.Registry
	log      *logger.Logger
}

// New creates a demo source for one registered stream.
func New(cfg Config, registry *stream.Registry, log *logger.Logger) *Source {
	if cfg.Framerate <= 0 {
		cfg.Framerate = 15
	}
	if cfg.GOPSize <= 0 {
		cfg.GOPSize = 30
	}
	if log == nil {
		log = logger.Default()
	}
	return &Source{cfg: cfg, registry: registry, log: log}
}

// Run pushes frames at cfg.Framerate until ctx is canceled.
func (s *Source) Run(ctx context.Context) {
	interval := time.Second / time.Duration(s.cfg.Framerate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var audioTicker *time.Ticker
	var audioChan <-chan time.Time
	if s.cfg.AudioEnabled {
		audioTicker = time.NewTicker(20 * time.Millisecond)
		defer audioTicker.Stop()
		audioChan = audioTicker.C
	}

	s.registry.PushVideo(s.cfg.StreamID, syntheticSPS)
	s.registry.PushVideo(s.cfg.StreamID, syntheticPPS)

	var frameIndex int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registry.PushVideo(s.cfg.StreamID, s.nextFrame(frameIndex))
			frameIndex++
		case <-audioChan:
			s.registry.PushAudio(s.cfg.StreamID, silentPCMUFrame(), false)
		}
	}
}

func (s *Source) nextFrame(index int) []byte {
	if index%s.cfg.GOPSize == 0 {
		return syntheticIDR(index)
	}
	return syntheticPFrame(index)
}

// syntheticIDR returns a minimal IDR slice NAL (type 5), varying length by
// frame index so distinct frames are distinguishable in tests/logs.
func syntheticIDR(index int) []byte {
	nal := []byte{0x00, 0x00, 0x00, 0x01, 0x65}
	return append(nal, fillerBytes(index, 64)...)
}

// syntheticPFrame returns a minimal P-slice NAL (type 1).
func syntheticPFrame(index int) []byte {
	nal := []byte{0x00, 0x00, 0x00, 0x01, 0x41}
	return append(nal, fillerBytes(index, 32)...)
}

func fillerBytes(seed, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((seed + i) % 251)
	}
	return out
}

// silentPCMUFrame returns one 20ms frame (160 samples) of PCMU silence
// (0xFF is the mu-law encoding of zero amplitude).
func silentPCMUFrame() []byte {
	out := make([]byte, 160)
	for i := range out {
		out[i] = 0xff
	}
	return out
}
