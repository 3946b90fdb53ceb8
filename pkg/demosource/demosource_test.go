package demosource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethan/rtsp-cam-server/pkg/stream"
)

type countingBroadcaster struct {
	mu          sync.Mutex
	videoFrames int
	audioFrames int
	paramPushes int
}

func (c *countingBroadcaster) BroadcastVideo(streamID string, accessUnit []byte, timestamp uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoFrames++
}

func (c *countingBroadcaster) BroadcastAudio(streamID string, samples []byte, isAAC bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioFrames++
}

func (c *countingBroadcaster) PushParameterSets(streamID string, sps, pps []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paramPushes++
}

func (c *countingBroadcaster) snapshot() (video, audio, params int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoFrames, c.audioFrames, c.paramPushes
}

func TestSourceRunPushesVideoAndParameterSets(t *testing.T) {
	registry := stream.NewRegistry("127.0.0.1", 8554, nil)
	require.NoError(t, registry.RegisterStream("cam1", &stream.Config{HasVideo: true}))

	fb := &countingBroadcaster{}
	registry.SetBroadcaster(fb)

	src := New(Config{StreamID: "cam1", Framerate: 100, GOPSize: 2}, registry, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	src.Run(ctx)

	video, _, params := fb.snapshot()
	require.Greater(t, video, 0)
	require.Equal(t, 1, params)
}

func TestSourceRunPushesAudioWhenEnabled(t *testing.T) {
	registry := stream.NewRegistry("127.0.0.1", 8554, nil)
	require.NoError(t, registry.RegisterStream("cam1", &stream.Config{HasVideo: true, HasAudio: true}))

	fb := &countingBroadcaster{}
	registry.SetBroadcaster(fb)

	src := New(Config{StreamID: "cam1", Framerate: 100, AudioEnabled: true}, registry, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	src.Run(ctx)

	_, audio, _ := fb.snapshot()
	require.Greater(t, audio, 0)
}

func TestSyntheticFramesVaryByIndex(t *testing.T) {
	a := syntheticPFrame(0)
	b := syntheticPFrame(1)
	require.NotEqual(t, a, b)
}
