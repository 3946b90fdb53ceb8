// Package stream is the stream registry: the mapping from stream_id to a
// published StreamConfig, the SPS/PPS capture that lets every IDR decode
// standalone, and the glue that hands pushed media to whatever is currently
// subscribed to it.
package stream

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/ethan/rtsp-cam-server/pkg/logger"
	camrtp "github.com/ethan/rtsp-cam-server/pkg/rtp"
)

// Video/audio codec identifiers. Opaque beyond selecting a packetizing
// strategy and an SDP rtpmap.
const (
	VideoCodecH264 = "H264"
)

const (
	DefaultVideoPayloadType = 96
	DefaultClockRateVideo   = 90000
)

// Config is one published logical stream: its codec metadata plus the most
// recently observed SPS/PPS, mutated in place as new parameter sets arrive.
type Config struct {
	StreamID string
	Name     string

	HasVideo    bool
	HasAudio    bool
	VideoCodec  string
	AudioCodec  string // PCMU, PCMA, AAC
	PayloadTypeV uint8
	PayloadTypeA uint8
	ClockRateV   uint32
	ClockRateA   uint32

	Width     int
	Height    int
	Framerate int

	// Bitrate/Preset are opaque encoder hints carried for status reporting
	// only; the registry never interprets them.
	Bitrate int
	Preset  string

	mu     sync.RWMutex
	spsRaw []byte // Annex-B, with start code
	ppsRaw []byte
}

// SPS returns the last observed SPS, Annex-B form, or nil if none yet.
func (c *Config) SPS() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spsRaw
}

// PPS returns the last observed PPS, Annex-B form, or nil if none yet.
func (c *Config) PPS() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ppsRaw
}

// ParameterSetsBase64 returns the base64 (start-code-stripped) SPS/PPS for
// SDP's sprop-parameter-sets, or empty strings if either is unknown.
func (c *Config) ParameterSetsBase64() (sps, pps string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.spsRaw) == 0 || len(c.ppsRaw) == 0 {
		return "", ""
	}
	return base64.StdEncoding.EncodeToString(stripStartCode(c.spsRaw)),
		base64.StdEncoding.EncodeToString(stripStartCode(c.ppsRaw))
}

func (c *Config) setSPS(nal []byte) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed = len(c.spsRaw) == 0
	c.spsRaw = append([]byte(nil), nal...)
	return changed
}

func (c *Config) setPPS(nal []byte) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed = len(c.ppsRaw) == 0
	c.ppsRaw = append([]byte(nil), nal...)
	return changed
}

func (c *Config) hasParameterSets() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.spsRaw) > 0 && len(c.ppsRaw) > 0
}

func stripStartCode(nal []byte) []byte {
	if len(nal) >= 4 && nal[0] == 0 && nal[1] == 0 && nal[2] == 0 && nal[3] == 1 {
		return nal[4:]
	}
	if len(nal) >= 3 && nal[0] == 0 && nal[1] == 0 && nal[2] == 1 {
		return nal[3:]
	}
	return nal
}

// Broadcaster is the SessionManager's view as seen by the registry: iterate
// PLAYING sessions bound to a stream and hand them produced media. Kept as
// an interface so pkg/stream never imports pkg/rtsp.
type Broadcaster interface {
	BroadcastVideo(streamID string, accessUnit []byte, timestamp uint32)
	BroadcastAudio(streamID string, samples []byte, isAAC bool)
	PushParameterSets(streamID string, sps, pps []byte)
}

// Status summarizes the registry plus server state for the Registration
// API's get_status().
type Status struct {
	Running      bool
	Port         int
	Listen       string
	Streams      []string
	SessionCount int
}

// Registry owns every published stream and forwards pushed media to the
// broadcaster (normally a SessionManager).
type Registry struct {
	mu          sync.RWMutex
	streams     map[string]*Config
	broadcaster Broadcaster
	log         *logger.Logger

	serverHost string
	serverPort int
}

// NewRegistry creates an empty registry. SetBroadcaster must be called
// before any push_* call will reach subscribers.
func NewRegistry(serverHost string, serverPort int, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		streams:    make(map[string]*Config),
		log:        log,
		serverHost: serverHost,
		serverPort: serverPort,
	}
}

// SetBroadcaster wires the session manager that will receive pushed media.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster = b
}

// RegisterStream publishes a new logical stream under stream_id.
func (r *Registry) RegisterStream(streamID string, cfg *Config) error {
	if streamID == "" {
		return fmt.Errorf("stream: empty stream id")
	}
	cfg.StreamID = streamID
	if cfg.PayloadTypeV == 0 && cfg.HasVideo {
		cfg.PayloadTypeV = DefaultVideoPayloadType
	}
	if cfg.ClockRateV == 0 {
		cfg.ClockRateV = DefaultClockRateVideo
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[streamID] = cfg
	r.log.Info("stream registered", "stream_id", streamID, "name", cfg.Name)
	return nil
}

// UnregisterStream removes a published stream.
func (r *Registry) UnregisterStream(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, streamID)
	r.log.Info("stream unregistered", "stream_id", streamID)
}

// Lookup resolves stream_id using the spec's matching rule: exact match on
// the first path segment; failing that, containment of stream_id in a
// registered id or of a registered id in stream_id; failing that, if exactly
// one stream is registered,
// unconditional fallback to it.
func (r *Registry) Lookup(streamID string) (*Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.streams[streamID]; ok {
		return cfg, true
	}

	for id, cfg := range r.streams {
		if containsSegment(id, streamID) || containsSegment(streamID, id) {
			return cfg, true
		}
	}

	if len(r.streams) == 1 {
		for _, cfg := range r.streams {
			return cfg, true
		}
	}

	return nil, false
}

func containsSegment(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m == 0 || m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

// StreamURL builds the public rtsp:// URL for a stream_id.
func (r *Registry) StreamURL(streamID string) string {
	return fmt.Sprintf("rtsp://%s:%d/%s", r.serverHost, r.serverPort, streamID)
}

// Status reports registry + server state for get_status().
func (r *Registry) Status(running bool, sessionCount int) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}

	return Status{
		Running:      running,
		Port:         r.serverPort,
		Listen:       r.serverHost,
		Streams:      ids,
		SessionCount: sessionCount,
	}
}

// PushVideo implements the source pipeline's push_video(stream_id,
// nal_with_start_code). SPS/PPS are captured; IDR frames get SPS+PPS
// prepended so every access unit decodes standalone.
func (r *Registry) PushVideo(streamID string, nalWithStartCode []byte) {
	cfg, ok := r.Lookup(streamID)
	if !ok {
		r.log.DebugSession("push_video: unknown stream", "stream_id", streamID)
		return
	}

	naluType := camrtp.NALUType(stripStartCode(nalWithStartCode))

	switch naluType {
	case camrtp.NALUTypeSPS:
		wasEmpty := cfg.setSPS(nalWithStartCode)
		r.maybePushParameterSets(cfg, wasEmpty)
		return
	case camrtp.NALUTypePPS:
		wasEmpty := cfg.setPPS(nalWithStartCode)
		r.maybePushParameterSets(cfg, wasEmpty)
		return
	}

	payload := nalWithStartCode
	if naluType == camrtp.NALUTypeIFrame {
		sps, pps := cfg.SPS(), cfg.PPS()
		if len(sps) > 0 && len(pps) > 0 {
			merged := make([]byte, 0, len(sps)+len(pps)+len(nalWithStartCode))
			merged = append(merged, sps...)
			merged = append(merged, pps...)
			merged = append(merged, nalWithStartCode...)
			payload = merged
		}
	}

	r.mu.RLock()
	b := r.broadcaster
	r.mu.RUnlock()
	if b == nil {
		return
	}

	b.BroadcastVideo(streamID, payload, rtpTimestampNow())
}

// maybePushParameterSets notifies the broadcaster the first time both SPS
// and PPS become available, so any already-PLAYING session gets them without
// waiting for the next IDR.
func (r *Registry) maybePushParameterSets(cfg *Config, justArrived bool) {
	if !justArrived {
		return
	}
	if !cfg.hasParameterSets() {
		return
	}
	r.mu.RLock()
	b := r.broadcaster
	r.mu.RUnlock()
	if b == nil {
		return
	}
	b.PushParameterSets(cfg.StreamID, cfg.SPS(), cfg.PPS())
}

// PushAudio implements push_audio(stream_id, samples, is_aac).
func (r *Registry) PushAudio(streamID string, samples []byte, isAAC bool) {
	if _, ok := r.Lookup(streamID); !ok {
		r.log.DebugSession("push_audio: unknown stream", "stream_id", streamID)
		return
	}

	r.mu.RLock()
	b := r.broadcaster
	r.mu.RUnlock()
	if b == nil {
		return
	}

	b.BroadcastAudio(streamID, samples, isAAC)
}

// rtpTimestampNow derives a 90kHz RTP timestamp from wall-clock time. PushVideo
// stamps every broadcast access unit with it, and the packetizers use that
// value as the RTP timestamp of the packets they emit.
func rtpTimestampNow() uint32 {
	const clockRate = int64(DefaultClockRateVideo)
	return uint32((time.Now().UnixNano() * clockRate / 1e9) & 0xFFFFFFFF)
}
