package rtsp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/rtsp-cam-server/pkg/logger"
	camrtp "github.com/ethan/rtsp-cam-server/pkg/rtp"
)

// State is the session's place in the INIT -> READY -> PLAYING machine.
type State int

const (
	StateInit State = iota
	StateReady
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StatePlaying:
		return "PLAYING"
	default:
		return "INIT"
	}
}

const DefaultSessionTimeout = 60 * time.Second

// Session is one client's RTSP session: its state, bound stream, per-track
// channels and packetizers, and (for interleaved transport) the serialized
// connection writer.
type Session struct {
	ID         string
	ClientAddr string
	StreamID   string
	Timeout    time.Duration

	conn    net.Conn
	writeMu sync.Mutex

	mu          sync.RWMutex
	state       State
	channels    map[int]*Channel
	lastActive  time.Time

	VideoPacketizer *camrtp.H264Packetizer
	AudioPacketizer *camrtp.AudioPacketizer

	log *logger.Logger

	// heapIndex is set to -1 at creation and not updated; the reaper priority
	// queue tracks positions in reaperEntry.index.
	heapIndex int

	ctx           context.Context
	cancel        context.CancelFunc
	srLoopStarted atomic.Bool
}

// NewSession creates a freshly minted INIT-state session bound to no stream.
func NewSession(id, clientAddr string, conn net.Conn, log *logger.Logger) *Session {
	if log == nil {
		log = logger.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:         id,
		ClientAddr: clientAddr,
		Timeout:    DefaultSessionTimeout,
		conn:       conn,
		state:      StateInit,
		channels:   make(map[int]*Channel),
		lastActive: time.Now(),
		log:        log,
		heapIndex:  -1,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Context is canceled when the session is closed; used to stop per-session
// background loops such as the Sender Report ticker.
func (s *Session) Context() context.Context {
	return s.ctx
}

// MarkSenderReportLoopStarted reports true exactly once, so the server
// starts at most one Sender Report goroutine per session regardless of how
// many times PLAY is issued.
func (s *Session) MarkSenderReportLoopStarted() bool {
	return !s.srLoopStarted.Swap(true)
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Touch refreshes the last-activity timestamp, as every successful command
// does.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// IdleFor reports how long the session has gone without a refreshing
// command.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastActive)
}

// Expired reports whether the session has been idle longer than its
// configured timeout.
func (s *Session) Expired(now time.Time) bool {
	return s.IdleFor(now) > s.Timeout
}

// BindStream records the stream this session was SETUP against. A session
// may be bound to at most one stream_id.
func (s *Session) BindStream(streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StreamID != "" && s.StreamID != streamID {
		return fmt.Errorf("rtsp: session %s already bound to stream %s", s.ID, s.StreamID)
	}
	s.StreamID = streamID
	return nil
}

// Setup registers a track's channel and transitions INIT/READY -> READY.
func (s *Session) Setup(trackID int, ch *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInit && s.state != StateReady {
		return fmt.Errorf("rtsp: SETUP invalid in state %s", s.state)
	}

	s.channels[trackID] = ch
	s.state = StateReady
	s.lastActive = time.Now()
	return nil
}

// Play transitions READY/PLAYING -> PLAYING. At least one channel must be
// configured.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.channels) == 0 {
		return fmt.Errorf("rtsp: PLAY requires at least one configured channel")
	}
	if s.state != StateReady && s.state != StatePlaying {
		return fmt.Errorf("rtsp: PLAY invalid in state %s", s.state)
	}

	s.state = StatePlaying
	s.lastActive = time.Now()
	return nil
}

// Pause transitions PLAYING -> READY. Packetizer sequence/timestamp state
// is untouched so playback resumes seamlessly.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return fmt.Errorf("rtsp: PAUSE invalid in state %s", s.state)
	}
	s.state = StateReady
	s.lastActive = time.Now()
	return nil
}

// Channel returns the channel bound to trackID, if any.
func (s *Session) Channel(trackID int) (*Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[trackID]
	return ch, ok
}

// Channels returns a snapshot of all configured channels.
func (s *Session) Channels() []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// IsPlaying reports whether the session is currently PLAYING.
func (s *Session) IsPlaying() bool {
	return s.State() == StatePlaying
}

// Close tears the session down: closes UDP channel sockets. The TCP command
// connection itself is closed by the handler loop that owns it.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		_ = ch.Close()
	}
	s.channels = make(map[int]*Channel)
}

// WriteResponse serializes and writes an RTSP response on the session's
// connection, serialized against interleaved RTP/RTCP writes so that
// '$'-framed chunks and response text never interleave mid-write.
func (s *Session) WriteResponse(resp *Response, serverName string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeResponse(s.conn, resp, serverName)
}

// WriteInterleaved writes a '$'-framed RTP or RTCP chunk on the session's
// TCP connection, serialized against RTSP response writes.
func (s *Session) WriteInterleaved(channelIndex byte, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	frame := interleavedFrame(channelIndex, data)
	_, err := s.conn.Write(frame)
	return err
}
