package rtsp

import (
	"container/heap"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/rtsp-cam-server/pkg/logger"
	camrtp "github.com/ethan/rtsp-cam-server/pkg/rtp"
)

// SessionManager owns every session, mints session IDs, expires idle ones,
// and is the stream.Broadcaster the registry pushes media through.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	nextID atomic.Uint64

	reaperHeap reaperHeap
	reaperMu   sync.Mutex

	serverName string
	log        *logger.Logger
}

// NewSessionManager creates an empty session table.
func NewSessionManager(serverName string, log *logger.Logger) *SessionManager {
	if log == nil {
		log = logger.Default()
	}
	return &SessionManager{
		sessions:   make(map[string]*Session),
		serverName: serverName,
		log:        log,
	}
}

// CreateSession mints a new numeric session ID and registers it.
func (m *SessionManager) CreateSession(conn net.Conn) *Session {
	id := fmt.Sprintf("%d", m.nextID.Add(1))
	s := NewSession(id, conn.RemoteAddr().String(), conn, m.log)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.reaperMu.Lock()
	heap.Push(&m.reaperHeap, &reaperEntry{session: s, deadline: time.Now().Add(s.Timeout)})
	m.reaperMu.Unlock()

	m.log.DebugSession("session created", "session_id", id, "client", s.ClientAddr)
	return s
}

// Get resolves a session by id.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove destroys a session: closes its channels and drops it from the
// table. Safe to call more than once.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Close()
	m.log.DebugSession("session destroyed", "session_id", id)
}

// Count returns the number of live sessions, for get_status().
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RunReaper periodically expires idle sessions until ctx is canceled. The
// heap is ordered by expected expiry deadline so a tick with few actually-due
// sessions need not scan the whole table; entries that turn out not to be
// expired yet (because an intervening command touched them) are reinserted
// with a refreshed deadline.
func (m *SessionManager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.reapDue(now)
		}
	}
}

func (m *SessionManager) reapDue(now time.Time) {
	m.reaperMu.Lock()
	defer m.reaperMu.Unlock()

	for m.reaperHeap.Len() > 0 {
		top := m.reaperHeap[0]
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&m.reaperHeap)

		if top.session.Expired(now) {
			m.Remove(top.session.ID)
			continue
		}

		// Touched since it was scheduled; reinsert with the refreshed
		// deadline instead of treating this tick as expiry.
		heap.Push(&m.reaperHeap, &reaperEntry{
			session:  top.session,
			deadline: now.Add(top.session.Timeout),
		})
	}
}

// BroadcastVideo implements stream.Broadcaster. It iterates PLAYING sessions
// bound to streamID and feeds accessUnit (already SPS/PPS-prepended for IDR
// by the registry) through each session's H.264 packetizer.
func (m *SessionManager) BroadcastVideo(streamID string, accessUnit []byte, timestamp uint32) {
	for _, s := range m.playingSessionsFor(streamID) {
		ch, ok := s.Channel(0)
		if !ok || s.VideoPacketizer == nil {
			continue
		}

		pkts, err := s.VideoPacketizer.PacketizeFrame(accessUnit, timestamp)
		if err != nil {
			m.log.DebugRTP("video packetize failed", "session_id", s.ID, "error", err)
			continue
		}
		m.sendPackets(s, ch, pkts)
	}
}

// BroadcastAudio implements stream.Broadcaster for audio samples.
func (m *SessionManager) BroadcastAudio(streamID string, samples []byte, isAAC bool) {
	for _, s := range m.playingSessionsFor(streamID) {
		ch, ok := s.Channel(1)
		if !ok || s.AudioPacketizer == nil {
			continue
		}

		var pkts []*camrtp.Packet
		if isAAC {
			pkt, err := s.AudioPacketizer.PacketizeAAC(samples, camrtp.AACSamplesPerFrame)
			if err != nil {
				m.log.DebugRTP("audio packetize failed", "session_id", s.ID, "error", err)
				continue
			}
			pkts = []*camrtp.Packet{pkt}
		} else {
			var err error
			pkts, err = s.AudioPacketizer.PacketizePCM(samples, ch.StartTalkspurt())
			if err != nil {
				m.log.DebugRTP("audio packetize failed", "session_id", s.ID, "error", err)
				continue
			}
		}
		m.sendPackets(s, ch, pkts)
	}
}

// PushParameterSets implements stream.Broadcaster: send one access unit
// containing SPS followed by PPS to every PLAYING session bound to
// streamID, so a session that started PLAYING before parameter sets were
// ever observed gets them as soon as they arrive.
func (m *SessionManager) PushParameterSets(streamID string, sps, pps []byte) {
	for _, s := range m.playingSessionsFor(streamID) {
		m.PushParameterSetsToSession(s, sps, pps)
	}
}

// PushParameterSetsToSession sends one access unit containing SPS followed
// by PPS to a single session, used both by the broadcast path above and
// directly after PLAY when parameter sets are already known.
func (m *SessionManager) PushParameterSetsToSession(s *Session, sps, pps []byte) {
	if len(sps) == 0 || len(pps) == 0 {
		return
	}
	ch, ok := s.Channel(0)
	if !ok || s.VideoPacketizer == nil {
		return
	}

	merged := make([]byte, 0, len(sps)+len(pps))
	merged = append(merged, sps...)
	merged = append(merged, pps...)

	pkts, err := s.VideoPacketizer.PacketizeFrame(merged, s.VideoPacketizer.NextTimestampHint())
	if err != nil {
		m.log.DebugRTP("parameter set push failed", "session_id", s.ID, "error", err)
		return
	}
	m.sendPackets(s, ch, pkts)
}

func (m *SessionManager) playingSessionsFor(streamID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.IsPlaying() && s.StreamID == streamID {
			out = append(out, s)
		}
	}
	return out
}

func (m *SessionManager) sendPackets(s *Session, ch *Channel, pkts []*camrtp.Packet) {
	for _, pkt := range pkts {
		buf, err := pkt.Serialize()
		if err != nil {
			m.log.DebugRTP("serialize failed", "session_id", s.ID, "error", err)
			continue
		}

		if err := m.writeOnChannel(s, ch, buf); err != nil {
			m.log.DebugRTP("send failed", "session_id", s.ID, "error", err)
			continue
		}
		ch.recordSent(len(buf))
	}
}

func (m *SessionManager) writeOnChannel(s *Session, ch *Channel, buf []byte) error {
	if ch.Transport == TransportTCP {
		return s.WriteInterleaved(ch.RTPChannelIndex, buf)
	}
	return ch.writeUDP(buf)
}
