package rtsp

import (
	"fmt"
	"net"
	"sync/atomic"
)

// MediaType distinguishes a channel's track kind.
type MediaType int

const (
	MediaVideo MediaType = iota
	MediaAudio
)

func (m MediaType) String() string {
	if m == MediaAudio {
		return "audio"
	}
	return "video"
}

// Channel is one session's per-track RTP/RTCP endpoint: either a UDP port
// pair or a pair of TCP interleaved channel indices.
type Channel struct {
	TrackID   int
	MediaType MediaType
	Transport TransportMode

	// UDP fields
	ClientIP       net.IP
	ClientRTPPort  int
	ClientRTCPPort int
	ServerRTPPort  int
	ServerRTCPPort int
	rtpConn        *net.UDPConn
	rtcpConn       *net.UDPConn

	// TCP interleaved fields
	RTPChannelIndex  byte
	RTCPChannelIndex byte

	packetsSent  atomic.Uint64
	bytesSent    atomic.Uint64
	talkspurtHot atomic.Bool
}

// Close releases any UDP sockets owned by this channel. A no-op for TCP
// interleaved channels, whose byte stream belongs to the session's
// connection.
func (c *Channel) Close() error {
	if c.rtpConn != nil {
		_ = c.rtpConn.Close()
	}
	if c.rtcpConn != nil {
		_ = c.rtcpConn.Close()
	}
	return nil
}

func (c *Channel) recordSent(n int) {
	c.packetsSent.Add(1)
	c.bytesSent.Add(uint64(n))
}

// Counters returns cumulative packets/bytes sent on this channel, for
// Sender Report construction.
func (c *Channel) Counters() (packets, bytes uint64) {
	return c.packetsSent.Load(), c.bytesSent.Load()
}

// StartTalkspurt reports true exactly once, the first time audio flows on
// this channel, so the caller can set the RTP marker bit on that packet
// only.
func (c *Channel) StartTalkspurt() bool {
	return !c.talkspurtHot.Swap(true)
}

// NewUDPChannel allocates a kernel-assigned local UDP socket for RTP (and
// another for RTCP) and connects it to the client's address, so subsequent
// Write calls need no explicit destination.
func NewUDPChannel(trackID int, media MediaType, clientIP net.IP, clientRTPPort, clientRTCPPort int) (*Channel, error) {
	rtpConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: clientIP, Port: clientRTPPort})
	if err != nil {
		return nil, fmt.Errorf("rtsp: bind RTP socket: %w", err)
	}
	rtcpConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: clientIP, Port: clientRTCPPort})
	if err != nil {
		_ = rtpConn.Close()
		return nil, fmt.Errorf("rtsp: bind RTCP socket: %w", err)
	}

	return &Channel{
		TrackID:        trackID,
		MediaType:      media,
		Transport:      TransportUDP,
		ClientIP:       clientIP,
		ClientRTPPort:  clientRTPPort,
		ClientRTCPPort: clientRTCPPort,
		ServerRTPPort:  rtpConn.LocalAddr().(*net.UDPAddr).Port,
		ServerRTCPPort: rtcpConn.LocalAddr().(*net.UDPAddr).Port,
		rtpConn:        rtpConn,
		rtcpConn:       rtcpConn,
	}, nil
}

// NewTCPChannel records the interleaved channel indices negotiated for this
// track; the actual byte stream is written through the owning session's
// connection.
func NewTCPChannel(trackID int, media MediaType, rtpIdx, rtcpIdx byte) *Channel {
	return &Channel{
		TrackID:          trackID,
		MediaType:        media,
		Transport:        TransportTCP,
		RTPChannelIndex:  rtpIdx,
		RTCPChannelIndex: rtcpIdx,
	}
}

func (c *Channel) writeUDP(buf []byte) error {
	if c.rtpConn == nil {
		return fmt.Errorf("rtsp: channel has no UDP socket")
	}
	_, err := c.rtpConn.Write(buf)
	return err
}

func (c *Channel) writeRTCPUDP(buf []byte) error {
	if c.rtcpConn == nil {
		return fmt.Errorf("rtsp: channel has no RTCP socket")
	}
	_, err := c.rtcpConn.Write(buf)
	return err
}
