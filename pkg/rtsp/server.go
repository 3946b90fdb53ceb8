package rtsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethan/rtsp-cam-server/pkg/logger"
	camrtcp "github.com/ethan/rtsp-cam-server/pkg/rtcp"
	"github.com/ethan/rtsp-cam-server/pkg/stream"
)

// Config is the RTSP server's runtime configuration, mirroring the config
// surface's rtsp_* fields.
type Config struct {
	Listen         string
	Port           int
	ServerName     string
	Username       string
	Password       string
	SessionTimeout time.Duration
	ReapInterval   time.Duration

	// Per-connection command rate limit. Zero Rate disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

// AuthEnabled reports whether Basic auth should be enforced.
func (c Config) AuthEnabled() bool {
	return c.Username != "" || c.Password != ""
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}

// Server is the RTSP accept loop and its owned SessionManager.
type Server struct {
	cfg      Config
	registry *stream.Registry
	sessions *SessionManager
	log      *logger.Logger

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer wires a server to the given stream registry. The registry's
// broadcaster is set to the server's own SessionManager.
func NewServer(cfg Config, registry *stream.Registry, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "rtsp-cam-server"
	}

	sessions := NewSessionManager(cfg.ServerName, log)
	registry.SetBroadcaster(sessions)

	return &Server{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		log:      log,
	}
}

// Start binds the listening socket and begins accepting clients. Only the
// initial bind failure is returned; per-connection errors are handled and
// logged without propagating.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.addr())
	if err != nil {
		return fmt.Errorf("rtsp: listen %s: %w", s.cfg.addr(), err)
	}
	s.listener = ln
	s.log.Info("rtsp server listening", "addr", s.cfg.addr())

	go s.sessions.RunReaper(ctx, s.cfg.ReapInterval)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

// Stop closes the listening socket, causing acceptLoop to return.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// SessionCount reports live sessions for get_status().
func (s *Server) SessionCount() int {
	return s.sessions.Count()
}

// Addr returns the listener's bound address, valid after Start returns nil.
// Useful when Config.Port is 0 and the kernel assigned the port.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var limiter *rate.Limiter
	if s.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(s.cfg.RateLimit, s.cfg.RateBurst)
	}

	reader := bufio.NewReader(conn)
	cs := &connState{}

	defer func() {
		if cs.session != nil {
			s.sessions.Remove(cs.session.ID)
		}
	}()

	readTimeout := s.cfg.SessionTimeout + 5*time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		req, err := readRequest(reader)
		if err != nil {
			if errors.Is(err, ErrMalformedRequest) {
				s.log.DebugRTSP("malformed request, replying 400", "error", err)
				badResp := NewResponse(StatusBadRequest, req.CSeq)
				var writeErr error
				if cs.session != nil {
					writeErr = cs.session.WriteResponse(badResp, s.cfg.ServerName)
				} else {
					writeErr = writeResponse(conn, badResp, s.cfg.ServerName)
				}
				if writeErr != nil {
					s.log.DebugRTSP("write response failed", "error", writeErr)
					return
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				s.log.DebugSession("client disconnected", "conn", conn.RemoteAddr())
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if cs.session != nil && cs.session.Expired(time.Now()) {
					return
				}
				continue
			}
			s.log.DebugRTSP("malformed request, closing connection", "error", err)
			return
		}

		s.log.DebugRTSP("request", "method", req.Method, "url", req.URL)

		resp := s.dispatch(conn, cs, req)
		if resp.StatusCode == StatusOK && cs.session != nil {
			cs.session.Touch()
		}

		var writeErr error
		if cs.session != nil {
			writeErr = cs.session.WriteResponse(resp, s.cfg.ServerName)
		} else {
			writeErr = writeResponse(conn, resp, s.cfg.ServerName)
		}
		if writeErr != nil {
			s.log.DebugRTSP("write response failed", "error", writeErr)
			return
		}
	}
}

// startSenderReportLoop begins the per-session Sender Report cadence (at
// least once per 5s per active channel) the first time a session starts
// PLAYING.
func (s *Server) startSenderReportLoop(session *Session) {
	if !session.MarkSenderReportLoopStarted() {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-session.Context().Done():
				return
			case <-ticker.C:
				s.sendSenderReports(session)
			}
		}
	}()
}

func (s *Server) sendSenderReports(session *Session) {
	if !session.IsPlaying() {
		return
	}

	for _, ch := range session.Channels() {
		packets, octets := ch.Counters()
		var ssrc uint32
		var rtpTS uint32
		switch ch.MediaType {
		case MediaVideo:
			if session.VideoPacketizer == nil {
				continue
			}
			ssrc = session.VideoPacketizer.SSRC
			rtpTS = session.VideoPacketizer.NextTimestampHint()
		case MediaAudio:
			if session.AudioPacketizer == nil {
				continue
			}
			ssrc = session.AudioPacketizer.SSRC
		}

		sr := camrtcp.SenderReport(ssrc, time.Now(), rtpTS, uint32(packets), uint32(octets))
		sdes := camrtcp.SourceDescription(ssrc, fmt.Sprintf("%s-%s", s.cfg.ServerName, session.ID))

		buf, err := camrtcp.MarshalCompound(sr, sdes)
		if err != nil {
			s.log.DebugRTCP("marshal SR failed", "session_id", session.ID, "error", err)
			continue
		}

		if ch.Transport == TransportTCP {
			if err := session.WriteInterleaved(ch.RTCPChannelIndex, buf); err != nil {
				s.log.DebugRTCP("send SR failed", "session_id", session.ID, "error", err)
			}
		} else if err := ch.writeRTCPUDP(buf); err != nil {
			s.log.DebugRTCP("send SR failed", "session_id", session.ID, "error", err)
		}
	}
}
