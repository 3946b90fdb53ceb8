package rtsp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	camrtp "github.com/ethan/rtsp-cam-server/pkg/rtp"
	camsdp "github.com/ethan/rtsp-cam-server/pkg/sdp"
	"github.com/ethan/rtsp-cam-server/pkg/stream"
)

// connState tracks the single session, if any, bound to one TCP connection.
type connState struct {
	session *Session
}

// dispatch routes one parsed request to its handler and returns the
// response to write back. It never panics on malformed client input.
func (s *Server) dispatch(conn net.Conn, cs *connState, req *Request) *Response {
	switch req.Method {
	case MethodOptions:
		return s.handleOptions(req)
	case MethodDescribe:
		return s.handleDescribe(req)
	case MethodSetup:
		return s.handleSetup(conn, cs, req)
	case MethodPlay:
		return s.handlePlay(cs, req)
	case MethodPause:
		return s.handlePause(cs, req)
	case MethodTeardown:
		return s.handleTeardown(cs, req)
	case MethodGetParameter, MethodSetParameter:
		return s.handleKeepalive(cs, req)
	default:
		return NewResponse(StatusMethodNotAllowed, req.CSeq)
	}
}

func (s *Server) handleOptions(req *Request) *Response {
	resp := NewResponse(StatusOK, req.CSeq)
	resp.Header["Public"] = SupportedMethods
	return resp
}

func (s *Server) handleDescribe(req *Request) *Response {
	if !s.checkAuth(req) {
		return s.unauthorized(req.CSeq)
	}

	streamID := streamIDFromURL(req.URL)
	cfg, ok := s.registry.Lookup(streamID)
	if !ok {
		return NewResponse(StatusNotFound, req.CSeq)
	}

	body, err := s.buildSDP(cfg)
	if err != nil {
		s.log.DebugSDP("sdp generation failed", "stream_id", cfg.StreamID, "error", err)
		return NewResponse(StatusInternalServerError, req.CSeq)
	}

	resp := NewResponse(StatusOK, req.CSeq)
	resp.Header["Content-Type"] = "application/sdp"
	resp.Header["Content-Base"] = req.URL + "/"
	resp.Body = body
	return resp
}

func (s *Server) buildSDP(cfg *stream.Config) ([]byte, error) {
	host := s.cfg.Listen
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	spropSPS, spropPPS := cfg.ParameterSetsBase64()
	var spropParams string
	if spropSPS != "" {
		spropParams = spropSPS + "," + spropPPS
	}

	params := camsdp.Params{
		SessionID:  1,
		SessionVer: 1,
		ServerName: s.cfg.ServerName,
		StreamName: cfg.Name,
		Host:       host,
		Video: &camsdp.VideoParams{
			PayloadType:        cfg.PayloadTypeV,
			ProfileLevelID:     "42e01f",
			SpropParameterSets: spropParams,
			TrackID:            0,
		},
	}

	if cfg.HasAudio {
		params.Audio = &camsdp.AudioParams{
			Codec:       camsdp.AudioCodec(cfg.AudioCodec),
			PayloadType: cfg.PayloadTypeA,
			ClockRate:   cfg.ClockRateA,
			Channels:    1,
			TrackID:     1,
		}
	}

	return camsdp.Generate(params)
}

func (s *Server) handleSetup(conn net.Conn, cs *connState, req *Request) *Response {
	if !s.checkAuth(req) {
		return s.unauthorized(req.CSeq)
	}

	streamID := streamIDFromURL(req.URL)
	cfg, ok := s.registry.Lookup(streamID)
	if !ok {
		return NewResponse(StatusNotFound, req.CSeq)
	}

	trackID, err := trackIDFromURL(req.URL)
	if err != nil {
		return NewResponse(StatusBadRequest, req.CSeq)
	}

	transport, err := ParseTransport(req.Header["Transport"])
	if err != nil {
		if errors.Is(err, ErrUnsupportedTransport) {
			return NewResponse(StatusUnsupportedTransport, req.CSeq)
		}
		return NewResponse(StatusBadRequest, req.CSeq)
	}

	media := MediaVideo
	if trackID == 1 {
		media = MediaAudio
	}
	if media == MediaAudio && !cfg.HasAudio {
		return NewResponse(StatusUnsupportedTransport, req.CSeq)
	}

	session, resp := s.resolveOrCreateSession(conn, cs, req)
	if resp != nil {
		return resp
	}

	if err := session.BindStream(cfg.StreamID); err != nil {
		return NewResponse(StatusBadRequest, req.CSeq)
	}

	var ch *Channel
	if transport.Mode == TransportTCP {
		ch = NewTCPChannel(trackID, media, byte(transport.InterleavedLow), byte(transport.InterleavedHigh))
		transport.ServerPortLow, transport.ServerPortHigh = 0, 0
	} else {
		host, _, splitErr := net.SplitHostPort(conn.RemoteAddr().String())
		if splitErr != nil {
			host = conn.RemoteAddr().String()
		}
		clientIP := net.ParseIP(host)

		udpCh, bindErr := NewUDPChannel(trackID, media, clientIP, transport.ClientPortLow, transport.ClientPortHigh)
		if bindErr != nil {
			s.log.DebugRTSP("udp bind failed", "error", bindErr)
			return NewResponse(StatusInternalServerError, req.CSeq)
		}
		ch = udpCh
		transport.ServerPortLow, transport.ServerPortHigh = ch.ServerRTPPort, ch.ServerRTCPPort
	}

	if err := session.Setup(trackID, ch); err != nil {
		_ = ch.Close()
		return NewResponse(StatusMethodNotValid, req.CSeq)
	}

	if media == MediaVideo && session.VideoPacketizer == nil {
		session.VideoPacketizer = camrtp.NewH264Packetizer(cfg.PayloadTypeV)
	}
	if media == MediaAudio && session.AudioPacketizer == nil {
		session.AudioPacketizer = camrtp.NewAudioPacketizer(cfg.AudioCodec, cfg.PayloadTypeA, cfg.ClockRateA)
	}

	resp2 := NewResponse(StatusOK, req.CSeq)
	resp2.Header["Session"] = fmt.Sprintf("%s;timeout=%d", session.ID, int(session.Timeout.Seconds()))
	resp2.Header["Transport"] = BuildTransportEcho(transport)
	return resp2
}

// resolveOrCreateSession implements the tie-break rule: a present Session
// header must resolve to a live session; with no header, the session already
// bound to this connection is reused, and otherwise a fresh one is created.
func (s *Server) resolveOrCreateSession(conn net.Conn, cs *connState, req *Request) (*Session, *Response) {
	if hdr := sessionIDFromHeader(req.Header["Session"]); hdr != "" {
		existing, ok := s.sessions.Get(hdr)
		if !ok {
			return nil, NewResponse(StatusSessionNotFound, req.CSeq)
		}
		cs.session = existing
		existing.Touch()
		return existing, nil
	}

	if cs.session != nil {
		cs.session.Touch()
		return cs.session, nil
	}

	session := s.sessions.CreateSession(conn)
	cs.session = session
	return session, nil
}

func (s *Server) handlePlay(cs *connState, req *Request) *Response {
	session, resp := s.requireSession(cs, req)
	if resp != nil {
		return resp
	}

	if err := session.Play(); err != nil {
		return NewResponse(StatusMethodNotValid, req.CSeq)
	}

	cfg, ok := s.registry.Lookup(session.StreamID)
	if ok && len(cfg.SPS()) > 0 && len(cfg.PPS()) > 0 {
		s.sessions.PushParameterSetsToSession(session, cfg.SPS(), cfg.PPS())
	}

	s.startSenderReportLoop(session)

	resp2 := NewResponse(StatusOK, req.CSeq)
	resp2.Header["Session"] = fmt.Sprintf("%s;timeout=%d", session.ID, int(session.Timeout.Seconds()))

	rng := "npt=0-"
	if v := req.Header["Range"]; v != "" {
		rng = v
	}
	resp2.Header["Range"] = rng
	resp2.Header["RTP-Info"] = buildRTPInfo(req.URL, session)
	return resp2
}

func buildRTPInfo(baseURL string, session *Session) string {
	var parts []string
	for _, ch := range session.Channels() {
		switch ch.MediaType {
		case MediaVideo:
			if session.VideoPacketizer != nil {
				parts = append(parts, fmt.Sprintf("url=%s/trackID=%d;seq=%d;rtptime=%d",
					baseURL, ch.TrackID, session.VideoPacketizer.NextSequence(), session.VideoPacketizer.NextTimestampHint()))
			}
		case MediaAudio:
			if session.AudioPacketizer != nil {
				parts = append(parts, fmt.Sprintf("url=%s/trackID=%d;seq=%d;rtptime=%d",
					baseURL, ch.TrackID, session.AudioPacketizer.NextSequence(), 0))
			}
		}
	}
	return strings.Join(parts, ",")
}

func (s *Server) handlePause(cs *connState, req *Request) *Response {
	session, resp := s.requireSession(cs, req)
	if resp != nil {
		return resp
	}
	if err := session.Pause(); err != nil {
		return NewResponse(StatusMethodNotValid, req.CSeq)
	}
	r := NewResponse(StatusOK, req.CSeq)
	r.Header["Session"] = fmt.Sprintf("%s;timeout=%d", session.ID, int(session.Timeout.Seconds()))
	return r
}

func (s *Server) handleTeardown(cs *connState, req *Request) *Response {
	session, resp := s.requireSession(cs, req)
	if resp != nil {
		return resp
	}
	s.sessions.Remove(session.ID)
	cs.session = nil
	return NewResponse(StatusOK, req.CSeq)
}

func (s *Server) handleKeepalive(cs *connState, req *Request) *Response {
	session, resp := s.requireSession(cs, req)
	if resp != nil {
		// GET_PARAMETER/SET_PARAMETER may be used pre-session (rare); treat
		// as a no-op 200 rather than failing outright if no Session header
		// was supplied at all.
		if req.Header["Session"] == "" {
			return NewResponse(StatusOK, req.CSeq)
		}
		return resp
	}
	session.Touch()
	r := NewResponse(StatusOK, req.CSeq)
	r.Header["Session"] = fmt.Sprintf("%s;timeout=%d", session.ID, int(session.Timeout.Seconds()))
	return r
}

// requireSession resolves the Session header against the table, returning
// 454 if missing or expired.
func (s *Server) requireSession(cs *connState, req *Request) (*Session, *Response) {
	hdr := sessionIDFromHeader(req.Header["Session"])
	if hdr == "" {
		if cs.session != nil {
			return cs.session, nil
		}
		return nil, NewResponse(StatusSessionNotFound, req.CSeq)
	}

	session, ok := s.sessions.Get(hdr)
	if !ok {
		return nil, NewResponse(StatusSessionNotFound, req.CSeq)
	}
	cs.session = session
	return session, nil
}

func (s *Server) checkAuth(req *Request) bool {
	if !s.cfg.AuthEnabled() {
		return true
	}

	value := req.Header["Authorization"]
	const prefix = "Basic "
	if !strings.HasPrefix(value, prefix) {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return false
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}
	return user == s.cfg.Username && pass == s.cfg.Password
}

// authRealm is the fixed WWW-Authenticate realm this server advertises,
// independent of the configured Server header value.
const authRealm = "motionEye RTSP Server"

func (s *Server) unauthorized(cseq int) *Response {
	resp := NewResponse(StatusUnauthorized, cseq)
	resp.Header["WWW-Authenticate"] = fmt.Sprintf("Basic realm=%q", authRealm)
	return resp
}

// streamIDFromURL extracts the first path segment after the host, e.g.
// "rtsp://host:port/cam1/trackID=0" -> "cam1".
func streamIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	path := raw
	if err == nil {
		path = u.Path
	}
	path = strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		path = path[:idx]
	}
	return path
}

// trackIDFromURL reads the "trackID=N" suffix; absent is not an error for
// callers that only need DESCRIBE/stream-level resolution, but SETUP
// requires it.
func trackIDFromURL(raw string) (int, error) {
	const marker = "trackID="
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return 0, fmt.Errorf("rtsp: URL missing trackID")
	}
	rest := raw[idx+len(marker):]
	if end := strings.IndexAny(rest, "/?"); end >= 0 {
		rest = rest[:end]
	}
	return strconv.Atoi(rest)
}

func sessionIDFromHeader(v string) string {
	id, _, _ := strings.Cut(v, ";")
	return strings.TrimSpace(id)
}
