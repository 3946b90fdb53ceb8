package rtsp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethan/rtsp-cam-server/pkg/stream"
)

type testResponse struct {
	statusCode int
	header     map[string]string
	body       string
}

func readTestResponse(t *testing.T, r *bufio.Reader) testResponse {
	t.Helper()

	statusLine, err := r.ReadString('\n')
	require.NoError(t, err)
	parts := strings.SplitN(strings.TrimRight(statusLine, "\r\n"), " ", 3)
	require.Len(t, parts, 3)
	code, err := strconv.Atoi(parts[1])
	require.NoError(t, err)

	resp := testResponse{statusCode: code, header: map[string]string{}}
	contentLength := 0
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		require.True(t, ok)
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		resp.header[key] = value
		if strings.EqualFold(key, "Content-Length") {
			contentLength, _ = strconv.Atoi(value)
		}
	}

	if contentLength > 0 {
		body := make([]byte, contentLength)
		_, err := io.ReadFull(r, body)
		require.NoError(t, err)
		resp.body = string(body)
	}
	return resp
}

func startTestServer(t *testing.T, cfg Config) (*Server, *stream.Registry, net.Conn, *bufio.Reader) {
	t.Helper()

	registry := stream.NewRegistry("127.0.0.1", 0, nil)
	require.NoError(t, registry.RegisterStream("cam1", &stream.Config{
		StreamID:     "cam1",
		Name:         "Demo",
		HasVideo:     true,
		PayloadTypeV: 96,
		ClockRateV:   90000,
	}))

	cfg.Listen = "127.0.0.1"
	cfg.Port = 0
	srv := NewServer(cfg, registry, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return srv, registry, conn, bufio.NewReader(conn)
}

func sendRequest(t *testing.T, conn net.Conn, raw string) {
	t.Helper()
	_, err := conn.Write([]byte(raw))
	require.NoError(t, err)
}

func TestE2EOptionsAdvertisesAllMethods(t *testing.T) {
	_, _, conn, r := startTestServer(t, Config{})
	sendRequest(t, conn, "OPTIONS rtsp://127.0.0.1/cam1 RTSP/1.0\r\nCSeq: 1\r\n\r\n")

	resp := readTestResponse(t, r)
	require.Equal(t, StatusOK, resp.statusCode)
	require.Equal(t, SupportedMethods, resp.header["Public"])
}

func TestE2EDescribeUnknownStreamNotFound(t *testing.T) {
	_, _, conn, r := startTestServer(t, Config{})
	sendRequest(t, conn, "DESCRIBE rtsp://127.0.0.1/doesnotexist RTSP/1.0\r\nCSeq: 1\r\n\r\n")

	resp := readTestResponse(t, r)
	require.Equal(t, StatusNotFound, resp.statusCode)
}

func TestE2EDescribeReturnsSDP(t *testing.T) {
	_, _, conn, r := startTestServer(t, Config{})
	sendRequest(t, conn, "DESCRIBE rtsp://127.0.0.1/cam1 RTSP/1.0\r\nCSeq: 1\r\n\r\n")

	resp := readTestResponse(t, r)
	require.Equal(t, StatusOK, resp.statusCode)
	require.Equal(t, "application/sdp", resp.header["Content-Type"])
	require.Contains(t, resp.body, "m=video 0 RTP/AVP 96")
}

func TestE2ESetupPlayTeardownTCP(t *testing.T) {
	_, _, conn, r := startTestServer(t, Config{})

	sendRequest(t, conn, "SETUP rtsp://127.0.0.1/cam1/trackID=0 RTSP/1.0\r\nCSeq: 1\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1\r\n\r\n")
	setupResp := readTestResponse(t, r)
	require.Equal(t, StatusOK, setupResp.statusCode)
	sessionHeader := setupResp.header["Session"]
	require.NotEmpty(t, sessionHeader)
	sessionID := strings.Split(sessionHeader, ";")[0]
	require.Contains(t, setupResp.header["Transport"], "interleaved=0-1")

	sendRequest(t, conn, fmt.Sprintf("PLAY rtsp://127.0.0.1/cam1 RTSP/1.0\r\nCSeq: 2\r\nSession: %s\r\n\r\n", sessionID))
	playResp := readTestResponse(t, r)
	require.Equal(t, StatusOK, playResp.statusCode)
	require.Contains(t, playResp.header, "RTP-Info")

	sendRequest(t, conn, fmt.Sprintf("TEARDOWN rtsp://127.0.0.1/cam1 RTSP/1.0\r\nCSeq: 3\r\nSession: %s\r\n\r\n", sessionID))
	teardownResp := readTestResponse(t, r)
	require.Equal(t, StatusOK, teardownResp.statusCode)
}

func TestE2EPlayWithoutSessionReturns454(t *testing.T) {
	_, _, conn, r := startTestServer(t, Config{})
	sendRequest(t, conn, "PLAY rtsp://127.0.0.1/cam1 RTSP/1.0\r\nCSeq: 1\r\nSession: 9999\r\n\r\n")

	resp := readTestResponse(t, r)
	require.Equal(t, StatusSessionNotFound, resp.statusCode)
}

func TestE2ESetupMalformedTransportReturns400(t *testing.T) {
	_, _, conn, r := startTestServer(t, Config{})
	sendRequest(t, conn, "SETUP rtsp://127.0.0.1/cam1/trackID=0 RTSP/1.0\r\nCSeq: 1\r\nTransport: RTP/AVP;unicast\r\n\r\n")

	resp := readTestResponse(t, r)
	require.Equal(t, StatusBadRequest, resp.statusCode)
}

func TestE2ESetupUnsupportedProtocolReturns461(t *testing.T) {
	_, _, conn, r := startTestServer(t, Config{})
	sendRequest(t, conn, "SETUP rtsp://127.0.0.1/cam1/trackID=0 RTSP/1.0\r\nCSeq: 1\r\nTransport: RTP/SAVP;unicast;client_port=5000-5001\r\n\r\n")

	resp := readTestResponse(t, r)
	require.Equal(t, StatusUnsupportedTransport, resp.statusCode)
}

func TestE2ESetupAudioTrackOnVideoOnlyStreamReturns461(t *testing.T) {
	_, _, conn, r := startTestServer(t, Config{})
	sendRequest(t, conn, "SETUP rtsp://127.0.0.1/cam1/trackID=1 RTSP/1.0\r\nCSeq: 1\r\nTransport: RTP/AVP/TCP;unicast;interleaved=2-3\r\n\r\n")

	resp := readTestResponse(t, r)
	require.Equal(t, StatusUnsupportedTransport, resp.statusCode)
}

func TestE2EAuthChallengeAndSuccess(t *testing.T) {
	_, _, conn, r := startTestServer(t, Config{Username: "u", Password: "p"})

	sendRequest(t, conn, "DESCRIBE rtsp://127.0.0.1/cam1 RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	resp := readTestResponse(t, r)
	require.Equal(t, StatusUnauthorized, resp.statusCode)
	require.Equal(t, `Basic realm="motionEye RTSP Server"`, resp.header["WWW-Authenticate"])

	sendRequest(t, conn, "DESCRIBE rtsp://127.0.0.1/cam1 RTSP/1.0\r\nCSeq: 2\r\nAuthorization: Basic dTpw\r\n\r\n")
	resp2 := readTestResponse(t, r)
	require.Equal(t, StatusOK, resp2.statusCode)
}

func TestE2EMalformedRequestGets400AndConnectionStaysOpen(t *testing.T) {
	_, _, conn, r := startTestServer(t, Config{})

	sendRequest(t, conn, "OPTIONS rtsp://127.0.0.1/cam1 RTSP/1.0\r\nCSeq: notanumber\r\n\r\n")
	resp := readTestResponse(t, r)
	require.Equal(t, StatusBadRequest, resp.statusCode)

	sendRequest(t, conn, "OPTIONS rtsp://127.0.0.1/cam1 RTSP/1.0\r\nCSeq: 2\r\n\r\n")
	resp2 := readTestResponse(t, r)
	require.Equal(t, StatusOK, resp2.statusCode)
	require.Equal(t, SupportedMethods, resp2.header["Public"])
}

func TestE2ESessionCountTracksLifecycle(t *testing.T) {
	srv, _, conn, r := startTestServer(t, Config{})
	require.Equal(t, 0, srv.SessionCount())

	sendRequest(t, conn, "SETUP rtsp://127.0.0.1/cam1/trackID=0 RTSP/1.0\r\nCSeq: 1\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1\r\n\r\n")
	readTestResponse(t, r)

	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
}
