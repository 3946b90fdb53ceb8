package rtsp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	s := NewSession("1", "client:1", server, nil)
	return s, client
}

func TestSessionStateMachineHappyPath(t *testing.T) {
	s, _ := pipeSession(t)
	require.Equal(t, StateInit, s.State())

	ch := NewTCPChannel(0, MediaVideo, 0, 1)
	require.NoError(t, s.Setup(0, ch))
	require.Equal(t, StateReady, s.State())

	require.NoError(t, s.Play())
	require.Equal(t, StatePlaying, s.State())

	require.NoError(t, s.Pause())
	require.Equal(t, StateReady, s.State())

	s.Close()
}

func TestSessionPlayRequiresChannel(t *testing.T) {
	s, _ := pipeSession(t)
	require.Error(t, s.Play())
}

func TestSessionPauseInvalidFromInit(t *testing.T) {
	s, _ := pipeSession(t)
	require.Error(t, s.Pause())
}

func TestSessionPlayAfterCloseHasNoChannels(t *testing.T) {
	s, _ := pipeSession(t)
	ch := NewTCPChannel(0, MediaVideo, 0, 1)
	require.NoError(t, s.Setup(0, ch))
	require.NoError(t, s.Play())

	s.Close()
	require.Error(t, s.Play())
}

func TestSessionBindStreamRejectsSecondDifferentStream(t *testing.T) {
	s, _ := pipeSession(t)
	require.NoError(t, s.BindStream("cam1"))
	require.NoError(t, s.BindStream("cam1"))
	require.Error(t, s.BindStream("cam2"))
}

func TestSessionExpired(t *testing.T) {
	s, _ := pipeSession(t)
	s.Timeout = 10 * time.Millisecond
	require.False(t, s.Expired(time.Now()))
	require.True(t, s.Expired(time.Now().Add(20*time.Millisecond)))
}

func TestSessionTouchResetsIdle(t *testing.T) {
	s, _ := pipeSession(t)
	s.Timeout = 50 * time.Millisecond
	future := time.Now().Add(20 * time.Millisecond)
	require.False(t, s.Expired(future))
	s.Touch()
	require.False(t, s.Expired(time.Now().Add(20*time.Millisecond)))
}
