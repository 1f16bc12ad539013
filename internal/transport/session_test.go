package transport

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

func TestOpenStartsInInitState(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, time.Minute, logr.Discard())
	s := m.Open("sess-1")
	require.Equal(t, SessionInit, s.State)
}

func TestTouchMovesToOpenAndRefreshesActivity(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, time.Minute, logr.Discard())
	m.Open("sess-1")

	got, err := m.Touch("sess-1")
	require.NoError(t, err)
	require.Equal(t, SessionOpen, got.State)
}

func TestTouchUnknownSessionReturnsSessionExpired(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, time.Minute, logr.Discard())
	_, err := m.Touch("missing")
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultSessionExpired, f.Kind)
}

func TestSweepMovesOpenToIdleAfterThreshold(t *testing.T) {
	m := NewManager(10*time.Millisecond, time.Hour, time.Hour, logr.Discard())
	m.Open("sess-1")
	_, err := m.Touch("sess-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	closed := m.Sweep()
	require.Empty(t, closed)

	got, ok := m.Get("sess-1")
	require.True(t, ok)
	require.Equal(t, SessionIdle, got.State)
}

func TestSweepClosesSessionAfterSessionTimeout(t *testing.T) {
	m := NewManager(5*time.Millisecond, 10*time.Millisecond, time.Hour, logr.Discard())
	m.Open("sess-1")
	_, err := m.Touch("sess-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	m.Sweep() // open -> idle

	time.Sleep(20 * time.Millisecond)
	closed := m.Sweep() // idle -> closing
	require.Empty(t, closed)

	closed = m.Sweep() // closing -> closed
	require.Len(t, closed, 1)
	require.Equal(t, "sess-1", closed[0].ID)
}

func TestRecoverWithinHorizonReopensSession(t *testing.T) {
	m := NewManager(time.Millisecond, time.Millisecond, time.Hour, logr.Discard())
	s := m.Open("sess-1")
	token := s.RecoveryToken
	_, err := m.Touch("sess-1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	m.Sweep() // open -> idle
	m.Sweep() // idle -> closing
	m.Sweep() // closing -> closed

	got, err := m.Recover("sess-1", token)
	require.NoError(t, err)
	require.Equal(t, SessionOpen, got.State)
}

func TestRecoverWithWrongTokenFails(t *testing.T) {
	m := NewManager(time.Millisecond, time.Millisecond, time.Hour, logr.Discard())
	m.Open("sess-1")
	_, err := m.Touch("sess-1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	m.Sweep()
	m.Sweep()
	m.Sweep()

	_, err = m.Recover("sess-1", "wrong-token")
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultUnauthorized, f.Kind)
}

func TestRecoverPastHorizonFails(t *testing.T) {
	m := NewManager(time.Millisecond, time.Millisecond, 5*time.Millisecond, logr.Discard())
	s := m.Open("sess-1")
	token := s.RecoveryToken
	_, err := m.Touch("sess-1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	m.Sweep()
	m.Sweep()
	m.Sweep()

	time.Sleep(20 * time.Millisecond)
	_, err = m.Recover("sess-1", token)
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultSessionExpired, f.Kind)
}

func TestSweepEvictsClosedSessionPastRecoveryHorizon(t *testing.T) {
	m := NewManager(time.Millisecond, time.Millisecond, 5*time.Millisecond, logr.Discard())
	m.Open("sess-1")
	_, err := m.Touch("sess-1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	m.Sweep()
	m.Sweep()
	m.Sweep()

	time.Sleep(20 * time.Millisecond)
	m.Sweep()

	_, ok := m.Get("sess-1")
	require.False(t, ok)
}
