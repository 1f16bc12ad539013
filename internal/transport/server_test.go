package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
)

func TestNewInvokesRegistrarAgainstUnderlyingServer(t *testing.T) {
	var gotServer *mcpsdk.Server
	s := New("test-node", "0.0.1", &config.Transport{}, func(server *mcpsdk.Server) {
		gotServer = server
	}, logr.Discard())

	require.NotNil(t, s.MCPServer())
	require.Same(t, s.MCPServer(), gotServer)
}

func TestServeHTTPTracksKnownSessionHeader(t *testing.T) {
	s := New("test-node", "0.0.1", &config.Transport{}, nil, logr.Discard())
	s.sessions.Open("sess-1")
	_, err := s.sessions.Touch("sess-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}"))
	req.Header.Set(sessionHeader, "sess-1")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	got, ok := s.sessions.Get("sess-1")
	require.True(t, ok)
	require.Equal(t, SessionOpen, got.State)
}

func TestServeHTTPOpensUnknownSessionHeaderRatherThanPanic(t *testing.T) {
	s := New("test-node", "0.0.1", &config.Transport{}, nil, logr.Discard())

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}"))
	req.Header.Set(sessionHeader, "never-seen")
	rec := httptest.NewRecorder()

	require.NotPanics(t, func() { s.ServeHTTP(rec, req) })

	_, ok := s.sessions.Get("never-seen")
	require.True(t, ok)
}
