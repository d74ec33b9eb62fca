package discovery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reviewmesh/orchestrator/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cardServer(t *testing.T, protocolVersion string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		card := wire.AgentCard{
			Name:            "security-agent",
			Version:         "1.0.0",
			ProtocolVersion: protocolVersion,
			Endpoint:        srv.URL + "/rpc",
			Skills: []wire.Skill{{
				ID:           "review.security",
				Version:      "1.0",
				InputSchema:  json.RawMessage(`{"required":["diff","mcp_url"]}`),
				OutputSchema: json.RawMessage(`{"required":["findings"]}`),
			}},
			Auth: wire.AgentAuth{Type: wire.AuthNone},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(card)
	}))
	return srv
}

func TestDiscoverAcceptsCompatibleMinorMismatch(t *testing.T) {
	srv := cardServer(t, "1.5")
	defer srv.Close()

	d := New("1.0")
	agents := d.Discover(t.Context(), []string{srv.URL})
	require.Len(t, agents, 1)
	assert.Equal(t, "security-agent", agents[0].Card.Name)
}

func TestDiscoverRejectsMajorMismatch(t *testing.T) {
	srv := cardServer(t, "2.0")
	defer srv.Close()

	d := New("1.0")
	agents := d.Discover(t.Context(), []string{srv.URL})
	assert.Empty(t, agents)
}

func TestDiscoverDropsSingleUnreachableURL(t *testing.T) {
	good := cardServer(t, "1.0")
	defer good.Close()

	d := New("1.0")
	agents := d.Discover(t.Context(), []string{good.URL, "http://127.0.0.1:1"})
	require.Len(t, agents, 1)
	assert.Equal(t, good.URL, agents[0].BaseURL)
}

func TestDiscoverPreservesInputOrder(t *testing.T) {
	a := cardServer(t, "1.0")
	defer a.Close()
	b := cardServer(t, "1.2")
	defer b.Close()

	d := New("1.0")
	agents := d.Discover(t.Context(), []string{a.URL, b.URL})
	require.Len(t, agents, 2)
	assert.Equal(t, a.URL, agents[0].BaseURL)
	assert.Equal(t, b.URL, agents[1].BaseURL)
}

func TestDiscoverRejectsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{ not json"))
	}))
	defer srv.Close()

	d := New("1.0")
	agents := d.Discover(t.Context(), []string{srv.URL})
	assert.Empty(t, agents)
}

func TestIsProtocolCompatible(t *testing.T) {
	assert.True(t, isProtocolCompatible("1.5", "1.0"))
	assert.False(t, isProtocolCompatible("2.0", "1.0"))
	assert.False(t, isProtocolCompatible("bogus", "1.0"))
}
