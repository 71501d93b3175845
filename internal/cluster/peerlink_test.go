package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalpagarwal/miniCassandra/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerLinkIdentifyTransitionsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	link := NewPeerLink("self", "self-addr", "peer", srv.Listener.Addr().String(), time.Second)
	assert.Equal(t, LinkConnecting, link.State())

	require.NoError(t, link.Identify(context.Background(), 1000))
	assert.Equal(t, LinkLive, link.State())
	assert.Equal(t, int64(1000), link.LastHeartbeatMs())
}

func TestPeerLinkIdentifyFailureKeepsConnecting(t *testing.T) {
	link := NewPeerLink("self", "self-addr", "peer", "127.0.0.1:1", time.Millisecond*50)
	err := link.Identify(context.Background(), 1000)
	assert.Error(t, err)
	assert.Equal(t, LinkConnecting, link.State())
}

func TestPeerLinkReplicateAndRead(t *testing.T) {
	var stored replicateMsg
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/peer/replicate", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&stored))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/internal/peer/read/k", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(readReplyMsg{
			Found:    true,
			Value:    stored.Value,
			Metadata: stored.Metadata,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	link := NewPeerLink("self", "self-addr", "peer", srv.Listener.Addr().String(), time.Second)
	meta := store.Metadata{Timestamp: 42, OriginNodeID: "self"}
	require.NoError(t, link.Replicate(context.Background(), "k", json.RawMessage(`"v"`), meta))

	rec, err := link.Read(context.Background(), "k")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.JSONEq(t, `"v"`, string(rec.Value))
	assert.Equal(t, int64(42), rec.Metadata.Timestamp)
}

func TestPeerLinkReadAbsentReturnsNil(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/peer/read/missing", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(readReplyMsg{Found: false})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	link := NewPeerLink("self", "self-addr", "peer", srv.Listener.Addr().String(), time.Second)
	rec, err := link.Read(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPeerLinkCloseIsTerminalUntilNewIdentify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	link := NewPeerLink("self", "self-addr", "peer", srv.Listener.Addr().String(), time.Second)
	require.NoError(t, link.Identify(context.Background(), 1000))
	link.Close()
	assert.Equal(t, LinkClosed, link.State())

	require.NoError(t, link.Identify(context.Background(), 2000))
	assert.Equal(t, LinkLive, link.State())
}
