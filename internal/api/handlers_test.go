package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kalpagarwal/miniCassandra/internal/cluster"
	"github.com/kalpagarwal/miniCassandra/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.New(t.TempDir(), "a")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := cluster.NewMembership([]cluster.Node{{ID: "a", Address: "a-addr"}}, 10)
	nowMs := func() int64 { return time.Now().UnixMilli() }
	fd := cluster.NewFailureDetector("a", m, time.Hour, time.Hour, nowMs)
	co := cluster.NewCoordinator("a", "a-addr", m, s, fd, 1, time.Second, nowMs)

	h := NewHandler(s, co, m, fd, "a", "a-addr")
	r := gin.New()
	h.Register(r)
	return r, h
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPutThenGetRoundTrip(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPut, "/data/k", `{"value":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var putResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &putResp))
	assert.Equal(t, true, putResp["success"])
	assert.Equal(t, true, putResp["quorumAchieved"])

	w = doRequest(r, http.MethodGet, "/data/k", "")
	require.Equal(t, http.StatusOK, w.Code)

	var getResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &getResp))
	assert.Equal(t, "hello", getResp["value"])
}

func TestGetMissingKeyReturns404(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/data/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteHidesKeyFromGet(t *testing.T) {
	r, _ := newTestRouter(t)
	doRequest(r, http.MethodPut, "/data/k", `{"value":"v"}`)

	w := doRequest(r, http.MethodDelete, "/data/k", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/data/k", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClusterStatusReportsAliveNodeAndQuorum(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/cluster/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "a", body["localNode"])
	assert.EqualValues(t, 1, body["totalNodes"])
	assert.EqualValues(t, 1, body["aliveNodes"])
	assert.EqualValues(t, 1, body["quorumSize"])
}

func TestClusterRingReportsVirtualNodes(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/cluster/ring", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 10, body["virtualNodes"])
}

func TestHealthEndpointReportsSelf(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "a", body["nodeId"])
	assert.Equal(t, true, body["isAlive"])
}

func TestPeerMembersListsSelf(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/internal/peer/members", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Nodes []map[string]string `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Nodes, 1)
	assert.Equal(t, "a", body.Nodes[0]["node_id"])
}

// newLiveNode builds a node with its own store/membership/detector/
// coordinator behind a real httptest.Server speaking the full HTTP
// surface (client routes and the internal peer wire alike) — unlike
// newTestRouter, this is reachable over the network so a peer's identify
// handshake is handled by the real PeerIdentify handler, not a stub.
func newLiveNode(t *testing.T, id string) (*httptest.Server, *cluster.Coordinator, *cluster.Membership) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.New(t.TempDir(), id)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := gin.New()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	addr := srv.Listener.Addr().String()
	m := cluster.NewMembership([]cluster.Node{{ID: id, Address: addr}}, 20)
	nowMs := func() int64 { return time.Now().UnixMilli() }
	fd := cluster.NewFailureDetector(id, m, time.Hour, time.Hour, nowMs)
	co := cluster.NewCoordinator(id, addr, m, s, fd, 2, 2*time.Second, nowMs)

	h := NewHandler(s, co, m, fd, id, addr)
	h.Register(r)

	return srv, co, m
}

// TestTwoNodeClusterFormsBidirectionallyViaIdentify reproduces scenario S1:
// node B starts with A as its only seed, joins, and sends A a real
// identify over HTTP. A's PeerIdentify handler must admit B into its own
// membership/ring in response — not just acknowledge the handshake — or a
// PUT coordinated by A can never reach B as a replica.
func TestTwoNodeClusterFormsBidirectionallyViaIdentify(t *testing.T) {
	srvA, coA, memA := newLiveNode(t, "a")
	_, coB, _ := newLiveNode(t, "b")

	require.NoError(t, coB.Join(context.Background(), []string{srvA.Listener.Addr().String()}))

	_, knownAtA := memA.GetNode("b")
	assert.True(t, knownAtA, "A should have admitted B into membership after receiving its identify")

	result, err := coA.Put("user:1", json.RawMessage(`"v"`))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, result.Replicas)
	assert.Equal(t, 2, result.SuccessfulWrites)
	assert.True(t, result.QuorumAchieved)
}

func TestPeerReplicateAppliesLocally(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/internal/peer/replicate",
		`{"key":"k","value":"v","metadata":{"timestamp":1000,"origin_node_id":"b"}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/internal/peer/read/k", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["found"])
}
