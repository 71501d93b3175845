package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kalpagarwal/miniCassandra/internal/store"
)

// LinkState is a Peer Link's position in its connection lifecycle.
//
//	connecting ──identify ok──▶ identified ──first live reply──▶ live ──▶ closed
//	                                                  any disconnect ──▶ closed
type LinkState string

const (
	LinkConnecting LinkState = "connecting"
	LinkIdentified LinkState = "identified"
	LinkLive       LinkState = "live"
	LinkClosed     LinkState = "closed"
)

// identifyMsg, replicateMsg, readReplyMsg, etc. are the JSON bodies exchanged
// with a peer. Named separately from store.Record so the wire shape stays stable
// even if the local record type grows fields that should not cross the
// network.
type identifyMsg struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

type heartbeatMsg struct {
	NodeID    string `json:"node_id"`
	Timestamp int64  `json:"timestamp"`
}

type replicateMsg struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value,omitempty"` // omitted for a delete
	Metadata store.Metadata  `json:"metadata"`
}

type readReplyMsg struct {
	Found     bool            `json:"found"`
	Value     json.RawMessage `json:"value,omitempty"`
	Metadata  store.Metadata  `json:"metadata,omitempty"`
	Tombstone bool            `json:"tombstone,omitempty"`
}

type nodeFailureMsg struct {
	FailedNodeID string `json:"failed_node_id"`
	Reporter     string `json:"reporter"`
	Timestamp    int64  `json:"timestamp"`
}

// PeerLink is one directed, HTTP-backed channel between this node and a
// single remote node. All message kinds share this one link — there is no
// separate socket per message type.
type PeerLink struct {
	mu sync.Mutex

	selfID     string
	selfAddr   string
	remoteID   string
	remoteAddr string

	state           LinkState
	lastHeartbeatMs int64

	httpClient *http.Client
	timeout    time.Duration
}

// NewPeerLink creates a link in the connecting state. Call Identify to
// move it forward.
func NewPeerLink(selfID, selfAddr, remoteID, remoteAddr string, timeout time.Duration) *PeerLink {
	return &PeerLink{
		selfID:     selfID,
		selfAddr:   selfAddr,
		remoteID:   remoteID,
		remoteAddr: remoteAddr,
		state:      LinkConnecting,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

func (l *PeerLink) RemoteID() string   { return l.remoteID }
func (l *PeerLink) RemoteAddr() string { return l.remoteAddr }

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastHeartbeatMs returns the last time this link was refreshed by touch:
// a successful outbound identify, an acknowledged replicate, or an inbound
// message passed to FailureDetector.RecordReceived. A read reply or a
// heartbeat acknowledgement does not refresh it.
func (l *PeerLink) LastHeartbeatMs() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHeartbeatMs
}

// touch records that we just heard from the remote node, at nowMs.
// It is called on a successful outbound identify, on an acknowledged
// replicate, and (through FailureDetector.RecordReceived) on inbound
// identify, heartbeat and replicate messages. Read replies and heartbeat
// acknowledgements do not call it.
func (l *PeerLink) touch(nowMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if nowMs > l.lastHeartbeatMs {
		l.lastHeartbeatMs = nowMs
	}
	if l.state == LinkConnecting || l.state == LinkIdentified {
		l.state = LinkLive
	}
}

// Close transitions the link to closed. Only the failure detector calls
// this — a per-request timeout never closes a link on its own.
func (l *PeerLink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = LinkClosed
}

// Identify performs the first-contact handshake: announce ourselves to the
// remote node. Until this succeeds the link stays in LinkConnecting.
func (l *PeerLink) Identify(ctx context.Context, nowMs int64) error {
	body := identifyMsg{NodeID: l.selfID, Address: l.selfAddr}
	if err := l.post(ctx, "/internal/peer/identify", body, nil); err != nil {
		return fmt.Errorf("identify %s: %w", l.remoteID, err)
	}
	l.mu.Lock()
	l.state = LinkIdentified
	l.mu.Unlock()
	l.touch(nowMs)
	return nil
}

// SendHeartbeat sends a heartbeat message down the link. Errors are
// returned to the caller (the failure detector) but never close the link
// themselves — only an elapsed threshold does that.
func (l *PeerLink) SendHeartbeat(ctx context.Context, nowMs int64) error {
	body := heartbeatMsg{NodeID: l.selfID, Timestamp: nowMs}
	if err := l.post(ctx, "/internal/peer/heartbeat", body, nil); err != nil {
		return fmt.Errorf("heartbeat to %s: %w", l.remoteID, err)
	}
	return nil
}

// Replicate sends a replicate(key, value, metadata) message and waits for
// the peer's {ok} acknowledgement.
func (l *PeerLink) Replicate(ctx context.Context, key string, value json.RawMessage, metadata store.Metadata) error {
	body := replicateMsg{Key: key, Value: value, Metadata: metadata}
	if err := l.post(ctx, "/internal/peer/replicate", body, nil); err != nil {
		return fmt.Errorf("replicate to %s: %w", l.remoteID, err)
	}
	l.touch(metadata.Timestamp)
	return nil
}

// Read sends a read(key) message and returns the peer's record, or
// (nil, nil) if the peer reports the key absent.
func (l *PeerLink) Read(ctx context.Context, key string) (*store.Record, error) {
	reqURL := fmt.Sprintf("http://%s/internal/peer/read/%s", l.remoteAddr, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read from %s: %w", l.remoteID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("peer %s returned HTTP %d", l.remoteID, resp.StatusCode)
	}

	var reply readReplyMsg
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	if !reply.Found {
		return nil, nil
	}
	return &store.Record{
		Key:       key,
		Value:     reply.Value,
		Metadata:  reply.Metadata,
		Tombstone: reply.Tombstone,
	}, nil
}

// NotifyFailure gossips a node_failure report down the link. Best-effort:
// no reply is expected, errors are swallowed by the caller's fan-out.
func (l *PeerLink) NotifyFailure(ctx context.Context, failedNodeID, reporter string, nowMs int64) error {
	body := nodeFailureMsg{FailedNodeID: failedNodeID, Reporter: reporter, Timestamp: nowMs}
	return l.post(ctx, "/internal/peer/node_failure", body, nil)
}

func (l *PeerLink) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf("http://%s%s", l.remoteAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer returned HTTP %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
