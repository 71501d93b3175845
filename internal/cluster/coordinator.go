package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/kalpagarwal/miniCassandra/internal/store"
)

// Replica outcome labels: a fan-out leg can only ever resolve to one of
// these three.
const (
	OutcomeSuccess      = "success"
	OutcomeTimeout      = "timeout"
	OutcomeNotConnected = "not_connected"
)

// PerReplicaResult is one fan-out leg's outcome, reported back to the
// client so a partial failure is visible data, not a swallowed detail.
type PerReplicaResult struct {
	NodeID  string `json:"nodeId"`
	Outcome string `json:"outcome"`
}

// PutResult is what a PUT reports to its caller.
type PutResult struct {
	Success           bool               `json:"success"`
	Replicas          []string           `json:"replicaNodes"`
	SuccessfulWrites  int                `json:"successfulWrites"`
	Quorum            int                `json:"quorumSize"`
	QuorumAchieved    bool               `json:"quorumAchieved"`
	PerReplicaResults []PerReplicaResult `json:"writeResults"`
	Metadata          store.Metadata     `json:"-"`
}

// GetResult is what a GET reports to its caller.
type GetResult struct {
	Found          bool            `json:"-"`
	Value          json.RawMessage `json:"value,omitempty"`
	Metadata       store.Metadata  `json:"metadata"`
	ReadResults    int             `json:"readResults"`
	QuorumAchieved bool            `json:"quorumAchieved"`
}

// Coordinator orchestrates a client PUT or GET: it is the only component
// that knows how to turn a key into a replica set, fan a request out to
// that set, and reduce the responses into a single answer.
type Coordinator struct {
	selfID   string
	selfAddr string

	membership *Membership
	store      *store.Store
	detector   *FailureDetector

	replicationFactor int
	peerTimeout       time.Duration

	// StrictQuorumRead: when true, Get fails with ErrQuorumNotAchieved
	// rather than returning a best-effort value when fewer than Q
	// replicas answered.
	StrictQuorumRead bool

	nowMs func() int64

	tsMu   sync.Mutex
	lastMs int64
}

// NewCoordinator wires a Coordinator over an already-constructed
// membership, local store, and failure detector.
func NewCoordinator(selfID, selfAddr string, m *Membership, s *store.Store, fd *FailureDetector, replicationFactor int, peerTimeout time.Duration, nowMs func() int64) *Coordinator {
	return &Coordinator{
		selfID:            selfID,
		selfAddr:          selfAddr,
		membership:        m,
		store:             s,
		detector:          fd,
		replicationFactor: replicationFactor,
		peerTimeout:       peerTimeout,
		nowMs:             nowMs,
	}
}

// Quorum is ⌊R/2⌋ + 1, computed from the configured replication factor —
// not from how many replicas happen to be reachable for a given key.
func (c *Coordinator) Quorum() int {
	return c.replicationFactor/2 + 1
}

// ReplicationFactor returns the configured N.
func (c *Coordinator) ReplicationFactor() int { return c.replicationFactor }

// nextTimestamp returns a wall-clock millisecond timestamp strictly greater
// than the one handed out by the previous call from this coordinator. Two
// PUTs issued back-to-back on the same coordinator can otherwise land in
// the same millisecond, and the store's strictly-greater LWW rule would
// then silently drop the second write as skipped_older.
func (c *Coordinator) nextTimestamp() int64 {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()
	now := c.nowMs()
	if now <= c.lastMs {
		now = c.lastMs + 1
	}
	c.lastMs = now
	return now
}

// Put orchestrates a client PUT across the key's replica set.
func (c *Coordinator) Put(key string, value json.RawMessage) (PutResult, error) {
	targets := c.membership.Ring().Replicas(key, c.replicationFactor)
	if len(targets) == 0 {
		return PutResult{}, ErrRingEmpty
	}

	metadata := store.Metadata{Timestamp: c.nextTimestamp(), OriginNodeID: c.selfID}

	results := make([]PerReplicaResult, len(targets))
	var mu sync.Mutex
	successes := 0
	var wg sync.WaitGroup

	for i, nodeID := range targets {
		i, nodeID := i, nodeID
		if nodeID == c.selfID {
			if _, _, err := c.store.Put(key, value, metadata); err != nil {
				mu.Lock()
				results[i] = PerReplicaResult{NodeID: nodeID, Outcome: OutcomeTimeout}
				mu.Unlock()
				continue
			}
			mu.Lock()
			results[i] = PerReplicaResult{NodeID: nodeID, Outcome: OutcomeSuccess}
			successes++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := c.replicateToPeer(nodeID, key, value, metadata)
			mu.Lock()
			results[i] = PerReplicaResult{NodeID: nodeID, Outcome: outcome}
			if outcome == OutcomeSuccess {
				successes++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	q := c.Quorum()
	return PutResult{
		Success:           successes >= q,
		Replicas:          targets,
		SuccessfulWrites:  successes,
		Quorum:            q,
		QuorumAchieved:    successes >= q,
		PerReplicaResults: results,
		Metadata:          metadata,
	}, nil
}

// Delete performs a soft-delete PUT: the same fan-out path, writing a
// tombstoned record everywhere Put would have written a value.
func (c *Coordinator) Delete(key string) (PutResult, error) {
	targets := c.membership.Ring().Replicas(key, c.replicationFactor)
	if len(targets) == 0 {
		return PutResult{}, ErrRingEmpty
	}

	metadata := store.Metadata{Timestamp: c.nextTimestamp(), OriginNodeID: c.selfID}

	results := make([]PerReplicaResult, len(targets))
	var mu sync.Mutex
	successes := 0
	var wg sync.WaitGroup

	for i, nodeID := range targets {
		i, nodeID := i, nodeID
		if nodeID == c.selfID {
			if _, _, err := c.store.Delete(key, metadata); err != nil {
				mu.Lock()
				results[i] = PerReplicaResult{NodeID: nodeID, Outcome: OutcomeTimeout}
				mu.Unlock()
				continue
			}
			mu.Lock()
			results[i] = PerReplicaResult{NodeID: nodeID, Outcome: OutcomeSuccess}
			successes++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := c.replicateToPeer(nodeID, key, nil, metadata)
			mu.Lock()
			results[i] = PerReplicaResult{NodeID: nodeID, Outcome: outcome}
			if outcome == OutcomeSuccess {
				successes++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	q := c.Quorum()
	return PutResult{
		Success:           successes >= q,
		Replicas:          targets,
		SuccessfulWrites:  successes,
		Quorum:            q,
		QuorumAchieved:    successes >= q,
		PerReplicaResults: results,
		Metadata:          metadata,
	}, nil
}

// replicateToPeer issues replicate(key, value, metadata) on nodeID's Peer
// Link and maps the outcome onto one of the three allowed outcomes.
func (c *Coordinator) replicateToPeer(nodeID, key string, value json.RawMessage, metadata store.Metadata) string {
	link, ok := c.detector.Link(nodeID)
	if !ok || link.State() == LinkClosed {
		return OutcomeNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.peerTimeout)
	defer cancel()

	if err := link.Replicate(ctx, key, value, metadata); err != nil {
		return OutcomeTimeout
	}
	return OutcomeSuccess
}

// Get orchestrates a client GET across the key's replica set.
func (c *Coordinator) Get(key string) (GetResult, error) {
	targets := c.membership.Ring().Replicas(key, c.replicationFactor)
	if len(targets) == 0 {
		return GetResult{}, ErrRingEmpty
	}

	collected := make(chan store.Record, len(targets))
	var wg sync.WaitGroup

	for _, nodeID := range targets {
		nodeID := nodeID
		if nodeID == c.selfID {
			if rec, ok := c.store.GetRaw(key); ok {
				collected <- rec
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			link, ok := c.detector.Link(nodeID)
			if !ok || link.State() == LinkClosed {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.peerTimeout)
			defer cancel()
			rec, err := link.Read(ctx, key)
			if err != nil || rec == nil {
				return
			}
			collected <- *rec
		}()
	}
	wg.Wait()
	close(collected)

	var records []store.Record
	for rec := range collected {
		records = append(records, rec)
	}

	q := c.Quorum()
	readResults := len(records)
	quorumAchieved := readResults >= q

	if readResults == 0 {
		return GetResult{Found: false, ReadResults: 0, QuorumAchieved: quorumAchieved}, nil
	}
	if c.StrictQuorumRead && !quorumAchieved {
		return GetResult{}, ErrQuorumNotAchieved
	}

	winner := records[0]
	for _, r := range records[1:] {
		if isNewer(r.Metadata, winner.Metadata) {
			winner = r
		}
	}

	if winner.Tombstone {
		return GetResult{Found: false, ReadResults: readResults, QuorumAchieved: quorumAchieved}, nil
	}

	return GetResult{
		Found:          true,
		Value:          winner.Value,
		Metadata:       winner.Metadata,
		ReadResults:    readResults,
		QuorumAchieved: quorumAchieved,
	}, nil
}

// isNewer reports whether a should replace b as the GET winner: a strictly
// greater timestamp wins; on a tie, the lexicographically smaller
// origin_node_id wins, giving every coordinator the same deterministic
// answer without needing to compare clocks any further.
func isNewer(a, b store.Metadata) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.OriginNodeID < b.OriginNodeID
}

// ─── Ring membership operations ───────────────────────────────────────────

type memberInfo struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// Join contacts seed addresses in order; the first seed that answers with
// a member snapshot wins and bootstrap stops. Every member in that
// snapshot (other than self) is merged into the local ring and given a
// Peer Link, tracked by the failure detector.
func (c *Coordinator) Join(ctx context.Context, seeds []string) error {
	for _, seedAddr := range seeds {
		members, err := c.fetchMembers(ctx, seedAddr)
		if err != nil {
			log.Printf("join: seed %s did not answer: %v", seedAddr, err)
			continue
		}

		for _, m := range members {
			if m.NodeID == c.selfID {
				continue
			}
			if err := c.membership.Join(Node{ID: m.NodeID, Address: m.Address}); err != nil {
				continue // already known
			}
			c.connectPeer(ctx, m.NodeID, m.Address)
		}
		return nil
	}
	return ErrJoinFailed
}

// AddNode admits a new node to the ring and opens a Peer Link to it. Per
// design, no existing key is moved — only future writes route
// through the updated ring.
func (c *Coordinator) AddNode(ctx context.Context, nodeID, address string) error {
	if err := c.membership.Join(Node{ID: nodeID, Address: address}); err != nil {
		return err
	}
	c.connectPeer(ctx, nodeID, address)
	log.Printf("node %s added to ring at %s (existing keys are not redistributed)", nodeID, address)
	return nil
}

// HandleIdentify processes an inbound identify from nodeID at address. If
// the sender is not yet known here, or was previously marked failed, it is
// admitted into membership and a reverse Peer Link is opened and tracked —
// otherwise Join would only ever be one-directional, leaving the side that
// receives identify without the sender on its own ring. An already-known,
// already-alive sender just has its liveness touched.
func (c *Coordinator) HandleIdentify(ctx context.Context, nodeID, address string) {
	node, known := c.membership.GetNode(nodeID)
	if !known || node.Liveness == Failed {
		if err := c.membership.Join(Node{ID: nodeID, Address: address}); err == nil {
			c.connectPeer(ctx, nodeID, address)
		}
	}
	c.detector.RecordReceived(nodeID, c.nowMs())
}

func (c *Coordinator) connectPeer(ctx context.Context, nodeID, address string) {
	link := NewPeerLink(c.selfID, c.selfAddr, nodeID, address, c.peerTimeout)
	reqCtx, cancel := context.WithTimeout(ctx, c.peerTimeout)
	defer cancel()
	if err := link.Identify(reqCtx, c.nowMs()); err != nil {
		log.Printf("identify to %s failed: %v", nodeID, err)
	}
	c.detector.Track(link)
}

func (c *Coordinator) fetchMembers(ctx context.Context, seedAddr string) ([]memberInfo, error) {
	url := fmt.Sprintf("http://%s/internal/peer/members", seedAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: c.peerTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("seed returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		Nodes []memberInfo `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Nodes, nil
}
