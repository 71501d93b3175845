package cluster

import (
	"context"
	"log"
	"sync"
	"time"
)

// FailureDetector tracks per-peer liveness via a push heartbeat model: it
// periodically sends a heartbeat down every live link and separately
// declares a peer failed once too long has passed since its link was last
// refreshed — by an identify, an inbound heartbeat or replicate, or an
// acknowledged outbound replicate (see PeerLink.LastHeartbeatMs).
//
// This is the push-based counterpart of a poll-based health monitor: the
// data that drives a failure decision is "when did we last hear from
// them", not "did our last probe to them succeed".
type FailureDetector struct {
	mu    sync.Mutex
	links map[string]*PeerLink

	selfID     string
	membership *Membership

	heartbeatInterval time.Duration
	failureThreshold  time.Duration

	onFailureDeclared func(nodeID string)

	nowMs func() int64
}

// NewFailureDetector creates a detector for selfID. nowMs supplies the
// current wall-clock millisecond; tests can substitute a fake clock.
func NewFailureDetector(selfID string, m *Membership, heartbeatInterval, failureThreshold time.Duration, nowMs func() int64) *FailureDetector {
	return &FailureDetector{
		links:             make(map[string]*PeerLink),
		selfID:            selfID,
		membership:        m,
		heartbeatInterval: heartbeatInterval,
		failureThreshold:  failureThreshold,
		nowMs:             nowMs,
	}
}

// OnFailureDeclared registers a callback invoked (outside the detector's
// lock) whenever a peer is declared failed.
func (fd *FailureDetector) OnFailureDeclared(cb func(nodeID string)) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.onFailureDeclared = cb
}

// Track registers a link so the detector heartbeats and watches it. A
// fresh identify should call this again for a previously-failed peer —
// Track always (re)starts tracking, which is how sticky failure is lifted.
func (fd *FailureDetector) Track(link *PeerLink) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.links[link.RemoteID()] = link
}

// Untrack stops watching a peer (graceful Leave).
func (fd *FailureDetector) Untrack(nodeID string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	delete(fd.links, nodeID)
}

// Link returns the tracked link for nodeID, if any.
func (fd *FailureDetector) Link(nodeID string) (*PeerLink, bool) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	l, ok := fd.links[nodeID]
	return l, ok
}

func (fd *FailureDetector) liveLinks() []*PeerLink {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	out := make([]*PeerLink, 0, len(fd.links))
	for _, l := range fd.links {
		if l.State() != LinkClosed {
			out = append(out, l)
		}
	}
	return out
}

// Run blocks, ticking every heartbeatInterval, until ctx is cancelled.
func (fd *FailureDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(fd.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fd.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick is one H-millisecond round: send heartbeats, then check every
// tracked peer against the failure threshold.
func (fd *FailureDetector) tick(ctx context.Context) {
	now := fd.nowMs()

	for _, link := range fd.liveLinks() {
		reqCtx, cancel := context.WithTimeout(ctx, link.timeout)
		if err := link.SendHeartbeat(reqCtx, now); err != nil {
			log.Printf("heartbeat to %s failed: %v", link.RemoteID(), err)
		}
		cancel()
	}

	for _, link := range fd.liveLinks() {
		fd.checkPeer(ctx, link, now)
	}
}

// checkPeer declares link's remote peer failed if its last heartbeat is
// older than the failure threshold.
func (fd *FailureDetector) checkPeer(ctx context.Context, link *PeerLink, now int64) {
	if now-link.LastHeartbeatMs() <= fd.failureThreshold.Milliseconds() {
		return
	}
	fd.declareFailed(ctx, link, now)
}

// declareFailed evicts the peer from the ring, closes its link, and gossips
// node_failure down every remaining live link.
func (fd *FailureDetector) declareFailed(ctx context.Context, link *PeerLink, now int64) {
	nodeID := link.RemoteID()

	fd.membership.MarkFailed(nodeID)
	link.Close()

	log.Printf("peer %s declared failed (silent for %dms)", nodeID, now-link.LastHeartbeatMs())

	for _, peer := range fd.liveLinks() {
		if peer.RemoteID() == nodeID {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, peer.timeout)
		_ = peer.NotifyFailure(reqCtx, nodeID, fd.selfID, now)
		cancel()
	}

	if fd.onFailureDeclared != nil {
		fd.onFailureDeclared(nodeID)
	}
}

// ReceiveGossip handles an incoming node_failure report about failedNodeID.
// A gossiped report is advisory only: this node never removes a peer from
// its own ring on a remote's say-so alone. Instead it re-checks its own
// last_heartbeat_ms for that peer, and only bothers running that check at
// all once its own silence already exceeds half the failure threshold —
// below that the peer is plainly still live and the report can be ignored.
// checkPeer still requires silence past the full threshold to actually
// declare failure, so this does not confirm failure any earlier than this
// node's own next tick would have; it only runs the check immediately
// instead of waiting on the heartbeat ticker.
func (fd *FailureDetector) ReceiveGossip(ctx context.Context, failedNodeID string) {
	link, ok := fd.Link(failedNodeID)
	if !ok {
		return
	}

	now := fd.nowMs()
	silence := now - link.LastHeartbeatMs()
	if silence >= fd.failureThreshold.Milliseconds()/2 {
		fd.checkPeer(ctx, link, now)
	}
}

// RecordReceived updates last-heartbeat liveness for an inbound message
// from nodeID. The peer wire handlers call it for identify, heartbeat and
// replicate messages; read and node_failure requests do not call it.
func (fd *FailureDetector) RecordReceived(nodeID string, atMs int64) {
	if link, ok := fd.Link(nodeID); ok {
		link.touch(atMs)
	}
}
