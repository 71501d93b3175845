// Package api wires up the Gin HTTP router with all handler functions.
//
// It is a thin adapter: every handler here forwards to the cluster
// Coordinator, Membership, or Store and reshapes the result into the JSON
// bodies described by the node's external HTTP surface. No replication,
// quorum, or ring logic lives in this package.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kalpagarwal/miniCassandra/internal/cluster"
	"github.com/kalpagarwal/miniCassandra/internal/store"
)

// Handler holds all dependencies injected from main.
type Handler struct {
	store       *store.Store
	coordinator *cluster.Coordinator
	membership  *cluster.Membership
	detector    *cluster.FailureDetector
	selfID      string
	selfAddr    string
}

// NewHandler creates a Handler.
func NewHandler(s *store.Store, co *cluster.Coordinator, m *cluster.Membership, fd *cluster.FailureDetector, selfID, selfAddr string) *Handler {
	return &Handler{store: s, coordinator: co, membership: m, detector: fd, selfID: selfID, selfAddr: selfAddr}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	data := r.Group("/data")
	data.PUT("/:key", h.Put)
	data.GET("/:key", h.Get)
	data.DELETE("/:key", h.Delete)

	cl := r.Group("/cluster")
	cl.GET("/status", h.ClusterStatus)
	cl.GET("/ring", h.ClusterRing)
	cl.GET("/distribution", h.ClusterDistribution)
	cl.POST("/nodes", h.AddNode)

	r.GET("/health", h.Health)

	// Internal peer wire: identify, heartbeat, replicate, read,
	// node_failure. These are never called by a client directly.
	peer := r.Group("/internal/peer")
	peer.POST("/identify", h.PeerIdentify)
	peer.POST("/heartbeat", h.PeerHeartbeat)
	peer.POST("/replicate", h.PeerReplicate)
	peer.GET("/read/:key", h.PeerRead)
	peer.POST("/node_failure", h.PeerNodeFailure)
	peer.GET("/members", h.PeerMembers)
}

// ─── Client-facing data handlers ──────────────────────────────────────────

// Put handles PUT /data/{key}.
func (h *Handler) Put(c *gin.Context) {
	key := c.Param("key")

	var body struct {
		Value json.RawMessage `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.coordinator.Put(key, body.Value)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          result.Success,
		"key":              key,
		"replicaNodes":     result.Replicas,
		"successfulWrites": result.SuccessfulWrites,
		"quorumSize":       result.Quorum,
		"quorumAchieved":   result.QuorumAchieved,
		"writeResults":     result.PerReplicaResults,
	})
}

// Get handles GET /data/{key}.
func (h *Handler) Get(c *gin.Context) {
	key := c.Param("key")

	result, err := h.coordinator.Get(key)
	if err != nil {
		if errors.Is(err, cluster.ErrQuorumNotAchieved) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !result.Found {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"value": result.Value,
		"metadata": gin.H{
			"version":   result.Metadata.Version,
			"timestamp": result.Metadata.Timestamp,
			"nodeId":    result.Metadata.OriginNodeID,
		},
		"readResults":    result.ReadResults,
		"quorumAchieved": result.QuorumAchieved,
	})
}

// Delete handles DELETE /data/{key}, tombstoning the key across replicas.
func (h *Handler) Delete(c *gin.Context) {
	key := c.Param("key")

	result, err := h.coordinator.Delete(key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          result.Success,
		"key":              key,
		"replicaNodes":     result.Replicas,
		"successfulWrites": result.SuccessfulWrites,
		"quorumSize":       result.Quorum,
		"quorumAchieved":   result.QuorumAchieved,
		"writeResults":     result.PerReplicaResults,
	})
}

// ─── Cluster introspection ─────────────────────────────────────────────────

// ClusterStatus handles GET /cluster/status.
func (h *Handler) ClusterStatus(c *gin.Context) {
	all := h.membership.All()
	nodes := make([]gin.H, 0, len(all))
	aliveCount := 0
	for _, n := range all {
		nodes = append(nodes, gin.H{"nodeId": n.ID, "status": string(n.Liveness), "address": n.Address})
		if n.Liveness == cluster.Alive {
			aliveCount++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"localNode":         h.selfID,
		"totalNodes":        len(all),
		"aliveNodes":        aliveCount,
		"replicationFactor": h.coordinator.ReplicationFactor(),
		"quorumSize":        h.coordinator.Quorum(),
		"nodes":             nodes,
	})
}

// ClusterRing handles GET /cluster/ring.
func (h *Handler) ClusterRing(c *gin.Context) {
	ring := h.membership.Ring()
	c.JSON(http.StatusOK, gin.H{
		"totalNodes":        ring.NodeCount(),
		"virtualNodes":      ring.VNodes(),
		"replicationFactor": h.coordinator.ReplicationFactor(),
		"ringSize":          ring.NodeCount() * ring.VNodes(),
		"nodes":             ring.Nodes(),
	})
}

// ClusterDistribution handles GET /cluster/distribution: for each stored
// key, which replicas currently own it. Diagnostic only — sampled to the
// store's key list, which is itself diagnostic.
func (h *Handler) ClusterDistribution(c *gin.Context) {
	out := make(map[string][]string)
	for _, key := range h.store.Keys() {
		out[key] = h.membership.Ring().Replicas(key, h.coordinator.ReplicationFactor())
	}
	c.JSON(http.StatusOK, out)
}

// AddNode handles POST /cluster/nodes.
func (h *Handler) AddNode(c *gin.Context) {
	var body struct {
		NodeID  string `json:"nodeId" binding:"required"`
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.coordinator.AddNode(c.Request.Context(), body.NodeID, body.Address); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "node added"})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"nodeId":     h.selfID,
		"address":    h.selfAddr,
		"isAlive":    true,
		"dataCount":  len(h.store.Keys()),
		"peersCount": len(h.membership.All()) - 1,
		"timestamp":  time.Now().UnixMilli(),
	})
}

// ─── Internal peer wire ────────────────────────────────────────────────────

func (h *Handler) PeerIdentify(c *gin.Context) {
	var body struct {
		NodeID  string `json:"node_id" binding:"required"`
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.coordinator.HandleIdentify(c.Request.Context(), body.NodeID, body.Address)
	c.Status(http.StatusOK)
}

func (h *Handler) PeerHeartbeat(c *gin.Context) {
	var body struct {
		NodeID    string `json:"node_id" binding:"required"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.detector.RecordReceived(body.NodeID, time.Now().UnixMilli())
	c.Status(http.StatusOK)
}

func (h *Handler) PeerReplicate(c *gin.Context) {
	var body struct {
		Key      string          `json:"key" binding:"required"`
		Value    json.RawMessage `json:"value"`
		Metadata store.Metadata  `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.detector.RecordReceived(body.Metadata.OriginNodeID, time.Now().UnixMilli())

	var err error
	if body.Value == nil {
		_, _, err = h.store.Delete(body.Key, body.Metadata)
	} else {
		_, _, err = h.store.Put(body.Key, body.Value, body.Metadata)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) PeerRead(c *gin.Context) {
	key := c.Param("key")
	rec, ok := h.store.GetRaw(key)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"found": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"found":     true,
		"value":     rec.Value,
		"metadata":  rec.Metadata,
		"tombstone": rec.Tombstone,
	})
}

func (h *Handler) PeerNodeFailure(c *gin.Context) {
	var body struct {
		FailedNodeID string `json:"failed_node_id" binding:"required"`
		Reporter     string `json:"reporter"`
		Timestamp    int64  `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.detector.ReceiveGossip(c.Request.Context(), body.FailedNodeID)
	c.Status(http.StatusOK)
}

// PeerMembers serves a snapshot of all known nodes, used by a joining
// node's bootstrap request.
func (h *Handler) PeerMembers(c *gin.Context) {
	all := h.membership.All()
	nodes := make([]gin.H, 0, len(all))
	for _, n := range all {
		nodes = append(nodes, gin.H{"node_id": n.ID, "address": n.Address})
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}
