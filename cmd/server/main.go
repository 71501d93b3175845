// cmd/server is the main entrypoint for a KV store node.
//
// Configuration is entirely via command-line flags so a single binary can
// serve any role in the cluster.
//
// Example — single node:
//
//	./server --id node1 --addr :8080 --data-dir /var/kvstore/node1
//
// Example — 3-node cluster, node2 and node3 bootstrapping off node1:
//
//	./server --id node1 --addr :8080 --data-dir /tmp/n1
//	./server --id node2 --addr :8081 --data-dir /tmp/n2 --seeds localhost:8080
//	./server --id node3 --addr :8082 --data-dir /tmp/n3 --seeds localhost:8080
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kalpagarwal/miniCassandra/internal/api"
	"github.com/kalpagarwal/miniCassandra/internal/cluster"
	"github.com/kalpagarwal/miniCassandra/internal/store"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	nodeID := flag.String("id", "node1", "Unique node identifier")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/kvstore", "Directory for WAL and snapshots")
	seedsFlag := flag.String("seeds", "", "Comma-separated seed addresses to join on startup: host:port,host:port")
	replicationFactor := flag.Int("replication-factor", 3, "Replication factor (R); quorum = floor(R/2)+1")
	virtualNodes := flag.Int("virtual-nodes", 150, "Ring entries per physical node (V)")
	heartbeatIntervalMs := flag.Int("heartbeat-interval-ms", 2000, "Heartbeat send-and-check cadence (H)")
	failureThresholdMs := flag.Int("failure-threshold-ms", 10000, "Silence before declaring a peer failed (T)")
	peerTimeoutMs := flag.Int("peer-request-timeout-ms", 3000, "Per-request peer fan-out timeout")
	strictQuorumRead := flag.Bool("strict-quorum-read", false, "Fail GET instead of best-effort-returning when quorum is not reached")
	flag.Parse()

	// ── Storage ────────────────────────────────────────────────────────────
	nodeDataDir := fmt.Sprintf("%s/%s", *dataDir, *nodeID)
	s, err := store.New(nodeDataDir, *nodeID)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer s.Close()

	// ── Cluster membership, ring, failure detector, coordinator ─────────────
	membership := cluster.NewMembership([]cluster.Node{{ID: *nodeID, Address: *addr}}, *virtualNodes)

	nowMs := func() int64 { return time.Now().UnixMilli() }
	detector := cluster.NewFailureDetector(*nodeID, membership, time.Duration(*heartbeatIntervalMs)*time.Millisecond, time.Duration(*failureThresholdMs)*time.Millisecond, nowMs)

	coordinator := cluster.NewCoordinator(*nodeID, *addr, membership, s, detector,
		*replicationFactor, time.Duration(*peerTimeoutMs)*time.Millisecond, nowMs)
	coordinator.StrictQuorumRead = *strictQuorumRead

	detector.OnFailureDeclared(func(failedID string) {
		log.Printf("node %s declared failed and evicted from ring", failedID)
	})

	// ── HTTP server ────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	handler := api.NewHandler(s, coordinator, membership, detector, *nodeID, *addr)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	detectorCtx, stopDetector := context.WithCancel(context.Background())
	go detector.Run(detectorCtx)

	go func() {
		log.Printf("Node %s listening on %s (R=%d quorum=%d V=%d)",
			*nodeID, *addr, *replicationFactor, coordinator.Quorum(), *virtualNodes)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Bootstrap against seeds, if any. join_failed exits the process
	// non-zero.
	if *seedsFlag != "" {
		seeds := strings.Split(*seedsFlag, ",")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := coordinator.Join(ctx, seeds); err != nil {
			cancel()
			log.Fatalf("join_failed: %v", err)
		}
		cancel()
		log.Printf("joined cluster via seeds %v", seeds)
	}

	// Background snapshot every 60 seconds.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := s.Snapshot(); err != nil {
				log.Printf("snapshot error: %v", err)
			} else {
				log.Printf("snapshot saved")
			}
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down node", *nodeID)
	stopDetector()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.Snapshot(); err != nil {
		log.Printf("final snapshot error: %v", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
