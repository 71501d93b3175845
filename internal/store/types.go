// Package store contains the core storage engine of the key-value system.
//
// This store:
//   - Keeps data in memory (fast reads/writes)
//   - Persists every write to disk using a Write-Ahead Log (WAL)
//   - Periodically creates full snapshots to speed up recovery
//
// Big idea:
//
//  1. WAL (Write-Ahead Log)
//     Every write is first written to disk before updating memory.
//     If the process crashes, we replay the WAL to rebuild the state.
//     This is how real databases like PostgreSQL and MySQL stay safe.
//
//  2. Snapshot
//     Instead of replaying the entire WAL from the beginning of time,
//     we sometimes save the full in-memory state to disk.
//     After that, we only need to replay newer WAL entries.
//
//  3. Concurrency
//     We use sync.RWMutex so:
//     - Many readers can read at the same time
//     - Only one writer can write at a time
//     This pattern works well for read-heavy systems.
//
// Conflict resolution is last-writer-wins by wall-clock timestamp, with
// ties broken in favor of whichever record was stored first. The store
// does not interpret values: they travel as opaque JSON (json.RawMessage)
// end to end, from the client's PUT body to whatever a GET returns.
package store

import "encoding/json"

// Metadata is attached to every stored record.
//
//   - Timestamp: the coordinator's wall-clock millisecond at the moment the
//     write was accepted. This is the ONLY field conflict resolution looks
//     at — see Store.Put.
//   - Version: a per-key monotonic counter, bumped by the local store every
//     time a put actually replaces the stored record. It is purely a local
//     diagnostic ("this key has been overwritten N times"); it never
//     participates in the last-writer-wins decision and is not compared
//     across nodes.
//   - OriginNodeID: the node that coordinated the write. Used only as a
//     deterministic tie-breaker when two records carry the exact same
//     Timestamp.
type Metadata struct {
	Timestamp    int64  `json:"timestamp"`
	Version      uint64 `json:"version"`
	OriginNodeID string `json:"origin_node_id"`
}

// newer reports whether m is strictly more recent than other under the
// store's last-writer-wins rule: greater timestamp wins; on an exact tie,
// the existing (other) record wins, so newer returns false.
func (m Metadata) newer(other Metadata) bool {
	return m.Timestamp > other.Timestamp
}

// Record is a stored (key, value, metadata) triple.
type Record struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Metadata Metadata        `json:"metadata"`
	// Tombstone marks a soft delete. Deletes must replicate like any other
	// write, so a key is never simply removed from the map — it is
	// overwritten with a tombstoned record that normal reads hide.
	Tombstone bool `json:"tombstone,omitempty"`
}

// PutAction reports what Store.Put actually did.
type PutAction string

const (
	ActionWritten      PutAction = "written"
	ActionSkippedOlder PutAction = "skipped_older"
)
