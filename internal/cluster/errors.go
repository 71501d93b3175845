package cluster

import "errors"

// Sentinel errors raised by the coordinator. Per-replica failures are
// reported as data inside a PutResult/GetResult, never as one of these —
// these are reserved for conditions that make the operation meaningless
// rather than partially successful.
var (
	// ErrRingEmpty is returned when a PUT or GET is attempted before any
	// node, including self, has joined the ring.
	ErrRingEmpty = errors.New("ring_empty: no replica target for key")

	// ErrQuorumNotAchieved is returned by Get only when StrictQuorumRead is
	// enabled and fewer than Q replicas answered.
	ErrQuorumNotAchieved = errors.New("quorum_not_achieved: fewer than Q replicas responded")

	// ErrJoinFailed is returned when no seed address accepted a bootstrap
	// attempt.
	ErrJoinFailed = errors.New("join_failed: no seed accepted bootstrap")
)
