package cluster

import "errors"

var (
	// ErrMergeHalted is returned by Merge after a join law violation stopped merging.
	ErrMergeHalted = errors.New("cluster: merging halted after join law violation")
	ErrNoPeers     = errors.New("cluster: no peers to gossip with")
	ErrBadMessage  = errors.New("cluster: malformed gossip message")
)
