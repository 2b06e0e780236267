package types

import "github.com/google/uuid"

// NodeID identifies a node in a cluster. It doubles as the writer identity of causal clocks
// and as the server identity inside blueprints and pinnings.
type NodeID string

// NamespaceID identifies a table.
type NamespaceID = uuid.UUID

// DatabaseID identifies the database owning a table.
type DatabaseID = uuid.UUID

// DatacenterID identifies a datacenter.
type DatacenterID = uuid.UUID

// SeqN is a monotonically increasing local sequence (announcements, journal records).
type SeqN = uint64

// NewID returns a fresh random identifier for namespaces, databases and datacenters.
func NewID() uuid.UUID {
	return uuid.New()
}

// ParseID parses the canonical textual form of an identifier.
func ParseID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
