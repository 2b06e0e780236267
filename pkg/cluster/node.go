package cluster

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipset"

	"nsmeta/pkg/directory"
	"nsmeta/pkg/journal"
	"nsmeta/pkg/metadata"
	"nsmeta/pkg/semilattice"
	"nsmeta/pkg/types"
)

// Snapshotter persists encoded snapshots of the map. *journal.Journal implements it.
type Snapshotter interface {
	Append(data []byte) types.SeqN
	Last() (journal.Record, bool, error)
}

// NodeConfig describes one node context.
type NodeConfig struct {
	ID         types.NodeID
	Datacenter types.DatacenterID
	// VerifyJoinLaws checks idempotence and commutativity on every peer merge and stops
	// merging on the first violation.
	VerifyJoinLaws bool
	Journal        Snapshotter
}

// Node is the per-node context: the current metadata map, the directory and the write path.
// Readers take a snapshot without locking; every mutation is read-current, compute, publish
// under one mutex.
type Node struct {
	id         types.NodeID
	datacenter types.DatacenterID
	verify     bool
	journal    Snapshotter
	dir        *directory.Directory

	current atomic.Pointer[metadata.Namespaces]
	halted  atomic.Bool

	mu   sync.Mutex
	seen *skipset.FuncSet[types.NodeID] // писатели, уже встреченные в карте

	subsMu sync.RWMutex
	subs   []func(*metadata.Namespaces)
}

func NewNode(cfg NodeConfig) *Node {
	n := &Node{
		id:         cfg.ID,
		datacenter: cfg.Datacenter,
		verify:     cfg.VerifyJoinLaws,
		journal:    cfg.Journal,
		dir:        directory.New(),
		seen:       skipset.NewFunc[types.NodeID](func(a, b types.NodeID) bool { return a < b }),
	}
	n.seen.Add(cfg.ID)
	n.current.Store(metadata.NewNamespaces())
	return n
}

func (n *Node) ID() types.NodeID                { return n.id }
func (n *Node) Datacenter() types.DatacenterID  { return n.datacenter }
func (n *Node) Directory() *directory.Directory { return n.dir }

// Snapshot returns the current map. The value is immutable.
func (n *Node) Snapshot() *metadata.Namespaces {
	return n.current.Load()
}

// Halted reports whether merging stopped after a join law violation.
func (n *Node) Halted() bool {
	return n.halted.Load()
}

// Writers lists every writer seen so far, this node included, in sorted order.
func (n *Node) Writers() []types.NodeID {
	out := make([]types.NodeID, 0, n.seen.Len())
	n.seen.Range(func(w types.NodeID) bool {
		out = append(out, w)
		return true
	})
	return out
}

// OnChange registers fn to be called with every newly published map, outside the node lock.
func (n *Node) OnChange(fn func(*metadata.Namespaces)) {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	n.subs = append(n.subs, fn)
}

// update serializes a mutation and publishes its result.
func (n *Node) update(fn func(cur *metadata.Namespaces) (*metadata.Namespaces, error)) (*metadata.Namespaces, error) {
	n.mu.Lock()
	cur := n.current.Load()
	next, err := fn(cur)
	if err != nil {
		n.mu.Unlock()
		return cur, err
	}
	if next == cur {
		n.mu.Unlock()
		return cur, nil
	}
	n.noteWriters(next)
	n.current.Store(next)
	n.persist(next)
	n.mu.Unlock()

	n.subsMu.RLock()
	subs := n.subs
	n.subsMu.RUnlock()
	for _, fn := range subs {
		fn(next)
	}
	return next, nil
}

// persist hands the snapshot to the journal. Append does not block, so it runs under the lock
// and the journal sees snapshots in publish order.
func (n *Node) persist(m *metadata.Namespaces) {
	if n.journal == nil {
		return
	}
	data, err := metadata.EncodeNamespaces(m)
	if err != nil {
		slog.Error("failed to encode snapshot", "node", n.id, "error", err)
		return
	}
	n.journal.Append(data)
}

// noteWriters logs writers this node has not seen before. Unknown writers are not an error:
// their counters simply start from zero.
func (n *Node) noteWriters(m *metadata.Namespaces) {
	for _, w := range m.Writers() {
		if !n.seen.Add(w) {
			continue
		}
		slog.Info("first write seen from writer", "node", n.id, "writer", w)
	}
}

// CreateTable adds a table in this node's datacenter.
func (n *Node) CreateTable(database types.DatabaseID, name metadata.Name, primaryKey metadata.PrimaryKey) (types.NamespaceID, error) {
	var id types.NamespaceID
	_, err := n.update(func(cur *metadata.Namespaces) (*metadata.Namespaces, error) {
		next, created, err := cur.Create(n.id, database, n.datacenter, name, primaryKey)
		id = created
		return next, err
	})
	if err != nil {
		return id, fmt.Errorf("create table %q: %w", name, err)
	}
	slog.Info("table created", "node", n.id, "table", id, "name", name)
	return id, nil
}

func (n *Node) DeleteTable(id types.NamespaceID) error {
	_, err := n.update(func(cur *metadata.Namespaces) (*metadata.Namespaces, error) {
		return cur.Delete(id, n.id)
	})
	if err != nil {
		return fmt.Errorf("delete table %s: %w", id, err)
	}
	slog.Info("table deleted", "node", n.id, "table", id)
	return nil
}

// ProposeField proposes a JSON encoded value for a field addressed by name.
func (n *Node) ProposeField(id types.NamespaceID, field string, data []byte) (metadata.FieldView, error) {
	var view metadata.FieldView
	_, err := n.update(func(cur *metadata.Namespaces) (*metadata.Namespaces, error) {
		next, v, err := metadata.ProposeField(cur, id, n.id, field, data)
		view = v
		return next, err
	})
	return view, err
}

// Propose is the typed form of ProposeField.
func Propose[V semilattice.Value](n *Node, id types.NamespaceID, f metadata.Field[V], value V) (semilattice.Versioned[V], error) {
	var cell semilattice.Versioned[V]
	_, err := n.update(func(cur *metadata.Namespaces) (*metadata.Namespaces, error) {
		next, c, err := metadata.Propose(cur, id, n.id, f, value)
		cell = c
		return next, err
	})
	return cell, err
}

// Merge joins a peer's map into the local one.
func (n *Node) Merge(remote *metadata.Namespaces) (*metadata.Namespaces, error) {
	if n.halted.Load() {
		return n.Snapshot(), ErrMergeHalted
	}
	return n.update(func(cur *metadata.Namespaces) (*metadata.Namespaces, error) {
		if n.verify {
			if err := semilattice.CheckJoinLaws(cur, remote); err != nil {
				if errors.Is(err, semilattice.ErrJoinLawViolation) {
					n.halted.Store(true)
					slog.Error("join law violated, merging halted", "node", n.id, "error", err)
				}
				return nil, err
			}
		}
		next, err := cur.Join(remote)
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		if next.Equal(cur) {
			return cur, nil
		}
		return next, nil
	})
}

// MergeEncoded decodes a peer's map and merges it. A malformed map changes nothing.
func (n *Node) MergeEncoded(data []byte) error {
	remote, err := metadata.DecodeNamespaces(data)
	if err != nil {
		return fmt.Errorf("decode peer map: %w", err)
	}
	_, err = n.Merge(remote)
	return err
}

// Restore merges the newest journal snapshot into the node. It returns false when the journal
// is empty.
func (n *Node) Restore() (bool, error) {
	if n.journal == nil {
		return false, nil
	}
	rec, ok, err := n.journal.Last()
	if err != nil || !ok {
		return false, err
	}
	saved, err := metadata.DecodeNamespaces(rec.Data)
	if err != nil {
		return false, fmt.Errorf("decode snapshot %d: %w", rec.Seq, err)
	}
	if _, err := n.update(func(cur *metadata.Namespaces) (*metadata.Namespaces, error) {
		return cur.Join(saved)
	}); err != nil {
		return false, fmt.Errorf("restore snapshot %d: %w", rec.Seq, err)
	}
	slog.Info("restored snapshot", "node", n.id, "seq", rec.Seq, "tables", saved.Len())
	return true, nil
}

// Announce publishes this node's serving state for a table.
func (n *Node) Announce(table types.NamespaceID, payload []byte) directory.Announcement {
	return n.dir.Publish(n.id, table, payload)
}
