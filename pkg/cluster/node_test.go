package cluster

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"nsmeta/pkg/compression"
	"nsmeta/pkg/journal"
	"nsmeta/pkg/metadata"
	"nsmeta/pkg/semilattice"
	"nsmeta/pkg/types"
)

var (
	testDB = uuid.MustParse("00000000-0000-0000-0000-0000000000db")
	testDC = uuid.MustParse("00000000-0000-0000-0000-0000000000dc")
)

func newTestNode(id types.NodeID) *Node {
	return NewNode(NodeConfig{ID: id, Datacenter: testDC, VerifyJoinLaws: true})
}

func TestNodeCreateProposeDelete(t *testing.T) {
	n := newTestNode("n1")

	id, err := n.CreateTable(testDB, "users", "id")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	view, err := n.ProposeField(id, "name", []byte(`"accounts"`))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if view.Value != metadata.Name("accounts") {
		t.Fatalf("view value = %v", view.Value)
	}

	cell, err := Propose(n, id, metadata.FieldShards, metadata.Shards{
		{Left: "", Right: "m"},
		{Left: "m", Unbounded: true},
	})
	if err != nil {
		t.Fatalf("typed propose: %v", err)
	}
	if len(cell.Value()) != 2 {
		t.Fatalf("shards = %v", cell.Value())
	}

	tbl, err := n.Snapshot().Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tbl.Name.Value() != "accounts" {
		t.Fatalf("name = %q", tbl.Name.Value())
	}

	if err := n.DeleteTable(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := n.Snapshot().Get(id); !errors.Is(err, metadata.ErrTombstoned) {
		t.Fatalf("get after delete: %v", err)
	}
	if _, err := n.ProposeField(id, "name", []byte(`"again"`)); !errors.Is(err, metadata.ErrTombstoned) {
		t.Fatalf("propose after delete: %v", err)
	}
}

func TestNodeSnapshotsAreImmutable(t *testing.T) {
	n := newTestNode("n1")
	before := n.Snapshot()

	if _, err := n.CreateTable(testDB, "users", "id"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if before.Len() != 0 {
		t.Fatalf("old snapshot changed: %d tables", before.Len())
	}
	if n.Snapshot().Len() != 1 {
		t.Fatalf("new snapshot has %d tables", n.Snapshot().Len())
	}
}

func TestNodeOnChange(t *testing.T) {
	n := newTestNode("n1")
	var calls atomic.Int32
	n.OnChange(func(m *metadata.Namespaces) {
		calls.Add(1)
		// колбэк вызывается вне лока, снапшот уже опубликован
		if n.Snapshot() != m {
			t.Errorf("callback saw an unpublished map")
		}
	})

	id, err := n.CreateTable(testDB, "users", "id")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := n.ProposeField(id, "name", []byte(`"bad name"`)); !errors.Is(err, metadata.ErrInvalidValue) {
		t.Fatalf("expected invalid value, got %v", err)
	}
	// merging a map we already contain publishes nothing
	if _, err := n.Merge(n.Snapshot()); err != nil {
		t.Fatalf("self merge: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("OnChange called %d times, want 1", calls.Load())
	}
}

func TestNodeMergeConverges(t *testing.T) {
	a, b := newTestNode("n1"), newTestNode("n2")
	if _, err := a.CreateTable(testDB, "users", "id"); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := b.CreateTable(testDB, "orders", "id"); err != nil {
		t.Fatalf("create b: %v", err)
	}

	if _, err := a.Merge(b.Snapshot()); err != nil {
		t.Fatalf("merge into a: %v", err)
	}
	if _, err := b.Merge(a.Snapshot()); err != nil {
		t.Fatalf("merge into b: %v", err)
	}
	if !a.Snapshot().Equal(b.Snapshot()) {
		t.Fatalf("nodes diverged")
	}
	if a.Snapshot().Len() != 2 {
		t.Fatalf("expected 2 tables, got %d", a.Snapshot().Len())
	}
	if w := a.Writers(); len(w) != 2 || w[0] != "n1" || w[1] != "n2" {
		t.Fatalf("unexpected writers %v", w)
	}
}

func TestNodeMergeEncodedRejectsGarbage(t *testing.T) {
	n := newTestNode("n1")
	if _, err := n.CreateTable(testDB, "users", "id"); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := n.Snapshot()

	data, err := metadata.EncodeNamespaces(before)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := n.MergeEncoded(data[:len(data)/2]); err == nil {
		t.Fatalf("expected decode error")
	}
	if n.Snapshot() != before {
		t.Fatalf("failed merge changed the snapshot")
	}
}

func TestNodeIntegrityErrorDoesNotHalt(t *testing.T) {
	// две ноды с одним и тем же writer id пишут разные значения при одинаковых часах
	a, b := newTestNode("n1"), newTestNode("n1")
	id, err := a.CreateTable(testDB, "users", "id")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b.Merge(a.Snapshot()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := a.ProposeField(id, "name", []byte(`"left"`)); err != nil {
		t.Fatalf("propose a: %v", err)
	}
	if _, err := b.ProposeField(id, "name", []byte(`"right"`)); err != nil {
		t.Fatalf("propose b: %v", err)
	}

	_, err = a.Merge(b.Snapshot())
	var integrity *semilattice.DataIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected DataIntegrityError, got %v", err)
	}
	if a.Halted() {
		t.Fatalf("integrity error must not halt merging")
	}
}

func TestNodeHaltedRejectsMerges(t *testing.T) {
	a, b := newTestNode("n1"), newTestNode("n2")
	if _, err := b.CreateTable(testDB, "users", "id"); err != nil {
		t.Fatalf("create: %v", err)
	}
	a.halted.Store(true)

	if _, err := a.Merge(b.Snapshot()); !errors.Is(err, ErrMergeHalted) {
		t.Fatalf("expected ErrMergeHalted, got %v", err)
	}
	if a.Snapshot().Len() != 0 {
		t.Fatalf("halted node merged anyway")
	}
	// локальные правки продолжают работать
	if _, err := a.CreateTable(testDB, "orders", "id"); err != nil {
		t.Fatalf("local edit on halted node: %v", err)
	}
}

func TestNodeRestoreFromJournal(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(dir, compression.Zstd, 4)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	n := NewNode(NodeConfig{ID: "n1", Datacenter: testDC, Journal: j})
	id, err := n.CreateTable(testDB, "users", "id")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := n.ProposeField(id, "primary_key", []byte(`"id"`)); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	j, err = journal.Open(dir, compression.Zstd, 4)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j.Close()

	restarted := NewNode(NodeConfig{ID: "n1", Datacenter: testDC, Journal: j})
	ok, err := restarted.Restore()
	if err != nil || !ok {
		t.Fatalf("Restore() = %v, %v", ok, err)
	}
	if !restarted.Snapshot().Equal(n.Snapshot()) {
		t.Fatalf("restored map differs from the saved one")
	}
}

func TestNodeRestoreEmptyJournal(t *testing.T) {
	j, err := journal.Open(t.TempDir(), compression.None, 4)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	n := NewNode(NodeConfig{ID: "n1", Datacenter: testDC, Journal: j})
	if ok, err := n.Restore(); ok || err != nil {
		t.Fatalf("Restore() on empty journal = %v, %v", ok, err)
	}
}
