package metadata

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"

	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/semilattice"
	"nsmeta/pkg/types"
	"nsmeta/pkg/vclock"
)

// Slot is a table record that may be deleted.
type Slot = semilattice.Deletable[Table]

// Namespaces is the cluster-wide table map. It is immutable: every operation returns a new map
// that shares the unchanged slots with its input. A nil *Namespaces is the empty map.
type Namespaces struct {
	tables map[types.NamespaceID]*Slot
}

func NewNamespaces() *Namespaces {
	return &Namespaces{tables: map[types.NamespaceID]*Slot{}}
}

func (m *Namespaces) entries() map[types.NamespaceID]*Slot {
	if m == nil {
		return nil
	}
	return m.tables
}

// with returns a copy of m with one slot replaced. The other slots are shared.
func (m *Namespaces) with(id types.NamespaceID, s Slot) *Namespaces {
	src := m.entries()
	next := make(map[types.NamespaceID]*Slot, len(src)+1)
	for k, v := range src {
		next[k] = v
	}
	next[id] = &s
	return &Namespaces{tables: next}
}

// Len counts every slot, tombstones included.
func (m *Namespaces) Len() int {
	return len(m.entries())
}

// IDs returns all table ids, tombstones included, sorted.
func (m *Namespaces) IDs() []types.NamespaceID {
	ids := make([]types.NamespaceID, 0, m.Len())
	for id := range m.entries() {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Slot returns the raw slot of a table.
func (m *Namespaces) Slot(id types.NamespaceID) (Slot, bool) {
	s, ok := m.entries()[id]
	if !ok {
		return Slot{}, false
	}
	return *s, true
}

// Get returns the record of a live table.
func (m *Namespaces) Get(id types.NamespaceID) (Table, error) {
	s, ok := m.entries()[id]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t, live := s.Inner()
	if !live {
		return Table{}, fmt.Errorf("%w: %s", ErrTombstoned, id)
	}
	return t, nil
}

// Entry is a live table and its id.
type Entry struct {
	ID    types.NamespaceID
	Table Table
}

// Live returns the live tables sorted by id.
func (m *Namespaces) Live() []Entry {
	var out []Entry
	for _, id := range m.IDs() {
		if t, ok := m.tables[id].Inner(); ok {
			out = append(out, Entry{ID: id, Table: t})
		}
	}
	return out
}

// Lookup finds a live table by name inside a database. Names are resolved values, so during
// a naming conflict the table is found under the winning name.
func (m *Namespaces) Lookup(name Name, database types.DatabaseID) (types.NamespaceID, bool) {
	for _, e := range m.Live() {
		if e.Table.Name.Value() == name && e.Table.Database.Value().UUID() == database {
			return e.ID, true
		}
	}
	return uuid.Nil, false
}

// Conflict is a field holding concurrent writes.
type Conflict struct {
	Table      types.NamespaceID       `json:"table"`
	Field      string                  `json:"field"`
	Candidates int                     `json:"candidates"`
	Clock      map[types.NodeID]uint64 `json:"clock"`
}

// Conflicts lists the fields of live tables that hold concurrent writes.
func (m *Namespaces) Conflicts() []Conflict {
	var out []Conflict
	for _, e := range m.Live() {
		for _, f := range tableFields {
			if !f.conflicted(e.Table) {
				continue
			}
			out = append(out, Conflict{
				Table:      e.ID,
				Field:      f.Name(),
				Candidates: len(f.view(e.Table).Candidates),
				Clock:      f.clock(e.Table).Counters(),
			})
		}
	}
	return out
}

// Create adds a new live table with a fresh id.
func (m *Namespaces) Create(writer types.NodeID, database types.DatabaseID, datacenter types.DatacenterID, name Name, primaryKey PrimaryKey) (*Namespaces, types.NamespaceID, error) {
	id := types.NewID()
	next, err := m.CreateWithID(id, writer, database, datacenter, name, primaryKey)
	return next, id, err
}

// CreateWithID adds a new live table under a given id. The name must not be taken by another
// live table of the same database.
func (m *Namespaces) CreateWithID(id types.NamespaceID, writer types.NodeID, database types.DatabaseID, datacenter types.DatacenterID, name Name, primaryKey PrimaryKey) (*Namespaces, error) {
	if _, ok := m.entries()[id]; ok {
		return nil, fmt.Errorf("%w: id %s already exists", ErrInvalidValue, id)
	}
	if other, ok := m.Lookup(name, database); ok {
		return nil, fmt.Errorf("%w: %q is table %s", ErrNameConflict, name, other)
	}
	t, err := NewTable(writer, database, datacenter, name, primaryKey)
	if err != nil {
		return nil, err
	}
	return m.with(id, semilattice.NewLive(t)), nil
}

// Delete tombstones a live table.
func (m *Namespaces) Delete(id types.NamespaceID, writer types.NodeID) (*Namespaces, error) {
	s, ok := m.entries()[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Tombstoned() {
		return nil, fmt.Errorf("%w: %s", ErrTombstoned, id)
	}
	return m.with(id, s.Delete(writer)), nil
}

// Propose writes value into one field of a live table as writer. The value is validated and
// normalized first; the new cell causally follows everything the table has seen.
func Propose[V semilattice.Value](m *Namespaces, id types.NamespaceID, writer types.NodeID, f Field[V], value V) (*Namespaces, semilattice.Versioned[V], error) {
	s, ok := m.entries()[id]
	if !ok {
		return nil, semilattice.Versioned[V]{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Tombstoned() {
		return nil, semilattice.Versioned[V]{}, fmt.Errorf("%w: %s", ErrTombstoned, id)
	}

	value, err := f.check(value)
	if err != nil {
		return nil, semilattice.Versioned[V]{}, fmt.Errorf("%s: %w", f.name, err)
	}

	var written semilattice.Versioned[V]
	next, err := s.Edit(writer, func(ctx vclock.Clock, t Table) (Table, error) {
		c := f.cell(&t)
		if f.immutable && !c.IsZero() && !sameValue(c.Value(), value) {
			return Table{}, fmt.Errorf("%w: %s", ErrImmutableField, f.name)
		}
		*c = c.Update(ctx, writer, value)
		written = *c
		return t, nil
	})
	if err != nil {
		return nil, semilattice.Versioned[V]{}, err
	}
	return m.with(id, next), written, nil
}

// Read returns the cell of one field of a live table.
func Read[V semilattice.Value](m *Namespaces, id types.NamespaceID, f Field[V]) (semilattice.Versioned[V], error) {
	t, err := m.Get(id)
	if err != nil {
		return semilattice.Versioned[V]{}, err
	}
	return *f.cell(&t), nil
}

func sameValue[V semilattice.Value](a, b V) bool {
	return bytes.Equal(custom.MustEncode(a.MarshalValue()), custom.MustEncode(b.MarshalValue()))
}

// Join merges two maps: the union of ids, with slots present on both sides joined. Slots that
// come out unchanged keep pointing at the input's slot.
func (m *Namespaces) Join(other *Namespaces) (*Namespaces, error) {
	a, b := m.entries(), other.entries()
	switch {
	case len(b) == 0 && m != nil:
		return m, nil
	case len(a) == 0 && other != nil:
		return other, nil
	}

	out := make(map[types.NamespaceID]*Slot, len(a)+len(b))
	for id, s := range a {
		out[id] = s
	}
	for id, theirs := range b {
		ours, ok := out[id]
		if !ok || ours == theirs {
			out[id] = theirs
			continue
		}
		joined, err := ours.Join(*theirs)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", id, err)
		}
		switch {
		case joined.Equal(*ours):
		case joined.Equal(*theirs):
			out[id] = theirs
		default:
			out[id] = &joined
		}
	}
	return &Namespaces{tables: out}, nil
}

// Equal compares every slot, tombstones included.
func (m *Namespaces) Equal(other *Namespaces) bool {
	a, b := m.entries(), other.entries()
	if len(a) != len(b) {
		return false
	}
	for id, s := range a {
		t, ok := b[id]
		if !ok {
			return false
		}
		if s != t && !s.Equal(*t) {
			return false
		}
	}
	return true
}

// Clock merges the clocks of all slots.
func (m *Namespaces) Clock() vclock.Clock {
	var c vclock.Clock
	for _, s := range m.entries() {
		c = c.Merge(s.Clock())
	}
	return c
}

// Writers returns every writer that appears in the map's clocks, sorted.
func (m *Namespaces) Writers() []types.NodeID {
	return m.Clock().Writers()
}

func (m *Namespaces) MarshalValue() custom.Value {
	ids := m.IDs()
	items := make([]custom.Value, len(ids))
	for i, id := range ids {
		items[i] = custom.Message(marshalID(id), m.tables[id].MarshalValue())
	}
	return custom.List(items...)
}

func UnmarshalNamespaces(v custom.Value) (*Namespaces, error) {
	items, err := v.AsList()
	if err != nil {
		return nil, fmt.Errorf("namespaces: %w", err)
	}
	m := &Namespaces{tables: make(map[types.NamespaceID]*Slot, len(items))}
	var prev types.NamespaceID
	for i, item := range items {
		fields, err := item.AsMessage(2)
		if err != nil {
			return nil, fmt.Errorf("namespace %d: %w", i, err)
		}
		id, err := unmarshalID(fields[0])
		if err != nil {
			return nil, fmt.Errorf("namespace %d id: %w", i, err)
		}
		if i > 0 && bytes.Compare(prev[:], id[:]) >= 0 {
			return nil, &custom.DecodeError{Message: fmt.Sprintf("namespace %d: ids not strictly sorted", i)}
		}
		prev = id
		s, err := semilattice.UnmarshalDeletable(fields[1], UnmarshalTable)
		if err != nil {
			return nil, fmt.Errorf("namespace %s: %w", id, err)
		}
		m.tables[id] = &s
	}
	return m, nil
}

// EncodeNamespaces returns the framed encoding of the map. Equal maps encode to equal bytes.
func EncodeNamespaces(m *Namespaces) ([]byte, error) {
	return custom.Frame(m.MarshalValue())
}

// DecodeNamespaces is the inverse of EncodeNamespaces. Nothing is returned on error.
func DecodeNamespaces(data []byte) (*Namespaces, error) {
	v, err := custom.Unframe(data)
	if err != nil {
		return nil, err
	}
	return UnmarshalNamespaces(v)
}
