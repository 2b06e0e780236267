package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"

	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/semilattice"
	"nsmeta/pkg/types"
	"nsmeta/pkg/vclock"
)

// Field names one versioned field of a table record. Values of this type are the only way to
// address fields from outside the package.
type Field[V semilattice.Value] struct {
	name      string
	immutable bool
	cell      func(*Table) *semilattice.Versioned[V]
	check     func(V) (V, error)
	decode    func(custom.Value) (V, error)
}

func (f Field[V]) Name() string { return f.name }

var (
	FieldBlueprint = Field[Blueprint]{
		name:   "blueprint",
		cell:   func(t *Table) *semilattice.Versioned[Blueprint] { return &t.Blueprint },
		check:  checkBlueprint,
		decode: UnmarshalBlueprint,
	}
	FieldPrimaryDatacenter = Field[Ref]{
		name:   "primary_datacenter",
		cell:   func(t *Table) *semilattice.Versioned[Ref] { return &t.PrimaryDatacenter },
		check:  checkRef,
		decode: UnmarshalRef,
	}
	FieldReplicaAffinities = Field[Affinities]{
		name:   "replica_affinities",
		cell:   func(t *Table) *semilattice.Versioned[Affinities] { return &t.ReplicaAffinities },
		check:  checkAffinities,
		decode: UnmarshalAffinities,
	}
	FieldAckExpectations = Field[AckExpectations]{
		name:   "ack_expectations",
		cell:   func(t *Table) *semilattice.Versioned[AckExpectations] { return &t.AckExpectations },
		check:  checkAckExpectations,
		decode: UnmarshalAckExpectations,
	}
	FieldShards = Field[Shards]{
		name:   "shards",
		cell:   func(t *Table) *semilattice.Versioned[Shards] { return &t.Shards },
		check:  checkShards,
		decode: UnmarshalShards,
	}
	FieldName = Field[Name]{
		name:   "name",
		cell:   func(t *Table) *semilattice.Versioned[Name] { return &t.Name },
		check:  checkName,
		decode: UnmarshalName,
	}
	FieldPrimaryPinnings = Field[PrimaryPinnings]{
		name:   "primary_pinnings",
		cell:   func(t *Table) *semilattice.Versioned[PrimaryPinnings] { return &t.PrimaryPinnings },
		check:  checkPrimaryPinnings,
		decode: UnmarshalPrimaryPinnings,
	}
	FieldSecondaryPinnings = Field[SecondaryPinnings]{
		name:   "secondary_pinnings",
		cell:   func(t *Table) *semilattice.Versioned[SecondaryPinnings] { return &t.SecondaryPinnings },
		check:  checkSecondaryPinnings,
		decode: UnmarshalSecondaryPinnings,
	}
	FieldPrimaryKey = Field[PrimaryKey]{
		name:      "primary_key",
		immutable: true,
		cell:      func(t *Table) *semilattice.Versioned[PrimaryKey] { return &t.PrimaryKey },
		check:     checkPrimaryKey,
		decode:    UnmarshalPrimaryKey,
	}
	FieldDatabase = Field[Ref]{
		name:   "database",
		cell:   func(t *Table) *semilattice.Versioned[Ref] { return &t.Database },
		check:  checkRef,
		decode: UnmarshalRef,
	}
)

// anyField is the type-erased view of a Field used to walk all fields of a record.
type anyField interface {
	Name() string
	join(dst *Table, a, b Table) error
	equal(a, b Table) bool
	clock(t Table) vclock.Clock
	conflicted(t Table) bool
	marshal(t Table) custom.Value
	unmarshal(dst *Table, v custom.Value) error
	view(t Table) FieldView
	proposeJSON(m *Namespaces, id types.NamespaceID, writer types.NodeID, data []byte) (*Namespaces, FieldView, error)
}

// tableFields lists the record fields in encoding order. The order is part of the format.
var tableFields = []anyField{
	FieldBlueprint,
	FieldPrimaryDatacenter,
	FieldReplicaAffinities,
	FieldAckExpectations,
	FieldShards,
	FieldName,
	FieldPrimaryPinnings,
	FieldSecondaryPinnings,
	FieldPrimaryKey,
	FieldDatabase,
}

// FieldNames returns the record field names in encoding order.
func FieldNames() []string {
	names := make([]string, len(tableFields))
	for i, f := range tableFields {
		names[i] = f.Name()
	}
	return names
}

func lookupField(name string) (anyField, error) {
	for _, f := range tableFields {
		if f.Name() == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

func (f Field[V]) join(dst *Table, a, b Table) error {
	joined, err := f.cell(&a).Join(*f.cell(&b))
	if err != nil {
		return fmt.Errorf("%s: %w", f.name, err)
	}
	*f.cell(dst) = joined
	return nil
}

func (f Field[V]) equal(a, b Table) bool {
	return f.cell(&a).Equal(*f.cell(&b))
}

func (f Field[V]) clock(t Table) vclock.Clock {
	return f.cell(&t).Clock()
}

func (f Field[V]) conflicted(t Table) bool {
	return f.cell(&t).Conflicted()
}

func (f Field[V]) marshal(t Table) custom.Value {
	return f.cell(&t).MarshalValue()
}

func (f Field[V]) unmarshal(dst *Table, v custom.Value) error {
	c, err := semilattice.UnmarshalVersioned(v, f.decode)
	if err != nil {
		return fmt.Errorf("%s: %w", f.name, err)
	}
	*f.cell(dst) = c
	return nil
}

// FieldView is the JSON shape of one field: the resolved value, its clock, and the competing
// values when the field holds concurrent writes.
type FieldView struct {
	Field      string                  `json:"field"`
	Value      any                     `json:"value"`
	Clock      map[types.NodeID]uint64 `json:"clock"`
	Conflicted bool                    `json:"conflicted,omitempty"`
	Candidates []any                   `json:"candidates,omitempty"`
}

func (f Field[V]) view(t Table) FieldView {
	c := f.cell(&t)
	v := FieldView{
		Field:      f.name,
		Value:      c.Value(),
		Clock:      c.Clock().Counters(),
		Conflicted: c.Conflicted(),
	}
	if v.Conflicted {
		for _, cand := range c.Candidates() {
			v.Candidates = append(v.Candidates, cand)
		}
	}
	return v
}

func (f Field[V]) proposeJSON(m *Namespaces, id types.NamespaceID, writer types.NodeID, data []byte) (*Namespaces, FieldView, error) {
	var value V
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&value); err != nil {
		return nil, FieldView{}, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f.name, err)
	}

	next, _, err := Propose(m, id, writer, f, value)
	if err != nil {
		return nil, FieldView{}, err
	}
	slot := next.tables[id]
	t, _ := slot.Inner()
	return next, f.view(t), nil
}

// ReadField returns the view of a field addressed by name.
func ReadField(m *Namespaces, id types.NamespaceID, name string) (FieldView, error) {
	f, err := lookupField(name)
	if err != nil {
		return FieldView{}, err
	}
	t, err := m.Get(id)
	if err != nil {
		return FieldView{}, err
	}
	return f.view(t), nil
}

// ProposeField decodes a JSON value for the named field and proposes it.
func ProposeField(m *Namespaces, id types.NamespaceID, writer types.NodeID, name string, data []byte) (*Namespaces, FieldView, error) {
	f, err := lookupField(name)
	if err != nil {
		return nil, FieldView{}, err
	}
	return f.proposeJSON(m, id, writer, data)
}

// Views returns every field of a table in encoding order.
func Views(t Table) []FieldView {
	out := make([]FieldView, len(tableFields))
	for i, f := range tableFields {
		out[i] = f.view(t)
	}
	return out
}
