package metadata

import (
	"fmt"

	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/semilattice"
	"nsmeta/pkg/types"
	"nsmeta/pkg/vclock"
)

// Table is the metadata record of one table. Every field is versioned on its own, so two
// administrators editing different fields concurrently never conflict.
//
// The zero Table has no fields written and is the identity of Join.
type Table struct {
	Blueprint         semilattice.Versioned[Blueprint]
	PrimaryDatacenter semilattice.Versioned[Ref]
	ReplicaAffinities semilattice.Versioned[Affinities]
	AckExpectations   semilattice.Versioned[AckExpectations]
	Shards            semilattice.Versioned[Shards]
	Name              semilattice.Versioned[Name]
	PrimaryPinnings   semilattice.Versioned[PrimaryPinnings]
	SecondaryPinnings semilattice.Versioned[SecondaryPinnings]
	PrimaryKey        semilattice.Versioned[PrimaryKey]
	Database          semilattice.Versioned[Ref]
}

// NewTable builds the record of a freshly created table. Every field starts at clock {writer:1}:
// an empty blueprint, the creating datacenter as primary datacenter with no extra replicas and
// one acknowledgement, a single shard over the whole key space and no pinnings.
func NewTable(writer types.NodeID, database types.DatabaseID, datacenter types.DatacenterID, name Name, primaryKey PrimaryKey) (Table, error) {
	name, err := checkName(name)
	if err != nil {
		return Table{}, err
	}
	if primaryKey, err = checkPrimaryKey(primaryKey); err != nil {
		return Table{}, err
	}

	origin := vclock.Clock{}.Advance(writer)
	return Table{
		Blueprint:         semilattice.At(origin, Blueprint{}),
		PrimaryDatacenter: semilattice.At(origin, Ref(datacenter)),
		ReplicaAffinities: semilattice.At(origin, Affinities{datacenter: 0}),
		AckExpectations:   semilattice.At(origin, AckExpectations{datacenter: {RequiredAcks: 1, HardDurability: true}}),
		Shards:            semilattice.At(origin, Shards{Universe()}),
		Name:              semilattice.At(origin, name),
		PrimaryPinnings:   semilattice.At(origin, PrimaryPinnings{{Range: Universe()}}),
		SecondaryPinnings: semilattice.At(origin, SecondaryPinnings{{Range: Universe(), Servers: []types.NodeID{}}}),
		PrimaryKey:        semilattice.At(origin, primaryKey),
		Database:          semilattice.At(origin, Ref(database)),
	}, nil
}

// Join merges the records field by field.
func (t Table) Join(other Table) (Table, error) {
	var out Table
	for _, f := range tableFields {
		if err := f.join(&out, t, other); err != nil {
			return Table{}, err
		}
	}
	return out, nil
}

func (t Table) Equal(other Table) bool {
	for _, f := range tableFields {
		if !f.equal(t, other) {
			return false
		}
	}
	return true
}

// Clock merges the clocks of all fields.
func (t Table) Clock() vclock.Clock {
	var c vclock.Clock
	for _, f := range tableFields {
		c = c.Merge(f.clock(t))
	}
	return c
}

// Conflicts returns the names of fields that currently hold concurrent writes.
func (t Table) Conflicts() []string {
	var out []string
	for _, f := range tableFields {
		if f.conflicted(t) {
			out = append(out, f.Name())
		}
	}
	return out
}

func (t Table) MarshalValue() custom.Value {
	values := make([]custom.Value, len(tableFields))
	for i, f := range tableFields {
		values[i] = f.marshal(t)
	}
	return custom.Message(values...)
}

func UnmarshalTable(v custom.Value) (Table, error) {
	values, err := v.AsMessage(len(tableFields))
	if err != nil {
		return Table{}, fmt.Errorf("table: %w", err)
	}
	var t Table
	for i, f := range tableFields {
		if err := f.unmarshal(&t, values[i]); err != nil {
			return Table{}, fmt.Errorf("table: %w", err)
		}
	}
	return t, nil
}

func EncodeTable(t Table) ([]byte, error) {
	return custom.Frame(t.MarshalValue())
}

func DecodeTable(data []byte) (Table, error) {
	v, err := custom.Unframe(data)
	if err != nil {
		return Table{}, err
	}
	return UnmarshalTable(v)
}
