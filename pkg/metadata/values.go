package metadata

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/types"
)

// Leaf values of a table record. Each one has a deterministic encoding: maps are written
// sorted by key, so equal values always encode to equal bytes.

// Ref points at a datacenter or a database. The nil UUID means "none".
type Ref uuid.UUID

func (r Ref) UUID() uuid.UUID { return uuid.UUID(r) }
func (r Ref) IsNil() bool     { return uuid.UUID(r) == uuid.Nil }
func (r Ref) String() string  { return uuid.UUID(r).String() }

func (r Ref) MarshalText() ([]byte, error) {
	return uuid.UUID(r).MarshalText()
}

func (r *Ref) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(r).UnmarshalText(b)
}

func (r Ref) MarshalValue() custom.Value {
	u := uuid.UUID(r)
	return custom.Bytes(u[:])
}

func UnmarshalRef(v custom.Value) (Ref, error) {
	b, err := v.AsBytes()
	if err != nil {
		return Ref{}, err
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Ref{}, &custom.DecodeError{Message: "ref: " + err.Error()}
	}
	return Ref(u), nil
}

func marshalID(id uuid.UUID) custom.Value { return custom.Bytes(id[:]) }

func unmarshalID(v custom.Value) (uuid.UUID, error) {
	r, err := UnmarshalRef(v)
	return r.UUID(), err
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
}

// ключи map-полей кодируются строго по возрастанию, иначе две кодировки одного значения
func checkIDOrder(what string, i int, prev, id uuid.UUID) error {
	if i > 0 && bytes.Compare(prev[:], id[:]) >= 0 {
		return &custom.DecodeError{Message: fmt.Sprintf("%s %d: datacenters not strictly sorted", what, i)}
	}
	return nil
}

// Name is a table name.
type Name string

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func (n Name) MarshalValue() custom.Value { return custom.String(string(n)) }

func UnmarshalName(v custom.Value) (Name, error) {
	s, err := v.AsString()
	return Name(s), err
}

func checkName(n Name) (Name, error) {
	if !namePattern.MatchString(string(n)) {
		return "", fmt.Errorf("%w: name %q must be non-empty and use only letters, digits and underscores", ErrInvalidValue, n)
	}
	return n, nil
}

// PrimaryKey is the name of the primary key attribute. Fixed at creation.
type PrimaryKey string

func (k PrimaryKey) MarshalValue() custom.Value { return custom.String(string(k)) }

func UnmarshalPrimaryKey(v custom.Value) (PrimaryKey, error) {
	s, err := v.AsString()
	return PrimaryKey(s), err
}

func checkPrimaryKey(k PrimaryKey) (PrimaryKey, error) {
	if k == "" {
		return "", fmt.Errorf("%w: empty primary key", ErrInvalidValue)
	}
	return k, nil
}

func checkRef(r Ref) (Ref, error) { return r, nil }

// Affinities is the number of secondary replicas wanted per datacenter.
type Affinities map[types.DatacenterID]int32

func (a Affinities) MarshalValue() custom.Value {
	ids := make([]uuid.UUID, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sortIDs(ids)

	items := make([]custom.Value, len(ids))
	for i, id := range ids {
		items[i] = custom.Message(marshalID(id), custom.Int32(a[id]))
	}
	return custom.List(items...)
}

func UnmarshalAffinities(v custom.Value) (Affinities, error) {
	items, err := v.AsList()
	if err != nil {
		return nil, fmt.Errorf("affinities: %w", err)
	}
	a := make(Affinities, len(items))
	var prev uuid.UUID
	for i, item := range items {
		fields, err := item.AsMessage(2)
		if err != nil {
			return nil, fmt.Errorf("affinity %d: %w", i, err)
		}
		id, err := unmarshalID(fields[0])
		if err != nil {
			return nil, fmt.Errorf("affinity %d datacenter: %w", i, err)
		}
		if err := checkIDOrder("affinity", i, prev, id); err != nil {
			return nil, err
		}
		prev = id
		n, err := fields[1].AsInt32()
		if err != nil {
			return nil, fmt.Errorf("affinity %d count: %w", i, err)
		}
		a[id] = n
	}
	return a, nil
}

func checkAffinities(a Affinities) (Affinities, error) {
	out := make(Affinities, len(a))
	for dc, n := range a {
		if n < 0 {
			return nil, fmt.Errorf("%w: negative replica count %d for datacenter %s", ErrInvalidValue, n, dc)
		}
		out[dc] = n
	}
	return out, nil
}

// AckExpectations maps datacenters to their acknowledgement requirement.
type AckExpectations map[types.DatacenterID]AckExpectation

func (a AckExpectations) MarshalValue() custom.Value {
	ids := make([]uuid.UUID, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sortIDs(ids)

	items := make([]custom.Value, len(ids))
	for i, id := range ids {
		items[i] = custom.Message(marshalID(id), a[id].MarshalValue())
	}
	return custom.List(items...)
}

func UnmarshalAckExpectations(v custom.Value) (AckExpectations, error) {
	items, err := v.AsList()
	if err != nil {
		return nil, fmt.Errorf("ack expectations: %w", err)
	}
	a := make(AckExpectations, len(items))
	var prev uuid.UUID
	for i, item := range items {
		fields, err := item.AsMessage(2)
		if err != nil {
			return nil, fmt.Errorf("ack expectation %d: %w", i, err)
		}
		id, err := unmarshalID(fields[0])
		if err != nil {
			return nil, fmt.Errorf("ack expectation %d datacenter: %w", i, err)
		}
		if err := checkIDOrder("ack expectation", i, prev, id); err != nil {
			return nil, err
		}
		prev = id
		ack, err := UnmarshalAckExpectation(fields[1])
		if err != nil {
			return nil, err
		}
		a[id] = ack
	}
	return a, nil
}

func checkAckExpectations(a AckExpectations) (AckExpectations, error) {
	out := make(AckExpectations, len(a))
	for dc, ack := range a {
		out[dc] = ack
	}
	return out, nil
}

// Shards is the partition of the key space into shards, sorted by left bound.
type Shards []KeyRange

func (s Shards) MarshalValue() custom.Value {
	items := make([]custom.Value, len(s))
	for i, r := range s {
		items[i] = r.MarshalValue()
	}
	return custom.List(items...)
}

func UnmarshalShards(v custom.Value) (Shards, error) {
	items, err := v.AsList()
	if err != nil {
		return nil, fmt.Errorf("shards: %w", err)
	}
	s := make(Shards, len(items))
	for i, item := range items {
		if s[i], err = UnmarshalKeyRange(item); err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
	}
	return s, nil
}

func checkShards(s Shards) (Shards, error) {
	out := append(Shards(nil), s...)
	if err := checkDisjoint(out); err != nil {
		return nil, fmt.Errorf("%w: shards: %v", ErrInvalidValue, err)
	}
	if err := checkPartition(out); err != nil {
		return nil, fmt.Errorf("%w: shards: %v", ErrInvalidValue, err)
	}
	return out, nil
}

// Role is what a server does for a key range in a blueprint.
type Role uint8

const (
	RoleNothing Role = iota
	RolePrimary
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RoleNothing:
		return "nothing"
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "nothing":
		*r = RoleNothing
	case "primary":
		*r = RolePrimary
	case "secondary":
		*r = RoleSecondary
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidValue, b)
	}
	return nil
}

// Assignment is one server's role for one key range.
type Assignment struct {
	Server types.NodeID `json:"server"`
	Range  KeyRange     `json:"range"`
	Role   Role         `json:"role"`
}

// Blueprint is the proposed serving plan of a table: which server does what for which keys.
// It is only a value to agree on; nothing here computes it.
type Blueprint []Assignment

func (b Blueprint) MarshalValue() custom.Value {
	items := make([]custom.Value, len(b))
	for i, a := range b {
		items[i] = custom.Message(custom.String(string(a.Server)), a.Range.MarshalValue(), custom.Uint32(uint32(a.Role)))
	}
	return custom.List(items...)
}

func UnmarshalBlueprint(v custom.Value) (Blueprint, error) {
	items, err := v.AsList()
	if err != nil {
		return nil, fmt.Errorf("blueprint: %w", err)
	}
	b := make(Blueprint, len(items))
	for i, item := range items {
		fields, err := item.AsMessage(3)
		if err != nil {
			return nil, fmt.Errorf("assignment %d: %w", i, err)
		}
		server, err := fields[0].AsString()
		if err != nil {
			return nil, fmt.Errorf("assignment %d server: %w", i, err)
		}
		r, err := UnmarshalKeyRange(fields[1])
		if err != nil {
			return nil, fmt.Errorf("assignment %d: %w", i, err)
		}
		role, err := fields[2].AsUint32()
		if err != nil {
			return nil, fmt.Errorf("assignment %d role: %w", i, err)
		}
		if role > uint32(RoleSecondary) {
			return nil, &custom.DecodeError{Message: fmt.Sprintf("assignment %d: unknown role %d", i, role)}
		}
		b[i] = Assignment{Server: types.NodeID(server), Range: r, Role: Role(role)}
	}
	return b, nil
}

func checkBlueprint(b Blueprint) (Blueprint, error) {
	byServer := make(map[types.NodeID][]KeyRange)
	out := make(Blueprint, len(b))
	for i, a := range b {
		if a.Server == "" {
			return nil, fmt.Errorf("%w: blueprint assignment without server", ErrInvalidValue)
		}
		if a.Role > RoleSecondary {
			return nil, fmt.Errorf("%w: blueprint: %s", ErrInvalidValue, a.Role)
		}
		a.Range = a.Range.normalized()
		out[i] = a
		byServer[a.Server] = append(byServer[a.Server], a.Range)
	}
	for server, ranges := range byServer {
		if err := checkDisjoint(ranges); err != nil {
			return nil, fmt.Errorf("%w: blueprint for %s: %v", ErrInvalidValue, server, err)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].Range.Less(out[j].Range)
	})
	return out, nil
}

// PrimaryPin pins the primary replica of a key range to a server; an empty server means no pin.
type PrimaryPin struct {
	Range  KeyRange     `json:"range"`
	Server types.NodeID `json:"server,omitempty"`
}

type PrimaryPinnings []PrimaryPin

func (p PrimaryPinnings) MarshalValue() custom.Value {
	items := make([]custom.Value, len(p))
	for i, pin := range p {
		items[i] = custom.Message(pin.Range.MarshalValue(), custom.String(string(pin.Server)))
	}
	return custom.List(items...)
}

func UnmarshalPrimaryPinnings(v custom.Value) (PrimaryPinnings, error) {
	items, err := v.AsList()
	if err != nil {
		return nil, fmt.Errorf("primary pinnings: %w", err)
	}
	p := make(PrimaryPinnings, len(items))
	for i, item := range items {
		fields, err := item.AsMessage(2)
		if err != nil {
			return nil, fmt.Errorf("primary pin %d: %w", i, err)
		}
		r, err := UnmarshalKeyRange(fields[0])
		if err != nil {
			return nil, fmt.Errorf("primary pin %d: %w", i, err)
		}
		server, err := fields[1].AsString()
		if err != nil {
			return nil, fmt.Errorf("primary pin %d server: %w", i, err)
		}
		p[i] = PrimaryPin{Range: r, Server: types.NodeID(server)}
	}
	return p, nil
}

func checkPrimaryPinnings(p PrimaryPinnings) (PrimaryPinnings, error) {
	ranges := make([]KeyRange, len(p))
	for i, pin := range p {
		ranges[i] = pin.Range
	}
	if err := checkDisjoint(ranges); err != nil {
		return nil, fmt.Errorf("%w: primary pinnings: %v", ErrInvalidValue, err)
	}
	out := make(PrimaryPinnings, len(p))
	for i, pin := range p {
		out[i] = PrimaryPin{Range: pin.Range.normalized(), Server: pin.Server}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Range.Less(out[j].Range) })
	return out, nil
}

// SecondaryPin pins the secondary replicas of a key range to a set of servers.
type SecondaryPin struct {
	Range   KeyRange       `json:"range"`
	Servers []types.NodeID `json:"servers"`
}

type SecondaryPinnings []SecondaryPin

func (p SecondaryPinnings) MarshalValue() custom.Value {
	items := make([]custom.Value, len(p))
	for i, pin := range p {
		servers := make([]custom.Value, len(pin.Servers))
		for j, s := range pin.Servers {
			servers[j] = custom.String(string(s))
		}
		items[i] = custom.Message(pin.Range.MarshalValue(), custom.List(servers...))
	}
	return custom.List(items...)
}

func UnmarshalSecondaryPinnings(v custom.Value) (SecondaryPinnings, error) {
	items, err := v.AsList()
	if err != nil {
		return nil, fmt.Errorf("secondary pinnings: %w", err)
	}
	p := make(SecondaryPinnings, len(items))
	for i, item := range items {
		fields, err := item.AsMessage(2)
		if err != nil {
			return nil, fmt.Errorf("secondary pin %d: %w", i, err)
		}
		r, err := UnmarshalKeyRange(fields[0])
		if err != nil {
			return nil, fmt.Errorf("secondary pin %d: %w", i, err)
		}
		list, err := fields[1].AsList()
		if err != nil {
			return nil, fmt.Errorf("secondary pin %d servers: %w", i, err)
		}
		servers := make([]types.NodeID, len(list))
		for j, s := range list {
			name, err := s.AsString()
			if err != nil {
				return nil, fmt.Errorf("secondary pin %d server %d: %w", i, j, err)
			}
			servers[j] = types.NodeID(name)
		}
		p[i] = SecondaryPin{Range: r, Servers: servers}
	}
	return p, nil
}

func checkSecondaryPinnings(p SecondaryPinnings) (SecondaryPinnings, error) {
	ranges := make([]KeyRange, len(p))
	for i, pin := range p {
		ranges[i] = pin.Range
	}
	if err := checkDisjoint(ranges); err != nil {
		return nil, fmt.Errorf("%w: secondary pinnings: %v", ErrInvalidValue, err)
	}
	out := make(SecondaryPinnings, len(p))
	for i, pin := range p {
		out[i] = SecondaryPin{Range: pin.Range.normalized(), Servers: uniqueSorted(pin.Servers)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Range.Less(out[j].Range) })
	return out, nil
}

func uniqueSorted(servers []types.NodeID) []types.NodeID {
	out := make([]types.NodeID, 0, len(servers))
	seen := make(map[types.NodeID]struct{}, len(servers))
	for _, s := range servers {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
