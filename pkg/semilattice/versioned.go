package semilattice

import (
	"bytes"
	"fmt"
	"sort"

	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/types"
	"nsmeta/pkg/vclock"
)

type version[T Value] struct {
	clock vclock.Clock
	value T
	enc   []byte // encoded value
	key   []byte // order key of the value, decides concurrent writes
	cenc  []byte // encoded clock, canonical order of the antichain
}

func newVersion[T Value](clock vclock.Clock, value T) version[T] {
	mv := value.MarshalValue()
	return version[T]{
		clock: clock,
		value: value,
		enc:   custom.MustEncode(mv),
		key:   custom.OrderKey(mv),
		cenc:  custom.MustEncode(clock.MarshalValue()),
	}
}

// Versioned is a single field value guarded by a causal clock.
//
// Observably a cell is {value, clock}: a dominating write replaces a dominated one, and
// concurrent writes resolve to the value with the larger order key (custom.OrderKey) under the
// pointwise maximum of their clocks. Internally the cell keeps the causally maximal versions
// (one per concurrent branch) so that resolution stays associative; the next write from any
// node dominates all of them and collapses the cell back to one version.
//
// Cells are immutable. The zero cell holds no value and is the identity of Join.
type Versioned[T Value] struct {
	versions []version[T] // pairwise concurrent, sorted by encoded clock
}

// NewVersioned creates a cell holding value at clock origin for writer.
func NewVersioned[T Value](writer types.NodeID, value T) Versioned[T] {
	return At(vclock.Clock{}.Advance(writer), value)
}

// At creates a cell holding value at an explicit clock.
func At[T Value](clock vclock.Clock, value T) Versioned[T] {
	return Versioned[T]{versions: []version[T]{newVersion(clock, value)}}
}

// IsZero reports whether the cell has never been written.
func (c Versioned[T]) IsZero() bool {
	return len(c.versions) == 0
}

// Value returns the resolved value: the only version, or the concurrent version with the
// largest order key. The zero cell returns the zero T.
func (c Versioned[T]) Value() T {
	var zero T
	if len(c.versions) == 0 {
		return zero
	}
	return c.versions[c.winner()].value
}

func (c Versioned[T]) winner() int {
	best := 0
	for i := 1; i < len(c.versions); i++ {
		if bytes.Compare(c.versions[i].key, c.versions[best].key) > 0 {
			best = i
		}
	}
	return best
}

// Clock returns the pointwise maximum over all versions.
func (c Versioned[T]) Clock() vclock.Clock {
	var clock vclock.Clock
	for _, v := range c.versions {
		clock = clock.Merge(v.clock)
	}
	return clock
}

// Conflicted reports whether the resolved value was picked among concurrent writes of
// different values.
func (c Versioned[T]) Conflicted() bool {
	for i := 1; i < len(c.versions); i++ {
		if !bytes.Equal(c.versions[i].enc, c.versions[0].enc) {
			return true
		}
	}
	return false
}

// Candidates returns the distinct values of the concurrent versions in canonical order.
func (c Versioned[T]) Candidates() []T {
	out := make([]T, 0, len(c.versions))
	for i, v := range c.versions {
		dup := false
		for _, prev := range c.versions[:i] {
			if bytes.Equal(prev.enc, v.enc) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v.value)
		}
	}
	return out
}

// Update returns a new cell holding value. The new clock is the cell's clock merged with the
// causal context ctx and advanced at writer; pass the zero clock when there is no context.
func (c Versioned[T]) Update(ctx vclock.Clock, writer types.NodeID, value T) Versioned[T] {
	return At(c.Clock().Merge(ctx).Advance(writer), value)
}

// Join merges two cells. Versions strictly dominated by a version of the other side are
// dropped; equal clocks must carry equal values, otherwise a *DataIntegrityError is returned.
func (c Versioned[T]) Join(other Versioned[T]) (Versioned[T], error) {
	switch {
	case len(other.versions) == 0:
		return c, nil
	case len(c.versions) == 0:
		return other, nil
	}

	// быстрый путь: одна версия с каждой стороны
	if len(c.versions) == 1 && len(other.versions) == 1 {
		a, b := c.versions[0], other.versions[0]
		switch a.clock.Compare(b.clock) {
		case vclock.Dominates:
			return c, nil
		case vclock.Dominated:
			return other, nil
		case vclock.Equal:
			if !bytes.Equal(a.enc, b.enc) {
				return Versioned[T]{}, &DataIntegrityError{Clock: a.clock, Left: a.enc, Right: b.enc}
			}
			return c, nil
		}
	}

	all := make([]version[T], 0, len(c.versions)+len(other.versions))
	all = append(all, c.versions...)
	all = append(all, other.versions...)

	kept := make([]version[T], 0, len(all))
	for i, v := range all {
		dominated := false
		for j, u := range all {
			if i == j {
				continue
			}
			switch u.clock.Compare(v.clock) {
			case vclock.Dominates:
				dominated = true
			case vclock.Equal:
				if !bytes.Equal(u.enc, v.enc) {
					return Versioned[T]{}, &DataIntegrityError{Clock: v.clock, Left: v.enc, Right: u.enc}
				}
				// дубликат оставляем только первый
				if j < i {
					dominated = true
				}
			}
			if dominated {
				break
			}
		}
		if !dominated {
			kept = append(kept, v)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return bytes.Compare(kept[i].cenc, kept[j].cenc) < 0 })
	return Versioned[T]{versions: kept}, nil
}

// Equal compares clocks and value encodings of every version.
func (c Versioned[T]) Equal(other Versioned[T]) bool {
	if len(c.versions) != len(other.versions) {
		return false
	}
	for i := range c.versions {
		if !bytes.Equal(c.versions[i].cenc, other.versions[i].cenc) ||
			!bytes.Equal(c.versions[i].enc, other.versions[i].enc) {
			return false
		}
	}
	return true
}

func (c Versioned[T]) String() string {
	return fmt.Sprintf("%v@%s", c.Value().MarshalValue(), c.Clock())
}

// MarshalValue encodes the versions in canonical order as (clock, value) pairs.
func (c Versioned[T]) MarshalValue() custom.Value {
	items := make([]custom.Value, len(c.versions))
	for i, v := range c.versions {
		items[i] = custom.Message(v.clock.MarshalValue(), v.value.MarshalValue())
	}
	return custom.List(items...)
}

// UnmarshalVersioned is the inverse of MarshalValue. It rejects antichains that are not
// canonical (unsorted, duplicated or causally comparable versions).
func UnmarshalVersioned[T Value](v custom.Value, decode func(custom.Value) (T, error)) (Versioned[T], error) {
	items, err := v.AsList()
	if err != nil {
		return Versioned[T]{}, fmt.Errorf("versioned: %w", err)
	}

	versions := make([]version[T], 0, len(items))
	for i, item := range items {
		fields, err := item.AsMessage(2)
		if err != nil {
			return Versioned[T]{}, fmt.Errorf("versioned %d: %w", i, err)
		}
		clock, err := vclock.UnmarshalValue(fields[0])
		if err != nil {
			return Versioned[T]{}, fmt.Errorf("versioned %d: %w", i, err)
		}
		if clock.IsZero() {
			return Versioned[T]{}, &custom.DecodeError{Message: fmt.Sprintf("versioned %d: empty clock", i)}
		}
		value, err := decode(fields[1])
		if err != nil {
			return Versioned[T]{}, fmt.Errorf("versioned %d value: %w", i, err)
		}
		ver := newVersion(clock, value)
		for _, prev := range versions {
			if prev.clock.Compare(clock) != vclock.Concurrent {
				return Versioned[T]{}, &custom.DecodeError{Message: fmt.Sprintf("versioned %d: versions are not concurrent", i)}
			}
		}
		if i > 0 && bytes.Compare(versions[i-1].cenc, ver.cenc) >= 0 {
			return Versioned[T]{}, &custom.DecodeError{Message: fmt.Sprintf("versioned %d: versions not sorted", i)}
		}
		versions = append(versions, ver)
	}
	return Versioned[T]{versions: versions}, nil
}
