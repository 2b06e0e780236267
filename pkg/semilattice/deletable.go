package semilattice

import (
	"fmt"

	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/types"
	"nsmeta/pkg/vclock"
)

// Deletable wraps a lattice value that may be deleted.
//
// The slot keeps two clocks: deleted is the clock of the newest delete it has seen (empty when
// never deleted), live is the clock of everything written to the inner value. Both merge
// pointwise on Join, so the slot is a plain product lattice. A slot is tombstoned while live
// does not strictly dominate deleted: a delete wins against concurrent and earlier updates,
// only an update made after observing the delete brings the slot back.
type Deletable[T Lattice[T]] struct {
	deleted vclock.Clock
	live    vclock.Clock
	inner   T
}

// NewLive wraps inner in a live slot.
func NewLive[T Lattice[T]](inner T) Deletable[T] {
	return Deletable[T]{live: inner.Clock(), inner: inner}
}

// IsZero reports whether the slot is the join identity (neither written nor deleted).
func (s Deletable[T]) IsZero() bool {
	return s.deleted.IsZero() && s.live.IsZero()
}

func (s Deletable[T]) Tombstoned() bool {
	return !s.deleted.IsZero() && s.live.Compare(s.deleted) != vclock.Dominates
}

// Clock is the causal position of the slot: deletes and writes together.
func (s Deletable[T]) Clock() vclock.Clock {
	return s.deleted.Merge(s.live)
}

// DeletedAt returns the clock of the newest delete, empty if the slot was never deleted.
func (s Deletable[T]) DeletedAt() vclock.Clock {
	return s.deleted
}

func (s Deletable[T]) LiveClock() vclock.Clock {
	return s.live
}

// Inner returns the wrapped value, ok is false for a tombstone.
func (s Deletable[T]) Inner() (T, bool) {
	var zero T
	if s.Tombstoned() {
		return zero, false
	}
	return s.inner, true
}

// Join merges both clocks and the inner values pointwise. A tombstone keeps joining the inner
// value it receives: pruning it would make the result depend on merge order.
func (s Deletable[T]) Join(other Deletable[T]) (Deletable[T], error) {
	inner, err := s.inner.Join(other.inner)
	if err != nil {
		return Deletable[T]{}, err
	}
	return Deletable[T]{
		deleted: s.deleted.Merge(other.deleted),
		live:    s.live.Merge(other.live),
		inner:   inner,
	}, nil
}

// Delete returns a tombstone whose delete clock follows everything the slot has seen.
// The inner value is dropped.
func (s Deletable[T]) Delete(writer types.NodeID) Deletable[T] {
	var zero T
	return Deletable[T]{
		deleted: s.Clock().Advance(writer),
		live:    s.live,
		inner:   zero,
	}
}

// Edit applies fn to the inner value under the slot's causal context. fn receives the context
// clock that field updates must merge before advancing (see Versioned.Update) and the current
// inner value, or the zero T for a tombstone. The resulting live clock dominates the context,
// so editing a tombstoned slot un-deletes it.
func (s Deletable[T]) Edit(writer types.NodeID, fn func(ctx vclock.Clock, inner T) (T, error)) (Deletable[T], error) {
	ctx := s.Clock()
	current, _ := s.Inner()

	next, err := fn(ctx, current)
	if err != nil {
		return Deletable[T]{}, err
	}
	return Deletable[T]{
		deleted: s.deleted,
		live:    s.live.Merge(ctx.Advance(writer)).Merge(next.Clock()),
		inner:   next,
	}, nil
}

func (s Deletable[T]) Equal(other Deletable[T]) bool {
	return s.deleted.Equal(other.deleted) && s.live.Equal(other.live) && s.inner.Equal(other.inner)
}

func (s Deletable[T]) String() string {
	if s.Tombstoned() {
		return fmt.Sprintf("tombstone@%s", s.Clock())
	}
	return fmt.Sprintf("live@%s", s.Clock())
}

// MarshalValue encodes the slot as (deleted clock, live clock, inner).
func (s Deletable[T]) MarshalValue() custom.Value {
	return custom.Message(s.deleted.MarshalValue(), s.live.MarshalValue(), s.inner.MarshalValue())
}

// UnmarshalDeletable is the inverse of MarshalValue.
func UnmarshalDeletable[T Lattice[T]](v custom.Value, decode func(custom.Value) (T, error)) (Deletable[T], error) {
	fields, err := v.AsMessage(3)
	if err != nil {
		return Deletable[T]{}, fmt.Errorf("slot: %w", err)
	}
	deleted, err := vclock.UnmarshalValue(fields[0])
	if err != nil {
		return Deletable[T]{}, fmt.Errorf("slot delete clock: %w", err)
	}
	live, err := vclock.UnmarshalValue(fields[1])
	if err != nil {
		return Deletable[T]{}, fmt.Errorf("slot live clock: %w", err)
	}
	inner, err := decode(fields[2])
	if err != nil {
		return Deletable[T]{}, fmt.Errorf("slot inner: %w", err)
	}
	return Deletable[T]{deleted: deleted, live: live, inner: inner}, nil
}
