// Package semilattice provides the join-able building blocks of cluster metadata:
// versioned cells guarded by causal clocks and deletable slots with tombstones.
//
// Every join in this package is commutative, associative and idempotent, so replicas that
// exchange state in any order and any number of times converge to the same value.
package semilattice

import (
	"fmt"

	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/vclock"
)

// Joinable is the single merge capability every lattice type implements.
type Joinable[T any] interface {
	Join(other T) (T, error)
}

// Value is a leaf payload of a versioned cell. The encoding must be deterministic: two values
// are equal exactly when their encodings are, and conflicts are ordered by it.
type Value interface {
	MarshalValue() custom.Value
}

// Lattice is what a Deletable slot needs from the value it wraps.
// The zero value of T must be the identity element of Join.
type Lattice[T any] interface {
	Joinable[T]
	Value
	Clock() vclock.Clock
	Equal(other T) bool
}

// CheckJoinLaws verifies idempotence, commutativity and absorption on a concrete pair.
// Associativity needs a third value; see CheckAssociative.
func CheckJoinLaws[T Lattice[T]](a, b T) error {
	aa, err := a.Join(a)
	if err != nil {
		return fmt.Errorf("idempotence: %w", err)
	}
	if !aa.Equal(a) {
		return fmt.Errorf("%w: join(a, a) != a", ErrJoinLawViolation)
	}

	ab, err := a.Join(b)
	if err != nil {
		return err
	}
	ba, err := b.Join(a)
	if err != nil {
		return err
	}
	if !ab.Equal(ba) {
		return fmt.Errorf("%w: join(a, b) != join(b, a)", ErrJoinLawViolation)
	}

	abb, err := ab.Join(b)
	if err != nil {
		return err
	}
	if !abb.Equal(ab) {
		return fmt.Errorf("%w: join(join(a, b), b) != join(a, b)", ErrJoinLawViolation)
	}
	return nil
}

// CheckAssociative verifies join(join(a, b), c) == join(a, join(b, c)).
func CheckAssociative[T Lattice[T]](a, b, c T) error {
	ab, err := a.Join(b)
	if err != nil {
		return err
	}
	left, err := ab.Join(c)
	if err != nil {
		return err
	}

	bc, err := b.Join(c)
	if err != nil {
		return err
	}
	right, err := a.Join(bc)
	if err != nil {
		return err
	}

	if !left.Equal(right) {
		return fmt.Errorf("%w: join is not associative", ErrJoinLawViolation)
	}
	return nil
}
