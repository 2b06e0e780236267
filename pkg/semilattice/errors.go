package semilattice

import (
	"errors"
	"fmt"

	"nsmeta/pkg/vclock"
)

var (
	// ErrDataIntegrity matches any *DataIntegrityError.
	ErrDataIntegrity = errors.New("semilattice: data integrity violation")

	// ErrJoinLawViolation reports that a join broke idempotence, commutativity or absorption.
	// It means a logic defect: merging must stop rather than spread the state further.
	ErrJoinLawViolation = errors.New("semilattice: join law violation")
)

// DataIntegrityError is returned when two versions carry the same clock but different values.
// A writer never produces two values at one clock, so this points at a writer-identity
// collision or a bug upstream. The join never picks one of the values silently.
type DataIntegrityError struct {
	Clock vclock.Clock
	Left  []byte
	Right []byte
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("semilattice: equal clocks %s with different values (%d vs %d encoded bytes)",
		e.Clock, len(e.Left), len(e.Right))
}

func (e *DataIntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}
