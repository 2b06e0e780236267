package metadata

import "errors"

var (
	ErrNotFound       = errors.New("metadata: table not found")
	ErrTombstoned     = errors.New("metadata: table is deleted")
	ErrInvalidValue   = errors.New("metadata: invalid value")
	ErrImmutableField = errors.New("metadata: field cannot be changed")
	ErrUnknownField   = errors.New("metadata: unknown field")
	ErrNameConflict   = errors.New("metadata: table name already in use")
)
