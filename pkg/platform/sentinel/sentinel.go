package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into domain errors:
//   - ErrNotFound: record does not exist in its collection
//   - ErrAlreadyExists: insert collided with an existing id or link
//   - ErrConflict: concurrent writer changed the record underneath us
//   - ErrUnavailable: backend temporarily unavailable
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrUnavailable   = errors.New("unavailable")
)
