package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain error codes.
//
//   - ErrNotFound: row or key does not exist
//   - ErrConflict: unique constraint or concurrent write collision
//   - ErrUnavailable: backing store cannot be reached
//   - ErrAborted: transaction rolled back before commit
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrAborted     = errors.New("transaction aborted")
)
