package repository

import "errors"

// ErrPreconditionFailed is returned when a conditional update matched no row because the
// expected state no longer holds (another writer got there first).
var ErrPreconditionFailed = errors.New("repository: precondition failed")
