package database

import "errors"

// Store lifecycle errors. Callers see them wrapped in types.ErrPersistenceUnavailable.
var (
	ErrManagerClosed = errors.New("message store is closed")
	ErrWriteTimeout  = errors.New("message store write timed out")
)
