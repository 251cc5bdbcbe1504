package store

import "errors"

// ErrNotFound indicates a missing or unauthorized resource lookup.
var ErrNotFound = errors.New("record not found")

// ErrPersistence marks a failed write; callers must treat prior state as intact.
var ErrPersistence = errors.New("persistence failure")
