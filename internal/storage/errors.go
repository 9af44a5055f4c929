package storage

import "errors"

var (
	ErrIndexUnreachable  = errors.New("vector index unreachable")
	ErrCollectionMissing = errors.New("collection not found")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNotFound          = errors.New("issue not found")
)
