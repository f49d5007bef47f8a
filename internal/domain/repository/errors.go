package repository

import "errors"

var (
	// ErrVersionNotFound is returned when a version record cannot be found.
	ErrVersionNotFound = errors.New("version record not found")

	// ErrDuplicateVersion is returned when a version with identical
	// requested attributes already exists for a resource (dedup
	// / editing check).
	ErrDuplicateVersion = errors.New("version already exists with identical attributes")

	// ErrObjectNotFound is returned when an object cannot be found in
	// remote storage.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the specified bucket/storage
	// alias does not exist.
	ErrBucketNotFound = errors.New("bucket not found")
)
