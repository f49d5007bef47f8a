// Package model defines the core entities of the transcoding pipeline:
// resources, versions, segments and cache entries.
package model

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidResourceKey is returned when a ResourceKey has a zero field.
	ErrInvalidResourceKey = errors.New("resource key must have nonzero user and upload request IDs")

	// ErrInvalidVersionLabel is returned when a version label fails the
	// printable-alphanumeric, fixed-length schema check.
	ErrInvalidVersionLabel = errors.New("version label must be alphanumeric and match the configured length")
)

// DefaultVersionLabelLength is the current schema's fixed label length.
const DefaultVersionLabelLength = 2

var versionLabelPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ResourceKey uniquely identifies an ingested source file's directory
// namespace under every storage backend.
type ResourceKey struct {
	UserID       uint32
	UploadReqID  uint32
}

// NewResourceKey validates and constructs a ResourceKey.
func NewResourceKey(userID, uploadReqID uint32) (ResourceKey, error) {
	rk := ResourceKey{UserID: userID, UploadReqID: uploadReqID}
	if err := rk.Validate(); err != nil {
		return ResourceKey{}, err
	}
	return rk, nil
}

// Validate reports whether both fields are nonzero.
func (k ResourceKey) Validate() error {
	if k.UserID == 0 || k.UploadReqID == 0 {
		return ErrInvalidResourceKey
	}
	return nil
}

// Dir returns the path components under a storage root for this resource,
// e.g. "<usr_id>/<hex upload_req_id>".
func (k ResourceKey) Dir() string {
	return fmt.Sprintf("%d/%08x", k.UserID, k.UploadReqID)
}

// PlaintextDocID returns the canonical plaintext encrypted by the crypto
// key manager to produce an EncryptedDocID: "<usr_id>/<hex8 upload_req_id>".
func (k ResourceKey) PlaintextDocID() string {
	return k.Dir()
}

// ParseResourceDir parses the "<usr_id>/<hex8 upload_req_id>" plaintext
// recovered from decrypting an EncryptedDocID back into a ResourceKey,
// inverting Dir/PlaintextDocID.
func ParseResourceDir(dir string) (ResourceKey, error) {
	var userID uint32
	var uploadReqID uint32
	if n, err := fmt.Sscanf(dir, "%d/%08x", &userID, &uploadReqID); err != nil || n != 2 {
		return ResourceKey{}, fmt.Errorf("%w: malformed resource dir %q", ErrInvalidResourceKey, dir)
	}
	return NewResourceKey(userID, uploadReqID)
}

// VersionLabel identifies one transcoded output of a resource.
type VersionLabel string

// ValidateVersionLabel checks a label against the configured fixed length.
func ValidateVersionLabel(label string, length int) error {
	if len(label) != length {
		return ErrInvalidVersionLabel
	}
	if !versionLabelPattern.MatchString(label) {
		return ErrInvalidVersionLabel
	}
	return nil
}

func (v VersionLabel) String() string { return string(v) }
