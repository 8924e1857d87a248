// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refs

import "github.com/juju/errors"

const (
	// ErrRef is the generic ref error, returned for malformed
	// tags, tokens and ref records.
	ErrRef = errors.ConstError("ref error")

	// ErrBackendNotFound is returned when a tag names a ref type
	// that has no registered backend.
	ErrBackendNotFound = errors.ConstError("ref backend not found")

	// ErrHashMismatch is returned when a stamped token no longer
	// matches the stored ref. It is never retried.
	ErrHashMismatch = errors.ConstError("ref hash mismatch")

	// ErrNeedsCreation signals that a function chain tag has no
	// stored ref yet and must be created from RefParams.
	ErrNeedsCreation = errors.ConstError("ref needs creation")

	// ErrFunction is returned for unknown functions, bad arguments
	// and failing function evaluations.
	ErrFunction = errors.ConstError("ref function error")

	// ErrSubPathNotFound is returned when a sub-path does not
	// resolve within the revealed plaintext.
	ErrSubPathNotFound = errors.ConstError("ref sub-path not found")
)
