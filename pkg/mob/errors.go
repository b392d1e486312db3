// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/grafana/mimir/blob/main/pkg/compactor/bucket_compactor.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Mimir Authors.

package mob

import (
	"fmt"

	"github.com/grafana/dskit/multierror"
	"github.com/pkg/errors"
)

// IoError wraps a filesystem or bulkload failure with the operation
// and path that failed, the way the teacher wraps bucket errors with
// errors.Wrapf at each call site.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&IoError{Op: op, Path: path, Err: err})
}

// NotFoundError is returned by Filesystem.Stat when the named path
// does not exist. The Selector recovers it by demoting a FileLink
// candidate to "irrelevant" (spec.md §4.2 step 1, §7).
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string { return "not found: " + e.Path }

// IsNotFound reports whether err (or something it wraps) is a
// NotFoundError.
func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// InvariantViolation signals an internal bug: a condition the
// compactor's own algorithm guarantees was nonetheless observed
// false. It is never expected from a correct build and is never
// recovered from.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Msg }

// PartialFailure is raised by the Orchestrator when one or more
// partitions failed to compact (spec.md §4.5, §7), whether or not any
// other partition succeeded. Successfully compacted partitions are not
// rolled back; their
// outputs are valid and their inputs have already been archived.
type PartialFailure struct {
	merr multierror.MultiError
	// PartitionErrors maps the partitions that failed to their error.
	PartitionErrors map[PartitionID]error
}

func newPartialFailure() *PartialFailure {
	return &PartialFailure{PartitionErrors: map[PartitionID]error{}}
}

func (p *PartialFailure) add(id PartitionID, err error) {
	if err == nil {
		return
	}
	p.PartitionErrors[id] = err
	p.merr.Add(errors.Wrapf(err, "partition %s", id))
}

func (p *PartialFailure) errOrNil() error {
	if len(p.PartitionErrors) == 0 {
		return nil
	}
	return p
}

func (p *PartialFailure) Error() string {
	return fmt.Sprintf("%d of the submitted partitions failed to compact: %v", len(p.PartitionErrors), p.merr.Err())
}
