// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/grafana/mimir/blob/main/pkg/storegateway/indexheader/reader_pool.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Mimir Authors.

package mob

import (
	"sync"

	"github.com/grafana/dskit/multierror"
)

// DelReaderPool tracks the merged del files shared read-only by every
// partition worker during a single compact() call (spec.md §5). It is
// opened once, before any partition task starts, so that a cold-open
// race can't cause one worker to see a del file the others don't; it
// is closed exactly once, by the Orchestrator, after every partition
// has finished (success or failure).
//
// The pool owns no file handles of its own -- each worker's Scanner
// opens its own readers atop the same paths -- but it is the single
// point that must observe every merged del file exists before fan-out,
// mirroring the teacher's ReaderPool's idempotent
// open-once/close-once discipline for lazily-loaded readers.
type DelReaderPool struct {
	fs Filesystem

	mu     sync.Mutex
	paths  []string
	opened bool
	closed bool
}

// NewDelReaderPool builds an unopened DelReaderPool.
func NewDelReaderPool(fs Filesystem) *DelReaderPool {
	return &DelReaderPool{fs: fs}
}

// Open verifies every merged del file is present and records the set
// workers will scan. It must complete before any partition task is
// submitted.
func (p *DelReaderPool) Open(files []DelFile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opened {
		return nil
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		ok, err := p.fs.IsFile(f.Path)
		if err != nil {
			return ioErr("isFile", f.Path, err)
		}
		if !ok {
			return ioErr("isFile", f.Path, &NotFoundError{Path: f.Path})
		}
		paths = append(paths, f.Path)
	}

	p.paths = paths
	p.opened = true
	return nil
}

// Paths returns the del files every worker should scan atop. Safe to
// call concurrently from any number of partition workers.
func (p *DelReaderPool) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

// Close is idempotent: it is invoked exactly once by the Orchestrator
// once every partition worker has finished, but tolerates being called
// more than once.
func (p *DelReaderPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	// No handles of our own to release; present for symmetry with the
	// teacher's pool and as the single place future handle-caching
	// would hook into.
	var merr multierror.MultiError
	return merr.Err()
}
