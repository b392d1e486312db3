// SPDX-License-Identifier: AGPL-3.0-only

package mob

import (
	"time"

	"github.com/pkg/errors"
)

// Candidate is one input entry handed to Select: either a direct path
// or a FileLink naming several possible physical targets (spec.md
// §3 "FileLink").
type Candidate struct {
	Path string
	Link *FileLink
}

// resolve picks the candidate's real path: the Path itself, or, for a
// FileLink, the first existing alternative. It returns IsNotFound()
// when a FileLink has no existing target.
func resolve(fs Filesystem, c Candidate) (string, error) {
	if c.Link == nil {
		return c.Path, nil
	}
	for _, alt := range c.Link.Alternative {
		ok, err := fs.IsFile(alt)
		if err != nil {
			return "", ioErr("isFile", alt, err)
		}
		if ok {
			return alt, nil
		}
	}
	return "", errors.WithStack(&NotFoundError{Path: c.Link.Name})
}

// Select implements the Selector (spec.md §4.2): it classifies
// candidates into {del, compact-eligible, irrelevant}, groups
// compact-eligible files by partition, and returns the resulting
// CompactionRequest. It fails with an IoError only on filesystem probe
// failures; individual malformed entries are counted as irrelevant.
func Select(fs Filesystem, candidates []Candidate, isForceAllFiles bool, cfg Config, now time.Time) (*CompactionRequest, error) {
	req := &CompactionRequest{SelectionTime: now.UnixNano()}

	partitions := map[PartitionID]*Partition{}
	var irrelevantCount int

	for _, c := range candidates {
		resolved, err := resolve(fs, c)
		if err != nil {
			if IsNotFound(err) {
				irrelevantCount++
				continue
			}
			return nil, err
		}

		st, err := fs.Stat(resolved)
		if err != nil {
			if IsNotFound(err) {
				irrelevantCount++
				continue
			}
			return nil, ioErr("stat", resolved, err)
		}

		if IsDelFileName(resolved) {
			req.DelFiles = append(req.DelFiles, DelFile{Path: resolved, Length: st.Length})
			continue
		}

		date, startKey, ok := ParseMobFileName(resolved)
		if !ok {
			irrelevantCount++
			continue
		}

		bucket, threshold, skip := identifyPartition(date, cfg.Policy, now, cfg.MergeableThreshold)
		if !eligibleForPartition(st.Length, threshold, skip, isForceAllFiles) {
			irrelevantCount++
			continue
		}

		meta, merr := fs.FileMetadata(resolved)
		if merr != nil {
			return nil, ioErr("fileMetadata", resolved, merr)
		}

		id := PartitionID{StartKey: startKey, Date: bucket, Threshold: threshold}
		p, ok := partitions[id]
		if !ok {
			p = &Partition{ID: id}
			partitions[id] = p
		}
		p.add(MobFile{Path: resolved, Length: st.Length, MaxSequenceID: metadataInt64(meta, "MAX_SEQ_ID"), Metadata: meta}, date)
	}

	// Singleton-prune (spec.md §4.2 step 4): a lone survivor of a prior
	// compaction against the same del files would be rewritten
	// identically, so skip it rather than waste the work.
	if !isForceAllFiles && len(req.DelFiles) > 0 {
		for id, p := range partitions {
			if len(p.Files) == 1 {
				delete(partitions, id)
			}
		}
	}

	var selectedCount int
	for _, p := range partitions {
		req.Partitions = append(req.Partitions, p)
		selectedCount += len(p.Files)
	}

	if len(req.DelFiles)+selectedCount+irrelevantCount == len(candidates) {
		req.Type = AllFiles
	} else {
		req.Type = PartFiles
	}

	return req, nil
}
