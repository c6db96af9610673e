// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import "sort"

// Fragment is a maximal run of contiguous data records sharing a linear
// time base. A file without explicit fragments behaves as a single implicit
// fragment starting at record 0, time 0.
type Fragment struct {
	StartRecord    int     // first data record, inclusive
	EndRecord      int     // last data record, inclusive
	StartTime      float64 // seconds relative to the start of the file
	RecordDuration float64 // seconds per data record
}

// Duration of the fragment in seconds.
func (f *Fragment) Duration() float64 {
	return float64(f.EndRecord-f.StartRecord+1) * f.RecordDuration
}

// Contains reports whether the record index falls inside the fragment.
func (f *Fragment) Contains(record int) bool {
	return record >= f.StartRecord && record <= f.EndRecord
}

// recordStartTime is the start of the given record, which must be at or
// beyond the fragment's first record.
func (f *Fragment) recordStartTime(record int) float64 {
	return f.StartTime + float64(record-f.StartRecord)*f.RecordDuration
}

// markFragment creates or updates a fragment so that the record at the given
// index begins at startTime, keeping the list sorted. A leading implicit
// fragment at time 0 is materialized when the first marked fragment starts
// later than the beginning of the file.
func markFragment(fragments []*Fragment, record int, startTime, recordDuration float64) []*Fragment {
	for _, f := range fragments {
		if f.StartRecord == record {
			f.StartTime = startTime
			f.RecordDuration = recordDuration
			return fragments
		}
	}
	fragments = append(fragments, &Fragment{
		StartRecord:    record,
		EndRecord:      record,
		StartTime:      startTime,
		RecordDuration: recordDuration,
	})
	if record > 0 || startTime > 0 {
		found := false
		for _, f := range fragments {
			if f.StartRecord == 0 {
				found = true
				break
			}
		}
		if !found {
			fragments = append(fragments, &Fragment{RecordDuration: recordDuration})
		}
	}
	sort.Slice(fragments, func(i, j int) bool {
		return fragments[i].StartRecord < fragments[j].StartRecord
	})
	return fragments
}

// recomputeFragmentEnds sets every fragment's end index so that the fragment
// union covers [0, records).
func recomputeFragmentEnds(fragments []*Fragment, records int) {
	for i, f := range fragments {
		if i+1 < len(fragments) {
			f.EndRecord = fragments[i+1].StartRecord - 1
		} else {
			f.EndRecord = records - 1
		}
	}
}

// fragmentAt returns the fragment containing the record, or the last
// fragment when the record lies beyond every marked range.
func fragmentAt(fragments []*Fragment, record int) *Fragment {
	for _, f := range fragments {
		if f.Contains(record) {
			return f
		}
	}
	if n := len(fragments); n > 0 && record > fragments[n-1].EndRecord {
		return fragments[n-1]
	}
	return nil
}

// recordStartTime is the start time of a record given the fragment list,
// falling back to the file's uninterrupted time base when no fragments have
// been marked.
func recordStartTime(fragments []*Fragment, record int, recordDuration float64) float64 {
	if f := fragmentAt(fragments, record); f != nil {
		return f.recordStartTime(record)
	}
	return float64(record) * recordDuration
}

// verifyContiguous returns a ContiguityError when consecutive fragments do
// not join seamlessly in time.
func verifyContiguous(fragments []*Fragment, recordDuration float64) error {
	for i := 1; i < len(fragments); i++ {
		prev, next := fragments[i-1], fragments[i]
		expected := prev.StartTime + float64(next.StartRecord-prev.StartRecord)*recordDuration
		gap := next.StartTime - expected
		if gap > timeTolerance || gap < -timeTolerance {
			return &ContiguityError{Record: next.StartRecord, Gap: gap}
		}
	}
	return nil
}

// cloneFragments deep-copies the fragment list.
func cloneFragments(fragments []*Fragment) []*Fragment {
	out := make([]*Fragment, len(fragments))
	for i, f := range fragments {
		copied := *f
		out[i] = &copied
	}
	return out
}
