// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Write streams the file to w: header first with a placeholder record
// count, then data records until every signal has drained, then the record
// count patched in place. The stream position is restored to the end of the
// file afterwards.
func (f *File) Write(w io.WriteSeeker) error {
	if f.FileType().IsEDFPlus() && len(f.annotationSignals()) == 0 {
		// EDF+ requires at least one annotation signal for timekeeping.
		f.Signals = append(f.Signals, NewAnnotationSignal(8))
	}

	if !f.FileType().IsDiscontinuous() {
		if err := verifyContiguous(f.Fragments, f.Header.DataRecordDuration.Value()); err != nil {
			return err
		}
	}

	for _, s := range f.annotationSignals() {
		s.purgeTimekeeping()
	}

	// Header arrays are re-projected from the signals, standard signals
	// first, and the record loop walks the same order.
	ordered := make([]Signal, 0, len(f.Signals))
	for _, s := range f.standardSignals() {
		ordered = append(ordered, s)
	}
	for _, s := range f.annotationSignals() {
		ordered = append(ordered, s)
	}
	f.Signals = ordered
	f.Header.updateSignalFields(ordered)
	f.Header.DataRecords.SetValue(0)

	bw := bufio.NewWriter(w)
	if err := f.Header.WriteTo(bw); err != nil {
		return err
	}

	enc := &recordEncoder{file: f}
	records, err := enc.writeRecords(bw)
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing data records: %w", err)
	}

	f.Header.DataRecords.SetValue(records)
	recomputeFragmentEnds(f.Fragments, records)

	// Patch the record count in place, then restore the stream position.
	end, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("patching record count: %w", err)
	}
	if _, err := w.Seek(dataRecordsOffset, io.SeekStart); err != nil {
		return fmt.Errorf("patching record count: %w", err)
	}
	if err := f.Header.DataRecords.Write(w); err != nil {
		return fmt.Errorf("patching record count: %w", err)
	}
	if _, err := w.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("patching record count: %w", err)
	}
	return nil
}

// recordEncoder drives the record-writing state machine: emit one block per
// signal per record until every standard signal's samples and every
// annotation are consumed.
type recordEncoder struct {
	file *File
}

func (e *recordEncoder) writeRecords(w io.Writer) (int, error) {
	f := e.file
	standard := f.standardSignals()
	annotations := f.annotationSignals()
	duration := f.Header.DataRecordDuration.Value()

	for _, s := range standard {
		s.cursor = 0
	}
	for _, s := range annotations {
		s.cursor = 0
	}

	samplesPending := func() bool {
		for _, s := range standard {
			if s.cursor < len(s.Samples) {
				return true
			}
		}
		return false
	}
	annotationsPending := func() bool {
		for _, s := range annotations {
			if s.cursor < len(s.Annotations) {
				return true
			}
		}
		return false
	}

	records := 0
	for samplesPending() || annotationsPending() {
		if len(standard) > 0 && !samplesPending() {
			return records, ErrAnnotationOverflow
		}

		start := recordStartTime(f.Fragments, records, duration)
		progress := false

		for _, s := range standard {
			n, err := e.writeSamples(w, s)
			if err != nil {
				return records, err
			}
			if n > 0 {
				progress = true
			}
		}
		for i, s := range annotations {
			n, err := e.writeAnnotations(w, s, start, i == 0)
			if err != nil {
				return records, err
			}
			if n > 0 {
				progress = true
			}
		}

		if !progress {
			// Nothing fit into a fresh record: the head annotation can
			// never be emitted.
			for _, s := range annotations {
				if s.cursor < len(s.Annotations) {
					a := s.Annotations[s.cursor]
					return records, &CapacityError{
						Signal: s.Header().Label.Value(),
						Size:   a.encodedSize(),
						Budget: s.ByteBudget(),
					}
				}
			}
			return records, ErrAnnotationOverflow
		}
		records++
	}
	return records, nil
}

// writeSamples emits one record's block for a standard signal, padding with
// the digital minimum when fewer samples remain than the record holds.
func (e *recordEncoder) writeSamples(w io.Writer, s *StandardSignal) (int, error) {
	spr := s.Header().SamplesPerRecord.Value()
	pad := int16(s.Header().DigitalMin.Value())

	buf := make([]byte, 2*spr)
	n := 0
	for i := 0; i < spr; i++ {
		raw := pad
		if s.cursor < len(s.Samples) {
			raw = s.digital(s.Samples[s.cursor])
			s.cursor++
			n++
		}
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(raw))
	}
	if _, err := w.Write(buf); err != nil {
		return n, fmt.Errorf("writing sample data: %w", err)
	}
	return n, nil
}

// writeAnnotations emits one record's TAL block for an annotation signal.
// The first annotation signal of the file leads with the synthesized
// timekeeping TAL. Annotations are emitted greedily in order; one that fits
// the budget but not the remaining space waits for the next record.
func (e *recordEncoder) writeAnnotations(w io.Writer, s *AnnotationSignal, start float64, first bool) (int, error) {
	budget := s.ByteBudget()
	block := make([]byte, 0, budget)
	if first {
		block = appendTimekeepingTAL(block, start)
	}

	n := 0
	for s.cursor < len(s.Annotations) {
		a := s.Annotations[s.cursor]
		if a.IsTimekeeping {
			s.cursor++
			continue
		}
		size := a.encodedSize()
		if size > budget {
			return n, &CapacityError{
				Signal: s.Header().Label.Value(),
				Size:   size,
				Budget: budget,
			}
		}
		if len(block)+size > budget {
			break
		}
		block = a.appendTAL(block)
		s.cursor++
		n++
	}

	if len(block) > budget {
		// The timekeeping TAL alone no longer fits the allocation.
		return n, &CapacityError{
			Signal: s.Header().Label.Value(),
			Size:   len(block),
			Budget: budget,
		}
	}
	block = append(block, make([]byte, budget-len(block))...)
	if _, err := w.Write(block); err != nil {
		return n, fmt.Errorf("writing annotation data: %w", err)
	}
	return n, nil
}
