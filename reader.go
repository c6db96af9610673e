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
	"errors"
	"fmt"
	"io"
	"math"
)

// Open reads a complete EDF/EDF+ file from r: header, every data record,
// and the fragment structure recovered from the timekeeping annotations.
func Open(r io.ReadSeeker, opts ...FileOption) (*File, error) {
	f := New(opts...)
	if err := f.read(r); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) read(r io.ReadSeeker) error {
	br := bufio.NewReader(r)

	if err := f.Header.ReadFrom(br); err != nil {
		return fmt.Errorf("error reading header: %w", err)
	}

	signals, err := f.Header.AllocateSignals()
	if err != nil {
		return fmt.Errorf("error reading header: %w", err)
	}
	f.Signals = signals

	duration := f.Header.DataRecordDuration.Value()
	records := f.Header.DataRecords.Value()

	// Derived per-signal state: sampling frequency and pre-sized sample
	// storage when the record count is known up front.
	for _, s := range f.standardSignals() {
		spr := s.Header().SamplesPerRecord.Value()
		if duration > 0 {
			s.FrequencyHz = float64(spr) / duration
		}
		if records > 0 {
			s.Samples = make([]float64, 0, records*spr)
		}
	}

	dec := &recordDecoder{
		file:     f,
		r:        br,
		offset:   int64(f.Header.Size()),
		fileType: f.Header.FileType(),
		duration: duration,
	}
	if err := dec.readRecords(records); err != nil {
		return err
	}

	recomputeFragmentEnds(f.Fragments, f.Header.DataRecords.Value())
	dec.warnAnnotationsOnly()
	return nil
}

// recordDecoder drives the per-record loop and the timekeeping bookkeeping
// across records.
type recordDecoder struct {
	file     *File
	r        io.Reader
	offset   int64
	fileType FileType
	duration float64

	expected     float64 // computed start time of the next record
	hasStandard  bool
	sparseRecord int  // first record carrying only timekeeping, for the warning
	sawSparse    bool // any record carried only timekeeping
	buf          []byte
}

// readRecords decodes records until the declared count is reached, or until
// a clean end of stream when the count is unknown (-1).
func (d *recordDecoder) readRecords(records int) error {
	d.hasStandard = len(d.file.standardSignals()) > 0

	for rec := 0; records < 0 || rec < records; rec++ {
		recorded, err := d.readRecord(rec)
		if records < 0 && rec > 0 && errors.Is(err, io.EOF) {
			d.file.Header.DataRecords.SetValue(rec)
			return nil
		}
		if records < 0 && errors.Is(err, io.EOF) {
			d.file.Header.DataRecords.SetValue(0)
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("error reading data record %d: %w", rec, io.ErrUnexpectedEOF)
			}
			return err
		}
		if err := d.reconcileTime(rec, recorded); err != nil {
			return err
		}
		d.expected += d.duration
	}
	return nil
}

// readRecord decodes one block per signal in declared order and returns the
// record's recorded start time, NaN when the file carries no annotations.
func (d *recordDecoder) readRecord(rec int) (float64, error) {
	recorded := math.NaN()
	firstAnnotation := true
	userAnnotations := 0

	for _, s := range d.file.Signals {
		switch sig := s.(type) {
		case *StandardSignal:
			if err := d.readSamples(sig); err != nil {
				return recorded, err
			}
		case *AnnotationSignal:
			anns, start, err := d.readAnnotations(sig, rec, firstAnnotation)
			if err != nil {
				return recorded, err
			}
			if firstAnnotation {
				recorded = start
				firstAnnotation = false
			}
			for _, a := range anns {
				if !a.IsTimekeeping {
					userAnnotations++
				}
			}
			sig.Annotations = append(sig.Annotations, anns...)
		}
	}

	if !d.hasStandard && userAnnotations == 0 && !d.sawSparse {
		d.sawSparse = true
		d.sparseRecord = rec
	}
	return recorded, nil
}

func (d *recordDecoder) readSamples(s *StandardSignal) error {
	spr := s.Header().SamplesPerRecord.Value()
	need := 2 * spr
	if cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	buf := d.buf[:need]
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return fmt.Errorf("error reading sample data: %w", err)
	}
	for i := 0; i < spr; i++ {
		raw := int16(binary.LittleEndian.Uint16(buf[2*i:]))
		s.Samples = append(s.Samples, s.physical(raw))
	}
	d.offset += int64(need)
	return nil
}

// readAnnotations decodes one annotation signal's TAL block. For the first
// annotation signal of each record the leading TAL must be a timekeeping
// TAL; its onset is returned as the record's recorded start time.
func (d *recordDecoder) readAnnotations(s *AnnotationSignal, rec int, first bool) ([]Annotation, float64, error) {
	need := s.ByteBudget()
	if cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	buf := d.buf[:need]
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("error reading annotation data: %w", err)
	}

	dec := &talDecoder{block: buf, base: d.offset}
	anns, err := dec.decode()
	if err != nil {
		return nil, 0, err
	}
	d.offset += int64(need)

	start := math.NaN()
	if first {
		if len(anns) == 0 || !anns[0].IsTimekeeping {
			return nil, 0, &FormatError{
				Field:  "timekeeping annotation",
				Offset: d.offset - int64(need),
				Reason: fmt.Sprintf("data record %d does not begin with a timekeeping annotation", rec),
			}
		}
		start = anns[0].Onset
	}
	return anns, start, nil
}

// reconcileTime compares the record's recorded start time against the time
// implied by the preceding records and updates the fragment list.
func (d *recordDecoder) reconcileTime(rec int, recorded float64) error {
	if math.IsNaN(recorded) {
		return nil
	}
	gap := recorded - d.expected
	if gap >= -timeTolerance && gap <= timeTolerance {
		return nil
	}
	if gap < 0 {
		return &OrderError{Record: rec}
	}
	if d.fileType.IsDiscontinuous() {
		d.file.Fragments = markFragment(d.file.Fragments, rec, recorded, d.duration)
		d.expected = recorded
		return nil
	}
	if d.hasStandard && d.duration > 0 {
		return &ContiguityError{Record: rec, Gap: gap}
	}
	// Annotations-only files may restart their time axis without being
	// declared discontinuous. Accepted, but worth surfacing.
	d.file.warn(
		"msg", "accepting non-contiguous record in annotations-only file",
		"record", rec,
		"gap_seconds", gap,
	)
	d.expected = recorded
	return nil
}

// warnAnnotationsOnly surfaces annotations-only records whose timekeeping
// TAL carried no defining event. The format requires one; most readers,
// this library included, accept the omission.
func (d *recordDecoder) warnAnnotationsOnly() {
	if d.hasStandard || !d.sawSparse {
		return
	}
	d.file.warn(
		"msg", "timekeeping annotation without a defining event in annotations-only file",
		"record", d.sparseRecord,
	)
}
