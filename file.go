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
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// File is an in-memory EDF/EDF+ recording: the header, the signal list in
// declared order, and the fragments tying data record indices to recording
// time. A File is not safe for concurrent mutation.
type File struct {
	Header    *Header
	Signals   []Signal
	Fragments []*Fragment

	logger log.Logger
}

// FileOption configures a File.
type FileOption func(*File)

// WithLogger routes the library's warnings to the given logger. The library
// never logs routinely; only the permissive acceptance paths of EDF+
// timekeeping produce warnings.
func WithLogger(logger log.Logger) FileOption {
	return func(f *File) {
		f.logger = logger
	}
}

// WithAlternateDateFormat parses the header start date as MM.dd.yy, as found
// in some legacy corpora.
func WithAlternateDateFormat() FileOption {
	return func(f *File) {
		f.Header.StartTime.AlternateDateFormat = true
	}
}

// New returns an empty file ready to receive signals.
func New(opts ...FileOption) *File {
	f := &File{
		Header: NewHeader(),
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OpenFile reads the named file.
func OpenFile(path string, opts ...FileOption) (*File, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Open(r, opts...)
}

// Save writes the file to the named path, truncating it first. Callers that
// need atomicity should write to a temporary path and rename.
func (f *File) Save(path string) error {
	w, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// FileType declared by the header's reserved field.
func (f *File) FileType() FileType { return f.Header.FileType() }

// SetFileType declares the file variant.
func (f *File) SetFileType(t FileType) { f.Header.SetFileType(t) }

// StartTime of the recording.
func (f *File) StartTime() time.Time { return f.Header.StartTime.Value() }

// EndTime is the moment the last data record ends: the last fragment's start
// plus its duration, past the start of the file.
func (f *File) EndTime() time.Time {
	return f.StartTime().Add(secondsToDuration(f.endSeconds()))
}

func (f *File) endSeconds() float64 {
	if n := len(f.Fragments); n > 0 {
		last := f.Fragments[n-1]
		return last.StartTime + last.Duration()
	}
	return f.Header.DataRecordDuration.Value() * float64(f.Header.DataRecords.Value())
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// FragmentAt returns the fragment containing the data record. A record past
// the last fragment's end resolves to the last fragment; nil is returned when
// no fragments have been marked or no fragment covers a lower index.
func (f *File) FragmentAt(record int) *Fragment {
	return fragmentAt(f.Fragments, record)
}

// MarkFragment records that the data record at the given index begins at
// startTime seconds past the start of the file.
func (f *File) MarkFragment(record int, startTime float64) {
	duration := f.Header.DataRecordDuration.Value()
	f.Fragments = markFragment(f.Fragments, record, startTime, duration)
	recomputeFragmentEnds(f.Fragments, f.Header.DataRecords.Value())
}

// SignalByLabel returns the first standard signal with the given label, or
// the first annotation signal when the label names the annotation signal.
// Returns nil when no signal matches.
func (f *File) SignalByLabel(label string, ignoreCase bool) Signal {
	match := func(got string) bool {
		if ignoreCase {
			return strings.EqualFold(got, label)
		}
		return got == label
	}
	for _, s := range f.Signals {
		if std, ok := s.(*StandardSignal); ok && match(std.Header().Label.Value()) {
			return std
		}
	}
	if match(AnnotationSignalLabel) {
		for _, s := range f.Signals {
			if ann, ok := s.(*AnnotationSignal); ok {
				return ann
			}
		}
	}
	return nil
}

func (f *File) standardSignals() []*StandardSignal {
	var out []*StandardSignal
	for _, s := range f.Signals {
		if std, ok := s.(*StandardSignal); ok {
			out = append(out, std)
		}
	}
	return out
}

func (f *File) annotationSignals() []*AnnotationSignal {
	var out []*AnnotationSignal
	for _, s := range f.Signals {
		if ann, ok := s.(*AnnotationSignal); ok {
			out = append(out, ann)
		}
	}
	return out
}

// Clone returns a deep copy of the header, signals and fragments.
func (f *File) Clone() *File {
	clone := &File{
		Header: f.Header.clone(),
		logger: f.logger,
	}
	signals, err := clone.Header.AllocateSignals()
	if err != nil {
		// The header was produced by this library and is well formed.
		signals = nil
	}
	clone.Signals = signals
	for i, s := range f.Signals {
		if i >= len(signals) {
			break
		}
		switch src := s.(type) {
		case *StandardSignal:
			dst := signals[i].(*StandardSignal)
			dst.Samples = append([]float64(nil), src.Samples...)
			dst.FrequencyHz = src.FrequencyHz
		case *AnnotationSignal:
			dst := signals[i].(*AnnotationSignal)
			dst.Annotations = make([]Annotation, len(src.Annotations))
			for j, a := range src.Annotations {
				a.Descriptions = append([]string(nil), a.Descriptions...)
				dst.Annotations[j] = a
			}
		}
	}
	clone.Fragments = cloneFragments(f.Fragments)
	return clone
}

// Append concatenates a compatible recording onto this one. The other file
// must start at or after this file's end; a gap of more than a millisecond
// promotes the file type to EDF+D and opens a new fragment.
func (f *File) Append(other *File) error {
	if !f.Header.IsCompatibleWith(other.Header) {
		return ErrIncompatibleHeader
	}

	records := f.Header.DataRecords.Value()
	offset := other.StartTime().Sub(f.StartTime()).Seconds()
	gap := offset - f.endSeconds()
	if gap < -timeTolerance {
		return &OrderError{Record: records}
	}
	if gap > timeTolerance {
		f.SetFileType(FileTypeEDFPlusDiscontinuous)
	}

	f.Fragments = markFragment(f.Fragments, records, offset, f.Header.DataRecordDuration.Value())

	std, otherStd := f.standardSignals(), other.standardSignals()
	for i, s := range std {
		if i < len(otherStd) {
			s.Samples = append(s.Samples, otherStd[i].Samples...)
		}
	}

	// Annotations merge into the first annotation signal, re-based onto this
	// file's time axis. Timekeeping entries belong to the other file's
	// records and are dropped.
	if anns := f.annotationSignals(); len(anns) > 0 {
		first := anns[0]
		for _, src := range other.annotationSignals() {
			for _, a := range src.Annotations {
				if a.IsTimekeeping {
					continue
				}
				a.Onset += offset
				a.Descriptions = append([]string(nil), a.Descriptions...)
				first.Annotations = append(first.Annotations, a)
			}
		}
	}

	f.Header.DataRecords.SetValue(records + other.Header.DataRecords.Value())
	recomputeFragmentEnds(f.Fragments, f.Header.DataRecords.Value())
	return nil
}

// Duration of the recording in seconds, gaps included.
func (f *File) Duration() float64 { return f.endSeconds() }

func (f *File) warn(keyvals ...any) {
	if f.logger == nil {
		return
	}
	_ = level.Warn(f.logger).Log(keyvals...)
}
