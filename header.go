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
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// Header is the EDF/EDF+ header record: the fixed 256-byte prelude followed
// by ten per-signal arrays of fixed-width fields. The per-signal fields are
// shared with the Signal values allocated from the header.
type Header struct {
	Version            *IntField
	PatientID          *PatientIDField
	RecordingID        *RecordingIDField
	StartTime          *DateTimeField
	HeaderRecordSize   *IntField
	Reserved           *StringField // declares the file type
	DataRecords        *IntField    // 0 while streaming, patched afterwards; -1 read means unknown
	DataRecordDuration *FloatField
	SignalCount        *IntField

	Labels             []*StringField
	TransducerTypes    []*StringField
	PhysicalDimensions []*StringField
	PhysicalMins       []*FloatField
	PhysicalMaxs       []*FloatField
	DigitalMins        []*IntField
	DigitalMaxs        []*IntField
	Prefilterings      []*StringField
	SamplesPerRecords  []*IntField
	SignalReserveds    []*StringField
}

// NewHeader returns an empty header with the prelude fields allocated.
func NewHeader() *Header {
	return &Header{
		Version:            NewIntField("version", 8, 0),
		PatientID:          NewPatientIDField("patient identification"),
		RecordingID:        NewRecordingIDField("recording identification"),
		StartTime:          NewDateTimeField("start date and time", time.Time{}),
		HeaderRecordSize:   NewIntField("header record size", 8, fixedHeaderSize),
		Reserved:           NewStringField("reserved", 44, ""),
		DataRecords:        NewIntField("number of data records", 8, 0),
		DataRecordDuration: NewFloatField("data record duration", 0),
		SignalCount:        NewIntField("number of signals", 4, 0),
	}
}

// FileType declared by the reserved field.
func (h *Header) FileType() FileType {
	switch h.Reserved.Value() {
	case string(FileTypeEDFPlusContinuous):
		return FileTypeEDFPlusContinuous
	case string(FileTypeEDFPlusDiscontinuous):
		return FileTypeEDFPlusDiscontinuous
	default:
		return FileTypeEDF
	}
}

// SetFileType stores the type's magic string in the reserved field.
func (h *Header) SetFileType(t FileType) {
	h.Reserved.SetValue(string(t))
}

// Size is the total header record size implied by the signal count.
func (h *Header) Size() int {
	return fixedHeaderSize * (1 + len(h.Labels))
}

// countingReader tracks the stream offset for error reporting.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

func readFieldAt(cr *countingReader, f Field) error {
	offset := cr.n
	if err := f.Read(cr); err != nil {
		var fe *FormatError
		if errors.As(err, &fe) && fe.Offset < 0 {
			fe.Offset = offset
		}
		return err
	}
	return nil
}

// ReadFrom reads the complete header record in a single pass.
func (h *Header) ReadFrom(r io.Reader) error {
	cr := &countingReader{r: r}

	prelude := []Field{
		h.Version, h.PatientID, h.RecordingID, h.StartTime,
		h.HeaderRecordSize, h.Reserved, h.DataRecords,
		h.DataRecordDuration, h.SignalCount,
	}
	for _, f := range prelude {
		if err := readFieldAt(cr, f); err != nil {
			return err
		}
	}

	n := h.SignalCount.Value()
	if n < 0 {
		return &FormatError{Field: "number of signals", Offset: 252, Reason: fmt.Sprintf("negative signal count %d", n)}
	}
	h.allocateSignalFields(n)

	arrays := [][]Field{
		fieldSlice(h.Labels),
		fieldSlice(h.TransducerTypes),
		fieldSlice(h.PhysicalDimensions),
		fieldSlice(h.PhysicalMins),
		fieldSlice(h.PhysicalMaxs),
		fieldSlice(h.DigitalMins),
		fieldSlice(h.DigitalMaxs),
		fieldSlice(h.Prefilterings),
		fieldSlice(h.SamplesPerRecords),
		fieldSlice(h.SignalReserveds),
	}
	for _, arr := range arrays {
		for _, f := range arr {
			if err := readFieldAt(cr, f); err != nil {
				return err
			}
		}
	}

	if got, want := h.HeaderRecordSize.Value(), h.Size(); got != want {
		return &FormatError{
			Field:  "header record size",
			Offset: 184,
			Reason: fmt.Sprintf("declared %d bytes, %d signals require %d", got, n, want),
		}
	}
	return nil
}

func fieldSlice[F Field](fields []F) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = f
	}
	return out
}

func (h *Header) allocateSignalFields(n int) {
	h.Labels = make([]*StringField, n)
	h.TransducerTypes = make([]*StringField, n)
	h.PhysicalDimensions = make([]*StringField, n)
	h.PhysicalMins = make([]*FloatField, n)
	h.PhysicalMaxs = make([]*FloatField, n)
	h.DigitalMins = make([]*IntField, n)
	h.DigitalMaxs = make([]*IntField, n)
	h.Prefilterings = make([]*StringField, n)
	h.SamplesPerRecords = make([]*IntField, n)
	h.SignalReserveds = make([]*StringField, n)
	for i := 0; i < n; i++ {
		sh := newSignalHeader("")
		h.Labels[i] = sh.Label
		h.TransducerTypes[i] = sh.TransducerType
		h.PhysicalDimensions[i] = sh.PhysicalDimension
		h.PhysicalMins[i] = sh.PhysicalMin
		h.PhysicalMaxs[i] = sh.PhysicalMax
		h.DigitalMins[i] = sh.DigitalMin
		h.DigitalMaxs[i] = sh.DigitalMax
		h.Prefilterings[i] = sh.Prefiltering
		h.SamplesPerRecords[i] = sh.SamplesPerRecord
		h.SignalReserveds[i] = sh.Reserved
	}
}

// WriteTo writes the complete header record, recomputing the size and signal
// count fields from the per-signal arrays.
func (h *Header) WriteTo(w io.Writer) error {
	h.SignalCount.SetValue(len(h.Labels))
	h.HeaderRecordSize.SetValue(h.Size())

	fields := []Field{
		h.Version, h.PatientID, h.RecordingID, h.StartTime,
		h.HeaderRecordSize, h.Reserved, h.DataRecords,
		h.DataRecordDuration, h.SignalCount,
	}
	fields = append(fields, fieldSlice(h.Labels)...)
	fields = append(fields, fieldSlice(h.TransducerTypes)...)
	fields = append(fields, fieldSlice(h.PhysicalDimensions)...)
	fields = append(fields, fieldSlice(h.PhysicalMins)...)
	fields = append(fields, fieldSlice(h.PhysicalMaxs)...)
	fields = append(fields, fieldSlice(h.DigitalMins)...)
	fields = append(fields, fieldSlice(h.DigitalMaxs)...)
	fields = append(fields, fieldSlice(h.Prefilterings)...)
	fields = append(fields, fieldSlice(h.SamplesPerRecords)...)
	fields = append(fields, fieldSlice(h.SignalReserveds)...)

	for _, f := range fields {
		if err := f.Write(w); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	return nil
}

// updateSignalFields re-projects the per-signal arrays from the signal list,
// in the given order, and refreshes the signal count.
func (h *Header) updateSignalFields(signals []Signal) {
	n := len(signals)
	h.Labels = make([]*StringField, n)
	h.TransducerTypes = make([]*StringField, n)
	h.PhysicalDimensions = make([]*StringField, n)
	h.PhysicalMins = make([]*FloatField, n)
	h.PhysicalMaxs = make([]*FloatField, n)
	h.DigitalMins = make([]*IntField, n)
	h.DigitalMaxs = make([]*IntField, n)
	h.Prefilterings = make([]*StringField, n)
	h.SamplesPerRecords = make([]*IntField, n)
	h.SignalReserveds = make([]*StringField, n)
	for i, s := range signals {
		sh := s.Header()
		h.Labels[i] = sh.Label
		h.TransducerTypes[i] = sh.TransducerType
		h.PhysicalDimensions[i] = sh.PhysicalDimension
		h.PhysicalMins[i] = sh.PhysicalMin
		h.PhysicalMaxs[i] = sh.PhysicalMax
		h.DigitalMins[i] = sh.DigitalMin
		h.DigitalMaxs[i] = sh.DigitalMax
		h.Prefilterings[i] = sh.Prefiltering
		h.SamplesPerRecords[i] = sh.SamplesPerRecord
		h.SignalReserveds[i] = sh.Reserved
	}
	h.SignalCount.SetValue(n)
	h.HeaderRecordSize.SetValue(h.Size())
}

// AllocateSignals constructs the signal list described by the per-signal
// arrays. The returned signals share the header's field instances. Standard
// signals must declare a strictly increasing digital range and distinct
// physical extremes.
func (h *Header) AllocateSignals() ([]Signal, error) {
	signals := make([]Signal, len(h.Labels))
	for i := range h.Labels {
		sh := &SignalHeader{
			Label:             h.Labels[i],
			TransducerType:    h.TransducerTypes[i],
			PhysicalDimension: h.PhysicalDimensions[i],
			PhysicalMin:       h.PhysicalMins[i],
			PhysicalMax:       h.PhysicalMaxs[i],
			DigitalMin:        h.DigitalMins[i],
			DigitalMax:        h.DigitalMaxs[i],
			Prefiltering:      h.Prefilterings[i],
			SamplesPerRecord:  h.SamplesPerRecords[i],
			Reserved:          h.SignalReserveds[i],
		}
		if sh.Label.Value() == AnnotationSignalLabel {
			signals[i] = &AnnotationSignal{hdr: sh}
			continue
		}
		if sh.DigitalMin.Value() >= sh.DigitalMax.Value() {
			return nil, &FormatError{
				Field:  "digital minimum",
				Offset: -1,
				Reason: fmt.Sprintf("signal %d: digital minimum %d is not below digital maximum %d", i, sh.DigitalMin.Value(), sh.DigitalMax.Value()),
			}
		}
		if sh.PhysicalMin.Value() == sh.PhysicalMax.Value() {
			return nil, &FormatError{
				Field:  "physical minimum",
				Offset: -1,
				Reason: fmt.Sprintf("signal %d: physical minimum and maximum are both %g", i, sh.PhysicalMin.Value()),
			}
		}
		signals[i] = &StandardSignal{hdr: sh}
	}
	return signals, nil
}

// fieldText renders a field exactly as it would appear on the wire.
func fieldText(f Field) string {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// IsCompatibleWith reports whether two headers describe the same signal
// layout: equal signal counts, record durations within 1e-4 s, and ten
// per-signal arrays agreeing element-wise by serialized text.
func (h *Header) IsCompatibleWith(other *Header) bool {
	if len(h.Labels) != len(other.Labels) {
		return false
	}
	if math.Abs(h.DataRecordDuration.Value()-other.DataRecordDuration.Value()) > 1e-4 {
		return false
	}
	pairs := [][2][]Field{
		{fieldSlice(h.Labels), fieldSlice(other.Labels)},
		{fieldSlice(h.TransducerTypes), fieldSlice(other.TransducerTypes)},
		{fieldSlice(h.PhysicalDimensions), fieldSlice(other.PhysicalDimensions)},
		{fieldSlice(h.PhysicalMins), fieldSlice(other.PhysicalMins)},
		{fieldSlice(h.PhysicalMaxs), fieldSlice(other.PhysicalMaxs)},
		{fieldSlice(h.DigitalMins), fieldSlice(other.DigitalMins)},
		{fieldSlice(h.DigitalMaxs), fieldSlice(other.DigitalMaxs)},
		{fieldSlice(h.Prefilterings), fieldSlice(other.Prefilterings)},
		{fieldSlice(h.SamplesPerRecords), fieldSlice(other.SamplesPerRecords)},
		{fieldSlice(h.SignalReserveds), fieldSlice(other.SignalReserveds)},
	}
	for _, pair := range pairs {
		for i := range pair[0] {
			if fieldText(pair[0][i]) != fieldText(pair[1][i]) {
				return false
			}
		}
	}
	return true
}

// clone deep-copies the header, re-serializing every field so the copy
// shares nothing with the original.
func (h *Header) clone() *Header {
	var buf bytes.Buffer
	if err := h.WriteTo(&buf); err != nil {
		return NewHeader()
	}
	copied := NewHeader()
	copied.StartTime.AlternateDateFormat = h.StartTime.AlternateDateFormat
	if err := copied.ReadFrom(bytes.NewReader(buf.Bytes())); err != nil {
		return NewHeader()
	}
	return copied
}
