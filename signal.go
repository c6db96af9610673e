// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import "math"

// SignalHeader holds the ten per-signal header fields. Signals allocated
// from a header share these field instances with the header's arrays, so
// edits made through a signal are visible in the next header write.
type SignalHeader struct {
	Label             *StringField // 16 bytes
	TransducerType    *StringField // 80 bytes
	PhysicalDimension *StringField // 8 bytes
	PhysicalMin       *FloatField
	PhysicalMax       *FloatField
	DigitalMin        *IntField
	DigitalMax        *IntField
	Prefiltering      *StringField // 80 bytes
	SamplesPerRecord  *IntField
	Reserved          *StringField // 32 bytes
}

func newSignalHeader(label string) *SignalHeader {
	return &SignalHeader{
		Label:             NewStringField("label", 16, label),
		TransducerType:    NewStringField("transducer type", 80, ""),
		PhysicalDimension: NewStringField("physical dimension", 8, ""),
		PhysicalMin:       NewFloatField("physical minimum", 0),
		PhysicalMax:       NewFloatField("physical maximum", 0),
		DigitalMin:        NewIntField("digital minimum", 8, 0),
		DigitalMax:        NewIntField("digital maximum", 8, 0),
		Prefiltering:      NewStringField("prefiltering", 80, ""),
		SamplesPerRecord:  NewIntField("samples per record", 8, 0),
		Reserved:          NewStringField("signal reserved", 32, ""),
	}
}

// Signal is one of the two signal variants stored in a data record: a
// StandardSignal carrying calibrated samples or an AnnotationSignal carrying
// timestamped annotation lists. The record codec dispatches on the concrete
// type.
type Signal interface {
	Header() *SignalHeader
}

// StandardSignal is an ordinary sampled signal. Samples are stored in
// physical units; the digital representation only exists on the wire.
type StandardSignal struct {
	hdr *SignalHeader

	// Samples holds the signal's physical values across all data records.
	Samples []float64

	// FrequencyHz is derived from the samples-per-record count and the data
	// record duration when the file is read. Zero if the duration is unknown.
	FrequencyHz float64

	cursor int // next sample to write
}

// NewStandardSignal returns a standard signal with the given label and
// calibration ranges.
func NewStandardSignal(label string, physMin, physMax float64, digMin, digMax int) *StandardSignal {
	hdr := newSignalHeader(label)
	hdr.PhysicalMin.SetValue(physMin)
	hdr.PhysicalMax.SetValue(physMax)
	hdr.DigitalMin.SetValue(digMin)
	hdr.DigitalMax.SetValue(digMax)
	return &StandardSignal{hdr: hdr}
}

func (s *StandardSignal) Header() *SignalHeader { return s.hdr }

// Gain is the physical change per digital step.
func (s *StandardSignal) Gain() float64 {
	dmin, dmax := s.hdr.DigitalMin.Value(), s.hdr.DigitalMax.Value()
	if dmax == dmin {
		return 0
	}
	return (s.hdr.PhysicalMax.Value() - s.hdr.PhysicalMin.Value()) / float64(dmax-dmin)
}

// Offset is the physical value of digital zero.
func (s *StandardSignal) Offset() float64 {
	return s.hdr.PhysicalMin.Value() - s.Gain()*float64(s.hdr.DigitalMin.Value())
}

// physical maps a raw digital sample to physical units. Raw values outside
// the declared digital range are extrapolated by the same line.
func (s *StandardSignal) physical(raw int16) float64 {
	dmin, dmax := s.hdr.DigitalMin.Value(), s.hdr.DigitalMax.Value()
	if dmax == dmin {
		return 0
	}
	pmin, pmax := s.hdr.PhysicalMin.Value(), s.hdr.PhysicalMax.Value()
	return pmin + (float64(raw)-float64(dmin))*(pmax-pmin)/float64(dmax-dmin)
}

// digital maps a physical sample to its raw representation, rounding half to
// even and clipping into the int16 range.
func (s *StandardSignal) digital(phys float64) int16 {
	pmin, pmax := s.hdr.PhysicalMin.Value(), s.hdr.PhysicalMax.Value()
	if pmax == pmin {
		return 0
	}
	dmin, dmax := s.hdr.DigitalMin.Value(), s.hdr.DigitalMax.Value()
	v := math.RoundToEven(float64(dmin) + (phys-pmin)*float64(dmax-dmin)/(pmax-pmin))
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// AnnotationSignal stores timestamped annotation lists. Its samples-per-
// record count is a byte budget: each data record reserves two bytes per
// "sample" for TAL text.
type AnnotationSignal struct {
	hdr *SignalHeader

	// Annotations in onset order. Timekeeping annotations read from a file
	// are kept here flagged IsTimekeeping; writing discards and regenerates
	// them.
	Annotations []Annotation

	cursor int // next annotation to write
}

// NewAnnotationSignal returns an annotation signal with a per-record budget
// of 2*samplesPerRecord bytes.
func NewAnnotationSignal(samplesPerRecord int) *AnnotationSignal {
	hdr := newSignalHeader(AnnotationSignalLabel)
	hdr.DigitalMin.SetValue(math.MinInt16)
	hdr.DigitalMax.SetValue(math.MaxInt16)
	hdr.PhysicalMin.SetValue(-1)
	hdr.PhysicalMax.SetValue(1)
	hdr.SamplesPerRecord.SetValue(samplesPerRecord)
	return &AnnotationSignal{hdr: hdr}
}

func (s *AnnotationSignal) Header() *SignalHeader { return s.hdr }

// ByteBudget is the number of bytes available per data record.
func (s *AnnotationSignal) ByteBudget() int {
	return 2 * s.hdr.SamplesPerRecord.Value()
}

// UserAnnotations returns the annotations excluding timekeeping entries.
func (s *AnnotationSignal) UserAnnotations() []Annotation {
	out := make([]Annotation, 0, len(s.Annotations))
	for _, a := range s.Annotations {
		if !a.IsTimekeeping {
			out = append(out, a)
		}
	}
	return out
}

// purgeTimekeeping drops timekeeping annotations; they are synthesized again
// on write.
func (s *AnnotationSignal) purgeTimekeeping() {
	kept := s.Annotations[:0]
	for _, a := range s.Annotations {
		if !a.IsTimekeeping {
			kept = append(kept, a)
		}
	}
	s.Annotations = kept
}
