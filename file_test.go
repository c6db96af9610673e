// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenPSG/edfplus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recording(t *testing.T, start time.Time, samples []float64) *edf.File {
	t.Helper()

	ecg := edf.NewStandardSignal("ECG", -5, 5, -32768, 32767)
	ecg.Header().PhysicalDimension.SetValue("mV")
	ecg.Header().SamplesPerRecord.SetValue(2)
	ecg.Samples = samples

	f := edf.New()
	f.SetFileType(edf.FileTypeEDFPlusContinuous)
	f.Header.StartTime.SetValue(start)
	f.Header.DataRecordDuration.SetValue(1)
	f.Signals = []edf.Signal{ecg}

	// Writing fixes the record count and signal order.
	require.NoError(t, f.Write(tempFile(t)))
	return f
}

func TestAppendWithGap(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)

	a := recording(t, start, make([]float64, 20)) // 10 records of 1s
	b := recording(t, start.Add(12*time.Second), make([]float64, 4))

	require.NoError(t, a.Append(b))

	assert.Equal(t, edf.FileTypeEDFPlusDiscontinuous, a.FileType())
	assert.Equal(t, 12, a.Header.DataRecords.Value())

	require.Len(t, a.Fragments, 2)
	assert.Equal(t, 0.0, a.Fragments[0].StartTime)
	assert.Equal(t, 9, a.Fragments[0].EndRecord)
	assert.Equal(t, 12.0, a.Fragments[1].StartTime)
	assert.Equal(t, 10, a.Fragments[1].StartRecord)
	assert.Equal(t, 11, a.Fragments[1].EndRecord)

	sig := a.SignalByLabel("ECG", false).(*edf.StandardSignal)
	assert.Len(t, sig.Samples, 24)

	assert.Equal(t, start.Add(14*time.Second), a.EndTime())
}

func TestAppendContiguous(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)

	a := recording(t, start, make([]float64, 20))
	b := recording(t, start.Add(10*time.Second), make([]float64, 4))

	require.NoError(t, a.Append(b))
	assert.Equal(t, edf.FileTypeEDFPlusContinuous, a.FileType())
	assert.Equal(t, 12, a.Header.DataRecords.Value())
}

func TestAppendIncompatible(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)

	a := recording(t, start, make([]float64, 20))
	b := recording(t, start.Add(10*time.Second), make([]float64, 4))
	b.SignalByLabel("ECG", false).(*edf.StandardSignal).Header().Label.SetValue("EMG")

	require.ErrorIs(t, a.Append(b), edf.ErrIncompatibleHeader)
}

func TestAppendOutOfOrder(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)

	a := recording(t, start, make([]float64, 20))
	b := recording(t, start.Add(5*time.Second), make([]float64, 4))

	var orderErr *edf.OrderError
	require.ErrorAs(t, a.Append(b), &orderErr)
}

func TestAppendMergesAnnotations(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)

	a := recording(t, start, make([]float64, 20))
	b := recording(t, start.Add(10*time.Second), make([]float64, 4))

	annB := b.SignalByLabel(edf.AnnotationSignalLabel, false).(*edf.AnnotationSignal)
	annB.Annotations = append(annB.Annotations, edf.Annotation{
		Onset:        1.25,
		Descriptions: []string{"Arousal"},
	})

	require.NoError(t, a.Append(b))

	annA := a.SignalByLabel(edf.AnnotationSignalLabel, false).(*edf.AnnotationSignal)
	user := annA.UserAnnotations()
	require.Len(t, user, 1)
	assert.InDelta(t, 11.25, user[0].Onset, 1e-9)
}

func TestClone(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	f := recording(t, start, []float64{1, 2, 3, 4})
	f.MarkFragment(0, 0)

	clone := f.Clone()

	orig := f.SignalByLabel("ECG", false).(*edf.StandardSignal)
	copied := clone.SignalByLabel("ECG", false).(*edf.StandardSignal)
	require.Equal(t, orig.Samples, copied.Samples)

	copied.Samples[0] = 99
	copied.Header().Label.SetValue("EMG")
	clone.Fragments[0].StartTime = 42

	assert.Equal(t, 1.0, orig.Samples[0])
	assert.Equal(t, "ECG", orig.Header().Label.Value())
	assert.Equal(t, 0.0, f.Fragments[0].StartTime)
	assert.Equal(t, f.Header.DataRecords.Value(), clone.Header.DataRecords.Value())
}

func TestSignalByLabel(t *testing.T) {
	f := recording(t, time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC), []float64{1, 2})

	assert.NotNil(t, f.SignalByLabel("ECG", false))
	assert.Nil(t, f.SignalByLabel("ecg", false))
	assert.NotNil(t, f.SignalByLabel("ecg", true))
	assert.Nil(t, f.SignalByLabel("SpO2", true))

	_, ok := f.SignalByLabel(edf.AnnotationSignalLabel, false).(*edf.AnnotationSignal)
	assert.True(t, ok)
}

func TestSaveAndOpenFile(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "recording.edf")

	f := edf.New()
	f.SetFileType(edf.FileTypeEDFPlusContinuous)
	f.Header.StartTime.SetValue(start)
	f.Header.DataRecordDuration.SetValue(1)
	f.Header.PatientID.ID = &edf.PatientID{
		Code:      "MCH-0234567",
		Sex:       "F",
		Birthdate: time.Date(1951, 5, 30, 0, 0, 0, 0, time.UTC),
		Name:      "Haagse Harry",
	}

	ecg := edf.NewStandardSignal("ECG", -5, 5, -32768, 32767)
	ecg.Header().SamplesPerRecord.SetValue(2)
	ecg.Samples = []float64{0, 1, 2, 3}

	ann := edf.NewAnnotationSignal(32)
	ann.Annotations = []edf.Annotation{
		{Onset: 0.5, Duration: 1.5, Descriptions: []string{"Sleep stage W"}},
	}

	f.Signals = []edf.Signal{ecg, ann}
	require.NoError(t, f.Save(path))

	got, err := edf.OpenFile(path)
	require.NoError(t, err)

	assert.Equal(t, start, got.StartTime())
	require.NotNil(t, got.Header.PatientID.ID)
	assert.Equal(t, "Haagse Harry", got.Header.PatientID.ID.Name)

	sig := got.SignalByLabel("ECG", false).(*edf.StandardSignal)
	require.Len(t, sig.Samples, 4)
	for i, want := range []float64{0, 1, 2, 3} {
		assert.InDelta(t, want, sig.Samples[i], 5.0/32768)
	}

	user := got.SignalByLabel(edf.AnnotationSignalLabel, false).(*edf.AnnotationSignal).UserAnnotations()
	require.Len(t, user, 1)
	assert.Equal(t, []string{"Sleep stage W"}, user[0].Descriptions)
	assert.Equal(t, start.Add(2*time.Second), got.EndTime())
}
