// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package edf reads, writes and edits files in the European Data Format and
// its EDF+ extensions, including discontinuous (EDF+D) recordings and
// timestamped annotation lists.
package edf

type Version string

const (
	// Version0 represents the version of the EDF/EDF+ standard.
	Version0 Version = "0"
)

// FileType is the variant of the format declared by the 44-byte reserved
// field of the header.
type FileType string

const (
	FileTypeEDF                  FileType = ""      // plain EDF
	FileTypeEDFPlusContinuous    FileType = "EDF+C" // EDF+ with contiguous data records
	FileTypeEDFPlusDiscontinuous FileType = "EDF+D" // EDF+ with interrupted recording time
)

// IsDiscontinuous reports whether data records are allowed to leave gaps in
// recording time.
func (t FileType) IsDiscontinuous() bool { return t == FileTypeEDFPlusDiscontinuous }

// IsEDFPlus reports whether the file carries EDF+ annotations.
func (t FileType) IsEDFPlus() bool { return t != FileTypeEDF }

// AnnotationSignalLabel is the label reserved for annotation signals.
const AnnotationSignalLabel = "EDF Annotations"

const (
	// fixedHeaderSize is the size of the header prelude; each signal adds
	// another 256 bytes of per-signal fields.
	fixedHeaderSize = 256

	// dataRecordsOffset is the byte offset of the number-of-data-records
	// field, patched in place after streaming the records.
	dataRecordsOffset = 8 + 80 + 80 + 16 + 8 + 44

	// timeTolerance is the slack allowed between the recorded and the
	// computed start time of a data record, in seconds.
	timeTolerance = 1e-3
)
