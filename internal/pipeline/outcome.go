// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

package pipeline

// Stage identifies the ingestion stage where a document failed.
type Stage string

// Ingestion stages, in pipeline order.
const (
	StageRead    Stage = "read"
	StageParse   Stage = "parse"
	StageExtract Stage = "extract"
	StagePersist Stage = "persist"
	StageRoute   Stage = "route"
)

// Outcome is the terminal result of one Ingest call.
//
// Exactly one of two shapes occurs:
//   - Committed: the document was persisted and the file moved to the
//     processed area (Destination set).
//   - Rejected: Stage and Err identify the failure; Destination is the
//     error-area path the file was moved to, or "" when even the error-area
//     move failed and the file was left in place for manual inspection.
type Outcome struct {
	Committed   bool
	Stage       Stage
	Err         error
	Destination string
}
