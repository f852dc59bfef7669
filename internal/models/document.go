// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

// Package models defines the normalized records extracted from NFe documents.
package models

import "time"

// Header is the one-per-document summary record, keyed by the 44-digit
// access key embedded in the document's Id attribute.
//
// A header is replaced wholesale when a document with the same access key is
// re-ingested (last-write-wins). ProcessedAt is set by the store at write time.
type Header struct {
	AccessKey       string
	InvoiceNumber   string
	Series          string
	IssueDate       *time.Time // nil when absent or unparsable
	MovementDate    *time.Time // nil when absent or unparsable
	OperationNature string
	IssuerTaxID     string
	IssuerName      string
	RecipientTaxID  string
	RecipientName   string
	TotalValue      float64
	TotalICMS       float64
	TotalPIS        float64
	TotalCOFINS     float64
	SourceFile      string // originating file name
	OriginalPath    string // path relative to the watched root
	ProcessedAt     time.Time
}

// Item is one product/service line within a document. The full item set for
// an access key is replaced atomically with its header on each ingestion,
// never merged or appended.
type Item struct {
	AccessKey          string
	ItemNumber         int
	ProductCode        string
	ProductDescription string
	CFOP               string
	CommercialUnit     string
	Quantity           float64
	UnitValue          float64
	TotalValue         float64
	ICMSValue          float64
	PISValue           float64
	COFINSValue        float64
}
