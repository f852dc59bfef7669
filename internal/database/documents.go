// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fiscalforge/nfeproc/internal/logging"
	"github.com/fiscalforge/nfeproc/internal/models"
)

// UpsertDocument persists a header and its full item set as one atomic unit.
//
// Semantics, both inside a single transaction:
//   - header: INSERT OR REPLACE keyed by the unique access key
//     (last-write-wins on re-ingestion)
//   - items: DELETE all rows for the access key, then INSERT the new set
//     (never merged or appended)
//
// Items are deleted before the header is replaced so the foreign key on
// access_key holds at every step. Either both writes commit or both roll
// back. ProcessedAt is stamped here if the caller left it zero.
func (db *DB) UpsertDocument(ctx context.Context, header *models.Header, items []models.Item) (err error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if header.ProcessedAt.IsZero() {
		header.ProcessedAt = time.Now()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().
					Err(rbErr).
					AnErr("original_error", err).
					Msg("Transaction rollback failed")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM nfe_items WHERE access_key = ?`, header.AccessKey); err != nil {
		return fmt.Errorf("failed to clear items for %s: %w", header.AccessKey, err)
	}

	if _, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO nfe_headers (
		access_key, invoice_number, series, issue_date, movement_date,
		operation_nature, issuer_tax_id, issuer_name, recipient_tax_id,
		recipient_name, total_value, total_icms, total_pis, total_cofins,
		source_file, original_path, processed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		header.AccessKey, header.InvoiceNumber, header.Series,
		nullableTime(header.IssueDate), nullableTime(header.MovementDate),
		header.OperationNature, header.IssuerTaxID, header.IssuerName,
		header.RecipientTaxID, header.RecipientName,
		header.TotalValue, header.TotalICMS, header.TotalPIS, header.TotalCOFINS,
		header.SourceFile, header.OriginalPath, header.ProcessedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert header %s: %w", header.AccessKey, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO nfe_items (
		access_key, item_number, product_code, product_description, cfop,
		commercial_unit, quantity, unit_value, total_value,
		icms_value, pis_value, cofins_value
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close item statement: %w", closeErr)
		}
	}()

	for i := range items {
		item := &items[i]
		if _, err = stmt.ExecContext(ctx,
			item.AccessKey, item.ItemNumber, item.ProductCode,
			item.ProductDescription, item.CFOP, item.CommercialUnit,
			item.Quantity, item.UnitValue, item.TotalValue,
			item.ICMSValue, item.PISValue, item.COFINSValue,
		); err != nil {
			return fmt.Errorf("failed to insert item %d for %s: %w", item.ItemNumber, item.AccessKey, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logging.Info().
		Str("access_key", header.AccessKey).
		Str("invoice", header.InvoiceNumber).
		Int("items", len(items)).
		Msg("Document persisted")

	return nil
}

// GetHeader retrieves a header by access key.
// Returns ErrNotFound when no document with the key exists.
func (db *DB) GetHeader(ctx context.Context, accessKey string) (*models.Header, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT
		access_key, invoice_number, series, issue_date, movement_date,
		operation_nature, issuer_tax_id, issuer_name, recipient_tax_id,
		recipient_name, total_value, total_icms, total_pis, total_cofins,
		source_file, original_path, processed_at
	FROM nfe_headers WHERE access_key = ?`, accessKey)

	var (
		h            models.Header
		issueDate    sql.NullTime
		movementDate sql.NullTime
	)
	err := row.Scan(
		&h.AccessKey, &h.InvoiceNumber, &h.Series, &issueDate, &movementDate,
		&h.OperationNature, &h.IssuerTaxID, &h.IssuerName, &h.RecipientTaxID,
		&h.RecipientName, &h.TotalValue, &h.TotalICMS, &h.TotalPIS, &h.TotalCOFINS,
		&h.SourceFile, &h.OriginalPath, &h.ProcessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("header %s: %w", accessKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header %s: %w", accessKey, err)
	}

	if issueDate.Valid {
		h.IssueDate = &issueDate.Time
	}
	if movementDate.Valid {
		h.MovementDate = &movementDate.Time
	}
	return &h, nil
}

// GetItems retrieves the item set for an access key, ordered by item number.
func (db *DB) GetItems(ctx context.Context, accessKey string) ([]models.Item, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT
		access_key, item_number, product_code, product_description, cfop,
		commercial_unit, quantity, unit_value, total_value,
		icms_value, pis_value, cofins_value
	FROM nfe_items WHERE access_key = ? ORDER BY item_number`, accessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read items for %s: %w", accessKey, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Failed to close item rows")
		}
	}()

	var items []models.Item
	for rows.Next() {
		var item models.Item
		if err := rows.Scan(
			&item.AccessKey, &item.ItemNumber, &item.ProductCode,
			&item.ProductDescription, &item.CFOP, &item.CommercialUnit,
			&item.Quantity, &item.UnitValue, &item.TotalValue,
			&item.ICMSValue, &item.PISValue, &item.COFINSValue,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item for %s: %w", accessKey, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items for %s: %w", accessKey, err)
	}
	return items, nil
}

// CountHeaders returns the number of persisted headers.
func (db *DB) CountHeaders(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nfe_headers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count headers: %w", err)
	}
	return count, nil
}

// nullableTime maps a *time.Time to a driver-friendly NULL when nil.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
