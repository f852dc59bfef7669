// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

// Package extract maps a parsed NFe document tree into the strict
// Header/Item records persisted by the store.
//
// The engine navigates the fixed structural path
// NFe -> infNFe -> {ide, emit, dest, total.ICMSTot, det} with total,
// default-producing lookups: missing scalar fields become "" or 0, missing
// dates become nil. A document is aborted only for a structurally broken node
// (scalar text where a block is required, or garbage where a number belongs)
// or a missing access key.
package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiscalforge/nfeproc/internal/models"
	"github.com/fiscalforge/nfeproc/internal/xmltree"
)

// accessKeyPrefix is stripped from the infNFe Id attribute to obtain the
// 44-digit access key ("NFe3520..." -> "3520...").
const accessKeyPrefix = "NFe"

// dateLayout is the textual date form used by ide date fields.
const dateLayout = "2006-01-02"

// ErrNoAccessKey is returned for documents whose Id attribute is absent or
// reduces to an empty access key. An empty key would collide with every other
// empty-key document in the store, so it is rejected here rather than left to
// the store's uniqueness constraint.
var ErrNoAccessKey = errors.New("document has no access key")

// Extract maps a parsed document tree into a header and its line items.
// The returned header has SourceFile, OriginalPath, and ProcessedAt unset;
// the pipeline and store fill those in.
func Extract(doc xmltree.Tree) (*models.Header, []models.Item, error) {
	nfe, err := xmltree.ChildMap(doc, "NFe")
	if err != nil {
		return nil, nil, err
	}
	infNFe, err := xmltree.ChildMap(nfe, "infNFe")
	if err != nil {
		return nil, nil, err
	}

	accessKey := strings.TrimPrefix(xmltree.Str(infNFe, xmltree.AttrPrefix+"Id"), accessKeyPrefix)
	if accessKey == "" {
		return nil, nil, ErrNoAccessKey
	}

	ide, err := xmltree.ChildMap(infNFe, "ide")
	if err != nil {
		return nil, nil, err
	}
	emit, err := xmltree.ChildMap(infNFe, "emit")
	if err != nil {
		return nil, nil, err
	}
	dest, err := xmltree.ChildMap(infNFe, "dest")
	if err != nil {
		return nil, nil, err
	}
	total, err := xmltree.ChildMap(infNFe, "total")
	if err != nil {
		return nil, nil, err
	}
	icmsTot, err := xmltree.ChildMap(total, "ICMSTot")
	if err != nil {
		return nil, nil, err
	}

	nums := &numReader{}
	header := &models.Header{
		AccessKey:       accessKey,
		InvoiceNumber:   xmltree.Str(ide, "nNF"),
		Series:          xmltree.Str(ide, "serie"),
		IssueDate:       parseDate(xmltree.Str(ide, "dEmi")),
		MovementDate:    parseDate(xmltree.Str(ide, "dSaiEnt")),
		OperationNature: xmltree.Str(ide, "natOp"),
		IssuerTaxID:     xmltree.Str(emit, "CNPJ"),
		IssuerName:      xmltree.Str(emit, "xNome"),
		RecipientTaxID:  xmltree.Str(dest, "CNPJ"),
		RecipientName:   xmltree.Str(dest, "xNome"),
		TotalValue:      nums.float(icmsTot, "vNF"),
		TotalICMS:       nums.float(icmsTot, "vICMS"),
		TotalPIS:        nums.float(icmsTot, "vPIS"),
		TotalCOFINS:     nums.float(icmsTot, "vCOFINS"),
	}
	if nums.err != nil {
		return nil, nil, nums.err
	}

	// A lone det block is normalized to a one-element list by ChildList.
	det, err := xmltree.ChildList(infNFe, "det")
	if err != nil {
		return nil, nil, err
	}

	items := make([]models.Item, 0, len(det))
	for _, entry := range det {
		prod, err := xmltree.ChildMap(entry, "prod")
		if err != nil {
			return nil, nil, err
		}
		imposto, err := xmltree.ChildMap(entry, "imposto")
		if err != nil {
			return nil, nil, err
		}

		icms, err := taxValue(imposto, "ICMS", "vICMS")
		if err != nil {
			return nil, nil, err
		}
		pis, err := taxValue(imposto, "PIS", "vPIS")
		if err != nil {
			return nil, nil, err
		}
		cofins, err := taxValue(imposto, "COFINS", "vCOFINS")
		if err != nil {
			return nil, nil, err
		}

		items = append(items, models.Item{
			AccessKey:          accessKey,
			ItemNumber:         nums.int(entry, xmltree.AttrPrefix+"nItem"),
			ProductCode:        xmltree.Str(prod, "cProd"),
			ProductDescription: xmltree.Str(prod, "xProd"),
			CFOP:               xmltree.Str(prod, "CFOP"),
			CommercialUnit:     xmltree.Str(prod, "uCom"),
			Quantity:           nums.float(prod, "qCom"),
			UnitValue:          nums.float(prod, "vUnCom"),
			TotalValue:         nums.float(prod, "vProd"),
			ICMSValue:          icms,
			PISValue:           pis,
			COFINSValue:        cofins,
		})
		if nums.err != nil {
			return nil, nil, nums.err
		}
	}

	return header, items, nil
}

// taxValue resolves a polymorphic tax sub-document. The tax block (ICMS, PIS,
// COFINS) holds exactly one child whose name denotes the tax regime variant;
// the variant's fields carry the actual values. The variant name is never
// assumed: the first non-attribute child block found is used. An absent tax
// block or an absent field contributes 0.
func taxValue(imposto xmltree.Tree, taxName, field string) (float64, error) {
	group, err := xmltree.ChildMap(imposto, taxName)
	if err != nil {
		return 0, err
	}
	for key, v := range group {
		if strings.HasPrefix(key, xmltree.AttrPrefix) || strings.HasPrefix(key, "#") {
			continue
		}
		variant, ok := v.(map[string]interface{})
		if !ok {
			return 0, fmt.Errorf("tax %s: %w", taxName, &xmltree.ShapeError{Key: key, Want: "element block", Got: v})
		}
		return xmltree.Float(variant, field)
	}
	return 0, nil
}

// numReader reads numeric fields, remembering the first shape error so a
// record literal can stay a single expression. Check err after the literal.
type numReader struct {
	err error
}

func (n *numReader) float(node xmltree.Tree, key string) float64 {
	v, err := xmltree.Float(node, key)
	if err != nil && n.err == nil {
		n.err = err
	}
	return v
}

func (n *numReader) int(node xmltree.Tree, key string) int {
	v, err := xmltree.Int(node, key)
	if err != nil && n.err == nil {
		n.err = err
	}
	return v
}

// parseDate converts a YYYY-MM-DD string to a date. Absent or unparsable
// input yields nil rather than an error.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}
