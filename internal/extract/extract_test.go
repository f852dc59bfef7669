// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalforge/nfeproc/internal/xmltree"
)

const sampleDocument = `<?xml version="1.0" encoding="UTF-8"?>
<NFe xmlns="http://www.portalfiscal.inf.br/nfe">
  <infNFe Id="NFe35200714200166000187550010000000046550010466" versao="4.00">
    <ide>
      <natOp>VENDA DE MERCADORIA</natOp>
      <serie>1</serie>
      <nNF>4</nNF>
      <dEmi>2020-07-14</dEmi>
      <dSaiEnt>2020-07-15</dSaiEnt>
    </ide>
    <emit>
      <CNPJ>14200166000187</CNPJ>
      <xNome>EMPRESA EMITENTE LTDA</xNome>
    </emit>
    <dest>
      <CNPJ>82743287000880</CNPJ>
      <xNome>CLIENTE DESTINATARIO SA</xNome>
    </dest>
    <det nItem="1">
      <prod>
        <cProd>7891000100103</cProd>
        <xProd>PRODUTO TESTE 500G</xProd>
        <CFOP>5102</CFOP>
        <uCom>UN</uCom>
        <qCom>10.0000</qCom>
        <vUnCom>4.6500</vUnCom>
        <vProd>46.50</vProd>
      </prod>
      <imposto>
        <ICMS>
          <ICMS00>
            <vICMS>8.37</vICMS>
          </ICMS00>
        </ICMS>
        <PIS>
          <PISAliq>
            <vPIS>0.77</vPIS>
          </PISAliq>
        </PIS>
        <COFINS>
          <COFINSAliq>
            <vCOFINS>3.53</vCOFINS>
          </COFINSAliq>
        </COFINS>
      </imposto>
    </det>
    <total>
      <ICMSTot>
        <vICMS>8.37</vICMS>
        <vPIS>0.77</vPIS>
        <vCOFINS>3.53</vCOFINS>
        <vNF>46.50</vNF>
      </ICMSTot>
    </total>
  </infNFe>
</NFe>`

func parseDocument(t *testing.T, data string) xmltree.Tree {
	t.Helper()
	tree, err := xmltree.Parse([]byte(data))
	require.NoError(t, err)
	return tree
}

func TestExtract(t *testing.T) {
	header, items, err := Extract(parseDocument(t, sampleDocument))
	require.NoError(t, err)
	require.NotNil(t, header)

	assert.Equal(t, "35200714200166000187550010000000046550010466", header.AccessKey)
	assert.Len(t, header.AccessKey, 44)
	assert.Equal(t, "4", header.InvoiceNumber)
	assert.Equal(t, "1", header.Series)
	assert.Equal(t, "VENDA DE MERCADORIA", header.OperationNature)
	assert.Equal(t, "14200166000187", header.IssuerTaxID)
	assert.Equal(t, "EMPRESA EMITENTE LTDA", header.IssuerName)
	assert.Equal(t, "82743287000880", header.RecipientTaxID)
	assert.Equal(t, "CLIENTE DESTINATARIO SA", header.RecipientName)
	assert.InDelta(t, 46.50, header.TotalValue, 1e-9)
	assert.InDelta(t, 8.37, header.TotalICMS, 1e-9)
	assert.InDelta(t, 0.77, header.TotalPIS, 1e-9)
	assert.InDelta(t, 3.53, header.TotalCOFINS, 1e-9)

	require.NotNil(t, header.IssueDate)
	assert.Equal(t, time.Date(2020, 7, 14, 0, 0, 0, 0, time.UTC), *header.IssueDate)
	require.NotNil(t, header.MovementDate)
	assert.Equal(t, time.Date(2020, 7, 15, 0, 0, 0, 0, time.UTC), *header.MovementDate)

	// Placement fields are the pipeline's responsibility, not the extractor's.
	assert.Empty(t, header.SourceFile)
	assert.Empty(t, header.OriginalPath)
	assert.True(t, header.ProcessedAt.IsZero())

	// A lone det block still yields one item.
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, header.AccessKey, item.AccessKey)
	assert.Equal(t, 1, item.ItemNumber)
	assert.Equal(t, "7891000100103", item.ProductCode)
	assert.Equal(t, "PRODUTO TESTE 500G", item.ProductDescription)
	assert.Equal(t, "5102", item.CFOP)
	assert.Equal(t, "UN", item.CommercialUnit)
	assert.InDelta(t, 10.0, item.Quantity, 1e-9)
	assert.InDelta(t, 4.65, item.UnitValue, 1e-9)
	assert.InDelta(t, 46.50, item.TotalValue, 1e-9)
	assert.InDelta(t, 8.37, item.ICMSValue, 1e-9)
	assert.InDelta(t, 0.77, item.PISValue, 1e-9)
	assert.InDelta(t, 3.53, item.COFINSValue, 1e-9)
}

func TestExtractMultipleItems(t *testing.T) {
	doc := `<NFe><infNFe Id="NFe12345678901234567890123456789012345678901234">
	  <det nItem="1"><prod><cProd>A</cProd></prod><imposto/></det>
	  <det nItem="2"><prod><cProd>B</cProd></prod><imposto/></det>
	  <det nItem="3"><prod><cProd>C</cProd></prod><imposto/></det>
	</infNFe></NFe>`

	_, items, err := Extract(parseDocument(t, doc))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 1, items[0].ItemNumber)
	assert.Equal(t, "A", items[0].ProductCode)
	assert.Equal(t, 2, items[1].ItemNumber)
	assert.Equal(t, 3, items[2].ItemNumber)
	assert.Equal(t, "C", items[2].ProductCode)
}

func TestExtractMissingAccessKey(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "no Id attribute", doc: `<NFe><infNFe><ide/></infNFe></NFe>`},
		{name: "Id is only the prefix", doc: `<NFe><infNFe Id="NFe"><ide/></infNFe></NFe>`},
		{name: "empty Id", doc: `<NFe><infNFe Id=""><ide/></infNFe></NFe>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, items, err := Extract(parseDocument(t, tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNoAccessKey)
			assert.Nil(t, header)
			assert.Nil(t, items)
		})
	}
}

func TestExtractMissingSections(t *testing.T) {
	// Everything except the access key is optional: absent blocks and fields
	// produce zero values, not errors.
	doc := `<NFe><infNFe Id="NFe99999999999999999999999999999999999999999999"/></NFe>`

	header, items, err := Extract(parseDocument(t, doc))
	require.NoError(t, err)
	assert.Equal(t, "99999999999999999999999999999999999999999999", header.AccessKey)
	assert.Empty(t, header.InvoiceNumber)
	assert.Empty(t, header.IssuerName)
	assert.Nil(t, header.IssueDate)
	assert.Nil(t, header.MovementDate)
	assert.Zero(t, header.TotalValue)
	assert.Empty(t, items)
}

func TestExtractUnparsableDate(t *testing.T) {
	doc := `<NFe><infNFe Id="NFe11111111111111111111111111111111111111111111">
	  <ide><dEmi>14/07/2020</dEmi><dSaiEnt>not-a-date</dSaiEnt></ide>
	</infNFe></NFe>`

	header, _, err := Extract(parseDocument(t, doc))
	require.NoError(t, err)
	assert.Nil(t, header.IssueDate)
	assert.Nil(t, header.MovementDate)
}

func TestExtractTaxVariants(t *testing.T) {
	t.Run("unfamiliar variant name still resolves", func(t *testing.T) {
		doc := `<NFe><infNFe Id="NFe22222222222222222222222222222222222222222222">
		  <det nItem="1"><prod/><imposto>
		    <ICMS><ICMSSN102><vICMS>1.25</vICMS></ICMSSN102></ICMS>
		  </imposto></det>
		</infNFe></NFe>`

		_, items, err := Extract(parseDocument(t, doc))
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.InDelta(t, 1.25, items[0].ICMSValue, 1e-9)
	})

	t.Run("variant without the value field contributes zero", func(t *testing.T) {
		doc := `<NFe><infNFe Id="NFe33333333333333333333333333333333333333333333">
		  <det nItem="1"><prod/><imposto>
		    <ICMS><ICMS40><orig>0</orig></ICMS40></ICMS>
		  </imposto></det>
		</infNFe></NFe>`

		_, items, err := Extract(parseDocument(t, doc))
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Zero(t, items[0].ICMSValue)
	})

	t.Run("absent tax block contributes zero", func(t *testing.T) {
		doc := `<NFe><infNFe Id="NFe44444444444444444444444444444444444444444444">
		  <det nItem="1"><prod/><imposto/></det>
		</infNFe></NFe>`

		_, items, err := Extract(parseDocument(t, doc))
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Zero(t, items[0].ICMSValue)
		assert.Zero(t, items[0].PISValue)
		assert.Zero(t, items[0].COFINSValue)
	})

	t.Run("scalar variant is a shape error", func(t *testing.T) {
		doc := `<NFe><infNFe Id="NFe55555555555555555555555555555555555555555555">
		  <det nItem="1"><prod/><imposto>
		    <ICMS><ICMS00>8.37</ICMS00></ICMS>
		  </imposto></det>
		</infNFe></NFe>`

		_, _, err := Extract(parseDocument(t, doc))
		require.Error(t, err)
		var shapeErr *xmltree.ShapeError
		assert.ErrorAs(t, err, &shapeErr)
	})
}

func TestExtractNonNumericValues(t *testing.T) {
	// A numeric field that is present but unparsable rejects the document;
	// only absent or empty fields default to zero.
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "garbage total",
			doc: `<NFe><infNFe Id="NFe77777777777777777777777777777777777777777777">
			  <total><ICMSTot><vNF>abc</vNF></ICMSTot></total>
			</infNFe></NFe>`,
		},
		{
			name: "garbage item quantity",
			doc: `<NFe><infNFe Id="NFe77777777777777777777777777777777777777777777">
			  <det nItem="1"><prod><qCom>dez</qCom></prod><imposto/></det>
			</infNFe></NFe>`,
		},
		{
			name: "garbage item number",
			doc: `<NFe><infNFe Id="NFe77777777777777777777777777777777777777777777">
			  <det nItem="one"><prod/><imposto/></det>
			</infNFe></NFe>`,
		},
		{
			name: "garbage tax value",
			doc: `<NFe><infNFe Id="NFe77777777777777777777777777777777777777777777">
			  <det nItem="1"><prod/><imposto>
			    <ICMS><ICMS00><vICMS>oito</vICMS></ICMS00></ICMS>
			  </imposto></det>
			</infNFe></NFe>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, items, err := Extract(parseDocument(t, tt.doc))
			require.Error(t, err)
			var shapeErr *xmltree.ShapeError
			assert.ErrorAs(t, err, &shapeErr)
			assert.Nil(t, header)
			assert.Nil(t, items)
		})
	}
}

func TestExtractBrokenStructure(t *testing.T) {
	// Scalar text where a structural block is required aborts the document.
	doc := `<NFe><infNFe Id="NFe66666666666666666666666666666666666666666666">
	  <ide>scalar-not-block</ide>
	</infNFe></NFe>`

	header, items, err := Extract(parseDocument(t, doc))
	require.Error(t, err)
	var shapeErr *xmltree.ShapeError
	assert.ErrorAs(t, err, &shapeErr)
	assert.Nil(t, header)
	assert.Nil(t, items)
}
