package ofx

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>POS PURCHASE COFFEE HOUSE TLV
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>1500.00
<FITID>2024012001
<NAME>SALARY DEPOSIT
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`

func TestParseFileBankStatement(t *testing.T) {
	parser := NewParser()

	txns, err := parser.ParseFile(context.Background(), strings.NewReader(sampleBankOFX), "user-1")
	require.NoError(t, err)
	require.Len(t, txns, 2)

	charge := txns[0]
	assert.Equal(t, "COFFEE HOUSE TLV", charge.Description)
	assert.Equal(t, "1234567890", charge.Account)
	assert.Equal(t, "user-1", charge.UserID)
	assert.InDelta(t, -25.50, charge.Amount, 0.001)
	assert.NotEmpty(t, charge.Hash)

	deposit := txns[1]
	assert.Equal(t, "SALARY DEPOSIT", deposit.Description)
	assert.InDelta(t, 1500.00, deposit.Amount, 0.001)
	assert.True(t, deposit.IsIncome())
}

func TestParseFileHashIsStable(t *testing.T) {
	parser := NewParser()

	first, err := parser.ParseFile(context.Background(), strings.NewReader(sampleBankOFX), "user-1")
	require.NoError(t, err)
	second, err := parser.ParseFile(context.Background(), strings.NewReader(sampleBankOFX), "user-1")
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Hash, second[i].Hash)
	}
}

func TestParseFileRejectsGarbage(t *testing.T) {
	parser := NewParser()

	_, err := parser.ParseFile(context.Background(), strings.NewReader("not an ofx file"), "user-1")
	assert.Error(t, err)
}

func TestDescriptionPrefersPayee(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"strips pos prefix", "POS PURCHASE SUPERMARKET", "SUPERMARKET"},
		{"strips embedded date", "03/15 GROCERY STORE", "GROCERY STORE"},
		{"plain name untouched", "RENT MARCH", "RENT MARCH"},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parser.descriptionFromName(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}
