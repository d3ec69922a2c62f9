// Package ofx parses OFX/QFX statement files into transactions for the
// ingestion pipeline. Statement import covers accounts that have no
// scraper backend.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"

	"github.com/nbarak/shekelbot/internal/model"
)

// Parser reads OFX/QFX statement files.
type Parser struct{}

// NewParser creates an OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// SGML-style OFX from some banks drops the closing bracket on
	// bare opening tags.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// preprocess fixes common formatting issues in bank-produced OFX files.
func (p *Parser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	content = tagFixRegex.ReplaceAllString(content, "$1>")
	return content
}

// ParseFile parses an OFX/QFX file into pending transactions owned by
// userID. Amounts keep the OFX sign convention, which matches ours:
// negative for charges, positive for credits.
func (p *Parser) ParseFile(_ context.Context, reader io.Reader, userID string) ([]model.Transaction, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var transactions []model.Transaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		bankStmts++
		account := string(stmt.BankAcctFrom.AcctID)
		for _, ofxTxn := range stmt.BankTranList.Transactions {
			transactions = append(transactions, p.convert(ofxTxn, account, userID))
		}
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		ccStmts++
		account := string(stmt.CCAcctFrom.AcctID)
		for _, ofxTxn := range stmt.BankTranList.Transactions {
			transactions = append(transactions, p.convert(ofxTxn, account, userID))
		}
	}

	slog.Info("Parsed OFX file",
		"transactions", len(transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return transactions, nil
}

func (p *Parser) convert(ofxTxn ofxgo.Transaction, account, userID string) model.Transaction {
	amount, _ := ofxTxn.TrnAmt.Float64()

	txn := model.Transaction{
		Date:        ofxTxn.DtPosted.Time.Truncate(24 * time.Hour),
		Description: p.description(ofxTxn),
		Account:     account,
		UserID:      userID,
		Amount:      amount,
		Status:      model.StatusPending,
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

// Boilerplate the card networks prepend to merchant names.
var descriptionPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

// description picks the most useful text for a transaction: payee name
// when present, otherwise the NAME field, falling back to MEMO when
// NAME is generic.
func (p *Parser) description(txn ofxgo.Transaction) string {
	if txn.Payee != nil && txn.Payee.Name != "" {
		return strings.TrimSpace(string(txn.Payee.Name))
	}

	name := string(txn.Name)
	if txn.Memo != "" && isGeneric(name) {
		name = string(txn.Memo)
	}
	return p.descriptionFromName(name)
}

func (p *Parser) descriptionFromName(name string) string {
	name = strings.TrimSpace(name)

	for _, prefix := range descriptionPrefixes {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Strip leading "MM/DD " dates some processors embed.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}

func isGeneric(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBIT", "CREDIT", "PAYMENT", "PURCHASE", "WITHDRAWAL", "DEPOSIT", "TRANSFER", "":
		return true
	}
	return false
}
