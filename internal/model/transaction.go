// Package model defines the core domain types for shekelbot.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// TransactionStatus tracks where a transaction sits in the classification pipeline.
type TransactionStatus string

// Transaction status constants.
const (
	StatusPending            TransactionStatus = "pending"
	StatusAutoClassified     TransactionStatus = "auto-classified"
	StatusManuallyClassified TransactionStatus = "manually-classified"
	StatusIgnored            TransactionStatus = "ignored"
)

// Transaction represents a single scraped or imported bank/card transaction.
// Amounts are signed: negative is an expense, positive is income.
type Transaction struct {
	Date        time.Time
	ID          string
	Hash        string
	Description string
	Account     string // Source account display name
	UserID      string
	Status      TransactionStatus
	CategoryID  string
	RuleID      string
	Entity      Entity
	Amount      float64
}

// GenerateHash returns the deterministic content hash used for
// deduplication. Two scrapes observing the same logical transaction
// must produce the same hash, so only defining fields participate.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Description,
		t.Account,
		t.UserID)
	sum := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", sum)
}

// IsIncome reports whether the transaction is money coming in.
func (t *Transaction) IsIncome() bool {
	return t.Amount > 0
}
