// Package store provides backends for the keyed-record service and the
// typed mapping between records and domain models. Field display names
// are centralized here so the rest of the code never handles raw
// field-name strings.
package store

import (
	"time"

	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/service"
)

// Table names.
const (
	TableTransactions = "Transactions"
	TableAccounts     = "Accounts"
	TableCategories   = "Categories"
	TableRules        = "Rules"
	TableIncome       = "Income"
	TableExpenses     = "Expenses"
)

// Transaction fields.
const (
	TxFieldDate        = "Date"
	TxFieldAmount      = "Amount"
	TxFieldDescription = "Description"
	TxFieldAccount     = "Account"
	TxFieldUserID      = "UserID"
	TxFieldHash        = "Hash"
	TxFieldStatus      = "Status"
	TxFieldCategory    = "Category"
	TxFieldRule        = "Rule"
	TxFieldEntity      = "Entity"
)

// Account fields.
const (
	AccFieldName        = "Name"
	AccFieldUserID      = "UserID"
	AccFieldLastScraped = "LastScraped"
	AccFieldBalance     = "Balance"
)

// Category fields.
const (
	CatFieldName   = "Name"
	CatFieldType   = "Type"
	CatFieldEntity = "Entity"
	CatFieldActive = "Active"
)

// Rule fields.
const (
	RuleFieldPattern    = "Pattern"
	RuleFieldCategory   = "Category"
	RuleFieldEntity     = "Entity"
	RuleFieldType       = "Type"
	RuleFieldConfidence = "Confidence"
	RuleFieldUseCount   = "UseCount"
	RuleFieldCreatedBy  = "CreatedBy"
	RuleFieldCreatedAt  = "CreatedAt"
)

// Income and expense record fields (same shape for both tables).
const (
	LinkFieldTransaction = "Transaction"
	LinkFieldCategory    = "Category"
	LinkFieldEntity      = "Entity"
	LinkFieldAmount      = "Amount"
	LinkFieldDate        = "Date"
	LinkFieldUserID      = "UserID"
	LinkFieldSource      = "Source"
)

const dateLayout = "2006-01-02"

// TransactionFields converts a transaction to store fields.
func TransactionFields(t model.Transaction) map[string]any {
	return map[string]any{
		TxFieldDate:        t.Date.Format(dateLayout),
		TxFieldAmount:      t.Amount,
		TxFieldDescription: t.Description,
		TxFieldAccount:     t.Account,
		TxFieldUserID:      t.UserID,
		TxFieldHash:        t.Hash,
		TxFieldStatus:      string(t.Status),
		TxFieldCategory:    t.CategoryID,
		TxFieldRule:        t.RuleID,
		TxFieldEntity:      string(t.Entity),
	}
}

// TransactionFromRecord converts a store record to a transaction.
func TransactionFromRecord(r service.Record) model.Transaction {
	date, _ := time.Parse(dateLayout, fieldString(r, TxFieldDate))
	return model.Transaction{
		ID:          r.ID,
		Date:        date,
		Amount:      fieldFloat(r, TxFieldAmount),
		Description: fieldString(r, TxFieldDescription),
		Account:     fieldString(r, TxFieldAccount),
		UserID:      fieldString(r, TxFieldUserID),
		Hash:        fieldString(r, TxFieldHash),
		Status:      model.TransactionStatus(fieldString(r, TxFieldStatus)),
		CategoryID:  fieldString(r, TxFieldCategory),
		RuleID:      fieldString(r, TxFieldRule),
		Entity:      model.Entity(fieldString(r, TxFieldEntity)),
	}
}

// AccountFields converts an account to store fields.
func AccountFields(a model.Account) map[string]any {
	fields := map[string]any{
		AccFieldName:   a.Name,
		AccFieldUserID: a.UserID,
	}
	if a.LastScraped != nil {
		fields[AccFieldLastScraped] = a.LastScraped.Format(time.RFC3339)
	}
	if a.Balance != nil {
		fields[AccFieldBalance] = *a.Balance
	}
	return fields
}

// AccountFromRecord converts a store record to an account.
func AccountFromRecord(r service.Record) model.Account {
	acc := model.Account{
		ID:     r.ID,
		Name:   fieldString(r, AccFieldName),
		UserID: fieldString(r, AccFieldUserID),
	}
	if raw := fieldString(r, AccFieldLastScraped); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			acc.LastScraped = &t
		}
	}
	if _, ok := r.Fields[AccFieldBalance]; ok {
		balance := fieldFloat(r, AccFieldBalance)
		acc.Balance = &balance
	}
	return acc
}

// CategoryFromRecord converts a store record to a category.
func CategoryFromRecord(r service.Record) model.Category {
	return model.Category{
		ID:       r.ID,
		Name:     fieldString(r, CatFieldName),
		Type:     model.CategoryType(fieldString(r, CatFieldType)),
		Entity:   model.Entity(fieldString(r, CatFieldEntity)),
		IsActive: fieldBool(r, CatFieldActive),
	}
}

// RuleFields converts a rule to store fields.
func RuleFields(rule model.Rule) map[string]any {
	return map[string]any{
		RuleFieldPattern:    rule.Pattern,
		RuleFieldCategory:   rule.CategoryID,
		RuleFieldEntity:     string(rule.Entity),
		RuleFieldType:       string(rule.Type),
		RuleFieldConfidence: string(rule.Confidence),
		RuleFieldUseCount:   rule.UseCount,
		RuleFieldCreatedBy:  rule.CreatedBy,
		RuleFieldCreatedAt:  rule.CreatedAt.Format(time.RFC3339),
	}
}

// RuleFromRecord converts a store record to a rule.
func RuleFromRecord(r service.Record) model.Rule {
	createdAt, _ := time.Parse(time.RFC3339, fieldString(r, RuleFieldCreatedAt))
	return model.Rule{
		ID:         r.ID,
		Pattern:    fieldString(r, RuleFieldPattern),
		CategoryID: fieldString(r, RuleFieldCategory),
		Entity:     model.Entity(fieldString(r, RuleFieldEntity)),
		Type:       model.CategoryType(fieldString(r, RuleFieldType)),
		Confidence: model.RuleConfidence(fieldString(r, RuleFieldConfidence)),
		UseCount:   int(fieldFloat(r, RuleFieldUseCount)),
		CreatedBy:  fieldString(r, RuleFieldCreatedBy),
		CreatedAt:  createdAt,
	}
}

// LinkFields builds an income or expense record linking a transaction
// to its resolved category and entity. Amounts are stored unsigned.
func LinkFields(t model.Transaction, categoryID string, entity model.Entity) map[string]any {
	amount := t.Amount
	if amount < 0 {
		amount = -amount
	}
	return map[string]any{
		LinkFieldTransaction: t.ID,
		LinkFieldCategory:    categoryID,
		LinkFieldEntity:      string(entity),
		LinkFieldAmount:      amount,
		LinkFieldDate:        t.Date.Format(dateLayout),
		LinkFieldUserID:      t.UserID,
		LinkFieldSource:      t.Account,
	}
}

// FormatDate renders a time in the store's date-field layout.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func fieldString(r service.Record, name string) string {
	v, ok := r.Fields[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func fieldFloat(r service.Record, name string) float64 {
	switch v := r.Fields[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func fieldBool(r service.Record, name string) bool {
	switch v := r.Fields[name].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return false
	}
}
