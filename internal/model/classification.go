package model

// ClassificationMethod identifies which pipeline layer resolved a transaction.
type ClassificationMethod string

// Classification method constants.
const (
	MethodInvoice ClassificationMethod = "invoice"
	MethodLedger  ClassificationMethod = "ledger"
	MethodRule    ClassificationMethod = "rule"
	MethodManual  ClassificationMethod = "manual"
	MethodFailed  ClassificationMethod = "failed"
)

// ClassificationResult is the outcome of one classification attempt.
// It is ephemeral: it drives the transaction mutation and run summary
// but is never persisted as its own record.
type ClassificationResult struct {
	Metadata   map[string]string
	Method     ClassificationMethod
	CategoryID string
	Entity     Entity
	Confidence RuleConfidence
	RuleID     string
	Success    bool
}

// InvoiceMatch is a matching document found in the external invoicing system.
type InvoiceMatch struct {
	DocumentID   string
	CustomerName string
	Entity       Entity
	Amount       float64
	TaxIncluded  bool
}

// LedgerMatch is a matching expected payment from a per-business ledger.
type LedgerMatch struct {
	ClientName string
	Entity     Entity
	Amount     float64
}
