package domain

import (
	"time"
)

// Order is an email-derived purchase record. Rows are written by the email
// ingestion pipeline; the reconciliation engine only reads them and writes
// back the matched transaction link.
type Order struct {
	ID     string
	UserID string

	Merchant           string
	MerchantNormalized string
	OrderDate          time.Time
	Total              float64

	MatchedTransactionID string
	IsReconciled         bool
}

// OrderItem is one line of an email order, carried along for categorization
// context when an order has been reconciled to a transaction.
type OrderItem struct {
	ID      string
	OrderID string

	ProductName   string
	AICategory    string
	TotalPrice    float64
	TaxDeductible bool
	ExpenseType   ExpenseType
}

// CandidateStatus is the review state of a proposed order/transaction link.
type CandidateStatus string

const (
	CandidatePending   CandidateStatus = "pending"
	CandidateConfirmed CandidateStatus = "confirmed"
	CandidateRejected  CandidateStatus = "rejected"
)

// ReconciliationCandidate is a proposed link between an Order and a
// Transaction, scored by the reconciliation engine.
type ReconciliationCandidate struct {
	ID            string
	UserID        string
	TransactionID string
	OrderID       string

	Confidence float64
	Status     CandidateStatus
	ReviewedAt *time.Time
}
