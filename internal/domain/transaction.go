package domain

import (
	"time"
)

// ReviewStatus tracks where a transaction sits in the categorization lifecycle.
type ReviewStatus string

const (
	// ReviewPendingAI means the transaction has never been seen by the categorizer.
	ReviewPendingAI ReviewStatus = "pending_ai"
	// ReviewNeedsReview means categorization ran but the result needs a human.
	ReviewNeedsReview ReviewStatus = "needs_review"
	// ReviewAIUncertain means the AI categorized with low confidence and a
	// question was (or will be) raised.
	ReviewAIUncertain ReviewStatus = "ai_uncertain"
	// ReviewAutoCategorized means the AI was confident enough to apply silently.
	ReviewAutoCategorized ReviewStatus = "auto_categorized"
	// ReviewUserConfirmed means the user explicitly confirmed or overrode.
	ReviewUserConfirmed ReviewStatus = "user_confirmed"
)

// IsResolved reports whether the transaction needs no further categorization.
func (s ReviewStatus) IsResolved() bool {
	return s == ReviewAutoCategorized || s == ReviewUserConfirmed
}

// ExpenseType distinguishes personal spending from business spending.
type ExpenseType string

const (
	ExpensePersonal ExpenseType = "personal"
	ExpenseBusiness ExpenseType = "business"
	ExpenseMixed    ExpenseType = "mixed"
)

// ValidExpenseType reports whether s is one of the known expense types.
func ValidExpenseType(s string) bool {
	switch ExpenseType(s) {
	case ExpensePersonal, ExpenseBusiness, ExpenseMixed:
		return true
	}
	return false
}

// Transaction is one bank charge or credit. Rows are created by ingestion;
// this module only mutates the categorization, subscription and
// reconciliation fields.
type Transaction struct {
	ID        string
	UserID    string
	AccountID string

	MerchantName       string
	MerchantNormalized string
	Description        string

	// Amount is signed: positive = money out (spend), negative = money in.
	Amount          float64
	TransactionDate time.Time

	AICategory   string
	AIConfidence float64
	// UserCategory, when set, always wins over AICategory.
	UserCategory string

	ExpenseType   ExpenseType
	TaxDeductible bool
	TaxCategory   string

	ReviewStatus   ReviewStatus
	IsSubscription bool

	// MatchedOrderID links to the email order that paid for this charge.
	MatchedOrderID string
	IsReconciled   bool
}

// DisplayCategory resolves the category shown to the user. A user override
// always wins over the AI's choice.
func (t *Transaction) DisplayCategory() string {
	if t.UserCategory != "" {
		return t.UserCategory
	}
	return t.AICategory
}
