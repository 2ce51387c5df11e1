package categorize

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/spendwise/internal/domain"
)

// ErrOracleUnavailable marks a network or timeout failure talking to the
// categorization oracle. It is surfaced to the job framework for retry,
// never swallowed.
var ErrOracleUnavailable = errors.New("categorization oracle unavailable")

// MalformedResponseError marks an oracle response that could not be decoded
// or failed shape validation. The affected chunk is skipped and the batch
// continues.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed oracle response: %s", e.Reason)
}

// TransactionInput is one transaction as presented to the oracle.
type TransactionInput struct {
	ID          string  `json:"id"`
	Merchant    string  `json:"merchant"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
	Description string  `json:"description,omitempty"`
}

// UserContext is the financial profile context sent with every chunk so the
// oracle can make smarter business/personal calls.
type UserContext struct {
	EmploymentType  string            `json:"employment_type,omitempty"`
	BusinessType    string            `json:"business_type,omitempty"`
	HasHomeOffice   bool              `json:"has_home_office,omitempty"`
	TaxFilingStatus string            `json:"tax_filing_status,omitempty"`
	CustomRules     map[string]string `json:"custom_rules,omitempty"`

	// CategoryOverrides maps normalized merchant -> the category the user
	// previously chose, so the oracle honors prior corrections.
	CategoryOverrides map[string]string `json:"category_overrides,omitempty"`
}

// Result is the oracle's verdict for one transaction.
type Result struct {
	ID                 string   `json:"id"`
	Category           string   `json:"category"`
	Confidence         float64  `json:"confidence"`
	ExpenseType        string   `json:"expense_type"`
	TaxDeductible      bool     `json:"tax_deductible"`
	TaxCategory        string   `json:"tax_category,omitempty"`
	IsSubscription     bool     `json:"is_subscription"`
	MerchantNormalized string   `json:"merchant_normalized,omitempty"`
	Reasoning          string   `json:"reasoning,omitempty"`
	SuggestedQuestion  string   `json:"suggested_question,omitempty"`
	QuestionType       string   `json:"question_type,omitempty"`
	QuestionOptions    []string `json:"question_options,omitempty"`
}

// Oracle is the external AI categorization service, one call per chunk.
// Implementations return ErrOracleUnavailable for transport failures and
// *MalformedResponseError when the response cannot be decoded. A response
// covering only a subset of the submitted ids is valid; missing ids count
// as failed for those transactions.
type Oracle interface {
	CategorizeBatch(ctx context.Context, txs []TransactionInput, user UserContext) ([]Result, error)
}

// validateResult checks the shape constraints the categorizer relies on.
// An invalid result fails only its own transaction.
func validateResult(r *Result) error {
	if r.ID == "" {
		return fmt.Errorf("missing transaction id")
	}
	if r.Category == "" {
		return fmt.Errorf("missing category for transaction %s", r.ID)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v out of [0,1] for transaction %s", r.Confidence, r.ID)
	}
	if r.ExpenseType != "" && !domain.ValidExpenseType(r.ExpenseType) {
		return fmt.Errorf("unknown expense_type %q for transaction %s", r.ExpenseType, r.ID)
	}
	if r.QuestionType != "" && !domain.ValidQuestionType(r.QuestionType) {
		return fmt.Errorf("unknown question_type %q for transaction %s", r.QuestionType, r.ID)
	}
	return nil
}
