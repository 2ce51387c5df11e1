package bigquery

import (
	"encoding/json"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/spendwise/internal/domain"
)

// TransactionRow mirrors the transactions table. Ingestion owns row creation;
// this package only updates the categorization and reconciliation columns.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	UserID    string `bigquery:"user_id"`    // REQUIRED
	AccountID string `bigquery:"account_id"` // NULLABLE

	MerchantName       string              `bigquery:"merchant_name"`       // REQUIRED
	MerchantNormalized bigquery.NullString `bigquery:"merchant_normalized"` // NULLABLE
	Description        bigquery.NullString `bigquery:"description"`         // NULLABLE

	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC
	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	AICategory   bigquery.NullString  `bigquery:"ai_category"`   // NULLABLE
	AIConfidence bigquery.NullFloat64 `bigquery:"ai_confidence"` // NULLABLE
	UserCategory bigquery.NullString  `bigquery:"user_category"` // NULLABLE

	ExpenseType   bigquery.NullString `bigquery:"expense_type"`   // NULLABLE
	TaxDeductible bigquery.NullBool   `bigquery:"tax_deductible"` // NULLABLE
	TaxCategory   bigquery.NullString `bigquery:"tax_category"`   // NULLABLE

	ReviewStatus   string            `bigquery:"review_status"`   // REQUIRED
	IsSubscription bigquery.NullBool `bigquery:"is_subscription"` // NULLABLE

	MatchedOrderID bigquery.NullString `bigquery:"matched_order_id"` // NULLABLE
	IsReconciled   bigquery.NullBool   `bigquery:"is_reconciled"`    // NULLABLE
}

func (r *TransactionRow) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:                 r.TransactionID,
		UserID:             r.UserID,
		AccountID:          r.AccountID,
		MerchantName:       r.MerchantName,
		MerchantNormalized: r.MerchantNormalized.StringVal,
		Description:        r.Description.StringVal,
		Amount:             ratFloat(r.Amount),
		TransactionDate:    civilToTime(r.TransactionDate),
		AICategory:         r.AICategory.StringVal,
		AIConfidence:       r.AIConfidence.Float64,
		UserCategory:       r.UserCategory.StringVal,
		ExpenseType:        domain.ExpenseType(r.ExpenseType.StringVal),
		TaxDeductible:      r.TaxDeductible.Bool,
		TaxCategory:        r.TaxCategory.StringVal,
		ReviewStatus:       domain.ReviewStatus(r.ReviewStatus),
		IsSubscription:     r.IsSubscription.Bool,
		MatchedOrderID:     r.MatchedOrderID.StringVal,
		IsReconciled:       r.IsReconciled.Bool,
	}
}

// QuestionRow mirrors the ai_questions table.
type QuestionRow struct {
	QuestionID    string `bigquery:"question_id"`    // REQUIRED
	UserID        string `bigquery:"user_id"`        // REQUIRED
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	Question string   `bigquery:"question"` // REQUIRED
	Options  []string `bigquery:"options"`  // REPEATED

	AIBestGuess  bigquery.NullString  `bigquery:"ai_best_guess"` // NULLABLE
	AIConfidence bigquery.NullFloat64 `bigquery:"ai_confidence"` // NULLABLE
	QuestionType string               `bigquery:"question_type"` // REQUIRED

	Status     string                 `bigquery:"status"`      // REQUIRED
	UserAnswer bigquery.NullString    `bigquery:"user_answer"` // NULLABLE
	AnsweredAt bigquery.NullTimestamp `bigquery:"answered_at"` // NULLABLE
	CreatedAt  time.Time              `bigquery:"created_at"`  // REQUIRED
}

func (r *QuestionRow) toDomain() *domain.AIQuestion {
	q := &domain.AIQuestion{
		ID:            r.QuestionID,
		UserID:        r.UserID,
		TransactionID: r.TransactionID,
		Question:      r.Question,
		Options:       r.Options,
		AIBestGuess:   r.AIBestGuess.StringVal,
		AIConfidence:  r.AIConfidence.Float64,
		QuestionType:  domain.QuestionType(r.QuestionType),
		Status:        domain.QuestionStatus(r.Status),
		UserAnswer:    r.UserAnswer.StringVal,
		CreatedAt:     r.CreatedAt,
	}
	if r.AnsweredAt.Valid {
		at := r.AnsweredAt.Timestamp
		q.AnsweredAt = &at
	}
	return q
}

// SubscriptionRow mirrors the subscriptions table. ChargeHistory is stored
// as a JSON string of {date, amount} objects.
type SubscriptionRow struct {
	SubscriptionID string `bigquery:"subscription_id"` // REQUIRED
	UserID         string `bigquery:"user_id"`         // REQUIRED

	MerchantName       string              `bigquery:"merchant_name"`       // REQUIRED
	MerchantNormalized string              `bigquery:"merchant_normalized"` // REQUIRED
	Description        bigquery.NullString `bigquery:"description"`         // NULLABLE

	Amount    *big.Rat            `bigquery:"amount"`    // REQUIRED NUMERIC
	Frequency string              `bigquery:"frequency"` // REQUIRED
	Category  bigquery.NullString `bigquery:"category"`  // NULLABLE

	Status      string            `bigquery:"status"`       // REQUIRED
	IsEssential bigquery.NullBool `bigquery:"is_essential"` // NULLABLE

	LastChargeDate   bigquery.NullDate `bigquery:"last_charge_date"`   // NULLABLE
	NextExpectedDate bigquery.NullDate `bigquery:"next_expected_date"` // NULLABLE
	AnnualCost       *big.Rat          `bigquery:"annual_cost"`        // NULLABLE NUMERIC

	ChargeHistory bigquery.NullString `bigquery:"charge_history"` // NULLABLE JSON string
}

func (r *SubscriptionRow) toDomain() *domain.Subscription {
	sub := &domain.Subscription{
		ID:                 r.SubscriptionID,
		UserID:             r.UserID,
		MerchantName:       r.MerchantName,
		MerchantNormalized: r.MerchantNormalized,
		Description:        r.Description.StringVal,
		Amount:             ratFloat(r.Amount),
		Frequency:          domain.Frequency(r.Frequency),
		Category:           r.Category.StringVal,
		Status:             domain.SubscriptionStatus(r.Status),
		IsEssential:        r.IsEssential.Bool,
		AnnualCost:         ratFloat(r.AnnualCost),
	}
	if r.LastChargeDate.Valid {
		sub.LastChargeDate = civilToTime(r.LastChargeDate.Date)
	}
	if r.NextExpectedDate.Valid {
		sub.NextExpectedDate = civilToTime(r.NextExpectedDate.Date)
	}
	if r.ChargeHistory.Valid && r.ChargeHistory.StringVal != "" {
		// A malformed history is dropped rather than failing the read.
		_ = json.Unmarshal([]byte(r.ChargeHistory.StringVal), &sub.ChargeHistory)
	}
	return sub
}

// OrderRow mirrors the orders table written by the email ingestion pipeline.
type OrderRow struct {
	OrderID string `bigquery:"order_id"` // REQUIRED
	UserID  string `bigquery:"user_id"`  // REQUIRED

	Merchant           string              `bigquery:"merchant"`            // REQUIRED
	MerchantNormalized bigquery.NullString `bigquery:"merchant_normalized"` // NULLABLE
	OrderDate          civil.Date          `bigquery:"order_date"`          // REQUIRED
	Total              *big.Rat            `bigquery:"total"`               // REQUIRED NUMERIC

	MatchedTransactionID bigquery.NullString `bigquery:"matched_transaction_id"` // NULLABLE
	IsReconciled         bigquery.NullBool   `bigquery:"is_reconciled"`          // NULLABLE
}

func (r *OrderRow) toDomain() *domain.Order {
	return &domain.Order{
		ID:                   r.OrderID,
		UserID:               r.UserID,
		Merchant:             r.Merchant,
		MerchantNormalized:   r.MerchantNormalized.StringVal,
		OrderDate:            civilToTime(r.OrderDate),
		Total:                ratFloat(r.Total),
		MatchedTransactionID: r.MatchedTransactionID.StringVal,
		IsReconciled:         r.IsReconciled.Bool,
	}
}

func civilToTime(d civil.Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func ratFloat(r *big.Rat) float64 {
	if r == nil {
		return 0
	}
	f, _ := r.Float64()
	return f
}

func marshalCharges(charges []domain.Charge) string {
	if len(charges) == 0 {
		return ""
	}
	raw, err := json.Marshal(charges)
	if err != nil {
		return ""
	}
	return string(raw)
}
