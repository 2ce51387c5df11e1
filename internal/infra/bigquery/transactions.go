package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/store"
)

const transactionColumns = `
	transaction_id, user_id, account_id,
	merchant_name, merchant_normalized, description,
	amount, transaction_date,
	ai_category, ai_confidence, user_category,
	expense_type, tax_deductible, tax_category,
	review_status, is_subscription,
	matched_order_id, is_reconciled`

// GetTransaction returns one transaction or store.ErrNotFound.
func (s *Store) GetTransaction(ctx context.Context, userID, txID string) (*domain.Transaction, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = @user_id AND transaction_id = @transaction_id`,
		transactionColumns, s.table(transactionsTable))

	rows, err := s.queryTransactions(ctx, sql, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "transaction_id", Value: txID},
	})
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("GetTransaction: transaction %s: %w", txID, store.ErrNotFound)
	}
	return rows[0], nil
}

// ListPendingCategorization returns the categorizer's work set, newest first.
func (s *Store) ListPendingCategorization(ctx context.Context, userID string, redoAll bool) ([]*domain.Transaction, error) {
	statusFilter := `review_status IN ('pending_ai', 'needs_review')`
	if redoAll {
		// Everything without an explicit user choice.
		statusFilter = `review_status != 'user_confirmed' AND user_category IS NULL`
	}

	sql := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = @user_id AND %s
		ORDER BY transaction_date DESC, transaction_id`,
		transactionColumns, s.table(transactionsTable), statusFilter)

	rows, err := s.queryTransactions(ctx, sql, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("ListPendingCategorization: %w", err)
	}
	return rows, nil
}

// ListSpendSince returns positive-amount transactions on or after since,
// date ascending.
func (s *Store) ListSpendSince(ctx context.Context, userID string, since time.Time) ([]*domain.Transaction, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = @user_id AND amount > 0 AND transaction_date >= @since
		ORDER BY transaction_date, transaction_id`,
		transactionColumns, s.table(transactionsTable))

	rows, err := s.queryTransactions(ctx, sql, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "since", Value: since.Format(dateFormat)},
	})
	if err != nil {
		return nil, fmt.Errorf("ListSpendSince: %w", err)
	}
	return rows, nil
}

// ListUnreconciled returns transactions not yet linked to an order.
func (s *Store) ListUnreconciled(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = @user_id AND (is_reconciled IS NULL OR is_reconciled = FALSE)
		ORDER BY transaction_date DESC, transaction_id`,
		transactionColumns, s.table(transactionsTable))

	rows, err := s.queryTransactions(ctx, sql, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("ListUnreconciled: %w", err)
	}
	return rows, nil
}

// ListByMerchant returns the user's other not-yet-confirmed transactions at
// the same merchant.
func (s *Store) ListByMerchant(ctx context.Context, userID, merchant, excludeTxID string) ([]*domain.Transaction, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = @user_id
		  AND transaction_id != @exclude_id
		  AND review_status != 'user_confirmed'
		  AND (LOWER(merchant_normalized) = LOWER(@merchant) OR LOWER(merchant_name) = LOWER(@merchant))
		ORDER BY transaction_date DESC, transaction_id`,
		transactionColumns, s.table(transactionsTable))

	rows, err := s.queryTransactions(ctx, sql, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "exclude_id", Value: excludeTxID},
		{Name: "merchant", Value: merchant},
	})
	if err != nil {
		return nil, fmt.Errorf("ListByMerchant: %w", err)
	}
	return rows, nil
}

// ApplyCategorization writes the oracle result fields for one transaction.
func (s *Store) ApplyCategorization(ctx context.Context, userID, txID string, update store.CategorizationUpdate) error {
	sql := fmt.Sprintf(`UPDATE %s SET
			ai_category = @ai_category,
			ai_confidence = @ai_confidence,
			merchant_normalized = @merchant_normalized,
			expense_type = @expense_type,
			tax_deductible = @tax_deductible,
			tax_category = @tax_category,
			is_subscription = @is_subscription,
			review_status = @review_status
		WHERE user_id = @user_id AND transaction_id = @transaction_id`,
		s.table(transactionsTable))

	err := s.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "ai_category", Value: update.AICategory},
		{Name: "ai_confidence", Value: update.AIConfidence},
		{Name: "merchant_normalized", Value: update.MerchantNormalized},
		{Name: "expense_type", Value: string(update.ExpenseType)},
		{Name: "tax_deductible", Value: update.TaxDeductible},
		{Name: "tax_category", Value: update.TaxCategory},
		{Name: "is_subscription", Value: update.IsSubscription},
		{Name: "review_status", Value: string(update.ReviewStatus)},
		{Name: "user_id", Value: userID},
		{Name: "transaction_id", Value: txID},
	})
	if err != nil {
		return fmt.Errorf("ApplyCategorization: transaction %s: %w", txID, err)
	}
	return nil
}

// ApplyAnswer writes the user-answer fields for one transaction. Nil pointers
// in the update leave the column untouched.
func (s *Store) ApplyAnswer(ctx context.Context, userID, txID string, update store.AnswerUpdate) error {
	sets := []string{"review_status = @review_status"}
	params := []bigquery.QueryParameter{
		{Name: "review_status", Value: string(update.ReviewStatus)},
	}

	if update.UserCategory != nil {
		sets = append(sets, "user_category = @user_category")
		params = append(params, bigquery.QueryParameter{Name: "user_category", Value: *update.UserCategory})
	}
	if update.ExpenseType != nil {
		sets = append(sets, "expense_type = @expense_type")
		params = append(params, bigquery.QueryParameter{Name: "expense_type", Value: string(*update.ExpenseType)})
	}
	if update.TaxDeductible != nil {
		sets = append(sets, "tax_deductible = @tax_deductible")
		params = append(params, bigquery.QueryParameter{Name: "tax_deductible", Value: *update.TaxDeductible})
	}

	sql := fmt.Sprintf(`UPDATE %s SET %s WHERE user_id = @user_id AND transaction_id = @transaction_id`,
		s.table(transactionsTable), strings.Join(sets, ", "))
	params = append(params,
		bigquery.QueryParameter{Name: "user_id", Value: userID},
		bigquery.QueryParameter{Name: "transaction_id", Value: txID},
	)

	if err := s.runDML(ctx, sql, params); err != nil {
		return fmt.Errorf("ApplyAnswer: transaction %s: %w", txID, err)
	}
	return nil
}

func (s *Store) queryTransactions(ctx context.Context, sql string, params []bigquery.QueryParameter) ([]*domain.Transaction, error) {
	q := s.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var out []*domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		out = append(out, r.toDomain())
	}
	return out, nil
}
