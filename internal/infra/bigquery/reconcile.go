package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/spendwise/internal/domain"
)

// UpsertCandidate inserts or updates a candidate keyed on
// (transaction, order).
func (s *Store) UpsertCandidate(ctx context.Context, c *domain.ReconciliationCandidate) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	status := c.Status
	if status == "" {
		status = domain.CandidatePending
	}

	sql := fmt.Sprintf(`MERGE %s t
		USING (SELECT @transaction_id AS transaction_id, @order_id AS order_id) src
		ON t.transaction_id = src.transaction_id AND t.order_id = src.order_id
		WHEN MATCHED THEN UPDATE SET
			confidence = @confidence,
			status = @status
		WHEN NOT MATCHED THEN INSERT
			(candidate_id, user_id, transaction_id, order_id, confidence, status)
		VALUES
			(@candidate_id, @user_id, @transaction_id, @order_id, @confidence, @status)`,
		s.table(candidatesTable))

	err := s.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "candidate_id", Value: c.ID},
		{Name: "user_id", Value: c.UserID},
		{Name: "transaction_id", Value: c.TransactionID},
		{Name: "order_id", Value: c.OrderID},
		{Name: "confidence", Value: c.Confidence},
		{Name: "status", Value: string(status)},
	})
	if err != nil {
		return fmt.Errorf("UpsertCandidate: tx=%s order=%s: %w", c.TransactionID, c.OrderID, err)
	}
	return nil
}

// ApplyMatch links a transaction and an order and confirms the candidate in
// one multi-statement transaction, so a failure never leaves a one-sided
// link.
func (s *Store) ApplyMatch(ctx context.Context, userID, txID, orderID string, confidence float64) error {
	sql := fmt.Sprintf(`
		BEGIN TRANSACTION;

		UPDATE %s SET matched_order_id = @order_id, is_reconciled = TRUE
		WHERE user_id = @user_id AND transaction_id = @transaction_id;

		UPDATE %s SET matched_transaction_id = @transaction_id, is_reconciled = TRUE
		WHERE user_id = @user_id AND order_id = @order_id;

		MERGE %s t
		USING (SELECT @transaction_id AS transaction_id, @order_id AS order_id) src
		ON t.transaction_id = src.transaction_id AND t.order_id = src.order_id
		WHEN MATCHED THEN UPDATE SET
			confidence = @confidence,
			status = 'confirmed',
			reviewed_at = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN INSERT
			(candidate_id, user_id, transaction_id, order_id, confidence, status, reviewed_at)
		VALUES
			(GENERATE_UUID(), @user_id, @transaction_id, @order_id, @confidence, 'confirmed', CURRENT_TIMESTAMP());

		COMMIT TRANSACTION;`,
		s.table(transactionsTable), s.table(ordersTable), s.table(candidatesTable))

	err := s.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "transaction_id", Value: txID},
		{Name: "order_id", Value: orderID},
		{Name: "confidence", Value: confidence},
	})
	if err != nil {
		return fmt.Errorf("ApplyMatch: tx=%s order=%s: %w", txID, orderID, err)
	}
	return nil
}
