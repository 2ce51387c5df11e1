package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/spendwise/internal/domain"
)

const orderColumns = `
	order_id, user_id,
	merchant, merchant_normalized, order_date, total,
	matched_transaction_id, is_reconciled`

// ListUnreconciledOrders returns orders not yet linked to a transaction,
// newest first.
func (s *Store) ListUnreconciledOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = @user_id AND (is_reconciled IS NULL OR is_reconciled = FALSE)
		ORDER BY order_date DESC, order_id`,
		orderColumns, s.table(ordersTable))

	q := s.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListUnreconciledOrders: query read: %w", err)
	}

	var out []*domain.Order
	for {
		var r OrderRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListUnreconciledOrders: iter next: %w", err)
		}
		out = append(out, r.toDomain())
	}
	return out, nil
}
