package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/spendwise/internal/domain"
)

const subscriptionColumns = `
	subscription_id, user_id,
	merchant_name, merchant_normalized, description,
	amount, frequency, category,
	status, is_essential,
	last_charge_date, next_expected_date, annual_cost,
	charge_history`

// Upsert inserts or updates keyed on (user, normalized merchant). A MERGE
// keeps the manual columns: is_essential survives re-detection and a
// cancelled subscription is never resurrected.
func (s *Store) Upsert(ctx context.Context, sub *domain.Subscription) (bool, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	sql := fmt.Sprintf(`MERGE %s t
		USING (SELECT @user_id AS user_id, @merchant_normalized AS merchant_normalized, @merchant_name AS merchant_name) src
		ON t.user_id = src.user_id
		   AND (LOWER(t.merchant_normalized) = LOWER(src.merchant_normalized)
		        OR LOWER(t.merchant_name) = LOWER(src.merchant_name))
		WHEN MATCHED THEN UPDATE SET
			merchant_name = @merchant_name,
			description = @description,
			amount = @amount,
			frequency = @frequency,
			category = @category,
			status = IF(t.status = 'cancelled', t.status, @status),
			last_charge_date = @last_charge_date,
			next_expected_date = @next_expected_date,
			annual_cost = @annual_cost,
			charge_history = @charge_history
		WHEN NOT MATCHED THEN INSERT
			(subscription_id, user_id, merchant_name, merchant_normalized, description,
			 amount, frequency, category, status, is_essential,
			 last_charge_date, next_expected_date, annual_cost, charge_history)
		VALUES
			(@subscription_id, @user_id, @merchant_name, @merchant_normalized, @description,
			 @amount, @frequency, @category, @status, FALSE,
			 @last_charge_date, @next_expected_date, @annual_cost, @charge_history)`,
		s.table(subscriptionsTable))

	err := s.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "subscription_id", Value: sub.ID},
		{Name: "user_id", Value: sub.UserID},
		{Name: "merchant_name", Value: sub.MerchantName},
		{Name: "merchant_normalized", Value: sub.MerchantNormalized},
		{Name: "description", Value: sub.Description},
		{Name: "amount", Value: sub.Amount},
		{Name: "frequency", Value: string(sub.Frequency)},
		{Name: "category", Value: sub.Category},
		{Name: "status", Value: string(sub.Status)},
		{Name: "last_charge_date", Value: sub.LastChargeDate.Format(dateFormat)},
		{Name: "next_expected_date", Value: sub.NextExpectedDate.Format(dateFormat)},
		{Name: "annual_cost", Value: sub.AnnualCost},
		{Name: "charge_history", Value: marshalCharges(sub.ChargeHistory)},
	})
	if err != nil {
		return false, fmt.Errorf("Upsert: subscription %s: %w", sub.MerchantNormalized, err)
	}

	// Read back the canonical row ID so callers see whether the merge
	// created a new row.
	existsSQL := fmt.Sprintf(`SELECT subscription_id FROM %s
		WHERE user_id = @user_id AND LOWER(merchant_normalized) = LOWER(@merchant_normalized)
		LIMIT 1`, s.table(subscriptionsTable))
	query := s.client.Query(existsSQL)
	query.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: sub.UserID},
		{Name: "merchant_normalized", Value: sub.MerchantNormalized},
	}
	it, err := query.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("Upsert: reading back: %w", err)
	}
	var row struct {
		SubscriptionID string `bigquery:"subscription_id"`
	}
	if err := it.Next(&row); err != nil {
		return false, fmt.Errorf("Upsert: reading back: %w", err)
	}
	created := row.SubscriptionID == sub.ID
	sub.ID = row.SubscriptionID
	return created, nil
}

// ListByStatus returns the user's subscriptions in the given status.
func (s *Store) ListByStatus(ctx context.Context, userID string, status domain.SubscriptionStatus) ([]*domain.Subscription, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = @user_id AND status = @status
		ORDER BY merchant_normalized`,
		subscriptionColumns, s.table(subscriptionsTable))

	q := s.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "status", Value: string(status)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListByStatus: query read: %w", err)
	}

	var out []*domain.Subscription
	for {
		var r SubscriptionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListByStatus: iter next: %w", err)
		}
		out = append(out, r.toDomain())
	}
	return out, nil
}

// UpdateStatus transitions one subscription's status.
func (s *Store) UpdateStatus(ctx context.Context, userID, subscriptionID string, status domain.SubscriptionStatus) error {
	sql := fmt.Sprintf(`UPDATE %s SET status = @status
		WHERE user_id = @user_id AND subscription_id = @subscription_id`,
		s.table(subscriptionsTable))

	err := s.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "user_id", Value: userID},
		{Name: "subscription_id", Value: subscriptionID},
	})
	if err != nil {
		return fmt.Errorf("UpdateStatus: subscription %s: %w", subscriptionID, err)
	}
	return nil
}
