package bigquery

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/spendwise/internal/categorize"
)

const profilesTable = "user_profiles"

// profileRow mirrors the user_profiles table. custom_rules and
// category_overrides are JSON strings.
type profileRow struct {
	UserID          string              `bigquery:"user_id"`
	EmploymentType  bigquery.NullString `bigquery:"employment_type"`
	BusinessType    bigquery.NullString `bigquery:"business_type"`
	HasHomeOffice   bigquery.NullBool   `bigquery:"has_home_office"`
	TaxFilingStatus bigquery.NullString `bigquery:"tax_filing_status"`
	CustomRules     bigquery.NullString `bigquery:"custom_rules"`
}

// UserContext loads the oracle context for one user: the financial profile
// plus the user's prior category corrections. A missing profile returns nil
// without error; categorization proceeds contextless.
func (s *Store) UserContext(ctx context.Context, userID string) (*categorize.UserContext, error) {
	sql := fmt.Sprintf(`SELECT user_id, employment_type, business_type, has_home_office, tax_filing_status, custom_rules
		FROM %s WHERE user_id = @user_id LIMIT 1`, s.table(profilesTable))

	q := s.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("UserContext: query read: %w", err)
	}

	var row profileRow
	if err := it.Next(&row); err == iterator.Done {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("UserContext: iter next: %w", err)
	}

	user := &categorize.UserContext{
		EmploymentType:  row.EmploymentType.StringVal,
		BusinessType:    row.BusinessType.StringVal,
		HasHomeOffice:   row.HasHomeOffice.Bool,
		TaxFilingStatus: row.TaxFilingStatus.StringVal,
	}
	if row.CustomRules.Valid && row.CustomRules.StringVal != "" {
		_ = json.Unmarshal([]byte(row.CustomRules.StringVal), &user.CustomRules)
	}

	overrides, err := s.categoryOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.CategoryOverrides = overrides

	return user, nil
}

// categoryOverrides collects the user's explicit corrections, normalized
// merchant -> chosen category, most recent correction winning.
func (s *Store) categoryOverrides(ctx context.Context, userID string) (map[string]string, error) {
	sql := fmt.Sprintf(`SELECT merchant_normalized, user_category FROM (
			SELECT merchant_normalized, user_category,
			       ROW_NUMBER() OVER (PARTITION BY merchant_normalized ORDER BY transaction_date DESC) AS rn
			FROM %s
			WHERE user_id = @user_id AND user_category IS NOT NULL AND merchant_normalized IS NOT NULL
		) WHERE rn = 1`, s.table(transactionsTable))

	q := s.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("categoryOverrides: query read: %w", err)
	}

	out := make(map[string]string)
	for {
		var r struct {
			MerchantNormalized string `bigquery:"merchant_normalized"`
			UserCategory       string `bigquery:"user_category"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("categoryOverrides: iter next: %w", err)
		}
		out[r.MerchantNormalized] = r.UserCategory
	}
	return out, nil
}

var _ categorize.ProfileSource = (*Store)(nil)
