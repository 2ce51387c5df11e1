package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// ListAliases returns every learned merchant alias, bank name -> normalized
// merchant name. Aliases are global, not per-user: a bank descriptor decodes
// the same way for everyone.
func (s *Store) ListAliases(ctx context.Context) (map[string]string, error) {
	sql := fmt.Sprintf(`SELECT bank_name, normalized_name FROM %s`, s.table(aliasesTable))

	q := s.client.Query(sql)
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAliases: query read: %w", err)
	}

	out := make(map[string]string)
	for {
		var r struct {
			BankName       string `bigquery:"bank_name"`
			NormalizedName string `bigquery:"normalized_name"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListAliases: iter next: %w", err)
		}
		out[r.BankName] = r.NormalizedName
	}
	return out, nil
}

// SaveAlias records that bankName reconciled against normalized, bumping the
// match count on repeats.
func (s *Store) SaveAlias(ctx context.Context, bankName, normalized string) error {
	if bankName == "" || normalized == "" {
		return nil
	}

	sql := fmt.Sprintf(`MERGE %s t
		USING (SELECT @bank_name AS bank_name) src
		ON t.bank_name = src.bank_name
		WHEN MATCHED THEN UPDATE SET
			normalized_name = @normalized_name,
			match_count = t.match_count + 1
		WHEN NOT MATCHED THEN INSERT
			(bank_name, normalized_name, source, match_count)
		VALUES
			(@bank_name, @normalized_name, 'reconciliation', 1)`,
		s.table(aliasesTable))

	err := s.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "bank_name", Value: bankName},
		{Name: "normalized_name", Value: normalized},
	})
	if err != nil {
		return fmt.Errorf("SaveAlias: %s: %w", bankName, err)
	}
	return nil
}
