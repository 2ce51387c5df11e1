// Package bigquery implements the persistence interfaces on BigQuery.
// Every query is parameterized and scoped by user_id; the schema mirrors the
// row structs in rows.go.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/spendwise/internal/store"
)

const (
	transactionsTable  = "transactions"
	questionsTable     = "ai_questions"
	subscriptionsTable = "subscriptions"
	ordersTable        = "orders"
	candidatesTable    = "reconciliation_candidates"
	aliasesTable       = "merchant_aliases"

	dateFormat = "2006-01-02"
)

// Store implements the persistence interfaces against one BigQuery dataset.
// It holds a shared client to avoid creating a new connection per operation.
type Store struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewStore creates a Store with its own BigQuery client.
func NewStore(ctx context.Context, project, dataset string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return NewStoreWithClient(client, project, dataset), nil
}

// NewStoreWithClient creates a Store using the provided BigQuery client.
func NewStoreWithClient(client *bigquery.Client, project, dataset string) *Store {
	return &Store{client: client, project: project, dataset: dataset}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Stores bundles this Store into the per-interface view the services take.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		Transactions:  s,
		Questions:     s,
		Subscriptions: s,
		Orders:        s,
		Candidates:    s,
		Reconcile:     s,
		Aliases:       s,
	}
}

// table returns the fully qualified table name for use in SQL text.
func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.project, s.dataset, name)
}

// runDML executes a parameterized statement and waits for completion.
func (s *Store) runDML(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("runDML: starting job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("runDML: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("runDML: job failed: %w", err)
	}
	return nil
}

var (
	_ store.TransactionStore  = (*Store)(nil)
	_ store.QuestionStore     = (*Store)(nil)
	_ store.SubscriptionStore = (*Store)(nil)
	_ store.OrderStore        = (*Store)(nil)
	_ store.CandidateStore    = (*Store)(nil)
	_ store.ReconcileStore    = (*Store)(nil)
	_ store.AliasStore        = (*Store)(nil)
)
