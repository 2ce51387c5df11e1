// Package memory is an in-memory implementation of the store interfaces.
// It is safe for concurrent use and suitable for tests and single-instance
// deployments; data is lost on restart. The BigQuery-backed implementation
// lives in internal/infra/bigquery.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/store"
	"github.com/google/uuid"
)

// Store holds every table in maps keyed by row ID.
type Store struct {
	mu sync.RWMutex

	transactions  map[string]*domain.Transaction
	questions     map[string]*domain.AIQuestion
	subscriptions map[string]*domain.Subscription
	orders        map[string]*domain.Order
	candidates    map[string]*domain.ReconciliationCandidate
	aliases       map[string]string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		transactions:  make(map[string]*domain.Transaction),
		questions:     make(map[string]*domain.AIQuestion),
		subscriptions: make(map[string]*domain.Subscription),
		orders:        make(map[string]*domain.Order),
		candidates:    make(map[string]*domain.ReconciliationCandidate),
		aliases:       make(map[string]string),
	}
}

// Stores returns the aggregate wired entirely to this store.
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

// Seed helpers standing in for the ingestion pipeline, which owns row
// creation in production.

// PutTransaction inserts or replaces a transaction row.
func (s *Store) PutTransaction(tx *domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	cp := *tx
	s.transactions[tx.ID] = &cp
}

// PutOrder inserts or replaces an order row.
func (s *Store) PutOrder(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	cp := *o
	s.orders[o.ID] = &cp
}

// PutSubscription inserts or replaces a subscription row.
func (s *Store) PutSubscription(sub *domain.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	cp := copySubscription(sub)
	s.subscriptions[sub.ID] = cp
}

// GetOrder returns one order or store.ErrNotFound.
func (s *Store) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// ListQuestions returns all of the user's questions, oldest first.
func (s *Store) ListQuestions(ctx context.Context, userID string) ([]*domain.AIQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.AIQuestion
	for _, q := range s.questions {
		if q.UserID != userID {
			continue
		}
		cp := copyQuestion(q)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListSubscriptions returns all of the user's subscriptions regardless of
// status.
func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID {
			continue
		}
		out = append(out, copySubscription(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MerchantNormalized < out[j].MerchantNormalized })
	return out, nil
}

// --- store.TransactionStore ---

func (s *Store) GetTransaction(ctx context.Context, userID, txID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[txID]
	if !ok || tx.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *Store) ListPendingCategorization(ctx context.Context, userID string, redoAll bool) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.UserID != userID {
			continue
		}
		if redoAll {
			if tx.UserCategory != "" {
				continue
			}
		} else if tx.ReviewStatus != domain.ReviewPendingAI && tx.ReviewStatus != domain.ReviewNeedsReview {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.After(out[j].TransactionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListSpendSince(ctx context.Context, userID string, since time.Time) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.UserID != userID || tx.Amount <= 0 || tx.TransactionDate.Before(since) {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListUnreconciled(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.UserID != userID || tx.IsReconciled {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.After(out[j].TransactionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListByMerchant(ctx context.Context, userID, merchant, excludeTxID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := strings.ToLower(strings.TrimSpace(merchant))
	var out []*domain.Transaction
	for _, tx := range s.transactions {
		if tx.UserID != userID || tx.ID == excludeTxID {
			continue
		}
		if tx.ReviewStatus == domain.ReviewUserConfirmed {
			continue
		}
		if strings.ToLower(tx.MerchantNormalized) != want && strings.ToLower(tx.MerchantName) != want {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ApplyCategorization(ctx context.Context, userID, txID string, update store.CategorizationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txID]
	if !ok || tx.UserID != userID {
		return fmt.Errorf("ApplyCategorization: transaction %s: %w", txID, store.ErrNotFound)
	}

	tx.AICategory = update.AICategory
	tx.AIConfidence = update.AIConfidence
	tx.MerchantNormalized = update.MerchantNormalized
	tx.ExpenseType = update.ExpenseType
	tx.TaxDeductible = update.TaxDeductible
	tx.TaxCategory = update.TaxCategory
	tx.IsSubscription = update.IsSubscription
	tx.ReviewStatus = update.ReviewStatus
	return nil
}

func (s *Store) ApplyAnswer(ctx context.Context, userID, txID string, update store.AnswerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txID]
	if !ok || tx.UserID != userID {
		return fmt.Errorf("ApplyAnswer: transaction %s: %w", txID, store.ErrNotFound)
	}

	if update.UserCategory != nil {
		tx.UserCategory = *update.UserCategory
	}
	if update.ExpenseType != nil {
		tx.ExpenseType = *update.ExpenseType
	}
	if update.TaxDeductible != nil {
		tx.TaxDeductible = *update.TaxDeductible
	}
	if update.ReviewStatus != "" {
		tx.ReviewStatus = update.ReviewStatus
	}
	return nil
}

// --- store.QuestionStore ---

func (s *Store) GetQuestion(ctx context.Context, userID, questionID string) (*domain.AIQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	if !ok || q.UserID != userID {
		return nil, store.ErrNotFound
	}
	return copyQuestion(q), nil
}

func (s *Store) UpsertPending(ctx context.Context, q *domain.AIQuestion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.questions {
		if existing.UserID == q.UserID &&
			existing.TransactionID == q.TransactionID &&
			existing.Status == domain.QuestionPending {
			return false, nil
		}
	}

	cp := copyQuestion(q)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.Status = domain.QuestionPending
	s.questions[cp.ID] = cp
	q.ID = cp.ID
	return true, nil
}

func (s *Store) SaveAnswer(ctx context.Context, userID, questionID string, status domain.QuestionStatus, answer string, answeredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[questionID]
	if !ok || q.UserID != userID {
		return fmt.Errorf("SaveAnswer: question %s: %w", questionID, store.ErrNotFound)
	}
	q.Status = status
	q.UserAnswer = answer
	at := answeredAt
	q.AnsweredAt = &at
	return nil
}

func (s *Store) ResolvePendingForTransactions(ctx context.Context, userID string, txIDs []string, answer string, answeredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]bool, len(txIDs))
	for _, id := range txIDs {
		ids[id] = true
	}

	for _, q := range s.questions {
		if q.UserID != userID || q.Status != domain.QuestionPending || !ids[q.TransactionID] {
			continue
		}
		q.Status = domain.QuestionAnswered
		q.UserAnswer = answer
		at := answeredAt
		q.AnsweredAt = &at
	}
	return nil
}

// --- store.SubscriptionStore ---

func (s *Store) Upsert(ctx context.Context, sub *domain.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := strings.ToLower(strings.TrimSpace(sub.MerchantNormalized))
	raw := strings.ToLower(strings.TrimSpace(sub.MerchantName))

	for _, existing := range s.subscriptions {
		if existing.UserID != sub.UserID {
			continue
		}
		if strings.ToLower(existing.MerchantNormalized) != normalized &&
			strings.ToLower(existing.MerchantName) != raw {
			continue
		}

		id := existing.ID
		cp := copySubscription(sub)
		cp.ID = id
		// Manual flags survive re-detection.
		cp.IsEssential = existing.IsEssential
		if existing.Status == domain.SubscriptionCancelled {
			cp.Status = domain.SubscriptionCancelled
		}
		s.subscriptions[id] = cp
		sub.ID = id
		return false, nil
	}

	cp := copySubscription(sub)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.subscriptions[cp.ID] = cp
	sub.ID = cp.ID
	return true, nil
}

func (s *Store) ListByStatus(ctx context.Context, userID string, status domain.SubscriptionStatus) ([]*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID || sub.Status != status {
			continue
		}
		out = append(out, copySubscription(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MerchantNormalized < out[j].MerchantNormalized })
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, userID, subscriptionID string, status domain.SubscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok || sub.UserID != userID {
		return fmt.Errorf("UpdateStatus: subscription %s: %w", subscriptionID, store.ErrNotFound)
	}
	sub.Status = status
	return nil
}

// --- store.OrderStore ---

func (s *Store) ListUnreconciledOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Order
	for _, o := range s.orders {
		if o.UserID != userID || o.IsReconciled {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderDate.Equal(out[j].OrderDate) {
			return out[i].OrderDate.After(out[j].OrderDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- store.CandidateStore ---

func (s *Store) UpsertCandidate(ctx context.Context, c *domain.ReconciliationCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCandidateLocked(c)
	return nil
}

func (s *Store) upsertCandidateLocked(c *domain.ReconciliationCandidate) {
	for _, existing := range s.candidates {
		if existing.TransactionID == c.TransactionID && existing.OrderID == c.OrderID {
			existing.Confidence = c.Confidence
			if c.Status != "" {
				existing.Status = c.Status
			}
			if c.ReviewedAt != nil {
				at := *c.ReviewedAt
				existing.ReviewedAt = &at
			}
			c.ID = existing.ID
			return
		}
	}

	cp := *c
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Status == "" {
		cp.Status = domain.CandidatePending
	}
	s.candidates[cp.ID] = &cp
	c.ID = cp.ID
}

// --- store.ReconcileStore ---

// ApplyMatch links a transaction and an order and confirms the candidate.
// All three writes happen under one lock so the link is never one-sided.
func (s *Store) ApplyMatch(ctx context.Context, userID, txID, orderID string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txID]
	if !ok || tx.UserID != userID {
		return fmt.Errorf("ApplyMatch: transaction %s: %w", txID, store.ErrNotFound)
	}
	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID {
		return fmt.Errorf("ApplyMatch: order %s: %w", orderID, store.ErrNotFound)
	}

	tx.MatchedOrderID = orderID
	tx.IsReconciled = true
	o.MatchedTransactionID = txID
	o.IsReconciled = true

	now := time.Now()
	s.upsertCandidateLocked(&domain.ReconciliationCandidate{
		UserID:        userID,
		TransactionID: txID,
		OrderID:       orderID,
		Confidence:    confidence,
		Status:        domain.CandidateConfirmed,
		ReviewedAt:    &now,
	})
	return nil
}

// --- store.AliasStore ---

func (s *Store) ListAliases(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.aliases))
	for k, v := range s.aliases {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SaveAlias(ctx context.Context, bankName, normalized string) error {
	if bankName == "" || normalized == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[strings.ToUpper(strings.TrimSpace(bankName))] = normalized
	return nil
}

// Ensure Store implements every repository interface.
var (
	_ store.TransactionStore  = (*Store)(nil)
	_ store.QuestionStore     = (*Store)(nil)
	_ store.SubscriptionStore = (*Store)(nil)
	_ store.OrderStore        = (*Store)(nil)
	_ store.CandidateStore    = (*Store)(nil)
	_ store.ReconcileStore    = (*Store)(nil)
	_ store.AliasStore        = (*Store)(nil)
)

func copyQuestion(q *domain.AIQuestion) *domain.AIQuestion {
	cp := *q
	if q.Options != nil {
		cp.Options = append([]string(nil), q.Options...)
	}
	if q.AnsweredAt != nil {
		at := *q.AnsweredAt
		cp.AnsweredAt = &at
	}
	return &cp
}

func copySubscription(sub *domain.Subscription) *domain.Subscription {
	cp := *sub
	if sub.ChargeHistory != nil {
		cp.ChargeHistory = append([]domain.Charge(nil), sub.ChargeHistory...)
	}
	return &cp
}
