// Package store defines the persistence boundary of the categorization,
// detection and reconciliation services. Every query is scoped by user ID at
// the interface; implementations must never return another user's rows.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/spendwise/internal/domain"
)

// ErrNotFound is returned when a row does not exist for the given user.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned on a concurrent-update conflict. Callers retry
// once and then surface the error.
var ErrConflict = errors.New("store: conflict")

// CategorizationUpdate is the field set the categorizer writes after an
// oracle result has passed validation. Applied as a single idempotent update.
type CategorizationUpdate struct {
	AICategory         string
	AIConfidence       float64
	MerchantNormalized string
	ExpenseType        domain.ExpenseType
	TaxDeductible      bool
	TaxCategory        string
	IsSubscription     bool
	ReviewStatus       domain.ReviewStatus
}

// AnswerUpdate is the field set applied when a user answers a question.
// Nil pointers leave the field untouched.
type AnswerUpdate struct {
	UserCategory  *string
	ExpenseType   *domain.ExpenseType
	TaxDeductible *bool
	ReviewStatus  domain.ReviewStatus
}

// TransactionStore reads and mutates transactions for one user.
type TransactionStore interface {
	// GetTransaction returns one transaction or ErrNotFound.
	GetTransaction(ctx context.Context, userID, txID string) (*domain.Transaction, error)

	// ListPendingCategorization returns the categorizer's work set, newest
	// first. With redoAll, every transaction without a user override is
	// returned; otherwise only pending_ai / needs_review rows.
	ListPendingCategorization(ctx context.Context, userID string, redoAll bool) ([]*domain.Transaction, error)

	// ListSpendSince returns positive-amount transactions on or after since,
	// ordered by transaction date ascending.
	ListSpendSince(ctx context.Context, userID string, since time.Time) ([]*domain.Transaction, error)

	// ListUnreconciled returns transactions not yet linked to an order.
	ListUnreconciled(ctx context.Context, userID string) ([]*domain.Transaction, error)

	// ListByMerchant returns the user's other transactions with the same
	// normalized (or raw) merchant name, excluding excludeTxID and any row
	// already user-confirmed.
	ListByMerchant(ctx context.Context, userID, merchant, excludeTxID string) ([]*domain.Transaction, error)

	// ApplyCategorization writes the oracle result fields for one transaction.
	ApplyCategorization(ctx context.Context, userID, txID string, update CategorizationUpdate) error

	// ApplyAnswer writes the user-answer fields for one transaction.
	ApplyAnswer(ctx context.Context, userID, txID string, update AnswerUpdate) error
}

// QuestionStore reads and mutates AI questions for one user.
type QuestionStore interface {
	// GetQuestion returns one question or ErrNotFound.
	GetQuestion(ctx context.Context, userID, questionID string) (*domain.AIQuestion, error)

	// UpsertPending creates q unless a pending question already exists for
	// the same transaction. Reports whether a row was created.
	UpsertPending(ctx context.Context, q *domain.AIQuestion) (bool, error)

	// SaveAnswer records the resolution of a question (status, answer,
	// answered-at).
	SaveAnswer(ctx context.Context, userID, questionID string, status domain.QuestionStatus, answer string, answeredAt time.Time) error

	// ResolvePendingForTransactions marks every pending question attached to
	// the given transactions as answered with the propagated answer.
	ResolvePendingForTransactions(ctx context.Context, userID string, txIDs []string, answer string, answeredAt time.Time) error
}

// SubscriptionStore reads and mutates detected subscriptions for one user.
type SubscriptionStore interface {
	// Upsert inserts or updates keyed on (UserID, MerchantNormalized),
	// matching case-insensitively on normalized or raw merchant name.
	// Reports whether a new row was created. On update, IsEssential is
	// preserved and a cancelled subscription is never resurrected.
	Upsert(ctx context.Context, sub *domain.Subscription) (bool, error)

	// ListByStatus returns the user's subscriptions in the given status.
	ListByStatus(ctx context.Context, userID string, status domain.SubscriptionStatus) ([]*domain.Subscription, error)

	// UpdateStatus transitions one subscription's status.
	UpdateStatus(ctx context.Context, userID, subscriptionID string, status domain.SubscriptionStatus) error
}

// OrderStore reads email-derived orders for one user.
type OrderStore interface {
	// ListUnreconciledOrders returns orders not yet linked to a transaction,
	// newest first.
	ListUnreconciledOrders(ctx context.Context, userID string) ([]*domain.Order, error)
}

// CandidateStore persists proposed order/transaction links.
type CandidateStore interface {
	// UpsertCandidate inserts or updates keyed on (TransactionID, OrderID).
	UpsertCandidate(ctx context.Context, c *domain.ReconciliationCandidate) error
}

// ReconcileStore applies a confirmed match atomically: the transaction link,
// the order link and the candidate confirmation commit together or not at
// all, so a crash never leaves a one-sided link.
type ReconcileStore interface {
	ApplyMatch(ctx context.Context, userID, txID, orderID string, confidence float64) error
}

// AliasStore persists merchant aliases learned from confirmed
// reconciliations.
type AliasStore interface {
	// ListAliases returns bank name -> normalized merchant name.
	ListAliases(ctx context.Context) (map[string]string, error)

	// SaveAlias records that bankName reconciled against normalized.
	SaveAlias(ctx context.Context, bankName, normalized string) error
}

// Stores bundles the repositories a job handler needs.
type Stores struct {
	Transactions  TransactionStore
	Questions     QuestionStore
	Subscriptions SubscriptionStore
	Orders        OrderStore
	Candidates    CandidateStore
	Reconcile     ReconcileStore
	Aliases       AliasStore
}
