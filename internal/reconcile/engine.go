// Package reconcile links email-derived orders to bank transactions. It
// scores every unreconciled order against the user's unreconciled
// transactions, persists viable candidates and auto-confirms unambiguous
// high-confidence matches.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/logger"
	"github.com/dvloznov/spendwise/internal/merchant"
	"github.com/dvloznov/spendwise/internal/store"
)

// Config tunes the engine thresholds. Values are calibration knobs.
type Config struct {
	// CandidateThreshold is the minimum score to persist a pending candidate.
	CandidateThreshold float64
	// AutoConfirmThreshold is the minimum score to confirm without review.
	AutoConfirmThreshold float64
	// AmbiguityMargin blocks auto-confirm when the runner-up for the same
	// order scores within this distance of the best match.
	AmbiguityMargin float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		CandidateThreshold:   0.60,
		AutoConfirmThreshold: 0.90,
		AmbiguityMargin:      0.05,
	}
}

// Result summarizes one reconciliation run.
type Result struct {
	Matched    int
	Candidates int
}

// Engine matches orders to transactions for one user at a time. An order
// links to at most one transaction and vice versa; within a run, a claimed
// transaction is removed from every later order's search pool.
type Engine struct {
	transactions store.TransactionStore
	orders       store.OrderStore
	candidates   store.CandidateStore
	reconcile    store.ReconcileStore
	aliases      store.AliasStore
	cfg          Config
}

// New creates an Engine.
func New(stores store.Stores, cfg Config) *Engine {
	if cfg.CandidateThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		transactions: stores.Transactions,
		orders:       stores.Orders,
		candidates:   stores.Candidates,
		reconcile:    stores.Reconcile,
		aliases:      stores.Aliases,
		cfg:          cfg,
	}
}

// Reconcile runs one matching pass for the user.
func (e *Engine) Reconcile(ctx context.Context, userID string) (Result, error) {
	log := logger.FromContext(ctx)
	var result Result

	learned, err := e.aliases.ListAliases(ctx)
	if err != nil {
		return result, fmt.Errorf("Reconcile: load aliases: %w", err)
	}
	aliasTable := merchant.NewAliasTable(learned)

	orders, err := e.orders.ListUnreconciledOrders(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("Reconcile: list orders: %w", err)
	}
	txs, err := e.transactions.ListUnreconciled(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("Reconcile: list transactions: %w", err)
	}
	if len(orders) == 0 || len(txs) == 0 {
		return result, nil
	}

	claimed := make(map[string]bool, len(txs))

	for _, order := range orders {
		best, runnerUp := e.scoreOrder(order, txs, claimed, aliasTable)
		if best.tx == nil {
			continue
		}

		if best.score >= e.cfg.AutoConfirmThreshold && best.score-runnerUp >= e.cfg.AmbiguityMargin {
			if err := e.confirmMatch(ctx, userID, best.tx, order, best.score); err != nil {
				return result, err
			}
			claimed[best.tx.ID] = true
			result.Matched++

			log.Debug().
				Str("user_id", userID).
				Str("order_id", order.ID).
				Str("transaction_id", best.tx.ID).
				Float64("confidence", best.score).
				Msg("Auto-confirmed reconciliation match")
			continue
		}

		if err := e.saveCandidate(ctx, userID, best.tx.ID, order.ID, best.score); err != nil {
			return result, err
		}
		result.Candidates++
	}

	log.Info().
		Str("user_id", userID).
		Int("orders", len(orders)).
		Int("transactions", len(txs)).
		Int("matched", result.Matched).
		Int("candidates", result.Candidates).
		Msg("Reconciliation complete")

	return result, nil
}

type scoredMatch struct {
	tx    *domain.Transaction
	score float64
}

// scoreOrder returns the best viable match for the order among unclaimed
// transactions, plus the runner-up score for the ambiguity check.
func (e *Engine) scoreOrder(order *domain.Order, txs []*domain.Transaction, claimed map[string]bool, aliases *merchant.AliasTable) (scoredMatch, float64) {
	var best scoredMatch
	runnerUp := 0.0

	for _, tx := range txs {
		if claimed[tx.ID] {
			continue
		}
		score := matchScore(tx, order, aliases)
		if score < e.cfg.CandidateThreshold {
			continue
		}
		if score > best.score {
			runnerUp = best.score
			best = scoredMatch{tx: tx, score: score}
		} else if score > runnerUp {
			runnerUp = score
		}
	}
	return best, runnerUp
}

// confirmMatch applies the link atomically and learns the bank alias from
// it. ApplyMatch writes the confirmed candidate row itself so the link and
// the candidate commit together.
func (e *Engine) confirmMatch(ctx context.Context, userID string, tx *domain.Transaction, order *domain.Order, score float64) error {
	if err := e.reconcile.ApplyMatch(ctx, userID, tx.ID, order.ID, score); err != nil {
		return fmt.Errorf("Reconcile: apply match tx=%s order=%s: %w", tx.ID, order.ID, err)
	}
	e.learnAlias(ctx, tx, order)
	return nil
}

func (e *Engine) saveCandidate(ctx context.Context, userID, txID, orderID string, score float64) error {
	candidate := &domain.ReconciliationCandidate{
		UserID:        userID,
		TransactionID: txID,
		OrderID:       orderID,
		Confidence:    score,
		Status:        domain.CandidatePending,
	}
	if err := e.candidates.UpsertCandidate(ctx, candidate); err != nil {
		return fmt.Errorf("Reconcile: save candidate tx=%s order=%s: %w", txID, orderID, err)
	}
	return nil
}

// learnAlias records the bank descriptor against the order's merchant name so
// future runs resolve it directly. Best-effort; a failed write only costs a
// future lookup.
func (e *Engine) learnAlias(ctx context.Context, tx *domain.Transaction, order *domain.Order) {
	bankName := strings.ToUpper(strings.TrimSpace(tx.MerchantName))
	orderName := order.MerchantNormalized
	if orderName == "" {
		orderName = order.Merchant
	}
	orderName = strings.TrimSpace(orderName)

	if bankName == "" || orderName == "" || strings.EqualFold(bankName, orderName) {
		return
	}

	if err := e.aliases.SaveAlias(ctx, bankName, orderName); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).
			Str("bank_name", bankName).
			Str("merchant", orderName).
			Msg("Failed to save learned merchant alias")
	}
}
