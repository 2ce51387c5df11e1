package categorize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/logger"
	"github.com/dvloznov/spendwise/internal/store"
)

// HandleUserAnswer resolves one AI question with the user's answer and
// applies the answer semantics to the transaction. Re-answering a resolved
// question is a no-op, so the side effects are never applied twice.
//
// "Skip" marks the question skipped and leaves the transaction untouched.
// Any other answer marks the question answered and mutates the transaction
// by question type, then propagates the decision to the user's other
// not-yet-confirmed transactions at the same merchant.
func (c *Categorizer) HandleUserAnswer(ctx context.Context, userID, questionID, answer string) error {
	log := logger.FromContext(ctx)

	question, err := c.questions.GetQuestion(ctx, userID, questionID)
	if err != nil {
		return fmt.Errorf("HandleUserAnswer: load question %s: %w", questionID, err)
	}
	if question.Status != domain.QuestionPending {
		log.Debug().
			Str("question_id", questionID).
			Str("status", string(question.Status)).
			Msg("Question already resolved, ignoring answer")
		return nil
	}

	now := time.Now()

	if answer == domain.SkipAnswer {
		if err := c.questions.SaveAnswer(ctx, userID, questionID, domain.QuestionSkipped, answer, now); err != nil {
			return fmt.Errorf("HandleUserAnswer: mark skipped: %w", err)
		}
		return nil
	}

	if err := c.questions.SaveAnswer(ctx, userID, questionID, domain.QuestionAnswered, answer, now); err != nil {
		return fmt.Errorf("HandleUserAnswer: mark answered: %w", err)
	}

	tx, err := c.transactions.GetTransaction(ctx, userID, question.TransactionID)
	if err != nil {
		return fmt.Errorf("HandleUserAnswer: load transaction %s: %w", question.TransactionID, err)
	}

	update, ok := answerUpdate(question.QuestionType, answer)
	if !ok {
		// Confirm answered "no": back to the manual review pile, nothing to
		// propagate.
		reject := store.AnswerUpdate{ReviewStatus: domain.ReviewNeedsReview}
		if err := c.transactions.ApplyAnswer(ctx, userID, tx.ID, reject); err != nil {
			return fmt.Errorf("HandleUserAnswer: apply rejection: %w", err)
		}
		return nil
	}

	if err := c.transactions.ApplyAnswer(ctx, userID, tx.ID, update); err != nil {
		return fmt.Errorf("HandleUserAnswer: apply answer: %w", err)
	}

	if err := c.propagateAnswer(ctx, userID, tx, update, answer); err != nil {
		// Propagation is best-effort; the answered transaction is already
		// consistent.
		log.Warn().Err(err).
			Str("user_id", userID).
			Str("transaction_id", tx.ID).
			Msg("Failed to propagate answer to sibling transactions")
	}

	return nil
}

// answerUpdate translates an answer into the transaction field updates for
// the question type. ok=false means the user rejected a confirm question.
func answerUpdate(qtype domain.QuestionType, answer string) (store.AnswerUpdate, bool) {
	lower := strings.ToLower(answer)
	confirmed := domain.ReviewUserConfirmed

	switch qtype {
	case domain.QuestionBusinessPersonal:
		var expenseType domain.ExpenseType
		switch {
		case strings.Contains(lower, "business"):
			expenseType = domain.ExpenseBusiness
		case strings.Contains(lower, "personal"):
			expenseType = domain.ExpensePersonal
		case strings.Contains(lower, "mixed"), strings.Contains(lower, "split"):
			expenseType = domain.ExpenseMixed
		default:
			expenseType = domain.ExpensePersonal
		}
		deductible := expenseType == domain.ExpenseBusiness
		return store.AnswerUpdate{
			ExpenseType:   &expenseType,
			TaxDeductible: &deductible,
			ReviewStatus:  confirmed,
		}, true

	case domain.QuestionCategory:
		userCategory := answer
		return store.AnswerUpdate{
			UserCategory: &userCategory,
			ReviewStatus: confirmed,
		}, true

	case domain.QuestionConfirm:
		if strings.Contains(lower, "yes") || strings.Contains(lower, "correct") {
			return store.AnswerUpdate{ReviewStatus: confirmed}, true
		}
		return store.AnswerUpdate{}, false

	case domain.QuestionSplit:
		userCategory := answer
		expenseType := domain.ExpensePersonal
		if strings.Contains(lower, "mixed") {
			expenseType = domain.ExpenseMixed
		}
		return store.AnswerUpdate{
			UserCategory: &userCategory,
			ExpenseType:  &expenseType,
			ReviewStatus: confirmed,
		}, true
	}

	// Unknown type: confirm the transaction and move on.
	return store.AnswerUpdate{ReviewStatus: confirmed}, true
}

// propagateAnswer applies the same decision to every other transaction of
// the user at the same merchant that the user hasn't already confirmed, and
// resolves their pending questions with the same answer.
func (c *Categorizer) propagateAnswer(ctx context.Context, userID string, tx *domain.Transaction, update store.AnswerUpdate, answer string) error {
	merchant := tx.MerchantNormalized
	if merchant == "" {
		merchant = tx.MerchantName
	}
	if merchant == "" {
		return nil
	}

	siblings, err := c.transactions.ListByMerchant(ctx, userID, merchant, tx.ID)
	if err != nil {
		return fmt.Errorf("propagateAnswer: list siblings: %w", err)
	}
	if len(siblings) == 0 {
		return nil
	}

	ids := make([]string, 0, len(siblings))
	for _, sibling := range siblings {
		if err := c.transactions.ApplyAnswer(ctx, userID, sibling.ID, update); err != nil {
			return fmt.Errorf("propagateAnswer: apply to %s: %w", sibling.ID, err)
		}
		ids = append(ids, sibling.ID)
	}

	if err := c.questions.ResolvePendingForTransactions(ctx, userID, ids, answer, time.Now()); err != nil {
		return fmt.Errorf("propagateAnswer: resolve sibling questions: %w", err)
	}
	return nil
}
