package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/store"
)

const questionColumns = `
	question_id, user_id, transaction_id,
	question, options,
	ai_best_guess, ai_confidence, question_type,
	status, user_answer, answered_at, created_at`

// GetQuestion returns one question or store.ErrNotFound.
func (s *Store) GetQuestion(ctx context.Context, userID, questionID string) (*domain.AIQuestion, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = @user_id AND question_id = @question_id`,
		questionColumns, s.table(questionsTable))

	rows, err := s.queryQuestions(ctx, sql, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "question_id", Value: questionID},
	})
	if err != nil {
		return nil, fmt.Errorf("GetQuestion: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("GetQuestion: question %s: %w", questionID, store.ErrNotFound)
	}
	return rows[0], nil
}

// UpsertPending creates q unless a pending question already exists for the
// same transaction. Per-user jobs are serialized upstream, so the
// check-then-insert pair does not race with itself.
func (s *Store) UpsertPending(ctx context.Context, q *domain.AIQuestion) (bool, error) {
	existsSQL := fmt.Sprintf(`SELECT question_id FROM %s
		WHERE user_id = @user_id AND transaction_id = @transaction_id AND status = 'pending'
		LIMIT 1`, s.table(questionsTable))

	query := s.client.Query(existsSQL)
	query.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: q.UserID},
		{Name: "transaction_id", Value: q.TransactionID},
	}
	it, err := query.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("UpsertPending: checking existing: %w", err)
	}
	var existing struct {
		QuestionID string `bigquery:"question_id"`
	}
	if err := it.Next(&existing); err == nil {
		q.ID = existing.QuestionID
		return false, nil
	} else if err != iterator.Done {
		return false, fmt.Errorf("UpsertPending: checking existing: %w", err)
	}

	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	insertSQL := fmt.Sprintf(`INSERT INTO %s
		(question_id, user_id, transaction_id, question, options,
		 ai_best_guess, ai_confidence, question_type, status, created_at)
		VALUES (@question_id, @user_id, @transaction_id, @question, @options,
		 @ai_best_guess, @ai_confidence, @question_type, 'pending', CURRENT_TIMESTAMP())`,
		s.table(questionsTable))

	err = s.runDML(ctx, insertSQL, []bigquery.QueryParameter{
		{Name: "question_id", Value: q.ID},
		{Name: "user_id", Value: q.UserID},
		{Name: "transaction_id", Value: q.TransactionID},
		{Name: "question", Value: q.Question},
		{Name: "options", Value: q.Options},
		{Name: "ai_best_guess", Value: q.AIBestGuess},
		{Name: "ai_confidence", Value: q.AIConfidence},
		{Name: "question_type", Value: string(q.QuestionType)},
	})
	if err != nil {
		return false, fmt.Errorf("UpsertPending: inserting: %w", err)
	}
	return true, nil
}

// SaveAnswer records the resolution of a question.
func (s *Store) SaveAnswer(ctx context.Context, userID, questionID string, status domain.QuestionStatus, answer string, answeredAt time.Time) error {
	sql := fmt.Sprintf(`UPDATE %s SET
			status = @status, user_answer = @user_answer, answered_at = @answered_at
		WHERE user_id = @user_id AND question_id = @question_id`,
		s.table(questionsTable))

	err := s.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "user_answer", Value: answer},
		{Name: "answered_at", Value: answeredAt},
		{Name: "user_id", Value: userID},
		{Name: "question_id", Value: questionID},
	})
	if err != nil {
		return fmt.Errorf("SaveAnswer: question %s: %w", questionID, err)
	}
	return nil
}

// ResolvePendingForTransactions marks every pending question attached to the
// given transactions as answered with the propagated answer.
func (s *Store) ResolvePendingForTransactions(ctx context.Context, userID string, txIDs []string, answer string, answeredAt time.Time) error {
	if len(txIDs) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`UPDATE %s SET
			status = 'answered', user_answer = @user_answer, answered_at = @answered_at
		WHERE user_id = @user_id AND status = 'pending' AND transaction_id IN UNNEST(@transaction_ids)`,
		s.table(questionsTable))

	err := s.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "user_answer", Value: answer},
		{Name: "answered_at", Value: answeredAt},
		{Name: "user_id", Value: userID},
		{Name: "transaction_ids", Value: txIDs},
	})
	if err != nil {
		return fmt.Errorf("ResolvePendingForTransactions: %w", err)
	}
	return nil
}

func (s *Store) queryQuestions(ctx context.Context, sql string, params []bigquery.QueryParameter) ([]*domain.AIQuestion, error) {
	q := s.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var out []*domain.AIQuestion
	for {
		var r QuestionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		out = append(out, r.toDomain())
	}
	return out, nil
}
