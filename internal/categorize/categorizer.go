package categorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/events"
	"github.com/dvloznov/spendwise/internal/logger"
	"github.com/dvloznov/spendwise/internal/store"
)

// Config tunes the batch categorizer.
type Config struct {
	// ChunkSize is how many transactions are sent per oracle call.
	ChunkSize int
	// ChunkDelay is the fixed sleep between oracle calls so a large backlog
	// does not trip the oracle's rate limit.
	ChunkDelay time.Duration
	// Thresholds is the confidence policy.
	Thresholds Thresholds
}

// DefaultConfig returns the production defaults: 25 transactions per chunk,
// 500ms between chunks.
func DefaultConfig() Config {
	return Config{
		ChunkSize:  25,
		ChunkDelay: 500 * time.Millisecond,
		Thresholds: DefaultThresholds(),
	}
}

// Stats summarizes one categorization run.
type Stats struct {
	AutoCategorized    int
	NeedsReview        int
	QuestionsGenerated int
	Failed             int
}

func (s *Stats) add(other Stats) {
	s.AutoCategorized += other.AutoCategorized
	s.NeedsReview += other.NeedsReview
	s.QuestionsGenerated += other.QuestionsGenerated
	s.Failed += other.Failed
}

// ProfileSource supplies the user context attached to oracle requests.
// A nil result means no profile is on file.
type ProfileSource interface {
	UserContext(ctx context.Context, userID string) (*UserContext, error)
}

// Categorizer runs the batched AI categorization pipeline for one user at a
// time. It is safe to re-invoke on the same transaction set: the entry
// filter skips anything already resolved, and every per-transaction update
// is idempotent.
type Categorizer struct {
	transactions store.TransactionStore
	questions    store.QuestionStore
	oracle       Oracle
	profiles     ProfileSource
	dispatcher   events.Dispatcher
	cfg          Config

	// sleep is stubbed in tests.
	sleep func(time.Duration)
}

// New creates a Categorizer. profiles and dispatcher may be nil.
func New(transactions store.TransactionStore, questions store.QuestionStore, oracle Oracle, profiles ProfileSource, dispatcher events.Dispatcher, cfg Config) *Categorizer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	return &Categorizer{
		transactions: transactions,
		questions:    questions,
		oracle:       oracle,
		profiles:     profiles,
		dispatcher:   dispatcher,
		cfg:          cfg,
		sleep:        time.Sleep,
	}
}

// CategorizeUser loads the user's pending transactions and categorizes them
// chunk by chunk. With redoAll, every transaction without a user override is
// reconsidered (an explicit user choice is never overridden).
//
// An unavailable oracle aborts the run and surfaces the error for the job
// framework to retry; a malformed chunk response fails only that chunk.
func (c *Categorizer) CategorizeUser(ctx context.Context, userID string, redoAll bool) (Stats, error) {
	log := logger.FromContext(ctx)
	var stats Stats

	pending, err := c.transactions.ListPendingCategorization(ctx, userID, redoAll)
	if err != nil {
		return stats, fmt.Errorf("CategorizeUser: list pending: %w", err)
	}
	if len(pending) == 0 {
		return stats, nil
	}

	log.Info().
		Str("user_id", userID).
		Int("pending", len(pending)).
		Bool("redo_all", redoAll).
		Msg("Starting categorization run")

	user := UserContext{}
	if c.profiles != nil {
		profile, err := c.profiles.UserContext(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to load user profile, categorizing without context")
		} else if profile != nil {
			user = *profile
		}
	}

	for i := 0; i < len(pending); i += c.cfg.ChunkSize {
		end := i + c.cfg.ChunkSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[i:end]
		chunkIndex := i / c.cfg.ChunkSize

		if i > 0 && c.cfg.ChunkDelay > 0 {
			c.sleep(c.cfg.ChunkDelay)
		}

		chunkStats, err := c.categorizeChunk(ctx, userID, chunkIndex, chunk, user)
		stats.add(chunkStats)
		if err != nil {
			return stats, err
		}
	}

	if c.dispatcher != nil {
		c.dispatcher.Dispatch(ctx, events.BatchCategorized{
			UserID:             userID,
			AutoCategorized:    stats.AutoCategorized,
			NeedsReview:        stats.NeedsReview,
			QuestionsGenerated: stats.QuestionsGenerated,
		})
	}

	log.Info().
		Str("user_id", userID).
		Int("auto_categorized", stats.AutoCategorized).
		Int("needs_review", stats.NeedsReview).
		Int("questions_generated", stats.QuestionsGenerated).
		Int("failed", stats.Failed).
		Msg("Categorization run complete")

	return stats, nil
}

// categorizeChunk sends one chunk to the oracle and applies the results.
// Returns a non-nil error only when the whole run should stop (oracle
// unavailable); malformed responses mark the chunk failed and continue.
func (c *Categorizer) categorizeChunk(ctx context.Context, userID string, chunkIndex int, chunk []*domain.Transaction, user UserContext) (Stats, error) {
	log := logger.FromContext(ctx)
	var stats Stats

	inputs := make([]TransactionInput, 0, len(chunk))
	for _, tx := range chunk {
		inputs = append(inputs, TransactionInput{
			ID:          tx.ID,
			Merchant:    tx.MerchantName,
			Amount:      tx.Amount,
			Date:        tx.TransactionDate.Format("2006-01-02"),
			Description: tx.Description,
		})
	}

	results, err := c.oracle.CategorizeBatch(ctx, inputs, user)
	if err != nil {
		var malformed *MalformedResponseError
		if errors.As(err, &malformed) {
			log.Error().
				Str("user_id", userID).
				Int("chunk", chunkIndex).
				Str("reason", malformed.Reason).
				Msg("Malformed oracle response, skipping chunk")
			stats.Failed += len(chunk)
			return stats, nil
		}
		return stats, fmt.Errorf("categorizeChunk: user %s chunk %d: %w", userID, chunkIndex, err)
	}

	byID := make(map[string]*Result, len(results))
	for i := range results {
		byID[results[i].ID] = &results[i]
	}

	for _, tx := range chunk {
		result, ok := byID[tx.ID]
		if !ok {
			// Missing from the response: failed for this transaction only.
			// review_status is untouched so a later run picks it up.
			log.Warn().
				Str("user_id", userID).
				Str("transaction_id", tx.ID).
				Int("chunk", chunkIndex).
				Msg("No oracle result for transaction")
			stats.Failed++
			continue
		}
		if err := validateResult(result); err != nil {
			log.Warn().
				Err(err).
				Str("user_id", userID).
				Str("transaction_id", tx.ID).
				Int("chunk", chunkIndex).
				Msg("Invalid oracle result for transaction")
			stats.Failed++
			continue
		}

		applied, err := c.applyResult(ctx, userID, tx, result)
		if err != nil {
			log.Error().
				Err(err).
				Str("user_id", userID).
				Str("transaction_id", tx.ID).
				Int("chunk", chunkIndex).
				Msg("Failed to persist categorization")
			stats.Failed++
			continue
		}
		stats.add(applied)
	}

	return stats, nil
}

// applyResult persists one oracle verdict according to the confidence policy.
func (c *Categorizer) applyResult(ctx context.Context, userID string, tx *domain.Transaction, result *Result) (Stats, error) {
	var stats Stats

	disposition := c.cfg.Thresholds.Decide(result.Confidence)

	expenseType := domain.ExpenseType(result.ExpenseType)
	if expenseType == "" {
		expenseType = domain.ExpensePersonal
	}
	merchantNormalized := result.MerchantNormalized
	if merchantNormalized == "" {
		merchantNormalized = tx.MerchantName
	}

	update := store.CategorizationUpdate{
		AICategory:         result.Category,
		AIConfidence:       result.Confidence,
		MerchantNormalized: merchantNormalized,
		ExpenseType:        expenseType,
		TaxDeductible:      result.TaxDeductible,
		TaxCategory:        result.TaxCategory,
		IsSubscription:     result.IsSubscription,
	}

	switch disposition {
	case AutoAccept:
		update.ReviewStatus = domain.ReviewAutoCategorized
	case FlagReview:
		update.ReviewStatus = domain.ReviewAIUncertain
	default:
		update.ReviewStatus = domain.ReviewNeedsReview
	}

	if err := c.transactions.ApplyCategorization(ctx, userID, tx.ID, update); err != nil {
		return stats, err
	}

	if disposition == AutoAccept {
		stats.AutoCategorized++
		return stats, nil
	}
	stats.NeedsReview++

	question := buildQuestion(userID, tx, result, disposition)
	if question == nil {
		return stats, nil
	}
	created, err := c.questions.UpsertPending(ctx, question)
	if err != nil {
		return stats, fmt.Errorf("applyResult: upsert question: %w", err)
	}
	if created {
		stats.QuestionsGenerated++
	}
	return stats, nil
}

// buildQuestion materializes the question the disposition calls for, filling
// in defaults when the oracle omitted the question fields. FlagReview only
// raises a question when the oracle suggested one; AskQuestion always gets a
// multiple-choice question; OpenEnded always gets a free-text question.
func buildQuestion(userID string, tx *domain.Transaction, result *Result, disposition Disposition) *domain.AIQuestion {
	text := result.SuggestedQuestion
	options := result.QuestionOptions
	qtype := domain.QuestionType(result.QuestionType)

	switch disposition {
	case FlagReview:
		if text == "" {
			return nil
		}
		if qtype == "" {
			qtype = domain.QuestionConfirm
		}
	case AskQuestion:
		if text == "" {
			text = fmt.Sprintf("How should the %s charge for $%.2f be categorized?", tx.MerchantName, tx.Amount)
		}
		if qtype == "" {
			qtype = domain.QuestionCategory
		}
		if len(options) == 0 {
			options = []string{result.Category, "Personal", "Business", domain.SkipAnswer}
		}
	case OpenEnded:
		if text == "" {
			text = fmt.Sprintf("What was the %s charge for $%.2f?", tx.MerchantName, tx.Amount)
		}
		qtype = domain.QuestionCategory
		options = nil // free text
	default:
		return nil
	}

	return &domain.AIQuestion{
		UserID:        userID,
		TransactionID: tx.ID,
		Question:      text,
		Options:       options,
		AIBestGuess:   result.Category,
		AIConfidence:  result.Confidence,
		QuestionType:  qtype,
		Status:        domain.QuestionPending,
	}
}
