package categorize

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/store/memory"
)

// fakeOracle answers from a fixed result set, recording every call.
type fakeOracle struct {
	results map[string]Result
	err     error
	calls   [][]TransactionInput
	users   []UserContext
}

func (o *fakeOracle) CategorizeBatch(ctx context.Context, txs []TransactionInput, user UserContext) ([]Result, error) {
	inputs := make([]TransactionInput, len(txs))
	copy(inputs, txs)
	o.calls = append(o.calls, inputs)
	o.users = append(o.users, user)
	if o.err != nil {
		return nil, o.err
	}
	var out []Result
	for _, tx := range txs {
		if r, ok := o.results[tx.ID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// flakyOracle fails the first n calls, then delegates.
type flakyOracle struct {
	next  Oracle
	fails int
	err   error
}

func (o *flakyOracle) CategorizeBatch(ctx context.Context, txs []TransactionInput, user UserContext) ([]Result, error) {
	if o.fails > 0 {
		o.fails--
		return nil, o.err
	}
	return o.next.CategorizeBatch(ctx, txs, user)
}

func newTestCategorizer(mem *memory.Store, oracle Oracle, cfg Config) *Categorizer {
	c := New(mem, mem, oracle, nil, nil, cfg)
	c.sleep = func(time.Duration) {}
	return c
}

func pendingTx(id, userID, merchant string, amount float64, date time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:              id,
		UserID:          userID,
		MerchantName:    merchant,
		Amount:          amount,
		TransactionDate: date,
		ReviewStatus:    domain.ReviewPendingAI,
	}
}

var testDay = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestCategorizeAutoAccept(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.PutTransaction(pendingTx("tx-1", "u1", "WHOLEFDS #123", 84.12, testDay))

	oracle := &fakeOracle{results: map[string]Result{
		"tx-1": {
			ID:                 "tx-1",
			Category:           "Groceries",
			Confidence:         0.95,
			ExpenseType:        "personal",
			MerchantNormalized: "whole foods",
		},
	}}
	c := newTestCategorizer(mem, oracle, Config{})

	stats, err := c.CategorizeUser(ctx, "u1", false)
	if err != nil {
		t.Fatalf("CategorizeUser: %v", err)
	}
	if stats.AutoCategorized != 1 || stats.NeedsReview != 0 || stats.QuestionsGenerated != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	tx, err := mem.GetTransaction(ctx, "u1", "tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if tx.ReviewStatus != domain.ReviewAutoCategorized {
		t.Errorf("ReviewStatus = %s", tx.ReviewStatus)
	}
	if tx.AICategory != "Groceries" || tx.AIConfidence != 0.95 {
		t.Errorf("category = %s confidence = %v", tx.AICategory, tx.AIConfidence)
	}
	if tx.MerchantNormalized != "whole foods" {
		t.Errorf("MerchantNormalized = %q", tx.MerchantNormalized)
	}

	questions, _ := mem.ListQuestions(ctx, "u1")
	if len(questions) != 0 {
		t.Errorf("expected no questions, got %d", len(questions))
	}
}

func TestCategorizeFlagReviewRaisesSuggestedQuestion(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.PutTransaction(pendingTx("tx-1", "u1", "AMZN MKTP", 42.00, testDay))

	oracle := &fakeOracle{results: map[string]Result{
		"tx-1": {
			ID:                "tx-1",
			Category:          "Shopping",
			Confidence:        0.72,
			SuggestedQuestion: "Was the Amazon charge for office supplies?",
			QuestionType:      "confirm",
		},
	}}
	c := newTestCategorizer(mem, oracle, Config{})

	stats, err := c.CategorizeUser(ctx, "u1", false)
	if err != nil {
		t.Fatalf("CategorizeUser: %v", err)
	}
	if stats.NeedsReview != 1 || stats.QuestionsGenerated != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	tx, _ := mem.GetTransaction(ctx, "u1", "tx-1")
	if tx.ReviewStatus != domain.ReviewAIUncertain {
		t.Errorf("ReviewStatus = %s", tx.ReviewStatus)
	}
	if tx.AICategory != "Shopping" {
		t.Errorf("AICategory = %q, mid-confidence category should still apply", tx.AICategory)
	}

	questions, _ := mem.ListQuestions(ctx, "u1")
	if len(questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(questions))
	}
	q := questions[0]
	if q.QuestionType != domain.QuestionConfirm || q.Question != "Was the Amazon charge for office supplies?" {
		t.Errorf("question = %+v", q)
	}
}

func TestCategorizeFlagReviewWithoutSuggestionAsksNothing(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.PutTransaction(pendingTx("tx-1", "u1", "SHELL OIL", 55.10, testDay))

	oracle := &fakeOracle{results: map[string]Result{
		"tx-1": {ID: "tx-1", Category: "Transportation", Confidence: 0.70},
	}}
	c := newTestCategorizer(mem, oracle, Config{})

	stats, err := c.CategorizeUser(ctx, "u1", false)
	if err != nil {
		t.Fatalf("CategorizeUser: %v", err)
	}
	if stats.QuestionsGenerated != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	questions, _ := mem.ListQuestions(ctx, "u1")
	if len(questions) != 0 {
		t.Errorf("expected no questions, got %d", len(questions))
	}
}

func TestCategorizeLowConfidenceAsksMultipleChoice(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.PutTransaction(pendingTx("tx-1", "u1", "SQ *UNKNOWN VENDOR", 120.00, testDay))

	oracle := &fakeOracle{results: map[string]Result{
		"tx-1": {ID: "tx-1", Category: "Shopping", Confidence: 0.50},
	}}
	c := newTestCategorizer(mem, oracle, Config{})

	if _, err := c.CategorizeUser(ctx, "u1", false); err != nil {
		t.Fatalf("CategorizeUser: %v", err)
	}

	tx, _ := mem.GetTransaction(ctx, "u1", "tx-1")
	if tx.ReviewStatus != domain.ReviewNeedsReview {
		t.Errorf("ReviewStatus = %s", tx.ReviewStatus)
	}

	questions, _ := mem.ListQuestions(ctx, "u1")
	if len(questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(questions))
	}
	q := questions[0]
	if q.QuestionType != domain.QuestionCategory {
		t.Errorf("QuestionType = %s", q.QuestionType)
	}
	if len(q.Options) == 0 {
		t.Error("multiple-choice question has no options")
	}
	hasSkip := false
	for _, opt := range q.Options {
		if opt == domain.SkipAnswer {
			hasSkip = true
		}
	}
	if !hasSkip {
		t.Errorf("options %v missing the Skip escape hatch", q.Options)
	}
}

func TestCategorizeVeryLowConfidenceAsksOpenEnded(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.PutTransaction(pendingTx("tx-1", "u1", "ACH TRANSFER 99812", 500.00, testDay))

	oracle := &fakeOracle{results: map[string]Result{
		"tx-1": {ID: "tx-1", Category: "Uncategorized", Confidence: 0.15},
	}}
	c := newTestCategorizer(mem, oracle, Config{})

	if _, err := c.CategorizeUser(ctx, "u1", false); err != nil {
		t.Fatalf("CategorizeUser: %v", err)
	}

	questions, _ := mem.ListQuestions(ctx, "u1")
	if len(questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(questions))
	}
	if questions[0].Options != nil {
		t.Errorf("open-ended question should have nil options, got %v", questions[0].Options)
	}
}

func TestCategorizeSecondRunDoesNotDuplicateQuestions(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.PutTransaction(pendingTx("tx-1", "u1", "SQ *UNKNOWN VENDOR", 120.00, testDay))

	oracle := &fakeOracle{results: map[string]Result{
		"tx-1": {ID: "tx-1", Category: "Shopping", Confidence: 0.50},
	}}
	c := newTestCategorizer(mem, oracle, Config{})

	if _, err := c.CategorizeUser(ctx, "u1", false); err != nil {
		t.Fatal(err)
	}
	stats, err := c.CategorizeUser(ctx, "u1", false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.QuestionsGenerated != 0 {
		t.Errorf("second run generated %d questions", stats.QuestionsGenerated)
	}
	questions, _ := mem.ListQuestions(ctx, "u1")
	if len(questions) != 1 {
		t.Errorf("expected 1 question after two runs, got %d", len(questions))
	}
}

func TestCategorizeChunksAndPacing(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	oracle := &fakeOracle{results: map[string]Result{}}
	for _, id := range []string{"tx-1", "tx-2", "tx-3", "tx-4", "tx-5"} {
		mem.PutTransaction(pendingTx(id, "u1", "NETFLIX.COM", 15.99, testDay))
		oracle.results[id] = Result{ID: id, Category: "Subscriptions & Streaming", Confidence: 0.9}
	}

	c := New(mem, mem, oracle, nil, nil, Config{ChunkSize: 2, ChunkDelay: time.Millisecond})
	sleeps := 0
	c.sleep = func(time.Duration) { sleeps++ }

	stats, err := c.CategorizeUser(ctx, "u1", false)
	if err != nil {
		t.Fatalf("CategorizeUser: %v", err)
	}
	if stats.AutoCategorized != 5 {
		t.Errorf("AutoCategorized = %d", stats.AutoCategorized)
	}
	if len(oracle.calls) != 3 {
		t.Errorf("oracle calls = %d, want 3", len(oracle.calls))
	}
	// No sleep before the first chunk.
	if sleeps != 2 {
		t.Errorf("sleeps = %d, want 2", sleeps)
	}

	// Everything is resolved now; a second run finds no work.
	again, err := c.CategorizeUser(ctx, "u1", false)
	if err != nil {
		t.Fatal(err)
	}
	if again.AutoCategorized != 0 || len(oracle.calls) != 3 {
		t.Errorf("second run recategorized: stats=%+v calls=%d", again, len(oracle.calls))
	}
}

func TestCategorizeMalformedChunkSkipsOnlyThatChunk(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	// Newest first ordering puts tx-new in the first chunk.
	mem.PutTransaction(pendingTx("tx-new", "u1", "NETFLIX.COM", 15.99, testDay))
	mem.PutTransaction(pendingTx("tx-old", "u1", "SPOTIFY", 9.99, testDay.AddDate(0, 0, -10)))

	good := &fakeOracle{results: map[string]Result{
		"tx-old": {ID: "tx-old", Category: "Subscriptions & Streaming", Confidence: 0.9},
	}}
	oracle := &flakyOracle{next: good, fails: 1, err: &MalformedResponseError{Reason: "bad json"}}

	c := newTestCategorizer(mem, oracle, Config{ChunkSize: 1})

	stats, err := c.CategorizeUser(ctx, "u1", false)
	if err != nil {
		t.Fatalf("malformed chunk should not abort the run: %v", err)
	}
	if stats.Failed != 1 || stats.AutoCategorized != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	// The failed transaction is untouched and eligible for the next run.
	tx, _ := mem.GetTransaction(ctx, "u1", "tx-new")
	if tx.ReviewStatus != domain.ReviewPendingAI {
		t.Errorf("failed transaction ReviewStatus = %s", tx.ReviewStatus)
	}
}

func TestCategorizeOracleUnavailableAborts(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.PutTransaction(pendingTx("tx-1", "u1", "NETFLIX.COM", 15.99, testDay))

	oracle := &fakeOracle{err: ErrOracleUnavailable}
	c := newTestCategorizer(mem, oracle, Config{})

	_, err := c.CategorizeUser(ctx, "u1", false)
	if err == nil {
		t.Fatal("expected error when oracle is unavailable")
	}

	tx, _ := mem.GetTransaction(ctx, "u1", "tx-1")
	if tx.ReviewStatus != domain.ReviewPendingAI {
		t.Errorf("ReviewStatus = %s, aborted run must leave transactions pending", tx.ReviewStatus)
	}
}

func TestCategorizeMissingResultFailsOnlyThatTransaction(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.PutTransaction(pendingTx("tx-1", "u1", "NETFLIX.COM", 15.99, testDay))
	mem.PutTransaction(pendingTx("tx-2", "u1", "SPOTIFY", 9.99, testDay))

	oracle := &fakeOracle{results: map[string]Result{
		"tx-1": {ID: "tx-1", Category: "Subscriptions & Streaming", Confidence: 0.9},
	}}
	c := newTestCategorizer(mem, oracle, Config{})

	stats, err := c.CategorizeUser(ctx, "u1", false)
	if err != nil {
		t.Fatalf("CategorizeUser: %v", err)
	}
	if stats.AutoCategorized != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	tx, _ := mem.GetTransaction(ctx, "u1", "tx-2")
	if tx.ReviewStatus != domain.ReviewPendingAI {
		t.Errorf("tx-2 ReviewStatus = %s", tx.ReviewStatus)
	}
}

func TestCategorizeInvalidResultFailsTransaction(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.PutTransaction(pendingTx("tx-1", "u1", "NETFLIX.COM", 15.99, testDay))

	oracle := &fakeOracle{results: map[string]Result{
		"tx-1": {ID: "tx-1", Category: "Subscriptions & Streaming", Confidence: 1.7},
	}}
	c := newTestCategorizer(mem, oracle, Config{})

	stats, err := c.CategorizeUser(ctx, "u1", false)
	if err != nil {
		t.Fatalf("CategorizeUser: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCategorizeRedoAllSkipsUserOverrides(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()

	confirmed := pendingTx("tx-1", "u1", "COSTCO", 210.00, testDay)
	confirmed.UserCategory = "Groceries"
	confirmed.ReviewStatus = domain.ReviewUserConfirmed
	mem.PutTransaction(confirmed)

	done := pendingTx("tx-2", "u1", "NETFLIX.COM", 15.99, testDay)
	done.AICategory = "Entertainment"
	done.ReviewStatus = domain.ReviewAutoCategorized
	mem.PutTransaction(done)

	oracle := &fakeOracle{results: map[string]Result{
		"tx-2": {ID: "tx-2", Category: "Subscriptions & Streaming", Confidence: 0.92},
	}}
	c := newTestCategorizer(mem, oracle, Config{})

	stats, err := c.CategorizeUser(ctx, "u1", true)
	if err != nil {
		t.Fatalf("CategorizeUser: %v", err)
	}
	if stats.AutoCategorized != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(oracle.calls) != 1 || len(oracle.calls[0]) != 1 || oracle.calls[0][0].ID != "tx-2" {
		t.Fatalf("redo run submitted %+v, want only tx-2", oracle.calls)
	}

	tx, _ := mem.GetTransaction(ctx, "u1", "tx-1")
	if tx.UserCategory != "Groceries" {
		t.Errorf("user override was touched: %q", tx.UserCategory)
	}
	tx2, _ := mem.GetTransaction(ctx, "u1", "tx-2")
	if tx2.AICategory != "Subscriptions & Streaming" {
		t.Errorf("tx-2 not re-categorized: %q", tx2.AICategory)
	}
}
