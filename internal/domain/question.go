package domain

import (
	"time"
)

// QuestionStatus is the lifecycle state of an AI question.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAnswered QuestionStatus = "answered"
	QuestionSkipped  QuestionStatus = "skipped"
	QuestionExpired  QuestionStatus = "expired"
)

// QuestionType determines how a user's answer is applied to the transaction.
type QuestionType string

const (
	// QuestionCategory asks which category the transaction belongs to.
	QuestionCategory QuestionType = "category"
	// QuestionBusinessPersonal asks whether the spend was business or personal.
	QuestionBusinessPersonal QuestionType = "business_personal"
	// QuestionSplit asks how a mixed basket (e.g. Costco) should be treated.
	QuestionSplit QuestionType = "split"
	// QuestionConfirm asks the user to confirm the AI's best guess.
	QuestionConfirm QuestionType = "confirm"
)

// ValidQuestionType reports whether s is one of the known question types.
func ValidQuestionType(s string) bool {
	switch QuestionType(s) {
	case QuestionCategory, QuestionBusinessPersonal, QuestionSplit, QuestionConfirm:
		return true
	}
	return false
}

// AIQuestion is a categorization question posed to the user for one
// transaction. At most one pending question exists per transaction.
type AIQuestion struct {
	ID            string
	UserID        string
	TransactionID string

	Question string
	// Options is nil for open-ended questions.
	Options []string

	AIBestGuess  string
	AIConfidence float64
	QuestionType QuestionType

	Status     QuestionStatus
	UserAnswer string
	AnsweredAt *time.Time
	CreatedAt  time.Time
}

// SkipAnswer is the reserved option that resolves a question without
// touching the transaction.
const SkipAnswer = "Skip"
