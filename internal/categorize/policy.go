package categorize

// Disposition is the tier a confidence score maps to.
type Disposition string

const (
	// AutoAccept applies the category silently.
	AutoAccept Disposition = "auto_accept"
	// FlagReview applies the category but flags the transaction and raises a
	// confirmation question when the oracle suggested one.
	FlagReview Disposition = "flag_review"
	// AskQuestion raises a multiple-choice question.
	AskQuestion Disposition = "ask_question"
	// OpenEnded raises a free-text question.
	OpenEnded Disposition = "open_ended"
)

// Thresholds are the lower bounds of each confidence tier. Each bound is
// inclusive: confidence == AutoAccept maps to AutoAccept.
type Thresholds struct {
	AutoAccept  float64
	FlagReview  float64
	AskQuestion float64
}

// DefaultThresholds returns the calibrated production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoAccept:  0.85,
		FlagReview:  0.60,
		AskQuestion: 0.40,
	}
}

// Decide maps a confidence score to its disposition tier. Pure and total:
// any float input yields a tier, scores below the AskQuestion bound
// (including garbage negatives) are open-ended.
func (t Thresholds) Decide(confidence float64) Disposition {
	switch {
	case confidence >= t.AutoAccept:
		return AutoAccept
	case confidence >= t.FlagReview:
		return FlagReview
	case confidence >= t.AskQuestion:
		return AskQuestion
	default:
		return OpenEnded
	}
}
