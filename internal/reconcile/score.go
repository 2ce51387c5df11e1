package reconcile

import (
	"math"
	"strings"
	"time"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/merchant"
)

// matchScore rates how well a bank transaction matches an email order, in
// [0,1]. Amount and date carry most of the weight; bank merchant names are
// too garbled to be more than a bonus signal.
func matchScore(tx *domain.Transaction, order *domain.Order, aliases *merchant.AliasTable) float64 {
	score := 0.0

	// Exact penny match is the strongest single signal. Small differences
	// absorb rounding and fees; a few dollars covers tax and tip variation.
	amountDiff := math.Abs(tx.Amount - order.Total)
	switch {
	case amountDiff < 0.01:
		score += 0.55
	case amountDiff < 1.00:
		score += 0.35
	case amountDiff < 5.00:
		score += 0.10
	}

	// Next-day settlement is routine for card processing; a week covers
	// delayed captures.
	days := dayDiff(tx.TransactionDate, order.OrderDate)
	switch {
	case days == 0:
		score += 0.30
	case days <= 1:
		score += 0.27
	case days <= 3:
		score += 0.18
	case days <= 7:
		score += 0.08
	}

	score += merchantScore(tx.MerchantName, order, aliases)

	return math.Min(score, 1.0)
}

// merchantScore contributes up to 0.15 for name agreement after alias
// resolution. Absence of a name match is never disqualifying.
func merchantScore(bankName string, order *domain.Order, aliases *merchant.AliasTable) float64 {
	bank := aliases.Resolve(bankName)
	orderName := order.MerchantNormalized
	if orderName == "" {
		orderName = order.Merchant
	}
	orderName = strings.ToLower(strings.TrimSpace(orderName))

	if bank == "" || orderName == "" {
		return 0
	}

	switch {
	case bank == orderName:
		return 0.15
	case strings.Contains(bank, orderName), strings.Contains(orderName, bank):
		return 0.12
	case merchant.Similarity(bank, orderName) > 0.6:
		return 0.08
	}
	return 0
}

func dayDiff(a, b time.Time) int {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}
