// Package subscriptions detects recurring charges in a user's transaction
// history and maintains the subscription roster.
package subscriptions

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/events"
	"github.com/dvloznov/spendwise/internal/logger"
	"github.com/dvloznov/spendwise/internal/merchant"
	"github.com/dvloznov/spendwise/internal/store"
)

// Config tunes the detector. The bands and tolerances are calibration
// knobs, not load-bearing constants.
type Config struct {
	// LookbackMonths bounds how far back charges are considered.
	LookbackMonths int
	// MinCharges is the minimum group size; a single charge carries no
	// periodicity evidence.
	MinCharges int
	// AmountTolerance is the maximum relative standard deviation of amounts
	// within a group.
	AmountTolerance float64
	// IntervalTolerance is the maximum coefficient of variation of the
	// day-gaps within a group.
	IntervalTolerance float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LookbackMonths:    6,
		MinCharges:        2,
		AmountTolerance:   0.15,
		IntervalTolerance: 0.25,
	}
}

// Result summarizes one detection run.
type Result struct {
	Detected     int
	MarkedUnused int
}

// Detector groups a user's spend by normalized merchant, tests each group
// for periodicity and amount stability, and upserts the subscription
// roster. Running it twice on unchanged data produces identical state.
type Detector struct {
	transactions  store.TransactionStore
	subscriptions store.SubscriptionStore
	dispatcher    events.Dispatcher
	cfg           Config

	// now is stubbed in tests.
	now func() time.Time
}

// New creates a Detector. dispatcher may be nil.
func New(transactions store.TransactionStore, subscriptions store.SubscriptionStore, dispatcher events.Dispatcher, cfg Config) *Detector {
	if cfg.LookbackMonths <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{
		transactions:  transactions,
		subscriptions: subscriptions,
		dispatcher:    dispatcher,
		cfg:           cfg,
		now:           time.Now,
	}
}

// DetectSubscriptions runs one detection pass for the user.
func (d *Detector) DetectSubscriptions(ctx context.Context, userID string) (Result, error) {
	log := logger.FromContext(ctx)
	var result Result

	since := d.now().AddDate(0, -d.cfg.LookbackMonths, 0)
	spend, err := d.transactions.ListSpendSince(ctx, userID, since)
	if err != nil {
		return result, fmt.Errorf("DetectSubscriptions: list spend: %w", err)
	}

	groups := groupByMerchant(spend)

	for _, name := range sortedKeys(groups) {
		group := groups[name]
		if len(group) < d.cfg.MinCharges {
			continue
		}

		recurrence := d.analyzeRecurrence(group)
		if recurrence == nil {
			continue
		}

		sub := buildSubscription(userID, name, group, recurrence)
		if _, err := d.subscriptions.Upsert(ctx, sub); err != nil {
			return result, fmt.Errorf("DetectSubscriptions: upsert %s: %w", name, err)
		}
		result.Detected++

		log.Debug().
			Str("user_id", userID).
			Str("merchant", name).
			Str("frequency", string(recurrence.frequency)).
			Float64("amount", recurrence.amount).
			Msg("Detected subscription")
	}

	marked, err := d.sweepUnused(ctx, userID)
	if err != nil {
		return result, err
	}
	result.MarkedUnused = marked

	log.Info().
		Str("user_id", userID).
		Int("detected", result.Detected).
		Int("marked_unused", marked).
		Msg("Subscription detection complete")

	return result, nil
}

// recurrence is the evidence extracted from one merchant group.
type recurrence struct {
	frequency domain.Frequency
	amount    float64
}

// analyzeRecurrence decides whether a charge group is periodic. Requires
// stable amounts (relative stdev within tolerance) and regular intervals
// whose median falls in a known billing band.
func (d *Detector) analyzeRecurrence(group []*domain.Transaction) *recurrence {
	amounts := make([]float64, len(group))
	for i, tx := range group {
		amounts[i] = tx.Amount
	}

	m := mean(amounts)
	if m <= 0 {
		return nil
	}
	if stddev(amounts, m)/m > d.cfg.AmountTolerance {
		return nil
	}

	// Group is sorted by date ascending; compute consecutive day-gaps.
	gaps := make([]float64, 0, len(group)-1)
	for i := 1; i < len(group); i++ {
		days := group[i].TransactionDate.Sub(group[i-1].TransactionDate).Hours() / 24
		gaps = append(gaps, days)
	}
	if len(gaps) == 0 {
		return nil
	}

	if len(gaps) >= 2 {
		gm := mean(gaps)
		if gm <= 0 || stddev(gaps, gm)/gm > d.cfg.IntervalTolerance {
			return nil
		}
	}

	frequency, ok := classifyFrequency(median(gaps))
	if !ok {
		return nil
	}

	return &recurrence{frequency: frequency, amount: modeAmount(amounts)}
}

// Billing bands by median day-gap. Gaps that cluster near none of these are
// not subscriptions.
func classifyFrequency(medianGap float64) (domain.Frequency, bool) {
	switch {
	case medianGap >= 5 && medianGap <= 9:
		return domain.FrequencyWeekly, true
	case medianGap >= 25 && medianGap <= 35:
		return domain.FrequencyMonthly, true
	case medianGap >= 80 && medianGap <= 100:
		return domain.FrequencyQuarterly, true
	case medianGap >= 350 && medianGap <= 380:
		return domain.FrequencyAnnual, true
	}
	return "", false
}

// buildSubscription materializes the upsert row for one accepted group.
func buildSubscription(userID, normalized string, group []*domain.Transaction, rec *recurrence) *domain.Subscription {
	last := group[len(group)-1]

	history := make([]domain.Charge, len(group))
	for i, tx := range group {
		history[i] = domain.Charge{Date: tx.TransactionDate, Amount: tx.Amount}
	}

	category := last.DisplayCategory()
	if category == "" {
		category = "Subscriptions & Streaming"
	}

	return &domain.Subscription{
		UserID:             userID,
		MerchantName:       last.MerchantName,
		MerchantNormalized: normalized,
		Description:        last.Description,
		Amount:             rec.amount,
		Frequency:          rec.frequency,
		Category:           category,
		Status:             domain.SubscriptionActive,
		LastChargeDate:     last.TransactionDate,
		NextExpectedDate:   last.TransactionDate.Add(rec.frequency.Period()),
		AnnualCost:         round2(rec.amount * float64(rec.frequency.CyclesPerYear())),
		ChargeHistory:      history,
	}
}

// sweepUnused transitions active, non-essential subscriptions whose charges
// have stopped for more than the frequency's gap allowance. A fresh charge
// in a later run flips them back to active via the upsert.
func (d *Detector) sweepUnused(ctx context.Context, userID string) (int, error) {
	active, err := d.subscriptions.ListByStatus(ctx, userID, domain.SubscriptionActive)
	if err != nil {
		return 0, fmt.Errorf("sweepUnused: list active: %w", err)
	}

	now := d.now()
	marked := 0
	for _, sub := range active {
		if sub.IsEssential || sub.LastChargeDate.IsZero() {
			continue
		}
		gapDays := int(now.Sub(sub.LastChargeDate).Hours() / 24)
		if gapDays <= sub.Frequency.MaxGapDays() {
			continue
		}

		if err := d.subscriptions.UpdateStatus(ctx, userID, sub.ID, domain.SubscriptionUnused); err != nil {
			return marked, fmt.Errorf("sweepUnused: mark %s unused: %w", sub.ID, err)
		}
		marked++

		if d.dispatcher != nil {
			d.dispatcher.Dispatch(ctx, events.SubscriptionUnused{
				UserID:         userID,
				SubscriptionID: sub.ID,
				Merchant:       sub.MerchantNormalized,
				AnnualCost:     sub.AnnualCost,
			})
		}
	}
	return marked, nil
}

// groupByMerchant buckets spend by normalized merchant, preserving the
// date-ascending order of the input. Unidentifiable merchants are dropped.
func groupByMerchant(txs []*domain.Transaction) map[string][]*domain.Transaction {
	groups := make(map[string][]*domain.Transaction)
	for _, tx := range txs {
		name := merchant.Normalize(tx.MerchantName)
		if name == "unknown" {
			continue
		}
		groups[name] = append(groups[name], tx)
	}
	return groups
}

func sortedKeys(groups map[string][]*domain.Transaction) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return math.Sqrt(variance / float64(len(xs)))
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

// modeAmount returns the most common amount (rounded to cents); ties break
// toward the smaller amount for determinism.
func modeAmount(amounts []float64) float64 {
	counts := make(map[float64]int)
	for _, a := range amounts {
		counts[round2(a)]++
	}
	best, bestCount := 0.0, 0
	for amount, count := range counts {
		if count > bestCount || (count == bestCount && amount < best) {
			best, bestCount = amount, count
		}
	}
	return best
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
