package domain

import (
	"time"
)

// SubscriptionStatus is the lifecycle state of a detected subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionUnused    SubscriptionStatus = "unused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Frequency is the billing cycle of a subscription.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnual    Frequency = "annual"
)

// Period returns the nominal billing interval.
func (f Frequency) Period() time.Duration {
	switch f {
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	case FrequencyQuarterly:
		return 91 * 24 * time.Hour
	case FrequencyAnnual:
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// CyclesPerYear returns how many times the subscription bills in a year.
func (f Frequency) CyclesPerYear() int {
	switch f {
	case FrequencyWeekly:
		return 52
	case FrequencyMonthly:
		return 12
	case FrequencyQuarterly:
		return 4
	case FrequencyAnnual:
		return 1
	}
	return 12
}

// MaxGapDays is the number of days without a charge after which an active
// subscription is considered unused. Roughly 2-3x the billing interval;
// annual gets ~13 months to absorb renewal drift.
func (f Frequency) MaxGapDays() int {
	switch f {
	case FrequencyWeekly:
		return 21
	case FrequencyMonthly:
		return 60
	case FrequencyQuarterly:
		return 180
	case FrequencyAnnual:
		return 400
	}
	return 60
}

// Charge is a single historical billing of a subscription.
type Charge struct {
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
}

// Subscription is a recurring charge detected from the transaction stream
// (or tracked manually). Upserts are keyed on (UserID, MerchantNormalized).
type Subscription struct {
	ID     string
	UserID string

	MerchantName       string
	MerchantNormalized string
	Description        string

	Amount    float64
	Frequency Frequency
	Category  string

	Status      SubscriptionStatus
	IsEssential bool

	LastChargeDate   time.Time
	NextExpectedDate time.Time
	AnnualCost       float64

	ChargeHistory []Charge
}
