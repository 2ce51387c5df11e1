package subscriptions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/events"
	"github.com/dvloznov/spendwise/internal/store/memory"
)

const testUser = "user-1"

var detectorNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestDetector(mem *memory.Store) *Detector {
	d := New(mem, mem, nil, DefaultConfig())
	d.now = func() time.Time { return detectorNow }
	return d
}

// seedCharges inserts one spend transaction per (daysAgo, amount) pair for
// the given merchant.
func seedCharges(mem *memory.Store, merchant string, charges map[int]float64) {
	for daysAgo, amount := range charges {
		mem.PutTransaction(&domain.Transaction{
			ID:              fmt.Sprintf("%s-tx-%d", merchant, daysAgo),
			UserID:          testUser,
			MerchantName:    merchant,
			Amount:          amount,
			TransactionDate: detectorNow.AddDate(0, 0, -daysAgo),
			ReviewStatus:    domain.ReviewAutoCategorized,
			AICategory:      "Subscriptions & Streaming",
		})
	}
}

func TestDetectMonthlySubscription(t *testing.T) {
	mem := memory.New()
	seedCharges(mem, "NETFLIX.COM", map[int]float64{5: 15.99, 35: 15.99, 65: 15.99, 95: 15.99})

	d := newTestDetector(mem)
	result, err := d.DetectSubscriptions(context.Background(), testUser)
	if err != nil {
		t.Fatalf("DetectSubscriptions() error = %v", err)
	}
	if result.Detected != 1 {
		t.Fatalf("Detected = %d, want 1", result.Detected)
	}

	subs, _ := mem.ListSubscriptions(context.Background(), testUser)
	if len(subs) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(subs))
	}
	sub := subs[0]
	if sub.Frequency != domain.FrequencyMonthly {
		t.Errorf("Frequency = %q, want monthly", sub.Frequency)
	}
	if sub.Amount != 15.99 {
		t.Errorf("Amount = %v, want 15.99", sub.Amount)
	}
	if sub.Status != domain.SubscriptionActive {
		t.Errorf("Status = %q, want active", sub.Status)
	}
	if sub.AnnualCost != 191.88 {
		t.Errorf("AnnualCost = %v, want 191.88", sub.AnnualCost)
	}
	wantLast := detectorNow.AddDate(0, 0, -5)
	if !sub.LastChargeDate.Equal(wantLast) {
		t.Errorf("LastChargeDate = %v, want %v", sub.LastChargeDate, wantLast)
	}
	if len(sub.ChargeHistory) != 4 {
		t.Errorf("ChargeHistory length = %d, want 4", len(sub.ChargeHistory))
	}
}

func TestDetectRejectsNonRecurring(t *testing.T) {
	tests := []struct {
		name    string
		charges map[int]float64
	}{
		{
			name:    "single charge",
			charges: map[int]float64{10: 49.99},
		},
		{
			name:    "irregular intervals",
			charges: map[int]float64{3: 12.00, 8: 12.00, 60: 12.00, 61: 12.00},
		},
		{
			name:    "unstable amounts",
			charges: map[int]float64{5: 20.00, 35: 45.00, 65: 90.00},
		},
		{
			name:    "regular but outside billing bands",
			charges: map[int]float64{5: 10.00, 20: 10.00, 35: 10.00, 50: 10.00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.New()
			seedCharges(mem, "SOME MERCHANT", tt.charges)

			d := newTestDetector(mem)
			result, err := d.DetectSubscriptions(context.Background(), testUser)
			if err != nil {
				t.Fatalf("DetectSubscriptions() error = %v", err)
			}
			if result.Detected != 0 {
				t.Errorf("Detected = %d, want 0", result.Detected)
			}
		})
	}
}

func TestDetectWeeklyAndAnnual(t *testing.T) {
	mem := memory.New()
	seedCharges(mem, "BLUE APRON", map[int]float64{2: 60.00, 9: 60.00, 16: 60.00, 23: 60.00})

	d := newTestDetector(mem)
	d.cfg.LookbackMonths = 14
	mem.PutTransaction(&domain.Transaction{
		ID:              "annual-1",
		UserID:          testUser,
		MerchantName:    "AMAZON PRIME",
		Amount:          139.00,
		TransactionDate: detectorNow.AddDate(0, 0, -30),
		ReviewStatus:    domain.ReviewAutoCategorized,
	})
	mem.PutTransaction(&domain.Transaction{
		ID:              "annual-2",
		UserID:          testUser,
		MerchantName:    "AMAZON PRIME",
		Amount:          139.00,
		TransactionDate: detectorNow.AddDate(0, 0, -395),
		ReviewStatus:    domain.ReviewAutoCategorized,
	})

	result, err := d.DetectSubscriptions(context.Background(), testUser)
	if err != nil {
		t.Fatalf("DetectSubscriptions() error = %v", err)
	}
	if result.Detected != 2 {
		t.Fatalf("Detected = %d, want 2", result.Detected)
	}

	subs, _ := mem.ListSubscriptions(context.Background(), testUser)
	byMerchant := make(map[string]domain.Frequency)
	for _, sub := range subs {
		byMerchant[sub.MerchantNormalized] = sub.Frequency
	}
	if byMerchant["blue apron"] != domain.FrequencyWeekly {
		t.Errorf("blue apron frequency = %q, want weekly", byMerchant["blue apron"])
	}
	if byMerchant["amazon prime"] != domain.FrequencyAnnual {
		t.Errorf("amazon prime frequency = %q, want annual", byMerchant["amazon prime"])
	}
}

func TestDetectModeAmountWins(t *testing.T) {
	mem := memory.New()
	// Three charges at 9.99 and one promotional 10.99; mode should win.
	seedCharges(mem, "SPOTIFY", map[int]float64{5: 9.99, 35: 9.99, 65: 9.99, 95: 10.99})

	d := newTestDetector(mem)
	if _, err := d.DetectSubscriptions(context.Background(), testUser); err != nil {
		t.Fatalf("DetectSubscriptions() error = %v", err)
	}

	subs, _ := mem.ListSubscriptions(context.Background(), testUser)
	if len(subs) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(subs))
	}
	if subs[0].Amount != 9.99 {
		t.Errorf("Amount = %v, want mode 9.99", subs[0].Amount)
	}
}

func TestDetectIdempotent(t *testing.T) {
	mem := memory.New()
	seedCharges(mem, "NETFLIX.COM", map[int]float64{5: 15.99, 35: 15.99, 65: 15.99})

	d := newTestDetector(mem)
	ctx := context.Background()
	if _, err := d.DetectSubscriptions(ctx, testUser); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	if _, err := d.DetectSubscriptions(ctx, testUser); err != nil {
		t.Fatalf("second run error = %v", err)
	}

	subs, _ := mem.ListSubscriptions(ctx, testUser)
	if len(subs) != 1 {
		t.Fatalf("got %d subscriptions after two runs, want 1", len(subs))
	}
	if subs[0].Status != domain.SubscriptionActive {
		t.Errorf("Status = %q, want active", subs[0].Status)
	}
}

type recordingDispatcher struct {
	events []events.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event events.Event) {
	d.events = append(d.events, event)
}

func TestSweepMarksStaleUnused(t *testing.T) {
	mem := memory.New()
	mem.PutSubscription(&domain.Subscription{
		ID:                 "sub-stale",
		UserID:             testUser,
		MerchantNormalized: "gym membership",
		Frequency:          domain.FrequencyMonthly,
		Status:             domain.SubscriptionActive,
		LastChargeDate:     detectorNow.AddDate(0, 0, -65),
		AnnualCost:         480,
	})
	mem.PutSubscription(&domain.Subscription{
		ID:                 "sub-fresh",
		UserID:             testUser,
		MerchantNormalized: "netflix",
		Frequency:          domain.FrequencyMonthly,
		Status:             domain.SubscriptionActive,
		LastChargeDate:     detectorNow.AddDate(0, 0, -40),
	})
	mem.PutSubscription(&domain.Subscription{
		ID:                 "sub-essential",
		UserID:             testUser,
		MerchantNormalized: "car insurance",
		Frequency:          domain.FrequencyMonthly,
		Status:             domain.SubscriptionActive,
		IsEssential:        true,
		LastChargeDate:     detectorNow.AddDate(0, 0, -90),
	})

	dispatcher := &recordingDispatcher{}
	d := New(mem, mem, dispatcher, DefaultConfig())
	d.now = func() time.Time { return detectorNow }

	result, err := d.DetectSubscriptions(context.Background(), testUser)
	if err != nil {
		t.Fatalf("DetectSubscriptions() error = %v", err)
	}
	if result.MarkedUnused != 1 {
		t.Fatalf("MarkedUnused = %d, want 1", result.MarkedUnused)
	}

	unused, _ := mem.ListByStatus(context.Background(), testUser, domain.SubscriptionUnused)
	if len(unused) != 1 || unused[0].ID != "sub-stale" {
		t.Fatalf("unused = %+v, want only sub-stale", unused)
	}

	if len(dispatcher.events) != 1 {
		t.Fatalf("got %d events, want 1", len(dispatcher.events))
	}
	event, ok := dispatcher.events[0].(events.SubscriptionUnused)
	if !ok {
		t.Fatalf("event type = %T, want SubscriptionUnused", dispatcher.events[0])
	}
	if event.SubscriptionID != "sub-stale" || event.AnnualCost != 480 {
		t.Errorf("event = %+v", event)
	}
}

func TestFreshChargeReactivatesUnused(t *testing.T) {
	mem := memory.New()
	mem.PutSubscription(&domain.Subscription{
		ID:                 "sub-1",
		UserID:             testUser,
		MerchantName:       "NETFLIX.COM",
		MerchantNormalized: "netflix",
		Frequency:          domain.FrequencyMonthly,
		Status:             domain.SubscriptionUnused,
		LastChargeDate:     detectorNow.AddDate(0, 0, -95),
	})
	seedCharges(mem, "NETFLIX.COM", map[int]float64{5: 15.99, 35: 15.99, 65: 15.99})

	d := newTestDetector(mem)
	if _, err := d.DetectSubscriptions(context.Background(), testUser); err != nil {
		t.Fatalf("DetectSubscriptions() error = %v", err)
	}

	subs, _ := mem.ListSubscriptions(context.Background(), testUser)
	if len(subs) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(subs))
	}
	if subs[0].Status != domain.SubscriptionActive {
		t.Errorf("Status = %q, want active after fresh charges", subs[0].Status)
	}
}

func TestCancelledNeverResurrected(t *testing.T) {
	mem := memory.New()
	mem.PutSubscription(&domain.Subscription{
		ID:                 "sub-1",
		UserID:             testUser,
		MerchantName:       "NETFLIX.COM",
		MerchantNormalized: "netflix",
		Frequency:          domain.FrequencyMonthly,
		Status:             domain.SubscriptionCancelled,
	})
	seedCharges(mem, "NETFLIX.COM", map[int]float64{5: 15.99, 35: 15.99, 65: 15.99})

	d := newTestDetector(mem)
	if _, err := d.DetectSubscriptions(context.Background(), testUser); err != nil {
		t.Fatalf("DetectSubscriptions() error = %v", err)
	}

	subs, _ := mem.ListSubscriptions(context.Background(), testUser)
	if len(subs) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(subs))
	}
	if subs[0].Status != domain.SubscriptionCancelled {
		t.Errorf("Status = %q, want cancelled preserved", subs[0].Status)
	}
}

func TestClassifyFrequency(t *testing.T) {
	tests := []struct {
		gap  float64
		want domain.Frequency
		ok   bool
	}{
		{7, domain.FrequencyWeekly, true},
		{9, domain.FrequencyWeekly, true},
		{15, "", false},
		{30, domain.FrequencyMonthly, true},
		{35, domain.FrequencyMonthly, true},
		{50, "", false},
		{91, domain.FrequencyQuarterly, true},
		{200, "", false},
		{365, domain.FrequencyAnnual, true},
		{400, "", false},
	}

	for _, tt := range tests {
		got, ok := classifyFrequency(tt.gap)
		if got != tt.want || ok != tt.ok {
			t.Errorf("classifyFrequency(%v) = (%q, %v), want (%q, %v)", tt.gap, got, ok, tt.want, tt.ok)
		}
	}
}
