// Package events carries the fire-and-forget domain events this module
// produces. Delivery (email, push) is someone else's job; a dispatcher here
// must never block or fail the emitting service.
package events

import (
	"context"

	"github.com/rs/zerolog"
)

// Event is a domain event with a stable name for routing.
type Event interface {
	Name() string
}

// BatchCategorized is emitted when a categorization run finishes.
type BatchCategorized struct {
	UserID             string
	AutoCategorized    int
	NeedsReview        int
	QuestionsGenerated int
}

func (BatchCategorized) Name() string { return "batch_categorized" }

// SubscriptionUnused is emitted when a subscription is newly marked unused.
type SubscriptionUnused struct {
	UserID         string
	SubscriptionID string
	Merchant       string
	AnnualCost     float64
}

func (SubscriptionUnused) Name() string { return "subscription_unused" }

// Dispatcher hands events to the notification layer, fire-and-forget.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event)
}

// LogDispatcher logs events instead of delivering them. Used in the worker
// until a real notification backend is wired, and in tests.
type LogDispatcher struct {
	Log zerolog.Logger
}

// Dispatch implements Dispatcher.
func (d LogDispatcher) Dispatch(ctx context.Context, event Event) {
	d.Log.Info().Str("event", event.Name()).Interface("payload", event).Msg("Domain event")
}

var _ Dispatcher = LogDispatcher{}
