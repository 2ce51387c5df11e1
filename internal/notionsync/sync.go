// Package notionsync exports the detected subscription roster to a Notion
// database so it can be reviewed outside the app. The sync is one-way and
// idempotent: Notion mirrors the store, never the other way around.
package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/logger"
)

// SyncSubscriptions mirrors the user's active and unused subscriptions into
// the Notion database. Pages are matched on the "Subscription ID" property:
// existing pages are updated in place, missing ones created, and pages whose
// subscription no longer exists (or was cancelled) are archived.
func SyncSubscriptions(ctx context.Context, source SubscriptionSource, notionClient NotionService, notionDBID, userID string, dryRun bool) error {
	log := logger.FromContext(ctx)

	log.Info().
		Str("user_id", userID).
		Bool("dry_run", dryRun).
		Msg("Starting subscription sync to Notion")

	var subs []*domain.Subscription
	for _, status := range []domain.SubscriptionStatus{domain.SubscriptionActive, domain.SubscriptionUnused} {
		batch, err := source.ListByStatus(ctx, userID, status)
		if err != nil {
			return fmt.Errorf("SyncSubscriptions: list %s subscriptions: %w", status, err)
		}
		subs = append(subs, batch...)
	}

	validIDs := make(map[string]bool, len(subs))
	for _, sub := range subs {
		validIDs[sub.ID] = true
	}

	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return fmt.Errorf("SyncSubscriptions: query Notion pages: %w", err)
	}

	// Map subscription ID -> existing page, and archive stale pages.
	existing := make(map[string]notionapi.Page)
	var deleted int
	for _, page := range notionPages {
		subID := extractSubscriptionID(page)
		if subID != "" && validIDs[subID] {
			existing[subID] = page
			continue
		}

		if dryRun {
			log.Info().
				Str("subscription_id", subID).
				Str("page_id", string(page.ID)).
				Msg("[DRY RUN] Would archive stale Notion page")
			deleted++
			continue
		}
		if err := notionClient.DeletePage(ctx, string(page.ID)); err != nil {
			log.Warn().
				Err(err).
				Str("subscription_id", subID).
				Str("page_id", string(page.ID)).
				Msg("Failed to archive stale Notion page")
			continue
		}
		deleted++
	}

	var created, updated int
	for _, sub := range subs {
		props := SubscriptionToNotionProperties(sub)

		if page, ok := existing[sub.ID]; ok {
			if dryRun {
				log.Info().
					Str("subscription_id", sub.ID).
					Str("page_id", string(page.ID)).
					Msg("[DRY RUN] Would update Notion page")
				updated++
				continue
			}
			if _, err := notionClient.UpdatePage(ctx, string(page.ID), props); err != nil {
				log.Warn().
					Err(err).
					Str("subscription_id", sub.ID).
					Str("page_id", string(page.ID)).
					Msg("Failed to update Notion page")
				continue
			}
			updated++
			continue
		}

		if dryRun {
			log.Info().
				Str("subscription_id", sub.ID).
				Str("merchant", sub.MerchantNormalized).
				Msg("[DRY RUN] Would create Notion page")
			created++
			continue
		}
		page, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			log.Warn().
				Err(err).
				Str("subscription_id", sub.ID).
				Str("merchant", sub.MerchantNormalized).
				Msg("Failed to create Notion page")
			continue
		}
		log.Debug().
			Str("subscription_id", sub.ID).
			Str("page_id", string(page.ID)).
			Msg("Created Notion page for subscription")
		created++
	}

	log.Info().
		Str("user_id", userID).
		Int("created", created).
		Int("updated", updated).
		Int("archived", deleted).
		Int("total", len(subs)).
		Msg("Subscription sync completed")

	return nil
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}

// extractSubscriptionID extracts the subscription ID from a Notion page's
// properties. Returns empty string if not found.
func extractSubscriptionID(page notionapi.Page) string {
	if prop, ok := page.Properties["Subscription ID"]; ok {
		if richText, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(richText.RichText) > 0 {
				return richText.RichText[0].PlainText
			}
		}
	}
	return ""
}
