package notionsync

import (
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/spendwise/internal/domain"
)

// SubscriptionToNotionProperties converts a Subscription to the properties
// of the Notion subscriptions database. The "Subscription ID" property is
// the idempotency key the sync matches existing pages on.
func SubscriptionToNotionProperties(sub *domain.Subscription) notionapi.Properties {
	merchant := sub.MerchantName
	if merchant == "" {
		merchant = sub.MerchantNormalized
	}

	props := notionapi.Properties{
		"Merchant": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: merchant,
					},
				},
			},
		},
		"Subscription ID": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: sub.ID,
					},
				},
			},
		},
		"Amount": notionapi.NumberProperty{
			Number: sub.Amount,
		},
		"Annual Cost": notionapi.NumberProperty{
			Number: sub.AnnualCost,
		},
		"Frequency": notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(sub.Frequency),
			},
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(sub.Status),
			},
		},
		"Essential": notionapi.CheckboxProperty{
			Checkbox: sub.IsEssential,
		},
	}

	if sub.Category != "" {
		props["Category"] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: sub.Category,
			},
		}
	}

	if !sub.LastChargeDate.IsZero() {
		props["Last Charge"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: notionDate(sub.LastChargeDate),
			},
		}
	}

	if !sub.NextExpectedDate.IsZero() {
		props["Next Expected"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: notionDate(sub.NextExpectedDate),
			},
		}
	}

	return props
}

func notionDate(t time.Time) *notionapi.Date {
	d := notionapi.Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
	return &d
}
