package categorize

import (
	"fmt"
	"sort"
	"strings"
)

// Categories the oracle is allowed to emit. Kept in sync with the category
// reference data served to the UI.
var categoryList = []string{
	"Housing & Rent",
	"Mortgage",
	"Food & Groceries",
	"Restaurant & Dining",
	"Coffee & Drinks",
	"Transportation",
	"Gas & Fuel",
	"Car Payment",
	"Car Insurance",
	"Auto Maintenance",
	"Public Transit",
	"Rideshare",
	"Subscriptions & Streaming",
	"Software & SaaS",
	"Phone & Internet",
	"Utilities (Electric/Water/Gas)",
	"Health Insurance",
	"Medical & Dental",
	"Pharmacy",
	"Fitness & Gym",
	"Home Insurance",
	"Life Insurance",
	"Clothing & Apparel",
	"Personal Care",
	"Pet Care",
	"Childcare & Kids",
	"Education",
	"Entertainment",
	"Gaming",
	"Shopping (General)",
	"Electronics",
	"Home Improvement",
	"Office Supplies",
	"Travel & Hotels",
	"Flights",
	"Parking",
	"Professional Services",
	"Business Meals",
	"Marketing & Advertising",
	"Shipping & Postage",
	"Income (Salary)",
	"Income (Freelance)",
	"Income (Investment)",
	"Transfer",
	"ATM Withdrawal",
	"Fees & Charges",
	"Charity & Donations",
	"Gifts",
	"Taxes",
	"Savings & Investment",
	"Debt Payment",
	"Uncategorized",
}

// buildCategorizationPrompt assembles the system prompt for one chunk,
// embedding the user's financial profile and prior category overrides.
func buildCategorizationPrompt(user UserContext) string {
	var b strings.Builder

	b.WriteString("You are a financial transaction categorizer. Analyze each transaction in the attached JSON array and return JSON.\n")

	if profile := formatProfile(user); profile != "" {
		b.WriteString("\nUSER FINANCIAL PROFILE:\n")
		b.WriteString(profile)
	}

	if len(user.CategoryOverrides) > 0 {
		b.WriteString("\nPRIOR USER CORRECTIONS (always honor these):\n")
		merchants := make([]string, 0, len(user.CategoryOverrides))
		for m := range user.CategoryOverrides {
			merchants = append(merchants, m)
		}
		sort.Strings(merchants)
		for _, m := range merchants {
			fmt.Fprintf(&b, "- %s -> %s\n", m, user.CategoryOverrides[m])
		}
	}

	b.WriteString("\nFor EACH transaction, return an object:\n")
	b.WriteString(`{
  "id": "<transaction id, echoed back exactly>",
  "category": "<category from the list below>",
  "confidence": <0.0-1.0>,
  "expense_type": "personal|business|mixed",
  "tax_deductible": true|false,
  "tax_category": "<IRS category if deductible, null otherwise>",
  "is_subscription": true|false,
  "merchant_normalized": "<clean merchant name>",
  "reasoning": "<brief explanation>",
  "suggested_question": "<question to ask the user if confidence < 0.6, null otherwise>",
  "question_type": "category|business_personal|split|confirm",
  "question_options": ["option1", "option2", "option3", "Skip"]
}
`)

	b.WriteString("\nCATEGORIES (use exactly one):\n")
	for _, c := range categoryList {
		b.WriteString("- " + c + "\n")
	}

	b.WriteString(`
TAX DEDUCTION RULES:
- Self-employed/freelancer: office supplies, software, business meals (50%), home office, professional development, business travel, marketing are likely deductible
- Universal: charitable donations, medical expenses above threshold, mortgage interest, state/local taxes
- NOT deductible: personal meals, entertainment, clothing (unless uniforms), commuting

CONFIDENCE SCORING:
- 0.90-1.00: obvious (rent, utilities, known subscription services)
- 0.70-0.89: very likely correct (grocery stores, gas stations, recognizable merchants)
- 0.50-0.69: probably right but could be wrong (Amazon, Costco, generic merchants)
- 0.30-0.49: uncertain (Venmo, ambiguous merchants, mixed-use stores)
- 0.00-0.29: cannot determine (generic descriptions, unknown merchants)

For confidence < 0.60 you MUST provide a suggested_question and options.
For Venmo/Zelle/CashApp, ALWAYS ask if personal or business.

Return ONLY valid raw JSON: a JSON array with one object per transaction.
Do NOT wrap the response in code fences.
Do NOT use markdown.
Output must begin with "[" and end with "]".
`)

	return b.String()
}

func formatProfile(user UserContext) string {
	var b strings.Builder
	if user.EmploymentType != "" {
		fmt.Fprintf(&b, "- Employment: %s\n", user.EmploymentType)
	}
	if user.BusinessType != "" {
		fmt.Fprintf(&b, "- Business: %s\n", user.BusinessType)
	}
	if user.HasHomeOffice {
		b.WriteString("- Has home office (home office deductions may apply)\n")
	}
	if user.TaxFilingStatus != "" {
		fmt.Fprintf(&b, "- Filing status: %s\n", user.TaxFilingStatus)
	}
	if len(user.CustomRules) > 0 {
		keys := make([]string, 0, len(user.CustomRules))
		for k := range user.CustomRules {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- Rule: %s: %s\n", k, user.CustomRules[k])
		}
	}
	return b.String()
}
