package merchant

import (
	"regexp"
	"strings"
)

// Payment processor descriptions wrap the real merchant, e.g.
// "PAYPAL INST XFER GOOGLE GOOGLE O" or "VENMO *JOHN DOE". Extract the
// wrapped name before any other normalization.
var processorPatterns = []struct {
	marker  string
	pattern *regexp.Regexp
}{
	{"PAYPAL", regexp.MustCompile(`(?i)PAYPAL\s+(?:INST\s+XFER\s+)?(.+?)(?:\s+WEB\s+ID|\s+\d{10,}|\s*$)`)},
	{"VENMO", regexp.MustCompile(`(?i)VENMO\s+\*?(.+?)(?:\s+\d{4}|\s*$)`)},
	{"CASH APP", regexp.MustCompile(`(?i)CASH\s+APP\s+\*?(.+?)(?:\s+\d{4}|\s*$)`)},
}

var (
	trailingJunkRe   = regexp.MustCompile(`[#*]+\d*\s*$`)
	trailingDigitsRe = regexp.MustCompile(`\s+\d{3,}$`)
)

// Legal suffixes stripped so "ACME LLC" and "ACME" group together.
var legalSuffixes = []string{
	" inc", " inc.", " llc", " llc.", " ltd", " ltd.", " corp", " corp.", " co", " co.",
}

// Normalize canonicalizes a raw bank merchant name for grouping:
// payment-processor unwrapping, lowercasing, trailing store/transaction
// number stripping, legal suffix stripping, ".com" stripping.
// Returns "unknown" for empty input so callers can skip the group.
func Normalize(name string) string {
	if strings.TrimSpace(name) == "" {
		return "unknown"
	}

	if extracted := extractFromProcessor(name); extracted != "" {
		name = extracted
	}

	clean := strings.ToLower(strings.TrimSpace(name))
	clean = trailingJunkRe.ReplaceAllString(clean, "")
	clean = trailingDigitsRe.ReplaceAllString(clean, "")
	clean = strings.TrimSuffix(clean, ".com")

	for _, suf := range legalSuffixes {
		if strings.HasSuffix(clean, suf) {
			clean = strings.TrimSuffix(clean, suf)
			break
		}
	}

	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "unknown"
	}
	return clean
}

// extractFromProcessor pulls the underlying merchant out of a payment
// processor description. Returns "" when the name is not processor-wrapped.
func extractFromProcessor(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, p := range processorPatterns {
		if !strings.Contains(upper, p.marker) {
			continue
		}
		m := p.pattern.FindStringSubmatch(name)
		if len(m) < 2 {
			continue
		}
		extracted := strings.TrimSpace(m[1])
		extracted = trailingJunkRe.ReplaceAllString(extracted, "")
		extracted = strings.TrimSpace(extracted)
		if extracted != "" {
			return extracted
		}
	}
	return ""
}

// AliasTable maps cryptic bank-statement prefixes to clean merchant names,
// e.g. "AMZN MKTP" -> "Amazon". Learned aliases from confirmed
// reconciliations are merged over the built-in set.
type AliasTable struct {
	aliases map[string]string
}

// Built-in aliases for merchants whose bank descriptors rarely resemble the
// name that appears on email receipts.
var defaultAliases = map[string]string{
	"AMZN MKTP":      "Amazon",
	"AMAZON.COM":     "Amazon",
	"AMZN":           "Amazon",
	"WMT GROCERY":    "Walmart",
	"WAL-MART":       "Walmart",
	"WM SUPERCENTER": "Walmart",
	"TARGET":         "Target",
	"COSTCO WHSE":    "Costco",
	"APPLE.COM/BILL": "Apple",
	"APL*APPLE":      "Apple",
	"GOOGLE *":       "Google",
	"SQ *":           "Square",
	"TST*":           "Toast",
	"BESTBUYCOM":     "Best Buy",
	"BEST BUY":       "Best Buy",
	"THE HOME DEPOT": "Home Depot",
	"HOMEDEPOT.COM":  "Home Depot",
	"LOWES":          "Lowe's",
	"CHEWY.COM":      "Chewy",
	"DOORDASH":       "DoorDash",
	"DD DOORDASH":    "DoorDash",
	"UBER EATS":      "Uber Eats",
	"UBER *EATS":     "Uber Eats",
	"GRUBHUB":        "Grubhub",
	"INSTACART":      "Instacart",
	"NETFLIX.COM":    "Netflix",
	"NETFLIX":        "Netflix",
	"HULU":           "Hulu",
	"SPOTIFY":        "Spotify",
	"DISNEY PLUS":    "Disney+",
	"DISNEYPLUS":     "Disney+",
}

// NewAliasTable builds an alias table from the built-in set plus any learned
// aliases (bank name -> normalized name). Learned entries win on conflict.
func NewAliasTable(learned map[string]string) *AliasTable {
	aliases := make(map[string]string, len(defaultAliases)+len(learned))
	for k, v := range defaultAliases {
		aliases[strings.ToUpper(k)] = v
	}
	for k, v := range learned {
		if k == "" || v == "" {
			continue
		}
		aliases[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return &AliasTable{aliases: aliases}
}

// Resolve maps a raw bank merchant name to a normalized one. Alias prefixes
// are tried first (longest match wins); otherwise falls back to Normalize.
func (t *AliasTable) Resolve(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" {
		return ""
	}

	// Longest alias prefix wins so "DISNEY PLUS" beats a bare "DISNEY".
	best := ""
	for pattern := range t.aliases {
		if strings.HasPrefix(upper, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best != "" {
		return strings.ToLower(t.aliases[best])
	}
	return Normalize(name)
}
