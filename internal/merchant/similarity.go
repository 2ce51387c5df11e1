package merchant

import (
	"strings"
)

// Similarity scores how alike two normalized merchant names are, in [0,1].
// Exact match = 1.0, containment = 0.8, otherwise the max of token-set
// overlap (Jaccard) and common-substring ratio. Bank descriptors are short
// and garbled, so containment and token overlap carry most of the signal.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}

	jac := tokenJaccard(a, b)
	sub := commonSubstringRatio(a, b)
	if jac > sub {
		return jac
	}
	return sub
}

// tokenJaccard is |intersection| / |union| over whitespace-split tokens.
func tokenJaccard(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// commonSubstringRatio is the length of the longest common substring divided
// by the longer input length.
func commonSubstringRatio(a, b string) float64 {
	longest := longestCommonSubstring(a, b)
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	if denom == 0 {
		return 0
	}
	return float64(longest) / float64(denom)
}

func longestCommonSubstring(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	best := 0

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return best
}
