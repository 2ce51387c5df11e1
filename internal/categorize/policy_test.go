package categorize

import "testing"

func TestDecideTiers(t *testing.T) {
	thresholds := DefaultThresholds()

	tests := []struct {
		confidence float64
		want       Disposition
	}{
		{1.0, AutoAccept},
		{0.86, AutoAccept},
		{0.85, AutoAccept},
		{0.8499, FlagReview},
		{0.61, FlagReview},
		{0.60, FlagReview},
		{0.5999, AskQuestion},
		{0.41, AskQuestion},
		{0.40, AskQuestion},
		{0.3999, OpenEnded},
		{0.1, OpenEnded},
		{0.0, OpenEnded},
	}

	for _, tt := range tests {
		if got := thresholds.Decide(tt.confidence); got != tt.want {
			t.Errorf("Decide(%v) = %v, want %v", tt.confidence, got, tt.want)
		}
	}
}

func TestDecideMonotonic(t *testing.T) {
	thresholds := DefaultThresholds()

	rank := map[Disposition]int{
		OpenEnded:   0,
		AskQuestion: 1,
		FlagReview:  2,
		AutoAccept:  3,
	}

	prev := -1
	for c := 0.0; c <= 1.0; c += 0.01 {
		got := rank[thresholds.Decide(c)]
		if got < prev {
			t.Fatalf("Decide is not monotonic at confidence %v", c)
		}
		prev = got
	}
}
