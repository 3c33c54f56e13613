package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSeverityForThresholds(t *testing.T) {
	cases := []struct {
		variance float64
		want     string
	}{
		{50, SeverityLow},
		{-50, SeverityLow},
		{99.99, SeverityLow},
		{500, SeverityMedium},
		{5000, SeverityHigh},
		{2750, SeverityHigh},
		{10001, SeverityCritical},
		{-50000, SeverityCritical},
	}
	for _, c := range cases {
		got := severityFor(decimal.NewFromFloat(c.variance))
		if got != c.want {
			t.Errorf("severityFor(%v) = %s, want %s", c.variance, got, c.want)
		}
	}
}
