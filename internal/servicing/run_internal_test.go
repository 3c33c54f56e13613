package servicing

import (
	"testing"
	"time"
)

func TestInputHashStableAndOrderSensitive(t *testing.T) {
	req1 := StartRequest{ValuationDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), LoanIDs: []string{"17"}}
	req2 := StartRequest{ValuationDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), LoanIDs: []string{"17"}}
	h1, err := inputHash(req1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := inputHash(req2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("expected identical input hash for identical requests")
	}

	req3 := StartRequest{ValuationDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), LoanIDs: []string{"17"}, DryRun: true}
	h3, err := inputHash(req3)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h3 {
		t.Fatal("expected dry_run to change the input hash")
	}
}

func TestReconciliationStatusForThresholds(t *testing.T) {
	cases := []struct {
		beneficiary, investors int64
		want                   string
	}{
		{100000, 100000, ReconBalanced},
		{100000, 100050, ReconPending},
		{100000, 120000, ReconImbalanced},
	}
	for _, c := range cases {
		got := ReconciliationStatusFor(c.beneficiary, c.investors)
		if got != c.want {
			t.Errorf("ReconciliationStatusFor(%d,%d) = %s, want %s", c.beneficiary, c.investors, got, c.want)
		}
	}
}
