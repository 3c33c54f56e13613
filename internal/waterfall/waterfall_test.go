package waterfall

import "testing"

func TestAllocateCleanACHScenario(t *testing.T) {
	// Spec §8 scenario 1: amount 150000, outstanding interest=500.00,
	// principal=800.00, escrow=200.00, fees=0.
	outstanding := Outstanding{Fees: 0, Interest: 50000, Principal: 80000, Escrow: 20000}
	alloc, err := Allocate(150000, outstanding, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := Allocation{Fees: 0, Interest: 50000, Principal: 80000, Escrow: 20000, Suspense: 0}
	if alloc != want {
		t.Fatalf("got %+v want %+v", alloc, want)
	}
}

func TestAllocateUnmatchedLoanAllToSuspense(t *testing.T) {
	// Spec §8 scenario 3: wire with unknown loan, all buckets zero need.
	alloc, err := Allocate(500000, Outstanding{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := Allocation{Suspense: 500000}
	if alloc != want {
		t.Fatalf("got %+v want %+v", alloc, want)
	}
}

func TestAllocateSumInvariantAlwaysHolds(t *testing.T) {
	cases := []struct {
		amount      int64
		outstanding Outstanding
	}{
		{0, Outstanding{}},
		{100, Outstanding{Fees: 10, Interest: 20, Principal: 30, Escrow: 40}},
		{1000, Outstanding{Fees: 10, Interest: 20, Principal: 30, Escrow: 40}},
		{1, Outstanding{Fees: 100}},
		{999999, Outstanding{Fees: 1, Interest: 1, Principal: 1, Escrow: 1}},
	}
	for _, c := range cases {
		alloc, err := Allocate(c.amount, c.outstanding, nil)
		if err != nil {
			t.Fatalf("amount=%d: %v", c.amount, err)
		}
		if alloc.Sum() != c.amount {
			t.Fatalf("amount=%d: sum %d != amount", c.amount, alloc.Sum())
		}
		if alloc.Fees < 0 || alloc.Interest < 0 || alloc.Principal < 0 || alloc.Escrow < 0 || alloc.Suspense < 0 {
			t.Fatalf("amount=%d: negative bucket in %+v", c.amount, alloc)
		}
	}
}

func TestAllocateOrderIsRespected(t *testing.T) {
	// Custom order: principal before fees.
	order := []Bucket{BucketPrincipal, BucketFees, BucketInterest, BucketEscrow}
	outstanding := Outstanding{Fees: 100, Principal: 50}
	alloc, err := Allocate(60, outstanding, order)
	if err != nil {
		t.Fatal(err)
	}
	if alloc.Principal != 50 || alloc.Fees != 10 {
		t.Fatalf("expected principal consumed first, got %+v", alloc)
	}
}

func TestAllocateProportionalSumsToInput(t *testing.T) {
	needs := map[Bucket]int64{BucketFees: 30, BucketInterest: 70}
	result := AllocateProportional(100, needs)
	var sum int64
	for _, v := range result {
		sum += v
	}
	if sum != 100 {
		t.Fatalf("expected proportional split to sum to 100, got %d (%v)", sum, result)
	}
}

func TestAllocateProportionalCapsAtTotalNeed(t *testing.T) {
	needs := map[Bucket]int64{BucketFees: 10, BucketInterest: 10}
	result := AllocateProportional(1000, needs)
	var sum int64
	for _, v := range result {
		sum += v
	}
	if sum != 20 {
		t.Fatalf("expected split capped at total need 20, got %d", sum)
	}
}

func TestAllocateNegativeAmountErrors(t *testing.T) {
	if _, err := Allocate(-1, Outstanding{}, nil); err == nil {
		t.Fatal("expected error for negative amount")
	}
}
