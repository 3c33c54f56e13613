package servicing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loanserve/core/internal/servicing"
)

// TestAccrueInterestScenario5 reproduces spec §8 scenario 5 exactly:
// last_accrual=2025-02-15, balance=100000.00, rate=6% APR, valuation
// 2025-03-01 ⇒ 14 days, accrued_amount = 230.14.
func TestAccrueInterestScenario5(t *testing.T) {
	lastAccrual := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	loan := servicing.LoanInput{
		LoanID:            "17",
		OriginationDate:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		LastAccrualDate:   &lastAccrual,
		PrincipalBalance:  10_000_000, // $100,000.00 in cents
		AnnualRatePercent: decimal.NewFromInt(6),
	}
	valuationDate := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	accrual := servicing.AccrueInterest(loan, valuationDate)

	if accrual.DayCount != 14 {
		t.Fatalf("expected day count 14, got %d", accrual.DayCount)
	}
	want := decimal.NewFromFloat(230.14)
	if !accrual.AccruedAmount.Equal(want) {
		t.Fatalf("expected accrued amount %s, got %s", want, accrual.AccruedAmount)
	}
	if accrual.EventKey() != "interest_accrual_17_2025-03-01" {
		t.Fatalf("unexpected event key: %s", accrual.EventKey())
	}
}

func TestAccrueInterestFromOriginationWhenNeverAccrued(t *testing.T) {
	loan := servicing.LoanInput{
		LoanID:            "42",
		OriginationDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		PrincipalBalance:  1_000_000,
		AnnualRatePercent: decimal.NewFromInt(12),
	}
	valuationDate := time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)

	accrual := servicing.AccrueInterest(loan, valuationDate)
	if accrual.DayCount != 11 {
		t.Fatalf("expected day count 11 (inclusive of origination day), got %d", accrual.DayCount)
	}
}
