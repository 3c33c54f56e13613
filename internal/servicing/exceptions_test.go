package servicing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loanserve/core/internal/servicing"
)

func TestLateFeeCheckRequiresGraceExceededAndPositiveBalance(t *testing.T) {
	cases := []struct {
		name      string
		daysLate  int
		grace     int
		balance   int64
		triggered bool
	}{
		{"within grace", 5, 10, 1000, false},
		{"exceeds grace, positive balance", 15, 10, 1000, true},
		{"exceeds grace, zero balance", 15, 10, 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			loan := servicing.LoanInput{LoanID: "1", DaysLate: c.daysLate, GracePeriodDays: c.grace, CurrentBalance: c.balance}
			triggered, _ := servicing.LateFeeCheck(loan)
			if triggered != c.triggered {
				t.Fatalf("expected triggered=%v, got %v", c.triggered, triggered)
			}
		})
	}
}

func TestDueEscrowDisbursementsFiltersByDate(t *testing.T) {
	valuationDate := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	disbursements := []servicing.EscrowDisbursement{
		{ID: "a", DueDate: valuationDate.AddDate(0, 0, -1)},
		{ID: "b", DueDate: valuationDate},
		{ID: "c", DueDate: valuationDate.AddDate(0, 0, 1)},
	}
	due := servicing.DueEscrowDisbursements(disbursements, valuationDate)
	if len(due) != 2 {
		t.Fatalf("expected 2 due disbursements, got %d", len(due))
	}
}

func TestApportionInvestorDistributionSumsToTotal(t *testing.T) {
	owners := []servicing.InvestorOwnership{
		{InvestorID: "a", OwnershipPercent: decimal.NewFromFloat(33.333333)},
		{InvestorID: "b", OwnershipPercent: decimal.NewFromFloat(33.333333)},
		{InvestorID: "c", OwnershipPercent: decimal.NewFromFloat(33.333334)},
	}
	result := servicing.ApportionInvestorDistribution(1000, owners)
	var sum int64
	for _, v := range result {
		sum += v
	}
	if sum != 1000 {
		t.Fatalf("expected shares to sum to 1000, got %d", sum)
	}
}

func TestCheckDelinquencySeverityBuckets(t *testing.T) {
	cases := []struct {
		daysLate int
		want     string
	}{
		{10, ""},
		{35, servicing.SeverityMedium},
		{65, servicing.SeverityHigh},
		{95, servicing.SeverityCritical},
	}
	for _, c := range cases {
		exc := servicing.CheckDelinquency(servicing.LoanInput{DaysLate: c.daysLate})
		if c.want == "" {
			if exc != nil {
				t.Fatalf("expected no exception for daysLate=%d, got %+v", c.daysLate, exc)
			}
			continue
		}
		if exc == nil || exc.Severity != c.want {
			t.Fatalf("daysLate=%d: expected severity %s, got %+v", c.daysLate, c.want, exc)
		}
	}
}

func TestDueDateForHeuristic(t *testing.T) {
	valuationDate := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := servicing.DueDateFor(valuationDate, servicing.SeverityCritical); !got.Equal(valuationDate.AddDate(0, 0, 1)) {
		t.Fatalf("critical due date = %v", got)
	}
	if got := servicing.DueDateFor(valuationDate, servicing.SeverityHigh); !got.Equal(valuationDate.AddDate(0, 0, 3)) {
		t.Fatalf("high due date = %v", got)
	}
	if got := servicing.DueDateFor(valuationDate, servicing.SeverityLow); !got.Equal(valuationDate.AddDate(0, 0, 7)) {
		t.Fatalf("low due date = %v", got)
	}
}
