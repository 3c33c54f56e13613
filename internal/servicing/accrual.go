package servicing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Accrual is the result of the interest-accrual step for one loan.
type Accrual struct {
	LoanID           string
	FromDate         time.Time
	ToDate           time.Time
	DayCount         int
	DayCountConvention string
	DailyRate        decimal.Decimal
	AccruedAmount    decimal.Decimal // dollars, rounded to cents
}

const daysInYear = 365

// AccrueInterest computes simple daily interest since the loan's last
// accrual (or origination, if never accrued) through valuationDate,
// inclusive, per spec §4.8: dailyRate = annualRate/365, accrued =
// principal * dailyRate * dayCount. Pure function; no I/O.
func AccrueInterest(loan LoanInput, valuationDate time.Time) Accrual {
	from := loan.OriginationDate
	if loan.LastAccrualDate != nil {
		from = loan.LastAccrualDate.AddDate(0, 0, 1)
	}
	dayCount := int(valuationDate.Sub(from).Hours()/24) + 1
	if dayCount < 0 {
		dayCount = 0
	}

	dailyRate := loan.AnnualRatePercent.Div(decimal.NewFromInt(100)).Div(decimal.NewFromInt(daysInYear))
	principal := decimal.NewFromInt(loan.PrincipalBalance).Div(decimal.NewFromInt(100))
	accrued := principal.Mul(dailyRate).Mul(decimal.NewFromInt(int64(dayCount))).Round(2)

	return Accrual{
		LoanID:             loan.LoanID,
		FromDate:           from,
		ToDate:             valuationDate,
		DayCount:           dayCount,
		DayCountConvention: "ACT/365",
		DailyRate:          dailyRate,
		AccruedAmount:      accrued,
	}
}

// EventKey returns this accrual's idempotent servicing_events key.
func (a Accrual) EventKey() string {
	return "interest_accrual_" + a.LoanID + "_" + a.ToDate.Format("2006-01-02")
}
