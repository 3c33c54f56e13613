package servicing

import "time"

// LateFeeCheck evaluates the late-fee trigger of spec §4.8: days_late >
// grace_period_days AND current_balance > 0.
func LateFeeCheck(loan LoanInput) (triggered bool, eventKey string) {
	if loan.DaysLate > loan.GracePeriodDays && loan.CurrentBalance > 0 {
		return true, "late_fee_" + loan.LoanID
	}
	return false, ""
}

// DueEscrowDisbursements filters disbursements due on or before the
// valuation date.
func DueEscrowDisbursements(disbursements []EscrowDisbursement, valuationDate time.Time) []EscrowDisbursement {
	var due []EscrowDisbursement
	for _, d := range disbursements {
		if !d.DueDate.After(valuationDate) {
			due = append(due, d)
		}
	}
	return due
}

// ApportionInvestorDistribution pro-rates a matched payment's
// principal+interest across a loan's investor ownership records,
// rounding down and assigning any residual cent to the investor with
// the largest fractional remainder, matching the waterfall's
// largest-remainder tie-break rule (spec §4.3, reused here per §4.8).
func ApportionInvestorDistribution(totalCents int64, owners []InvestorOwnership) map[string]int64 {
	if totalCents <= 0 || len(owners) == 0 {
		return map[string]int64{}
	}

	type share struct {
		investorID string
		exact      float64
		floor      int64
		remainder  float64
	}

	shares := make([]share, len(owners))
	var allocated int64
	for i, o := range owners {
		pct, _ := o.OwnershipPercent.Float64()
		exact := float64(totalCents) * pct / 100
		floor := int64(exact)
		shares[i] = share{investorID: o.InvestorID, exact: exact, floor: floor, remainder: exact - float64(floor)}
		allocated += floor
	}

	residual := totalCents - allocated
	// Assign the residual cents one at a time to the largest remaining
	// fractional remainder, per spec §4.3's non-bankers'-rounding rule.
	for residual > 0 {
		bestIdx := -1
		for i, s := range shares {
			if bestIdx == -1 || s.remainder > shares[bestIdx].remainder {
				bestIdx = i
			}
		}
		shares[bestIdx].floor++
		shares[bestIdx].remainder = -1 // consumed; don't pick again until others exhausted
		residual--
	}

	result := make(map[string]int64, len(shares))
	for _, s := range shares {
		result[s.investorID] = s.floor
	}
	return result
}
