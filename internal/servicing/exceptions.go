package servicing

import "time"

// Exception type names (spec §4.8 "exceptions" step).
const (
	ExceptionEscrowShortfall = "escrow_shortfall"
	ExceptionDelinquency     = "delinquency"
	ExceptionDataIntegrity   = "data_integrity"
	ExceptionMaturity        = "maturity"
)

// CandidateException is a flagged condition before it is persisted; the
// run assigns id/run_id/due_date and writes the row.
type CandidateException struct {
	Type            string
	Severity        string
	Message         string
	SuggestedAction string
}

// CheckEscrowBalance flags a negative escrow balance.
func CheckEscrowBalance(loan LoanInput) *CandidateException {
	if loan.EscrowBalance >= 0 {
		return nil
	}
	return &CandidateException{
		Type:            ExceptionEscrowShortfall,
		Severity:        SeverityMedium,
		Message:         "escrow balance is negative",
		SuggestedAction: "review escrow analysis and consider shortage collection",
	}
}

// CheckDelinquency buckets days-late into the 30/60/90-day severities
// named by spec §4.8.
func CheckDelinquency(loan LoanInput) *CandidateException {
	switch {
	case loan.DaysLate > 90:
		return &CandidateException{
			Type: ExceptionDelinquency, Severity: SeverityCritical,
			Message: "payment more than 90 days late", SuggestedAction: "escalate to loss mitigation",
		}
	case loan.DaysLate > 60:
		return &CandidateException{
			Type: ExceptionDelinquency, Severity: SeverityHigh,
			Message: "payment more than 60 days late", SuggestedAction: "initiate collections outreach",
		}
	case loan.DaysLate > 30:
		return &CandidateException{
			Type: ExceptionDelinquency, Severity: SeverityMedium,
			Message: "payment more than 30 days late", SuggestedAction: "send delinquency notice",
		}
	default:
		return nil
	}
}

// CheckDataIntegrity flags loans missing a rate or payment on file.
func CheckDataIntegrity(loan LoanInput) *CandidateException {
	if loan.HasRateOnFile && loan.HasPaymentOnFile {
		return nil
	}
	return &CandidateException{
		Type: ExceptionDataIntegrity, Severity: SeverityHigh,
		Message: "loan is missing required rate or payment data", SuggestedAction: "correct loan setup before next cycle",
	}
}

// CheckMaturity flags loans maturing within 30 or 90 days.
func CheckMaturity(loan LoanInput, valuationDate time.Time) *CandidateException {
	daysToMaturity := int(loan.MaturityDate.Sub(valuationDate).Hours() / 24)
	switch {
	case daysToMaturity < 0:
		return nil
	case daysToMaturity < 30:
		return &CandidateException{
			Type: ExceptionMaturity, Severity: SeverityHigh,
			Message: "loan matures within 30 days", SuggestedAction: "prepare maturity payoff package",
		}
	case daysToMaturity < 90:
		return &CandidateException{
			Type: ExceptionMaturity, Severity: SeverityLow,
			Message: "loan matures within 90 days", SuggestedAction: "send maturity notice",
		}
	default:
		return nil
	}
}

// RunExceptionChecks runs every per-loan exception check in spec §4.8's
// exceptions step and returns every triggered candidate.
func RunExceptionChecks(loan LoanInput, valuationDate time.Time) []CandidateException {
	var out []CandidateException
	checks := []*CandidateException{
		CheckEscrowBalance(loan),
		CheckDelinquency(loan),
		CheckDataIntegrity(loan),
		CheckMaturity(loan, valuationDate),
	}
	for _, c := range checks {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}
