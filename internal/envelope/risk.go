package envelope

// Validation flags that feed into risk scoring beyond the structural
// checks of Validate. Callers (the matching/enrichment step) set these
// on Envelope.Payment.Details["validation_flags"] as a []string before
// calling ScoreRisk.
const (
	FlagDuplicateSuspected = "duplicate_suspected"
	FlagAmountMismatch     = "amount_mismatch"
)

const maxRiskScore = 100

// ScoreRisk computes the additive, capped 0-100 risk score of spec
// §4.2. It never mutates e; callers attach the result via e.Risk.
func ScoreRisk(e *Envelope) Risk {
	score := 0
	var flags []string

	switch {
	case e.Payment.AmountCents > 10_000_00:
		score += 20
		flags = append(flags, "amount_over_10k")
		if e.Payment.AmountCents > 100_000_00 {
			score += 30
			flags = append(flags, "amount_over_100k")
		}
	}

	switch e.Source.Channel {
	case "manual":
		score += 15
		flags = append(flags, "manual_channel")
	case ChannelCheck:
		score += 10
		flags = append(flags, "check_channel")
	}

	if e.Borrower.LoanID == nil {
		score += 20
		flags = append(flags, "missing_loan_id")
	}
	if e.Source.Channel == ChannelACH {
		if e.Payment.RoutingNumber == nil {
			score += 10
			flags = append(flags, "missing_routing")
		}
		if e.Payment.AccountMask == nil {
			score += 10
			flags = append(flags, "missing_account")
		}
		if e.Payment.ReturnCode != nil {
			score += 40
			flags = append(flags, "ach_return_code")
		}
	}

	for _, f := range validationFlags(e) {
		switch f {
		case FlagDuplicateSuspected:
			score += 30
			flags = append(flags, f)
		case FlagAmountMismatch:
			score += 25
			flags = append(flags, f)
		}
	}

	if score > maxRiskScore {
		score = maxRiskScore
	}

	return Risk{Flags: flags, Score: score}
}

func validationFlags(e *Envelope) []string {
	if e.Payment.Details == nil {
		return nil
	}
	raw, ok := e.Payment.Details["validation_flags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
