package ledger

import (
	"testing"

	"github.com/loanserve/core/internal/envelope"
	"github.com/loanserve/core/internal/waterfall"
)

func TestIsPostingReadyRequiresLoanID(t *testing.T) {
	env := envelope.FromWirePayload(envelope.WirePayload{
		MessageID: "m", CorrelationID: "c", AmountCents: 500000,
	})
	if isPostingReady(env, waterfall.Allocation{}) {
		t.Fatal("expected posting not ready without a matched loan")
	}
}

func TestIsPostingReadyRequiresAmountAboveThreshold(t *testing.T) {
	loanID := "17"
	env := envelope.FromWirePayload(envelope.WirePayload{
		MessageID: "m", CorrelationID: "c", AmountCents: PostingReadyThreshold - 1, LoanID: &loanID,
	})
	if isPostingReady(env, waterfall.Allocation{}) {
		t.Fatal("expected posting not ready below threshold")
	}
}

func TestIsPostingReadyRejectsHighRisk(t *testing.T) {
	loanID := "17"
	env := envelope.FromWirePayload(envelope.WirePayload{
		MessageID: "m", CorrelationID: "c", AmountCents: 1_000_00, LoanID: &loanID,
	})
	env.Risk = &envelope.Risk{Score: HighRiskScore}
	if isPostingReady(env, waterfall.Allocation{}) {
		t.Fatal("expected posting not ready at high risk score")
	}
}

func TestIsPostingReadyHappyPath(t *testing.T) {
	loanID := "17"
	env := envelope.FromWirePayload(envelope.WirePayload{
		MessageID: "m", CorrelationID: "c", AmountCents: 1_000_00, LoanID: &loanID,
	})
	env.Risk = &envelope.Risk{Score: 10}
	if !isPostingReady(env, waterfall.Allocation{}) {
		t.Fatal("expected posting ready for clean matched payment")
	}
}
