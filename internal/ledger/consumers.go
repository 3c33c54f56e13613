package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/loanserve/core/internal/broker/consumer"
	"github.com/loanserve/core/internal/tenant"
)

// TransitionMessage is the body the bank's reversal/return notice is
// translated into before landing on payments.reversal or
// payments.returned (spec §4.1's payment-stage queue family). Produced
// upstream of this repo by whatever channel adapter watches for the
// bank's NOC/return file; out of scope here per spec §6.
type TransitionMessage struct {
	PaymentID string           `json:"payment_id"`
	Reason    TransitionReason `json:"reason"`
}

// ReversalHandler builds the payments.reversal queue's Handler: every
// delivery advances the named payment to reversed.
func ReversalHandler(log *zap.Logger) consumer.Handler[TransitionMessage] {
	return transitionHandler(log, "payments.reversal", StateReversed)
}

// ReturnedHandler builds the payments.returned queue's Handler: every
// delivery advances the named payment to returned.
func ReturnedHandler(log *zap.Logger) consumer.Handler[TransitionMessage] {
	return transitionHandler(log, "payments.returned", StateReturned)
}

func transitionHandler(log *zap.Logger, queue string, to State) consumer.Handler[TransitionMessage] {
	return func(ctx context.Context, tx pgx.Tx, tenantIDStr string, msg TransitionMessage) consumer.Outcome {
		tenantID, err := tenant.ParseID(tenantIDStr)
		if err != nil {
			log.Warn("poison message: bad tenant id", zap.String("queue", queue), zap.Error(err))
			return consumer.Poison
		}
		paymentID, err := uuid.Parse(msg.PaymentID)
		if err != nil {
			log.Warn("poison message: bad payment id", zap.String("queue", queue), zap.Error(err))
			return consumer.Poison
		}

		if _, err := TransitionTx(ctx, tx, tenantID, paymentID, to, msg.Reason); err != nil {
			log.Error("transition failed", zap.String("queue", queue), zap.String("payment_id", msg.PaymentID), zap.Error(err))
			return consumer.RetryableFailure
		}
		return consumer.Success
	}
}
