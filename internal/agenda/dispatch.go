package agenda

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/mail"
	"opsdesk/internal/metrics"
)

// ErrDispatchAborted marks a dispatch stopped at its first failed recipient.
var ErrDispatchAborted = errors.New("dispatch aborted")

// Sender submits one email.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) (mail.Receipt, error)
}

// Dispatcher sends an agenda document to each recipient in order.
//
// Mode config.FailureAbort stops at the first failed submission; the
// returned outcomes end with that failure and later recipients are never
// contacted. Mode config.FailureIsolate attempts every recipient and joins
// the failures. Nothing is retried and no idempotency key is sent, so a
// repeated dispatch sends the email again.
type Dispatcher struct {
	Sender  Sender
	From    string
	ReplyTo string
	Mode    string
	Logger  *zap.Logger
}

// Dispatch sends doc to recipients and returns one outcome per attempted
// recipient. An empty list sends nothing and returns no outcomes.
func (d Dispatcher) Dispatch(ctx context.Context, doc domain.AgendaDocument, recipients []string) ([]domain.DispatchOutcome, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	outcomes := make([]domain.DispatchOutcome, 0, len(recipients))
	var errs []error
	for i, to := range recipients {
		receipt, err := d.Sender.Send(ctx, mail.Message{
			From:    d.From,
			To:      to,
			Subject: doc.Subject,
			HTML:    doc.Body,
			ReplyTo: d.ReplyTo,
		})
		if err != nil {
			metrics.IncrementEmailSent("failed")
			outcomes = append(outcomes, domain.DispatchOutcome{Recipient: to, Error: err.Error()})
			if d.Mode != config.FailureIsolate {
				return outcomes, fmt.Errorf("%w at recipient %d of %d (%s): %w", ErrDispatchAborted, i+1, len(recipients), to, err)
			}
			logger.Warn("agenda email failed", zap.String("recipient", to), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
			continue
		}
		metrics.IncrementEmailSent("sent")
		logger.Debug("agenda email sent", zap.String("recipient", to), zap.String("message_id", receipt.ID))
		outcomes = append(outcomes, domain.DispatchOutcome{Recipient: to, MessageID: receipt.ID})
	}
	return outcomes, errors.Join(errs...)
}
