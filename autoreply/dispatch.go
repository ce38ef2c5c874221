package autoreply

import (
	"context"
	"errors"
	"fmt"

	"atendigram/metrics"
	"atendigram/models"

	"github.com/sirupsen/logrus"
)

// ErrNoSender is returned by a SenderResolver when the session cannot send.
var ErrNoSender = errors.New("no connected sender for session")

// Sender delivers one message to a chat and returns the Telegram message id.
type Sender interface {
	Send(ctx context.Context, chatID int64, msg models.OutgoingMessage) (int, error)
}

type SenderResolver interface {
	SenderFor(ctx context.Context, accountID string, sessionID *string) (Sender, error)
}

// Dispatcher runs the evaluator for an inbound message and sends the chosen
// reply. Sending is attempted once; the log row stays even when it fails.
type Dispatcher struct {
	Evaluator *Evaluator
	Repo      Repository
	Senders   SenderResolver
	Logger    logrus.FieldLogger
}

// Handle evaluates in and, when a rule fires, sends its message.
func (d *Dispatcher) Handle(ctx context.Context, in Inbound) (*RuleMatch, error) {
	match, err := d.Evaluator.Evaluate(ctx, in)
	if err != nil || match == nil {
		return match, err
	}
	if err := d.Send(ctx, match); err != nil {
		return match, err
	}
	return match, nil
}

// Send delivers an already claimed match and records the sent message id.
func (d *Dispatcher) Send(ctx context.Context, match *RuleMatch) error {
	log := d.logger().WithFields(logrus.Fields{
		"rule_id": match.Rule.ID,
		"chat_id": match.Log.ChatID,
		"log_id":  match.Log.ID,
	})

	sender, err := d.Senders.SenderFor(ctx, match.Log.AccountID, match.Log.SessionID)
	if err != nil {
		metrics.Dispatches.WithLabelValues("no_sender").Inc()
		log.WithError(err).Warn("No sender available for auto-reply")
		return fmt.Errorf("failed to resolve sender: %w", err)
	}

	sentID, err := sender.Send(ctx, match.Log.ChatID, match.Message.Outgoing())
	if err != nil {
		metrics.Dispatches.WithLabelValues("failed").Inc()
		log.WithError(err).Error("Failed to send auto-reply")
		return fmt.Errorf("failed to send auto-reply: %w", err)
	}
	metrics.Dispatches.WithLabelValues("sent").Inc()

	if err := d.Repo.MarkSent(ctx, match.Log.ID, sentID); err != nil {
		log.WithError(err).Error("Failed to record sent message id")
		return fmt.Errorf("failed to record sent message: %w", err)
	}
	match.Log.MessageIDSent = &sentID
	return nil
}

func (d *Dispatcher) logger() logrus.FieldLogger {
	if d.Logger == nil {
		return logrus.StandardLogger()
	}
	return d.Logger
}
