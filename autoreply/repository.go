package autoreply

import (
	"context"
	"time"

	"atendigram/models"
)

// Repository is the storage the evaluator needs.
type Repository interface {
	// EnabledRules returns the enabled rules of the account that apply to the
	// session: rules scoped to it plus account-wide ones. A nil session only
	// sees account-wide rules.
	EnabledRules(ctx context.Context, accountID string, sessionID *string) ([]models.AutoReplyRule, error)
	Pool(ctx context.Context, ruleID string) ([]models.AutoReplyMessage, error)
	// LastFired is the latest fire time for (rule, chat), nil when it never fired.
	LastFired(ctx context.Context, ruleID string, chatID int64) (*time.Time, error)
	// ClaimAndLog applies the claim and inserts entry in one transaction. It
	// returns false, with nothing written, when another firing holds the claim.
	ClaimAndLog(ctx context.Context, claim Claim, entry *models.AutoReplyLogEntry) (bool, error)
	MarkSent(ctx context.Context, logID string, sentMessageID int) error
}
