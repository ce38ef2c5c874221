package autoreply

import (
	"time"

	"atendigram/models"
)

// Eligible reports whether a rule with the given cooldown may fire again for a
// chat last served at last. A nil last means the rule never fired there.
func Eligible(cooldownHours *float64, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	if cooldownHours == nil {
		return false
	}
	if *cooldownHours <= 0 {
		return true
	}
	return !now.Before(last.Add(hoursToDuration(*cooldownHours)))
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

type ClaimMode int

const (
	// ClaimOnce succeeds only for the first fire of a (rule, chat).
	ClaimOnce ClaimMode = iota
	// ClaimAlways succeeds every time.
	ClaimAlways
	// ClaimAfter succeeds when the previous fire is at or before Threshold.
	ClaimAfter
)

// Claim is the conditional write that reserves a firing. The repository must
// apply it atomically with the log insert.
type Claim struct {
	RuleID    string
	ChatID    int64
	Mode      ClaimMode
	FiredAt   time.Time
	Threshold time.Time
}

func NewClaim(rule models.AutoReplyRule, chatID int64, now time.Time) Claim {
	c := Claim{RuleID: rule.ID, ChatID: chatID, FiredAt: now}
	switch {
	case rule.CooldownHours == nil:
		c.Mode = ClaimOnce
	case *rule.CooldownHours <= 0:
		c.Mode = ClaimAlways
	default:
		c.Mode = ClaimAfter
		c.Threshold = now.Add(-hoursToDuration(*rule.CooldownHours))
	}
	return c
}
