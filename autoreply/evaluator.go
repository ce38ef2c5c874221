package autoreply

import (
	"context"
	"fmt"
	"sort"
	"time"

	"atendigram/metrics"
	"atendigram/models"

	"github.com/sirupsen/logrus"
)

// Options tune the evaluator.
type Options struct {
	// CooldownFallthrough continues with lower-priority matching rules when a
	// higher one cannot fire for this chat. When false the message is dropped.
	CooldownFallthrough bool
	Picker              Picker
	Now                 func() time.Time
	Logger              logrus.FieldLogger
}

// Inbound is a message that arrived on a session.
type Inbound struct {
	AccountID string
	SessionID *string
	ChatID    int64
	MessageID *int
	Text      string
}

// RuleMatch is a firing: the rule, the chosen pool message and the log row
// already persisted for it.
type RuleMatch struct {
	Rule    models.AutoReplyRule
	Message models.AutoReplyMessage
	Log     models.AutoReplyLogEntry
}

type Evaluator struct {
	repo Repository
	opts Options
}

func NewEvaluator(repo Repository, opts Options) *Evaluator {
	if opts.Picker == nil {
		opts.Picker = RandomPicker
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Evaluator{repo: repo, opts: opts}
}

// SortRules orders rules by priority descending, then creation time and id
// ascending.
func SortRules(rules []models.AutoReplyRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Evaluate returns the rule that fires for in, or nil when none does. A
// returned match is already claimed and logged.
func (e *Evaluator) Evaluate(ctx context.Context, in Inbound) (*RuleMatch, error) {
	start := time.Now()
	defer func() { metrics.EvaluationDuration.Observe(time.Since(start).Seconds()) }()

	rules, err := e.repo.EnabledRules(ctx, in.AccountID, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	SortRules(rules)

	log := e.opts.Logger.WithFields(logrus.Fields{
		"account_id": in.AccountID,
		"chat_id":    in.ChatID,
	})

	outcome := metrics.OutcomeNoMatch
	for _, rule := range rules {
		if !rule.Enabled || !Matches(rule.Keywords, rule.MatchMode, in.Text) {
			continue
		}
		now := e.opts.Now().UTC()

		last, err := e.repo.LastFired(ctx, rule.ID, in.ChatID)
		if err != nil {
			return nil, fmt.Errorf("failed to read cooldown for rule %s: %w", rule.ID, err)
		}
		if !Eligible(rule.CooldownHours, last, now) {
			log.WithField("rule_id", rule.ID).Debug("Rule in cooldown")
			outcome = metrics.OutcomeCooldown
			if e.opts.CooldownFallthrough {
				continue
			}
			break
		}

		pool, err := e.repo.Pool(ctx, rule.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load messages for rule %s: %w", rule.ID, err)
		}
		msg, ok := Pick(rule.ID, pool, e.opts.Picker)
		if !ok {
			log.WithFields(logrus.Fields{
				"rule_id":   rule.ID,
				"rule_name": rule.Name,
			}).Warn("Rule matched but has no messages")
			metrics.EmptyPools.Inc()
			outcome = metrics.OutcomeEmptyPool
			if e.opts.CooldownFallthrough {
				continue
			}
			break
		}

		entry := newLogEntry(rule, msg, in, now)
		won, err := e.repo.ClaimAndLog(ctx, NewClaim(rule, in.ChatID, now), &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to record firing of rule %s: %w", rule.ID, err)
		}
		if !won {
			// another evaluation fired this rule for the chat first
			log.WithField("rule_id", rule.ID).Debug("Lost cooldown claim")
			outcome = metrics.OutcomeCooldown
			if e.opts.CooldownFallthrough {
				continue
			}
			break
		}

		metrics.Evaluations.WithLabelValues(metrics.OutcomeFired).Inc()
		log.WithFields(logrus.Fields{
			"rule_id":    rule.ID,
			"message_id": msg.ID,
		}).Info("Auto-reply rule fired")
		return &RuleMatch{Rule: rule, Message: msg, Log: entry}, nil
	}

	metrics.Evaluations.WithLabelValues(outcome).Inc()
	return nil, nil
}

func newLogEntry(rule models.AutoReplyRule, msg models.AutoReplyMessage, in Inbound, now time.Time) models.AutoReplyLogEntry {
	text := in.Text
	msgID := msg.ID
	return models.AutoReplyLogEntry{
		RuleID:            rule.ID,
		AccountID:         in.AccountID,
		SessionID:         in.SessionID,
		ChatID:            in.ChatID,
		MessageIDTrigger:  in.MessageID,
		TriggerText:       &text,
		ResponseMessageID: &msgID,
		RespondedAt:       now,
	}
}
