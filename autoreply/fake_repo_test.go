package autoreply

import (
	"context"
	"fmt"
	"sync"
	"time"

	"atendigram/models"
)

type cooldownKey struct {
	ruleID string
	chatID int64
}

// fakeRepo keeps rules, pools and the claim ledger in memory with the same
// claim semantics as the database repository.
type fakeRepo struct {
	mu        sync.Mutex
	rules     []models.AutoReplyRule
	messages  []models.AutoReplyMessage
	fired     map[cooldownKey]time.Time
	logs      []models.AutoReplyLogEntry
	sent      map[string]int
	loseClaim bool
	scopedErr error
	calls     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{fired: map[cooldownKey]time.Time{}, sent: map[string]int{}}
}

func (f *fakeRepo) ScopedRules(ctx context.Context, accountID string, sessionID *string) ([]models.AutoReplyRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.scopedErr != nil {
		return nil, f.scopedErr
	}
	var out []models.AutoReplyRule
	for _, r := range f.rules {
		if r.AccountID != accountID {
			continue
		}
		if r.SessionID != nil && (sessionID == nil || *r.SessionID != *sessionID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRepo) EnabledRules(ctx context.Context, accountID string, sessionID *string) ([]models.AutoReplyRule, error) {
	rules, err := f.ScopedRules(ctx, accountID, sessionID)
	return enabledOnly(rules), err
}

func (f *fakeRepo) Pool(ctx context.Context, ruleID string) ([]models.AutoReplyMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AutoReplyMessage
	for _, m := range f.messages {
		if m.RuleID == ruleID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) LastFired(ctx context.Context, ruleID string, chatID int64) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.fired[cooldownKey{ruleID, chatID}]; ok {
		return &t, nil
	}
	return nil, nil
}

func (f *fakeRepo) ClaimAndLog(ctx context.Context, claim Claim, entry *models.AutoReplyLogEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loseClaim {
		return false, nil
	}
	key := cooldownKey{claim.RuleID, claim.ChatID}
	if last, ok := f.fired[key]; ok {
		switch claim.Mode {
		case ClaimOnce:
			return false, nil
		case ClaimAfter:
			if last.After(claim.Threshold) {
				return false, nil
			}
		}
	}
	f.fired[key] = claim.FiredAt
	entry.ID = fmt.Sprintf("log-%d", len(f.logs)+1)
	f.logs = append(f.logs, *entry)
	return true, nil
}

func (f *fakeRepo) MarkSent(ctx context.Context, logID string, sentMessageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[logID] = sentMessageID
	return nil
}

func (f *fakeRepo) addRule(r models.AutoReplyRule, texts ...string) models.AutoReplyRule {
	if r.AccountID == "" {
		r.AccountID = "acc"
	}
	if r.MatchMode == "" {
		r.MatchMode = models.MatchAny
	}
	r.Enabled = true
	f.rules = append(f.rules, r)
	for i, text := range texts {
		text := text
		f.messages = append(f.messages, models.AutoReplyMessage{
			Base:        models.Base{ID: fmt.Sprintf("%s-m%d", r.ID, i)},
			RuleID:      r.ID,
			AccountID:   r.AccountID,
			Kind:        models.KindText,
			TextContent: &text,
		})
	}
	return r
}
