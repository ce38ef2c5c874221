package autoreply

import (
	"context"
	"strings"
	"sync"
	"time"

	"atendigram/metrics"
	"atendigram/models"

	"github.com/patrickmn/go-cache"
)

// RuleSource loads every rule visible to a session, enabled or not.
type RuleSource interface {
	ScopedRules(ctx context.Context, accountID string, sessionID *string) ([]models.AutoReplyRule, error)
}

// CachedRepository serves rule sets from memory and delegates everything else.
type CachedRepository struct {
	Repository
	source RuleSource
	cache  *cache.Cache
	mu     sync.Mutex
}

func NewCachedRepository(repo Repository, source RuleSource, ttl time.Duration) *CachedRepository {
	return &CachedRepository{
		Repository: repo,
		source:     source,
		cache:      cache.New(ttl, ttl*2),
	}
}

func cacheKey(accountID string, sessionID *string) string {
	if sessionID == nil {
		return accountID + "|*"
	}
	return accountID + "|" + *sessionID
}

func (c *CachedRepository) EnabledRules(ctx context.Context, accountID string, sessionID *string) ([]models.AutoReplyRule, error) {
	key := cacheKey(accountID, sessionID)
	if v, ok := c.cache.Get(key); ok {
		metrics.RuleCacheHits.Inc()
		return enabledOnly(v.([]models.AutoReplyRule)), nil
	}
	metrics.RuleCacheMisses.Inc()

	rules, err := c.source.ScopedRules(ctx, accountID, sessionID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, rules)
	return enabledOnly(rules), nil
}

func enabledOnly(rules []models.AutoReplyRule) []models.AutoReplyRule {
	out := make([]models.AutoReplyRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// Invalidate drops every cached rule set of the account.
func (c *CachedRepository) Invalidate(accountID string) {
	prefix := accountID + "|"
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
}

// SetEnabled rewrites the enabled flag of a rule in every cached set of the
// account without touching storage.
func (c *CachedRepository) SetEnabled(accountID, ruleID string, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := accountID + "|"
	for key, item := range c.cache.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		cached := item.Object.([]models.AutoReplyRule)
		updated := make([]models.AutoReplyRule, len(cached))
		copy(updated, cached)
		for i := range updated {
			if updated[i].ID == ruleID {
				updated[i].Enabled = enabled
			}
		}
		c.cache.SetDefault(key, updated)
	}
}
