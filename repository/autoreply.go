package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"atendigram/autoreply"
	"atendigram/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errClaimLost = errors.New("cooldown claim lost")

// AutoReplyRepository stores rules, pools, the log and the cooldown ledger.
type AutoReplyRepository struct {
	DB *gorm.DB
}

func NewAutoReplyRepository(db *gorm.DB) *AutoReplyRepository {
	return &AutoReplyRepository{DB: db}
}

func scoped(db *gorm.DB, accountID string, sessionID *string) *gorm.DB {
	db = db.Where("account_id = ?", accountID)
	if sessionID == nil {
		return db.Where("session_id IS NULL")
	}
	return db.Where("session_id IS NULL OR session_id = ?", *sessionID)
}

func (r *AutoReplyRepository) ScopedRules(ctx context.Context, accountID string, sessionID *string) ([]models.AutoReplyRule, error) {
	var rules []models.AutoReplyRule
	err := scoped(r.DB.WithContext(ctx), accountID, sessionID).
		Order("priority DESC").Order("created_at ASC").Order("id ASC").
		Find(&rules).Error
	return rules, err
}

func (r *AutoReplyRepository) EnabledRules(ctx context.Context, accountID string, sessionID *string) ([]models.AutoReplyRule, error) {
	var rules []models.AutoReplyRule
	err := scoped(r.DB.WithContext(ctx).Where("enabled = ?", true), accountID, sessionID).
		Order("priority DESC").Order("created_at ASC").Order("id ASC").
		Find(&rules).Error
	return rules, err
}

func (r *AutoReplyRepository) Pool(ctx context.Context, ruleID string) ([]models.AutoReplyMessage, error) {
	var messages []models.AutoReplyMessage
	err := r.DB.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

// LastFired reads the ledger first and falls back to the newest log row.
func (r *AutoReplyRepository) LastFired(ctx context.Context, ruleID string, chatID int64) (*time.Time, error) {
	var cd models.AutoReplyCooldown
	err := r.DB.WithContext(ctx).
		Where("rule_id = ? AND chat_id = ?", ruleID, chatID).
		Take(&cd).Error
	if err == nil {
		t := time.UnixMilli(cd.LastFiredUnixMs).UTC()
		return &t, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var entry models.AutoReplyLogEntry
	err = r.DB.WithContext(ctx).
		Where("rule_id = ? AND chat_id = ?", ruleID, chatID).
		Order("responded_at DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := entry.RespondedAt.UTC()
	return &t, nil
}

// ClaimAndLog writes the cooldown row conditionally and inserts the log entry in
// the same transaction. The first fire of a pair wins the INSERT; later fires
// must win a conditional UPDATE, so two concurrent callers cannot both pass.
func (r *AutoReplyRepository) ClaimAndLog(ctx context.Context, claim autoreply.Claim, entry *models.AutoReplyLogEntry) (bool, error) {
	firedMs := claim.FiredAt.UnixMilli()

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.AutoReplyCooldown{
			RuleID:          claim.RuleID,
			ChatID:          claim.ChatID,
			LastFiredUnixMs: firedMs,
		})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			update := tx.Model(&models.AutoReplyCooldown{}).
				Where("rule_id = ? AND chat_id = ?", claim.RuleID, claim.ChatID)
			switch claim.Mode {
			case autoreply.ClaimOnce:
				return errClaimLost
			case autoreply.ClaimAfter:
				update = update.Where("last_fired_unix_ms <= ?", claim.Threshold.UnixMilli())
			}
			res = update.Update("last_fired_unix_ms", firedMs)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errClaimLost
			}
		}

		return tx.Create(entry).Error
	})
	if errors.Is(err, errClaimLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *AutoReplyRepository) MarkSent(ctx context.Context, logID string, sentMessageID int) error {
	res := r.DB.WithContext(ctx).Model(&models.AutoReplyLogEntry{}).
		Where("id = ?", logID).
		Update("message_id_sent", sentMessageID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RuleWithCounts is a rule row enriched for the rule list screen.
type RuleWithCounts struct {
	models.AutoReplyRule
	MessageCount int64   `json:"message_count"`
	TriggerCount int64   `json:"trigger_count"`
	SessionPhone *string `json:"session_phone"`
}

type countRow struct {
	RuleID string
	N      int64
}

func (r *AutoReplyRepository) CreateRule(ctx context.Context, rule *models.AutoReplyRule) error {
	return r.DB.WithContext(ctx).Omit("Messages").Create(rule).Error
}

// CreateRuleWithMessages stores a rule and its pool messages in one
// transaction. The messages get the new rule's id.
func (r *AutoReplyRepository) CreateRuleWithMessages(ctx context.Context, rule *models.AutoReplyRule, msgs []models.AutoReplyMessage) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Messages").Create(rule).Error; err != nil {
			return err
		}
		for i := range msgs {
			msgs[i].RuleID = rule.ID
			if err := tx.Create(&msgs[i]).Error; err != nil {
				return err
			}
		}
		if len(msgs) > 0 {
			rule.Messages = msgs
		}
		return nil
	})
}

func (r *AutoReplyRepository) GetRule(ctx context.Context, accountID, id string) (*models.AutoReplyRule, error) {
	var rule models.AutoReplyRule
	err := r.DB.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		Take(&rule).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

func (r *AutoReplyRepository) ListRulesWithCounts(ctx context.Context, accountID string) ([]RuleWithCounts, error) {
	db := r.DB.WithContext(ctx)

	var rules []models.AutoReplyRule
	if err := db.Where("account_id = ?", accountID).
		Order("priority DESC").Order("created_at ASC").Order("id ASC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	messageCounts, err := r.groupCounts(db, &models.AutoReplyMessage{}, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	triggerCounts, err := r.groupCounts(db, &models.AutoReplyLogEntry{}, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count triggers: %w", err)
	}

	var sessions []models.TelegramSession
	if err := db.Select("id", "phone").Where("account_id = ?", accountID).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	phones := make(map[string]string, len(sessions))
	for _, s := range sessions {
		phones[s.ID] = s.Phone
	}

	out := make([]RuleWithCounts, 0, len(rules))
	for _, rule := range rules {
		row := RuleWithCounts{
			AutoReplyRule: rule,
			MessageCount:  messageCounts[rule.ID],
			TriggerCount:  triggerCounts[rule.ID],
		}
		if rule.SessionID != nil {
			if phone, ok := phones[*rule.SessionID]; ok {
				row.SessionPhone = &phone
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *AutoReplyRepository) groupCounts(db *gorm.DB, model interface{}, accountID string) (map[string]int64, error) {
	var rows []countRow
	err := db.Model(model).
		Select("rule_id, COUNT(*) AS n").
		Where("account_id = ?", accountID).
		Group("rule_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.RuleID] = row.N
	}
	return counts, nil
}

// UpdateRule saves the editable fields, zero values included.
func (r *AutoReplyRepository) UpdateRule(ctx context.Context, rule *models.AutoReplyRule) error {
	res := r.DB.WithContext(ctx).Model(rule).
		Where("account_id = ?", rule.AccountID).
		Select("name", "keywords", "match_mode", "enabled", "cooldown_hours", "priority", "session_id").
		Updates(rule)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AutoReplyRepository) SetRuleEnabled(ctx context.Context, accountID, id string, enabled bool) error {
	res := r.DB.WithContext(ctx).Model(&models.AutoReplyRule{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes the rule with its messages, log rows and cooldowns.
func (r *AutoReplyRepository) DeleteRule(ctx context.Context, accountID, id string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rule models.AutoReplyRule
		if err := tx.Where("id = ? AND account_id = ?", id, accountID).Take(&rule).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Where("rule_id = ?", id).Delete(&models.AutoReplyCooldown{}).Error; err != nil {
			return fmt.Errorf("failed to delete cooldowns: %w", err)
		}
		if err := tx.Where("rule_id = ?", id).Delete(&models.AutoReplyLogEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete logs: %w", err)
		}
		if err := tx.Where("rule_id = ?", id).Delete(&models.AutoReplyMessage{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		return tx.Delete(&rule).Error
	})
}

func (r *AutoReplyRepository) ListMessages(ctx context.Context, accountID, ruleID string) ([]models.AutoReplyMessage, error) {
	var messages []models.AutoReplyMessage
	err := r.DB.WithContext(ctx).
		Where("rule_id = ? AND account_id = ?", ruleID, accountID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (r *AutoReplyRepository) CountMessages(ctx context.Context, ruleID string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.AutoReplyMessage{}).Where("rule_id = ?", ruleID).Count(&n).Error
	return n, err
}

func (r *AutoReplyRepository) CreateMessage(ctx context.Context, msg *models.AutoReplyMessage) error {
	return r.DB.WithContext(ctx).Create(msg).Error
}

func (r *AutoReplyRepository) GetMessage(ctx context.Context, accountID, ruleID, id string) (*models.AutoReplyMessage, error) {
	var msg models.AutoReplyMessage
	err := r.DB.WithContext(ctx).
		Where("id = ? AND rule_id = ? AND account_id = ?", id, ruleID, accountID).
		Take(&msg).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

func (r *AutoReplyRepository) UpdateMessage(ctx context.Context, msg *models.AutoReplyMessage) error {
	res := r.DB.WithContext(ctx).Model(msg).
		Where("account_id = ?", msg.AccountID).
		Select("kind", "text_content", "media_url", "parse_mode").
		Updates(msg)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AutoReplyRepository) DeleteMessage(ctx context.Context, accountID, ruleID, id string) error {
	res := r.DB.WithContext(ctx).
		Where("id = ? AND rule_id = ? AND account_id = ?", id, ruleID, accountID).
		Delete(&models.AutoReplyMessage{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLogs returns one page (0-based) of the account's log, newest first.
func (r *AutoReplyRepository) ListLogs(ctx context.Context, accountID, ruleID string, page int) ([]models.AutoReplyLogEntry, int64, error) {
	if page < 0 {
		page = 0
	}
	query := r.DB.WithContext(ctx).Model(&models.AutoReplyLogEntry{}).Where("account_id = ?", accountID)
	if ruleID != "" {
		query = query.Where("rule_id = ?", ruleID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.AutoReplyLogEntry
	err := query.
		Order("responded_at DESC").Order("id DESC").
		Offset(page * LogPageSize).
		Limit(LogPageSize).
		Find(&entries).Error
	return entries, total, err
}

// RuleStats aggregates the log of one rule.
type RuleStats struct {
	RuleID           string     `json:"rule_id"`
	RuleName         string     `json:"rule_name"`
	TotalTriggers    int        `json:"total_triggers"`
	UniqueChats      int        `json:"unique_chats"`
	LastTriggeredAt  *time.Time `json:"last_triggered_at"`
	TriggersToday    int        `json:"triggers_today"`
	TriggersThisWeek int        `json:"triggers_this_week"`
}

// Stats computes per-rule counters. "Today" starts at midnight in now's
// location and "this week" is the last seven days.
func (r *AutoReplyRepository) Stats(ctx context.Context, accountID string, now time.Time) ([]RuleStats, error) {
	db := r.DB.WithContext(ctx)

	var rules []models.AutoReplyRule
	if err := db.Select("id", "name", "priority", "created_at").
		Where("account_id = ?", accountID).
		Order("priority DESC").Order("created_at ASC").Order("id ASC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	var entries []models.AutoReplyLogEntry
	if err := db.Select("rule_id", "chat_id", "responded_at").
		Where("account_id = ?", accountID).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load log: %w", err)
	}

	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	weekAgo := now.Add(-7 * 24 * time.Hour)

	type acc struct {
		stats RuleStats
		chats map[int64]struct{}
	}
	byRule := make(map[string]*acc, len(rules))
	out := make([]RuleStats, 0, len(rules))
	for _, rule := range rules {
		byRule[rule.ID] = &acc{
			stats: RuleStats{RuleID: rule.ID, RuleName: rule.Name},
			chats: map[int64]struct{}{},
		}
	}

	for _, e := range entries {
		a, ok := byRule[e.RuleID]
		if !ok {
			continue
		}
		a.stats.TotalTriggers++
		a.chats[e.ChatID] = struct{}{}
		at := e.RespondedAt
		if a.stats.LastTriggeredAt == nil || at.After(*a.stats.LastTriggeredAt) {
			a.stats.LastTriggeredAt = &at
		}
		if !at.Before(startOfDay) {
			a.stats.TriggersToday++
		}
		if !at.Before(weekAgo) {
			a.stats.TriggersThisWeek++
		}
	}

	for _, rule := range rules {
		a := byRule[rule.ID]
		a.stats.UniqueChats = len(a.chats)
		out = append(out, a.stats)
	}
	return out, nil
}
