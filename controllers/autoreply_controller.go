package controller

import (
	"errors"
	"strings"
	"time"

	"atendigram/autoreply"
	"atendigram/i18n"
	"atendigram/middleware"
	"atendigram/models"
	"atendigram/repository"
	"atendigram/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type AutoReplyController struct {
	Repo       *repository.AutoReplyRepository
	Cache      *autoreply.CachedRepository
	Evaluator  *autoreply.Evaluator
	Dispatcher *autoreply.Dispatcher
	Localizer  *i18n.Localizer
	Logger     *logrus.Logger
}

type ruleInput struct {
	Name          string              `json:"name" validate:"required,max=120"`
	Keywords      []string            `json:"keywords" validate:"required,min=1,dive,max=200"`
	MatchMode     models.MatchMode    `json:"match_mode" validate:"required,oneof=contains exact any all"`
	Enabled       *bool               `json:"enabled"`
	CooldownHours *float64            `json:"cooldown_hours" validate:"omitempty,gte=0"`
	Priority      int                 `json:"priority"`
	SessionID     *string             `json:"session_id"`
	Messages      []autoReplyMsgInput `json:"messages" validate:"omitempty,dive"`
}

type autoReplyMsgInput struct {
	Kind        models.MessageKind `json:"kind" validate:"required,oneof=text photo audio voice"`
	TextContent *string            `json:"text_content"`
	MediaURL    *string            `json:"media_url" validate:"omitempty,url"`
	ParseMode   models.ParseMode   `json:"parse_mode" validate:"omitempty,oneof=none html markdown"`
}

// normalizeKeywords trims keywords and drops blanks and duplicates.
func normalizeKeywords(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		seen[strings.ToLower(k)] = true
		out = append(out, k)
	}
	return out
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// checkMessage rejects kind/content mismatches.
func checkMessage(in autoReplyMsgInput) error {
	if in.Kind == models.KindText && blank(in.TextContent) {
		return errors.New("text_content is required for text messages")
	}
	if in.Kind.IsMedia() && blank(in.MediaURL) {
		return errors.New("media_url is required for " + string(in.Kind) + " messages")
	}
	return nil
}

func (in autoReplyMsgInput) toModel(accountID, ruleID string) models.AutoReplyMessage {
	mode := in.ParseMode
	if mode == "" {
		mode = models.ParseNone
	}
	msg := models.AutoReplyMessage{
		RuleID:    ruleID,
		AccountID: accountID,
		Kind:      in.Kind,
		ParseMode: mode,
	}
	if !blank(in.TextContent) {
		msg.TextContent = in.TextContent
	}
	if in.Kind.IsMedia() {
		msg.MediaURL = in.MediaURL
	}
	return msg
}

func (ac *AutoReplyController) parseRule(c *fiber.Ctx) (*ruleInput, error) {
	var input ruleInput
	if err := c.BodyParser(&input); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Keywords = normalizeKeywords(input.Keywords)

	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	for _, m := range input.Messages {
		if err := checkMessage(m); err != nil {
			return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
		}
	}

	if input.SessionID != nil && *input.SessionID == "" {
		input.SessionID = nil
	}
	if input.SessionID != nil {
		var n int64
		if err := ac.Repo.DB.WithContext(c.UserContext()).Model(&models.TelegramSession{}).
			Where("id = ? AND account_id = ?", *input.SessionID, middleware.AccountID(c)).
			Count(&n).Error; err != nil {
			return nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to verify session", err)
		}
		if n == 0 {
			return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Session not found", nil)
		}
	}
	return &input, nil
}

func (ac *AutoReplyController) emptyPoolWarning(c *fiber.Ctx, messageID string, rule *models.AutoReplyRule) []string {
	n, err := ac.Repo.CountMessages(c.UserContext(), rule.ID)
	if err != nil || n > 0 {
		return nil
	}
	lang := ""
	if account := middleware.CurrentAccount(c); account != nil {
		lang = account.Language
	}
	return []string{ac.Localizer.Get(lang, messageID, map[string]interface{}{"Name": rule.Name})}
}

func (ac *AutoReplyController) invalidate(accountID string) {
	if ac.Cache != nil {
		ac.Cache.Invalidate(accountID)
	}
}

// CreateRule creates a rule, optionally with its first pool messages
func (ac *AutoReplyController) CreateRule(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	input, errResp := ac.parseRule(c)
	if input == nil {
		return errResp
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}
	rule := models.AutoReplyRule{
		AccountID:     accountID,
		SessionID:     input.SessionID,
		Name:          input.Name,
		Keywords:      input.Keywords,
		MatchMode:     input.MatchMode,
		Enabled:       enabled,
		CooldownHours: input.CooldownHours,
		Priority:      input.Priority,
	}

	msgs := make([]models.AutoReplyMessage, 0, len(input.Messages))
	for _, m := range input.Messages {
		msgs = append(msgs, m.toModel(accountID, ""))
	}
	if err := ac.Repo.CreateRuleWithMessages(c.UserContext(), &rule, msgs); err != nil {
		utils.LogError("create_auto_reply_rule", err, map[string]interface{}{"account_id": accountID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create rule", err)
	}
	ac.invalidate(accountID)

	utils.LogEvent("auto_reply_rule_created", map[string]interface{}{
		"account_id": accountID,
		"rule_id":    rule.ID,
	})
	warnings := ac.emptyPoolWarning(c, i18n.MsgRuleWithoutMessages, &rule)
	return c.Status(fiber.StatusCreated).JSON(utils.WarningResponse(rule, warnings))
}

// GetRules lists rules with message and trigger counts
func (ac *AutoReplyController) GetRules(c *fiber.Ctx) error {
	rows, err := ac.Repo.ListRulesWithCounts(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch rules", err)
	}
	return c.JSON(utils.SuccessResponse(rows))
}

func (ac *AutoReplyController) GetRule(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	rule, err := ac.Repo.GetRule(c.UserContext(), accountID, c.Params("id"))
	if err != nil {
		return ac.notFoundOr(c, err, "Rule not found", "Failed to fetch rule")
	}
	messages, err := ac.Repo.ListMessages(c.UserContext(), accountID, rule.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch messages", err)
	}
	rule.Messages = messages
	return c.JSON(utils.SuccessResponse(rule))
}

func (ac *AutoReplyController) UpdateRule(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	rule, err := ac.Repo.GetRule(c.UserContext(), accountID, c.Params("id"))
	if err != nil {
		return ac.notFoundOr(c, err, "Rule not found", "Failed to fetch rule")
	}

	input, errResp := ac.parseRule(c)
	if input == nil {
		return errResp
	}

	rule.Name = input.Name
	rule.Keywords = input.Keywords
	rule.MatchMode = input.MatchMode
	rule.CooldownHours = input.CooldownHours
	rule.Priority = input.Priority
	rule.SessionID = input.SessionID
	if input.Enabled != nil {
		rule.Enabled = *input.Enabled
	}

	if err := ac.Repo.UpdateRule(c.UserContext(), rule); err != nil {
		utils.LogError("update_auto_reply_rule", err, map[string]interface{}{"rule_id": rule.ID})
		return ac.notFoundOr(c, err, "Rule not found", "Failed to update rule")
	}
	ac.invalidate(accountID)

	warnings := ac.emptyPoolWarning(c, i18n.MsgRuleWithoutMessages, rule)
	return c.JSON(utils.WarningResponse(rule, warnings))
}

func (ac *AutoReplyController) DeleteRule(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	if err := ac.Repo.DeleteRule(c.UserContext(), accountID, c.Params("id")); err != nil {
		return ac.notFoundOr(c, err, "Rule not found", "Failed to delete rule")
	}
	ac.invalidate(accountID)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Rule deleted successfully",
	}))
}

// ToggleRule flips enabled, or sets it when the body carries a value. The
// cached rule set is updated first and restored if the write fails.
func (ac *AutoReplyController) ToggleRule(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	ctx := c.UserContext()

	rule, err := ac.Repo.GetRule(ctx, accountID, c.Params("id"))
	if err != nil {
		return ac.notFoundOr(c, err, "Rule not found", "Failed to fetch rule")
	}

	var input struct {
		Enabled *bool `json:"enabled"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}
	target := !rule.Enabled
	if input.Enabled != nil {
		target = *input.Enabled
	}

	apply := func(enabled bool) {
		if ac.Cache != nil {
			ac.Cache.SetEnabled(accountID, rule.ID, enabled)
		}
	}
	persist := func(enabled bool) error {
		return ac.Repo.SetRuleEnabled(ctx, accountID, rule.ID, enabled)
	}

	enabled, err := utils.OptimisticUpdate(rule.Enabled, target, apply, persist)
	if err != nil {
		utils.LogError("toggle_auto_reply_rule", err, map[string]interface{}{"rule_id": rule.ID})
		return ac.notFoundOr(c, err, "Rule not found", "Failed to update rule")
	}
	rule.Enabled = enabled

	var warnings []string
	if enabled {
		warnings = ac.emptyPoolWarning(c, i18n.MsgRuleWithoutMessages, rule)
	}
	return c.JSON(utils.WarningResponse(rule, warnings))
}

func (ac *AutoReplyController) GetMessages(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	rule, err := ac.Repo.GetRule(c.UserContext(), accountID, c.Params("id"))
	if err != nil {
		return ac.notFoundOr(c, err, "Rule not found", "Failed to fetch rule")
	}
	messages, err := ac.Repo.ListMessages(c.UserContext(), accountID, rule.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch messages", err)
	}
	return c.JSON(utils.SuccessResponse(messages))
}

func (ac *AutoReplyController) parseMessage(c *fiber.Ctx) (*autoReplyMsgInput, error) {
	var input autoReplyMsgInput
	if err := c.BodyParser(&input); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := checkMessage(input); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	return &input, nil
}

func (ac *AutoReplyController) CreateMessage(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	rule, err := ac.Repo.GetRule(c.UserContext(), accountID, c.Params("id"))
	if err != nil {
		return ac.notFoundOr(c, err, "Rule not found", "Failed to fetch rule")
	}

	input, errResp := ac.parseMessage(c)
	if input == nil {
		return errResp
	}

	msg := input.toModel(accountID, rule.ID)
	if err := ac.Repo.CreateMessage(c.UserContext(), &msg); err != nil {
		utils.LogError("create_auto_reply_message", err, map[string]interface{}{"rule_id": rule.ID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create message", err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(msg))
}

func (ac *AutoReplyController) UpdateMessage(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	ctx := c.UserContext()

	msg, err := ac.Repo.GetMessage(ctx, accountID, c.Params("id"), c.Params("messageId"))
	if err != nil {
		return ac.notFoundOr(c, err, "Message not found", "Failed to fetch message")
	}

	input, errResp := ac.parseMessage(c)
	if input == nil {
		return errResp
	}

	updated := input.toModel(accountID, msg.RuleID)
	updated.Base = msg.Base
	if err := ac.Repo.UpdateMessage(ctx, &updated); err != nil {
		return ac.notFoundOr(c, err, "Message not found", "Failed to update message")
	}
	return c.JSON(utils.SuccessResponse(updated))
}

func (ac *AutoReplyController) DeleteMessage(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	ctx := c.UserContext()

	rule, err := ac.Repo.GetRule(ctx, accountID, c.Params("id"))
	if err != nil {
		return ac.notFoundOr(c, err, "Rule not found", "Failed to fetch rule")
	}
	if err := ac.Repo.DeleteMessage(ctx, accountID, rule.ID, c.Params("messageId")); err != nil {
		return ac.notFoundOr(c, err, "Message not found", "Failed to delete message")
	}

	var warnings []string
	if rule.Enabled {
		warnings = ac.emptyPoolWarning(c, i18n.MsgRuleDisabledEmpty, rule)
	}
	return c.JSON(utils.WarningResponse(fiber.Map{
		"message": "Message deleted successfully",
	}, warnings))
}

// GetLogs returns one 0-based page of the firing log
func (ac *AutoReplyController) GetLogs(c *fiber.Ctx) error {
	page := utils.QueryInt(c, "page", 0)
	entries, total, err := ac.Repo.ListLogs(c.UserContext(), middleware.AccountID(c), c.Query("rule_id"), page)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch logs", err)
	}
	return c.JSON(utils.PaginatedResponse{
		Data:  entries,
		Total: total,
		Page:  page,
		Limit: repository.LogPageSize,
	})
}

func (ac *AutoReplyController) GetStats(c *fiber.Ctx) error {
	now := time.Now()
	if account := middleware.CurrentAccount(c); account != nil && account.Timezone != "" {
		if loc, err := time.LoadLocation(account.Timezone); err == nil {
			now = now.In(loc)
		}
	}
	stats, err := ac.Repo.Stats(c.UserContext(), middleware.AccountID(c), now)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}
	return c.JSON(utils.SuccessResponse(stats))
}

// Evaluate runs the rule engine for a message delivered by an external ingestion process
func (ac *AutoReplyController) Evaluate(c *fiber.Ctx) error {
	var input struct {
		SessionID *string `json:"session_id"`
		ChatID    int64   `json:"chat_id" validate:"required"`
		Text      string  `json:"text" validate:"required"`
		MessageID *int    `json:"message_id"`
		Dispatch  *bool   `json:"dispatch"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if input.SessionID != nil && *input.SessionID == "" {
		input.SessionID = nil
	}

	in := autoreply.Inbound{
		AccountID: middleware.AccountID(c),
		SessionID: input.SessionID,
		ChatID:    input.ChatID,
		MessageID: input.MessageID,
		Text:      input.Text,
	}

	dispatch := ac.Dispatcher != nil && (input.Dispatch == nil || *input.Dispatch)
	var (
		match *autoreply.RuleMatch
		err   error
	)
	if dispatch {
		match, err = ac.Dispatcher.Handle(c.UserContext(), in)
	} else {
		match, err = ac.Evaluator.Evaluate(c.UserContext(), in)
	}
	if match == nil && err != nil {
		utils.LogError("auto_reply_evaluate", err, map[string]interface{}{"account_id": in.AccountID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to evaluate message", err)
	}
	if match == nil {
		return c.JSON(utils.SuccessResponse(fiber.Map{"fired": false}))
	}

	result := fiber.Map{
		"fired":   true,
		"rule_id": match.Rule.ID,
		"message": match.Message,
		"log":     match.Log,
	}
	if dispatch {
		result["sent"] = err == nil
		if err != nil {
			result["send_error"] = err.Error()
		}
	}
	return c.JSON(utils.SuccessResponse(result))
}

func (ac *AutoReplyController) notFoundOr(c *fiber.Ctx, err error, notFoundMsg, failMsg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, notFoundMsg, nil)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, failMsg, err)
}
