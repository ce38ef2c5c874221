package controller

import (
	"time"

	"atendigram/middleware"
	"atendigram/models"
	"atendigram/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type DashboardController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Now    func() time.Time
}

func NewDashboardController(db *gorm.DB, logger *logrus.Logger) *DashboardController {
	return &DashboardController{
		DB:     db,
		Logger: logger,
		Now:    time.Now,
	}
}

type DashboardStats struct {
	Sessions          int64            `json:"sessions"`
	ConnectedSessions int64            `json:"connected_sessions"`
	Rules             int64            `json:"rules"`
	EnabledRules      int64            `json:"enabled_rules"`
	Contacts          int64            `json:"contacts"`
	Lists             int64            `json:"lists"`
	Campaigns         map[string]int64 `json:"campaigns"`
	MessagesSent      int64            `json:"messages_sent"`
	AutoReplies       int64            `json:"auto_replies"`
}

type TimeSeriesData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// timeRange maps the time_frame query onto its start.
func timeRange(now time.Time, frame string) time.Time {
	switch frame {
	case "day":
		return now.Add(-24 * time.Hour)
	case "month":
		return now.Add(-30 * 24 * time.Hour)
	default:
		return now.Add(-7 * 24 * time.Hour)
	}
}

// GetDashboardStats returns summary statistics for the dashboard cards
func (dc *DashboardController) GetDashboardStats(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	now := dc.Now()
	start := timeRange(now, c.Query("time_frame", "week"))

	stats := DashboardStats{Campaigns: map[string]int64{}}
	counts := []struct {
		dest  *int64
		model interface{}
		where string
		args  []interface{}
	}{
		{&stats.Sessions, &models.TelegramSession{}, "account_id = ?", []interface{}{accountID}},
		{&stats.ConnectedSessions, &models.TelegramSession{}, "account_id = ? AND status = ?", []interface{}{accountID, models.SessionConnected}},
		{&stats.Rules, &models.AutoReplyRule{}, "account_id = ?", []interface{}{accountID}},
		{&stats.EnabledRules, &models.AutoReplyRule{}, "account_id = ? AND enabled = ?", []interface{}{accountID, true}},
		{&stats.Contacts, &models.Contact{}, "account_id = ?", []interface{}{accountID}},
		{&stats.Lists, &models.ContactList{}, "account_id = ?", []interface{}{accountID}},
		{&stats.AutoReplies, &models.AutoReplyLogEntry{}, "account_id = ? AND responded_at >= ?", []interface{}{accountID, start}},
	}
	for _, q := range counts {
		if err := dc.DB.Model(q.model).Where(q.where, q.args...).Count(q.dest).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get dashboard stats", err)
		}
	}

	if err := dc.DB.Model(&models.CampaignDelivery{}).
		Joins("JOIN campaigns ON campaigns.id = campaign_deliveries.campaign_id").
		Where("campaigns.account_id = ? AND campaign_deliveries.status = ? AND campaign_deliveries.sent_at >= ?",
			accountID, models.DeliverySent, start).
		Count(&stats.MessagesSent).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get broadcast stats", err)
	}

	var rows []struct {
		Status string
		N      int64
	}
	if err := dc.DB.Model(&models.Campaign{}).
		Select("status, COUNT(*) AS n").
		Where("account_id = ?", accountID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get campaign stats", err)
	}
	for _, row := range rows {
		stats.Campaigns[row.Status] = row.N
	}

	return c.JSON(utils.SuccessResponse(stats))
}

// GetActivitySeries returns auto-replies and broadcast sends per day for the
// last `days` days (default 7, max 90), in the account's timezone
func (dc *DashboardController) GetActivitySeries(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	days := utils.QueryInt(c, "days", 7)
	if days < 1 || days > 90 {
		days = 7
	}

	loc := time.UTC
	if account := middleware.CurrentAccount(c); account != nil && account.Timezone != "" {
		if l, err := time.LoadLocation(account.Timezone); err == nil {
			loc = l
		}
	}
	now := dc.Now().In(loc)
	first := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -(days - 1))

	var replies []time.Time
	if err := dc.DB.Model(&models.AutoReplyLogEntry{}).
		Where("account_id = ? AND responded_at >= ?", accountID, first.UTC()).
		Pluck("responded_at", &replies).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get auto-reply activity", err)
	}

	var sends []time.Time
	if err := dc.DB.Model(&models.CampaignDelivery{}).
		Joins("JOIN campaigns ON campaigns.id = campaign_deliveries.campaign_id").
		Where("campaigns.account_id = ? AND campaign_deliveries.sent_at >= ?", accountID, first.UTC()).
		Pluck("campaign_deliveries.sent_at", &sends).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get broadcast activity", err)
	}

	return c.JSON(utils.SuccessResponse(buildSeries(first, days, loc, replies, sends)))
}

func buildSeries(first time.Time, days int, loc *time.Location, replies, sends []time.Time) TimeSeriesData {
	series := TimeSeriesData{
		Labels: make([]string, days),
		Datasets: []Dataset{
			{Label: "Auto-replies", Data: make([]float64, days)},
			{Label: "Broadcast messages", Data: make([]float64, days)},
		},
	}
	for i := 0; i < days; i++ {
		series.Labels[i] = first.AddDate(0, 0, i).Format("2006-01-02")
	}
	bucket := func(t time.Time) int {
		t = t.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		for i := 0; i < days; i++ {
			if first.AddDate(0, 0, i).Equal(day) {
				return i
			}
		}
		return -1
	}
	for _, t := range replies {
		if i := bucket(t); i >= 0 {
			series.Datasets[0].Data[i]++
		}
	}
	for _, t := range sends {
		if i := bucket(t); i >= 0 {
			series.Datasets[1].Data[i]++
		}
	}
	return series
}
