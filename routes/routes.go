package routes

import (
	controller "atendigram/controllers"
	"atendigram/metrics"
	"atendigram/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
)

func SetupAPIRoutes(app *fiber.App, d *Deps) {
	cfg := d.Config

	autoReplyController := &controller.AutoReplyController{
		Repo:      d.Rules,
		Cache:     d.RuleCache,
		Evaluator: d.Evaluator,
		Localizer: d.Localizer,
		Logger:    d.Logger,
	}
	if cfg.AutoReply.DispatchEnabled {
		autoReplyController.Dispatcher = d.Dispatcher
	}
	contactController := controller.NewContactController(d.DB, d.Localizer, d.Logger)
	campaignController := controller.NewCampaignController(d.DB, d.Broadcaster, d.Hub, d.Logger)
	sessionController := controller.NewSessionController(d.DB, cfg.EncryptionKey, d.Registry, d.Logger)
	sessionController.Cache = d.RuleCache
	sessionController.Localizer = d.Localizer
	uploadController := controller.NewUploadController(d.Storage, cfg.Storage.MaxUploadMB, d.Logger)
	accountController := controller.NewAccountController(d.DB, cfg.JWTSecret, cfg.JWTTTL)
	dashboardController := controller.NewDashboardController(d.DB, d.Logger)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(d.DB, cfg.JWTSecret), middleware.APIRateLimiter(cfg), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Account routes
	api.Get("/me", accountController.GetCurrentAccount)
	api.Put("/me", accountController.UpdateAccount)
	api.Post("/auth/refresh", accountController.RefreshToken)

	// Dashboard routes
	dashboard := api.Group("/dashboard")
	dashboard.Get("/stats", dashboardController.GetDashboardStats)
	dashboard.Get("/activity", dashboardController.GetActivitySeries)

	// Auto-reply routes; static paths are registered before /:id
	autoReply := api.Group("/auto-replies")
	autoReply.Get("/logs", autoReplyController.GetLogs)
	autoReply.Get("/stats", autoReplyController.GetStats)
	autoReply.Post("/evaluate", autoReplyController.Evaluate)
	autoReply.Post("/", autoReplyController.CreateRule)
	autoReply.Get("/", autoReplyController.GetRules)
	autoReply.Get("/:id", autoReplyController.GetRule)
	autoReply.Put("/:id", autoReplyController.UpdateRule)
	autoReply.Delete("/:id", autoReplyController.DeleteRule)
	autoReply.Patch("/:id/toggle", autoReplyController.ToggleRule)
	autoReply.Get("/:id/messages", autoReplyController.GetMessages)
	autoReply.Post("/:id/messages", autoReplyController.CreateMessage)
	autoReply.Put("/:id/messages/:messageId", autoReplyController.UpdateMessage)
	autoReply.Delete("/:id/messages/:messageId", autoReplyController.DeleteMessage)

	// Session routes
	session := api.Group("/sessions")
	session.Post("/", sessionController.CreateSession)
	session.Get("/", sessionController.GetSessions)
	session.Get("/:id", sessionController.GetSession)
	session.Post("/:id/connect", sessionController.ConnectSession)
	session.Post("/:id/disconnect", sessionController.DisconnectSession)
	session.Delete("/:id", sessionController.DeleteSession)

	// Contact routes
	contact := api.Group("/contacts")
	contact.Post("/import", contactController.ImportContacts)
	contact.Post("/", contactController.CreateContact)
	contact.Get("/", contactController.GetContacts)
	contact.Get("/:id", contactController.GetContact)
	contact.Put("/:id", contactController.UpdateContact)
	contact.Delete("/:id", contactController.DeleteContact)

	// Contact list routes
	contactList := api.Group("/contact-lists")
	contactList.Post("/", contactController.CreateList)
	contactList.Get("/", contactController.GetLists)
	contactList.Get("/:id", contactController.GetList)
	contactList.Put("/:id", contactController.UpdateList)
	contactList.Delete("/:id", contactController.DeleteList)
	contactList.Post("/:id/add-contacts", contactController.AddContactsToList)
	contactList.Post("/:id/remove-contacts", contactController.RemoveContactsFromList)

	// Campaign routes
	campaign := api.Group("/campaigns")
	campaign.Post("/", campaignController.CreateCampaign)
	campaign.Get("/", campaignController.GetCampaigns)
	campaign.Get("/:id", campaignController.GetCampaign)
	campaign.Put("/:id", campaignController.UpdateCampaign)
	campaign.Delete("/:id", campaignController.DeleteCampaign)
	campaign.Post("/:id/start", campaignController.StartCampaign)
	campaign.Post("/:id/stop", campaignController.StopCampaign)
	campaign.Get("/:id/stats", campaignController.GetCampaignStats)
	campaign.Get("/:id/deliveries", campaignController.GetCampaignDeliveries)

	// Upload routes
	api.Post("/uploads/:bucket", uploadController.Upload)

	// WebSocket route for campaign progress; browsers pass the token as ?token=
	app.Get("/ws/campaigns/:id/progress",
		middleware.Protected(d.DB, cfg.JWTSecret),
		campaignController.CampaignProgressUpgrade,
		websocket.New(campaignController.HandleCampaignProgressWS),
	)

	d.Logger.Info("API routes initialized successfully")
}

func SetupWebhookRoutes(app *fiber.App, d *Deps) {
	webhookController := controller.NewWebhookController(d.DB, d.Dispatcher, d.Config.Telegram.WebhookSecret, d.Logger)
	app.Post("/telegram/webhook/:sessionId", webhookController.HandleTelegramUpdate)
}

func SetupRoutes(app *fiber.App, d *Deps) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "database": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.Handler())

	// Public media served from local storage
	app.Static("/media", d.Config.Storage.Dir)

	SetupWebhookRoutes(app, d)
	SetupAPIRoutes(app, d)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
