package routes

import (
	"fmt"

	"atendigram/autoreply"
	"atendigram/config"
	"atendigram/i18n"
	"atendigram/repository"
	"atendigram/storage"
	"atendigram/telegram"
	"atendigram/worker"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deps are the long-lived services shared by handlers and workers.
type Deps struct {
	Config      config.Config
	DB          *gorm.DB
	Logger      *logrus.Logger
	Localizer   *i18n.Localizer
	Rules       *repository.AutoReplyRepository
	RuleCache   *autoreply.CachedRepository
	Evaluator   *autoreply.Evaluator
	Registry    *telegram.Registry
	Dispatcher  *autoreply.Dispatcher
	Hub         *worker.ProgressHub
	Broadcaster *worker.Broadcaster
	Storage     storage.Storage
}

func NewDeps(cfg config.Config, db *gorm.DB, logger *logrus.Logger) (*Deps, error) {
	localizer, err := i18n.NewLocalizer(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("failed to load translations: %w", err)
	}

	store, err := storage.NewLocalStorage(cfg.Storage.Dir, cfg.Storage.PublicBaseURL)
	if err != nil {
		return nil, err
	}

	rules := repository.NewAutoReplyRepository(db)
	ruleCache := autoreply.NewCachedRepository(rules, rules, cfg.AutoReply.RuleCacheTTL)
	evaluator := autoreply.NewEvaluator(ruleCache, autoreply.Options{
		CooldownFallthrough: cfg.AutoReply.CooldownFallthrough,
		Logger:              logger,
	})

	registry := telegram.NewRegistry(db, cfg.EncryptionKey, cfg.Telegram.Debug)
	dispatcher := &autoreply.Dispatcher{
		Evaluator: evaluator,
		Repo:      ruleCache,
		Senders:   registry,
		Logger:    logger,
	}

	hub := worker.NewProgressHub()
	broadcaster := worker.NewBroadcaster(db, registry, hub, cfg.Broadcast, logger)

	return &Deps{
		Config:      cfg,
		DB:          db,
		Logger:      logger,
		Localizer:   localizer,
		Rules:       rules,
		RuleCache:   ruleCache,
		Evaluator:   evaluator,
		Registry:    registry,
		Dispatcher:  dispatcher,
		Hub:         hub,
		Broadcaster: broadcaster,
		Storage:     store,
	}, nil
}
