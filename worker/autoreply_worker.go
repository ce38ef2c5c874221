package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"atendigram/autoreply"
	"atendigram/metrics"
	"atendigram/models"
	"atendigram/telegram"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AutoReplyWorker long-polls every connected session and feeds incoming
// messages to the dispatcher.
type AutoReplyWorker struct {
	DB         *gorm.DB
	Registry   *telegram.Registry
	Dispatcher *autoreply.Dispatcher
	Logger     *logrus.Logger

	PollTimeout     int
	RefreshInterval time.Duration

	mu      sync.Mutex
	polling map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewAutoReplyWorker(db *gorm.DB, registry *telegram.Registry, dispatcher *autoreply.Dispatcher, pollTimeout int, logger *logrus.Logger) *AutoReplyWorker {
	return &AutoReplyWorker{
		DB:              db,
		Registry:        registry,
		Dispatcher:      dispatcher,
		Logger:          logger,
		PollTimeout:     pollTimeout,
		RefreshInterval: time.Minute,
		polling:         map[string]context.CancelFunc{},
	}
}

// Start blocks until ctx is done, picking up newly connected sessions and
// dropping disconnected ones on every refresh.
func (w *AutoReplyWorker) Start(ctx context.Context) {
	w.Logger.Info("Starting auto-reply worker...")
	ticker := time.NewTicker(w.RefreshInterval)
	defer ticker.Stop()

	w.sync(ctx)
	for {
		select {
		case <-ticker.C:
			w.sync(ctx)
		case <-ctx.Done():
			w.Logger.Info("Stopping auto-reply worker...")
			w.stopAll()
			w.wg.Wait()
			return
		}
	}
}

func (w *AutoReplyWorker) sync(ctx context.Context) {
	var sessions []models.TelegramSession
	if err := w.DB.WithContext(ctx).Where("status = ?", models.SessionConnected).Find(&sessions).Error; err != nil {
		if ctx.Err() == nil {
			w.Logger.WithError(err).Error("Failed to load connected sessions")
		}
		return
	}

	connected := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		connected[s.ID] = true
		w.startPolling(ctx, s)
	}

	w.mu.Lock()
	var stale []string
	for id := range w.polling {
		if !connected[id] {
			stale = append(stale, id)
		}
	}
	w.mu.Unlock()
	for _, id := range stale {
		w.stopPolling(id)
	}

	w.mu.Lock()
	metrics.ActiveSessions.Set(float64(len(w.polling)))
	w.mu.Unlock()
}

func (w *AutoReplyWorker) startPolling(ctx context.Context, session models.TelegramSession) {
	if w.isPolling(session.ID) {
		return
	}

	client, err := w.Registry.Client(ctx, session)
	if err != nil {
		w.Logger.WithError(err).WithField("session_id", session.ID).Error("Failed to open bot client")
		w.markError(ctx, session.ID, err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.polling[session.ID]; ok {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	if w.polling == nil {
		w.polling = map[string]context.CancelFunc{}
	}
	w.polling[session.ID] = cancel

	u := tgbotapi.NewUpdate(0)
	u.Timeout = w.PollTimeout
	updates := client.GetUpdatesChan(u)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.poll(pollCtx, session, updates)
	}()
	w.Logger.WithField("session_id", session.ID).Info("Polling session")
}

func (w *AutoReplyWorker) isPolling(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.polling[sessionID]
	return ok
}

func (w *AutoReplyWorker) stopPolling(sessionID string) {
	w.mu.Lock()
	cancel, ok := w.polling[sessionID]
	delete(w.polling, sessionID)
	w.mu.Unlock()
	if ok {
		cancel()
		w.Registry.Forget(sessionID)
	}
}

func (w *AutoReplyWorker) stopAll() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.polling))
	for id := range w.polling {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	for _, id := range ids {
		w.stopPolling(id)
	}
}

func (w *AutoReplyWorker) poll(ctx context.Context, session models.TelegramSession, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			in, ok := InboundFromUpdate(session, update)
			if !ok {
				continue
			}
			w.handle(ctx, in)
		}
	}
}

func (w *AutoReplyWorker) handle(ctx context.Context, in autoreply.Inbound) {
	match, err := w.Dispatcher.Handle(ctx, in)
	log := w.Logger.WithFields(logrus.Fields{
		"account_id": in.AccountID,
		"chat_id":    in.ChatID,
	})
	if err != nil {
		if errors.Is(err, autoreply.ErrNoSender) {
			log.WithError(err).Warn("Auto-reply fired without a sender")
			return
		}
		log.WithError(err).Error("Auto-reply failed")
		return
	}
	if match != nil {
		log.WithField("rule_id", match.Rule.ID).Debug("Auto-reply sent")
	}
}

func (w *AutoReplyWorker) markError(ctx context.Context, sessionID string, cause error) {
	msg := cause.Error()
	if err := w.DB.WithContext(ctx).Model(&models.TelegramSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{"status": models.SessionError, "last_error": msg}).Error; err != nil {
		w.Logger.WithError(err).Error("Failed to mark session error")
	}
}

// InboundFromUpdate maps a private or group text message onto an evaluator
// input. Captions count as text. Messages from bots are ignored.
func InboundFromUpdate(session models.TelegramSession, update tgbotapi.Update) (autoreply.Inbound, bool) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return autoreply.Inbound{}, false
	}
	if m.From != nil && m.From.IsBot {
		return autoreply.Inbound{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return autoreply.Inbound{}, false
	}
	sessionID := session.ID
	messageID := m.MessageID
	return autoreply.Inbound{
		AccountID: session.AccountID,
		SessionID: &sessionID,
		ChatID:    m.Chat.ID,
		MessageID: &messageID,
		Text:      text,
	}, true
}
