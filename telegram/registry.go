package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"atendigram/autoreply"
	"atendigram/models"
	"atendigram/utils"

	"gorm.io/gorm"
)

// Registry hands out one bot client per connected session.
type Registry struct {
	DB            *gorm.DB
	EncryptionKey string
	Debug         bool
	NewClient     NewClientFunc

	mu      sync.Mutex
	clients map[string]BotClient
}

func NewRegistry(db *gorm.DB, encryptionKey string, debug bool) *Registry {
	return &Registry{
		DB:            db,
		EncryptionKey: encryptionKey,
		Debug:         debug,
		NewClient:     NewBotClient,
		clients:       map[string]BotClient{},
	}
}

// Client returns the cached client of a connected session, creating it on first use.
func (r *Registry) Client(ctx context.Context, session models.TelegramSession) (BotClient, error) {
	r.mu.Lock()
	c, ok := r.clients[session.ID]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	token, err := utils.Decrypt(session.BotToken, r.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt bot token: %w", err)
	}
	// NewClient calls getMe, so it runs without the lock
	c, err = r.NewClient(token, r.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot client: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[session.ID]; ok {
		return existing, nil
	}
	if r.clients == nil {
		r.clients = map[string]BotClient{}
	}
	r.clients[session.ID] = c
	return c, nil
}

// SenderFor resolves the session a reply goes out on. Without a session id the
// account's oldest connected session is used.
func (r *Registry) SenderFor(ctx context.Context, accountID string, sessionID *string) (autoreply.Sender, error) {
	query := r.DB.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, models.SessionConnected)
	if sessionID != nil {
		query = query.Where("id = ?", *sessionID)
	}

	var session models.TelegramSession
	err := query.Order("created_at ASC").Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, autoreply.ErrNoSender
	}
	if err != nil {
		return nil, err
	}

	c, err := r.Client(ctx, session)
	if err != nil {
		return nil, err
	}
	return &BotSender{Client: c}, nil
}

// Forget drops the cached client of a session.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[sessionID]; ok {
		c.StopReceivingUpdates()
		delete(r.clients, sessionID)
	}
}
