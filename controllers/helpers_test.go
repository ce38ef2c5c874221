package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"atendigram/autoreply"
	"atendigram/config"
	"atendigram/i18n"
	"atendigram/middleware"
	"atendigram/models"
	"atendigram/repository"
	"atendigram/telegram"
	"atendigram/utils"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	testSecret = "controller-test-secret"
	testKey    = "0123456789abcdef0123456789abcdef"
)

type testEnv struct {
	t       *testing.T
	db      *gorm.DB
	account *models.Account
	token   string
	app     *fiber.App
	api     fiber.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := config.OpenDatabase(config.Config{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "controllers.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := config.MigrateDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	account, err := models.EnsureAccount(db, "owner@example.com")
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	token, err := utils.GenerateToken(account.ID, testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	app := fiber.New()
	return &testEnv{
		t:       t,
		db:      db,
		account: account,
		token:   token,
		app:     app,
		api:     app.Group("/api", middleware.Protected(db, testSecret)),
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testLocalizer(t *testing.T) *i18n.Localizer {
	t.Helper()
	l, err := i18n.NewLocalizer("en")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// response is the decoded envelope every handler writes.
type response struct {
	Success  bool            `json:"success"`
	Error    string          `json:"error"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
	Total    int64           `json:"total"`
}

func (e *testEnv) do(method, path string, body interface{}) (int, response) {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(req)
}

func (e *testEnv) send(req *http.Request) (int, response) {
	e.t.Helper()
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		e.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	var out response
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			e.t.Fatalf("%s %s: decode %q: %v", req.Method, req.URL.Path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func (e *testEnv) seedSession(status string) models.TelegramSession {
	e.t.Helper()
	token, err := utils.Encrypt("123456:ABCdefGHIjklMNOpqrSTUvwxYZ0123456789", testKey)
	if err != nil {
		e.t.Fatal(err)
	}
	s := models.TelegramSession{AccountID: e.account.ID, Phone: "+5511999990000", BotToken: token, Status: status}
	if err := e.db.Create(&s).Error; err != nil {
		e.t.Fatal(err)
	}
	return s
}

type fakeBot struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{MessageID: 500 + len(b.sent)}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (b *fakeBot) StopReceivingUpdates() {}

func (b *fakeBot) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func fakeRegistry(db *gorm.DB, bot *fakeBot) *telegram.Registry {
	registry := telegram.NewRegistry(db, testKey, false)
	registry.NewClient = func(token string, debug bool) (telegram.BotClient, error) {
		return bot, nil
	}
	return registry
}

// autoReplyStack wires the rule engine the way the API does.
type autoReplyStack struct {
	controller *AutoReplyController
	dispatcher *autoreply.Dispatcher
	bot        *fakeBot
}

func newAutoReplyStack(e *testEnv) autoReplyStack {
	logger := quietLogger()
	repo := repository.NewAutoReplyRepository(e.db)
	cache := autoreply.NewCachedRepository(repo, repo, time.Minute)
	evaluator := autoreply.NewEvaluator(cache, autoreply.Options{Logger: logger})
	bot := &fakeBot{}
	dispatcher := &autoreply.Dispatcher{
		Evaluator: evaluator,
		Repo:      cache,
		Senders:   fakeRegistry(e.db, bot),
		Logger:    logger,
	}
	return autoReplyStack{
		controller: &AutoReplyController{
			Repo:       repo,
			Cache:      cache,
			Evaluator:  evaluator,
			Dispatcher: dispatcher,
			Localizer:  testLocalizer(e.t),
			Logger:     logger,
		},
		dispatcher: dispatcher,
		bot:        bot,
	}
}
