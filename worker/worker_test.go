package worker

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"atendigram/autoreply"
	"atendigram/config"
	"atendigram/models"
	"atendigram/repository"
	"atendigram/telegram"
	"atendigram/utils"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase(config.Config{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "worker.db"),
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
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeSender struct {
	mu    sync.Mutex
	chats []int64
	fail  map[int64]bool
}

func (s *fakeSender) Send(ctx context.Context, chatID int64, msg models.OutgoingMessage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[chatID] {
		return 0, errors.New("chat not found")
	}
	s.chats = append(s.chats, chatID)
	return len(s.chats), nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}

type staticResolver struct {
	sender autoreply.Sender
	err    error
}

func (r staticResolver) SenderFor(ctx context.Context, accountID string, sessionID *string) (autoreply.Sender, error) {
	return r.sender, r.err
}

type campaignFixture struct {
	db       *gorm.DB
	campaign models.Campaign
}

func seedCampaign(t *testing.T, chatIDs ...*int64) campaignFixture {
	t.Helper()
	db := newTestDB(t)
	account, err := models.EnsureAccount(db, "ops@example.com")
	if err != nil {
		t.Fatal(err)
	}
	session := models.TelegramSession{AccountID: account.ID, Phone: "+5511", BotToken: "x", Status: models.SessionConnected}
	db.Create(&session)

	list := models.ContactList{AccountID: account.ID, Name: "vip"}
	db.Create(&list)
	for _, id := range chatIDs {
		contact := models.Contact{AccountID: account.ID, ChatID: id, FirstName: "c"}
		db.Create(&contact)
		db.Create(&models.ContactListMembership{ContactListID: list.ID, ContactID: contact.ID})
	}

	campaign := models.Campaign{
		AccountID:   account.ID,
		SessionID:   session.ID,
		Name:        "promo",
		Kind:        models.KindText,
		TextContent: utils.Pointer("oferta"),
		ListIDs:     []string{list.ID},
		Status:      models.CampaignSending,
	}
	if err := db.Create(&campaign).Error; err != nil {
		t.Fatal(err)
	}
	return campaignFixture{db: db, campaign: campaign}
}

func newTestBroadcaster(db *gorm.DB, sender autoreply.Sender, limit rate.Limit) *Broadcaster {
	b := NewBroadcaster(db, staticResolver{sender: sender}, NewProgressHub(), config.BroadcastConfig{Burst: 1}, quietLogger())
	b.Limit = limit
	return b
}

func int64p(v int64) *int64 { return &v }

func TestBroadcasterSendsToEveryContact(t *testing.T) {
	f := seedCampaign(t, int64p(1), int64p(2), int64p(3), nil)
	sender := &fakeSender{fail: map[int64]bool{3: true}}
	b := newTestBroadcaster(f.db, sender, rate.Inf)

	updates, unsubscribe := b.Hub.Subscribe(f.campaign.ID)
	defer unsubscribe()

	if err := b.Start(f.campaign); err != nil {
		t.Fatal(err)
	}
	b.Wait()

	var got models.Campaign
	f.db.First(&got, "id = ?", f.campaign.ID)
	if got.Status != models.CampaignCompleted || got.CompletedAt == nil {
		t.Fatalf("status = %s", got.Status)
	}
	if got.TotalRecipients != 4 || got.SentCount != 2 || got.FailedCount != 2 {
		t.Fatalf("counters = %d/%d/%d", got.TotalRecipients, got.SentCount, got.FailedCount)
	}

	var deliveries []models.CampaignDelivery
	f.db.Where("campaign_id = ?", f.campaign.ID).Find(&deliveries)
	statuses := map[string]int{}
	for _, d := range deliveries {
		statuses[d.Status]++
	}
	if statuses[models.DeliverySent] != 2 || statuses[models.DeliveryFailed] != 1 || statuses[models.DeliverySkipped] != 1 {
		t.Fatalf("deliveries = %v", statuses)
	}

	var last Progress
	for {
		select {
		case p := <-updates:
			last = p
			continue
		default:
		}
		break
	}
	if last.Status != models.CampaignCompleted || last.Percent != 100 || last.Sent != 2 {
		t.Fatalf("last progress = %+v", last)
	}
}

func TestBroadcasterResumeSkipsDelivered(t *testing.T) {
	f := seedCampaign(t, int64p(1), int64p(2))
	sender := &fakeSender{}
	b := newTestBroadcaster(f.db, sender, rate.Inf)

	b.Start(f.campaign)
	b.Wait()
	f.db.Model(&models.Campaign{}).Where("id = ?", f.campaign.ID).Update("status", models.CampaignSending)

	n, err := b.ResumeSending(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ResumeSending = %d, %v", n, err)
	}
	b.Wait()
	if sender.count() != 2 {
		t.Fatalf("resend happened: %d sends", sender.count())
	}
}

func TestBroadcasterStop(t *testing.T) {
	f := seedCampaign(t, int64p(1), int64p(2), int64p(3))
	sender := &fakeSender{}
	b := newTestBroadcaster(f.db, sender, rate.Limit(0.001))

	if err := b.Start(f.campaign); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(f.campaign); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !b.Stop(f.campaign.ID) {
		t.Fatal("campaign not running")
	}
	b.Wait()

	if b.Running(f.campaign.ID) {
		t.Fatal("still running after Stop")
	}
	if sender.count() != 1 {
		t.Fatalf("sent %d, want 1", sender.count())
	}
	var got models.Campaign
	f.db.First(&got, "id = ?", f.campaign.ID)
	if got.Status == models.CampaignCompleted {
		t.Fatal("stopped campaign marked completed")
	}
}

func TestBroadcasterRestartAfterStop(t *testing.T) {
	f := seedCampaign(t, int64p(1), int64p(2), int64p(3))
	sender := &fakeSender{}
	b := newTestBroadcaster(f.db, sender, rate.Limit(0.001))

	if err := b.Start(f.campaign); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	b.Stop(f.campaign.ID)
	if b.Running(f.campaign.ID) {
		t.Fatal("still running after Stop returned")
	}

	b.Limit = rate.Inf
	if err := b.Start(f.campaign); err != nil {
		t.Fatalf("restart = %v", err)
	}
	b.Wait()

	var got models.Campaign
	f.db.First(&got, "id = ?", f.campaign.ID)
	if got.Status != models.CampaignCompleted || got.SentCount != 3 {
		t.Fatalf("status = %s sent = %d", got.Status, got.SentCount)
	}
	if sender.count() != 3 {
		t.Fatalf("sent %d, want 3", sender.count())
	}
}

func TestBroadcasterStartWaitsForCancelledLoop(t *testing.T) {
	f := seedCampaign(t, int64p(1), int64p(2))
	sender := &fakeSender{}
	b := newTestBroadcaster(f.db, sender, rate.Inf)

	if err := b.Start(f.campaign); err != nil {
		t.Fatal(err)
	}
	b.mu.Lock()
	if loop, ok := b.running[f.campaign.ID]; ok {
		loop.cancel()
	}
	b.mu.Unlock()

	if err := b.Start(f.campaign); err != nil {
		t.Fatalf("Start after cancel = %v", err)
	}
	b.Wait()

	var got models.Campaign
	f.db.First(&got, "id = ?", f.campaign.ID)
	if got.Status != models.CampaignCompleted {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestBroadcasterNoSenderFails(t *testing.T) {
	f := seedCampaign(t, int64p(1))
	b := NewBroadcaster(f.db, staticResolver{err: autoreply.ErrNoSender}, nil, config.BroadcastConfig{MessagesPerSecond: 10}, quietLogger())

	b.Start(f.campaign)
	b.Wait()

	var got models.Campaign
	f.db.First(&got, "id = ?", f.campaign.ID)
	if got.Status != models.CampaignFailed {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestProgressHub(t *testing.T) {
	hub := NewProgressHub()
	a, unsubA := hub.Subscribe("c1")
	b, unsubB := hub.Subscribe("c1")
	other, unsubOther := hub.Subscribe("c2")
	defer unsubOther()

	hub.Publish(Progress{CampaignID: "c1", Sent: 1})
	if p := <-a; p.Sent != 1 {
		t.Fatalf("a got %+v", p)
	}
	if p := <-b; p.Sent != 1 {
		t.Fatalf("b got %+v", p)
	}
	select {
	case p := <-other:
		t.Fatalf("c2 subscriber got %+v", p)
	default:
	}

	unsubA()
	unsubA()
	if hub.Subscribers("c1") != 1 {
		t.Fatalf("subscribers = %d", hub.Subscribers("c1"))
	}
	if _, ok := <-a; ok {
		t.Fatal("channel not closed on unsubscribe")
	}
	unsubB()
	if hub.Subscribers("c1") != 0 {
		t.Fatal("subscription leaked")
	}

	// a full subscriber does not block Publish
	_, unsubC := hub.Subscribe("c3")
	defer unsubC()
	for i := 0; i < 100; i++ {
		hub.Publish(Progress{CampaignID: "c3", Sent: i})
	}
}

func TestProgressOf(t *testing.T) {
	p := ProgressOf(models.Campaign{Base: models.Base{ID: "c"}, TotalRecipients: 4, SentCount: 1, FailedCount: 1, Status: models.CampaignSending})
	if p.Percent != 50 || p.CampaignID != "c" {
		t.Fatalf("progress = %+v", p)
	}
	if ProgressOf(models.Campaign{Status: models.CampaignCompleted}).Percent != 100 {
		t.Fatal("completed campaign without recipients should report 100")
	}
}

func TestInboundFromUpdate(t *testing.T) {
	session := models.TelegramSession{Base: models.Base{ID: "s1"}, AccountID: "acc"}

	in, ok := InboundFromUpdate(session, tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		Chat:      &tgbotapi.Chat{ID: 42},
		From:      &tgbotapi.User{ID: 42},
		Text:      "qual o preço?",
	}})
	if !ok || in.AccountID != "acc" || *in.SessionID != "s1" || in.ChatID != 42 || *in.MessageID != 7 || in.Text != "qual o preço?" {
		t.Fatalf("inbound = %+v, %v", in, ok)
	}

	in, ok = InboundFromUpdate(session, tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Caption: "foto do preço"}})
	if !ok || in.Text != "foto do preço" {
		t.Fatalf("caption not used: %+v", in)
	}

	skipped := []tgbotapi.Update{
		{},
		{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}},
		{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, From: &tgbotapi.User{IsBot: true}, Text: "oi"}},
	}
	for i, u := range skipped {
		if _, ok := InboundFromUpdate(session, u); ok {
			t.Errorf("update %d should be skipped", i)
		}
	}
}

type fakeBot struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    []tgbotapi.Chattable
	stopped bool
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: 500 + len(f.sent)}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeBot) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestAutoReplyWorkerRepliesToUpdates(t *testing.T) {
	db := newTestDB(t)
	account, _ := models.EnsureAccount(db, "bot@example.com")
	token, _ := utils.Encrypt("123:abc", testKey)
	session := models.TelegramSession{AccountID: account.ID, Phone: "+5511", BotToken: token, Status: models.SessionConnected}
	db.Create(&session)

	repo := repository.NewAutoReplyRepository(db)
	rule := models.AutoReplyRule{AccountID: account.ID, Name: "preço", Keywords: []string{"preço"}, MatchMode: models.MatchAny, Enabled: true}
	if err := repo.CreateRule(context.Background(), &rule); err != nil {
		t.Fatal(err)
	}
	repo.CreateMessage(context.Background(), &models.AutoReplyMessage{RuleID: rule.ID, AccountID: account.ID, Kind: models.KindText, TextContent: utils.Pointer("R$ 10")})

	bot := &fakeBot{updates: make(chan tgbotapi.Update, 2)}
	registry := telegram.NewRegistry(db, testKey, false)
	registry.NewClient = func(string, bool) (telegram.BotClient, error) { return bot, nil }

	evaluator := autoreply.NewEvaluator(repo, autoreply.Options{Logger: quietLogger()})
	dispatcher := &autoreply.Dispatcher{Evaluator: evaluator, Repo: repo, Senders: registry, Logger: quietLogger()}
	w := NewAutoReplyWorker(db, registry, dispatcher, 1, quietLogger())
	w.RefreshInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	msg := &tgbotapi.Message{MessageID: 3, Chat: &tgbotapi.Chat{ID: 77}, Text: "Qual o PREÇO?"}
	bot.updates <- tgbotapi.Update{Message: msg}
	bot.updates <- tgbotapi.Update{Message: msg}

	deadline := time.Now().Add(5 * time.Second)
	var logs int64
	for time.Now().Before(deadline) {
		db.Model(&models.AutoReplyLogEntry{}).Where("message_id_sent IS NOT NULL").Count(&logs)
		if logs > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if logs != 1 {
		t.Fatalf("sent log rows = %d", logs)
	}
	// the second copy hits the fire-once cooldown
	if bot.sentCount() != 1 {
		t.Fatalf("bot sent %d messages", bot.sentCount())
	}
	bot.mu.Lock()
	stopped := bot.stopped
	bot.mu.Unlock()
	if !stopped {
		t.Fatal("polling not stopped on shutdown")
	}
}

func TestStartPollingDoesNotBlockOnSlowClient(t *testing.T) {
	db := newTestDB(t)
	account, _ := models.EnsureAccount(db, "bot@example.com")
	slowToken, _ := utils.Encrypt("111:slow", testKey)
	fastToken, _ := utils.Encrypt("222:fast", testKey)
	slow := models.TelegramSession{AccountID: account.ID, Phone: "+5511", BotToken: slowToken, Status: models.SessionConnected}
	fast := models.TelegramSession{AccountID: account.ID, Phone: "+5521", BotToken: fastToken, Status: models.SessionConnected}
	db.Create(&slow)
	db.Create(&fast)

	release := make(chan struct{})
	registry := telegram.NewRegistry(db, testKey, false)
	registry.NewClient = func(token string, debug bool) (telegram.BotClient, error) {
		if token == "111:slow" {
			<-release
		}
		return &fakeBot{updates: make(chan tgbotapi.Update)}, nil
	}
	w := NewAutoReplyWorker(db, registry, nil, 1, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	slowDone := make(chan struct{})
	go func() {
		w.startPolling(ctx, slow)
		close(slowDone)
	}()

	fastDone := make(chan struct{})
	go func() {
		w.startPolling(ctx, fast)
		close(fastDone)
	}()
	select {
	case <-fastDone:
	case <-time.After(5 * time.Second):
		t.Fatal("fast session waited for the slow client")
	}
	if !w.isPolling(fast.ID) || w.isPolling(slow.ID) {
		t.Fatal("unexpected polling state")
	}

	close(release)
	<-slowDone
	if !w.isPolling(slow.ID) {
		t.Fatal("slow session not polling")
	}
	w.stopAll()
	w.wg.Wait()
}
