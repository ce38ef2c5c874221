package controller

import (
	"testing"

	"atendigram/models"
	"atendigram/utils"

	"github.com/gofiber/fiber/v2"
)

func mountSessions(e *testEnv) {
	sc := NewSessionController(e.db, testKey, fakeRegistry(e.db, &fakeBot{}), quietLogger())
	sc.Localizer = testLocalizer(e.t)
	r := e.api.Group("/sessions")
	r.Post("/", sc.CreateSession)
	r.Get("/", sc.GetSessions)
	r.Post("/:id/connect", sc.ConnectSession)
	r.Post("/:id/disconnect", sc.DisconnectSession)
	r.Delete("/:id", sc.DeleteSession)
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)
	mountSessions(e)

	const token = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"
	status, resp := e.do("POST", "/api/sessions", fiber.Map{"phone": "+55 11 98888-7777", "bot_token": token})
	if status != fiber.StatusCreated {
		t.Fatalf("create status = %d (%s)", status, resp.Error)
	}
	var session models.TelegramSession
	decode(t, resp.Data, &session)
	if session.Status != models.SessionPending {
		t.Fatalf("status = %q", session.Status)
	}

	var stored models.TelegramSession
	e.db.First(&stored, "id = ?", session.ID)
	if stored.BotToken == token {
		t.Fatal("bot token stored in plaintext")
	}
	if plain, err := utils.Decrypt(stored.BotToken, testKey); err != nil || plain != token {
		t.Fatalf("decrypt = %q, %v", plain, err)
	}

	status, resp = e.do("POST", "/api/sessions/"+session.ID+"/connect", nil)
	if status != fiber.StatusOK {
		t.Fatalf("connect status = %d (%s)", status, resp.Error)
	}
	decode(t, resp.Data, &session)
	if session.Status != models.SessionConnected || session.ConnectedAt == nil {
		t.Fatalf("after connect = %+v", session)
	}

	rule := models.AutoReplyRule{AccountID: e.account.ID, SessionID: &session.ID, Name: "r",
		Keywords: []string{"oi"}, MatchMode: models.MatchAny, Enabled: true}
	e.db.Create(&rule)

	if status, _ = e.do("POST", "/api/sessions/"+session.ID+"/disconnect", nil); status != fiber.StatusOK {
		t.Fatalf("disconnect status = %d", status)
	}
	status, resp = e.do("DELETE", "/api/sessions/"+session.ID, nil)
	if status != fiber.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if len(resp.Warnings) != 1 {
		t.Fatalf("warnings = %v", resp.Warnings)
	}

	var reloaded models.AutoReplyRule
	e.db.First(&reloaded, "id = ?", rule.ID)
	if reloaded.SessionID != nil {
		t.Fatalf("rule still bound to deleted session %q", *reloaded.SessionID)
	}
	if reloaded.Enabled {
		t.Fatal("detached rule left enabled for every session")
	}
}

func TestConnectRejectsMalformedToken(t *testing.T) {
	e := newTestEnv(t)
	mountSessions(e)

	_, resp := e.do("POST", "/api/sessions", fiber.Map{"phone": "+5511", "bot_token": "not-a-token"})
	var session models.TelegramSession
	decode(t, resp.Data, &session)

	if status, _ := e.do("POST", "/api/sessions/"+session.ID+"/connect", nil); status != fiber.StatusBadRequest {
		t.Fatalf("connect status = %d", status)
	}
	var stored models.TelegramSession
	e.db.First(&stored, "id = ?", session.ID)
	if stored.Status != models.SessionError || stored.LastError == nil {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestDeleteSessionWithRunningCampaign(t *testing.T) {
	e := newTestEnv(t)
	mountSessions(e)
	session := e.seedSession(models.SessionConnected)
	e.db.Create(&models.Campaign{AccountID: e.account.ID, SessionID: session.ID, Name: "c",
		Kind: models.KindText, Status: models.CampaignSending})

	if status, _ := e.do("DELETE", "/api/sessions/"+session.ID, nil); status != fiber.StatusBadRequest {
		t.Fatalf("delete status = %d", status)
	}
}
