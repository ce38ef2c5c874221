package controller

import (
	"testing"
	"time"

	"atendigram/models"
	"atendigram/utils"

	"github.com/gofiber/fiber/v2"
)

func TestAccountEndpoints(t *testing.T) {
	e := newTestEnv(t)
	ac := NewAccountController(e.db, testSecret, time.Hour)
	e.api.Get("/me", ac.GetCurrentAccount)
	e.api.Put("/me", ac.UpdateAccount)
	e.api.Post("/auth/refresh", ac.RefreshToken)

	status, resp := e.do("GET", "/api/me", nil)
	if status != fiber.StatusOK {
		t.Fatalf("me status = %d", status)
	}
	var account models.Account
	decode(t, resp.Data, &account)
	if account.Email != "owner@example.com" || account.Language != "pt-BR" {
		t.Fatalf("account = %+v", account)
	}

	if status, _ := e.do("PUT", "/api/me", fiber.Map{"timezone": "Mars/Olympus"}); status != fiber.StatusBadRequest {
		t.Fatalf("bad timezone status = %d", status)
	}
	if status, _ := e.do("PUT", "/api/me", fiber.Map{"language": "fr"}); status != fiber.StatusBadRequest {
		t.Fatalf("bad language status = %d", status)
	}
	status, resp = e.do("PUT", "/api/me", fiber.Map{"name": "Loja da Ana", "language": "en", "timezone": "UTC"})
	if status != fiber.StatusOK {
		t.Fatalf("update status = %d (%s)", status, resp.Error)
	}
	decode(t, resp.Data, &account)
	if account.Language != "en" || account.Timezone != "UTC" || account.Name == nil {
		t.Fatalf("updated = %+v", account)
	}

	status, resp = e.do("POST", "/api/auth/refresh", nil)
	if status != fiber.StatusOK {
		t.Fatalf("refresh status = %d", status)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, resp.Data, &tok)
	claims, err := utils.ParseToken(tok.AccessToken, testSecret)
	if err != nil || claims.AccountID != e.account.ID {
		t.Fatalf("claims = %+v, %v", claims, err)
	}
}
