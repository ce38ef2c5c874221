package autoreply

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"atendigram/models"

	"github.com/sirupsen/logrus"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEvaluator(repo Repository, ft bool, c *clock) *Evaluator {
	return NewEvaluator(repo, Options{
		CooldownFallthrough: ft,
		Picker:              func(int) int { return 0 },
		Now:                 c.Now,
		Logger:              quietLogger(),
	})
}

func inbound(text string) Inbound {
	return Inbound{AccountID: "acc", ChatID: 42, Text: text}
}

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestEvaluatePriority(t *testing.T) {
	repo := newFakeRepo()
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "low", CreatedAt: t0}, Name: "low", Keywords: []string{"oi"}, Priority: 5}, "low reply")
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "high", CreatedAt: t0.Add(time.Hour)}, Name: "high", Keywords: []string{"oi"}, Priority: 10}, "high reply")

	ev := newTestEvaluator(repo, false, &clock{t0})
	match, err := ev.Evaluate(context.Background(), inbound("oi"))
	if err != nil {
		t.Fatal(err)
	}
	if match == nil || match.Rule.ID != "high" {
		t.Fatalf("expected the priority 10 rule, got %+v", match)
	}
}

func TestSortRulesTieBreak(t *testing.T) {
	rules := []models.AutoReplyRule{
		{Base: models.Base{ID: "b", CreatedAt: t0}, Priority: 1},
		{Base: models.Base{ID: "c", CreatedAt: t0.Add(-time.Minute)}, Priority: 1},
		{Base: models.Base{ID: "a", CreatedAt: t0}, Priority: 1},
		{Base: models.Base{ID: "z", CreatedAt: t0}, Priority: 2},
	}
	SortRules(rules)
	var got string
	for _, r := range rules {
		got += r.ID
	}
	if got != "zcab" {
		t.Fatalf("order = %s", got)
	}
}

func TestEvaluatePriceScenario(t *testing.T) {
	repo := newFakeRepo()
	repo.addRule(models.AutoReplyRule{
		Base:          models.Base{ID: "price"},
		Keywords:      []string{"preço", "valor"},
		MatchMode:     models.MatchAny,
		CooldownHours: hours(24),
	}, "R$ 99", "Nossos planos começam em R$ 99")

	c := &clock{t0}
	ev := newTestEvaluator(repo, false, c)

	match, err := ev.Evaluate(context.Background(), inbound("qual o preço?"))
	if err != nil || match == nil {
		t.Fatalf("first message should fire: %v %v", match, err)
	}
	if match.Message.RuleID != "price" {
		t.Fatalf("message from wrong pool: %+v", match.Message)
	}
	if len(repo.logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(repo.logs))
	}
	entry := repo.logs[0]
	if entry.ChatID != 42 || *entry.TriggerText != "qual o preço?" || *entry.ResponseMessageID != match.Message.ID || !entry.RespondedAt.Equal(t0) {
		t.Fatalf("unexpected log entry %+v", entry)
	}

	c.now = t0.Add(time.Hour)
	if match, _ := ev.Evaluate(context.Background(), inbound("qual o preço?")); match != nil {
		t.Fatal("should not fire within cooldown")
	}

	c.now = t0.Add(25 * time.Hour)
	if match, _ := ev.Evaluate(context.Background(), inbound("qual o preço?")); match == nil {
		t.Fatal("should fire again after cooldown")
	}
	if len(repo.logs) != 2 {
		t.Fatalf("expected two log entries, got %d", len(repo.logs))
	}
}

func TestEvaluateFireOnce(t *testing.T) {
	repo := newFakeRepo()
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "welcome"}, Keywords: []string{"oi"}}, "bem-vindo")

	c := &clock{t0}
	ev := newTestEvaluator(repo, false, c)
	if m, _ := ev.Evaluate(context.Background(), inbound("oi")); m == nil {
		t.Fatal("first message should fire")
	}
	c.now = t0.Add(10000 * time.Hour)
	if m, _ := ev.Evaluate(context.Background(), inbound("oi")); m != nil {
		t.Fatal("fire-once rule fired twice")
	}

	// another chat is independent
	other := inbound("oi")
	other.ChatID = 43
	if m, _ := ev.Evaluate(context.Background(), other); m == nil {
		t.Fatal("other chat should fire")
	}
}

func TestEvaluateZeroCooldown(t *testing.T) {
	repo := newFakeRepo()
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "menu"}, Keywords: []string{"menu"}, MatchMode: models.MatchExact, CooldownHours: hours(0)}, "1) planos")

	ev := newTestEvaluator(repo, false, &clock{t0})
	for i := 0; i < 3; i++ {
		if m, _ := ev.Evaluate(context.Background(), inbound(" Menu ")); m == nil {
			t.Fatalf("evaluation %d did not fire", i)
		}
	}
}

func twoRuleRepo() *fakeRepo {
	repo := newFakeRepo()
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "top"}, Keywords: []string{"oi"}, Priority: 10}, "top reply")
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "next"}, Keywords: []string{"oi"}, Priority: 1, CooldownHours: hours(0)}, "next reply")
	return repo
}

func TestEvaluateCooldownSuppresses(t *testing.T) {
	repo := twoRuleRepo()
	repo.fired[cooldownKey{"top", 42}] = t0.Add(-time.Hour)

	ev := newTestEvaluator(repo, false, &clock{t0})
	m, err := ev.Evaluate(context.Background(), inbound("oi"))
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Fatalf("expected suppression, got %s", m.Rule.ID)
	}
}

func TestEvaluateCooldownFallthrough(t *testing.T) {
	repo := twoRuleRepo()
	repo.fired[cooldownKey{"top", 42}] = t0.Add(-time.Hour)

	ev := newTestEvaluator(repo, true, &clock{t0})
	m, err := ev.Evaluate(context.Background(), inbound("oi"))
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Rule.ID != "next" {
		t.Fatalf("expected fallthrough to next, got %+v", m)
	}
}

func TestEvaluateEmptyPool(t *testing.T) {
	build := func() *fakeRepo {
		repo := newFakeRepo()
		repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "empty"}, Keywords: []string{"oi"}, Priority: 10})
		repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "next"}, Keywords: []string{"oi"}, Priority: 1}, "next reply")
		return repo
	}

	repo := build()
	if m, _ := newTestEvaluator(repo, false, &clock{t0}).Evaluate(context.Background(), inbound("oi")); m != nil {
		t.Fatalf("empty pool should not fire, got %s", m.Rule.ID)
	}
	if len(repo.logs) != 0 {
		t.Fatal("empty pool must not log")
	}

	repo = build()
	m, _ := newTestEvaluator(repo, true, &clock{t0}).Evaluate(context.Background(), inbound("oi"))
	if m == nil || m.Rule.ID != "next" {
		t.Fatalf("expected fallthrough past empty pool, got %+v", m)
	}
}

func TestEvaluateLostClaim(t *testing.T) {
	repo := newFakeRepo()
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "r"}, Keywords: []string{"oi"}, CooldownHours: hours(0)}, "reply")
	repo.loseClaim = true

	m, err := newTestEvaluator(repo, false, &clock{t0}).Evaluate(context.Background(), inbound("oi"))
	if err != nil || m != nil {
		t.Fatalf("lost claim should not fire: %+v %v", m, err)
	}
}

func TestEvaluateSessionScope(t *testing.T) {
	sessA, sessB := "sess-a", "sess-b"
	repo := newFakeRepo()
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "only-a"}, SessionID: &sessA, Keywords: []string{"oi"}, Priority: 10, CooldownHours: hours(0)}, "a")
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "global"}, Keywords: []string{"oi"}, Priority: 1, CooldownHours: hours(0)}, "g")

	ev := newTestEvaluator(repo, false, &clock{t0})

	in := inbound("oi")
	in.SessionID = &sessA
	if m, _ := ev.Evaluate(context.Background(), in); m == nil || m.Rule.ID != "only-a" {
		t.Fatalf("session a should use its rule, got %+v", m)
	}

	in.SessionID = &sessB
	if m, _ := ev.Evaluate(context.Background(), in); m == nil || m.Rule.ID != "global" {
		t.Fatalf("session b should use the global rule, got %+v", m)
	}
}

func TestEvaluateSkipsDisabledAndOtherAccounts(t *testing.T) {
	repo := newFakeRepo()
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "off"}, Keywords: []string{"oi"}}, "x")
	repo.rules[0].Enabled = false
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "foreign"}, AccountID: "other", Keywords: []string{"oi"}}, "y")

	if m, _ := newTestEvaluator(repo, true, &clock{t0}).Evaluate(context.Background(), inbound("oi")); m != nil {
		t.Fatalf("unexpected match %s", m.Rule.ID)
	}
}

func TestEvaluateRepositoryError(t *testing.T) {
	repo := newFakeRepo()
	repo.scopedErr = errors.New("boom")
	if _, err := newTestEvaluator(repo, false, &clock{t0}).Evaluate(context.Background(), inbound("oi")); err == nil {
		t.Fatal("expected error")
	}
}
