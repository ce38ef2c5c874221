package autoreply

import (
	"context"
	"testing"
	"time"

	"atendigram/models"
)

func TestCachedRepositoryServesFromCache(t *testing.T) {
	repo := newFakeRepo()
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "r1"}, Keywords: []string{"oi"}}, "x")
	cached := NewCachedRepository(repo, repo, time.Minute)

	for i := 0; i < 3; i++ {
		rules, err := cached.EnabledRules(context.Background(), "acc", nil)
		if err != nil || len(rules) != 1 {
			t.Fatalf("rules = %v, %v", rules, err)
		}
	}
	if repo.calls != 1 {
		t.Fatalf("source called %d times", repo.calls)
	}

	cached.Invalidate("acc")
	if _, err := cached.EnabledRules(context.Background(), "acc", nil); err != nil {
		t.Fatal(err)
	}
	if repo.calls != 2 {
		t.Fatalf("source called %d times after invalidate", repo.calls)
	}
}

func TestCachedRepositorySetEnabled(t *testing.T) {
	repo := newFakeRepo()
	repo.addRule(models.AutoReplyRule{Base: models.Base{ID: "r1"}, Keywords: []string{"oi"}}, "x")
	sess := "s1"
	cached := NewCachedRepository(repo, repo, time.Minute)

	if _, err := cached.EnabledRules(context.Background(), "acc", &sess); err != nil {
		t.Fatal(err)
	}

	cached.SetEnabled("acc", "r1", false)
	rules, _ := cached.EnabledRules(context.Background(), "acc", &sess)
	if len(rules) != 0 {
		t.Fatalf("disabled rule still served: %v", rules)
	}

	cached.SetEnabled("acc", "r1", true)
	rules, _ = cached.EnabledRules(context.Background(), "acc", &sess)
	if len(rules) != 1 {
		t.Fatalf("re-enabled rule missing: %v", rules)
	}
	if repo.calls != 1 {
		t.Fatalf("source called %d times", repo.calls)
	}
	// the stored rule is untouched
	if !repo.rules[0].Enabled {
		t.Fatal("SetEnabled wrote through to the source")
	}
}
