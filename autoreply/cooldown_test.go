package autoreply

import (
	"testing"
	"time"

	"atendigram/models"
)

func hours(h float64) *float64 { return &h }

func TestEligible(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }

	tests := []struct {
		name     string
		cooldown *float64
		last     *time.Time
		want     bool
	}{
		{"never fired", nil, nil, true},
		{"fire once after one entry", nil, at(1000 * time.Hour), false},
		{"zero cooldown", hours(0), at(time.Second), true},
		{"boundary is eligible", hours(24), at(24 * time.Hour), true},
		{"just before boundary", hours(24), at(24*time.Hour - time.Millisecond), false},
		{"fractional hours", hours(0.5), at(31 * time.Minute), true},
		{"never fired with cooldown", hours(24), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(tt.cooldown, tt.last, now); got != tt.want {
				t.Fatalf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewClaim(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rule := models.AutoReplyRule{Base: models.Base{ID: "r1"}}

	if c := NewClaim(rule, 7, now); c.Mode != ClaimOnce {
		t.Fatalf("nil cooldown mode = %v", c.Mode)
	}

	rule.CooldownHours = hours(0)
	if c := NewClaim(rule, 7, now); c.Mode != ClaimAlways {
		t.Fatalf("zero cooldown mode = %v", c.Mode)
	}

	rule.CooldownHours = hours(2)
	c := NewClaim(rule, 7, now)
	if c.Mode != ClaimAfter || !c.Threshold.Equal(now.Add(-2*time.Hour)) {
		t.Fatalf("claim = %+v", c)
	}
	if c.RuleID != "r1" || c.ChatID != 7 || !c.FiredAt.Equal(now) {
		t.Fatalf("claim identity = %+v", c)
	}
}
