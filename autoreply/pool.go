package autoreply

import (
	"math/rand/v2"

	"atendigram/models"
)

// Picker returns an index in [0, n).
type Picker func(n int) int

// RandomPicker draws uniformly.
func RandomPicker(n int) int {
	return rand.IntN(n)
}

// Pick chooses one message from the rule's own pool. Messages belonging to other
// rules are ignored. It returns false when nothing is left to choose from.
func Pick(ruleID string, pool []models.AutoReplyMessage, pick Picker) (models.AutoReplyMessage, bool) {
	own := make([]models.AutoReplyMessage, 0, len(pool))
	for _, m := range pool {
		if m.RuleID == ruleID {
			own = append(own, m)
		}
	}
	switch len(own) {
	case 0:
		return models.AutoReplyMessage{}, false
	case 1:
		return own[0], true
	}
	if pick == nil {
		pick = RandomPicker
	}
	i := pick(len(own))
	if i < 0 || i >= len(own) {
		i = 0
	}
	return own[i], true
}
