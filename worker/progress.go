package worker

import (
	"sync"

	"atendigram/models"
)

// Progress is the snapshot pushed to campaign progress subscribers.
type Progress struct {
	CampaignID string `json:"campaign_id"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
	Percent    int    `json:"percent"`
	Status     string `json:"status"`
}

func ProgressOf(c models.Campaign) Progress {
	p := Progress{
		CampaignID: c.ID,
		Sent:       c.SentCount,
		Failed:     c.FailedCount,
		Total:      c.TotalRecipients,
		Status:     c.Status,
	}
	if p.Total > 0 {
		p.Percent = (p.Sent + p.Failed) * 100 / p.Total
	}
	if c.Status == models.CampaignCompleted {
		p.Percent = 100
	}
	return p
}

// ProgressHub fans campaign progress out to websocket subscribers. Slow
// subscribers miss intermediate snapshots rather than block the sender.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[string]map[chan Progress]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: map[string]map[chan Progress]struct{}{}}
}

// Subscribe returns a channel of updates for one campaign and a func that ends
// the subscription.
func (h *ProgressHub) Subscribe(campaignID string) (<-chan Progress, func()) {
	ch := make(chan Progress, 16)

	h.mu.Lock()
	if h.subs[campaignID] == nil {
		h.subs[campaignID] = map[chan Progress]struct{}{}
	}
	h.subs[campaignID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[campaignID], ch)
			if len(h.subs[campaignID]) == 0 {
				delete(h.subs, campaignID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *ProgressHub) Publish(p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[p.CampaignID] {
		select {
		case ch <- p:
		default:
		}
	}
}

func (h *ProgressHub) Subscribers(campaignID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[campaignID])
}
