package account

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/TobiSchelling/outreach/internal/config"
	"github.com/TobiSchelling/outreach/internal/database"
)

const recentActivityWindow = 30 * 24 * time.Hour

// Score is the pure confidence function: the clamped sum of every
// applicable weighted factor.
func Score(in *database.ConfidenceInputs, weights map[string]int, now time.Time) int {
	c := in.Contact
	total := 0
	add := func(key string, cond bool) {
		if cond {
			total += weights[key]
		}
	}

	switch c.EmailStatus {
	case "verified":
		add(config.WeightEmailVerified, true)
	case "likely":
		add(config.WeightEmailLikely, true)
	}

	hasName := strings.TrimSpace(c.ContactName) != ""
	hasTitle := strings.TrimSpace(c.TitleRole) != ""
	add(config.WeightDecisionMaker, c.DecisionMakerFound || (hasName && hasTitle))
	add(config.WeightWebsiteExists, strings.TrimSpace(c.Website) != "")
	add(config.WeightPhoneExists, strings.TrimSpace(c.Phone) != "")
	add(config.WeightHighValueTier, c.Tier == "A" || c.Tier == "HOT")
	add(config.WeightHasNewsSignal, in.SignalCount > 0)

	switch Status(c.AccountStatus) {
	case Engaged, Qualified, Partnered:
		add(config.WeightAccountEngaged, true)
	}

	add(config.WeightHasOpens, in.HasOpens)

	if sent, ok := database.ParseTimestamp(in.LastSent); ok {
		add(config.WeightRecentActivity, now.Sub(sent) <= recentActivityWindow)
	}

	return clamp(total, 0, 100)
}

// ComputeConfidenceScore recomputes and stores a contact's score. A missing
// contact scores 0 and nothing is written.
func (m *Manager) ComputeConfidenceScore(_ context.Context, id int64) (int, error) {
	in, err := m.db.GetConfidenceInputs(id)
	if err != nil {
		return 0, err
	}
	if in == nil {
		return 0, nil
	}

	score := Score(in, m.cfg.ConfidenceWeights, m.clock.Now())
	if err := m.db.SetConfidenceScore(id, score); err != nil {
		return 0, err
	}
	return score, nil
}

// BatchRecalculateConfidence rescores every contact not in dnc.
func (m *Manager) BatchRecalculateConfidence(ctx context.Context) (int, error) {
	ids, err := m.db.ListScorableContactIDs()
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if _, err := m.ComputeConfidenceScore(ctx, id); err != nil {
			log.Printf("Error scoring contact #%d: %v", id, err)
			continue
		}
		updated++
	}

	log.Printf("Confidence recalculated for %d contacts", updated)
	return updated, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
