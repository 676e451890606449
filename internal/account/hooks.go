package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/TobiSchelling/outreach/internal/database"
)

// Sentiment is the classification of an inbound reply.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
)

// ParseSentiment maps free text to a sentiment, defaulting to neutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case Positive:
		return Positive
	case Negative:
		return Negative
	default:
		return Neutral
	}
}

// OnEmailSent is called after a send. It moves cold contacts to contacted
// and always logs an outbound touch. When bundleID is set the bundle is
// stamped as sent.
func (m *Manager) OnEmailSent(ctx context.Context, id, bundleID int64) error {
	res, err := m.apply(ctx, id, change{
		to:    Contacted,
		notes: fmt.Sprintf("First email sent (bundle #%d)", bundleID),
		from:  []Status{Cold},
	})
	if err != nil {
		return err
	}
	if errors.Is(res.Err, ErrContactNotFound) {
		log.Printf("Send hook: contact #%d not found", id)
		return nil
	}

	if bundleID > 0 {
		if err := m.db.MarkBundleSent(bundleID, database.FormatTimestamp(m.clock.Now())); err != nil {
			return fmt.Errorf("marking bundle %d sent: %w", bundleID, err)
		}
	}

	if _, err := m.db.RecordTouch(&database.Touch{
		ContactID: id,
		Channel:   "email",
		Direction: "outbound",
		Subject:   "Email sent",
		Notes:     fmt.Sprintf("bundle_id=%d", bundleID),
		TouchDate: m.today(),
	}); err != nil {
		return fmt.Errorf("logging send touch: %w", err)
	}

	if bundleID > 0 {
		// The send timestamp feeds recent_activity.
		if _, err := m.ComputeConfidenceScore(ctx, id); err != nil {
			log.Printf("Error rescoring contact #%d after send: %v", id, err)
		}
	}
	return nil
}

// OnEmailOpened is called when an open is tracked. Only contacted moves to
// engaged; repeat opens and any other state are no-ops for the lifecycle.
func (m *Manager) OnEmailOpened(ctx context.Context, id, bundleID int64) error {
	if bundleID > 0 {
		if _, err := m.db.RecordBundleOpen(bundleID); err != nil && !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("recording open on bundle %d: %w", bundleID, err)
		}
	}

	res, err := m.apply(ctx, id, change{
		to:    Engaged,
		notes: fmt.Sprintf("Email opened (bundle #%d)", bundleID),
		from:  []Status{Contacted},
	})
	if err != nil {
		return err
	}
	if errors.Is(res.Err, ErrContactNotFound) {
		log.Printf("Open hook: contact #%d not found", id)
		return nil
	}
	if res.Skipped && bundleID > 0 {
		// has_opens changed even though the status did not.
		if _, err := m.ComputeConfidenceScore(ctx, id); err != nil {
			log.Printf("Error rescoring contact #%d after open: %v", id, err)
		}
	}
	return nil
}

// OnReplyReceived is called once a reply has been classified. A negative
// reply parks the account on the longer negative timer; anything else
// advances cold → contacted or contacted → engaged. An inbound touch is
// always logged.
func (m *Manager) OnReplyReceived(ctx context.Context, id int64, sentiment Sentiment, bundleID int64) error {
	c, err := m.db.GetContact(id)
	if err != nil {
		return err
	}
	if c == nil {
		log.Printf("Reply hook: contact #%d not found", id)
		return nil
	}

	var ch *change
	switch {
	case sentiment == Negative:
		ch = &change{
			to:         Revisit,
			notes:      "Negative reply received",
			force:      true,
			nextAction: NextNegativeReply,
			timerDays:  m.cfg.RevisitNegativeDays,
		}
	case Status(c.AccountStatus) == Cold:
		ch = &change{to: Contacted, notes: fmt.Sprintf("Reply received (%s)", sentiment), from: []Status{Cold}}
	case Status(c.AccountStatus) == Contacted:
		ch = &change{to: Engaged, notes: fmt.Sprintf("Reply received (%s)", sentiment), from: []Status{Contacted}}
	}

	if ch != nil {
		res, err := m.apply(ctx, id, *ch)
		if err != nil {
			return err
		}
		if res.Err != nil {
			log.Printf("Reply hook: contact #%d not moved: %v", id, res.Err)
		}
	}

	if bundleID > 0 {
		if err := m.db.SetBundleStatus(bundleID, "replied"); err != nil {
			return fmt.Errorf("marking bundle %d replied: %w", bundleID, err)
		}
	}

	if _, err := m.db.RecordTouch(&database.Touch{
		ContactID: id,
		Channel:   "email",
		Direction: "inbound",
		Subject:   "Reply received",
		Notes:     fmt.Sprintf("sentiment=%s bundle_id=%d", sentiment, bundleID),
		TouchDate: m.today(),
	}); err != nil {
		return fmt.Errorf("logging reply touch: %w", err)
	}
	return nil
}

// OnFollowupExhausted parks a cold, contacted or engaged account once its
// follow-up sequence has run out.
func (m *Manager) OnFollowupExhausted(ctx context.Context, id int64) error {
	res, err := m.apply(ctx, id, change{
		to:         Revisit,
		notes:      "Follow-up sequence exhausted",
		from:       []Status{Cold, Contacted, Engaged},
		force:      true,
		nextAction: NextFollowupExhausted,
		timerDays:  m.cfg.RevisitNoReplyDays,
	})
	if err != nil {
		return err
	}
	switch {
	case errors.Is(res.Err, ErrContactNotFound):
		log.Printf("Follow-up hook: contact #%d not found", id)
	case res.Success:
		log.Printf("Contact #%d parked to revisit (follow-up exhausted)", id)
	}
	return nil
}
