package account

import (
	"context"
	"fmt"
	"log"

	"github.com/jonboulle/clockwork"

	"github.com/TobiSchelling/outreach/internal/config"
	"github.com/TobiSchelling/outreach/internal/database"
)

// Manager applies lifecycle transitions and keeps confidence scores current.
type Manager struct {
	db    *database.DB
	cfg   config.Account
	clock clockwork.Clock
}

// NewManager creates a lifecycle manager. A nil clock uses the wall clock.
func NewManager(db *database.DB, cfg config.Account, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.ConfidenceWeights == nil {
		cfg.ConfidenceWeights = config.DefaultConfidenceWeights()
	}
	return &Manager{db: db, cfg: cfg, clock: clock}
}

func (m *Manager) today() string {
	return database.FormatDate(m.clock.Now())
}

// change is the single internal description of a status mutation. Every
// path in this package, validated or system-driven, goes through apply.
type change struct {
	to    Status
	notes string
	// from restricts the change to contacts currently in one of these
	// states; anything else is a silent skip.
	from []Status
	// force skips the graph check for system escalations. DNC permanence
	// is enforced regardless.
	force bool
	// nextAction and timerDays override the revisit defaults.
	nextAction string
	timerDays  int
}

// TransitionStatus moves a contact along the lifecycle graph. Validation
// failures come back in the result with nothing written; the error return
// is reserved for storage failures.
func (m *Manager) TransitionStatus(ctx context.Context, id int64, to Status, notes string) (*TransitionResult, error) {
	return m.apply(ctx, id, change{to: to, notes: notes})
}

// MarkDNC moves a contact to the permanent do-not-contact state.
func (m *Manager) MarkDNC(ctx context.Context, id int64, reason string) (*TransitionResult, error) {
	return m.TransitionStatus(ctx, id, DNC, reason)
}

func (m *Manager) apply(ctx context.Context, id int64, ch change) (*TransitionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	today := m.today()
	result := &TransitionResult{NewStatus: ch.to}

	applied, err := m.db.ChangeStatus(id, func(c *database.Contact) (*database.StatusChange, error) {
		if c == nil {
			return nil, ErrContactNotFound
		}
		old := Status(c.AccountStatus)
		if old == "" {
			old = Cold
		}
		result.OldStatus = old

		if len(ch.from) > 0 && !containsStatus(ch.from, old) {
			result.Skipped = true
			return nil, nil
		}
		if old == DNC {
			return nil, ErrPermanentDNC
		}
		if !ch.force && !CanTransition(old, ch.to) {
			return nil, &InvalidTransitionError{From: old, To: ch.to, Allowed: Allowed(old)}
		}

		sc := &database.StatusChange{
			From:         string(old),
			To:           string(ch.to),
			TouchDate:    today,
			TouchSubject: fmt.Sprintf("Status: %s → %s", old, ch.to),
			TouchNotes:   ch.notes,
		}
		switch ch.to {
		case Revisit:
			tag := ch.nextAction
			if tag == "" {
				tag = NextRevisitExpiry
			}
			days := ch.timerDays
			if days <= 0 {
				days = m.cfg.RevisitNoReplyDays
			}
			due, err := database.AddDays(today, days)
			if err != nil {
				return nil, err
			}
			sc.NextAction = &tag
			sc.NextActionDate = &due
		case DNC:
			tag, cleared := NextPermanentDNC, ""
			sc.NextAction = &tag
			sc.NextActionDate = &cleared
		}
		return sc, nil
	})
	if err != nil {
		if isValidation(err) {
			result.Err = err
			return result, nil
		}
		return nil, err
	}
	if applied == nil {
		return result, nil
	}

	result.Success = true
	log.Printf("Contact #%d: %s → %s", id, result.OldStatus, result.NewStatus)

	if _, err := m.ComputeConfidenceScore(ctx, id); err != nil {
		log.Printf("Error rescoring contact #%d after transition: %v", id, err)
	}
	return result, nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
