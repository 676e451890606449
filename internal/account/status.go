// Package account owns the contact lifecycle: the status graph, the
// confidence scorer, the daily enforcement jobs and the event hooks that
// send/track/reply collaborators call.
package account

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Status is an account lifecycle state.
type Status string

const (
	Cold      Status = "cold"
	Contacted Status = "contacted"
	Engaged   Status = "engaged"
	Qualified Status = "qualified"
	Partnered Status = "partnered"
	Revisit   Status = "revisit"
	DNC       Status = "dnc"
)

// next_action tags written alongside a status change.
const (
	NextRevisitExpiry     = "revisit_expiry"
	NextPermanentDNC      = "permanent_dnc"
	NextNoReplyRevisit    = "no_reply_revisit"
	NextNegativeReply     = "negative_reply_revisit"
	NextFollowupExhausted = "followup_exhausted"
)

// Transitions is the fixed lifecycle graph. DNC has no outgoing edges.
var Transitions = map[Status][]Status{
	Cold:      {Contacted, Revisit, DNC},
	Contacted: {Engaged, Revisit, DNC},
	Engaged:   {Qualified, Revisit, DNC},
	Qualified: {Partnered, Revisit, DNC},
	Partnered: {Revisit, DNC},
	Revisit:   {Cold, DNC},
	DNC:       {},
}

// AllStatuses lists every state in lifecycle order.
var AllStatuses = []Status{Cold, Contacted, Engaged, Qualified, Partnered, Revisit, DNC}

var (
	ErrContactNotFound   = errors.New("contact not found")
	ErrPermanentDNC      = errors.New("contact is dnc: permanent, cannot transition")
	ErrInvalidTransition = errors.New("invalid transition")
)

// InvalidTransitionError names the rejected edge and what was allowed instead.
type InvalidTransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = string(s)
	}
	return fmt.Sprintf("invalid transition: %s → %s. Allowed: %s", e.From, e.To, strings.Join(names, ", "))
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Transitions[st]; !ok {
		return "", fmt.Errorf("unknown account status %q", s)
	}
	return st, nil
}

// Allowed returns the destinations reachable from s, sorted by name.
func Allowed(s Status) []Status {
	out := append([]Status(nil), Transitions[s]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanTransition reports whether from → to is an edge of the graph.
func CanTransition(from, to Status) bool {
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionResult is the outcome of a requested status change. Validation
// failures are reported in Err; they are never returned as Go errors.
type TransitionResult struct {
	Success   bool
	Skipped   bool
	OldStatus Status
	NewStatus Status
	Err       error
}

func isValidation(err error) bool {
	return errors.Is(err, ErrContactNotFound) ||
		errors.Is(err, ErrPermanentDNC) ||
		errors.Is(err, ErrInvalidTransition)
}
