// Package lifecycle holds the event status state machine and the status
// gates for operations that depend on it.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/pkg/logger"
)

type Action string

const (
	ActionRegister         Action = "register"
	ActionScanAttendance   Action = "scan_attendance"
	ActionIssueCertificate Action = "issue_certificate"
	ActionCancel           Action = "cancel"
	ActionEdit             Action = "edit"
)

// Result is the outcome of a transition or gate check.
type Result struct {
	OK     bool
	Reason string
	// Changed is false for a successful self-transition.
	Changed bool
}

var transitions = map[models.EventStatus][]models.EventStatus{
	models.EventStatusDraft:    {models.EventStatusPending, models.EventStatusApproved},
	models.EventStatusPending:  {models.EventStatusApproved, models.EventStatusRejected},
	models.EventStatusApproved: {models.EventStatusRejected, models.EventStatusPending},
	models.EventStatusRejected: {models.EventStatusPending, models.EventStatusDraft},
}

// ValidStatus reports whether s is a known event status.
func ValidStatus(s models.EventStatus) bool {
	_, ok := transitions[s]
	return ok
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s models.EventStatus) []models.EventStatus {
	out := make([]models.EventStatus, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// IsTerminal reports whether no transition leaves s. No status is terminal
// today; rejected events can always be resubmitted.
func IsTerminal(s models.EventStatus) bool {
	return len(transitions[s]) == 0
}

type Machine struct {
	now func() time.Time
}

// New returns a Machine reading time from now; nil means time.Now.
func New(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{now: now}
}

func (m *Machine) Now() time.Time {
	return m.now()
}

// CanTransition checks from -> to against the transition table.
func (m *Machine) CanTransition(from, to models.EventStatus) Result {
	if from == to {
		return Result{OK: true, Reason: "Same status"}
	}
	if !ValidStatus(to) {
		return Result{Reason: fmt.Sprintf("Invalid status: %s", to)}
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return Result{OK: true, Changed: true}
		}
	}
	return Result{Reason: fmt.Sprintf("Cannot transition from '%s' to '%s'", from, to)}
}

// Transition moves e to status to. On failure e is left untouched. Only
// e.Status is modified; persisting it is the caller's job.
func (m *Machine) Transition(e *models.Event, to models.EventStatus, actorID uint) Result {
	from := e.Status
	res := m.CanTransition(from, to)
	if !res.OK {
		logger.Warn("Invalid event transition",
			"event_id", e.ID, "from", from, "to", to, "actor_id", actorID, "reason", res.Reason)
		return res
	}
	if !res.Changed {
		return res
	}

	e.Status = to
	logger.Info("Event transition", "event_id", e.ID, "from", from, "to", to, "actor_id", actorID)
	return Result{OK: true, Changed: true, Reason: fmt.Sprintf("Transitioned from '%s' to '%s'", from, to)}
}

// ValidateAction reports whether action may run on e in its current state.
func (m *Machine) ValidateAction(e *models.Event, action Action) Result {
	now := m.now()

	switch action {
	case ActionEdit:
		return Result{OK: true}

	case ActionRegister:
		if e.Status != models.EventStatusApproved {
			return Result{Reason: "Registration is only open for approved events"}
		}
		if e.IsCanceled() {
			return Result{Reason: "Event has been canceled"}
		}
		if e.HasEnded(now) {
			return Result{Reason: "Event has already ended"}
		}
		return Result{OK: true}

	case ActionScanAttendance:
		if e.Status != models.EventStatusApproved {
			return Result{Reason: "Attendance can only be scanned for approved events"}
		}
		if e.IsCanceled() {
			return Result{Reason: "Event has been canceled"}
		}
		return Result{OK: true}

	case ActionIssueCertificate:
		if e.Status != models.EventStatusApproved {
			return Result{Reason: "Certificates can only be issued for approved events"}
		}
		if e.IsCanceled() {
			return Result{Reason: "Event has been canceled"}
		}
		if !e.HasEnded(now) {
			return Result{Reason: "Certificates can only be issued after the event has ended"}
		}
		return Result{OK: true}

	case ActionCancel:
		if e.IsCanceled() {
			return Result{Reason: "Event is already canceled"}
		}
		if e.HasStarted(now) {
			return Result{Reason: "Cannot cancel an event that has already started"}
		}
		return Result{OK: true}
	}

	return Result{Reason: fmt.Sprintf("Unknown action: %s", action)}
}
