package lifecycle

import (
	"testing"
	"time"

	"github.com/cosplatform/eventcore/internal/models"
)

var allStatuses = []models.EventStatus{
	models.EventStatusDraft,
	models.EventStatusPending,
	models.EventStatusApproved,
	models.EventStatusRejected,
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTransition_Table(t *testing.T) {
	legal := map[[2]models.EventStatus]bool{
		{models.EventStatusDraft, models.EventStatusPending}:     true,
		{models.EventStatusDraft, models.EventStatusApproved}:    true,
		{models.EventStatusPending, models.EventStatusApproved}:  true,
		{models.EventStatusPending, models.EventStatusRejected}:  true,
		{models.EventStatusApproved, models.EventStatusRejected}: true,
		{models.EventStatusApproved, models.EventStatusPending}:  true,
		{models.EventStatusRejected, models.EventStatusPending}:  true,
		{models.EventStatusRejected, models.EventStatusDraft}:    true,
	}

	m := New(nil)
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			e := &models.Event{ID: 1, Status: from}
			res := m.Transition(e, to, 7)

			switch {
			case from == to:
				if !res.OK || res.Changed {
					t.Errorf("%s -> %s: self transition should be a no-op success, got %+v", from, to, res)
				}
				if e.Status != from {
					t.Errorf("%s -> %s: status changed on self transition", from, to)
				}
			case legal[[2]models.EventStatus{from, to}]:
				if !res.OK || !res.Changed {
					t.Errorf("%s -> %s: expected success, got %+v", from, to, res)
				}
				if e.Status != to {
					t.Errorf("%s -> %s: status = %s", from, to, e.Status)
				}
			default:
				if res.OK {
					t.Errorf("%s -> %s: expected failure", from, to)
				}
				want := "Cannot transition from '" + string(from) + "' to '" + string(to) + "'"
				if res.Reason != want {
					t.Errorf("%s -> %s: reason = %q, want %q", from, to, res.Reason, want)
				}
				if e.Status != from {
					t.Errorf("%s -> %s: status mutated to %s on failure", from, to, e.Status)
				}
			}
		}
	}
}

func TestTransition_ApprovedToDraftFails(t *testing.T) {
	e := &models.Event{Status: models.EventStatusApproved}
	res := New(nil).Transition(e, models.EventStatusDraft, 1)
	if res.OK {
		t.Fatal("approved -> draft must fail")
	}
	if e.Status != models.EventStatusApproved {
		t.Fatalf("status = %s, want approved", e.Status)
	}
}

func TestTransition_UnknownStatus(t *testing.T) {
	e := &models.Event{Status: models.EventStatusDraft}
	res := New(nil).Transition(e, "archived", 1)
	if res.OK || res.Reason != "Invalid status: archived" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNoTerminalStatus(t *testing.T) {
	for _, s := range allStatuses {
		if IsTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestValidateAction(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	future := &models.Event{Status: models.EventStatusApproved, StartTime: now.Add(time.Hour), EndTime: now.Add(3 * time.Hour)}
	past := &models.Event{Status: models.EventStatusApproved, StartTime: now.Add(-3 * time.Hour), EndTime: now.Add(-time.Hour)}
	running := &models.Event{Status: models.EventStatusApproved, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}
	pending := &models.Event{Status: models.EventStatusPending, StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour)}
	canceledAt := now.Add(-time.Minute)
	canceled := &models.Event{Status: models.EventStatusApproved, StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour), CanceledAt: &canceledAt}

	tests := []struct {
		name   string
		event  *models.Event
		action Action
		want   bool
	}{
		{"register approved", future, ActionRegister, true},
		{"register pending", pending, ActionRegister, false},
		{"register canceled", canceled, ActionRegister, false},
		{"register ended", past, ActionRegister, false},
		{"scan approved", running, ActionScanAttendance, true},
		{"scan pending", pending, ActionScanAttendance, false},
		{"certificate after end", past, ActionIssueCertificate, true},
		{"certificate while running", running, ActionIssueCertificate, false},
		{"certificate pending", pending, ActionIssueCertificate, false},
		{"cancel upcoming", future, ActionCancel, true},
		{"cancel running", running, ActionCancel, false},
		{"cancel twice", canceled, ActionCancel, false},
		{"edit pending", pending, ActionEdit, true},
		{"edit past", past, ActionEdit, true},
		{"unknown action", future, Action("teleport"), false},
	}

	m := New(fixedClock(now))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.ValidateAction(tt.event, tt.action)
			if res.OK != tt.want {
				t.Errorf("ValidateAction(%s) = %+v, want OK=%v", tt.action, res, tt.want)
			}
			if !res.OK && res.Reason == "" {
				t.Error("denial without a reason")
			}
		})
	}
}
