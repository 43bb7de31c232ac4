package services

import (
	"testing"
	"time"

	"github.com/cosplatform/eventcore/internal/models"
	apperrors "github.com/cosplatform/eventcore/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCreateEvent_Validation(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	member := h.user(t, "member")
	c := h.community(t, owner)
	h.join(t, member, c.ID)
	start := h.clock.Now().Add(time.Hour)

	tests := []struct {
		name  string
		actor *models.User
		in    EventInput
		code  string
	}{
		{"missing title", owner, EventInput{CommunityID: &c.ID, Title: "<b></b>", StartTime: start, EndTime: start.Add(time.Hour)}, apperrors.ErrCodeValidation},
		{"end before start", owner, EventInput{CommunityID: &c.ID, Title: "x", StartTime: start, EndTime: start.Add(-time.Hour)}, apperrors.ErrCodeValidation},
		{"capacity too large", owner, EventInput{CommunityID: &c.ID, Title: "x", StartTime: start, EndTime: start.Add(time.Hour), Capacity: models.MaxEventCapacity + 1}, apperrors.ErrCodeValidation},
		{"plain member", member, EventInput{CommunityID: &c.ID, Title: "x", StartTime: start, EndTime: start.Add(time.Hour)}, apperrors.ErrCodeForbidden},
		{"no community", owner, EventInput{Title: "x", StartTime: start, EndTime: start.Add(time.Hour)}, apperrors.ErrCodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Events.CreateEvent(h.ctx, tt.actor, tt.in)
			require.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}

	root := h.systemAdmin(t, "root")
	global, err := h.svc.Events.CreateEvent(h.ctx, root, EventInput{Title: "Global", IsPublic: true, StartTime: start, EndTime: start.Add(time.Hour)})
	require.NoError(t, err)
	require.Nil(t, global.CommunityID)
	require.Equal(t, models.EventStatusDraft, global.Status)
}

func TestChangeStatus_PublishCreditsOrganizerOnce(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	org := h.user(t, "org")
	c := h.community(t, owner)
	orgM := h.join(t, org, c.ID)
	_, err := h.svc.Communities.ChangeMemberRole(h.ctx, owner, c.ID, orgM.ID, models.CommunityRoleOrganizer)
	require.NoError(t, err)

	e := h.draftEvent(t, org, c.ID, eventOpts{})
	base := h.xp(t, org.ID, c.ID)

	res, err := h.svc.Events.ChangeStatus(h.ctx, org, e.ID, models.EventStatusPending)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, models.EventStatusDraft, res.From)
	require.Len(t, h.activities(t, models.VerbEventSubmittedForApproval), 1)

	_, err = h.svc.Events.ChangeStatus(h.ctx, org, e.ID, models.EventStatusApproved)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))

	res, err = h.svc.Events.ChangeStatus(h.ctx, owner, e.ID, models.EventStatusApproved)
	require.NoError(t, err)
	require.Equal(t, models.EventStatusApproved, res.Event.Status)

	published := h.activities(t, models.VerbEventPublished)
	require.Len(t, published, 1)
	require.Equal(t, org.ID, published[0].ActorID)
	require.Equal(t, jsonID(owner.ID), published[0].Metadata["approved_by"])
	require.Equal(t, base+50, h.xp(t, org.ID, c.ID))
	require.Zero(t, h.xp(t, owner.ID, c.ID))

	// Pulling back and re-approving does not pay out again.
	_, err = h.svc.Events.ChangeStatus(h.ctx, org, e.ID, models.EventStatusPending)
	require.NoError(t, err)
	_, err = h.svc.Events.ChangeStatus(h.ctx, owner, e.ID, models.EventStatusApproved)
	require.NoError(t, err)
	require.Len(t, h.activities(t, models.VerbEventPublished), 1)
	require.Equal(t, base+50, h.xp(t, org.ID, c.ID))

	res, err = h.svc.Events.ChangeStatus(h.ctx, owner, e.ID, models.EventStatusApproved)
	require.NoError(t, err)
	require.False(t, res.Changed)

	// The organizer may not approve, but approved to approved is a no-op.
	res, err = h.svc.Events.ChangeStatus(h.ctx, org, e.ID, models.EventStatusApproved)
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.Equal(t, models.EventStatusApproved, res.From)

	_, err = h.svc.Events.ChangeStatus(h.ctx, owner, e.ID, models.EventStatusDraft)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidTransition))
	stored, err := h.svc.Events.GetEvent(h.ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, models.EventStatusApproved, stored.Status)

	res, err = h.svc.Events.ChangeStatus(h.ctx, owner, e.ID, models.EventStatusRejected)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Len(t, h.activities(t, models.VerbEventRejected), 1)

	res, err = h.svc.Events.ChangeStatus(h.ctx, org, e.ID, models.EventStatusDraft)
	require.NoError(t, err)
	require.Equal(t, models.EventStatusDraft, res.Event.Status)

	_, err = h.svc.Events.ChangeStatus(h.ctx, owner, e.ID, models.EventStatus("archived"))
	require.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidTransition))
}

func TestUpdateEvent(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	a := h.user(t, "a")
	b := h.user(t, "b")
	stranger := h.user(t, "stranger")
	c := h.community(t, owner)
	e := h.approvedEvent(t, owner, owner, c.ID, eventOpts{capacity: 5})
	h.register(t, a, e.ID)
	h.register(t, b, e.ID)

	title := "Renamed <i>meetup</i>"
	one := 1
	_, err := h.svc.Events.UpdateEvent(h.ctx, owner, e.ID, EventUpdate{Capacity: &one})
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	_, err = h.svc.Events.UpdateEvent(h.ctx, stranger, e.ID, EventUpdate{Title: &title})
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))

	two := 2
	updated, err := h.svc.Events.UpdateEvent(h.ctx, owner, e.ID, EventUpdate{Title: &title, Capacity: &two})
	require.NoError(t, err)
	require.Equal(t, "Renamed meetup", updated.Title)
	require.Equal(t, 2, updated.Capacity)

	acts := h.activities(t, models.VerbEventUpdated)
	require.Len(t, acts, 1)
	require.ElementsMatch(t, []interface{}{"title", "capacity"}, acts[0].Metadata["fields"])

	badEnd := e.StartTime.Add(-time.Minute)
	_, err = h.svc.Events.UpdateEvent(h.ctx, owner, e.ID, EventUpdate{EndTime: &badEnd})
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
}

func TestDeleteEvent(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	org := h.user(t, "org")
	c := h.community(t, owner)
	orgM := h.join(t, org, c.ID)
	_, err := h.svc.Communities.ChangeMemberRole(h.ctx, owner, c.ID, orgM.ID, models.CommunityRoleOrganizer)
	require.NoError(t, err)
	e := h.draftEvent(t, org, c.ID, eventOpts{})

	// Community events are removed by moderators, not by their organizer.
	require.True(t, apperrors.Is(h.svc.Events.DeleteEvent(h.ctx, org, e.ID), apperrors.ErrCodeForbidden))
	require.NoError(t, h.svc.Events.DeleteEvent(h.ctx, owner, e.ID))

	_, err = h.svc.Events.GetEvent(h.ctx, e.ID)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	require.Len(t, h.activities(t, models.VerbEventDeleted), 1)
}
