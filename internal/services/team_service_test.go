package services

import (
	"testing"

	"github.com/cosplatform/eventcore/internal/models"
	apperrors "github.com/cosplatform/eventcore/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestTeam_Lifecycle(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	host := h.user(t, "host")
	vol := h.user(t, "vol")
	outsider := h.user(t, "outsider")
	c := h.community(t, owner)
	h.join(t, host, c.ID)
	h.join(t, vol, c.ID)
	e := h.approvedEvent(t, owner, owner, c.ID, eventOpts{})

	_, err := h.svc.Teams.AddMember(h.ctx, owner, e.ID, host.ID, models.TeamRole("organizer"))
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
	_, err = h.svc.Teams.AddMember(h.ctx, owner, e.ID, outsider.ID, models.TeamRoleVolunteer)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation), "outsiders cannot staff community events")
	_, err = h.svc.Teams.AddMember(h.ctx, host, e.ID, vol.ID, models.TeamRoleVolunteer)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))

	tm, err := h.svc.Teams.AddMember(h.ctx, owner, e.ID, host.ID, models.TeamRoleHost)
	require.NoError(t, err)
	require.True(t, tm.IsActive)
	require.Equal(t, owner.ID, tm.AddedByID)

	_, err = h.svc.Teams.AddMember(h.ctx, owner, e.ID, host.ID, models.TeamRoleCoHost)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeAlreadyExists))

	// Hosts manage the team; volunteers only see it.
	_, err = h.svc.Teams.AddMember(h.ctx, host, e.ID, vol.ID, models.TeamRoleVolunteer)
	require.NoError(t, err)
	_, err = h.svc.Teams.ChangeRole(h.ctx, vol, e.ID, vol.ID, models.TeamRoleHost)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))

	team, err := h.svc.Teams.ListTeam(h.ctx, vol, e.ID)
	require.NoError(t, err)
	require.Len(t, team, 2)
	_, err = h.svc.Teams.ListTeam(h.ctx, outsider, e.ID)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))

	changed, err := h.svc.Teams.ChangeRole(h.ctx, host, e.ID, vol.ID, models.TeamRoleCoHost)
	require.NoError(t, err)
	require.Equal(t, models.TeamRoleCoHost, changed.Role)
	require.Len(t, h.activities(t, models.VerbTeamMemberRoleChanged), 1)

	_, err = h.svc.Teams.ChangeRole(h.ctx, owner, e.ID, outsider.ID, models.TeamRoleHost)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	require.NoError(t, h.svc.Teams.RemoveMember(h.ctx, owner, e.ID, vol.ID))
	require.NoError(t, h.svc.Teams.RemoveMember(h.ctx, owner, e.ID, vol.ID))
	require.Len(t, h.activities(t, models.VerbTeamMemberRemoved), 1)

	team, err = h.svc.Teams.ListTeam(h.ctx, owner, e.ID)
	require.NoError(t, err)
	require.Len(t, team, 1)
	require.Equal(t, host.ID, team[0].UserID)

	// A removed member can be added back on the same row.
	back, err := h.svc.Teams.AddMember(h.ctx, owner, e.ID, vol.ID, models.TeamRoleVolunteer)
	require.NoError(t, err)
	require.Equal(t, changed.ID, back.ID)
	require.Equal(t, models.TeamRoleVolunteer, back.Role)
}
