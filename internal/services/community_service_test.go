package services

import (
	"testing"
	"time"

	"github.com/cosplatform/eventcore/internal/models"
	apperrors "github.com/cosplatform/eventcore/pkg/errors"
	"github.com/stretchr/testify/require"
)

func membershipOf(t *testing.T, h *harness, communityID, userID uint) *models.CommunityMembership {
	t.Helper()
	m, err := h.svc.Store.Communities.FindMembership(h.ctx, communityID, userID)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

func TestCommunity_CreateMakesOwner(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")

	c, err := h.svc.Communities.CreateCommunity(h.ctx, owner, "  Go Users  ", "Go-Users", "<script>x</script>hello")
	require.NoError(t, err)
	require.Equal(t, "go-users", c.Slug)
	require.NotContains(t, c.Description, "<script>")
	require.Equal(t, models.CommunityRoleOwner, membershipOf(t, h, c.ID, owner.ID).Role)
	require.Len(t, h.activities(t, models.VerbCommunityCreated), 1)

	_, err = h.svc.Communities.CreateCommunity(h.ctx, owner, "Other", "go-users", "")
	require.Error(t, err)

	_, err = h.svc.Communities.CreateCommunity(h.ctx, owner, "Bad", "not a slug!", "")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
}

func TestCommunity_JoinIsIdempotent(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	member := h.user(t, "member")
	c := h.community(t, owner)

	res, err := h.svc.Communities.Join(h.ctx, member, c.ID)
	require.NoError(t, err)
	require.True(t, res.Created)
	res, err = h.svc.Communities.Join(h.ctx, member, c.ID)
	require.NoError(t, err)
	require.False(t, res.Created)

	require.Len(t, h.activities(t, models.VerbCommunityJoined), 1)
	require.Equal(t, int64(5), h.xp(t, member.ID, c.ID))

	require.NoError(t, h.svc.Communities.Leave(h.ctx, member, c.ID))
	require.False(t, membershipOf(t, h, c.ID, member.ID).IsActive)

	res, err = h.svc.Communities.Join(h.ctx, member, c.ID)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.True(t, membershipOf(t, h, c.ID, member.ID).IsActive)
}

func TestCommunity_RejoinPaysNoBonus(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	member := h.user(t, "member")
	c := h.community(t, owner)
	h.join(t, member, c.ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.Communities.Leave(h.ctx, member, c.ID))
		res, err := h.svc.Communities.Join(h.ctx, member, c.ID)
		require.NoError(t, err)
		require.True(t, res.Created)
	}

	require.Len(t, h.activities(t, models.VerbCommunityJoined), 1)
	require.Len(t, h.activities(t, models.VerbCommunityRejoined), 3)
	require.Equal(t, int64(5), h.xp(t, member.ID, c.ID))
}

func TestCommunity_OwnerCannotLeave(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	c := h.community(t, owner)

	err := h.svc.Communities.Leave(h.ctx, owner, c.ID)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
	require.True(t, membershipOf(t, h, c.ID, owner.ID).IsActive)
}

func TestCommunity_TransferOwnership(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	heir := h.user(t, "heir")
	other := h.user(t, "other")
	c := h.community(t, owner)
	heirM := h.join(t, heir, c.ID)
	otherM := h.join(t, other, c.ID)
	ownerM := membershipOf(t, h, c.ID, owner.ID)

	_, err := h.svc.Communities.TransferOwnership(h.ctx, other, c.ID, otherM.ID)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))
	require.Equal(t, models.CommunityRoleOwner, membershipOf(t, h, c.ID, owner.ID).Role)
	require.Equal(t, models.CommunityRoleMember, membershipOf(t, h, c.ID, other.ID).Role)

	_, err = h.svc.Communities.TransferOwnership(h.ctx, owner, c.ID, ownerM.ID)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	target, err := h.svc.Communities.TransferOwnership(h.ctx, owner, c.ID, heirM.ID)
	require.NoError(t, err)
	require.Equal(t, models.CommunityRoleOwner, target.Role)
	require.Equal(t, models.CommunityRoleOwner, membershipOf(t, h, c.ID, heir.ID).Role)
	require.Equal(t, models.CommunityRoleAdmin, membershipOf(t, h, c.ID, owner.ID).Role)

	var owners int64
	require.NoError(t, h.db.Model(&models.CommunityMembership{}).
		Where("community_id = ? AND role = ?", c.ID, models.CommunityRoleOwner).Count(&owners).Error)
	require.Equal(t, int64(1), owners)
	require.Len(t, h.activities(t, models.VerbCommunityOwnershipTransferred), 1)

	// The former owner lost the right to transfer again.
	_, err = h.svc.Communities.TransferOwnership(h.ctx, owner, c.ID, otherM.ID)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))
}

func TestCommunity_TransferToInactiveMemberRollsBack(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	gone := h.user(t, "gone")
	c := h.community(t, owner)
	goneM := h.join(t, gone, c.ID)
	require.NoError(t, h.svc.Communities.Leave(h.ctx, gone, c.ID))

	_, err := h.svc.Communities.TransferOwnership(h.ctx, owner, c.ID, goneM.ID)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
	require.Equal(t, models.CommunityRoleOwner, membershipOf(t, h, c.ID, owner.ID).Role)
	require.Empty(t, h.activities(t, models.VerbCommunityOwnershipTransferred))
}

func TestCommunity_Invites(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	member := h.user(t, "member")
	a := h.user(t, "a")
	b := h.user(t, "b")
	c := h.community(t, owner)
	h.join(t, member, c.ID)

	_, err := h.svc.Communities.GenerateInvite(h.ctx, member, c.ID, models.CommunityRoleMember, nil, nil)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))

	_, err = h.svc.Communities.GenerateInvite(h.ctx, owner, c.ID, models.CommunityRoleOwner, nil, nil)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	one := 1
	expires := h.clock.Now().Add(time.Hour)
	invite, err := h.svc.Communities.GenerateInvite(h.ctx, owner, c.ID, models.CommunityRoleOrganizer, &one, &expires)
	require.NoError(t, err)
	require.Len(t, invite.Token, 43)

	res, err := h.svc.Communities.JoinByToken(h.ctx, a, invite.Token)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, models.CommunityRoleOrganizer, res.Membership.Role)

	// The single use is spent.
	_, err = h.svc.Communities.JoinByToken(h.ctx, a, invite.Token)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	_, err = h.svc.Communities.JoinByToken(h.ctx, b, invite.Token)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	open, err := h.svc.Communities.GenerateInvite(h.ctx, owner, c.ID, "", nil, &expires)
	require.NoError(t, err)
	res, err = h.svc.Communities.JoinByToken(h.ctx, member, open.Token)
	require.NoError(t, err)
	require.False(t, res.Created)
	stored, err := h.svc.Store.Communities.LockInviteByToken(h.ctx, open.Token)
	require.NoError(t, err)
	require.Zero(t, stored.UsedCount, "active members do not consume a use")

	h.clock.Advance(2 * time.Hour)
	_, err = h.svc.Communities.JoinByToken(h.ctx, b, open.Token)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	_, err = h.svc.Communities.JoinByToken(h.ctx, b, "nope")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
}

func TestCommunity_RoleChanges(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	org := h.user(t, "org")
	member := h.user(t, "member")
	c := h.community(t, owner)
	orgM := h.join(t, org, c.ID)
	memberM := h.join(t, member, c.ID)
	ownerM := membershipOf(t, h, c.ID, owner.ID)

	m, err := h.svc.Communities.ChangeMemberRole(h.ctx, owner, c.ID, orgM.ID, models.CommunityRoleOrganizer)
	require.NoError(t, err)
	require.Equal(t, models.CommunityRoleOrganizer, m.Role)

	// Organizers manage members but cannot mint admins.
	_, err = h.svc.Communities.ChangeMemberRole(h.ctx, org, c.ID, memberM.ID, models.CommunityRoleAdmin)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))
	_, err = h.svc.Communities.ChangeMemberRole(h.ctx, org, c.ID, memberM.ID, models.CommunityRoleParticipant)
	require.NoError(t, err)

	_, err = h.svc.Communities.ChangeMemberRole(h.ctx, owner, c.ID, ownerM.ID, models.CommunityRoleMember)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))
	_, err = h.svc.Communities.ChangeMemberRole(h.ctx, owner, c.ID, memberM.ID, models.CommunityRoleOwner)
	require.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	require.True(t, apperrors.Is(h.svc.Communities.RemoveMember(h.ctx, org, c.ID, ownerM.ID), apperrors.ErrCodeForbidden))
	require.NoError(t, h.svc.Communities.RemoveMember(h.ctx, org, c.ID, memberM.ID))
	require.False(t, membershipOf(t, h, c.ID, member.ID).IsActive)

	left := h.activities(t, models.VerbCommunityLeft)
	require.Len(t, left, 1)
	require.Equal(t, member.ID, left[0].ActorID)
}

func TestCommunity_DefaultCommunity(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	u := h.user(t, "u")
	c1 := h.community(t, owner)
	c2 := h.community(t, owner)
	h.join(t, u, c1.ID)
	h.join(t, u, c2.ID)

	_, err := h.svc.Communities.SetDefaultCommunity(h.ctx, u, c1.ID)
	require.NoError(t, err)
	_, err = h.svc.Communities.SetDefaultCommunity(h.ctx, u, c2.ID)
	require.NoError(t, err)

	def, err := h.svc.Communities.DefaultCommunity(h.ctx, u)
	require.NoError(t, err)
	require.NotNil(t, def)
	require.Equal(t, c2.ID, def.CommunityID)
	require.False(t, membershipOf(t, h, c1.ID, u.ID).IsDefault)
}
