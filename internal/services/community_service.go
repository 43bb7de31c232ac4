package services

import (
	"context"
	"strings"
	"time"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/internal/security"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
	"github.com/cosplatform/eventcore/pkg/utils"
)

const inviteTokenBytes = 32

type CommunityService struct {
	guarded
}

func NewCommunityService(d Deps) *CommunityService {
	return &CommunityService{newGuarded(d)}
}

// JoinResult reports the membership after a join. Created is false when the
// user was already an active member.
type JoinResult struct {
	Membership *models.CommunityMembership
	Created    bool
}

// CreateCommunity creates a community owned by creator.
func (s *CommunityService) CreateCommunity(ctx context.Context, creator *models.User, name, slug, description string) (*models.Community, error) {
	if creator == nil || creator.ID == 0 {
		return nil, errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	name = security.SanitizeText(name, security.MaxTitleLength)
	if name == "" {
		return nil, errors.New(errors.ErrCodeValidation, "community name is required")
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !security.ValidateSlug(slug) {
		return nil, errors.New(errors.ErrCodeValidation, "invalid community slug")
	}

	community := &models.Community{
		Name:        name,
		Slug:        slug,
		Description: security.SanitizeRichText(description, security.MaxBodyLength),
		IsActive:    true,
		CreatedByID: creator.ID,
	}

	err := database.Transact(ctx, s.store.DB, func(tx *database.Tx) error {
		repo := s.store.Communities.WithTx(tx.DB)
		if err := repo.CreateCommunity(ctx, community); err != nil {
			return err
		}
		if err := repo.CreateMembership(ctx, &models.CommunityMembership{
			CommunityID: community.ID,
			UserID:      creator.ID,
			Role:        models.CommunityRoleOwner,
			IsActive:    true,
		}); err != nil {
			return err
		}
		_, err := s.ledger.Log(ctx, tx, LogInput{
			ActorID:     creator.ID,
			Verb:        models.VerbCommunityCreated,
			Target:      models.Ref(models.TargetCommunity, community.ID),
			CommunityID: &community.ID,
			Visibility:  models.VisibilityPublic,
			Metadata:    map[string]interface{}{"name": community.Name, "slug": community.Slug},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Community created", "community_id", community.ID, "slug", community.Slug, "owner_id", creator.ID)
	return community, nil
}

// Join makes user an active member of communityID.
func (s *CommunityService) Join(ctx context.Context, user *models.User, communityID uint) (*JoinResult, error) {
	if user == nil || user.ID == 0 {
		return nil, errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	var res *JoinResult
	err := database.Transact(ctx, s.store.DB, func(tx *database.Tx) error {
		var err error
		res, err = s.join(ctx, tx, user.ID, communityID, models.CommunityRoleMember, "")
		return err
	})
	return res, err
}

func (s *CommunityService) join(ctx context.Context, tx *database.Tx, userID, communityID uint, role models.CommunityRole, via string) (*JoinResult, error) {
	repo := s.store.Communities.WithTx(tx.DB)

	community, err := repo.GetCommunityByID(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if !community.IsActive {
		return nil, errors.New(errors.ErrCodeValidation, "community is not active")
	}

	m, err := repo.LockMembership(ctx, communityID, userID)
	if err != nil {
		return nil, err
	}
	// The join bonus is paid once per membership row.
	verb := models.VerbCommunityJoined
	switch {
	case m != nil && m.IsActive:
		return &JoinResult{Membership: m, Created: false}, nil
	case m != nil:
		verb = models.VerbCommunityRejoined
		m.IsActive = true
		m.Role = role
		if err := repo.UpdateMembership(ctx, m); err != nil {
			return nil, err
		}
	default:
		m = &models.CommunityMembership{
			CommunityID: communityID,
			UserID:      userID,
			Role:        role,
			IsActive:    true,
		}
		if err := repo.CreateMembership(ctx, m); err != nil {
			return nil, err
		}
	}

	meta := map[string]interface{}{"role": string(role)}
	if via != "" {
		meta["via"] = via
	}
	if _, err := s.ledger.Log(ctx, tx, LogInput{
		ActorID:     userID,
		Verb:        verb,
		Target:      models.Ref(models.TargetMembership, m.ID),
		CommunityID: &communityID,
		Metadata:    meta,
	}); err != nil {
		return nil, err
	}

	logger.Info("Community joined", "community_id", communityID, "user_id", userID, "role", role)
	return &JoinResult{Membership: m, Created: true}, nil
}

// GenerateInvite creates an invite link token for communityID.
func (s *CommunityService) GenerateInvite(ctx context.Context, actor *models.User, communityID uint, role models.CommunityRole, maxUses *int, expiresAt *time.Time) (*models.CommunityInvite, error) {
	if role == "" {
		role = models.CommunityRoleMember
	}
	if !role.Valid() || role == models.CommunityRoleOwner {
		return nil, errors.New(errors.ErrCodeValidation, "invalid invite role")
	}
	if maxUses != nil && *maxUses < 1 {
		return nil, errors.New(errors.ErrCodeValidation, "max uses must be positive")
	}
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return nil, errors.New(errors.ErrCodeValidation, "expiry must be in the future")
	}
	if err := s.policy.Authorize(ctx, policy.ActionGenerateInvite, actor, policy.ForCommunity(communityID)); err != nil {
		return nil, err
	}
	if role.Moderator() {
		if err := s.requireModerator(ctx, actor, communityID); err != nil {
			return nil, err
		}
	}

	token, err := utils.GenerateURLSafeToken(inviteTokenBytes, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to generate invite token")
	}

	invite := &models.CommunityInvite{
		CommunityID: communityID,
		CreatedByID: actor.ID,
		Token:       token,
		Role:        role,
		MaxUses:     maxUses,
		ExpiresAt:   expiresAt,
		IsActive:    true,
	}
	if err := s.store.Communities.CreateInvite(ctx, invite); err != nil {
		return nil, err
	}

	logger.Info("Invite generated", "community_id", communityID, "actor_id", actor.ID, "role", role)
	return invite, nil
}

// JoinByToken redeems an invite. Already-active members do not consume a
// use.
func (s *CommunityService) JoinByToken(ctx context.Context, user *models.User, token string) (*JoinResult, error) {
	if user == nil || user.ID == 0 {
		return nil, errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New(errors.ErrCodeValidation, "invite token is required")
	}

	var res *JoinResult
	err := database.Transact(ctx, s.store.DB, func(tx *database.Tx) error {
		repo := s.store.Communities.WithTx(tx.DB)

		invite, err := repo.LockInviteByToken(ctx, token)
		if err != nil {
			return err
		}
		if !invite.ValidAt(s.now()) {
			return errors.New(errors.ErrCodeValidation, "Invite is invalid or expired")
		}

		res, err = s.join(ctx, tx, user.ID, invite.CommunityID, invite.Role, "invite")
		if err != nil || !res.Created {
			return err
		}
		invite.MarkUsed()
		return repo.UpdateInviteUsage(ctx, invite)
	})
	return res, err
}

// ChangeMemberRole sets the role of a non-owner member. Only owners and
// admins may grant or revoke admin.
func (s *CommunityService) ChangeMemberRole(ctx context.Context, actor *models.User, communityID, membershipID uint, role models.CommunityRole) (*models.CommunityMembership, error) {
	if !role.Valid() {
		return nil, errors.New(errors.ErrCodeValidation, "invalid role")
	}
	if role == models.CommunityRoleOwner {
		return nil, errors.New(errors.ErrCodeValidation, "use ownership transfer to assign the owner role")
	}

	var target *models.CommunityMembership
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		if err := engine.Authorize(ctx, policy.ActionManageMembers, actor, policy.ForCommunity(communityID)); err != nil {
			return err
		}
		repo := s.store.Communities.WithTx(tx.DB)

		var err error
		target, err = repo.LockMembershipByID(ctx, communityID, membershipID)
		if err != nil {
			return err
		}
		if !target.IsActive {
			return errors.New(errors.ErrCodeNotFound, "membership not found")
		}
		if target.Role == models.CommunityRoleOwner {
			return errors.New(errors.ErrCodeForbidden, "The owner's role cannot be changed")
		}
		if target.Role == role {
			return nil
		}
		if role.Moderator() || target.Role.Moderator() {
			if err := s.requireModeratorWith(ctx, engine, actor, communityID); err != nil {
				return err
			}
		}

		old := target.Role
		target.Role = role
		if err := repo.UpdateMembership(ctx, target); err != nil {
			return err
		}
		_, err = s.ledger.Log(ctx, tx, LogInput{
			ActorID:     actor.ID,
			Verb:        models.VerbCommunityMemberRoleChanged,
			Target:      models.Ref(models.TargetMembership, target.ID),
			CommunityID: &communityID,
			Visibility:  models.VisibilityPrivate,
			Metadata: map[string]interface{}{
				"user_id":  target.UserID,
				"old_role": string(old),
				"new_role": string(role),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// RemoveMember deactivates a non-owner membership.
func (s *CommunityService) RemoveMember(ctx context.Context, actor *models.User, communityID, membershipID uint) error {
	return s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		if err := engine.Authorize(ctx, policy.ActionManageMembers, actor, policy.ForCommunity(communityID)); err != nil {
			return err
		}
		repo := s.store.Communities.WithTx(tx.DB)

		target, err := repo.LockMembershipByID(ctx, communityID, membershipID)
		if err != nil {
			return err
		}
		if target.Role == models.CommunityRoleOwner {
			return errors.New(errors.ErrCodeForbidden, "The owner cannot be removed")
		}
		if !target.IsActive {
			return nil
		}
		if target.Role.Moderator() {
			if err := s.requireModeratorWith(ctx, engine, actor, communityID); err != nil {
				return err
			}
		}
		return s.deactivate(ctx, tx, target, map[string]interface{}{"removed_by": actor.ID})
	})
}

// Leave deactivates the user's own membership. Owners must transfer
// ownership first.
func (s *CommunityService) Leave(ctx context.Context, user *models.User, communityID uint) error {
	if user == nil || user.ID == 0 {
		return errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	return database.Transact(ctx, s.store.DB, func(tx *database.Tx) error {
		m, err := s.store.Communities.WithTx(tx.DB).LockMembership(ctx, communityID, user.ID)
		if err != nil {
			return err
		}
		if m == nil || !m.IsActive {
			return errors.New(errors.ErrCodeNotFound, "You are not a member of this community")
		}
		if m.Role == models.CommunityRoleOwner {
			return errors.New(errors.ErrCodeValidation, "Transfer ownership before leaving the community")
		}
		return s.deactivate(ctx, tx, m, nil)
	})
}

func (s *CommunityService) deactivate(ctx context.Context, tx *database.Tx, m *models.CommunityMembership, meta map[string]interface{}) error {
	m.IsActive = false
	m.IsDefault = false
	if err := s.store.Communities.WithTx(tx.DB).UpdateMembership(ctx, m); err != nil {
		return err
	}
	communityID := m.CommunityID
	_, err := s.ledger.Log(ctx, tx, LogInput{
		ActorID:     m.UserID,
		Verb:        models.VerbCommunityLeft,
		Target:      models.Ref(models.TargetMembership, m.ID),
		CommunityID: &communityID,
		Metadata:    meta,
	})
	if err == nil {
		logger.Info("Community membership deactivated", "community_id", communityID, "user_id", m.UserID)
	}
	return err
}

// TransferOwnership demotes the current owner to admin and promotes the
// target membership to owner in one transaction.
func (s *CommunityService) TransferOwnership(ctx context.Context, actor *models.User, communityID, targetMembershipID uint) (*models.CommunityMembership, error) {
	var target *models.CommunityMembership
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		if err := engine.Authorize(ctx, policy.ActionTransferOwnership, actor, policy.ForCommunity(communityID)); err != nil {
			return err
		}
		repo := s.store.Communities.WithTx(tx.DB)

		owner, err := repo.LockOwner(ctx, communityID)
		if err != nil {
			return err
		}
		target, err = repo.LockMembershipByID(ctx, communityID, targetMembershipID)
		if err != nil {
			return err
		}
		if target.ID == owner.ID {
			return errors.New(errors.ErrCodeValidation, "Cannot transfer ownership to yourself")
		}
		if !target.IsActive {
			return errors.New(errors.ErrCodeValidation, "Ownership can only be transferred to an active member")
		}

		owner.Role = models.CommunityRoleAdmin
		target.Role = models.CommunityRoleOwner
		if err := repo.UpdateMembership(ctx, owner); err != nil {
			return err
		}
		if err := repo.UpdateMembership(ctx, target); err != nil {
			return err
		}

		_, err = s.ledger.Log(ctx, tx, LogInput{
			ActorID:     actor.ID,
			Verb:        models.VerbCommunityOwnershipTransferred,
			Target:      models.Ref(models.TargetCommunity, communityID),
			CommunityID: &communityID,
			Metadata: map[string]interface{}{
				"from_user_id": owner.UserID,
				"to_user_id":   target.UserID,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Ownership transferred", "community_id", communityID, "new_owner_id", target.UserID, "actor_id", actor.ID)
	return target, nil
}

// SetDefaultCommunity marks the user's membership in communityID as the
// only default one.
func (s *CommunityService) SetDefaultCommunity(ctx context.Context, user *models.User, communityID uint) (*models.CommunityMembership, error) {
	if user == nil || user.ID == 0 {
		return nil, errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	var m *models.CommunityMembership
	err := database.Transact(ctx, s.store.DB, func(tx *database.Tx) error {
		repo := s.store.Communities.WithTx(tx.DB)
		var err error
		m, err = repo.LockMembership(ctx, communityID, user.ID)
		if err != nil {
			return err
		}
		if m == nil || !m.IsActive {
			return errors.New(errors.ErrCodeNotFound, "You are not a member of this community")
		}
		now := s.now()
		if err := repo.SetDefault(ctx, user.ID, m.ID, now); err != nil {
			return err
		}
		m.IsDefault = true
		m.LastActiveAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *CommunityService) DefaultCommunity(ctx context.Context, user *models.User) (*models.CommunityMembership, error) {
	if user == nil || user.ID == 0 {
		return nil, errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	return s.store.Communities.GetDefaultMembership(ctx, user.ID)
}

func (s *CommunityService) ListMembers(ctx context.Context, actor *models.User, communityID uint) ([]models.CommunityMembership, error) {
	if err := s.policy.Authorize(ctx, policy.ActionManageMembers, actor, policy.ForCommunity(communityID)); err != nil {
		return nil, err
	}
	return s.store.Communities.ListMembers(ctx, communityID)
}

func (s *CommunityService) requireModerator(ctx context.Context, actor *models.User, communityID uint) error {
	return s.policy.Authorize(ctx, policy.ActionManageAdmins, actor, policy.ForCommunity(communityID))
}

func (s *CommunityService) requireModeratorWith(ctx context.Context, engine *policy.Engine, actor *models.User, communityID uint) error {
	return engine.Authorize(ctx, policy.ActionManageAdmins, actor, policy.ForCommunity(communityID))
}
