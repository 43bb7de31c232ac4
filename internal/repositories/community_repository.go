package repositories

import (
	"context"
	"time"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/pkg/errors"
	"gorm.io/gorm"
)

type CommunityRepository struct {
	db *gorm.DB
}

func NewCommunityRepository(db *gorm.DB) *CommunityRepository {
	return &CommunityRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *CommunityRepository) WithTx(tx *gorm.DB) *CommunityRepository {
	return &CommunityRepository{db: tx}
}

func (r *CommunityRepository) CreateCommunity(ctx context.Context, community *models.Community) error {
	if err := r.db.WithContext(ctx).Create(community).Error; err != nil {
		if isDuplicateKey(err) {
			return errors.New(errors.ErrCodeAlreadyExists, "community slug already taken")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create community")
	}
	return nil
}

func (r *CommunityRepository) GetCommunityByID(ctx context.Context, id uint) (*models.Community, error) {
	var community models.Community
	if err := r.db.WithContext(ctx).First(&community, id).Error; err != nil {
		if isNotFound(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "community not found")
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get community")
	}
	return &community, nil
}

func (r *CommunityRepository) GetCommunityBySlug(ctx context.Context, slug string) (*models.Community, error) {
	var community models.Community
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&community).Error; err != nil {
		if isNotFound(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "community not found")
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get community")
	}
	return &community, nil
}

// FindMembership returns the membership row in any state, or nil.
func (r *CommunityRepository) FindMembership(ctx context.Context, communityID, userID uint) (*models.CommunityMembership, error) {
	var m models.CommunityMembership
	err := r.db.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		First(&m).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get membership")
	}
	return &m, nil
}

// LockMembership loads a membership row FOR UPDATE, or nil.
func (r *CommunityRepository) LockMembership(ctx context.Context, communityID, userID uint) (*models.CommunityMembership, error) {
	var m models.CommunityMembership
	err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		First(&m).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to lock membership")
	}
	return &m, nil
}

// LockMembershipByID loads a membership of communityID by primary key FOR
// UPDATE.
func (r *CommunityRepository) LockMembershipByID(ctx context.Context, communityID, membershipID uint) (*models.CommunityMembership, error) {
	var m models.CommunityMembership
	err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("id = ? AND community_id = ?", membershipID, communityID).
		First(&m).Error
	if isNotFound(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "membership not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to lock membership")
	}
	return &m, nil
}

// LockOwner loads the active owner membership of communityID FOR UPDATE.
func (r *CommunityRepository) LockOwner(ctx context.Context, communityID uint) (*models.CommunityMembership, error) {
	var m models.CommunityMembership
	err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("community_id = ? AND role = ? AND is_active = ?", communityID, models.CommunityRoleOwner, true).
		First(&m).Error
	if isNotFound(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "community has no owner")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to lock owner membership")
	}
	return &m, nil
}

func (r *CommunityRepository) CreateMembership(ctx context.Context, m *models.CommunityMembership) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicateKey(err) {
			return errors.New(errors.ErrCodeAlreadyExists, "membership already exists")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create membership")
	}
	return nil
}

// UpdateMembership writes role, active flag and default flag of m.
func (r *CommunityRepository) UpdateMembership(ctx context.Context, m *models.CommunityMembership) error {
	err := r.db.WithContext(ctx).Model(&models.CommunityMembership{}).
		Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"role":           m.Role,
			"is_active":      m.IsActive,
			"is_default":     m.IsDefault,
			"last_active_at": m.LastActiveAt,
		}).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to update membership")
	}
	return nil
}

func (r *CommunityRepository) ListMembers(ctx context.Context, communityID uint) ([]models.CommunityMembership, error) {
	var members []models.CommunityMembership
	err := r.db.WithContext(ctx).Preload("User").
		Where("community_id = ? AND is_active = ?", communityID, true).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list members")
	}
	return members, nil
}

// ActiveCommunityIDs lists the communities userID actively belongs to.
func (r *CommunityRepository) ActiveCommunityIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.CommunityMembership{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Pluck("community_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list communities")
	}
	return ids, nil
}

// SetDefault makes membershipID the only default membership of userID.
func (r *CommunityRepository) SetDefault(ctx context.Context, userID, membershipID uint, at time.Time) error {
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.CommunityMembership{}).
		Where("user_id = ? AND id <> ? AND is_default = ?", userID, membershipID, true).
		Update("is_default", false).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to clear default community")
	}
	if err := db.Model(&models.CommunityMembership{}).
		Where("id = ?", membershipID).
		Updates(map[string]interface{}{"is_default": true, "last_active_at": at}).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to set default community")
	}
	return nil
}

func (r *CommunityRepository) GetDefaultMembership(ctx context.Context, userID uint) (*models.CommunityMembership, error) {
	var m models.CommunityMembership
	err := r.db.WithContext(ctx).Preload("Community").
		Where("user_id = ? AND is_default = ? AND is_active = ?", userID, true, true).
		First(&m).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get default community")
	}
	return &m, nil
}

func (r *CommunityRepository) CreateInvite(ctx context.Context, invite *models.CommunityInvite) error {
	if err := r.db.WithContext(ctx).Create(invite).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create invite")
	}
	return nil
}

func (r *CommunityRepository) LockInviteByToken(ctx context.Context, token string) (*models.CommunityInvite, error) {
	var invite models.CommunityInvite
	err := r.db.WithContext(ctx).Clauses(forUpdate).Where("token = ?", token).First(&invite).Error
	if isNotFound(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "invite not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get invite")
	}
	return &invite, nil
}

func (r *CommunityRepository) UpdateInviteUsage(ctx context.Context, invite *models.CommunityInvite) error {
	err := r.db.WithContext(ctx).Model(&models.CommunityInvite{}).
		Where("id = ?", invite.ID).
		Updates(map[string]interface{}{"used_count": invite.UsedCount, "is_active": invite.IsActive}).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to update invite")
	}
	return nil
}
