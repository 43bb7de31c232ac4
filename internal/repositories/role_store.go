package repositories

import (
	"context"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/pkg/errors"
	"gorm.io/gorm"
)

// RoleStore answers the role lookups of the policy engine. Only active
// memberships and team rows count.
type RoleStore struct {
	db *gorm.DB
}

func NewRoleStore(db *gorm.DB) *RoleStore {
	return &RoleStore{db: db}
}

// WithTx returns a copy bound to tx.
func (s *RoleStore) WithTx(tx *gorm.DB) *RoleStore {
	return &RoleStore{db: tx}
}

// ActiveMembership returns the active membership, or nil.
func (s *RoleStore) ActiveMembership(ctx context.Context, communityID, userID uint) (*models.CommunityMembership, error) {
	var m models.CommunityMembership
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND user_id = ? AND is_active = ?", communityID, userID, true).
		First(&m).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get membership")
	}
	return &m, nil
}

func (s *RoleStore) CommunityRole(ctx context.Context, communityID, userID uint) (models.CommunityRole, bool, error) {
	m, err := s.ActiveMembership(ctx, communityID, userID)
	if err != nil || m == nil {
		return "", false, err
	}
	return m.Role, true, nil
}

func (s *RoleStore) TeamRole(ctx context.Context, eventID, userID uint) (models.TeamRole, bool, error) {
	var tm models.EventTeamMember
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ? AND is_active = ?", eventID, userID, true).
		First(&tm).Error
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get team role")
	}
	return tm.Role, true, nil
}

func (s *RoleStore) HasElevatedRoleAnywhere(ctx context.Context, userID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.CommunityMembership{}).
		Where("user_id = ? AND is_active = ? AND role IN ?", userID, true, []models.CommunityRole{
			models.CommunityRoleOwner, models.CommunityRoleAdmin, models.CommunityRoleOrganizer,
		}).
		Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternalError, "failed to check roles")
	}
	return n > 0, nil
}

func (s *RoleStore) Registration(ctx context.Context, eventID, userID uint) (*models.EventRegistration, error) {
	var reg models.EventRegistration
	err := s.db.WithContext(ctx).Preload("Attendance").
		Where("event_id = ? AND user_id = ?", eventID, userID).
		First(&reg).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get registration")
	}
	return &reg, nil
}
