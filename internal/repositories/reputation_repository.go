package repositories

import (
	"context"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReputationRepository struct {
	db *gorm.DB
}

func NewReputationRepository(db *gorm.DB) *ReputationRepository {
	return &ReputationRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *ReputationRepository) WithTx(tx *gorm.DB) *ReputationRepository {
	return &ReputationRepository{db: tx}
}

// LockStats creates the stats row for (user, community) if missing and
// returns it locked FOR UPDATE.
func (r *ReputationRepository) LockStats(ctx context.Context, userID, communityID uint) (*models.UserCommunityStats, error) {
	db := r.db.WithContext(ctx)

	seed := &models.UserCommunityStats{
		UserID:       userID,
		CommunityID:  communityID,
		CurrentLevel: 1,
		Counters:     datatypes.NewJSONType(models.VerbCounters{}),
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to create reputation stats")
	}

	var stats models.UserCommunityStats
	err := db.Clauses(forUpdate).
		Where("user_id = ? AND community_id = ?", userID, communityID).
		First(&stats).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to lock reputation stats")
	}
	return &stats, nil
}

func (r *ReputationRepository) SaveStats(ctx context.Context, stats *models.UserCommunityStats) error {
	err := r.db.WithContext(ctx).Model(&models.UserCommunityStats{}).
		Where("id = ?", stats.ID).
		Updates(map[string]interface{}{
			"total_xp":         stats.TotalXP,
			"current_level":    stats.CurrentLevel,
			"counters":         stats.Counters,
			"last_activity_at": stats.LastActivityAt,
		}).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to save reputation stats")
	}
	return nil
}

// GetStats returns the stats row, or nil when the user has none yet.
func (r *ReputationRepository) GetStats(ctx context.Context, userID, communityID uint) (*models.UserCommunityStats, error) {
	var stats models.UserCommunityStats
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND community_id = ?", userID, communityID).
		First(&stats).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get reputation stats")
	}
	return &stats, nil
}

func (r *ReputationRepository) EntryExists(ctx context.Context, activityID uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ReputationLedgerEntry{}).
		Where("activity_id = ?", activityID).
		Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternalError, "failed to check reputation entry")
	}
	return n > 0, nil
}

// CreateEntry inserts e. A second entry for the same activity reports
// inserted=false and no error.
func (r *ReputationRepository) CreateEntry(ctx context.Context, e *models.ReputationLedgerEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "activity_id"}}, DoNothing: true}).
		Create(e)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, errors.ErrCodeInternalError, "failed to write reputation entry")
	}
	return res.RowsAffected == 1, nil
}

func (r *ReputationRepository) ListEntries(ctx context.Context, userID, communityID uint) ([]models.ReputationLedgerEntry, error) {
	var out []models.ReputationLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND community_id = ?", userID, communityID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list reputation entries")
	}
	return out, nil
}

func (r *ReputationRepository) SumEntries(ctx context.Context, userID, communityID uint) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.ReputationLedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND community_id = ?", userID, communityID).
		Scan(&sum).Error
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to sum reputation entries")
	}
	return sum, nil
}

// Leaderboard returns the top stats rows of a community by XP.
func (r *ReputationRepository) Leaderboard(ctx context.Context, communityID uint, limit int) ([]models.UserCommunityStats, error) {
	var out []models.UserCommunityStats
	err := r.db.WithContext(ctx).
		Where("community_id = ?", communityID).
		Order("total_xp DESC, user_id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get leaderboard")
	}
	return out, nil
}

// UserRank returns 1 + the number of community members with more XP.
func (r *ReputationRepository) UserRank(ctx context.Context, userID, communityID uint) (int64, error) {
	stats, err := r.GetStats(ctx, userID, communityID)
	if err != nil || stats == nil {
		return 0, err
	}
	var ahead int64
	err = r.db.WithContext(ctx).Model(&models.UserCommunityStats{}).
		Where("community_id = ? AND total_xp > ?", communityID, stats.TotalXP).
		Count(&ahead).Error
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get rank")
	}
	return ahead + 1, nil
}
