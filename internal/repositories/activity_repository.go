package repositories

import (
	"context"
	"time"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/pkg/errors"
	"gorm.io/gorm"
)

// ActivityRepository is the append-only store behind the activity ledger
// and its relay outbox.
type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *ActivityRepository) WithTx(tx *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: tx}
}

func (r *ActivityRepository) Create(ctx context.Context, a *models.DomainActivity) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to record activity")
	}
	return nil
}

func (r *ActivityRepository) GetByID(ctx context.Context, id uint) (*models.DomainActivity, error) {
	var a models.DomainActivity
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		if isNotFound(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "activity not found")
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get activity")
	}
	return &a, nil
}

// SetStatus changes the status column and nothing else.
func (r *ActivityRepository) SetStatus(ctx context.Context, id uint, status models.ActivityStatus) error {
	res := r.db.WithContext(ctx).Model(&models.DomainActivity{}).
		Where("id = ?", id).
		UpdateColumn("status", status)
	if res.Error != nil {
		return errors.Wrap(res.Error, errors.ErrCodeInternalError, "failed to update activity status")
	}
	if res.RowsAffected == 0 {
		return errors.New(errors.ErrCodeNotFound, "activity not found")
	}
	return nil
}

// FeedQuery selects active activities visible to a viewer.
type FeedQuery struct {
	ViewerID     uint
	CommunityIDs []uint
	Verbs        []string
	BeforeID     uint
	Limit        int
}

func (r *ActivityRepository) Feed(ctx context.Context, q FeedQuery) ([]models.DomainActivity, error) {
	db := r.db.WithContext(ctx).
		Where("status = ?", models.ActivityActive).
		Where(r.db.Where("visibility = ?", models.VisibilityPublic).
			Or("actor_id = ?", q.ViewerID).
			Or("visibility = ? AND community_id IN ?", models.VisibilityCommunity, nonEmpty(q.CommunityIDs)))
	if len(q.Verbs) > 0 {
		db = db.Where("verb IN ?", q.Verbs)
	}
	if q.BeforeID > 0 {
		db = db.Where("id < ?", q.BeforeID)
	}

	var out []models.DomainActivity
	if err := db.Order("id DESC").Limit(q.Limit).Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to load feed")
	}
	return out, nil
}

// ListForTarget returns every activity about one target, oldest first.
func (r *ActivityRepository) ListForTarget(ctx context.Context, target models.TargetRef) ([]models.DomainActivity, error) {
	var out []models.DomainActivity
	err := r.db.WithContext(ctx).
		Where("target_kind = ? AND target_id = ?", target.Kind, target.ID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list activities")
	}
	return out, nil
}

// ListWithoutReputation returns community activities with one of verbs that
// have no reputation ledger entry yet, id > afterID and older than before.
func (r *ActivityRepository) ListWithoutReputation(ctx context.Context, verbs []string, afterID uint, before time.Time, limit int) ([]models.DomainActivity, error) {
	var out []models.DomainActivity
	err := r.db.WithContext(ctx).
		Model(&models.DomainActivity{}).
		Joins("LEFT JOIN reputation_ledger rl ON rl.activity_id = domain_activities.id").
		Where("rl.id IS NULL").
		Where("domain_activities.community_id IS NOT NULL").
		Where("domain_activities.verb IN ?", verbs).
		Where("domain_activities.id > ?", afterID).
		Where("domain_activities.timestamp < ?", before).
		Order("domain_activities.id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list pending activities")
	}
	return out, nil
}

func (r *ActivityRepository) CreateOutbox(ctx context.Context, ob *models.ActivityOutbox) error {
	if err := r.db.WithContext(ctx).Create(ob).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to write outbox")
	}
	return nil
}

// ListOutbox returns unsent rows with fewer than maxRetry attempts.
func (r *ActivityRepository) ListOutbox(ctx context.Context, limit, maxRetry int) ([]models.ActivityOutbox, error) {
	var rows []models.ActivityOutbox
	err := r.db.WithContext(ctx).
		Where("status IN ? AND retry < ?", []models.OutboxStatus{models.OutboxPending, models.OutboxFailed}, maxRetry).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list outbox")
	}
	return rows, nil
}

func (r *ActivityRepository) MarkOutboxSent(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.ActivityOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.OutboxSent, "sent_at": at, "last_error": ""}).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to mark outbox sent")
	}
	return nil
}

func (r *ActivityRepository) MarkOutboxFailed(ctx context.Context, id uint, cause string) error {
	err := r.db.WithContext(ctx).Model(&models.ActivityOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.OutboxFailed,
			"retry":      gorm.Expr("retry + 1"),
			"last_error": cause,
		}).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to mark outbox failed")
	}
	return nil
}

// nonEmpty keeps IN clauses valid for an empty id list.
func nonEmpty(ids []uint) []uint {
	if len(ids) == 0 {
		return []uint{0}
	}
	return ids
}
