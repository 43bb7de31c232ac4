package repositories

import (
	"context"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/pkg/errors"
	"gorm.io/gorm"
)

// ContentRepository stores announcements and feedback.
type ContentRepository struct {
	db *gorm.DB
}

func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *ContentRepository) WithTx(tx *gorm.DB) *ContentRepository {
	return &ContentRepository{db: tx}
}

func (r *ContentRepository) CreateAnnouncement(ctx context.Context, a *models.Announcement) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create announcement")
	}
	return nil
}

func (r *ContentRepository) GetAnnouncement(ctx context.Context, id uint) (*models.Announcement, error) {
	var a models.Announcement
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		if isNotFound(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "announcement not found")
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get announcement")
	}
	return &a, nil
}

func (r *ContentRepository) ListAnnouncements(ctx context.Context, eventID uint, limit int) ([]models.Announcement, error) {
	var out []models.Announcement
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list announcements")
	}
	return out, nil
}

func (r *ContentRepository) CreateFeedback(ctx context.Context, f *models.EventFeedback) error {
	if err := r.db.WithContext(ctx).Create(f).Error; err != nil {
		if isDuplicateKey(err) {
			return errors.New(errors.ErrCodeAlreadyExists, "Feedback already submitted")
		}
		if isInvalidData(err) {
			return errors.New(errors.ErrCodeValidation, "Rating must be between 1 and 5")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to save feedback")
	}
	return nil
}

// FeedbackSummary returns the number of feedback rows and their mean rating.
func (r *ContentRepository) FeedbackSummary(ctx context.Context, eventID uint) (int64, float64, error) {
	var row struct {
		Count int64
		Avg   float64
	}
	err := r.db.WithContext(ctx).Model(&models.EventFeedback{}).
		Select("COUNT(*) AS count, COALESCE(AVG(rating), 0) AS avg").
		Where("event_id = ?", eventID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to summarise feedback")
	}
	return row.Count, row.Avg, nil
}
