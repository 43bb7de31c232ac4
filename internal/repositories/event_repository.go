package repositories

import (
	"context"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *EventRepository) WithTx(tx *gorm.DB) *EventRepository {
	return &EventRepository{db: tx}
}

func (r *EventRepository) CreateEvent(ctx context.Context, event *models.Event) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(event).Error; err != nil {
		if isInvalidData(err) {
			return errors.New(errors.ErrCodeValidation, "invalid event data")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create event")
	}
	return nil
}

// GetEventByID retrieves an event; soft-deleted events are not found.
func (r *EventRepository) GetEventByID(ctx context.Context, id uint) (*models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		if isNotFound(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "event not found")
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get event")
	}
	return &event, nil
}

// LockEvent loads the event FOR UPDATE; the lock serialises capacity checks
// and status changes on the row.
func (r *EventRepository) LockEvent(ctx context.Context, id uint) (*models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).Clauses(forUpdate).First(&event, id).Error; err != nil {
		if isNotFound(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "event not found")
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to lock event")
	}
	return &event, nil
}

// SaveEvent writes every column of event.
func (r *EventRepository) SaveEvent(ctx context.Context, event *models.Event) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(event).Error; err != nil {
		if isInvalidData(err) {
			return errors.New(errors.ErrCodeValidation, "invalid event data")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to update event")
	}
	return nil
}

func (r *EventRepository) UpdateStatus(ctx context.Context, eventID uint, status models.EventStatus) error {
	err := r.db.WithContext(ctx).Model(&models.Event{}).Where("id = ?", eventID).Update("status", status).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to update event status")
	}
	return nil
}

func (r *EventRepository) SoftDelete(ctx context.Context, eventID uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Event{}, eventID).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to delete event")
	}
	return nil
}

// SeatsTaken sums the seats held by live registrations, guests included.
func (r *EventRepository) SeatsTaken(ctx context.Context, eventID uint) (int64, error) {
	var seats int64
	err := r.db.WithContext(ctx).Model(&models.EventRegistration{}).
		Select("COALESCE(SUM(1 + guests_count), 0)").
		Where("event_id = ? AND status IN ?", eventID, seatHoldingStatuses).
		Scan(&seats).Error
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count registrations")
	}
	return seats, nil
}

var seatHoldingStatuses = []models.RegistrationStatus{
	models.RegistrationPending,
	models.RegistrationApproved,
	models.RegistrationAttended,
}

func (r *EventRepository) ListCommunityEvents(ctx context.Context, communityID uint, status models.EventStatus) ([]models.Event, error) {
	var events []models.Event
	q := r.db.WithContext(ctx).Where("community_id = ?", communityID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("start_time ASC").Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list events")
	}
	return events, nil
}

// FindTeamMember returns the team row for (event, user) in any state, or nil.
func (r *EventRepository) FindTeamMember(ctx context.Context, eventID, userID uint) (*models.EventTeamMember, error) {
	var tm models.EventTeamMember
	err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		First(&tm).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get team member")
	}
	return &tm, nil
}

func (r *EventRepository) SaveTeamMember(ctx context.Context, tm *models.EventTeamMember) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(tm).Error; err != nil {
		if isDuplicateKey(err) {
			return errors.New(errors.ErrCodeAlreadyExists, "user is already on the team")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to save team member")
	}
	return nil
}

func (r *EventRepository) ListTeam(ctx context.Context, eventID uint) ([]models.EventTeamMember, error) {
	var team []models.EventTeamMember
	err := r.db.WithContext(ctx).Preload("User").
		Where("event_id = ? AND is_active = ?", eventID, true).
		Order("created_at ASC").
		Find(&team).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list team")
	}
	return team, nil
}
