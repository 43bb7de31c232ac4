package repositories

import (
	"context"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/pkg/errors"
	"gorm.io/gorm"
)

type RegistrationRepository struct {
	db *gorm.DB
}

func NewRegistrationRepository(db *gorm.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *RegistrationRepository) WithTx(tx *gorm.DB) *RegistrationRepository {
	return &RegistrationRepository{db: tx}
}

// FindRegistration returns the registration with its attendance, or nil.
func (r *RegistrationRepository) FindRegistration(ctx context.Context, eventID, userID uint) (*models.EventRegistration, error) {
	var reg models.EventRegistration
	err := r.db.WithContext(ctx).Preload("Attendance").
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

// LockRegistration loads the registration FOR UPDATE.
func (r *RegistrationRepository) LockRegistration(ctx context.Context, eventID, userID uint) (*models.EventRegistration, error) {
	var reg models.EventRegistration
	err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		First(&reg).Error
	if isNotFound(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "registration not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to lock registration")
	}
	return &reg, nil
}

func (r *RegistrationRepository) GetRegistrationByID(ctx context.Context, id uint) (*models.EventRegistration, error) {
	var reg models.EventRegistration
	err := r.db.WithContext(ctx).Preload("Attendance").Preload("User").First(&reg, id).Error
	if isNotFound(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "registration not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get registration")
	}
	return &reg, nil
}

// CreateRegistration inserts reg and its attendance row.
func (r *RegistrationRepository) CreateRegistration(ctx context.Context, reg *models.EventRegistration) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit("Attendance", "User").Create(reg).Error; err != nil {
		if isDuplicateKey(err) {
			return errors.New(errors.ErrCodeConflict, "Already registered")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create registration")
	}

	attendance := &models.EventAttendance{RegistrationID: reg.ID}
	if err := db.Create(attendance).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create attendance")
	}
	reg.Attendance = attendance
	return nil
}

func (r *RegistrationRepository) UpdateStatus(ctx context.Context, regID uint, status models.RegistrationStatus) error {
	err := r.db.WithContext(ctx).Model(&models.EventRegistration{}).
		Where("id = ?", regID).
		Update("status", status).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to update registration")
	}
	return nil
}

// ClearCheckIn resets the attendance of a registration.
func (r *RegistrationRepository) ClearCheckIn(ctx context.Context, regID uint) error {
	err := r.db.WithContext(ctx).Model(&models.EventAttendance{}).
		Where("registration_id = ?", regID).
		Updates(map[string]interface{}{"check_in": nil, "check_out": nil, "checked_in_by_id": nil}).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to reset attendance")
	}
	return nil
}

// CancelLive cancels every seat-holding or waitlisted registration of an
// event and returns how many were touched.
func (r *RegistrationRepository) CancelLive(ctx context.Context, eventID uint) (int64, error) {
	live := append([]models.RegistrationStatus{models.RegistrationWaitlisted}, seatHoldingStatuses...)
	res := r.db.WithContext(ctx).Model(&models.EventRegistration{}).
		Where("event_id = ? AND status IN ?", eventID, live).
		Update("status", models.RegistrationCanceled)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, errors.ErrCodeInternalError, "failed to cancel registrations")
	}
	return res.RowsAffected, nil
}

// OldestWaitlisted locks the first waitlisted registration, or returns nil.
func (r *RegistrationRepository) OldestWaitlisted(ctx context.Context, eventID uint) (*models.EventRegistration, error) {
	var reg models.EventRegistration
	err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("event_id = ? AND status = ?", eventID, models.RegistrationWaitlisted).
		Order("created_at ASC, id ASC").
		First(&reg).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get waitlist")
	}
	return &reg, nil
}

func (r *RegistrationRepository) ListRegistrations(ctx context.Context, eventID uint) ([]models.EventRegistration, error) {
	var regs []models.EventRegistration
	err := r.db.WithContext(ctx).Preload("User").Preload("Attendance").
		Where("event_id = ?", eventID).
		Order("created_at ASC, id ASC").
		Find(&regs).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list registrations")
	}
	return regs, nil
}

// LiveRegistrantIDs returns the users holding a seat or a waitlist place.
func (r *RegistrationRepository) LiveRegistrantIDs(ctx context.Context, eventID uint) ([]uint, error) {
	live := append([]models.RegistrationStatus{models.RegistrationWaitlisted}, seatHoldingStatuses...)
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.EventRegistration{}).
		Where("event_id = ? AND status IN ?", eventID, live).
		Order("id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list registrants")
	}
	return ids, nil
}

// CountByStatus groups the registrations of an event by status.
func (r *RegistrationRepository) CountByStatus(ctx context.Context, eventID uint) (map[models.RegistrationStatus]int64, error) {
	var rows []struct {
		Status models.RegistrationStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.EventRegistration{}).
		Select("status, COUNT(*) AS count").
		Where("event_id = ?", eventID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count registrations")
	}
	out := make(map[models.RegistrationStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// LockAttendanceByQR loads the attendance row for a QR code FOR UPDATE.
func (r *RegistrationRepository) LockAttendanceByQR(ctx context.Context, qrCode string) (*models.EventAttendance, error) {
	var att models.EventAttendance
	err := r.db.WithContext(ctx).Clauses(forUpdate).Where("qr_code = ?", qrCode).First(&att).Error
	if isNotFound(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "Invalid QR code")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get attendance")
	}
	return &att, nil
}

func (r *RegistrationRepository) SaveAttendance(ctx context.Context, att *models.EventAttendance) error {
	err := r.db.WithContext(ctx).Model(&models.EventAttendance{}).
		Where("id = ?", att.ID).
		Updates(map[string]interface{}{
			"check_in":         att.CheckIn,
			"check_out":        att.CheckOut,
			"checked_in_by_id": att.CheckedInByID,
		}).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to update attendance")
	}
	return nil
}

func (r *RegistrationRepository) CreateScanLog(ctx context.Context, log *models.ScanLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to write scan log")
	}
	return nil
}

func (r *RegistrationRepository) CountScans(ctx context.Context, eventID uint, action models.ScanAction) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ScanLog{}).
		Where("event_id = ? AND action = ?", eventID, action).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count scans")
	}
	return n, nil
}
