package repositories

import (
	"context"
	"time"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/pkg/errors"
	"gorm.io/gorm"
)

type CertificateRepository struct {
	db *gorm.DB
}

func NewCertificateRepository(db *gorm.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *CertificateRepository) WithTx(tx *gorm.DB) *CertificateRepository {
	return &CertificateRepository{db: tx}
}

// FindByRegistration returns the certificate of a registration, or nil.
func (r *CertificateRepository) FindByRegistration(ctx context.Context, registrationID uint) (*models.Certificate, error) {
	var cert models.Certificate
	err := r.db.WithContext(ctx).Where("registration_id = ?", registrationID).First(&cert).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get certificate")
	}
	return &cert, nil
}

func (r *CertificateRepository) LockByID(ctx context.Context, id uint) (*models.Certificate, error) {
	var cert models.Certificate
	err := r.db.WithContext(ctx).Clauses(forUpdate).First(&cert, id).Error
	if isNotFound(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "certificate not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get certificate")
	}
	return &cert, nil
}

func (r *CertificateRepository) GetByToken(ctx context.Context, eventID uint, token string) (*models.Certificate, error) {
	var cert models.Certificate
	err := r.db.WithContext(ctx).Where("event_id = ? AND cert_token = ?", eventID, token).First(&cert).Error
	if isNotFound(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "certificate not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get certificate")
	}
	return &cert, nil
}

func (r *CertificateRepository) Create(ctx context.Context, cert *models.Certificate) error {
	if err := r.db.WithContext(ctx).Create(cert).Error; err != nil {
		if isDuplicateKey(err) {
			return errors.New(errors.ErrCodeAlreadyExists, "certificate already issued")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create certificate")
	}
	return nil
}

func (r *CertificateRepository) SetIssuedActivity(ctx context.Context, certID, activityID uint) error {
	err := r.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("id = ?", certID).
		Update("issued_activity_id", activityID).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to link certificate activity")
	}
	return nil
}

func (r *CertificateRepository) Revoke(ctx context.Context, certID uint, at time.Time, reason string) error {
	err := r.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("id = ?", certID).
		Updates(map[string]interface{}{"revoked_at": at, "revocation_reason": reason}).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to revoke certificate")
	}
	return nil
}

func (r *CertificateRepository) CountByEvent(ctx context.Context, eventID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("event_id = ? AND revoked_at IS NULL", eventID).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count certificates")
	}
	return n, nil
}
