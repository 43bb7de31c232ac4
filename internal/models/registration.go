package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RegistrationStatus string

const (
	RegistrationPending    RegistrationStatus = "pending"
	RegistrationApproved   RegistrationStatus = "approved"
	RegistrationWaitlisted RegistrationStatus = "waitlisted"
	RegistrationRejected   RegistrationStatus = "rejected"
	RegistrationCanceled   RegistrationStatus = "canceled"
	RegistrationAttended   RegistrationStatus = "attended"
)

func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationPending, RegistrationApproved, RegistrationWaitlisted,
		RegistrationRejected, RegistrationCanceled, RegistrationAttended:
		return true
	}
	return false
}

// HoldsSeat reports whether the registration counts against capacity.
func (s RegistrationStatus) HoldsSeat() bool {
	return s == RegistrationPending || s == RegistrationApproved || s == RegistrationAttended
}

// MaxGuestsPerRegistration bounds EventRegistration.GuestsCount.
const MaxGuestsPerRegistration = 10

type EventRegistration struct {
	ID          uint               `gorm:"primaryKey"`
	EventID     uint               `gorm:"not null;uniqueIndex:idx_registration_event_user;index:idx_registration_event_status"`
	UserID      uint               `gorm:"not null;uniqueIndex:idx_registration_event_user"`
	Status      RegistrationStatus `gorm:"type:varchar(20);default:'approved';not null;index:idx_registration_event_status"`
	GuestsCount int                `gorm:"default:0;not null"`
	CreatedAt   time.Time          `gorm:"autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime"`
	User        User               `gorm:"foreignKey:UserID"`
	Attendance  *EventAttendance   `gorm:"foreignKey:RegistrationID"`
}

// Seats is the number of places the registration occupies.
func (r *EventRegistration) Seats() int {
	return 1 + r.GuestsCount
}

func (EventRegistration) TableName() string {
	return "event_registrations"
}

type EventAttendance struct {
	ID             uint   `gorm:"primaryKey"`
	RegistrationID uint   `gorm:"not null;uniqueIndex"`
	QRCode         string `gorm:"type:varchar(36);uniqueIndex;not null"`
	CheckIn        *time.Time
	CheckOut       *time.Time
	CheckedInByID  *uint
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// BeforeCreate assigns a fresh QR code.
func (a *EventAttendance) BeforeCreate(tx *gorm.DB) error {
	if a.QRCode == "" {
		a.QRCode = uuid.NewString()
	}
	return nil
}

func (EventAttendance) TableName() string {
	return "event_attendance"
}

type ScanAction string

const (
	ScanCheckIn          ScanAction = "check_in"
	ScanCheckOut         ScanAction = "check_out"
	ScanInvalidQR        ScanAction = "invalid_qr"
	ScanUnauthorized     ScanAction = "unauthorized"
	ScanAlreadyCompleted ScanAction = "already_completed"
	ScanOutsideWindow    ScanAction = "outside_window"
)

type ScanLog struct {
	ID         uint       `gorm:"primaryKey"`
	EventID    *uint      `gorm:"index"`
	ScannerID  uint       `gorm:"not null;index"`
	AttendeeID *uint
	QRCode     string     `gorm:"type:varchar(64)"`
	Action     ScanAction `gorm:"type:varchar(32);not null"`
	Reason     string     `gorm:"type:varchar(255)"`
	IPAddress  string     `gorm:"type:varchar(64)"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
}

func (ScanLog) TableName() string {
	return "scan_logs"
}

type Certificate struct {
	ID               uint   `gorm:"primaryKey"`
	RegistrationID   uint   `gorm:"not null;uniqueIndex"`
	EventID          uint   `gorm:"not null;index"`
	UserID           uint   `gorm:"not null;index"`
	CertToken        string `gorm:"type:varchar(32);uniqueIndex;not null"`
	CredentialID     string `gorm:"type:varchar(36);uniqueIndex;not null"`
	IssuedByID       uint   `gorm:"not null"`
	IssuerSnapshot   datatypes.JSONMap
	IssuedActivityID *uint
	RevokedAt        *time.Time
	RevocationReason string    `gorm:"type:varchar(255)"`
	IssuedAt         time.Time `gorm:"autoCreateTime"`
}

func (c *Certificate) IsRevoked() bool {
	return c.RevokedAt != nil
}

func (Certificate) TableName() string {
	return "certificates"
}
