package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// TargetKind discriminates the entity a TargetRef points at.
type TargetKind string

const (
	TargetEvent        TargetKind = "event"
	TargetRegistration TargetKind = "registration"
	TargetAttendance   TargetKind = "attendance"
	TargetCertificate  TargetKind = "certificate"
	TargetCommunity    TargetKind = "community"
	TargetMembership   TargetKind = "membership"
	TargetTeamMember   TargetKind = "team_member"
	TargetAnnouncement TargetKind = "announcement"
	TargetFeedback     TargetKind = "feedback"
	TargetUser         TargetKind = "user"
)

// TargetRef is a tagged reference to exactly one entity.
type TargetRef struct {
	Kind TargetKind `gorm:"type:varchar(32);not null;index:idx_activity_target"`
	ID   uint       `gorm:"not null;index:idx_activity_target"`
}

func Ref(kind TargetKind, id uint) TargetRef {
	return TargetRef{Kind: kind, ID: id}
}

func (r TargetRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

func (r TargetRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityCommunity Visibility = "community"
	VisibilityPrivate   Visibility = "private"
)

type ActivityStatus string

const (
	ActivityActive     ActivityStatus = "active"
	ActivityRevoked    ActivityStatus = "revoked"
	ActivityDeleted    ActivityStatus = "deleted"
	ActivitySuperseded ActivityStatus = "superseded"
)

// IsRedaction reports whether s is a valid non-active status.
func (s ActivityStatus) IsRedaction() bool {
	return s == ActivityRevoked || s == ActivityDeleted || s == ActivitySuperseded
}

// DomainActivity is an immutable ledger entry. Only Status may change after
// insert.
type DomainActivity struct {
	ID          uint              `gorm:"primaryKey"`
	ActorID     uint              `gorm:"not null;index"`
	Verb        string            `gorm:"type:varchar(64);not null;index"`
	Target      TargetRef         `gorm:"embedded;embeddedPrefix:target_"`
	CommunityID *uint             `gorm:"index:idx_activity_community_ts"`
	Visibility  Visibility        `gorm:"type:varchar(16);default:'community';not null"`
	Metadata    datatypes.JSONMap
	Status      ActivityStatus `gorm:"type:varchar(16);default:'active';not null;index"`
	Timestamp   time.Time      `gorm:"autoCreateTime;index:idx_activity_community_ts"`
}

func (DomainActivity) TableName() string {
	return "domain_activities"
}

type OutboxStatus int8

const (
	OutboxPending OutboxStatus = 0
	OutboxSent    OutboxStatus = 1
	OutboxFailed  OutboxStatus = 2
)

// ActivityOutbox holds one relay message per activity, written in the same
// transaction as the activity.
type ActivityOutbox struct {
	ID         uint           `gorm:"primaryKey"`
	ActivityID uint           `gorm:"not null;uniqueIndex"`
	Verb       string         `gorm:"type:varchar(64);not null"`
	Key        string         `gorm:"type:varchar(64);not null"`
	Payload    datatypes.JSON `gorm:"not null"`
	Status     OutboxStatus   `gorm:"not null;default:0;index"`
	Retry      int            `gorm:"not null;default:0"`
	LastError  string         `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	SentAt     *time.Time
}

func (ActivityOutbox) TableName() string {
	return "activity_outbox"
}
