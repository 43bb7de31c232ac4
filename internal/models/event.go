package models

import (
	"time"

	"gorm.io/gorm"
)

type EventStatus string

const (
	EventStatusDraft    EventStatus = "draft"
	EventStatusPending  EventStatus = "pending"
	EventStatusApproved EventStatus = "approved"
	EventStatusRejected EventStatus = "rejected"
)

// TeamRole is a per-event staffing role, unrelated to CommunityRole.
type TeamRole string

const (
	TeamRoleHost      TeamRole = "host"
	TeamRoleCoHost    TeamRole = "co_host"
	TeamRoleVolunteer TeamRole = "volunteer"
)

func (r TeamRole) Valid() bool {
	return r == TeamRoleHost || r == TeamRoleCoHost || r == TeamRoleVolunteer
}

// MaxEventCapacity bounds Event.Capacity; zero means unlimited.
const MaxEventCapacity = 100000

type Event struct {
	ID              uint        `gorm:"primaryKey"`
	CommunityID     *uint       `gorm:"index:idx_event_community_status"`
	OrganizerID     uint        `gorm:"not null;index"`
	Title           string      `gorm:"type:varchar(255);not null"`
	Description     string      `gorm:"type:text"`
	Venue           string      `gorm:"type:varchar(255)"`
	IsPublic        bool        `gorm:"default:true;not null"`
	Status          EventStatus `gorm:"type:varchar(20);default:'draft';not null;index:idx_event_community_status"`
	StartTime       time.Time   `gorm:"not null;index"`
	EndTime         time.Time   `gorm:"not null"`
	Capacity        int         `gorm:"default:0;not null"`
	WaitlistEnabled bool        `gorm:"default:false;not null"`
	CanceledAt      *time.Time
	CreatedAt       time.Time      `gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime"`
	DeletedAt       gorm.DeletedAt `gorm:"index"`
	Organizer       User           `gorm:"foreignKey:OrganizerID"`
}

// HasStarted reports whether the event start time is not after now.
func (e *Event) HasStarted(now time.Time) bool {
	return !now.Before(e.StartTime)
}

// HasEnded reports whether the event end time is in the past.
func (e *Event) HasEnded(now time.Time) bool {
	return now.After(e.EndTime)
}

func (e *Event) IsCanceled() bool {
	return e.CanceledAt != nil
}

// BeforeSave hook for validation. Rows updated through an empty model carry
// zero times and are skipped.
func (e *Event) BeforeSave(tx *gorm.DB) error {
	if e.StartTime.IsZero() && e.EndTime.IsZero() {
		return nil
	}
	if !e.EndTime.After(e.StartTime) {
		return gorm.ErrInvalidData
	}
	if e.Capacity < 0 || e.Capacity > MaxEventCapacity {
		return gorm.ErrInvalidData
	}
	return nil
}

func (Event) TableName() string {
	return "events"
}

type EventTeamMember struct {
	ID        uint      `gorm:"primaryKey"`
	EventID   uint      `gorm:"not null;uniqueIndex:idx_team_event_user"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_team_event_user;index"`
	Role      TeamRole  `gorm:"type:varchar(20);default:'volunteer';not null"`
	IsActive  bool      `gorm:"default:true;not null"`
	AddedByID uint      `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	User      User      `gorm:"foreignKey:UserID"`
}

func (EventTeamMember) TableName() string {
	return "event_team_members"
}

type Announcement struct {
	ID        uint      `gorm:"primaryKey"`
	EventID   uint      `gorm:"not null;index"`
	AuthorID  uint      `gorm:"not null"`
	Title     string    `gorm:"type:varchar(255);not null"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Announcement) TableName() string {
	return "announcements"
}

type EventFeedback struct {
	ID        uint      `gorm:"primaryKey"`
	EventID   uint      `gorm:"not null;uniqueIndex:idx_feedback_event_user"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_feedback_event_user"`
	Rating    int       `gorm:"not null"`
	Comment   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// BeforeSave hook for validation
func (f *EventFeedback) BeforeSave(tx *gorm.DB) error {
	if f.Rating < 1 || f.Rating > 5 {
		return gorm.ErrInvalidData
	}
	return nil
}

func (EventFeedback) TableName() string {
	return "event_feedback"
}
