package models

import (
	"time"

	"gorm.io/gorm"
)

// Global role markers. "admin" grants the same authority as IsSuperuser.
const (
	UserRoleUser  = "user"
	UserRoleAdmin = "admin"
)

type User struct {
	ID          uint           `gorm:"primaryKey"`
	Username    string         `gorm:"type:varchar(150);uniqueIndex;not null"`
	Email       string         `gorm:"type:varchar(255);index"`
	FullName    string         `gorm:"type:varchar(255)"`
	Role        string         `gorm:"type:varchar(20);default:'user';not null"`
	IsSuperuser bool           `gorm:"default:false;not null"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

// IsSystemAdmin reports whether the user holds global authority.
func (u *User) IsSystemAdmin() bool {
	if u == nil {
		return false
	}
	return u.IsSuperuser || u.Role == UserRoleAdmin
}

// DisplayName returns the full name, falling back to the username.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// BeforeSave hook for validation
func (u *User) BeforeSave(tx *gorm.DB) error {
	if u.Role != "" && u.Role != UserRoleUser && u.Role != UserRoleAdmin {
		return gorm.ErrInvalidData
	}
	return nil
}

func (User) TableName() string {
	return "users"
}
