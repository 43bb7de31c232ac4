package models

import (
	"time"
)

// CommunityRole is a role inside one community. It is deliberately a separate
// type from TeamRole so the two role spaces cannot be compared by accident.
type CommunityRole string

const (
	CommunityRoleOwner       CommunityRole = "owner"
	CommunityRoleAdmin       CommunityRole = "admin"
	CommunityRoleOrganizer   CommunityRole = "organizer"
	CommunityRoleMember      CommunityRole = "member"
	CommunityRoleParticipant CommunityRole = "participant"
)

func (r CommunityRole) Valid() bool {
	switch r {
	case CommunityRoleOwner, CommunityRoleAdmin, CommunityRoleOrganizer,
		CommunityRoleMember, CommunityRoleParticipant:
		return true
	}
	return false
}

// Elevated reports owner, admin and organizer.
func (r CommunityRole) Elevated() bool {
	return r == CommunityRoleOwner || r == CommunityRoleAdmin || r == CommunityRoleOrganizer
}

// Moderator reports owner and admin only.
func (r CommunityRole) Moderator() bool {
	return r == CommunityRoleOwner || r == CommunityRoleAdmin
}

type Community struct {
	ID          uint      `gorm:"primaryKey"`
	Name        string    `gorm:"type:varchar(255);not null"`
	Slug        string    `gorm:"type:varchar(100);uniqueIndex;not null"`
	Description string    `gorm:"type:text"`
	IsActive    bool      `gorm:"default:true;not null"`
	CreatedByID uint      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (Community) TableName() string {
	return "communities"
}

// CommunityMembership is never hard-deleted; removal flips IsActive.
type CommunityMembership struct {
	ID           uint          `gorm:"primaryKey"`
	CommunityID  uint          `gorm:"not null;uniqueIndex:idx_membership_community_user;index:idx_membership_community_role"`
	UserID       uint          `gorm:"not null;uniqueIndex:idx_membership_community_user;index:idx_membership_user_default"`
	Role         CommunityRole `gorm:"type:varchar(32);default:'participant';not null;index:idx_membership_community_role"`
	IsActive     bool          `gorm:"default:true;not null"`
	IsDefault    bool          `gorm:"default:false;not null;index:idx_membership_user_default"`
	LastActiveAt *time.Time
	JoinedAt     time.Time `gorm:"autoCreateTime"`
	Community    Community `gorm:"foreignKey:CommunityID"`
	User         User      `gorm:"foreignKey:UserID"`
}

func (CommunityMembership) TableName() string {
	return "community_memberships"
}

type CommunityInvite struct {
	ID          uint          `gorm:"primaryKey"`
	CommunityID uint          `gorm:"not null;index"`
	CreatedByID uint          `gorm:"not null"`
	Token       string        `gorm:"type:varchar(64);uniqueIndex;not null"`
	Role        CommunityRole `gorm:"type:varchar(32);default:'member';not null"`
	MaxUses     *int
	UsedCount   int  `gorm:"default:0;not null"`
	ExpiresAt   *time.Time
	IsActive    bool      `gorm:"default:true;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// ValidAt reports whether the invite can still be redeemed at now.
func (i *CommunityInvite) ValidAt(now time.Time) bool {
	if !i.IsActive {
		return false
	}
	if i.ExpiresAt != nil && now.After(*i.ExpiresAt) {
		return false
	}
	if i.MaxUses != nil && i.UsedCount >= *i.MaxUses {
		return false
	}
	return true
}

// MarkUsed consumes one use and deactivates the invite once exhausted.
func (i *CommunityInvite) MarkUsed() {
	i.UsedCount++
	if i.MaxUses != nil && i.UsedCount >= *i.MaxUses {
		i.IsActive = false
	}
}

func (CommunityInvite) TableName() string {
	return "community_invites"
}
