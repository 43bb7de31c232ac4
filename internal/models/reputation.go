package models

import (
	"time"

	"gorm.io/datatypes"
)

// XPPerLevel is the XP width of one level.
const XPPerLevel = 100

// Level returns 1 + max(0, totalXP)/XPPerLevel. Negative XP stays at level 1.
func Level(totalXP int64) int {
	if totalXP < 0 {
		totalXP = 0
	}
	return 1 + int(totalXP/XPPerLevel)
}

type ReputationLedgerEntry struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      uint      `gorm:"not null;index:idx_rep_user_community"`
	CommunityID uint      `gorm:"not null;index:idx_rep_user_community"`
	Amount      int64     `gorm:"not null"`
	Reason      string    `gorm:"type:varchar(64);not null"`
	ActivityID  uint      `gorm:"not null;uniqueIndex"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (ReputationLedgerEntry) TableName() string {
	return "reputation_ledger"
}

// VerbCounters maps verb to number of reputation-bearing activities.
type VerbCounters map[string]int64

// UserCommunityStats is a cache derived from ReputationLedgerEntry rows.
type UserCommunityStats struct {
	ID             uint                             `gorm:"primaryKey"`
	UserID         uint                             `gorm:"not null;uniqueIndex:idx_stats_user_community"`
	CommunityID    uint                             `gorm:"not null;uniqueIndex:idx_stats_user_community;index:idx_stats_community_xp"`
	TotalXP        int64                            `gorm:"not null;default:0;index:idx_stats_community_xp"`
	CurrentLevel   int                              `gorm:"not null;default:1"`
	Counters       datatypes.JSONType[VerbCounters] `gorm:"not null"`
	LastActivityAt *time.Time
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// Apply adds amount for verb and keeps CurrentLevel consistent.
func (s *UserCommunityStats) Apply(verb string, amount int64, at time.Time) {
	counters := s.Counters.Data()
	next := make(VerbCounters, len(counters)+1)
	for k, v := range counters {
		next[k] = v
	}
	next[verb]++
	s.Counters = datatypes.NewJSONType(next)
	s.TotalXP += amount
	s.CurrentLevel = Level(s.TotalXP)
	s.LastActivityAt = &at
}

func (UserCommunityStats) TableName() string {
	return "user_community_stats"
}
