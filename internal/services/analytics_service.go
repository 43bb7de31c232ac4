package services

import (
	"context"

	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
)

type AnalyticsService struct {
	guarded
}

func NewAnalyticsService(d Deps) *AnalyticsService {
	return &AnalyticsService{newGuarded(d)}
}

type EventSummary struct {
	EventID       uint
	Capacity      int
	SeatsTaken    int64
	Registrations int64
	Waitlisted    int64
	Canceled      int64
	Attended      int64
	Certificates  int64
	FeedbackCount int64
	AverageRating float64
}

// EventSummary aggregates registrations, attendance, certificates and
// feedback of one event.
func (s *AnalyticsService) EventSummary(ctx context.Context, actor *models.User, eventID uint) (*EventSummary, error) {
	event, err := s.store.Events.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(ctx, policy.ActionViewAnalytics, actor, policy.ForEvent(event)); err != nil {
		return nil, err
	}

	counts, err := s.store.Registrations.CountByStatus(ctx, eventID)
	if err != nil {
		return nil, err
	}
	seats, err := s.store.Events.SeatsTaken(ctx, eventID)
	if err != nil {
		return nil, err
	}
	certs, err := s.store.Certificates.CountByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	fbCount, avg, err := s.store.Content.FeedbackSummary(ctx, eventID)
	if err != nil {
		return nil, err
	}

	sum := &EventSummary{
		EventID:       eventID,
		Capacity:      event.Capacity,
		SeatsTaken:    seats,
		Waitlisted:    counts[models.RegistrationWaitlisted],
		Canceled:      counts[models.RegistrationCanceled],
		Attended:      counts[models.RegistrationAttended],
		Certificates:  certs,
		FeedbackCount: fbCount,
		AverageRating: avg,
	}
	for status, n := range counts {
		if status.HoldsSeat() {
			sum.Registrations += n
		}
	}
	return sum, nil
}

type CommunitySummary struct {
	CommunityID    uint
	Members        int
	EventsByStatus map[models.EventStatus]int
	TopMembers     []models.UserCommunityStats
}

func (s *AnalyticsService) CommunitySummary(ctx context.Context, actor *models.User, communityID uint) (*CommunitySummary, error) {
	if err := s.policy.Authorize(ctx, policy.ActionViewCommunityAnalytics, actor, policy.ForCommunity(communityID)); err != nil {
		return nil, err
	}

	members, err := s.store.Communities.ListMembers(ctx, communityID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.Events.ListCommunityEvents(ctx, communityID, "")
	if err != nil {
		return nil, err
	}
	top, err := s.store.Reputation.Leaderboard(ctx, communityID, 5)
	if err != nil {
		return nil, err
	}

	sum := &CommunitySummary{
		CommunityID:    communityID,
		Members:        len(members),
		EventsByStatus: make(map[models.EventStatus]int),
		TopMembers:     top,
	}
	for _, e := range events {
		sum.EventsByStatus[e.Status]++
	}
	return sum, nil
}
