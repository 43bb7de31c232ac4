package services

import (
	"context"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
)

type TeamService struct {
	guarded
}

func NewTeamService(d Deps) *TeamService {
	return &TeamService{newGuarded(d)}
}

// AddMember puts userID on the event team with role, reactivating an old row
// when there is one.
func (s *TeamService) AddMember(ctx context.Context, actor *models.User, eventID, userID uint, role models.TeamRole) (*models.EventTeamMember, error) {
	if !role.Valid() {
		return nil, errors.New(errors.ErrCodeValidation, "invalid team role")
	}

	var tm *models.EventTeamMember
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		event, err := s.store.Events.WithTx(tx.DB).GetEventByID(ctx, eventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionManageTeam, actor, policy.ForEvent(event)); err != nil {
			return err
		}
		if _, err := s.store.Users.WithTx(tx.DB).GetUserByID(ctx, userID); err != nil {
			return err
		}
		if event.CommunityID != nil {
			m, err := s.store.Roles.WithTx(tx.DB).ActiveMembership(ctx, *event.CommunityID, userID)
			if err != nil {
				return err
			}
			if m == nil {
				return errors.New(errors.ErrCodeValidation, "Team members must belong to the event's community")
			}
		}

		repo := s.store.Events.WithTx(tx.DB)
		tm, err = repo.FindTeamMember(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if tm != nil && tm.IsActive {
			return errors.New(errors.ErrCodeAlreadyExists, "user is already on the team")
		}
		if tm == nil {
			tm = &models.EventTeamMember{EventID: eventID, UserID: userID}
		}
		tm.Role = role
		tm.IsActive = true
		tm.AddedByID = actor.ID
		if err := repo.SaveTeamMember(ctx, tm); err != nil {
			return err
		}

		_, err = s.logEvent(ctx, tx, actor.ID, models.VerbTeamMemberAdded, event,
			models.Ref(models.TargetTeamMember, tm.ID),
			map[string]interface{}{"user_id": userID, "role": string(role)})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Team member added", "event_id", eventID, "user_id", userID, "role", role)
	return tm, nil
}

func (s *TeamService) ChangeRole(ctx context.Context, actor *models.User, eventID, userID uint, role models.TeamRole) (*models.EventTeamMember, error) {
	if !role.Valid() {
		return nil, errors.New(errors.ErrCodeValidation, "invalid team role")
	}

	var tm *models.EventTeamMember
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		event, err := s.store.Events.WithTx(tx.DB).GetEventByID(ctx, eventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionManageTeam, actor, policy.ForEvent(event)); err != nil {
			return err
		}

		repo := s.store.Events.WithTx(tx.DB)
		tm, err = repo.FindTeamMember(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if tm == nil || !tm.IsActive {
			return errors.New(errors.ErrCodeNotFound, "team member not found")
		}
		if tm.Role == role {
			return nil
		}

		old := tm.Role
		tm.Role = role
		if err := repo.SaveTeamMember(ctx, tm); err != nil {
			return err
		}
		_, err = s.logEvent(ctx, tx, actor.ID, models.VerbTeamMemberRoleChanged, event,
			models.Ref(models.TargetTeamMember, tm.ID),
			map[string]interface{}{"user_id": userID, "old_role": string(old), "new_role": string(role)})
		return err
	})
	if err != nil {
		return nil, err
	}
	return tm, nil
}

func (s *TeamService) RemoveMember(ctx context.Context, actor *models.User, eventID, userID uint) error {
	return s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		event, err := s.store.Events.WithTx(tx.DB).GetEventByID(ctx, eventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionManageTeam, actor, policy.ForEvent(event)); err != nil {
			return err
		}

		repo := s.store.Events.WithTx(tx.DB)
		tm, err := repo.FindTeamMember(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if tm == nil || !tm.IsActive {
			return nil
		}
		tm.IsActive = false
		if err := repo.SaveTeamMember(ctx, tm); err != nil {
			return err
		}
		_, err = s.logEvent(ctx, tx, actor.ID, models.VerbTeamMemberRemoved, event,
			models.Ref(models.TargetTeamMember, tm.ID),
			map[string]interface{}{"user_id": userID, "role": string(tm.Role)})
		return err
	})
}

func (s *TeamService) ListTeam(ctx context.Context, actor *models.User, eventID uint) ([]models.EventTeamMember, error) {
	event, err := s.store.Events.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(ctx, policy.ActionViewTeam, actor, policy.ForEvent(event)); err != nil {
		return nil, err
	}
	return s.store.Events.ListTeam(ctx, eventID)
}
