package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/messaging"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/repositories"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
	"gorm.io/datatypes"
)

// ActivitySubscriber is notified of every activity after the transaction
// that logged it commits.
type ActivitySubscriber interface {
	HandleActivity(ctx context.Context, activity *models.DomainActivity) error
}

// LogInput describes one ledger entry. Visibility defaults to community.
type LogInput struct {
	ActorID     uint
	Verb        string
	Target      models.TargetRef
	CommunityID *uint
	Visibility  models.Visibility
	Metadata    map[string]interface{}
}

// ActivityLedger appends domain activities and fans them out to
// subscribers and the relay outbox.
type ActivityLedger struct {
	repo        *repositories.ActivityRepository
	communities *repositories.CommunityRepository
	subscribers []ActivitySubscriber
}

func NewActivityLedger(repo *repositories.ActivityRepository, communities *repositories.CommunityRepository) *ActivityLedger {
	return &ActivityLedger{repo: repo, communities: communities}
}

// Subscribe registers sub for post-commit delivery. Not safe to call
// concurrently with Log.
func (l *ActivityLedger) Subscribe(sub ActivitySubscriber) {
	l.subscribers = append(l.subscribers, sub)
}

// Log records one activity inside tx and schedules subscriber delivery for
// after the outermost commit. The returned record is durable only once tx
// commits; subscriber effects are never visible before that.
func (l *ActivityLedger) Log(ctx context.Context, tx *database.Tx, in LogInput) (*models.DomainActivity, error) {
	if in.ActorID == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "activity actor is required")
	}
	if !models.IsKnownVerb(in.Verb) {
		return nil, errors.New(errors.ErrCodeValidation, "unknown activity verb: "+in.Verb)
	}
	if in.Target.Kind == "" || in.Target.ID == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "activity target is required")
	}
	if in.Visibility == "" {
		in.Visibility = models.VisibilityCommunity
	}

	activity := &models.DomainActivity{
		ActorID:     in.ActorID,
		Verb:        in.Verb,
		Target:      in.Target,
		CommunityID: in.CommunityID,
		Visibility:  in.Visibility,
		Metadata:    datatypes.JSONMap(in.Metadata),
		Status:      models.ActivityActive,
	}

	repo := l.repo.WithTx(tx.DB)
	if err := repo.Create(ctx, activity); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(activityMessage(activity))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to encode activity")
	}
	if err := repo.CreateOutbox(ctx, &models.ActivityOutbox{
		ActivityID: activity.ID,
		Verb:       activity.Verb,
		Key:        messaging.KeyFor(activity.CommunityID),
		Payload:    datatypes.JSON(payload),
		Status:     models.OutboxPending,
	}); err != nil {
		return nil, err
	}

	if len(l.subscribers) > 0 {
		subs := l.subscribers
		tx.OnCommit(func(ctx context.Context) error {
			for _, sub := range subs {
				if err := sub.HandleActivity(ctx, activity); err != nil {
					logger.Error("Activity subscriber failed",
						"activity_id", activity.ID, "verb", activity.Verb, "error", err)
				}
			}
			return nil
		})
	}

	logger.Debug("Activity logged", "activity_id", activity.ID, "verb", activity.Verb, "actor_id", activity.ActorID)
	return activity, nil
}

// Redact moves an active activity to a redaction status. The row and any
// reputation it already produced are kept.
func (l *ActivityLedger) Redact(ctx context.Context, tx *database.Tx, activityID uint, status models.ActivityStatus) error {
	if !status.IsRedaction() {
		return errors.New(errors.ErrCodeValidation, "invalid redaction status")
	}

	repo := l.repo.WithTx(tx.DB)
	activity, err := repo.GetByID(ctx, activityID)
	if err != nil {
		return err
	}
	if activity.Status == status {
		return nil
	}
	if activity.Status != models.ActivityActive {
		return errors.New(errors.ErrCodeConflict, "activity is already redacted")
	}
	return repo.SetStatus(ctx, activityID, status)
}

// FeedOptions narrows a feed page.
type FeedOptions struct {
	Category string
	BeforeID uint
	Limit    int
}

// Feed returns active activities the viewer may see: public ones, the
// viewer's own, and community ones of communities the viewer belongs to.
func (l *ActivityLedger) Feed(ctx context.Context, viewer *models.User, opts FeedOptions) ([]models.DomainActivity, error) {
	if viewer == nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "Authentication required")
	}
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	communityIDs, err := l.communities.ActiveCommunityIDs(ctx, viewer.ID)
	if err != nil {
		return nil, err
	}

	q := repositories.FeedQuery{
		ViewerID:     viewer.ID,
		CommunityIDs: communityIDs,
		BeforeID:     opts.BeforeID,
		Limit:        opts.Limit,
	}
	if opts.Category != "" {
		verbs, ok := models.VerbCategories[opts.Category]
		if !ok {
			return nil, errors.New(errors.ErrCodeValidation, "unknown feed category")
		}
		q.Verbs = verbs
	}
	return l.repo.Feed(ctx, q)
}

// ActivityMessage is the relay payload for one activity.
type ActivityMessage struct {
	ID          uint                   `json:"id"`
	ActorID     uint                   `json:"actor_id"`
	Verb        string                 `json:"verb"`
	TargetKind  models.TargetKind      `json:"target_kind"`
	TargetID    uint                   `json:"target_id"`
	CommunityID *uint                  `json:"community_id,omitempty"`
	Visibility  models.Visibility      `json:"visibility"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

func activityMessage(a *models.DomainActivity) ActivityMessage {
	return ActivityMessage{
		ID:          a.ID,
		ActorID:     a.ActorID,
		Verb:        a.Verb,
		TargetKind:  a.Target.Kind,
		TargetID:    a.Target.ID,
		CommunityID: a.CommunityID,
		Visibility:  a.Visibility,
		Metadata:    a.Metadata,
		Timestamp:   a.Timestamp,
	}
}
