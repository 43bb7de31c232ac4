package services

import (
	"context"
	"time"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/metrics"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/internal/repositories"
	"gorm.io/gorm"
)

// Store bundles the repositories the services share.
type Store struct {
	DB            *gorm.DB
	Users         *repositories.UserRepository
	Communities   *repositories.CommunityRepository
	Events        *repositories.EventRepository
	Registrations *repositories.RegistrationRepository
	Certificates  *repositories.CertificateRepository
	Content       *repositories.ContentRepository
	Activities    *repositories.ActivityRepository
	Reputation    *repositories.ReputationRepository
	Notifications *repositories.NotificationRepository
	Roles         *repositories.RoleStore
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		DB:            db,
		Users:         repositories.NewUserRepository(db),
		Communities:   repositories.NewCommunityRepository(db),
		Events:        repositories.NewEventRepository(db),
		Registrations: repositories.NewRegistrationRepository(db),
		Certificates:  repositories.NewCertificateRepository(db),
		Content:       repositories.NewContentRepository(db),
		Activities:    repositories.NewActivityRepository(db),
		Reputation:    repositories.NewReputationRepository(db),
		Notifications: repositories.NewNotificationRepository(db),
		Roles:         repositories.NewRoleStore(db),
	}
}

// Deps are the collaborators every orchestrating service needs.
type Deps struct {
	Store   *Store
	Policy  *policy.Engine
	Ledger  *ActivityLedger
	Metrics *metrics.Metrics

	// Bounded retry for contended row locks; zero values mean 3 attempts
	// and 50ms.
	LockRetryAttempts int
	LockRetryBackoff  time.Duration
}

// guarded is the common part of every orchestrating service: policy check,
// mutation and ledger write inside one transaction.
type guarded struct {
	store   *Store
	policy  *policy.Engine
	ledger  *ActivityLedger
	metrics *metrics.Metrics

	lockAttempts int
	lockBackoff  time.Duration
}

func newGuarded(d Deps) guarded {
	g := guarded{
		store:        d.Store,
		policy:       d.Policy,
		ledger:       d.Ledger,
		metrics:      d.Metrics,
		lockAttempts: d.LockRetryAttempts,
		lockBackoff:  d.LockRetryBackoff,
	}
	if g.lockAttempts < 1 {
		g.lockAttempts = 3
	}
	if g.lockBackoff <= 0 {
		g.lockBackoff = 50 * time.Millisecond
	}
	return g
}

// within runs fn in a transaction and hands it a policy engine reading roles
// through the same transaction.
func (g guarded) within(ctx context.Context, fn func(tx *database.Tx, engine *policy.Engine) error) error {
	return database.Transact(ctx, g.store.DB, func(tx *database.Tx) error {
		return fn(tx, g.policy.WithRoles(g.store.Roles.WithTx(tx.DB)))
	})
}

// withinRetry is within wrapped in the bounded lock retry.
func (g guarded) withinRetry(ctx context.Context, fn func(tx *database.Tx, engine *policy.Engine) error) error {
	return database.WithLockRetry(ctx, g.lockAttempts, g.lockBackoff, func() error {
		return g.within(ctx, fn)
	})
}

// logEvent is ledger.Log with community and visibility taken from e.
func (g guarded) logEvent(ctx context.Context, tx *database.Tx, actorID uint, verb string, e *models.Event, target models.TargetRef, meta map[string]interface{}) (*models.DomainActivity, error) {
	visibility := models.VisibilityCommunity
	if e.CommunityID == nil && e.IsPublic {
		visibility = models.VisibilityPublic
	}
	return g.ledger.Log(ctx, tx, LogInput{
		ActorID:     actorID,
		Verb:        verb,
		Target:      target,
		CommunityID: e.CommunityID,
		Visibility:  visibility,
		Metadata:    meta,
	})
}

func (g guarded) now() time.Time {
	return g.policy.Lifecycle().Now()
}
