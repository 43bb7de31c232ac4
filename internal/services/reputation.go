package services

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/metrics"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/internal/repositories"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
	"gorm.io/gorm"
)

// Fixed points per verb. Verbs not listed earn nothing.
var reputationPoints = map[string]int64{
	models.VerbEventAttended:     10,
	models.VerbEventPublished:    50,
	models.VerbCertificateIssued: 15,
	models.VerbCommunityJoined:   5,
}

// Verbs whose points come from the activity's "xp_change" metadata.
var dynamicPointVerbs = map[string]bool{
	models.VerbReputationPenalty:    true,
	models.VerbReputationAdjustment: true,
}

// ReputationVerbs lists every verb that can produce a ledger entry.
func ReputationVerbs() []string {
	out := make([]string, 0, len(reputationPoints)+len(dynamicPointVerbs))
	for v := range reputationPoints {
		out = append(out, v)
	}
	for v := range dynamicPointVerbs {
		out = append(out, v)
	}
	return out
}

// PointsFor returns the XP an activity is worth and whether it is
// reputation-bearing at all.
func PointsFor(a *models.DomainActivity) (int64, bool) {
	if dynamicPointVerbs[a.Verb] {
		return xpChange(a.Metadata["xp_change"]), true
	}
	p, ok := reputationPoints[a.Verb]
	return p, ok
}

// xpChange reads an integer from JSON-decoded metadata. Missing or
// malformed values count as zero.
func xpChange(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	}
	return 0
}

// ProcessOutcome says what ProcessActivity did.
type ProcessOutcome string

const (
	OutcomeApplied   ProcessOutcome = "applied"
	OutcomeDuplicate ProcessOutcome = "duplicate"
	OutcomeSkipped   ProcessOutcome = "skipped"
)

// ReputationEngine turns ledger activities into per-(user, community) XP.
type ReputationEngine struct {
	db      *gorm.DB
	repo    *repositories.ReputationRepository
	acts    *repositories.ActivityRepository
	metrics *metrics.Metrics
	now     func() time.Time

	lockAttempts int
	lockBackoff  time.Duration
}

func NewReputationEngine(db *gorm.DB, repo *repositories.ReputationRepository, acts *repositories.ActivityRepository, m *metrics.Metrics) *ReputationEngine {
	return &ReputationEngine{
		db:           db,
		repo:         repo,
		acts:         acts,
		metrics:      m,
		now:          time.Now,
		lockAttempts: 3,
		lockBackoff:  50 * time.Millisecond,
	}
}

// WithLockRetry sets the bounded retry used when the stats row lock is
// contended.
func (e *ReputationEngine) WithLockRetry(attempts int, backoff time.Duration) *ReputationEngine {
	e.lockAttempts = attempts
	e.lockBackoff = backoff
	return e
}

// HandleActivity subscribes the engine to the activity ledger.
func (e *ReputationEngine) HandleActivity(ctx context.Context, a *models.DomainActivity) error {
	_, err := e.ProcessActivity(ctx, a)
	return err
}

// ProcessActivity applies the XP of a once. Repeated calls for the same
// activity are no-ops. The stats row of (actor, community) is locked for
// the whole check-insert-update sequence.
func (e *ReputationEngine) ProcessActivity(ctx context.Context, a *models.DomainActivity) (ProcessOutcome, error) {
	points, ok := PointsFor(a)
	if !ok || a.CommunityID == nil {
		e.metrics.Reputation(string(OutcomeSkipped))
		return OutcomeSkipped, nil
	}
	communityID := *a.CommunityID
	log := logger.With("activity_id", a.ID, "user_id", a.ActorID, "community_id", communityID, "verb", a.Verb)

	outcome := OutcomeApplied
	var total int64
	err := database.WithLockRetry(ctx, e.lockAttempts, e.lockBackoff, func() error {
		outcome = OutcomeApplied
		return database.Transact(ctx, e.db, func(tx *database.Tx) error {
			repo := e.repo.WithTx(tx.DB)

			stats, err := repo.LockStats(ctx, a.ActorID, communityID)
			if err != nil {
				return err
			}

			exists, err := repo.EntryExists(ctx, a.ID)
			if err != nil {
				return err
			}
			if exists {
				outcome = OutcomeDuplicate
				return nil
			}

			inserted, err := repo.CreateEntry(ctx, &models.ReputationLedgerEntry{
				UserID:      a.ActorID,
				CommunityID: communityID,
				Amount:      points,
				Reason:      a.Verb,
				ActivityID:  a.ID,
			})
			if err != nil {
				return err
			}
			if !inserted {
				outcome = OutcomeDuplicate
				return nil
			}

			stats.Apply(a.Verb, points, e.now())
			total = stats.TotalXP
			return repo.SaveStats(ctx, stats)
		})
	})
	if err != nil {
		e.metrics.Reputation("error")
		log.Errorw("Reputation processing failed", "error", err)
		return "", err
	}

	e.metrics.Reputation(string(outcome))
	if outcome == OutcomeApplied {
		log.Infow("Reputation applied", "amount", points, "total_xp", total)
	} else {
		log.Debugw("Reputation already applied")
	}
	return outcome, nil
}

// RebuildStats recomputes the stats row of (user, community) from the
// reputation ledger.
func (e *ReputationEngine) RebuildStats(ctx context.Context, userID, communityID uint) (*models.UserCommunityStats, error) {
	var rebuilt *models.UserCommunityStats
	err := database.Transact(ctx, e.db, func(tx *database.Tx) error {
		repo := e.repo.WithTx(tx.DB)

		stats, err := repo.LockStats(ctx, userID, communityID)
		if err != nil {
			return err
		}
		entries, err := repo.ListEntries(ctx, userID, communityID)
		if err != nil {
			return err
		}

		fresh := models.UserCommunityStats{ID: stats.ID, UserID: userID, CommunityID: communityID}
		for _, entry := range entries {
			fresh.Apply(entry.Reason, entry.Amount, entry.CreatedAt)
		}
		if len(entries) == 0 {
			fresh.CurrentLevel = models.Level(0)
			fresh.LastActivityAt = stats.LastActivityAt
		}
		if err := repo.SaveStats(ctx, &fresh); err != nil {
			return err
		}
		rebuilt = &fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rebuilt, nil
}

// ProcessPending re-drives activities whose post-commit processing never
// ran, such as after a crash between commit and hook. Only activities older
// than grace are considered so live hooks are not raced. Scanning starts
// after afterID. It returns the number of activities applied and the last
// id scanned.
func (e *ReputationEngine) ProcessPending(ctx context.Context, afterID uint, batch int, grace time.Duration) (int, uint, error) {
	if batch <= 0 {
		batch = 100
	}
	verbs := ReputationVerbs()
	before := e.now().Add(-grace)

	applied := 0
	cursor := afterID
	for {
		acts, err := e.acts.ListWithoutReputation(ctx, verbs, cursor, before, batch)
		if err != nil {
			return applied, cursor, err
		}
		for i := range acts {
			outcome, err := e.ProcessActivity(ctx, &acts[i])
			if err != nil {
				return applied, cursor, err
			}
			cursor = acts[i].ID
			if outcome == OutcomeApplied {
				applied++
			}
		}
		if len(acts) < batch {
			return applied, cursor, nil
		}
	}
}

// RunSweeper calls ProcessPending every interval until ctx is done.
func (e *ReputationEngine) RunSweeper(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, _, err := e.ProcessPending(ctx, 0, batch, interval)
			if err != nil {
				logger.Error("Reputation sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("Reputation sweep applied pending activities", "count", n)
			}
		}
	}
}

// Stats returns the user's stats in a community; a user without activity
// gets a zero row at level 1.
func (e *ReputationEngine) Stats(ctx context.Context, userID, communityID uint) (*models.UserCommunityStats, error) {
	stats, err := e.repo.GetStats(ctx, userID, communityID)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return &models.UserCommunityStats{UserID: userID, CommunityID: communityID, CurrentLevel: models.Level(0)}, nil
	}
	return stats, nil
}

func (e *ReputationEngine) Leaderboard(ctx context.Context, communityID uint, limit int) ([]models.UserCommunityStats, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return e.repo.Leaderboard(ctx, communityID, limit)
}

// ReputationAdmin performs administrator-driven XP changes through the
// ledger.
type ReputationAdmin struct {
	db     *gorm.DB
	policy *policy.Engine
	roles  *repositories.RoleStore
	ledger *ActivityLedger
}

func NewReputationAdmin(db *gorm.DB, engine *policy.Engine, roles *repositories.RoleStore, ledger *ActivityLedger) *ReputationAdmin {
	return &ReputationAdmin{db: db, policy: engine, roles: roles, ledger: ledger}
}

// Adjust credits delta XP (negative for a penalty) to userID in
// communityID. The activity is logged with the subject as actor so the
// engine credits the right user; the administrator is kept in metadata.
func (s *ReputationAdmin) Adjust(ctx context.Context, actor *models.User, userID, communityID uint, delta int64, note string) (*models.DomainActivity, error) {
	if delta == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "adjustment must be non-zero")
	}
	if err := s.policy.Authorize(ctx, policy.ActionAdjustReputation, actor, policy.ForCommunity(communityID)); err != nil {
		return nil, err
	}

	membership, err := s.roles.ActiveMembership(ctx, communityID, userID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, errors.New(errors.ErrCodeValidation, "user is not an active member of this community")
	}

	verb := models.VerbReputationAdjustment
	if delta < 0 {
		verb = models.VerbReputationPenalty
	}

	var activity *models.DomainActivity
	err = database.Transact(ctx, s.db, func(tx *database.Tx) error {
		var err error
		activity, err = s.ledger.Log(ctx, tx, LogInput{
			ActorID:     userID,
			Verb:        verb,
			Target:      models.Ref(models.TargetMembership, membership.ID),
			CommunityID: &communityID,
			Visibility:  models.VisibilityPrivate,
			Metadata: map[string]interface{}{
				"xp_change":   delta,
				"adjusted_by": actor.ID,
				"note":        note,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Reputation adjusted", "user_id", userID, "community_id", communityID, "delta", delta, "actor_id", actor.ID)
	return activity, nil
}
