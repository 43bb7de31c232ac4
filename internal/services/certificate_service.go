package services

import (
	"context"
	"strings"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/lifecycle"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/internal/security"
	"github.com/cosplatform/eventcore/internal/throttle"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
	"gorm.io/datatypes"
)

type CertificateService struct {
	guarded
	limiter *throttle.Limiter
}

func NewCertificateService(d Deps, limiter *throttle.Limiter) *CertificateService {
	return &CertificateService{guarded: newGuarded(d), limiter: limiter}
}

// IssueResult carries the certificate; Created is false when it had already
// been issued.
type IssueResult struct {
	Certificate *models.Certificate
	Created     bool
}

// Issue grants a certificate to userID for eventID. Issuing twice returns
// the existing certificate and logs nothing.
func (s *CertificateService) Issue(ctx context.Context, actor *models.User, eventID, userID uint) (*IssueResult, error) {
	var out *IssueResult
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		event, err := s.store.Events.WithTx(tx.DB).GetEventByID(ctx, eventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionIssueCertificate, actor, policy.ForEvent(event)); err != nil {
			return err
		}
		if res := engine.Lifecycle().ValidateAction(event, lifecycle.ActionIssueCertificate); !res.OK {
			return errors.New(errors.ErrCodeInvalidTransition, res.Reason)
		}

		regs := s.store.Registrations.WithTx(tx.DB)
		locked, err := regs.LockRegistration(ctx, eventID, userID)
		if err != nil {
			return err
		}
		certs := s.store.Certificates.WithTx(tx.DB)
		existing, err := certs.FindByRegistration(ctx, locked.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.IsRevoked() {
				return errors.New(errors.ErrCodeConflict, "certificate was revoked")
			}
			out = &IssueResult{Certificate: existing}
			return nil
		}

		reg, err := regs.FindRegistration(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if reg.Attendance == nil || reg.Attendance.CheckIn == nil {
			return errors.New(errors.ErrCodeValidation, "Attendee has not checked in")
		}

		cert := &models.Certificate{
			RegistrationID: reg.ID,
			EventID:        event.ID,
			UserID:         reg.UserID,
			CertToken:      security.NewCertToken(),
			CredentialID:   security.NewCredentialID(),
			IssuedByID:     actor.ID,
			IssuerSnapshot: datatypes.JSONMap{
				"issuer_id":    actor.ID,
				"issuer_name":  actor.DisplayName(),
				"event_title":  event.Title,
				"event_start":  event.StartTime,
				"community_id": event.CommunityID,
			},
		}
		if err := certs.Create(ctx, cert); err != nil {
			return err
		}

		// The recipient is the actor so the XP lands on them.
		activity, err := s.logEvent(ctx, tx, reg.UserID, models.VerbCertificateIssued, event,
			models.Ref(models.TargetRegistration, reg.ID),
			map[string]interface{}{
				"certificate_id": cert.ID,
				"credential_id":  cert.CredentialID,
				"issued_by":      actor.ID,
			})
		if err != nil {
			return err
		}
		if err := certs.SetIssuedActivity(ctx, cert.ID, activity.ID); err != nil {
			return err
		}
		cert.IssuedActivityID = &activity.ID
		out = &IssueResult{Certificate: cert, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Created {
		logger.Info("Certificate issued", "certificate_id", out.Certificate.ID, "event_id", eventID, "user_id", userID)
	}
	return out, nil
}

// Revoke invalidates a certificate and redacts the activity that issued it.
// Reputation already earned is kept.
func (s *CertificateService) Revoke(ctx context.Context, actor *models.User, certID uint, reason string) (*models.Certificate, error) {
	reason = security.SanitizeText(reason, security.MaxTitleLength)
	if reason == "" {
		return nil, errors.New(errors.ErrCodeValidation, "revocation reason is required")
	}

	var cert *models.Certificate
	err := s.within(ctx, func(tx *database.Tx, engine *policy.Engine) error {
		certs := s.store.Certificates.WithTx(tx.DB)

		var err error
		cert, err = certs.LockByID(ctx, certID)
		if err != nil {
			return err
		}
		event, err := s.store.Events.WithTx(tx.DB).GetEventByID(ctx, cert.EventID)
		if err != nil {
			return err
		}
		if err := engine.Authorize(ctx, policy.ActionIssueCertificate, actor, policy.ForEvent(event)); err != nil {
			return err
		}
		if cert.IsRevoked() {
			return nil
		}

		now := s.now()
		if err := certs.Revoke(ctx, cert.ID, now, reason); err != nil {
			return err
		}
		cert.RevokedAt = &now
		cert.RevocationReason = reason

		if cert.IssuedActivityID != nil {
			if err := s.ledger.Redact(ctx, tx, *cert.IssuedActivityID, models.ActivityRevoked); err != nil {
				return err
			}
		}
		_, err = s.logEvent(ctx, tx, actor.ID, models.VerbCertificateRevoked, event,
			models.Ref(models.TargetCertificate, cert.ID),
			map[string]interface{}{"user_id": cert.UserID, "reason": reason})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Certificate revoked", "certificate_id", certID, "actor_id", actor.ID)
	return cert, nil
}

// Verification is the public view of a certificate lookup.
type Verification struct {
	Certificate *models.Certificate
	Valid       bool
}

// Verify looks up a certificate by its public token. Lookups are throttled
// per IP.
func (s *CertificateService) Verify(ctx context.Context, eventID uint, token, ip string) (*Verification, error) {
	if !s.limiter.AllowIP(ip) {
		return nil, errors.New(errors.ErrCodeRateLimitExceeded, "Too many verification requests")
	}
	token = strings.TrimSpace(token)
	if len(token) != 32 {
		return nil, errors.New(errors.ErrCodeNotFound, "certificate not found")
	}
	cert, err := s.store.Certificates.GetByToken(ctx, eventID, token)
	if err != nil {
		return nil, err
	}
	return &Verification{Certificate: cert, Valid: !cert.IsRevoked()}, nil
}
