// Package service provides the application-level orchestrator composing the
// domain services into login, refresh, and logout use cases.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/daybook-io/daybook-auth/internal/application/dto"
	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	domainservice "github.com/daybook-io/daybook-auth/internal/domain/service"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/monitoring"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
	"github.com/daybook-io/daybook-auth/pkg/utils"
)

// SessionRecordStore is the persisted-record capability the orchestrator
// consults. Only the orchestrator knows these records exist.
type SessionRecordStore interface {
	Create(ctx context.Context, rec *models.SessionRecord) error
	GetByRotationID(ctx context.Context, rotationID string) (*models.SessionRecord, error)
	RotateRotationID(ctx context.Context, recordID, oldRotationID, newRotationID string) error
	Revoke(ctx context.Context, recordID string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// AuthAppService composes the token, rotation, and session services into the
// authentication use cases exposed over HTTP.
type AuthAppService struct {
	tokens   *domainservice.TokenService
	rotation *domainservice.RotationService
	sessions *domainservice.SessionService
	records  SessionRecordStore
	audit    domainservice.AuditRecorder
	metrics  *monitoring.Metrics
	cfg      *config.TokenConfig
	log      logger.Logger
}

// NewAuthAppService creates the orchestrator. metrics may be nil.
func NewAuthAppService(
	tokens *domainservice.TokenService,
	rotation *domainservice.RotationService,
	sessions *domainservice.SessionService,
	records SessionRecordStore,
	audit domainservice.AuditRecorder,
	metrics *monitoring.Metrics,
	cfg *config.TokenConfig,
	log logger.Logger,
) *AuthAppService {
	return &AuthAppService{
		tokens:   tokens,
		rotation: rotation,
		sessions: sessions,
		records:  records,
		audit:    audit,
		metrics:  metrics,
		cfg:      cfg,
		log:      log.WithComponent("auth"),
	}
}

// Login mints a token pair for a user whose credentials were already proven
// upstream. The refresh token's rotation id links it to a persisted session
// record; an optional cookie session is created for browser flows.
func (s *AuthAppService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.TokenPairResponse, error) {
	rotationID, err := utils.RandomID(16)
	if err != nil {
		return nil, errors.ErrInternal("failed to generate rotation id").WithCause(err)
	}
	record := &models.SessionRecord{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		RefreshRotationID: rotationID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.records.Create(ctx, record); err != nil {
		s.log.Error(ctx, "Failed to create session record", err, logger.String("user_id", req.UserID))
		return nil, errors.ErrInternal("login failed").WithCause(err)
	}

	var sessionID string
	if req.WithSession {
		sess, err := s.sessions.Create(ctx, req.UserID, models.RequestContext{IP: req.IP, UserAgent: req.UserAgent})
		if err != nil {
			return nil, errors.ErrInternal("login failed").WithCause(err)
		}
		sessionID = sess.SessionID
		if s.metrics != nil {
			s.metrics.SessionsActive.Inc()
		}
	}

	pair, err := s.mintPair(ctx, req.UserID, req.Scopes, req.Audience, rotationID, sessionID)
	if err != nil {
		return nil, err
	}

	s.audit.RecordEvent(ctx, req.UserID, constants.AuditEventLogin, map[string]any{
		"ip": req.IP, "with_session": req.WithSession,
	})
	s.log.Info(ctx, "Login succeeded", logger.String("user_id", req.UserID))
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. A consumed fingerprint
// triggers the incident-response path; every failure surfaces as the same
// generic unauthorized error so the response shape never reveals which check
// failed.
func (s *AuthAppService) Refresh(ctx context.Context, req *dto.RefreshRequest) (*dto.TokenPairResponse, error) {
	claims, err := s.tokens.Verify(ctx, req.RefreshToken, domainservice.VerifyOptions{
		ExpectedType: constants.TokenTypeRefresh,
	})
	if err != nil {
		if te, ok := errors.AsTokenError(err); ok {
			s.log.Warn(ctx, "Refresh token rejected", logger.String("kind", string(te.Kind)))
			return nil, errors.ErrUnauthorized().WithCause(err)
		}
		return nil, errors.ErrServiceUnavailable("verification unavailable").WithCause(err)
	}

	fingerprint := utils.Fingerprint(req.RefreshToken)
	reused, err := s.rotation.CheckReuse(ctx, fingerprint, claims.Subject)
	if err != nil {
		return nil, errors.ErrServiceUnavailable("rotation state unavailable").WithCause(err)
	}
	if reused {
		return nil, s.handleReuse(ctx, claims.Subject, req)
	}

	record, err := s.records.GetByRotationID(ctx, claims.RotationID)
	if err != nil {
		s.log.Warn(ctx, "Refresh presented unknown rotation id", logger.String("user_id", claims.Subject))
		return nil, errors.ErrUnauthorized().WithCause(err)
	}
	if record.Revoked() || record.UserID != claims.Subject {
		return nil, errors.ErrUnauthorized()
	}

	newRotationID, err := utils.RandomID(16)
	if err != nil {
		return nil, errors.ErrInternal("failed to generate rotation id").WithCause(err)
	}
	if err := s.records.RotateRotationID(ctx, record.ID, claims.RotationID, newRotationID); err != nil {
		// A parallel refresh already advanced the record; this presentation
		// loses and learns nothing.
		s.log.Warn(ctx, "Refresh lost rotation race", logger.String("user_id", claims.Subject))
		return nil, errors.ErrUnauthorized().WithCause(err)
	}

	pair, err := s.mintPair(ctx, claims.Subject, claims.Scopes().Slice(), claims.Audience, newRotationID, claims.SessionID)
	if err != nil {
		return nil, err
	}

	if err := s.rotation.MarkRotated(ctx, fingerprint, utils.Fingerprint(pair.RefreshToken), claims.Subject); err != nil {
		if errors.IsTokenErrorKind(err, errors.KindReuseDetected) {
			return nil, s.handleReuse(ctx, claims.Subject, req)
		}
		return nil, errors.ErrServiceUnavailable("rotation state unavailable").WithCause(err)
	}

	// The presented token is spent; kill its jti so even a replay inside the
	// fingerprint TTL dies at the cheaper check.
	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		s.log.Warn(ctx, "Failed to revoke spent refresh token", logger.Error(err))
	}

	s.audit.RecordEvent(ctx, claims.Subject, constants.AuditEventTokenRefreshed, nil)
	return pair, nil
}

// Logout destroys the caller's session and revokes tokens. With RevokeAll it
// runs the full per-subject revocation cascade.
func (s *AuthAppService) Logout(ctx context.Context, req *dto.LogoutRequest) error {
	if req.SessionID != "" {
		if err := s.sessions.Destroy(ctx, req.SessionID); err != nil {
			s.log.Warn(ctx, "Failed to destroy session on logout", logger.Error(err))
		} else if s.metrics != nil {
			s.metrics.SessionsActive.Dec()
		}
	}
	if req.JTI != "" {
		if err := s.tokens.Revoke(ctx, req.JTI, req.TokenExp); err != nil {
			s.log.Warn(ctx, "Failed to revoke token on logout", logger.Error(err))
		} else if s.metrics != nil {
			s.metrics.TokenRevocations.WithLabelValues("single").Inc()
		}
	}

	if req.RevokeAll {
		if _, err := s.records.RevokeAllForUser(ctx, req.UserID); err != nil {
			return errors.ErrInternal("logout failed").WithCause(err)
		}
		if err := s.rotation.RevokeAll(ctx, req.UserID); err != nil {
			return errors.ErrInternal("logout failed").WithCause(err)
		}
		if s.metrics != nil {
			s.metrics.TokenRevocations.WithLabelValues("subject").Inc()
		}
	}

	s.audit.RecordEvent(ctx, req.UserID, constants.AuditEventLogout, map[string]any{
		"revoke_all": req.RevokeAll,
	})
	return nil
}

// VerifyToken runs a verification on behalf of a service that cannot verify
// locally. Constraints come from the request; failures surface through the
// generic boundary mapping.
func (s *AuthAppService) VerifyToken(ctx context.Context, req *dto.VerifyRequest) (*models.Claims, error) {
	claims, err := s.tokens.Verify(ctx, req.Token, domainservice.VerifyOptions{
		ExpectedType:     constants.TokenType(req.ExpectedType),
		RequiredScopes:   req.RequiredScopes,
		ExpectedAudience: req.ExpectedAudience,
	})
	if err != nil {
		if _, ok := errors.AsTokenError(err); ok {
			return nil, err
		}
		return nil, errors.ErrServiceUnavailable("verification unavailable").WithCause(err)
	}
	return claims, nil
}

// MintM2M mints a machine-to-machine token for a calling service.
func (s *AuthAppService) MintM2M(ctx context.Context, req *dto.MintM2MRequest) (*dto.TokenResponse, error) {
	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 || parsed > s.cfg.M2MTTL {
			return nil, errors.ErrInvalidRequest("ttl must be a positive duration within the m2m limit")
		}
		ttl = parsed
	}

	token, claims, err := s.tokens.Sign(ctx, domainservice.SignRequest{
		Subject:     "svc:" + req.ServiceName,
		Type:        constants.TokenTypeM2M,
		Scopes:      req.Scopes,
		Audience:    req.Audience,
		TTL:         ttl,
		ServiceName: req.ServiceName,
	})
	if err != nil {
		return nil, errors.ErrServiceUnavailable("token signing unavailable").WithCause(err)
	}

	if s.metrics != nil {
		s.metrics.RecordIssued(string(constants.TokenTypeM2M))
	}
	s.audit.RecordEvent(ctx, claims.Subject, constants.AuditEventTokenIssued, map[string]any{
		"type": string(constants.TokenTypeM2M), "service": req.ServiceName,
	})
	return &dto.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(claims.ExpiresAt.Time).Seconds()),
	}, nil
}

// handleReuse runs the incident response and returns the generic error. The
// audit attempt is guarded separately from the revocation so a logging
// failure never blocks the security decision, and a revocation failure still
// tries to leave a trace.
func (s *AuthAppService) handleReuse(ctx context.Context, subject string, req *dto.RefreshRequest) error {
	s.log.Error(ctx, "Refresh token reuse detected", nil,
		logger.String("user_id", subject),
		logger.String("ip", req.IP),
	)
	if s.metrics != nil {
		s.metrics.ReuseDetections.Inc()
	}

	if _, err := s.records.RevokeAllForUser(ctx, subject); err != nil {
		s.log.Error(ctx, "Failed to revoke session records during incident response", err)
	}
	if err := s.rotation.RevokeAll(ctx, subject); err != nil {
		s.log.Error(ctx, "Failed to run revocation cascade during incident response", err)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error(ctx, "Audit recorder panicked during incident response", nil, logger.Any("panic", r))
			}
		}()
		s.audit.RecordEvent(ctx, subject, constants.AuditEventReuseDetected, map[string]any{
			"ip": req.IP, "user_agent": req.UserAgent,
		})
	}()

	return errors.ErrUnauthorized()
}

func (s *AuthAppService) mintPair(ctx context.Context, subject string, scopes []string, audience []string, rotationID, sessionID string) (*dto.TokenPairResponse, error) {
	access, accessClaims, err := s.tokens.Sign(ctx, domainservice.SignRequest{
		Subject:   subject,
		Type:      constants.TokenTypeAccess,
		Scopes:    scopes,
		Audience:  audience,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, errors.ErrServiceUnavailable("token signing unavailable").WithCause(err)
	}
	refresh, _, err := s.tokens.Sign(ctx, domainservice.SignRequest{
		Subject:    subject,
		Type:       constants.TokenTypeRefresh,
		Audience:   audience,
		RotationID: rotationID,
		SessionID:  sessionID,
	})
	if err != nil {
		return nil, errors.ErrServiceUnavailable("token signing unavailable").WithCause(err)
	}

	if err := s.rotation.RecordIssued(ctx, utils.Fingerprint(refresh), subject); err != nil {
		s.log.Warn(ctx, "Failed to record refresh fingerprint", logger.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordIssued(string(constants.TokenTypeAccess))
		s.metrics.RecordIssued(string(constants.TokenTypeRefresh))
	}

	return &dto.TokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(accessClaims.ExpiresAt.Time).Seconds()),
		SessionID:    sessionID,
	}, nil
}
