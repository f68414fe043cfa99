package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	rediscache "github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
	"github.com/daybook-io/daybook-auth/pkg/utils"
)

// SessionService manages server-side session state for browser flows.
// Sessions live in the shared cache keyed by session id, with a per-subject
// index set so destroy-all does not scan the keyspace.
type SessionService struct {
	cache rediscache.CacheManager
	cfg   *config.SessionConfig
	log   logger.Logger
	now   func() time.Time
}

// NewSessionService creates a session service.
func NewSessionService(cache rediscache.CacheManager, cfg *config.SessionConfig, log logger.Logger) *SessionService {
	return &SessionService{
		cache: cache,
		cfg:   cfg,
		log:   log.WithComponent("sessions"),
		now:   time.Now,
	}
}

// Create starts a session for the subject with a high-entropy id.
func (s *SessionService) Create(ctx context.Context, subject string, reqCtx models.RequestContext) (*models.Session, error) {
	id, err := utils.RandomID(constants.SessionIDBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := s.now().UTC()
	sess := &models.Session{
		SessionID:     id,
		UserID:        subject,
		CreatedAt:     now,
		LastActivity:  now,
		IP:            reqCtx.IP,
		UserAgent:     reqCtx.UserAgent,
		LastRotatedAt: now,
	}
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.index(ctx, sess); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "Session created", logger.String("user_id", subject))
	return sess, nil
}

// Get loads a session by id and touches it. An idle- or hard-expired session
// is deleted and reported as not found; a live one gets its last_activity
// advanced and its TTL renewed.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if sess.Expired(now, s.cfg.IdleTimeout, s.cfg.HardLimit) {
		if derr := s.Destroy(ctx, sessionID); derr != nil {
			s.log.Warn(ctx, "Failed to remove expired session", logger.Error(derr))
		}
		return nil, errors.ErrSessionNotFound
	}

	sess.LastActivity = now
	sess.RequestCount++
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RotationDue reports whether the periodic rotation policy applies: every N
// requests or every M minutes, whichever comes first.
func (s *SessionService) RotationDue(sess *models.Session) bool {
	if s.cfg.RotateEveryN > 0 && sess.RequestCount > 0 && sess.RequestCount%s.cfg.RotateEveryN == 0 {
		return true
	}
	return s.cfg.RotateInterval > 0 && s.now().Sub(sess.LastRotatedAt) >= s.cfg.RotateInterval
}

// Rotate replaces the session id, preserving all other state. The old cache
// entry is deleted only after the new one is written, so a crash in between
// leaves a usable session under at least one id.
func (s *SessionService) Rotate(ctx context.Context, sess *models.Session, reason string) (*models.Session, error) {
	newID, err := utils.RandomID(constants.SessionIDBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	oldID := sess.SessionID
	rotated := *sess
	rotated.SessionID = newID
	rotated.RotationCount++
	rotated.LastRotatedAt = s.now().UTC()

	if err := s.persist(ctx, &rotated); err != nil {
		return nil, err
	}
	if err := s.index(ctx, &rotated); err != nil {
		return nil, err
	}
	if err := s.cache.Delete(ctx, constants.CacheNSSession+oldID); err != nil {
		s.log.Warn(ctx, "Failed to delete superseded session entry", logger.Error(err))
	}
	if err := s.cache.SRem(ctx, constants.CacheNSSessionIx+sess.UserID, oldID); err != nil {
		s.log.Warn(ctx, "Failed to unindex superseded session id", logger.Error(err))
	}

	s.log.Info(ctx, "Session rotated",
		logger.String("user_id", sess.UserID),
		logger.String("reason", reason),
		logger.Int("rotation_count", rotated.RotationCount),
	)
	return &rotated, nil
}

// Elevate grants temporary elevated privileges. Privilege changes always
// rotate the session id.
func (s *SessionService) Elevate(ctx context.Context, sess *models.Session, duration time.Duration) (*models.Session, error) {
	sess.IsElevated = true
	sess.ElevationExpires = s.now().UTC().Add(duration)
	return s.Rotate(ctx, sess, "privilege elevation")
}

// Destroy removes a session by id.
func (s *SessionService) Destroy(ctx context.Context, sessionID string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		if stderrors.Is(err, errors.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := s.cache.Delete(ctx, constants.CacheNSSession+sessionID); err != nil {
		return err
	}
	return s.cache.SRem(ctx, constants.CacheNSSessionIx+sess.UserID, sessionID)
}

// DestroyAll removes every session belonging to the subject and returns how
// many were removed.
func (s *SessionService) DestroyAll(ctx context.Context, subject string) (int, error) {
	ixKey := constants.CacheNSSessionIx + subject
	ids, err := s.cache.SMembers(ctx, ixKey)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, constants.CacheNSSession+id)
	}
	keys = append(keys, ixKey)
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.log.Info(ctx, "All sessions destroyed",
			logger.String("user_id", subject), logger.Int("count", len(ids)))
	}
	return len(ids), nil
}

func (s *SessionService) load(ctx context.Context, sessionID string) (*models.Session, error) {
	raw, err := s.cache.Get(ctx, constants.CacheNSSession+sessionID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.ErrSessionNotFound
		}
		return nil, err
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *SessionService) persist(ctx context.Context, sess *models.Session) error {
	ttl := sess.EffectiveTTL(s.now(), s.cfg.IdleTimeout, s.cfg.HardLimit)
	if ttl <= 0 {
		return errors.ErrSessionNotFound
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, constants.CacheNSSession+sess.SessionID, string(data), ttl)
}

func (s *SessionService) index(ctx context.Context, sess *models.Session) error {
	ixKey := constants.CacheNSSessionIx + sess.UserID
	if err := s.cache.SAdd(ctx, ixKey, sess.SessionID); err != nil {
		return err
	}
	return s.cache.Expire(ctx, ixKey, s.cfg.HardLimit)
}
