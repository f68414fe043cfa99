package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	rediscache "github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// RotationService tracks refresh-token fingerprints through the
// issued -> consumed state machine and detects reuse. It is independent of
// the token service's cryptography: it only ever sees one-way hashes.
type RotationService struct {
	cache    rediscache.CacheManager
	tokens   SubjectRevoker
	sessions SessionDestroyer
	audit    AuditRecorder
	cfg      *config.TokenConfig
	log      logger.Logger
	now      func() time.Time
}

// NewRotationService creates a rotation service. The tokens and sessions
// collaborators are invoked only on the incident-response path.
func NewRotationService(
	cache rediscache.CacheManager,
	tokens SubjectRevoker,
	sessions SessionDestroyer,
	audit AuditRecorder,
	cfg *config.TokenConfig,
	log logger.Logger,
) *RotationService {
	return &RotationService{
		cache:    cache,
		tokens:   tokens,
		sessions: sessions,
		audit:    audit,
		cfg:      cfg,
		log:      log.WithComponent("rotation"),
		now:      time.Now,
	}
}

// RecordIssued registers a freshly minted refresh token's fingerprint as
// unconsumed. The record lives exactly as long as the token could.
func (s *RotationService) RecordIssued(ctx context.Context, fingerprint, subject string) error {
	rec := models.RefreshFingerprint{
		Fingerprint: fingerprint,
		UserID:      subject,
		IssuedAt:    s.now().UTC(),
	}
	if err := s.writeRecord(ctx, &rec); err != nil {
		return err
	}
	ixKey := constants.CacheNSFingerprintIx + subject
	if err := s.cache.SAdd(ctx, ixKey, fingerprint); err != nil {
		return err
	}
	return s.cache.Expire(ctx, ixKey, s.cfg.RefreshTTL)
}

// CheckReuse reports whether the fingerprint has already been consumed. An
// unknown fingerprint is not reuse; it is simply not tracked (expired or
// never issued here) and the token-level checks decide its fate.
func (s *RotationService) CheckReuse(ctx context.Context, fingerprint, subject string) (bool, error) {
	// The consumption marker is authoritative: it is the compare-and-set
	// cell MarkRotated writes first.
	consumed, err := s.cache.Exists(ctx, consumedKey(fingerprint))
	if err != nil {
		return false, err
	}
	if consumed {
		return true, nil
	}
	rec, err := s.readRecord(ctx, fingerprint)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return rec.Consumed, nil
}

// MarkRotated transitions the old fingerprint to consumed and links it to
// its successor. The transition is exactly-once: a compare-and-set write
// decides the winner when two requests race on the same token, and the loser
// observes "already consumed".
func (s *RotationService) MarkRotated(ctx context.Context, oldFingerprint, newFingerprint, subject string) error {
	won, err := s.cache.SetNX(ctx, consumedKey(oldFingerprint), newFingerprint, s.cfg.RefreshTTL)
	if err != nil {
		return fmt.Errorf("consume fingerprint: %w", err)
	}
	if !won {
		return errors.NewTokenError(errors.KindReuseDetected, "fingerprint already consumed")
	}

	rec, err := s.readRecord(ctx, oldFingerprint)
	if err != nil {
		if !errors.IsNotFound(err) {
			return err
		}
		rec = &models.RefreshFingerprint{Fingerprint: oldFingerprint, UserID: subject}
	}
	rec.Consumed = true
	rec.RotatedTo = newFingerprint
	rec.ConsumedAt = s.now().UTC()
	if err := s.writeRecord(ctx, rec); err != nil {
		return err
	}
	return s.RecordIssued(ctx, newFingerprint, subject)
}

// RevokeAll is the incident-response path: it invalidates every outstanding
// fingerprint for the subject, revokes all their tokens, and destroys all
// their sessions. The audit record is attempted with its own guard so an
// observability failure cannot mask the security decision.
func (s *RotationService) RevokeAll(ctx context.Context, subject string) error {
	ixKey := constants.CacheNSFingerprintIx + subject
	fps, err := s.cache.SMembers(ctx, ixKey)
	if err != nil {
		return fmt.Errorf("list fingerprints: %w", err)
	}

	keys := make([]string, 0, 2*len(fps)+1)
	for _, fp := range fps {
		keys = append(keys, constants.CacheNSFingerprint+fp, consumedKey(fp))
	}
	keys = append(keys, ixKey)
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate fingerprints: %w", err)
	}

	if err := s.tokens.RevokeAllForSubject(ctx, subject); err != nil {
		return err
	}
	destroyed, err := s.sessions.DestroyAll(ctx, subject)
	if err != nil {
		return err
	}

	s.log.Error(ctx, "Refresh token reuse triggered mass revocation", nil,
		logger.String("subject", subject),
		logger.Int("fingerprints_invalidated", len(fps)),
		logger.Int("sessions_destroyed", destroyed),
	)
	if s.audit != nil {
		s.audit.RecordEvent(ctx, subject, constants.AuditEventMassRevocation, map[string]any{
			"fingerprints_invalidated": len(fps),
			"sessions_destroyed":       destroyed,
		})
	}
	return nil
}

func consumedKey(fingerprint string) string {
	return constants.CacheNSFingerprint + fingerprint + ":consumed"
}

func (s *RotationService) readRecord(ctx context.Context, fingerprint string) (*models.RefreshFingerprint, error) {
	raw, err := s.cache.Get(ctx, constants.CacheNSFingerprint+fingerprint)
	if err != nil {
		return nil, err
	}
	var rec models.RefreshFingerprint
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode fingerprint record: %w", err)
	}
	return &rec, nil
}

func (s *RotationService) writeRecord(ctx context.Context, rec *models.RefreshFingerprint) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, constants.CacheNSFingerprint+rec.Fingerprint, string(data), s.cfg.RefreshTTL)
}
