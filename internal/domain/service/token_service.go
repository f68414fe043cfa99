package service

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	rediscache "github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
	"github.com/daybook-io/daybook-auth/pkg/utils"
)

// TokenService signs and verifies bearer tokens. Signing happens entirely in
// memory before any write; verification runs a fixed pipeline whose failures
// all belong to the closed TokenErrorKind set.
type TokenService struct {
	keys  KeyProvider
	cache rediscache.CacheManager
	cfg   *config.TokenConfig
	log   logger.Logger
	now   func() time.Time
}

// NewTokenService creates a token service.
func NewTokenService(keys KeyProvider, cache rediscache.CacheManager, cfg *config.TokenConfig, log logger.Logger) *TokenService {
	return &TokenService{
		keys:  keys,
		cache: cache,
		cfg:   cfg,
		log:   log.WithComponent("tokens"),
		now:   time.Now,
	}
}

// Sign mints a signed token for the request. It fails closed with
// ErrKeyUnavailable when no signing key can be obtained.
func (s *TokenService) Sign(ctx context.Context, req SignRequest) (string, *models.Claims, error) {
	if !req.Type.IsValid() {
		return "", nil, fmt.Errorf("unknown token type %q", req.Type)
	}

	key, err := s.keys.CurrentSigningKey(ctx)
	if err != nil {
		return "", nil, errors.ErrKeyUnavailable
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.cfg.TTLFor(req.Type)
	}

	now := s.now().UTC()
	claims := &models.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   req.Subject,
			Audience:  jwt.ClaimStrings(req.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TokenType:   req.Type,
		Scope:       utils.NewScopeSet(req.Scopes).String(),
		RotationID:  req.RotationID,
		SessionID:   req.SessionID,
		ServiceName: req.ServiceName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = key.KID

	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify runs the full verification pipeline: structure, algorithm, key
// lookup, signature, lifetime, type, audience, scope, and revocation. Every
// failure is a TokenError; the caller decides how much of that detail to
// surface.
func (s *TokenService) Verify(ctx context.Context, tokenString string, opts VerifyOptions) (*models.Claims, error) {
	if strings.Count(tokenString, ".") != 2 {
		return nil, errors.NewTokenError(errors.KindMalformed, "token must have exactly three segments")
	}
	if err := s.checkAlgorithm(tokenString); err != nil {
		return nil, err
	}

	claims := &models.Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, s.keyfunc(ctx),
		jwt.WithValidMethods([]string{constants.AlgorithmEdDSA}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, mapParseError(err)
	}

	if !claims.TokenType.IsValid() {
		return nil, errors.NewTokenError(errors.KindWrongType, "unknown token type")
	}
	if opts.ExpectedType != "" && claims.TokenType != opts.ExpectedType {
		return nil, errors.NewTokenError(errors.KindWrongType,
			fmt.Sprintf("expected %s, got %s", opts.ExpectedType, claims.TokenType))
	}
	if opts.ExpectedAudience != "" && !claims.HasAudience(opts.ExpectedAudience) {
		return nil, errors.NewTokenError(errors.KindWrongAudience, "audience not granted")
	}
	if len(opts.RequiredScopes) > 0 && !claims.Scopes().SatisfiesAll(opts.RequiredScopes) {
		return nil, errors.NewTokenError(errors.KindInsufficientScope, "required scope not granted")
	}

	if err := s.checkRevocation(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Revoke marks a single token's jti as revoked until its natural expiry.
func (s *TokenService) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.cache.Set(ctx, constants.CacheNSRevokedJTI+jti, "1", ttl)
}

// RevokeAllForSubject records a revocation cutoff for the subject. Verify
// rejects any token whose iat predates the cutoff, so tokens issued before
// this call are dead regardless of their individual jti state.
func (s *TokenService) RevokeAllForSubject(ctx context.Context, subject string) error {
	cutoff := strconv.FormatInt(s.now().Unix(), 10)
	// The cutoff only needs to outlive the longest-lived token in circulation.
	err := s.cache.Set(ctx, constants.CacheNSRevokedSub+subject, cutoff, s.cfg.RefreshTTL)
	if err != nil {
		return err
	}
	s.log.Warn(ctx, "All tokens revoked for subject", logger.String("subject", subject))
	return nil
}

// ================================================================================
// Verification pipeline internals
// ================================================================================

// checkAlgorithm decodes the header segment and rejects any algorithm other
// than the single supported one, explicitly including "none".
func (s *TokenService) checkAlgorithm(tokenString string) error {
	headerSeg := tokenString[:strings.IndexByte(tokenString, '.')]
	raw, err := base64.RawURLEncoding.DecodeString(headerSeg)
	if err != nil {
		return errors.WrapTokenError(errors.KindMalformed, "undecodable header segment", err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return errors.WrapTokenError(errors.KindMalformed, "invalid header JSON", err)
	}
	if header.Alg != constants.AlgorithmEdDSA {
		return errors.NewTokenError(errors.KindUnsupportedAlgorithm,
			fmt.Sprintf("algorithm %q is not accepted", header.Alg))
	}
	return nil
}

// keyfunc resolves the header kid against the current verification set.
func (s *TokenService) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.NewTokenError(errors.KindUnknownKey, "missing kid")
		}
		key, err := s.keys.VerificationKeyByKID(ctx, kid)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, errors.NewTokenError(errors.KindUnknownKey, "kid not in verification set")
			}
			return nil, err
		}
		return ed25519.PublicKey(key.PublicKey), nil
	}
}

// checkRevocation rejects a revoked jti and any token issued before the
// subject's revocation cutoff. The cutoff check runs on every verification,
// not only for refresh tokens, so mass revocation is complete.
func (s *TokenService) checkRevocation(ctx context.Context, claims *models.Claims) error {
	revoked, err := s.cache.Exists(ctx, constants.CacheNSRevokedJTI+claims.ID)
	if err != nil {
		return fmt.Errorf("revocation check: %w", err)
	}
	if revoked {
		return errors.NewTokenError(errors.KindRevoked, "token revoked")
	}

	raw, err := s.cache.Get(ctx, constants.CacheNSRevokedSub+claims.Subject)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("subject revocation check: %w", err)
	}
	cutoff, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt revocation cutoff for subject: %w", err)
	}
	// Unix-second granularity: a token minted in the same second as the
	// cutoff is treated as predating it, erring toward revocation.
	if claims.IssuedAt != nil && claims.IssuedAt.Unix() <= cutoff {
		return errors.NewTokenError(errors.KindRevoked, "issued before subject revocation cutoff")
	}
	return nil
}

// mapParseError translates golang-jwt parse failures into the closed kind set.
func mapParseError(err error) error {
	if te, ok := errors.AsTokenError(err); ok {
		return te
	}
	switch {
	case stderrors.Is(err, jwt.ErrTokenMalformed):
		return errors.WrapTokenError(errors.KindMalformed, "unparseable token", err)
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errors.WrapTokenError(errors.KindBadSignature, "signature verification failed", err)
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return errors.WrapTokenError(errors.KindExpired, "token expired", err)
	case stderrors.Is(err, jwt.ErrTokenNotValidYet), stderrors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return errors.WrapTokenError(errors.KindNotYetValid, "token not yet valid", err)
	default:
		return errors.WrapTokenError(errors.KindMalformed, "verification failed", err)
	}
}
