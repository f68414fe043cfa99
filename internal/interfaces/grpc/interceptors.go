// Package grpc provides server interceptors for service-to-service calls
// authenticated with machine tokens.
package grpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	domainservice "github.com/daybook-io/daybook-auth/internal/domain/service"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/ratelimit"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// InterceptorChain bundles the unary interceptors applied to every RPC.
type InterceptorChain struct {
	log     logger.Logger
	tokens  *domainservice.TokenService
	limiter *ratelimit.RedisRateLimiter
}

// NewInterceptorChain builds the chain.
func NewInterceptorChain(log logger.Logger, tokens *domainservice.TokenService, limiter *ratelimit.RedisRateLimiter) *InterceptorChain {
	return &InterceptorChain{log: log.WithComponent("grpc"), tokens: tokens, limiter: limiter}
}

// UnaryRecoveryInterceptor converts handler panics into Internal errors.
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Errorf(grpcCodes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor logs each RPC with its duration and status code.
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()

		resp, err := handler(ctx, req)

		statusCode := grpcCodes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				statusCode = st.Code()
			}
		}

		ic.log.Info(ctx, "gRPC request completed",
			logger.String("method", info.FullMethod),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", statusCode.String()),
		)

		return resp, err
	}
}

// UnaryAuthInterceptor verifies the machine token carried in the
// authorization metadata entry. Health probes are exempt. The caller's
// subject is placed on the context under ContextKeyUserID.
func (ic *InterceptorChain) UnaryAuthInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health") {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(grpcCodes.Unauthenticated, "missing metadata")
		}

		var raw string
		if vals := md.Get("authorization"); len(vals) > 0 {
			raw = strings.TrimPrefix(vals[0], "Bearer ")
		}
		if raw == "" {
			return nil, status.Errorf(grpcCodes.Unauthenticated, "missing credentials")
		}

		claims, err := ic.tokens.Verify(ctx, raw, domainservice.VerifyOptions{
			ExpectedType: constants.TokenTypeM2M,
		})
		if err != nil {
			if te, isTok := errors.AsTokenError(err); isTok {
				ic.log.Warn(ctx, "gRPC token rejected",
					logger.String("method", info.FullMethod),
					logger.String("kind", string(te.Kind)),
				)
				return nil, status.Errorf(grpcCodes.Unauthenticated, "invalid token")
			}
			return nil, status.Errorf(grpcCodes.Unavailable, "verification unavailable")
		}

		ctx = context.WithValue(ctx, constants.ContextKeyUserID, claims.Subject)
		ctx = context.WithValue(ctx, constants.ContextKeyClaims, claims)
		return handler(ctx, req)
	}
}

// UnaryRateLimitInterceptor throttles by calling service, falling back to
// forwarded IP. Limiter failures never block the call.
func (ic *InterceptorChain) UnaryRateLimitInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		identifier := "global"
		if sub, ok := ctx.Value(constants.ContextKeyUserID).(string); ok && sub != "" {
			identifier = sub
		} else if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ips := md.Get("x-forwarded-for"); len(ips) > 0 {
				identifier = ips[0]
			}
		}

		res, err := ic.limiter.Allow(ctx, "grpc:"+identifier)
		if err != nil {
			return handler(ctx, req)
		}
		if !res.Allowed {
			ic.log.Warn(ctx, "gRPC rate limit exceeded",
				logger.String("identifier", identifier),
				logger.String("method", info.FullMethod),
			)
			return nil, status.Errorf(grpcCodes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(ctx, req)
	}
}

// UnaryErrorInterceptor maps application errors to gRPC status codes.
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		return resp, convertAppErrorToGRPC(err)
	}
}

func convertAppErrorToGRPC(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	ae, ok := errors.AsAppError(err)
	if !ok {
		return status.Errorf(grpcCodes.Internal, "internal server error")
	}

	switch ae.HTTPStatus() {
	case 400:
		return status.Errorf(grpcCodes.InvalidArgument, "%s", ae.Error())
	case 401:
		return status.Errorf(grpcCodes.Unauthenticated, "%s", ae.Error())
	case 403:
		return status.Errorf(grpcCodes.PermissionDenied, "%s", ae.Error())
	case 404:
		return status.Errorf(grpcCodes.NotFound, "%s", ae.Error())
	case 409:
		return status.Errorf(grpcCodes.AlreadyExists, "%s", ae.Error())
	case 429:
		return status.Errorf(grpcCodes.ResourceExhausted, "%s", ae.Error())
	case 503:
		return status.Errorf(grpcCodes.Unavailable, "%s", ae.Error())
	default:
		return status.Errorf(grpcCodes.Internal, "internal server error")
	}
}

// ChainUnaryInterceptors assembles the interceptors in order.
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(),
		ic.UnaryLoggingInterceptor(),
		ic.UnaryAuthInterceptor(),
		ic.UnaryRateLimitInterceptor(),
		ic.UnaryErrorInterceptor(),
	)
}
