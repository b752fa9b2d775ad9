package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/xela07ax/cors-relay/internal/domain"
	"github.com/xela07ax/cors-relay/internal/infra/auth"
)

type originKey struct{}

// OriginFromContext: origin страницы, за которую говорит доверенный фронт.
func OriginFromContext(ctx context.Context) (string, bool) {
	o, ok := ctx.Value(originKey{}).(string)
	return o, ok
}

// UnaryAuthInterceptor проверяет токен в метаданных gRPC вызова и достает origin страницы.
func UnaryAuthInterceptor(v auth.TokenValidator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc_auth")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// 1. Извлекаем метаданные из контекста
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}

		// 2. Ищем токен (в gRPC заголовки в нижнем регистре)
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "missing access token")
		}
		claims, err := v.VerifyToken(tokens[0])
		if err != nil {
			logger.Warn("auth failure", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Errorf(codes.Unauthenticated, "invalid access token")
		}
		if !claims.HasScope(domain.ScopeBridge) {
			return nil, status.Errorf(codes.PermissionDenied, "token lacks %q scope", domain.ScopeBridge)
		}

		// 3. Origin страницы передает доверенный фронт
		origins := md.Get("origin")
		if len(origins) == 0 {
			return nil, status.Errorf(codes.InvalidArgument, "missing origin")
		}
		origin, err := domain.NormalizeOrigin(origins[0])
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "%v", err)
		}

		traceID := uuid.NewString()
		if ids := md.Get("x-trace-id"); len(ids) > 0 {
			traceID = ids[0]
		}

		// 4. Обогащаем контекст для Service
		newCtx := auth.WithClaims(ctx, claims)
		newCtx = context.WithValue(newCtx, originKey{}, origin)
		newCtx = WithTraceID(newCtx, traceID)

		return handler(newCtx, req)
	}
}
