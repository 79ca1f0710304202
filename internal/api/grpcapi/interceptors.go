package grpcapi

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/KevinKickass/CrateManager/internal/auth"
)

// methodPermissions lists the permission each method requires. Methods not
// listed need no token.
var methodPermissions = map[string]auth.Permission{
	MethodCommand:     auth.PermOperator,
	MethodStatus:      auth.PermViewer,
	MethodFields:      auth.PermViewer,
	MethodDumpFIFO:    auth.PermViewer,
	MethodWatchStatus: auth.PermViewer,
}

type identityKey struct{}

// IdentityFromContext returns the caller identity set by the interceptors.
func IdentityFromContext(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*auth.Identity)
	return identity, ok
}

// ServerOptions returns the interceptors enforcing bearer-token auth.
func ServerOptions(authn Authenticator, logger *zap.Logger) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unaryAuth(authn, logger)),
		grpc.ChainStreamInterceptor(streamAuth(authn, logger)),
	}
}

func unaryAuth(authn Authenticator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := authorize(ctx, authn, info.FullMethod, logger)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

type authorizedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authorizedStream) Context() context.Context {
	return s.ctx
}

func streamAuth(authn Authenticator, logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authorize(ss.Context(), authn, info.FullMethod, logger)
		if err != nil {
			return err
		}
		return handler(srv, &authorizedStream{ServerStream: ss, ctx: ctx})
	}
}

func authorize(ctx context.Context, authn Authenticator, method string, logger *zap.Logger) (context.Context, error) {
	required, ok := methodPermissions[method]
	if !ok {
		return ctx, nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}

	token, found := strings.CutPrefix(values[0], "Bearer ")
	if !found {
		return nil, status.Error(codes.Unauthenticated, "invalid authorization metadata format")
	}

	identity, err := authn.ValidateToken(token)
	if err != nil {
		logger.Warn("gRPC authentication failed",
			zap.String("method", method),
			zap.String("peer", peerAddr(ctx)),
			zap.Error(err))
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}

	if !auth.HasPermission(identity.Permissions, required) {
		return nil, status.Errorf(codes.PermissionDenied, "%s requires %s", method, required)
	}

	return context.WithValue(ctx, identityKey{}, identity), nil
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
