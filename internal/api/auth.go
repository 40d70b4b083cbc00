package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"strings"

	"kostbook/internal/config"
	"kostbook/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	userIDMetadataKey     = "x-user-id"
	userRoleMetadataKey   = "x-user-role"
	permReadAvailability  = "read:availability"
	permWriteBookings     = "write:bookings"
	permAdminSweep        = "admin:sweep"
	clientKeyUnknown      = "unknown"

	healthServicePrefix = "/grpc.health.v1.Health/"
)

// AuthInterceptor admits API clients (front desks, partner apps) by key pair,
// enforces per-method permissions and rate limits, and attaches the end-user
// session the client acts for.
type AuthInterceptor struct {
	enabled      bool
	authEnabled  bool
	apiKeyHeader string
	extraHeader  string
	clients      map[string]config.APIClientKey
	limiter      *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	clients := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		clients[k.Key] = k
	}

	return &AuthInterceptor{
		enabled:      cfg.Enabled,
		authEnabled:  cfg.Auth.Enabled,
		apiKeyHeader: headerName(cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault),
		extraHeader:  headerName(cfg.Auth.HeaderExtra, apiExtraHeaderDefault),
		clients:      clients,
		limiter:      newRateLimiter(cfg.RateLimit),
	}
}

func headerName(configured, fallback string) string {
	if h := strings.ToLower(strings.TrimSpace(configured)); h != "" {
		return h
	}
	return fallback
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		// load balancer health checks carry no credentials
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		if a.enabled {
			if err := a.guard(ctx, md, info.FullMethod); err != nil {
				return nil, err
			}
		}

		session, ok, err := sessionFromMetadata(md)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if ok {
			ctx = withSession(ctx, session)
		}
		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) guard(ctx context.Context, md metadata.MD, fullMethod string) error {
	if a.authEnabled {
		if md == nil {
			return status.Error(codes.Unauthenticated, "missing metadata")
		}
		client, err := a.authenticate(md)
		if err != nil {
			return err
		}
		if !hasPermission(client, requiredPermission(fullMethod)) {
			return status.Errorf(codes.PermissionDenied, "client %q may not call %s", client.Name, fullMethod)
		}
	}

	if !a.limiter.allow(a.clientKey(ctx, md)) {
		return status.Error(codes.ResourceExhausted, errRateLimited.Error())
	}
	return nil
}

func (a *AuthInterceptor) authenticate(md metadata.MD) (config.APIClientKey, error) {
	apiKey := first(md.Get(a.apiKeyHeader))
	extra := first(md.Get(a.extraHeader))
	if apiKey == "" || extra == "" {
		return config.APIClientKey{}, status.Error(codes.Unauthenticated, "missing api key headers")
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return config.APIClientKey{}, status.Error(codes.Unauthenticated, "invalid api key")
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, status.Error(codes.Unauthenticated, "invalid extra header")
	}
	return client, nil
}

// hasPermission treats a client without a permission list as unrestricted.
func hasPermission(client config.APIClientKey, required string) bool {
	if required == "" || len(client.Permissions) == 0 {
		return true
	}
	return slices.ContainsFunc(client.Permissions, func(p string) bool {
		return strings.TrimSpace(p) == required
	})
}

func requiredPermission(fullMethod string) string {
	switch fullMethod {
	case methodQueryAvailableRooms, methodResolveCheckinCode:
		return permReadAvailability
	case methodCreateBooking, methodTransitionBooking:
		return permWriteBookings
	case methodSweepExpired:
		return permAdminSweep
	default:
		return ""
	}
}

// clientKey buckets rate limits by API key, or by peer address for
// unauthenticated deployments.
func (a *AuthInterceptor) clientKey(ctx context.Context, md metadata.MD) string {
	if apiKey := first(md.Get(a.apiKeyHeader)); apiKey != "" {
		return apiKey
	}
	return peerAddr(ctx)
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

// sessionFromMetadata reads the end user the API client acts for. Both keys
// absent means no session; one without the other is an error.
func sessionFromMetadata(md metadata.MD) (models.Session, bool, error) {
	rawID := first(md.Get(userIDMetadataKey))
	rawRole := first(md.Get(userRoleMetadataKey))
	if rawID == "" && rawRole == "" {
		return models.Session{}, false, nil
	}
	s, err := sessionFromClaims(rawID, rawRole)
	if err != nil {
		return models.Session{}, false, fmt.Errorf("bad %s/%s metadata: %w", userIDMetadataKey, userRoleMetadataKey, err)
	}
	return s, true, nil
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
