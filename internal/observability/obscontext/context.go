package obscontext

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const (
	requestIDKey     contextKey = "request_id"
	correlationIDKey contextKey = "correlation_id"
	orgIDKey         contextKey = "org_id"
	actorTypeKey     contextKey = "actor_type"
	actorIDKey       contextKey = "actor_id"
	ipAddressKey     contextKey = "ip_address"
	userAgentKey     contextKey = "user_agent"
)

// NewCorrelationID returns a lexically sortable identifier for a request chain.
func NewCorrelationID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withString(ctx, correlationIDKey, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, correlationIDKey)
}

func WithOrgID(ctx context.Context, orgID string) context.Context {
	return withString(ctx, orgIDKey, orgID)
}

func OrgIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, orgIDKey)
}

// WithActor records who is acting on the request, e.g. ("user", "1234").
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = withString(ctx, actorTypeKey, actorType)
	return withString(ctx, actorIDKey, actorID)
}

func ActorFromContext(ctx context.Context) (string, string) {
	return stringFrom(ctx, actorTypeKey), stringFrom(ctx, actorIDKey)
}

func WithClient(ctx context.Context, ipAddress, userAgent string) context.Context {
	ctx = withString(ctx, ipAddressKey, ipAddress)
	return withString(ctx, userAgentKey, userAgent)
}

func ClientFromContext(ctx context.Context) (string, string) {
	return stringFrom(ctx, ipAddressKey), stringFrom(ctx, userAgentKey)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
