package identity

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/auth/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrNoCredentials means the request carried neither a session cookie nor a bearer token.
var ErrNoCredentials = errors.New("no_credentials")

type ResolverParams struct {
	fx.In

	Log      *zap.Logger
	Auth     domain.Service
	Sessions *session.Manager
	Tokens   *TokenVerifier
}

// Resolver turns request credentials into an Identity. The session cookie
// wins over a bearer token when both are present.
type Resolver struct {
	log      *zap.Logger
	auth     domain.Service
	sessions *session.Manager
	tokens   *TokenVerifier
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{
		log:      p.Log.Named("auth.identity"),
		auth:     p.Auth,
		sessions: p.Sessions,
		tokens:   p.Tokens,
	}
}

func (r *Resolver) Resolve(c *gin.Context) (*domain.Identity, error) {
	ctx := c.Request.Context()

	if raw, ok := r.sessions.ReadToken(c); ok {
		sess, err := r.auth.Authenticate(ctx, raw)
		if err != nil {
			return nil, err
		}
		user, err := r.auth.GetUser(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		id := domain.IdentityFromUser(user)
		id.SessionID = sess.ID
		return id, nil
	}

	if raw, ok := bearerToken(c); ok {
		claims, err := r.tokens.Verify(raw)
		if err != nil {
			r.log.Debug("bearer token rejected", zap.Error(err))
			return nil, domain.ErrInvalidToken
		}
		user, err := r.auth.ResolveExternalUser(ctx, claims)
		if err != nil {
			return nil, err
		}
		return domain.IdentityFromUser(user), nil
	}

	return nil, ErrNoCredentials
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
