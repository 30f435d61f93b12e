package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/config"
)

// Claims is the payload accepted on bearer tokens.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens issued by a trusted identity
// platform that shares AUTH_JWT_SECRET with us.
type TokenVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

func NewTokenVerifier(cfg config.Config) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(cfg.AuthJWTSecret),
		issuer: cfg.AuthJWTIssuer,
		leeway: 30 * time.Second,
	}
}

func (v *TokenVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

func (v *TokenVerifier) Verify(raw string) (domain.ExternalClaims, error) {
	if !v.Enabled() {
		return domain.ExternalClaims{}, domain.ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return domain.ExternalClaims{}, errors.Join(domain.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return domain.ExternalClaims{}, domain.ErrInvalidToken
	}
	return domain.ExternalClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// Sign issues a token for the given claims. Used by tooling and tests.
func (v *TokenVerifier) Sign(claims Claims) (string, error) {
	if !v.Enabled() {
		return "", domain.ErrInvalidToken
	}
	if v.issuer != "" && claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
