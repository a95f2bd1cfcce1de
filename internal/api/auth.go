package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/tea-session-scheduling/internal/appointment"
)

const principalKey contextKey = "principal"

const (
	accessCookie = "access_token"
	tokenIssuer  = "teahouse-identity"
)

var ErrTokenInvalid = errors.New("token invalid")

// Claims are the access-token claims issued by the identity provider.
// The subject is the user id.
type Claims struct {
	IsStaff     bool `json:"is_staff"`
	IsSuperuser bool `json:"is_superuser"`
	jwtv5.RegisteredClaims
}

// Authenticator verifies HS256 access tokens shared with the identity provider.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Sign mints an access token for p. Production tokens come from the identity
// provider; seed and load tooling use this.
func (a *Authenticator) Sign(p appointment.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		IsStaff:     p.IsStaff,
		IsSuperuser: p.IsSuperuser,
		RegisteredClaims: jwtv5.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.UserID.String(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates raw and returns the principal it carries.
func (a *Authenticator) Parse(raw string) (appointment.Principal, error) {
	token, err := jwtv5.ParseWithClaims(raw, &Claims{}, func(t *jwtv5.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		return appointment.Principal{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return appointment.Principal{}, ErrTokenInvalid
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return appointment.Principal{}, ErrTokenInvalid
	}

	return appointment.Principal{
		UserID:      id,
		IsStaff:     claims.IsStaff,
		IsSuperuser: claims.IsSuperuser,
	}, nil
}

// Middleware attaches the request principal. Requests without a token continue
// as anonymous; a present but invalid token is rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		p, err := a.Parse(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "access token is invalid or expired")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(accessCookie); err == nil {
		return c.Value
	}
	return ""
}

// PrincipalFrom returns the request principal, anonymous when unauthenticated.
func PrincipalFrom(ctx context.Context) appointment.Principal {
	if p, ok := ctx.Value(principalKey).(appointment.Principal); ok {
		return p
	}
	return appointment.Principal{}
}
