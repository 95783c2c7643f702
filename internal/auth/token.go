package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/punchamoorthee/refundops/internal/domain"
)

type claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 session tokens issued for the marketplace.
type Tokens struct {
	secret []byte
	issuer string
}

func NewTokens(secret, issuer string) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Tokens{secret: []byte(secret), issuer: issuer}, nil
}

func (t *Tokens) Issue(userID uuid.UUID, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID.String(),
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(t.secret)
}

func (t *Tokens) Verify(raw string) (domain.Session, error) {
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return domain.Session{}, err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return domain.Session{}, errors.New("invalid token claims")
	}
	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("parse user_id: %w", err)
	}
	return domain.Session{UserID: userID, Role: domain.Role(c.Role)}, nil
}

type sessionKey struct{}

func WithSession(ctx context.Context, s domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the caller's session, or the zero (unauthenticated)
// session when none was attached.
func FromContext(ctx context.Context) domain.Session {
	s, _ := ctx.Value(sessionKey{}).(domain.Session)
	return s
}

// Middleware attaches the session of a valid bearer token. Requests without
// a valid token continue unauthenticated; each operation decides whether
// that is acceptable.
func (t *Tokens) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if found && raw != "" {
			if s, err := t.Verify(raw); err == nil {
				r = r.WithContext(WithSession(r.Context(), s))
			}
		}
		next.ServeHTTP(w, r)
	})
}
