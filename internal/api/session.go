package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kostbook/internal/config"
	"kostbook/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
)

// Claims are the bearer token contents. Sub is the numeric user id.
type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SessionAuth verifies HS256 bearer tokens and turns them into sessions.
type SessionAuth struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewSessionAuth(cfg config.JWTConfig) *SessionAuth {
	return &SessionAuth{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

// IssueToken signs a token for the session. Used by the CLI and tests; the
// production issuer lives in the auth service.
func (a *SessionAuth) IssueToken(session models.Session, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Sub:  strconv.FormatInt(session.UserID, 10),
		Role: string(session.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse validates the token and returns the session it carries.
func (a *SessionAuth) Parse(raw string) (models.Session, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	t, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return models.Session{}, errInvalidToken
	}
	return sessionFromClaims(c.Sub, c.Role)
}

// sessionFromClaims never yields the system role; it is not issued to users.
func sessionFromClaims(sub, role string) (models.Session, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(sub), 10, 64)
	if err != nil || userID <= 0 {
		return models.Session{}, fmt.Errorf("%w: bad subject", errInvalidToken)
	}
	r, err := models.ParseRole(strings.TrimSpace(role))
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	return models.Session{UserID: userID, Role: r}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// session in the request context.
func (a *SessionAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, errMissingToken.Error())
			return
		}
		session, err := a.Parse(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil {
			writeError(w, http.StatusUnauthorized, errInvalidToken.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
	})
}

type sessionKey struct{}

func withSession(ctx context.Context, s models.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the caller set by Middleware or the gRPC interceptor.
func SessionFrom(ctx context.Context) (models.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(models.Session)
	return s, ok
}
