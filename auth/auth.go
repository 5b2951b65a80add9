// Package auth verifies the identity of callers of the REST and live surfaces.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/GetStream/direct-messaging/chat"
)

// DefaultTTL is the lifetime of an issued token when Gate.TTL is zero.
const DefaultTTL = 90 * 24 * time.Hour

const invalidToken = "Invalid or missing token"

// ErrUnauthenticated is the error returned for every rejected credential.
var ErrUnauthenticated = chat.Errorf(chat.KindUnauthenticated, invalidToken)

// Claims is the payload of an issued token.
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// A UserStore resolves the user a token refers to.
type UserStore interface {
	GetUser(ctx context.Context, id string) (chat.User, error)
	GetUserByUsername(ctx context.Context, username string) (chat.User, error)
}

// Gate issues and verifies bearer tokens.
type Gate struct {
	Logger *slog.Logger
	Secret []byte
	Users  UserStore
	TTL    time.Duration
	Now    func() time.Time
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Gate) ttl() time.Duration {
	if g.TTL > 0 {
		return g.TTL
	}
	return DefaultTTL
}

// Issue signs a token for userID.
func (g *Gate) Issue(userID string) (string, error) {
	now := g.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl())),
		},
	})
	signed, err := token.SignedString(g.Secret)
	if err != nil {
		return "", fmt.Errorf("could not sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies token and returns the user it was issued for.
func (g *Gate) Authenticate(ctx context.Context, token string) (chat.User, error) {
	if token == "" {
		return chat.User{}, ErrUnauthenticated
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return g.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		g.Logger.Debug("Token rejected", "error", err.Error())
		return chat.User{}, ErrUnauthenticated
	}
	if claims.UserID == "" {
		g.Logger.Debug("Token rejected", "error", "missing user id")
		return chat.User{}, ErrUnauthenticated
	}

	u, err := g.Users.GetUser(ctx, claims.UserID)
	if chat.KindOf(err) == chat.KindNotFound || errors.Is(err, chat.ErrNotFound) {
		g.Logger.Debug("Token rejected", "error", "unknown user", "user_id", claims.UserID)
		return chat.User{}, ErrUnauthenticated
	}
	if err != nil {
		return chat.User{}, err
	}
	return u, nil
}

// Login checks the password of username and issues a token for the account.
func (g *Gate) Login(ctx context.Context, username, password string) (string, chat.User, error) {
	u, err := g.Users.GetUserByUsername(ctx, username)
	if err != nil && chat.KindOf(err) != chat.KindNotFound && !errors.Is(err, chat.ErrNotFound) {
		return "", chat.User{}, err
	}
	if err != nil || !CheckPassword(u.PasswordHash, password) {
		return "", chat.User{}, chat.Errorf(chat.KindUnauthenticated, "Invalid credentials")
	}
	token, err := g.Issue(u.ID)
	if err != nil {
		return "", chat.User{}, err
	}
	return token, u, nil
}

// Middleware authenticates the bearer token of each request and stores the
// user in the request context. Requests without a valid token get a 401.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := g.Authenticate(r.Context(), bearer(r))
		if err != nil {
			g.reject(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// Handshake authenticates a live connection request. The token is read from
// the Authorization header or the token query parameter.
func (g *Gate) Handshake(r *http.Request) (chat.User, error) {
	token := bearer(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return g.Authenticate(r.Context(), token)
}

func (g *Gate) reject(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	if chat.KindOf(err) != chat.KindUnauthenticated {
		g.Logger.Error("Could not authenticate request", "error", err.Error())
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": chat.ReasonOf(err)}); err != nil {
		g.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u chat.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the authenticated user stored in ctx.
func UserFrom(ctx context.Context) (chat.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(chat.User)
	return u, ok
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
