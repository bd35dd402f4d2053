package deepagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

type contextKey int

const userContextKey contextKey = 0

// User is an authenticated caller.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}

// AuthService issues and verifies HS256 bearer tokens for the configured
// users.
type AuthService struct {
	secret []byte
	expiry time.Duration
	users  map[string]*User
	now    func() time.Time
}

// NewAuthService builds the service from the [auth] section.
func NewAuthService(cfg AuthConfig) (*AuthService, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth: jwt secret is empty")
	}
	expiry, err := time.ParseDuration(cfg.TokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("invalid token_expiry: %w", err)
	}

	svc := &AuthService{
		secret: []byte(cfg.JWTSecret),
		expiry: expiry,
		users:  make(map[string]*User, len(cfg.Users)),
		now:    time.Now,
	}
	for _, u := range cfg.Users {
		role := u.Role
		if role == "" {
			role = "user"
		}
		svc.users[u.Username] = &User{Username: u.Username, PasswordHash: u.PasswordHash, Role: role}
	}
	return svc, nil
}

// HashPassword returns a bcrypt hash suitable for [[auth.users]].
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyPassword checks a username/password combination.
func (s *AuthService) VerifyPassword(username, password string) (*User, error) {
	user, ok := s.users[username]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ExpirySeconds returns the token lifetime in whole seconds.
func (s *AuthService) ExpirySeconds() int {
	return int(s.expiry.Seconds())
}

// GenerateToken creates a signed JWT for user.
func (s *AuthService) GenerateToken(user *User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  user.Username,
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(s.expiry).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken parses tokenStr and returns the user it names.
func (s *AuthService) ValidateToken(tokenStr string) (*User, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}
	username, _ := claims["sub"].(string)
	user, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("%w: user %q no longer exists", ErrInvalidToken, username)
	}
	return user, nil
}

// Middleware requires a valid bearer token on every route except the
// public ones. A nil service disables auth.
func (s *AuthService) Middleware(next http.Handler) http.Handler {
	if s == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicRoute(r) {
			next.ServeHTTP(w, r)
			return
		}

		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		user, err := s.ValidateToken(tokenStr)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// LoginHandler serves POST /auth/login.
func (s *AuthService) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	user, err := s.VerifyPassword(body.Username, body.Password)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}
	token, err := s.GenerateToken(user)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   s.ExpirySeconds(),
	})
}

// UserFromContext returns the authenticated user, or nil when auth is off.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userContextKey).(*User)
	return u
}

func isPublicRoute(r *http.Request) bool {
	switch {
	case r.Method == http.MethodOptions:
		return true
	case r.URL.Path == "/health":
		return true
	case r.URL.Path == "/auth/login" && r.Method == http.MethodPost:
		return true
	}
	return false
}

// extractBearerToken pulls the token from the Authorization header, or from
// the access_token query parameter for browser websocket clients.
func extractBearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return r.URL.Query().Get("access_token")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
