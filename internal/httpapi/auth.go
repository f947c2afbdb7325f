package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"petshop/backend/internal/apperr"
	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
)

// UserStore is the part of the repository the auth manager needs.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	DeleteUsers(ctx context.Context, usernames []string) (int, error)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
	now      func() time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		now:      time.Now,
	}
}

var errInvalidCredentials = apperr.New(apperr.CodeUnauthorized, "invalid credentials")

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, time.Time, error) {
	username := normalizeUsername(req.Username)
	if username == "" || strings.TrimSpace(req.Password) == "" {
		return domain.LoginResponse{}, time.Time{}, errInvalidCredentials
	}

	user, err := a.users.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, time.Time{}, errInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, time.Time{}, apperr.Store(err, "failed to load user")
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, time.Time{}, errInvalidCredentials
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user.Username, user.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, time.Time{}, apperr.Store(err, "failed to sign token")
	}

	return domain.LoginResponse{
		Message:     "login successful",
		AccessToken: token,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, expiresAt, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, apperr.New(apperr.CodeUnauthorized, "invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, apperr.New(apperr.CodeUnauthorized, "invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "petshop",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Signup creates an account. The role defaults to NORMAL.
func (a *AuthManager) Signup(ctx context.Context, req domain.SignupRequest) (domain.UserAccount, error) {
	username := normalizeUsername(req.Username)
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleNormal
	}

	details := map[string]string{}
	switch {
	case len(username) < 3:
		details["username"] = "must be at least 3 characters"
	case len(username) > 64:
		details["username"] = "must be at most 64 characters"
	case strings.ContainsAny(username, " \t\r\n"):
		details["username"] = "must not contain spaces"
	}
	if strings.TrimSpace(req.Name) == "" {
		details["name"] = "is required"
	}
	if len(req.Password) < 8 {
		details["password"] = "must be at least 8 characters"
	}
	if role != domain.RoleNormal && role != domain.RoleAdmin {
		details["role"] = "must be one of [NORMAL ADMIN]"
	}
	if len(details) > 0 {
		return domain.UserAccount{}, apperr.Validation("validation failed").WithDetails(details)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, apperr.Store(err, "failed to hash password")
	}
	user := domain.UserAccount{
		Username:  username,
		Name:      strings.TrimSpace(req.Name),
		Role:      role,
		Password:  passwordHash,
		CreatedAt: a.now().UTC(),
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.UserAccount{}, apperr.Wrap(apperr.CodeConflict, err, "username already exists")
		}
		return domain.UserAccount{}, apperr.Store(err, "failed to create user")
	}
	return user, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users, err := a.users.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Store(err, "failed to list users")
	}
	return users, nil
}

// DeleteUsers removes accounts by username. An actor cannot delete itself.
func (a *AuthManager) DeleteUsers(ctx context.Context, actor domain.Actor, usernames []string) (int, error) {
	normalized := make([]string, 0, len(usernames))
	for _, username := range usernames {
		username = normalizeUsername(username)
		if username == "" {
			continue
		}
		if username == actor.Username {
			return 0, apperr.Validation("cannot delete the signed-in account")
		}
		normalized = append(normalized, username)
	}
	if len(normalized) == 0 {
		return 0, apperr.Validation("at least one username is required")
	}

	deleted, err := a.users.DeleteUsers(ctx, normalized)
	if err != nil {
		return 0, apperr.Store(err, "failed to delete users")
	}
	return deleted, nil
}

// EnsureAdmin creates the bootstrap admin account when the store holds no
// ADMIN yet. It reports whether an account was created.
func (a *AuthManager) EnsureAdmin(ctx context.Context, username string, password string) (bool, error) {
	users, err := a.users.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	for _, user := range users {
		if user.Role == domain.RoleAdmin {
			return false, nil
		}
	}

	username = normalizeUsername(username)
	if username == "" {
		return false, errors.New("SEED_ADMIN_USERNAME is required to create the admin account")
	}
	if len(password) < 8 {
		return false, errors.New("SEED_ADMIN_PASSWORD must be at least 8 characters to create the admin account")
	}
	passwordHash, err := hashPassword(password)
	if err != nil {
		return false, err
	}
	err = a.users.CreateUser(ctx, domain.UserAccount{
		Username:  username,
		Name:      "Administrator",
		Role:      domain.RoleAdmin,
		Password:  passwordHash,
		CreatedAt: a.now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return false, fmt.Errorf("user %q exists without the ADMIN role", username)
	}
	return err == nil, err
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
