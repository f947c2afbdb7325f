package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"petshop/backend/internal/apperr"
	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
)

type userStoreStub struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	if _, ok := s.users[user.Username]; ok {
		return store.ErrDuplicate
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) DeleteUsers(_ context.Context, usernames []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, username := range usernames {
		if _, ok := s.users[username]; ok {
			delete(s.users, username)
			deleted++
		}
	}
	return deleted, nil
}

func TestSignupStoresPasswordHash(t *testing.T) {
	users := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, users)

	created, err := manager.Signup(context.Background(), domain.SignupRequest{
		Username: " Kasir01 ",
		Name:     "Front Desk",
		Password: "staff-pass-1",
	})
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if created.Username != "kasir01" {
		t.Fatalf("expected normalized username kasir01, got %s", created.Username)
	}
	if created.Role != domain.RoleNormal {
		t.Fatalf("expected default role NORMAL, got %s", created.Role)
	}

	stored, err := users.GetUser(context.Background(), "kasir01")
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if stored.Password == "staff-pass-1" {
		t.Fatalf("expected stored password to be hashed")
	}
	if !strings.HasPrefix(stored.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", stored.Password)
	}

	if _, _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "KASIR01", Password: "staff-pass-1"}); err != nil {
		t.Fatalf("expected login with new account to succeed: %v", err)
	}
}

func TestSignupRejectsInvalidInput(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{})

	_, err := manager.Signup(context.Background(), domain.SignupRequest{
		Username: "ab",
		Password: "short",
		Role:     "OWNER",
	})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, _ := apperr.As(err).Details().(map[string]string)
	for _, field := range []string{"username", "name", "password", "role"} {
		if details[field] == "" {
			t.Fatalf("expected detail for %s, got %v", field, details)
		}
	}
}

func TestSignupDuplicateIsConflict(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{})
	req := domain.SignupRequest{Username: "staff2", Name: "Staff", Password: "password-1"}

	if _, err := manager.Signup(context.Background(), req); err != nil {
		t.Fatalf("first signup failed: %v", err)
	}
	_, err := manager.Signup(context.Background(), req)
	if !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestTokenRoundTripAndTamper(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{})
	token, err := manager.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	actor, err := manager.ParseToken(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager("another-secret", time.Hour, &userStoreStub{})
	if _, err := other.ParseToken(token); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for foreign signature, got %v", err)
	}

	expired, _ := manager.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	if _, err := manager.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestDeleteUsersRefusesSelf(t *testing.T) {
	users := &userStoreStub{users: map[string]domain.UserAccount{
		"admin": {Username: "admin", Role: domain.RoleAdmin},
		"staff": {Username: "staff", Role: domain.RoleNormal},
	}}
	manager := NewAuthManager("test-secret", time.Hour, users)
	actor := domain.Actor{Username: "admin", Role: domain.RoleAdmin}

	if _, err := manager.DeleteUsers(context.Background(), actor, []string{"staff", "admin"}); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected validation error deleting self, got %v", err)
	}
	deleted, err := manager.DeleteUsers(context.Background(), actor, []string{"STAFF", "ghost"})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted user, got %d", deleted)
	}
}

func TestEnsureAdminCreatesOnce(t *testing.T) {
	users := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, users)

	created, err := manager.EnsureAdmin(context.Background(), "admin", "bootstrap-pass")
	if err != nil || !created {
		t.Fatalf("expected admin to be created, got created=%v err=%v", created, err)
	}
	created, err = manager.EnsureAdmin(context.Background(), "admin", "bootstrap-pass")
	if err != nil || created {
		t.Fatalf("expected second call to be a no-op, got created=%v err=%v", created, err)
	}

	if _, err := NewAuthManager("test-secret", time.Hour, &userStoreStub{}).EnsureAdmin(context.Background(), "admin", "short"); err == nil {
		t.Fatalf("expected short bootstrap password to be rejected")
	}
}
