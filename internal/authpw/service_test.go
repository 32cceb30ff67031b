package authpw

import (
	"context"
	"errors"
	"testing"

	"gavel/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	return NewService(mem).WithCost(bcrypt.MinCost), mem
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{Username: "ada", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.DisplayName != "ada" {
		t.Errorf("expected display name to default to username, got %q", user.DisplayName)
	}
	if user.Role != "member" {
		t.Errorf("expected member role, got %q", user.Role)
	}
	if user.PasswordHash == "correct-horse" {
		t.Error("password stored in clear text")
	}

	got, err := svc.Authenticate(ctx, "ada", "correct-horse")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("expected %s, got %s", user.ID, got.ID)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{Username: "ada", Password: "correct-horse"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	cases := map[string][2]string{
		"wrong password": {"ada", "battery-staple"},
		"unknown user":   {"bo", "correct-horse"},
		"empty password": {"ada", ""},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, c[0], c[1])
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestRegisterRejectsDuplicateAndWeak(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Username: "ada", Password: "short"}); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterRequest{Username: "ada", Password: "correct-horse"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterRequest{Username: "ada", Password: "another-one"}); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestVerifyAndChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterRequest{Username: "ada", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := svc.Verify(ctx, user.ID, "correct-horse"); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
	if err := svc.Verify(ctx, user.ID, "nope-nope"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword, got %v", err)
	}

	if err := svc.ChangePassword(ctx, user.ID, "wrong-current", "battery-staple"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword, got %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "correct-horse", "battery-staple"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ada", "battery-staple"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ada", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password still accepted: %v", err)
	}
}

func TestVerifyUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Verify(context.Background(), "usr_missing", "whatever-pass")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
