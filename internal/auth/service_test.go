package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangle-social/backend/internal/cache"
	"github.com/tangle-social/backend/internal/repository"
	"github.com/tangle-social/backend/internal/testutil"
)

func setupAuth(t *testing.T) *Service {
	t.Helper()
	db := testutil.SetupDB(t)
	users := repository.NewUserRepository(db)
	return NewService(users, []byte("test-secret"), time.Hour, cache.NewMemory())
}

func register(t *testing.T, svc *Service) *AuthResponse {
	t.Helper()
	resp, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		Username:    "alice",
		Password:    "hunter2hunter2",
		DisplayName: "Alice",
	})
	require.NoError(t, err)
	return resp
}

func TestRegisterAndValidate(t *testing.T) {
	svc := setupAuth(t)
	resp := register(t, svc)

	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.NotNil(t, resp.User.PasswordHash)

	user, err := svc.ValidateToken(context.Background(), resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, user.ID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := setupAuth(t)
	register(t, svc)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "ALICE@example.com",
		Username:    "alice2",
		Password:    "hunter2hunter2",
		DisplayName: "Alice Again",
	})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := setupAuth(t)
	register(t, svc)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "other@example.com",
		Username:    "Alice",
		Password:    "hunter2hunter2",
		DisplayName: "Impostor",
	})
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestLogin(t *testing.T) {
	svc := setupAuth(t)
	register(t, svc)

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "hunter2hunter2",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	_, err = svc.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong-password",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), LoginRequest{
		Email:    "nobody@example.com",
		Password: "hunter2hunter2",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogoutRevokesToken(t *testing.T) {
	svc := setupAuth(t)
	resp := register(t, svc)
	ctx := context.Background()

	_, err := svc.ValidateToken(ctx, resp.Token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, resp.Token))

	_, err = svc.ValidateToken(ctx, resp.Token)
	assert.Error(t, err)
}

func TestValidateGarbageToken(t *testing.T) {
	svc := setupAuth(t)
	_, err := svc.ValidateToken(context.Background(), "not-a-token")
	assert.Error(t, err)
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	svc := setupAuth(t)
	resp := register(t, svc)

	other := NewService(nil, []byte("different-secret"), time.Hour, cache.NewMemory())
	_, err := other.parse(resp.Token)
	assert.Error(t, err)
}
