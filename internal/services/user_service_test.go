package services

import (
	"context"
	"errors"
	"testing"

	"github.com/BradenHooton/marketauth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_Profile(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "alice", strPtr("alice@example.com"))
	require.NoError(t, f.store.LinkProvider(context.Background(), user.ID, models.ProviderGoogle, "g-123"))

	resp, err := f.users.Profile(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, []string{models.ProviderGoogle}, resp.LinkedProviders)
	assert.True(t, resp.HasPassword)
	assert.Nil(t, resp.Merchant)
}

func TestUserService_Profile_DeletedAccountIsUnauthorized(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.users.Profile(context.Background(), "missing")
	assert.Equal(t, models.ErrUnauthorized, err)
}

func TestUserService_Profile_RepositoryError(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return nil, errors.New("timeout")
	}

	_, err := f.users.Profile(context.Background(), "user-1")
	assert.Equal(t, models.ErrInternalServer, err)
}

// ============================================================================
// ChangeUsername
// ============================================================================

func TestUserService_ChangeUsername_RemintsSessionForSameUser(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "alice", nil)

	resp, err := f.users.ChangeUsername(context.Background(), user.ID, "alice_2", "203.0.113.7")
	require.NoError(t, err)

	assert.Equal(t, "alice_2", resp.User.Username)
	claims, err := f.tm.ValidateSessionToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	stored, err := f.store.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice_2", stored.Username)
}

func TestUserService_ChangeUsername_SameNameStillRemints(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "alice", nil)
	f.repo.UpdateUsernameFunc = func(ctx context.Context, id, username string) (*models.User, error) {
		t.Fatal("unchanged username must not be written")
		return nil, nil
	}

	resp, err := f.users.ChangeUsername(context.Background(), user.ID, "alice", "")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestUserService_ChangeUsername_Taken(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "alice", nil)
	f.seedUser(t, "bob", nil)

	_, err := f.users.ChangeUsername(context.Background(), user.ID, "bob", "")
	assert.Equal(t, models.ErrConflict, err)
}

func TestUserService_ChangeUsername_Invalid(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "alice", nil)

	for _, name := range []string{"", "ab", "has space", "dash-name", "this_username_is_much_too_long_to_use"} {
		_, err := f.users.ChangeUsername(context.Background(), user.ID, name, "")
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr, name)
		assert.Equal(t, "username", verr.Field)
	}
}

// ============================================================================
// ChangePassword
// ============================================================================

func TestUserService_ChangePassword(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "alice", nil)

	err := f.users.ChangePassword(context.Background(), user.ID, ChangePasswordInput{
		OldPassword:     testPassword,
		NewPassword:     "battery-staple",
		ConfirmPassword: "battery-staple",
	})
	require.NoError(t, err)

	_, err = f.auth.Login(context.Background(), f.loginInput(t, "alice", testPassword))
	assert.True(t, errors.Is(err, models.ErrInvalidCredentials))
	_, err = f.auth.Login(context.Background(), f.loginInput(t, "alice", "battery-staple"))
	assert.NoError(t, err)
}

func TestUserService_ChangePassword_ResetsLockout(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "alice", nil)
	for i := 0; i < 5; i++ {
		_, _ = f.auth.Login(context.Background(), f.loginInput(t, "alice", "wrong-password"))
	}

	err := f.users.ChangePassword(context.Background(), user.ID, ChangePasswordInput{
		OldPassword:     testPassword,
		NewPassword:     "battery-staple",
		ConfirmPassword: "battery-staple",
	})
	require.NoError(t, err)

	_, err = f.auth.Login(context.Background(), f.loginInput(t, "alice", "battery-staple"))
	assert.NoError(t, err)
}

func TestUserService_ChangePassword_WrongOldPassword(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "alice", nil)

	err := f.users.ChangePassword(context.Background(), user.ID, ChangePasswordInput{
		OldPassword:     "not-my-password",
		NewPassword:     "battery-staple",
		ConfirmPassword: "battery-staple",
	})
	assert.Equal(t, models.ErrInvalidCredentials, err)
	assert.Equal(t, 0, f.failedAttempts(t, "alice"))
}

func TestUserService_ChangePassword_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    ChangePasswordInput
		field string
	}{
		{
			name:  "missing old password",
			in:    ChangePasswordInput{NewPassword: "battery-staple", ConfirmPassword: "battery-staple"},
			field: "old_password",
		},
		{
			name:  "weak new password",
			in:    ChangePasswordInput{OldPassword: testPassword, NewPassword: "abc", ConfirmPassword: "abc"},
			field: "new_password",
		},
		{
			name:  "confirm mismatch",
			in:    ChangePasswordInput{OldPassword: testPassword, NewPassword: "battery-staple", ConfirmPassword: "battery-stable"},
			field: "confirm_password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			user := f.seedUser(t, "alice", nil)

			err := f.users.ChangePassword(context.Background(), user.ID, tt.in)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestUserService_ChangePassword_PasswordlessAccountSetsFirstPassword(t *testing.T) {
	f := newServiceFixture(t)
	user, err := f.store.Create(context.Background(), &models.NewUser{
		Username:   "google_12345678",
		Role:       models.RoleCustomer,
		Provider:   models.ProviderGoogle,
		ExternalID: "12345678",
	})
	require.NoError(t, err)

	err = f.users.ChangePassword(context.Background(), user.ID, ChangePasswordInput{
		NewPassword:     "battery-staple",
		ConfirmPassword: "battery-staple",
	})
	require.NoError(t, err)

	profile, err := f.users.Profile(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, profile.HasPassword)
}
