package sqlxrepos_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/core/user"
	sqlxrepos "github.com/trezcool/shuttle/storage/database/sqlx"
	testutil "github.com/trezcool/shuttle/tests"
)

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := sqlxrepos.NewUserRepository(testutil.PrepareDB(t))
	created := time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)

	admin := testutil.CreateUser(t, repo, "Admin", "admin", "admin@shuttle.test", "Shu77le-Rid3", shuttle.RoleAdmin, "", true, created)
	drv := testutil.CreateUser(t, repo, "Driver One", "driver1", "", "Shu77le-Rid3", shuttle.RoleDriver, "d-1", true, created)
	stu := testutil.CreateUser(t, repo, "Amani Kabila", "", "amani@uni.test", "Shu77le-Rid3", shuttle.RoleStudent, "s-01", false, created)

	assert.NotEmpty(t, admin.ID)
	assert.Equal(t, created, admin.CreatedAt)
	assert.True(t, admin.LastLogin.IsZero())
	assert.NoError(t, drv.CheckPassword("Shu77le-Rid3"))

	t.Run("uniqueness", func(t *testing.T) {
		tests := []struct {
			name     string
			username string
			email    string
			excluded []user.User
			wantErr  error
		}{
			{name: "free", username: "newcomer", email: "new@uni.test"},
			{name: "username taken", username: "driver1", wantErr: user.ErrUsernameExists},
			{name: "email taken", email: "amani@uni.test", wantErr: user.ErrEmailExists},
			{name: "own username", username: "admin", email: "admin@shuttle.test", excluded: []user.User{admin}},
			{name: "empty values never clash", username: "", email: ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := repo.CheckUsernameUniqueness(ctx, tt.username, tt.email, tt.excluded...)
				assert.Equal(t, tt.wantErr, err)
			})
		}
	})

	t.Run("query", func(t *testing.T) {
		active := true
		tests := []struct {
			name   string
			filter *user.QueryFilter
			want   []string
		}{
			{name: "all", want: []string{"Admin", "Amani Kabila", "Driver One"}},
			{name: "search name", filter: &user.QueryFilter{Search: "KAB"}, want: []string{"Amani Kabila"}},
			{name: "search email", filter: &user.QueryFilter{Search: "shuttle.test"}, want: []string{"Admin"}},
			{name: "role", filter: &user.QueryFilter{Role: shuttle.RoleDriver}, want: []string{"Driver One"}},
			{name: "active", filter: &user.QueryFilter{IsActive: &active}, want: []string{"Admin", "Driver One"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				users, err := repo.QueryUsers(ctx, tt.filter)
				require.NoError(t, err)
				names := []string{}
				for _, u := range users {
					names = append(names, u.Name)
				}
				assert.Equal(t, tt.want, names)
			})
		}
	})

	t.Run("get", func(t *testing.T) {
		tests := []struct {
			name    string
			filter  user.GetFilter
			wantID  string
			wantErr error
		}{
			{name: "by id", filter: user.GetFilter{ID: drv.ID}, wantID: drv.ID},
			{name: "by username", filter: user.GetFilter{UsernameOrEmail: "driver1"}, wantID: drv.ID},
			{name: "by email", filter: user.GetFilter{UsernameOrEmail: "amani@uni.test"}, wantID: stu.ID},
			{name: "by subject", filter: user.GetFilter{SubjectID: "s-01"}, wantID: stu.ID},
			{name: "unknown", filter: user.GetFilter{ID: "nope"}, wantErr: user.ErrNotFound},
			{name: "empty", wantErr: user.ErrNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				usr, err := repo.GetUser(ctx, tt.filter)
				if tt.wantErr != nil {
					assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, usr.ID)
			})
		}
	})

	t.Run("update", func(t *testing.T) {
		login := time.Date(2024, time.January, 8, 7, 0, 0, 0, time.UTC)
		upd := stu
		upd.Name = "Amani K."
		upd.IsActive = true
		upd.Role = shuttle.RoleAdmin // ignored
		upd.PasswordHash = nil       // kept
		upd.LastLogin = login

		got, err := repo.UpdateUser(ctx, upd)
		require.NoError(t, err)
		assert.Equal(t, "Amani K.", got.Name)
		assert.True(t, got.IsActive)
		assert.Equal(t, shuttle.RoleStudent, got.Role)
		assert.Equal(t, "s-01", got.SubjectID)
		assert.Equal(t, login, got.LastLogin)
		assert.NoError(t, got.CheckPassword("Shu77le-Rid3"))

		_, err = repo.UpdateUser(ctx, user.User{ID: "nope", Name: "Ghost"})
		assert.True(t, errors.Is(err, user.ErrNotFound), "got %v", err)
	})
}
