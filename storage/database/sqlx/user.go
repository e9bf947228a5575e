package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/core/user"
)

type userRow struct {
	ID           string      `db:"id"`
	Name         string      `db:"name"`
	Username     null.String `db:"username"`
	Email        null.String `db:"email"`
	Role         string      `db:"role"`
	SubjectID    null.String `db:"subject_id"`
	IsActive     bool        `db:"is_active"`
	PasswordHash string      `db:"password_hash"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
	LastLogin    null.Time   `db:"last_login"`
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo userRepository) toRow(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     nullString(usr.Username),
		Email:        nullString(usr.Email),
		Role:         string(usr.Role),
		SubjectID:    nullString(usr.SubjectID),
		IsActive:     usr.IsActive,
		PasswordHash: string(usr.PasswordHash),
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    nullTime(usr.LastLogin),
	}
}

func (repo userRepository) fromRow(r userRow) user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username.String,
		Email:        r.Email.String,
		Role:         shuttle.Role(r.Role),
		SubjectID:    r.SubjectID.String,
		IsActive:     r.IsActive,
		PasswordHash: []byte(r.PasswordHash),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    timeOf(r.LastLogin),
	}
}

// trapNoRowsErr maps "no rows" to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	var rows []userRow
	q := repo.db.Rebind("SELECT * FROM users WHERE username = ? OR email = ?")
	if err := repo.db.SelectContext(ctx, &rows, q, nullString(username), nullString(email)); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}

	excluded := make(map[string]bool, len(excludedUsers))
	for _, usr := range excludedUsers {
		excluded[usr.ID] = true
	}
	for _, r := range rows {
		if excluded[r.ID] {
			continue
		}
		if username != "" && r.Username.String == username {
			return user.ErrUsernameExists
		}
		if email != "" && r.Email.String == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

const insertUser = `INSERT INTO users
	(id, name, username, email, role, subject_id, is_active, password_hash, created_at, updated_at, last_login)
	VALUES
	(:id, :name, :username, :email, :role, :subject_id, :is_active, :password_hash, :created_at, :updated_at, :last_login)`

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	if _, err := repo.db.NamedExecContext(ctx, insertUser, repo.toRow(usr)); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + strings.ToLower(filter.Search) + "%"
			where = append(where, "(LOWER(name) LIKE ? OR username LIKE ? OR email LIKE ?)")
			args = append(args, val, val, val)
		}
		if filter.Role != "" {
			where = append(where, "role = ?")
			args = append(args, string(filter.Role))
		}
		if filter.IsActive != nil {
			where = append(where, "is_active = ?")
			args = append(args, *filter.IsActive)
		}
	}

	q := "SELECT * FROM users"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY name, id"

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, repo.fromRow(r))
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		q   string
		arg []interface{}
	)
	switch {
	case filter.ID != "":
		q, arg = "SELECT * FROM users WHERE id = ?", []interface{}{filter.ID}
	case filter.UsernameOrEmail != "":
		q, arg = "SELECT * FROM users WHERE username = ? OR email = ?", []interface{}{filter.UsernameOrEmail, filter.UsernameOrEmail}
	case filter.SubjectID != "":
		q, arg = "SELECT * FROM users WHERE subject_id = ?", []interface{}{filter.SubjectID}
	default:
		return user.User{}, user.ErrNotFound
	}

	var r userRow
	if err := repo.db.GetContext(ctx, &r, repo.db.Rebind(q+" LIMIT 1"), arg...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user")
	}
	return repo.fromRow(r), nil
}

// UpdateUser saves the mutable fields of usr. Role, subject and creation date never change.
func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	sets := []string{
		"name = :name", "username = :username", "email = :email", "is_active = :is_active",
		"updated_at = :updated_at", "last_login = :last_login",
	}
	if usr.PasswordHash != nil {
		sets = append(sets, "password_hash = :password_hash")
	}
	q := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = :id"

	res, err := repo.db.NamedExecContext(ctx, q, repo.toRow(usr))
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	} else if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}
