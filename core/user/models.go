package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
)

type Role struct {
	Name  string       `json:"name"`
	Value shuttle.Role `json:"value"`
}

var Roles = []Role{
	{Name: "Student", Value: shuttle.RoleStudent},
	{Name: "Driver", Value: shuttle.RoleDriver},
	{Name: "Admin", Value: shuttle.RoleAdmin},
}

// User is a login account. Driver and student accounts point at their registry entity through SubjectID.
type User struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	Role         shuttle.Role `json:"role"`
	SubjectID    string       `json:"subject_id,omitempty"`
	IsActive     bool         `json:"is_active"`
	PasswordHash []byte       `json:"-"`
	CreatedAt    time.Time    `json:"created_at"` // UTC
	UpdatedAt    time.Time    `json:"updated_at"` // UTC
	LastLogin    time.Time    `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsAdmin() bool   { return u.Role == shuttle.RoleAdmin }
func (u *User) IsDriver() bool  { return u.Role == shuttle.RoleDriver }
func (u *User) IsStudent() bool { return u.Role == shuttle.RoleStudent }

// Actor is the id the core services know this account by: the driver/student id, or the account id for admins.
func (u *User) Actor() string {
	if u.SubjectID != "" {
		return u.SubjectID
	}
	return u.ID
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string       `json:"name" validate:"required"`
	Username        string       `json:"username" validate:"omitempty,min=4,alphanum_"`
	Email           string       `json:"email" validate:"omitempty,email"`
	Password        string       `json:"password" validate:"required"`
	PasswordConfirm string       `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            shuttle.Role `json:"role" validate:"required,role"`
	SubjectID       string       `json:"subject_id"`
}

func (nu *NewUser) Clean() {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.SubjectID = core.CleanString(nu.SubjectID)
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, checker UniquenessChecker) error {
	nu.Clean()
	if err := validate.Struct(nu); err != nil {
		return err
	}
	return checker.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// ResetUserPassword confirms a password reset requested by e-mail.
type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

// SetUserPassword is an administrative password change (admin CLI).
type SetUserPassword struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (sp *SetUserPassword) Validate(validate *validator.Validate) error {
	sp.Username = core.CleanString(sp.Username, true /* lower */)
	return validate.Struct(sp)
}

type QueryFilter struct {
	Search   string       `query:"search"`
	Role     shuttle.Role `query:"role"`
	IsActive *bool        `query:"is_active"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Role == "" && qf.IsActive == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter selects a single User. The first non-empty field wins.
type GetFilter struct {
	ID              string
	UsernameOrEmail string
	SubjectID       string
}
