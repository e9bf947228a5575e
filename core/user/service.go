package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound       = core.NewError(core.KindNotFound, "user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	ErrInvalidValue   = errors.New("invalid value")
)

type (
	Repository interface {
		// CheckUsernameUniqueness returns ErrUsernameExists or ErrEmailExists on a clash with any user but excludedUsers.
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	UniquenessChecker interface {
		CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
		tokens  tokenGenerator
		baseURL string
	}
)

var _ UniquenessChecker = (*Service)(nil)

func NewService(conf *core.Config, repo Repository, mailSvc core.EmailService) *Service {
	return &Service{
		repo:    repo,
		mailSvc: mailSvc,
		tokens:  newTokenGenerator(conf.Server.SecretKey, conf.Server.PasswordResetTimeoutDelta),
		baseURL: conf.FrontendBaseURL,
	}
}

func (svc *Service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	if nu.Role != shuttle.RoleAdmin && nu.SubjectID == "" {
		return User{}, core.NewValidationError(
			errors.New("subject required"),
			core.FieldError{Field: "subject_id", Error: fmt.Sprintf("a %s account must reference its %s", nu.Role, nu.Role)},
		)
	}
	if nu.SubjectID != "" {
		if _, err := svc.repo.GetUser(ctx, GetFilter{SubjectID: nu.SubjectID}); err == nil {
			return User{}, core.NewValidationError(
				errors.New("subject taken"),
				core.FieldError{Field: "subject_id", Error: "an account already exists for this subject"},
			)
		} else if !errors.Is(err, ErrNotFound) {
			return User{}, pkgerrors.Wrap(err, "finding user by subject")
		}
	}

	now := NowFunc().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		Role:      nu.Role,
		SubjectID: nu.SubjectID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// SetPassword replaces the password of the user identified by username or e-mail.
func (svc *Service) SetPassword(ctx context.Context, data SetUserPassword) (User, error) {
	usr, err := svc.GetByUsernameOrEmail(ctx, data.Username)
	if err != nil {
		return User{}, err
	}
	if err := usr.SetPassword(data.Password); err != nil {
		return User{}, err
	}
	usr.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetActive(ctx context.Context, id string, active bool) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	usr.IsActive = active
	usr.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// ActorRole resolves the role held by an actor: a driver/student id or an admin account id.
// Unknown or deactivated actors resolve to ErrNotFound.
func (svc *Service) ActorRole(ctx context.Context, actor string) (shuttle.Role, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{SubjectID: actor})
	if errors.Is(err, ErrNotFound) {
		usr, err = svc.repo.GetUser(ctx, GetFilter{ID: actor})
		if err == nil && usr.SubjectID != "" {
			// driver and student accounts act under their subject id only
			err = ErrNotFound
		}
	}
	if err != nil {
		return "", err
	}
	if !usr.IsActive {
		return "", ErrNotFound
	}
	return usr.Role, nil
}

// RequestPasswordReset e-mails a password reset link to the active user owning email.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(email, true /* lower */)})
	if err != nil {
		return err
	}
	if !usr.IsActive || usr.Email == "" {
		return ErrNotFound
	}
	msg, err := svc.passwordResetMessage(usr)
	if err != nil {
		return err
	}
	svc.mailSvc.SendMessages(msg)
	return nil
}

func (svc *Service) passwordResetMessage(usr User) (*core.EmailMessage, error) {
	token, err := svc.tokens.makeToken(usr)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "making token")
	}
	return &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		BaseURL:      svc.baseURL,
		TemplateData: map[string]string{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": token,
		},
	}, nil
}

// ResetPassword checks the e-mailed token and sets the new password.
func (svc *Service) ResetPassword(ctx context.Context, data ResetUserPassword) (User, error) {
	invalid := func(field string) error {
		return core.NewValidationError(ErrInvalidValue, core.FieldError{Field: field, Error: ErrInvalidValue.Error()})
	}

	id, err := decodeUID(data.UID)
	if err != nil {
		return User{}, invalid("uid")
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, invalid("uid")
		}
		return User{}, pkgerrors.Wrap(err, "finding user by ID")
	}
	if err := svc.tokens.verifyToken(usr, data.Token); err != nil {
		return User{}, invalid("token")
	}

	if err := usr.SetPassword(data.Password); err != nil {
		return User{}, err
	}
	usr.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}
