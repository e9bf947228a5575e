package echoapi

import (
	"context"
	"errors"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/core/user"
)

var (
	NowFunc = time.Now // mockable

	contextTokenKey = "userToken"
	contextUserKey  = "user"
)

// Claims represents the authorization claims transmitted via a JWT.
// Role and Actor are what the core services are called with.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64        `json:"oriat,omitempty"`
	Username     string       `json:"username,omitempty"`
	Email        string       `json:"email,omitempty"`
	Role         shuttle.Role `json:"role"`
	Actor        string       `json:"actor"`
}

func GetUserClaims(conf *core.Config, usr user.User, origIat ...int64) *Claims {
	now := NowFunc()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   usr.ID,
			Audience:  "Shuttle",
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Username:     usr.Username,
		Email:        usr.Email,
		Role:         usr.Role,
		Actor:        usr.Actor(),
	}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(conf.Server.SecretKey))
	if err != nil {
		return "", pkgerrors.Wrap(err, "signing token")
	}
	return ss, nil
}

type authenticator struct {
	conf  *core.Config
	users *user.Service
	jwt   echo.MiddlewareFunc
}

func newAuthenticator(conf *core.Config, users *user.Service) *authenticator {
	return &authenticator{
		conf:  conf,
		users: users,
		jwt: middleware.JWTWithConfig(middleware.JWTConfig{
			SigningKey:    []byte(conf.Server.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    contextTokenKey,
			Claims:        new(Claims),
		}),
	}
}

// middleware checks the bearer token, then that its account still holds the claimed role.
func (a *authenticator) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return a.jwt(func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			role, err := a.users.ActorRole(ctx.Request().Context(), claims.Actor)
			if err != nil {
				if errors.Is(err, user.ErrNotFound) {
					return errUnauthorized
				}
				return pkgerrors.Wrap(err, "resolving actor role")
			}
			if role != claims.Role {
				return errUnauthorized
			}
			return next(ctx)
		})
	}
}

func (a *authenticator) authenticate(ctx context.Context, uname, pwd string) (*Claims, error) {
	usr, err := a.users.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, errAuthenticationFailed
		}
		return nil, pkgerrors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return nil, errAuthenticationFailed
	}
	if !usr.IsActive {
		return nil, errAccountDeactivated
	}
	usr, err = a.users.SetLastLogin(ctx, usr)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "setting lastLogin")
	}
	return GetUserClaims(a.conf, usr), nil
}

func (a *authenticator) refreshToken(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", err
	}
	usr, err := getContextUser(ctx, a.users)
	if err != nil {
		return "", err
	}

	// check if user is still active
	if !usr.IsActive {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(a.conf.Server.JWTRefreshExpirationDelta)
	if NowFunc().After(expTime) {
		return "", errRefreshExpired
	}

	return GenerateToken(a.conf, GetUserClaims(a.conf, usr, claims.OrigIssuedAt))
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextUser(ctx echo.Context, svc *user.Service) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.User{}, err
	}
	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, errUnauthorized
		}
		return user.User{}, pkgerrors.Wrap(err, "finding user by ID")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

// requireRole lets through callers holding any of roles.
func requireRole(roles ...shuttle.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			for _, r := range roles {
				if claims.Role == r {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

var adminOnly = requireRole(shuttle.RoleAdmin)
