package echoapi

import (
	"errors"
	"net/http"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/user"
)

const kindValidation = "VALIDATION"

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")

	kindStatus = map[core.Kind]int{
		core.KindInvalidTransition: http.StatusConflict,
		core.KindRouteClosed:       http.StatusConflict,
		core.KindInvalidState:      http.StatusConflict,
		core.KindCapacityExceeded:  http.StatusConflict,
		core.KindConflict:          http.StatusConflict,
		core.KindNotEnrolled:       http.StatusUnprocessableEntity,
		core.KindForbidden:         http.StatusForbidden,
		core.KindNotFound:          http.StatusNotFound,
		core.KindDependencyFailure: http.StatusServiceUnavailable,
	}

	// kindMessages are the localisable titles of domain errors.
	kindMessages = map[core.Kind]string{
		core.KindInvalidTransition: core.ErrInvalidTransition.Message,
		core.KindNotEnrolled:       core.ErrNotEnrolled.Message,
		core.KindRouteClosed:       core.ErrRouteClosed.Message,
		core.KindInvalidState:      core.ErrInvalidState.Message,
		core.KindForbidden:         core.ErrForbidden.Message,
		core.KindNotFound:          core.ErrNotFound.Message,
		core.KindCapacityExceeded:  core.ErrCapacityExceeded.Message,
		core.KindConflict:          core.ErrConflict.Message,
		core.KindDependencyFailure: core.ErrDependencyFailure.Message,
	}
)

type (
	// ErrorBody is the payload of every error response.
	ErrorBody struct {
		Error ErrorDetail `json:"error"`
	}

	ErrorDetail struct {
		Kind    string            `json:"kind"`
		Message string            `json:"message"`
		Detail  string            `json:"detail,omitempty"`
		Fields  map[string]string `json:"fields,omitempty"`
	}
)

func httpKind(code int) string {
	return strings.ToUpper(strings.ReplaceAll(http.StatusText(code), " ", "_"))
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		p := printerFor(ctx.Request().Header.Get("Accept-Language"))

		var (
			code int
			body ErrorDetail
		)

		var (
			domainErr *core.Error
			valErr    *core.ValidationError
			valErrs   validator.ValidationErrors
			httpErr   *echo.HTTPError
		)
		switch {
		case errors.As(err, &domainErr):
			code = http.StatusInternalServerError
			if c, ok := kindStatus[domainErr.Kind]; ok {
				code = c
			}
			body.Kind = string(domainErr.Kind)
			body.Message = p.Sprintf(kindMessages[domainErr.Kind])
			if msg := domainErr.Error(); msg != kindMessages[domainErr.Kind] {
				body.Detail = msg
			}
			if domainErr.Kind == core.KindDependencyFailure {
				logger.Error(domainErr.Message, err, requestUser(ctx))
			}
		case errors.As(err, &valErrs):
			code = http.StatusBadRequest
			body.Kind = kindValidation
			body.Message = p.Sprintf("invalid input")
			body.Fields = make(map[string]string, len(valErrs))
			for _, vErr := range valErrs {
				body.Fields[vErr.Field()] = vErr.Translate(translator)
			}
		case errors.As(err, &valErr):
			code = http.StatusBadRequest
			body.Kind = kindValidation
			body.Message = p.Sprintf("invalid input")
			if valErr.Fields != nil {
				body.Fields = make(map[string]string, len(valErr.Fields))
				for _, fErr := range valErr.Fields {
					body.Fields[fErr.Field] = fErr.Error
				}
			} else if valErr.Err != nil {
				body.Detail = valErr.Err.Error()
			}
		case errors.As(err, &httpErr):
			if httpErr == middleware.ErrJWTMissing {
				httpErr = echo.NewHTTPError(http.StatusUnauthorized, middleware.ErrJWTMissing.Message)
			} else if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = herr
			}
			code = httpErr.Code
			body.Kind = httpKind(code)
			if msg, ok := httpErr.Message.(string); ok {
				body.Message = p.Sprintf(msg)
			} else {
				body.Message = http.StatusText(code)
			}
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(code)
			body.Kind = string(core.KindUnknown)
			body.Message = p.Sprintf(msg)
			logger.Error(msg, pkgerrors.Wrap(err, msg), requestUser(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && body.Detail == "" && body.Fields == nil {
			body.Detail = err.Error()
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, ErrorBody{Error: body})
			}
			if err != nil {
				logger.Error("sending error response", err)
			}
		}
	}
}

// requestUser identifies the caller for error reports.
func requestUser(ctx echo.Context) user.User {
	var usr user.User
	if claims, err := getContextClaims(ctx); err == nil {
		usr.ID = claims.Subject
		usr.Username = claims.Username
		usr.Email = claims.Email
		usr.Role = claims.Role
	}
	return usr
}
