package echoapi

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/shuttle/core"
)

type validatable interface {
	Validate(validate *validator.Validate) error
}

// bind decodes the request into data and validates it.
func bind(ctx echo.Context, validate *validator.Validate, data validatable, name string) error {
	if err := ctx.Bind(data); err != nil {
		return pkgerrors.Wrapf(err, "binding to %s", name)
	}
	return data.Validate(validate)
}

// dayParam parses an optional YYYY-MM-DD query param, today (UTC) when missing.
func dayParam(ctx echo.Context, name string) (time.Time, error) {
	val := ctx.QueryParam(name)
	if val == "" {
		return NowFunc().UTC(), nil
	}
	day, err := time.Parse("2006-01-02", val)
	if err != nil {
		return time.Time{}, core.NewValidationError(err, core.FieldError{Field: name, Error: "must be a date formatted as YYYY-MM-DD"})
	}
	return day, nil
}
