package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/shuttle/core"
)

func TestError_Is(t *testing.T) {
	err := core.NewError(core.KindRouteClosed, "route %s is %s", "r-1", "completed")
	assert.EqualError(t, err, "route r-1 is completed")
	assert.True(t, errors.Is(err, core.ErrRouteClosed))
	assert.False(t, errors.Is(err, core.ErrNotEnrolled))

	wrapped := errors.Wrap(err, "confirming")
	assert.True(t, errors.Is(wrapped, core.ErrRouteClosed))
	assert.Equal(t, core.KindRouteClosed, core.KindOf(wrapped))
	assert.Equal(t, core.KindUnknown, core.KindOf(errors.New("boom")))
	assert.Equal(t, core.KindUnknown, core.KindOf(nil))
}

func TestDependencyFailure(t *testing.T) {
	assert.NoError(t, core.DependencyFailure(nil, "persisting"))

	cause := context.DeadlineExceeded
	err := core.DependencyFailure(fmt.Errorf("insert: %w", cause), "persisting changes")
	assert.True(t, errors.Is(err, core.ErrDependencyFailure))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.EqualError(t, err, "persisting changes: insert: context deadline exceeded")
	assert.Equal(t, core.KindDependencyFailure, core.KindOf(err))
}

func TestShutdownError(t *testing.T) {
	err := core.NewShutdownError("integrity issue")
	assert.True(t, core.IsShutdown(err))
	assert.True(t, core.IsShutdown(errors.Wrap(err, "handling request")))
	assert.False(t, core.IsShutdown(core.ErrConflict))
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{15000, "150.00"},
		{15050, "150.50"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, core.FormatCents(tt.in))
		})
	}
}

func TestCleanString(t *testing.T) {
	assert.Equal(t, "Amani", core.CleanString("  Amani \t"))
	assert.Equal(t, "amani@example.com", core.CleanString(" Amani@Example.com ", true))
}
