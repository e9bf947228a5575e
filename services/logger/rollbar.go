package logsvc

import (
	"io"
	"time"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"github.com/rs/zerolog"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/user"
)

// RollbarLogger reports to Rollbar and writes structured logs to out:
// human-readable in debug mode, JSON lines otherwise.
type RollbarLogger struct {
	zl zerolog.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(out io.Writer, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "")

	w := out
	level := zerolog.InfoLevel
	if conf.Debug {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(w).Level(level).With().
		Timestamp().
		Str("app", conf.AppName).
		Str("env", conf.Env).
		Logger()
	return &RollbarLogger{zl: zl}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		// set logged in User
		if usr, ok := arg.(user.User); ok {
			if !usrSet { // only set one User
				rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
				usrSet = true
			}
		} else {
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l RollbarLogger) write(e *zerolog.Event, msg string, args []interface{}) {
	var extra []interface{}
	for _, arg := range args {
		switch v := arg.(type) {
		case error:
			e = e.Err(v)
		case map[string]interface{}:
			e = e.Fields(v)
		case user.User:
			e = e.Str("user_id", v.ID).Str("user_role", string(v.Role))
		default:
			extra = append(extra, v)
		}
	}
	if len(extra) > 0 {
		e = e.Interface("args", extra)
	}
	e.Msg(msg)
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.write(l.zl.Debug(), msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.write(l.zl.Info(), msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.write(l.zl.Warn(), msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.write(l.zl.Error(), msg, args)
}

// Fatal reports, waits for pending Rollbar items and exits.
func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	rollbar.Wait()
	l.write(l.zl.Fatal(), msg, args)
}
