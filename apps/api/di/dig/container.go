package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/shuttle/apps/api/echo"
	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/attendance"
	"github.com/trezcool/shuttle/core/billing"
	"github.com/trezcool/shuttle/core/lifecycle"
	"github.com/trezcool/shuttle/core/registry"
	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/core/user"
	"github.com/trezcool/shuttle/core/view"
	emailsvc "github.com/trezcool/shuttle/services/email"
	"github.com/trezcool/shuttle/services/jobs"
	logsvc "github.com/trezcool/shuttle/services/logger"
	"github.com/trezcool/shuttle/services/metrics"
	"github.com/trezcool/shuttle/storage/database"
	inmemdb "github.com/trezcool/shuttle/storage/database/inmem"
	sqlxrepos "github.com/trezcool/shuttle/storage/database/sqlx"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	serverParams struct {
		dig.In
		Conf          *core.Config
		Logger        core.Logger
		Validate      *validator.Validate
		Translator    ut.Translator
		Metrics       *metrics.Metrics
		UserSvc       *user.Service
		RegistrySvc   *registry.Service
		LifecycleSvc  *lifecycle.Service
		AttendanceSvc *attendance.Service
		BillingSvc    *billing.Service
		Composer      *view.Composer
	}
)

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(os.Stdout, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(os.Stdout, conf)
	logger.Enable(!conf.Debug)
	return logger
}

// newDB returns a nil *sqlx.DB when the database is disabled: records then live in memory only.
func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	if conf.Database.Disabled {
		loggerParam.Logger.Warn("database disabled: records will not survive a restart")
		return nil
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newUserRepository(db *sqlx.DB) user.Repository {
	if db == nil {
		return inmemdb.NewUserRepository(inmemdb.Open())
	}
	return sqlxrepos.NewUserRepository(db)
}

// newStore loads the persisted records into the in-memory store and writes every commit back.
func newStore(conf *core.Config, db *sqlx.DB, loggerParam DBLoggerParam) shuttle.Store {
	if db == nil {
		return inmemdb.NewStore()
	}

	persister := sqlxrepos.NewPersister(db)
	records, err := persister.Load(context.Background())
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("loading records: %v", err), err)
	}
	return inmemdb.NewStore(
		inmemdb.WithRecords(records),
		inmemdb.WithPersister(persister, conf.Database.PersistTimeout),
	)
}

func newValidator() (*validator.Validate, ut.Translator) {
	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	return validate, translator
}

func newAttendanceService(conf *core.Config, store shuttle.Store) *attendance.Service {
	return attendance.NewService(store, conf.Attendance)
}

func newComposer(conf *core.Config, store shuttle.Store, usrSvc *user.Service) *view.Composer {
	return view.NewComposer(store, usrSvc, conf.Attendance)
}

func newJobsRunner(
	conf *core.Config,
	billingSvc *billing.Service,
	registrySvc *registry.Service,
	repo user.Repository,
	mailSvc core.EmailService,
	m *metrics.Metrics,
	logger core.Logger,
) *jobs.Runner {
	return jobs.NewRunner(conf, billingSvc, registrySvc, repo, mailSvc, m, logger)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          p.Conf,
		Logger:        p.Logger,
		Validate:      p.Validate,
		Translator:    p.Translator,
		Metrics:       p.Metrics,
		UserSvc:       p.UserSvc,
		RegistrySvc:   p.RegistrySvc,
		LifecycleSvc:  p.LifecycleSvc,
		AttendanceSvc: p.AttendanceSvc,
		BillingSvc:    p.BillingSvc,
		Composer:      p.Composer,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newUserRepository))
	must(c.Provide(newStore))
	must(c.Provide(emailsvc.NewService))
	must(c.Provide(newValidator))
	must(c.Provide(user.NewService))
	must(c.Provide(registry.NewService))
	must(c.Provide(lifecycle.NewService))
	must(c.Provide(newAttendanceService))
	must(c.Provide(billing.NewService))
	must(c.Provide(newComposer))
	must(c.Provide(metrics.New))
	must(c.Provide(newJobsRunner))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
