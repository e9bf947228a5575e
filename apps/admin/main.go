package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/billing"
	"github.com/trezcool/shuttle/core/registry"
	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/core/user"
	emailsvc "github.com/trezcool/shuttle/services/email"
	"github.com/trezcool/shuttle/services/jobs"
	logsvc "github.com/trezcool/shuttle/services/logger"
	"github.com/trezcool/shuttle/storage/database"
	inmemdb "github.com/trezcool/shuttle/storage/database/inmem"
	sqlxrepos "github.com/trezcool/shuttle/storage/database/sqlx"
)

// logObserver logs what the jobs commit: the CLI exposes no metrics.
type logObserver struct {
	logger core.Logger
}

func (o logObserver) Notifications(out shuttle.Outbox) {
	if len(out) > 0 {
		o.logger.Info(fmt.Sprintf("%d notification(s) emitted", len(out)))
	}
}

func (o logObserver) Overdue(n int) {
	o.logger.Info(fmt.Sprintf("%d payment(s) marked overdue", n))
}

// newRunner loads the persisted records into a store writing back to db.
func newRunner(
	conf *core.Config,
	db *sqlx.DB,
	repo user.Repository,
	mailSvc core.EmailService,
	logger core.Logger,
) func(ctx context.Context) (*jobs.Runner, error) {
	return func(ctx context.Context) (*jobs.Runner, error) {
		persister := sqlxrepos.NewPersister(db)
		records, err := persister.Load(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "loading records (did you run migrate up?)")
		}
		store := inmemdb.NewStore(
			inmemdb.WithRecords(records),
			inmemdb.WithPersister(persister, conf.Database.PersistTimeout),
		)
		return jobs.NewRunner(
			conf, billing.NewService(store), registry.NewService(store), repo,
			mailSvc, logObserver{logger}, logger,
		), nil
	}
}

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(os.Stderr, conf)
	logger.Enable(!conf.Debug)

	if conf.Database.Disabled {
		logger.Fatal("the admin CLI needs a database, check database.disabled")
	}

	// set up DB
	errAndDie := func(err error) {
		if err != nil {
			logger.Fatal(err.Error(), err)
		}
	}
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	usrRepo := sqlxrepos.NewUserRepository(db)
	mailSvc := emailsvc.NewSyncService(conf, logger)

	// start CLI
	cli := commandLine{
		db:       db,
		usrSvc:   user.NewService(conf, usrRepo, mailSvc),
		validate: validate,
		runner:   newRunner(conf, db, usrRepo, mailSvc, logger),
		out:      os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %s", err), err)
		}
		_ = db.Close()
		os.Exit(1)
	}
}
