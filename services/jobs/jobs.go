package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/mail"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/billing"
	"github.com/trezcool/shuttle/core/registry"
	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/core/user"
)

var NowFunc = time.Now // mockable

const jobTimeout = 4 * time.Minute

type (
	// Accounts finds the login account of a student, for its e-mail address.
	Accounts interface {
		GetUser(ctx context.Context, filter user.GetFilter) (user.User, error)
	}

	// Observer is told about committed outboxes and overdue payments.
	Observer interface {
		Notifications(out shuttle.Outbox)
		Overdue(n int)
	}

	Runner struct {
		conf     core.JobsConfig
		billing  *billing.Service
		registry *registry.Service
		accounts Accounts
		mailSvc  core.EmailService
		observer Observer
		logger   core.Logger
		cron     *cron.Cron
	}
)

func NewRunner(
	conf *core.Config,
	billingSvc *billing.Service,
	registrySvc *registry.Service,
	accounts Accounts,
	mailSvc core.EmailService,
	observer Observer,
	logger core.Logger,
) *Runner {
	cl := cronLogger{logger}
	return &Runner{
		conf:     conf.Jobs,
		billing:  billingSvc,
		registry: registrySvc,
		accounts: accounts,
		mailSvc:  mailSvc,
		observer: observer,
		logger:   logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Start schedules the overdue sweep and the maintenance check. It is a no-op when jobs are disabled.
func (r *Runner) Start() error {
	if !r.conf.Enabled {
		return nil
	}
	if _, err := r.cron.AddFunc(r.conf.OverdueSweepSpec, r.job("overdue sweep", func(ctx context.Context) error {
		_, err := r.SweepOverdue(ctx, NowFunc().UTC())
		return err
	})); err != nil {
		return pkgerrors.Wrapf(err, "scheduling overdue sweep %q", r.conf.OverdueSweepSpec)
	}
	if _, err := r.cron.AddFunc(r.conf.MaintenanceSpec, r.job("maintenance check", func(ctx context.Context) error {
		_, err := r.CheckMaintenance(ctx, NowFunc().UTC())
		return err
	})); err != nil {
		return pkgerrors.Wrapf(err, "scheduling maintenance check %q", r.conf.MaintenanceSpec)
	}
	r.cron.Start()
	r.logger.Info("jobs started", map[string]interface{}{
		"overdue_sweep": r.conf.OverdueSweepSpec,
		"maintenance":   r.conf.MaintenanceSpec,
	})
	return nil
}

// Stop waits for running jobs until ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) job(name string, fn func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.logger.Error(name+" failed", err)
		}
	}
}

// SweepOverdue marks every eligible payment overdue at asOf and e-mails a notice to each student with an account.
func (r *Runner) SweepOverdue(ctx context.Context, asOf time.Time) ([]shuttle.Payment, error) {
	marked, outbox, err := r.billing.SweepOverdue(ctx, asOf)
	r.observer.Overdue(len(marked))
	r.observer.Notifications(outbox)
	if len(marked) > 0 {
		r.sendOverdueNotices(ctx, marked)
		r.logger.Info("payments marked overdue", map[string]interface{}{"count": len(marked), "as_of": asOf})
	}
	return marked, err
}

func (r *Runner) sendOverdueNotices(ctx context.Context, payments []shuttle.Payment) {
	msgs := make([]*core.EmailMessage, 0, len(payments))
	for _, p := range payments {
		usr, err := r.accounts.GetUser(ctx, user.GetFilter{SubjectID: p.StudentID})
		if err != nil {
			if !errors.Is(err, user.ErrNotFound) {
				r.logger.Error("finding student account", err, map[string]interface{}{"student_id": p.StudentID})
			}
			continue
		}
		if !usr.IsActive || usr.Email == "" {
			continue
		}
		msgs = append(msgs, OverdueNotice(p, usr))
	}
	if len(msgs) > 0 {
		r.mailSvc.SendMessages(msgs...)
	}
}

// CheckMaintenance warns about buses whose maintenance date passed at asOf.
func (r *Runner) CheckMaintenance(ctx context.Context, asOf time.Time) (shuttle.Outbox, error) {
	outbox, err := r.registry.CheckMaintenance(ctx, asOf)
	r.observer.Notifications(outbox)
	return outbox, err
}

// MonthlyReport e-mails the billing summary of period to recipients, with the period's ledger as CSV.
func (r *Runner) MonthlyReport(ctx context.Context, period shuttle.Period, to ...mail.Address) (billing.MonthlySummary, error) {
	if len(to) == 0 {
		return billing.MonthlySummary{}, errors.New("no recipients")
	}
	sum, err := r.billing.MonthlySummary(ctx, period)
	if err != nil {
		return billing.MonthlySummary{}, err
	}
	payments, err := r.billing.Payments(ctx, period)
	if err != nil {
		return billing.MonthlySummary{}, err
	}
	msg, err := MonthlyReport(sum, payments, to)
	if err != nil {
		return billing.MonthlySummary{}, err
	}
	r.mailSvc.SendMessages(msg)
	return sum, nil
}

func OverdueNotice(p shuttle.Payment, usr user.User) *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      fmt.Sprintf("Payment overdue for %s", p.Period),
		TemplateName: "overdue_notice",
		TemplateData: map[string]interface{}{
			"Name":       usr.Name,
			"Period":     p.Period.String(),
			"AmountDue":  p.AmountDue,
			"AmountPaid": p.AmountPaid,
		},
	}
}

func MonthlyReport(sum billing.MonthlySummary, payments []shuttle.Payment, to []mail.Address) (*core.EmailMessage, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"payment_id", "student_id", "period", "amount_due", "amount_paid", "outstanding", "due_date", "status"})
	for _, p := range payments {
		_ = w.Write([]string{
			p.ID, p.StudentID, p.Period.String(),
			core.FormatCents(p.AmountDue), core.FormatCents(p.AmountPaid), core.FormatCents(p.Outstanding()),
			p.DueDate.Format("2006-01-02"), string(p.Status),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, pkgerrors.Wrap(err, "writing ledger")
	}

	msg := &core.EmailMessage{
		To:           to,
		Subject:      fmt.Sprintf("Billing report %s", sum.Period),
		TemplateName: "monthly_report",
		TemplateData: sum,
	}
	if err := msg.Attach(&buf, fmt.Sprintf("ledger-%s.csv", sum.Period), "text/csv"); err != nil {
		return nil, pkgerrors.Wrap(err, "attaching ledger")
	}
	return msg, nil
}

// cronLogger routes cron's own logs to the app Logger.
type cronLogger struct {
	logger core.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, fields(keysAndValues))
}

func fields(kv []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return m
}
