package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
)

type (
	// NewPayment is a monthly bill for one student. Amounts are in cents.
	NewPayment struct {
		StudentID string `json:"student_id" validate:"required"`
		Period    string `json:"period" validate:"required,period"`
		AmountDue int64  `json:"amount_due" validate:"gt=0"`
		DueDate   string `json:"due_date" validate:"required,datetime=2006-01-02"`
	}

	// Receipt is money received for a payment. PaidAt may be backdated.
	Receipt struct {
		Amount int64     `json:"amount" validate:"gt=0"`
		PaidAt time.Time `json:"paid_at"`
	}

	// MonthlySummary is computed from the payment ledger of one period.
	MonthlySummary struct {
		Period           shuttle.Period `json:"period"`
		TotalBilled      int64          `json:"total_billed"`
		TotalCollected   int64          `json:"total_collected"`
		TotalOutstanding int64          `json:"total_outstanding"`
		BilledStudents   int            `json:"billed_students"`
		OverdueStudents  int            `json:"overdue_students"`
		DelinquencyRate  float64        `json:"delinquency_rate"`
	}

	// Statement lists the payments of one student, newest period first.
	Statement struct {
		StudentID   string            `json:"student_id"`
		Payments    []shuttle.Payment `json:"payments"`
		Outstanding int64             `json:"outstanding"`
		Overdue     bool              `json:"overdue"`
	}

	Service struct {
		store shuttle.Store
	}
)

func (np NewPayment) Validate(validate *validator.Validate) error { return validate.Struct(np) }

func NewService(store shuttle.Store) *Service {
	return &Service{store: store}
}

// Bill creates a Pending payment for an active student.
func (svc *Service) Bill(ctx context.Context, np NewPayment) (shuttle.Payment, error) {
	period, err := shuttle.ParsePeriod(np.Period)
	if err != nil {
		return shuttle.Payment{}, core.NewError(core.KindInvalidState, "%v", err)
	}
	dueDate, err := shuttle.ParseDay(np.DueDate)
	if err != nil {
		return shuttle.Payment{}, core.NewError(core.KindInvalidState, "%v", err)
	}

	var p shuttle.Payment
	_, err = svc.store.Update(ctx, []string{shuttle.StudentKey(np.StudentID)}, func(tx shuttle.Tx) error {
		s, err := tx.Student(np.StudentID)
		if err != nil {
			return err
		}
		if !s.IsActive {
			return core.NewError(core.KindInvalidState, "student %s is inactive", s.ID)
		}
		for _, other := range tx.Payments() {
			if other.StudentID == s.ID && other.Period == period {
				return core.NewError(core.KindConflict, "student %s is already billed for %s", s.ID, period)
			}
		}

		p = shuttle.Payment{
			ID:        tx.NewID(),
			StudentID: s.ID,
			Period:    period,
			AmountDue: np.AmountDue,
			DueDate:   dueDate,
			Status:    shuttle.PaymentPending,
			CreatedAt: tx.Now(),
			UpdatedAt: tx.Now(),
		}
		return tx.PutPayment(p)
	})
	if err != nil {
		return shuttle.Payment{}, err
	}
	p.Version++
	return p, nil
}

// RecordPayment applies a receipt. A fully settled payment becomes Paid, Overdue ones included.
func (svc *Service) RecordPayment(ctx context.Context, paymentID string, rcpt Receipt) (shuttle.Payment, shuttle.Outbox, error) {
	if rcpt.Amount <= 0 {
		return shuttle.Payment{}, nil, core.NewError(core.KindInvalidState, "receipt amount must be positive")
	}

	var p shuttle.Payment
	outbox, err := svc.store.Update(ctx, []string{shuttle.PaymentKey(paymentID)}, func(tx shuttle.Tx) (err error) {
		p, err = tx.Payment(paymentID)
		if err != nil {
			return err
		}
		if p.Status == shuttle.PaymentPaid {
			return core.NewError(core.KindInvalidState, "payment %s is already paid", p.ID)
		}

		paidAt := rcpt.PaidAt.UTC()
		if rcpt.PaidAt.IsZero() {
			paidAt = tx.Now()
		}
		p.AmountPaid += rcpt.Amount
		p.UpdatedAt = tx.Now()
		if p.AmountPaid >= p.AmountDue {
			p.Status = shuttle.PaymentPaid
			p.PaidAt = paidAt
			tx.Notify(shuttle.CategoryInfo, shuttle.StudentSubject(p.StudentID),
				fmt.Sprintf("Payment for %s received in full (%s)", p.Period, core.FormatCents(p.AmountPaid)))
		}
		return tx.PutPayment(p)
	})
	if err != nil {
		return shuttle.Payment{}, nil, err
	}
	p.Version++
	return p, outbox, nil
}

// MarkOverdue moves a Pending payment to Overdue when its due date passed at asOf and it is not fully paid.
// Paid and already Overdue payments are rejected with InvalidState, so re-evaluation never warns twice.
func (svc *Service) MarkOverdue(ctx context.Context, paymentID string, asOf time.Time) (shuttle.Payment, shuttle.Outbox, error) {
	var p shuttle.Payment
	outbox, err := svc.store.Update(ctx, []string{shuttle.PaymentKey(paymentID)}, func(tx shuttle.Tx) (err error) {
		p, err = tx.Payment(paymentID)
		if err != nil {
			return err
		}
		switch {
		case p.Status != shuttle.PaymentPending:
			return core.NewError(core.KindInvalidState, "payment %s is already %s", p.ID, p.Status)
		case !p.PastDue(asOf):
			return core.NewError(core.KindInvalidState, "payment %s is not past due at %s", p.ID, asOf.Format("2006-01-02"))
		}

		p.Status = shuttle.PaymentOverdue
		p.UpdatedAt = tx.Now()
		if err := tx.PutPayment(p); err != nil {
			return err
		}
		tx.Notify(shuttle.CategoryWarning, shuttle.StudentSubject(p.StudentID),
			fmt.Sprintf("Payment for %s is overdue: %s outstanding", p.Period, core.FormatCents(p.Outstanding())))
		return nil
	})
	if err != nil {
		return shuttle.Payment{}, nil, err
	}
	p.Version++
	return p, outbox, nil
}

// SweepOverdue runs MarkOverdue on every eligible Pending payment, one transaction each.
// It stops at the first failure that is not an InvalidState race, returning what was already committed.
func (svc *Service) SweepOverdue(ctx context.Context, asOf time.Time) ([]shuttle.Payment, shuttle.Outbox, error) {
	var candidates []string
	if err := svc.store.View(ctx, func(v shuttle.View) error {
		for _, p := range v.Payments() {
			if p.Status == shuttle.PaymentPending && p.PastDue(asOf) {
				candidates = append(candidates, p.ID)
			}
		}
		return nil
	}); err != nil {
		return nil, nil, err
	}

	var (
		marked []shuttle.Payment
		outbox shuttle.Outbox
	)
	for _, id := range candidates {
		p, out, err := svc.MarkOverdue(ctx, id, asOf)
		if err != nil {
			if errors.Is(err, core.ErrInvalidState) {
				continue // settled or marked since the scan
			}
			return marked, outbox, err
		}
		marked = append(marked, p)
		outbox = append(outbox, out...)
	}
	return marked, outbox, nil
}

// MonthlySummary aggregates the ledger of period. It is computed from scratch on every call.
func (svc *Service) MonthlySummary(ctx context.Context, period shuttle.Period) (MonthlySummary, error) {
	var sum MonthlySummary
	err := svc.store.View(ctx, func(v shuttle.View) error {
		var err error
		sum, err = Summarize(ctx, period, v.Payments())
		return err
	})
	return sum, err
}

// Summarize computes the MonthlySummary of period from payments. It checks ctx between payments.
func Summarize(ctx context.Context, period shuttle.Period, payments []shuttle.Payment) (MonthlySummary, error) {
	sum := MonthlySummary{Period: period}
	billed := make(map[string]bool)
	overdue := make(map[string]bool)
	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return MonthlySummary{}, err
		}
		if p.Period != period {
			continue
		}
		sum.TotalBilled += p.AmountDue
		sum.TotalCollected += p.AmountPaid
		sum.TotalOutstanding += p.Outstanding()
		billed[p.StudentID] = true
		if p.Status == shuttle.PaymentOverdue {
			overdue[p.StudentID] = true
		}
	}
	sum.BilledStudents = len(billed)
	sum.OverdueStudents = len(overdue)
	if sum.BilledStudents > 0 {
		sum.DelinquencyRate = float64(sum.OverdueStudents) / float64(sum.BilledStudents)
	}
	return sum, nil
}

// StudentStatement lists the student's payments, newest period first.
func (svc *Service) StudentStatement(ctx context.Context, studentID string) (Statement, error) {
	var st Statement
	err := svc.store.View(ctx, func(v shuttle.View) error {
		if _, err := v.Student(studentID); err != nil {
			return err
		}
		st = StatementOf(studentID, v.Payments())
		return nil
	})
	return st, err
}

// StatementOf builds the Statement of studentID from payments.
func StatementOf(studentID string, payments []shuttle.Payment) Statement {
	st := Statement{StudentID: studentID, Payments: []shuttle.Payment{}}
	for i := len(payments) - 1; i >= 0; i-- { // payments are ordered by period
		p := payments[i]
		if p.StudentID != studentID {
			continue
		}
		st.Payments = append(st.Payments, p)
		st.Outstanding += p.Outstanding()
		if p.Status == shuttle.PaymentOverdue {
			st.Overdue = true
		}
	}
	return st
}

// Payment returns one payment of the ledger.
func (svc *Service) Payment(ctx context.Context, id string) (p shuttle.Payment, err error) {
	err = svc.store.View(ctx, func(v shuttle.View) error {
		p, err = v.Payment(id)
		return err
	})
	return p, err
}

// Payments lists the payments of period, all of them when period is zero.
func (svc *Service) Payments(ctx context.Context, period shuttle.Period) (list []shuttle.Payment, err error) {
	list = []shuttle.Payment{}
	err = svc.store.View(ctx, func(v shuttle.View) error {
		for _, p := range v.Payments() {
			if period.IsZero() || p.Period == period {
				list = append(list, p)
			}
		}
		return nil
	})
	return list, err
}
