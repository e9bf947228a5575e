package main

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/trezcool/shuttle/core"
	"github.com/trezcool/shuttle/core/shuttle"
)

func (cli *commandLine) sweep(ctx context.Context, asOf time.Time) error {
	runner, err := cli.runner(ctx)
	if err != nil {
		return err
	}
	marked, err := runner.SweepOverdue(ctx, asOf)
	if err != nil {
		return err
	}
	for _, p := range marked {
		fmt.Fprintf(cli.out, "%s\t%s\t%s\toutstanding %s\n", p.ID, p.StudentID, p.Period, core.FormatCents(p.Outstanding()))
	}
	fmt.Fprintf(cli.out, "%d payment(s) marked overdue as of %s\n", len(marked), asOf.Format("2006-01-02"))
	return nil
}

func (cli *commandLine) report(ctx context.Context, period shuttle.Period, to ...mail.Address) error {
	runner, err := cli.runner(ctx)
	if err != nil {
		return err
	}
	sum, err := runner.MonthlyReport(ctx, period, to...)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: billed %s, collected %s, outstanding %s, delinquency %.1f%%\n",
		sum.Period, core.FormatCents(sum.TotalBilled), core.FormatCents(sum.TotalCollected),
		core.FormatCents(sum.TotalOutstanding), sum.DelinquencyRate*100)
	return nil
}
