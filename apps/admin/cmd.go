package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/shuttle/core/shuttle"
	"github.com/trezcool/shuttle/core/user"
	"github.com/trezcool/shuttle/services/jobs"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	nowFunc          = time.Now          // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db       *sqlx.DB
	usrSvc   *user.Service
	validate *validator.Validate
	// runner loads the records lazily, so that migrate works on an empty database
	runner   func(ctx context.Context) (*jobs.Runner, error)
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command: up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix")
	fmt.Fprintln(cli.out, "  adduser -name NAME -username USERNAME -email EMAIL -role ROLE -subject ID - create a login account")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Fprintln(cli.out, "  sweep -asof YYYY-MM-DD - mark unsettled payments past due as overdue")
	fmt.Fprintln(cli.out, "  report -period YYYY-MM -to EMAILS - e-mail the monthly billing report")
}

func (cli *commandLine) readPassword(prompt string) (string, error) {
	fmt.Fprint(cli.out, prompt)
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Fprintln(cli.out)
	return string(pwd), err
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username. Either username or email is required.")
	addUserEmail := addUserCmd.String("email", "", "The user's email. Either username or email is required.")
	addUserRole := addUserCmd.String("role", string(shuttle.RoleAdmin), "One of admin, driver or student.")
	addUserSubject := addUserCmd.String("subject", "", "The ID of the driver or student the account belongs to.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	sweepCmd := flag.NewFlagSet("sweep", flag.ExitOnError)
	sweepAsOf := sweepCmd.String("asof", "", "The sweep date, formatted as YYYY-MM-DD. Defaults to today.")

	reportCmd := flag.NewFlagSet("report", flag.ExitOnError)
	reportPeriod := reportCmd.String("period", "", "The billing period, formatted as YYYY-MM. Defaults to the previous month.")
	reportTo := reportCmd.String("to", "", "Comma-separated recipients.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || (*addUserUname == "" && *addUserEmail == "") {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		confirm, err := cli.readPassword("Confirm password:")
		if err != nil {
			return err
		}
		return cli.addUser(ctx, user.NewUser{
			Name:            *addUserName,
			Username:        *addUserUname,
			Email:           *addUserEmail,
			Password:        pwd,
			PasswordConfirm: confirm,
			Role:            shuttle.Role(*addUserRole),
			SubjectID:       *addUserSubject,
		})

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *resetPasswordUname, pwd)

	case "sweep":
		if err := sweepCmd.Parse(args[2:]); err != nil {
			return err
		}
		asOf := nowFunc().UTC()
		if *sweepAsOf != "" {
			day, err := time.Parse("2006-01-02", *sweepAsOf)
			if err != nil {
				sweepCmd.Usage()
				return errHelp
			}
			asOf = day
		}
		return cli.sweep(ctx, asOf)

	case "report":
		if err := reportCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *reportTo == "" {
			reportCmd.Usage()
			return errHelp
		}
		addrs, err := mail.ParseAddressList(*reportTo)
		if err != nil {
			return err
		}
		to := make([]mail.Address, len(addrs))
		for i, a := range addrs {
			to[i] = *a
		}
		now := nowFunc().UTC()
		period := shuttle.PeriodOf(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0))
		if *reportPeriod != "" {
			if period, err = shuttle.ParsePeriod(*reportPeriod); err != nil {
				reportCmd.Usage()
				return errHelp
			}
		}
		return cli.report(ctx, period, to...)

	default:
		cli.printUsage()
		return errHelp
	}
}
