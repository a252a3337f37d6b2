package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/eschool-app/eschool/apps/shared"
	"github.com/eschool-app/eschool/core"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	nowFunc          = time.Now          // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db   *sqlx.DB
	svcs shared.Services
	conf *core.Config
	out  io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, redo, version...)")
	fmt.Fprintln(cli.out, "  adduser -email EMAIL -first NAME -last NAME [-role ROLE] - create or update a user")
	fmt.Fprintln(cli.out, "  resetpassword -email EMAIL - reset user's password")
	fmt.Fprintln(cli.out, "  generatesessions [-from DATE] [-to DATE] - create the sessions of the timetable")
	fmt.Fprintln(cli.out, "  summarizeattendance [-from DATE] [-to DATE] - rebuild the daily attendance summaries")
	fmt.Fprintln(cli.out, "  financialreport [-date DATE] [-send-email] - print or email the daily financial report")
	fmt.Fprintln(cli.out, "  markoverdue [-date DATE] - flag the unpaid invoices past their due date")
}

func (cli *commandLine) today() core.Date {
	return core.DateOf(nowFunc().In(cli.conf.Location()))
}

// parseDate returns def when s is empty.
func parseDate(name, s string, def core.Date) (core.Date, error) {
	if s == "" {
		return def, nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, fmt.Errorf("-%s: %v", name, err)
	}
	return d, nil
}

func (cli *commandLine) promptPassword(fs *flag.FlagSet) (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserFirst := addUserCmd.String("first", "", "The user's first name.")
	addUserLast := addUserCmd.String("last", "", "The user's last name.")
	addUserRole := addUserCmd.String("role", "SUPER_ADMIN", "The user's role.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	generateCmd := flag.NewFlagSet("generatesessions", flag.ExitOnError)
	generateFrom := generateCmd.String("from", "", "First day (YYYY-MM-DD). Defaults to today.")
	generateTo := generateCmd.String("to", "", "Last day (YYYY-MM-DD). Defaults to 6 days after -from.")

	summarizeCmd := flag.NewFlagSet("summarizeattendance", flag.ExitOnError)
	summarizeFrom := summarizeCmd.String("from", "", "First day (YYYY-MM-DD). Defaults to today.")
	summarizeTo := summarizeCmd.String("to", "", "Last day (YYYY-MM-DD). Defaults to -from.")

	reportCmd := flag.NewFlagSet("financialreport", flag.ExitOnError)
	reportDate := reportCmd.String("date", "", "Report day (YYYY-MM-DD). Defaults to today.")
	reportSend := reportCmd.Bool("send-email", false, "Email the report to the finance recipients.")

	overdueCmd := flag.NewFlagSet("markoverdue", flag.ExitOnError)
	overdueDate := overdueCmd.String("date", "", "Reference day (YYYY-MM-DD). Defaults to today.")

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
		if *addUserEmail == "" || *addUserFirst == "" || *addUserLast == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(addUserCmd)
		if err != nil {
			return err
		}
		return cli.addUser(*addUserFirst, *addUserLast, *addUserEmail, *addUserRole, pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(resetPasswordCmd)
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)

	case "generatesessions":
		if err := generateCmd.Parse(args[2:]); err != nil {
			return err
		}
		from, err := parseDate("from", *generateFrom, cli.today())
		if err != nil {
			return err
		}
		to, err := parseDate("to", *generateTo, from.AddDays(6))
		if err != nil {
			return err
		}
		return cli.generateSessions(from, to)

	case "summarizeattendance":
		if err := summarizeCmd.Parse(args[2:]); err != nil {
			return err
		}
		from, err := parseDate("from", *summarizeFrom, cli.today())
		if err != nil {
			return err
		}
		to, err := parseDate("to", *summarizeTo, from)
		if err != nil {
			return err
		}
		return cli.summarizeAttendance(from, to)

	case "financialreport":
		if err := reportCmd.Parse(args[2:]); err != nil {
			return err
		}
		date, err := parseDate("date", *reportDate, cli.today())
		if err != nil {
			return err
		}
		return cli.financialReport(date, *reportSend)

	case "markoverdue":
		if err := overdueCmd.Parse(args[2:]); err != nil {
			return err
		}
		date, err := parseDate("date", *overdueDate, cli.today())
		if err != nil {
			return err
		}
		return cli.markOverdue(date)

	default:
		cli.printUsage()
		return errHelp
	}
}
