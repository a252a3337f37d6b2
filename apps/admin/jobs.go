package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/finance"
)

func (cli *commandLine) generateSessions(from, to core.Date) error {
	n, err := cli.svcs.Attendance.GenerateSessions(context.Background(), from, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d sessions created from %s to %s\n", n, from, to)
	return nil
}

func (cli *commandLine) summarizeAttendance(from, to core.Date) error {
	n, err := cli.svcs.Attendance.RecomputeRange(context.Background(), from, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d daily summaries recomputed from %s to %s\n", n, from, to)
	return nil
}

func (cli *commandLine) financialReport(date core.Date, send bool) error {
	ctx := context.Background()
	var report finance.DailyReport
	var err error
	if send {
		report, err = cli.svcs.Finance.SendDailyReport(ctx, date)
	} else {
		report, err = cli.svcs.Finance.DailyReport(ctx, date)
	}
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, string(data))
	return nil
}

func (cli *commandLine) markOverdue(date core.Date) error {
	n, err := cli.svcs.Finance.MarkOverdue(context.Background(), date)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d invoices marked overdue\n", n)
	return nil
}
