package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/eschool-app/eschool/apps/shared"
	"github.com/eschool-app/eschool/core"
	emailsvc "github.com/eschool-app/eschool/services/email"
	logsvc "github.com/eschool-app/eschool/services/logger"
	"github.com/eschool-app/eschool/storage/database"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.EnableFor(conf)

	os.Exit(run(conf, logger))
}

func run(conf *core.Config, logger *logsvc.RollbarLogger) int {
	defer logger.Wait()

	// set up DB
	db, err := database.Open(context.Background(), conf)
	if err != nil {
		logger.Error(fmt.Sprintf("opening database: %v", err), err)
		return 1
	}
	defer func() { _ = db.Close() }()

	// set up services
	var mailSvc interface {
		core.EmailService
		Wait()
	}
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(log.New(os.Stdout, "MAIL : ", log.LstdFlags), logger, conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger, conf)
	}
	defer mailSvc.Wait()
	core.ParseEmailTemplates(conf, logger)

	// start CLI
	cli := commandLine{
		db:   db,
		svcs: shared.NewServices(shared.SQLRepositories(db), mailSvc, logger, conf),
		conf: conf,
		out:  os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		return 1
	}
	return 0
}
