package main

import (
	"log"
	"os"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
	appfs "github.com/trezcool/masomo-comms/fs"
	emailsvc "github.com/trezcool/masomo-comms/services/email"
	logsvc "github.com/trezcool/masomo-comms/services/logger"
	notifysvc "github.com/trezcool/masomo-comms/services/notify"
	"github.com/trezcool/masomo-comms/storage/database"
	sqlxrepos "github.com/trezcool/masomo-comms/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	// set up services
	templates, err := core.ParseEmailTemplates(appfs.FS, "templates/email", conf.Debug)
	errAndDie(err)
	var mailSvc core.EmailService
	if conf.Debug || conf.Dispatch.Channel == "console" {
		mailSvc = emailsvc.NewConsoleService(conf, templates)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, templates, logsvc.NewRollbarLogger(logger, conf))
	}
	dispatcher, err := communication.NewDispatcher(notifysvc.NewEmailNotifier(mailSvc), conf.Dispatch.Workers)
	errAndDie(err)
	commSvc, err := communication.NewService(db, sqlxrepos.NewCommunicationRepository(db), dispatcher, conf.Pagination)
	errAndDie(err)

	// start CLI
	cli := commandLine{
		db:      db,
		dir:     sqlxrepos.NewDirectoryRepository(db),
		commSvc: commSvc,
		out:     os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		_ = db.Close()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
