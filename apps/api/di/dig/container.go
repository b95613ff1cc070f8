package dig_container

import (
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-comms/apps/api/echo"
	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
	appfs "github.com/trezcool/masomo-comms/fs"
	emailsvc "github.com/trezcool/masomo-comms/services/email"
	logsvc "github.com/trezcool/masomo-comms/services/logger"
	notifysvc "github.com/trezcool/masomo-comms/services/notify"
	"github.com/trezcool/masomo-comms/storage/database"
	sqlxrepos "github.com/trezcool/masomo-comms/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB, core.DBExecutor) {
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
	return db, db, db
}

func newEmailTemplates(conf *core.Config) (*core.EmailTemplates, error) {
	return core.ParseEmailTemplates(appfs.FS, "templates/email", conf.Debug || conf.TestMode)
}

func newEmailService(conf *core.Config, templates *core.EmailTemplates, logger core.Logger) core.EmailService {
	if conf.Debug || conf.Dispatch.Channel == "console" {
		return emailsvc.NewConsoleService(conf, templates)
	}
	return emailsvc.NewSendgridService(conf, templates, logger)
}

func newDispatcher(conf *core.Config, notifier communication.Notifier) (communication.Dispatcher, error) {
	return communication.NewDispatcher(notifier, conf.Dispatch.Workers)
}

func newCommunicationService(
	conf *core.Config,
	db core.DB,
	repo communication.Repository,
	dispatcher communication.Dispatcher,
) (*communication.Service, error) {
	return communication.NewService(db, repo, dispatcher, conf.Pagination)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	communication.InitValidators(validate, translator)
	return validate
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailTemplates))
	must(c.Provide(newEmailService))
	must(c.Provide(notifysvc.NewEmailNotifier))
	must(c.Provide(newDispatcher))
	must(c.Provide(sqlxrepos.NewCommunicationRepository, dig.As(new(communication.Repository))))
	must(c.Provide(newCommunicationService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
