package echoapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-comms/apps/api/echo"
	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
	appfs "github.com/trezcool/masomo-comms/fs"
	emailsvc "github.com/trezcool/masomo-comms/services/email"
	logsvc "github.com/trezcool/masomo-comms/services/logger"
	notifysvc "github.com/trezcool/masomo-comms/services/notify"
	sqlxrepos "github.com/trezcool/masomo-comms/storage/database/sqlx"
	"github.com/trezcool/masomo-comms/tests"
)

type testApp struct {
	db     *sqlx.DB
	svc    *communication.Service
	server *echoapi.Server
}

func setup(t *testing.T) testApp {
	conf := testutil.NewConfig()

	// set up DB & services
	db := testutil.PrepareDB(t)
	templates, err := core.ParseEmailTemplates(appfs.FS, "templates/email", true)
	require.NoError(t, err)
	dispatcher, err := communication.NewDispatcher(
		notifysvc.NewEmailNotifier(emailsvc.NewConsoleServiceMock(conf, templates)),
		conf.Dispatch.Workers,
	)
	require.NoError(t, err)
	commSvc, err := communication.NewService(db, sqlxrepos.NewCommunicationRepository(db), dispatcher, conf.Pagination)
	require.NoError(t, err)

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	communication.InitValidators(validate, translator)
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)

	// set up server
	server := echoapi.NewServer(conf, logger, commSvc, validate, translator)
	t.Cleanup(func() { _ = server.Close() })

	emailsvc.ResetSentMessages()
	return testApp{db: db, svc: commSvc, server: server}
}

type httpMsg struct {
	Message string `json:"message"`
}

type httpValidationErr struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

func invalidInput(errs map[string]string) httpValidationErr {
	return httpValidationErr{Message: "the given data was invalid", Errors: errs}
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	wantCode int
	wantData []byte
	extra    interface{}
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return req, rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	return false, nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()

	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func resources(comms ...communication.Communication) []echoapi.CommunicationResource {
	res := make([]echoapi.CommunicationResource, 0, len(comms))
	for _, comm := range comms {
		res = append(res, echoapi.NewCommunicationResource(comm))
	}
	return res
}
