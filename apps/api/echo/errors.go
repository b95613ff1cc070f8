package echoapi

import (
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
)

var (
	errHttpNotFound = echo.NewHTTPError(http.StatusNotFound, "not found")

	errUpdateSent = echo.NewHTTPError(http.StatusUnprocessableEntity, "a sent communication cannot be updated")
	errSendSent   = echo.NewHTTPError(http.StatusBadRequest, "this communication has already been sent")

	invalidInputMsg = "the given data was invalid"
)

// operationError is a server error whose message is exposed to the client, prefixed with the failed operation.
type operationError struct {
	op  string
	err error
}

func newOperationError(op string, err error) error {
	return &operationError{op: op, err: err}
}

func (e *operationError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			message = echo.Map{"message": invalidInputMsg, "errors": core.TranslateErrors(origErr, translator)}
		case *core.ValidationError:
			code = http.StatusBadRequest
			if origErr.Fields != nil {
				message = echo.Map{"message": invalidInputMsg, "errors": origErr.FieldMap()}
			} else {
				message = origErr.Error()
			}
		case *communication.DispatchError:
			code = http.StatusInternalServerError
			message = origErr.Error()
			logger.Error(origErr.Error(), map[string]interface{}{"errors": origErr.Result.Errors})
		case *operationError:
			code = http.StatusInternalServerError
			message = origErr.Error()
			logger.Error(origErr.Error(), errors.Wrap(err, origErr.op))
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code >= http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"message": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
