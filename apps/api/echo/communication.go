package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
)

var errCommNotFoundInCtx = errors.New("communication object not found in echo.Context")

type communicationApi struct {
	svc      *communication.Service
	validate *validator.Validate
}

func registerCommunicationAPI(g *echo.Group, svc *communication.Service, validate *validator.Validate) {
	api := communicationApi{
		svc:      svc,
		validate: validate,
	}

	cg := g.Group("/communications")
	cg.GET("", api.query)
	cg.POST("", api.create)
	cg.GET("/statuses", api.queryStatuses)

	// detail endpoints
	dg := cg.Group("/:id", communicationMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.PATCH("", api.update)
	dg.DELETE("", api.destroy)
	dg.POST("/send", api.send)
}

// communicationMiddleware loads the communication identified by the `id` path param into the context.
// Relations are loaded as requested by the with_* query params.
func communicationMiddleware(svc *communication.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			var opts communication.LoadOptions
			if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &opts); err != nil {
				return errors.Wrap(err, "binding to LoadOptions")
			}

			comm, err := svc.Get(ctx.Request().Context(), ctx.Param("id"), opts)
			if err != nil {
				if errors.Cause(err) == communication.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding communication by ID")
			}
			ctx.Set("object", comm)
			return next(ctx)
		}
	}
}

func getContextCommunication(ctx echo.Context) (communication.Communication, error) {
	comm, ok := ctx.Get("object").(communication.Communication)
	if !ok {
		return communication.Communication{}, errors.Wrap(errCommNotFoundInCtx, "retrieving object from context")
	}
	return comm, nil
}

// Handlers

func (api *communicationApi) query(ctx echo.Context) error {
	var q ListQuery
	if err := q.Bind(ctx, api.validate); err != nil {
		return err
	}

	comms, meta, err := api.svc.Query(ctx.Request().Context(), q.Filter, q.Load, q.Pagination, q.Ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying communications")
	}

	data := make([]CommunicationResource, 0, len(comms))
	for _, comm := range comms {
		data = append(data, NewCommunicationResource(comm))
	}
	return ctx.JSON(http.StatusOK, CommunicationCollection{Data: data, Meta: meta})
}

func (api *communicationApi) queryStatuses(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, communication.StatusOptions())
}

func (api *communicationApi) create(ctx echo.Context) error {
	var data communication.NewCommunication
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCommunication")
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	comm, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return newOperationError("error creating communication", err)
	}
	return ctx.JSON(http.StatusCreated, NewCommunicationResource(comm))
}

func (api *communicationApi) retrieve(ctx echo.Context) error {
	comm, err := getContextCommunication(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, NewCommunicationResource(comm))
}

func (api *communicationApi) update(ctx echo.Context) error {
	comm, err := getContextCommunication(ctx)
	if err != nil {
		return err
	}
	if comm.Status.IsSent() {
		return errUpdateSent
	}

	var data communication.UpdateCommunication
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCommunication")
	}
	if err = data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	comm, err = api.svc.Update(ctx.Request().Context(), comm, data)
	if err != nil {
		if errors.Cause(err) == communication.ErrAlreadySent {
			return errUpdateSent
		}
		return errors.Wrap(err, "updating communication")
	}
	return ctx.JSON(http.StatusOK, NewCommunicationResource(comm))
}

func (api *communicationApi) destroy(ctx echo.Context) error {
	comm, err := getContextCommunication(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), comm.ID); err != nil {
		return newOperationError("error deleting communication", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *communicationApi) send(ctx echo.Context) error {
	comm, err := getContextCommunication(ctx)
	if err != nil {
		return err
	}

	res, err := api.svc.Send(ctx.Request().Context(), comm)
	if err != nil {
		cause := errors.Cause(err)
		if cause == communication.ErrAlreadySent {
			return errSendSent
		}
		if _, ok := cause.(*communication.DispatchError); ok {
			return err
		}
		return errors.Wrap(err, "sending communication")
	}
	return ctx.JSON(http.StatusOK, SendResponse{Message: res.Message, Sent: res.Sent, Errors: res.Errors})
}

type (
	CommunicationResource struct {
		ID             string                    `json:"id"`
		CourseID       string                    `json:"course_id"`
		Title          string                    `json:"title"`
		Message        string                    `json:"message"`
		SendDate       core.Date                 `json:"send_date"`
		Status         communication.Status      `json:"status"`
		StatusLabel    string                    `json:"status_label"`
		CreatedAt      string                    `json:"created_at"`
		UpdatedAt      string                    `json:"updated_at"`
		Course         *communication.Course     `json:"course,omitempty"`
		Guardians      *[]communication.Guardian `json:"guardians,omitempty"`
		GuardiansCount *int                      `json:"guardians_count,omitempty"`
	}

	CommunicationCollection struct {
		Data []CommunicationResource `json:"data"`
		Meta core.PageMeta           `json:"meta"`
	}

	SendResponse struct {
		Message string                        `json:"message"`
		Sent    int                           `json:"sent"`
		Errors  []communication.DeliveryError `json:"errors"`
	}
)

const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func NewCommunicationResource(comm communication.Communication) CommunicationResource {
	res := CommunicationResource{
		ID:             comm.ID,
		CourseID:       comm.CourseID,
		Title:          comm.Title,
		Message:        comm.Message,
		SendDate:       comm.SendDate,
		Status:         comm.Status,
		StatusLabel:    comm.Status.Label(),
		CreatedAt:      comm.CreatedAt.UTC().Format(timestampLayout),
		UpdatedAt:      comm.UpdatedAt.UTC().Format(timestampLayout),
		Course:         comm.Course,
		GuardiansCount: comm.GuardiansCount,
	}
	if comm.Guardians != nil { // loaded
		res.Guardians = &comm.Guardians
	}
	return res
}
