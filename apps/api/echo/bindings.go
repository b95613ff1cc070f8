package echoapi

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
)

var orderingParam = "ordering"

// Ordering is bound from `?ordering=field,-other_field`; a leading "-" means descending.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// ListQuery holds the query params of a communications listing.
type ListQuery struct {
	Filter     communication.QueryFilter
	Load       communication.LoadOptions
	Pagination core.Pagination
	Ordering   Ordering `query:"-"`
}

// Bind binds and validates the query params.
func (q *ListQuery) Bind(ctx echo.Context, validate *validator.Validate) error {
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, q); err != nil {
		return errors.Wrap(err, "binding to ListQuery")
	}
	if err := q.Filter.Validate(validate); err != nil {
		return err
	}
	if err := validate.Struct(q.Pagination); err != nil {
		return err
	}
	q.Ordering.Bind(ctx)
	return communication.CheckOrdering(q.Ordering.Orderings)
}
