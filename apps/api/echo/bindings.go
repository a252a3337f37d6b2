package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eschool-app/eschool/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
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

func bindOrdering(ctx echo.Context) []core.DBOrdering {
	ord := new(Ordering)
	ord.Bind(ctx)
	return ord.Orderings
}

// bindQuery binds the query string of a list request into filter.
func bindQuery(ctx echo.Context, filter interface{}) error {
	if err := ctx.Bind(filter); err != nil {
		return core.NewValidationError(err)
	}
	return nil
}

// bindBody binds the JSON body; malformed bodies are client errors.
func bindBody(ctx echo.Context, data interface{}) error {
	if err := ctx.Bind(data); err != nil {
		if herr, ok := err.(*echo.HTTPError); ok && herr.Code != http.StatusInternalServerError {
			return herr
		}
		return core.NewValidationError(err)
	}
	return nil
}

// list writes items as JSON, never as null.
func list[T any](ctx echo.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	return ctx.JSON(http.StatusOK, items)
}

type SuccessResponse struct {
	Success string `json:"success"`
}

type CountResponse struct {
	Count int `json:"count"`
}
