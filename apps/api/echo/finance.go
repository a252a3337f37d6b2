package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/finance"
	"github.com/eschool-app/eschool/core/rbac"
)

type financeApi struct {
	svc      *finance.Service
	validate *validator.Validate
}

func registerFinanceAPI(g *echo.Group, authed echo.MiddlewareFunc, api *financeApi) {
	fin := guard(rbac.FinanceAccess)

	ig := g.Group("/invoices", authed)
	ig.GET("", api.queryInvoices)
	ig.POST("", api.createInvoice, fin)
	ig.POST("/mark-overdue", api.markOverdue, fin)
	ig.GET("/:id", api.retrieveInvoice)
	ig.POST("/:id/send", api.sendInvoice, fin)
	ig.POST("/:id/cancel", api.cancelInvoice, fin)

	pg := g.Group("/payments", authed)
	pg.GET("", api.queryPayments)
	pg.POST("", api.recordPayment, fin)
	pg.GET("/:id", api.retrievePayment)
	pg.POST("/:id/complete", api.completePayment, fin)
	pg.POST("/:id/refund", api.refundPayment, fin)

	eg := g.Group("/expenses", authed, fin)
	eg.GET("", api.queryExpenses)
	eg.POST("", api.createExpense)
	eg.GET("/:id", api.retrieveExpense)
	eg.POST("/:id/approve", api.approveExpense)

	g.GET("/finance/daily-report", api.dailyReport, authed, fin)
	g.POST("/finance/daily-report/send", api.sendDailyReport, authed, fin)
}

// Invoices

func (api *financeApi) createInvoice(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data finance.NewInvoice
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	inv, err := api.svc.CreateInvoice(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "creating invoice")
	}
	return ctx.JSON(http.StatusCreated, inv)
}

func (api *financeApi) queryInvoices(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter finance.InvoiceFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	invoices, err := api.svc.QueryInvoices(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying invoices")
	}
	return list(ctx, invoices)
}

func (api *financeApi) retrieveInvoice(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	inv, err := api.svc.GetInvoice(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, inv)
}

func (api *financeApi) sendInvoice(ctx echo.Context) error {
	inv, err := api.svc.Send(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, inv)
}

func (api *financeApi) cancelInvoice(ctx echo.Context) error {
	inv, err := api.svc.Cancel(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, inv)
}

func (api *financeApi) markOverdue(ctx echo.Context) error {
	var data DateRequest
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	n, err := api.svc.MarkOverdue(ctx.Request().Context(), data.Date)
	if err != nil {
		return errors.Wrap(err, "marking overdue invoices")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

// Payments

func (api *financeApi) recordPayment(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data finance.NewPayment
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	pmt, err := api.svc.RecordPayment(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}
	return ctx.JSON(http.StatusCreated, pmt)
}

func (api *financeApi) queryPayments(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter finance.PaymentFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	payments, err := api.svc.QueryPayments(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}
	return list(ctx, payments)
}

func (api *financeApi) retrievePayment(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	pmt, err := api.svc.GetPayment(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, pmt)
}

func (api *financeApi) completePayment(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	pmt, err := api.svc.CompletePayment(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, pmt)
}

func (api *financeApi) refundPayment(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	pmt, err := api.svc.RefundPayment(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, pmt)
}

// Expenses

func (api *financeApi) createExpense(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data finance.NewExpense
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	e, err := api.svc.CreateExpense(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "creating expense")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *financeApi) queryExpenses(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter finance.ExpenseFilter
	if err = bindQuery(ctx, &filter); err != nil {
		return err
	}
	expenses, err := api.svc.QueryExpenses(ctx.Request().Context(), p, filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying expenses")
	}
	return list(ctx, expenses)
}

func (api *financeApi) retrieveExpense(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	e, err := api.svc.GetExpense(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *financeApi) approveExpense(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	e, err := api.svc.Approve(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, e)
}

// Reports

func (api *financeApi) dailyReport(ctx echo.Context) error {
	var date core.Date
	if d := ctx.QueryParam("date"); d != "" {
		if err := date.UnmarshalParam(d); err != nil {
			return core.NewFieldError("date", err.Error())
		}
	}
	report, err := api.svc.DailyReport(ctx.Request().Context(), date)
	if err != nil {
		return errors.Wrap(err, "compiling daily report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *financeApi) sendDailyReport(ctx echo.Context) error {
	var data DateRequest
	if err := bindBody(ctx, &data); err != nil {
		return err
	}
	report, err := api.svc.SendDailyReport(ctx.Request().Context(), data.Date)
	if err != nil {
		if errors.Cause(err) == finance.ErrNoReportRecipients {
			return core.NewValidationError(err)
		}
		return errors.Wrap(err, "sending daily report")
	}
	return ctx.JSON(http.StatusOK, report)
}

type DateRequest struct {
	Date core.Date `json:"date"`
}
