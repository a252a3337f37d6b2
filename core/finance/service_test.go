package finance_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/activity"
	"github.com/eschool-app/eschool/core/communication"
	"github.com/eschool-app/eschool/core/finance"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/user"
	"github.com/eschool-app/eschool/tests"
)

var admin = rbac.Principal{UserID: "admin", Role: user.RoleAdmin}

func isValidationErr(err error) bool {
	_, ok := errors.Cause(err).(*core.ValidationError)
	return ok
}

func newInvoice(studentID string, issue, due core.Date, total finance.Amount) finance.NewInvoice {
	return finance.NewInvoice{
		StudentID: studentID,
		IssueDate: issue,
		DueDate:   due,
		Items:     []finance.NewItem{{Description: "Tuition", Quantity: 1, UnitPrice: total}},
	}
}

func createSent(t *testing.T, env *testutil.Env, ni finance.NewInvoice) finance.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := env.Finance.CreateInvoice(ctx, admin, ni)
	require.NoError(t, err)
	inv, err = env.Finance.Send(ctx, inv.ID)
	require.NoError(t, err)
	return inv
}

func pay(t *testing.T, env *testutil.Env, np finance.NewPayment) finance.Payment {
	t.Helper()
	if np.Status == "" {
		np.Status = finance.PaymentCompleted
	}
	pmt, err := env.Finance.RecordPayment(context.Background(), admin, np)
	require.NoError(t, err)
	return pmt
}

func TestService_CreateInvoice(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()
	student := env.CreateStudent(t, "Ama", "Mensah")
	base := fmt.Sprintf("INV%04d%02d", today.Year(), int(today.Month()))

	inv, err := env.Finance.CreateInvoice(ctx, admin, finance.NewInvoice{
		StudentID: student.ID,
		DueDate:   today.AddDays(30),
		Items: []finance.NewItem{
			{Description: "Tuition", Quantity: 2, UnitPrice: 5000},
			{Description: "Uniform", Quantity: 1, UnitPrice: 2000},
		},
		Discount: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, base+"0001", inv.Number)
	assert.Equal(t, finance.InvoiceDraft, inv.Status)
	assert.True(t, inv.IssueDate.Equal(today))
	assert.Equal(t, finance.Amount(12000), inv.Subtotal)
	assert.Equal(t, finance.Amount(10000), inv.Total())
	assert.Len(t, inv.Items, 2)

	second, err := env.Finance.CreateInvoice(ctx, admin, newInvoice(student.ID, today, today.AddDays(30), 500))
	require.NoError(t, err)
	assert.Equal(t, base+"0002", second.Number)

	t.Run("discount above subtotal", func(t *testing.T) {
		ni := newInvoice(student.ID, today, today.AddDays(30), 500)
		ni.Discount = 501
		_, err := env.Finance.CreateInvoice(ctx, admin, ni)
		assert.True(t, isValidationErr(err))
	})

	t.Run("unknown student", func(t *testing.T) {
		_, err := env.Finance.CreateInvoice(ctx, admin, newInvoice("00000000-0000-0000-0000-000000000000", today, today, 500))
		assert.True(t, isValidationErr(err))
	})

	t.Run("only drafts are sent", func(t *testing.T) {
		sent, err := env.Finance.Send(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, finance.InvoiceSent, sent.Status)

		_, err = env.Finance.Send(ctx, inv.ID)
		assert.True(t, isValidationErr(err))
	})

	logs, err := env.Recorder.Query(ctx, admin, activity.Filter{ActionType: activity.InvoiceCreate}, nil)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestService_payments(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()

	parent := env.CreateParent(t, "Kofi", "Mensah")
	student := env.CreateStudent(t, "Ama", "Mensah", parent.ID)

	draft, err := env.Finance.CreateInvoice(ctx, admin, newInvoice(student.ID, today, today.AddDays(30), 10000))
	require.NoError(t, err)

	_, err = env.Finance.RecordPayment(ctx, admin, finance.NewPayment{InvoiceID: draft.ID, Amount: 1000, Method: finance.MethodCash, Status: finance.PaymentCompleted})
	assert.True(t, isValidationErr(err), "draft invoices are not payable")

	inv, err := env.Finance.Send(ctx, draft.ID)
	require.NoError(t, err)

	parentP := env.Principal(t, env.UserOf(t, parent.UserID))
	notifications, err := env.Communication.QueryNotifications(ctx, parentP, communication.NotificationFilter{Type: communication.NotificationPayment}, nil)
	require.NoError(t, err)
	assert.Len(t, notifications, 1)

	_, err = env.Finance.RecordPayment(ctx, admin, finance.NewPayment{InvoiceID: inv.ID, Amount: 10001, Method: finance.MethodCash, Status: finance.PaymentCompleted})
	assert.True(t, isValidationErr(err), "overpayment")

	first := pay(t, env, finance.NewPayment{InvoiceID: inv.ID, Amount: 4000, Method: finance.MethodCash})
	assert.Equal(t, fmt.Sprintf("PAY%04d%02d0001", today.Year(), int(today.Month())), first.Reference)
	assert.True(t, first.PaymentDate.Equal(today))

	inv, err = env.Finance.GetInvoice(ctx, admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.InvoicePartial, inv.Status)
	assert.Equal(t, finance.Amount(6000), inv.Balance())

	last := pay(t, env, finance.NewPayment{InvoiceID: inv.ID, Amount: 6000, Method: finance.MethodMobile})
	inv, err = env.Finance.GetInvoice(ctx, admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.InvoicePaid, inv.Status)
	assert.True(t, inv.IsPaid())

	t.Run("refund reopens the invoice", func(t *testing.T) {
		pmt, err := env.Finance.RefundPayment(ctx, admin, last.ID)
		require.NoError(t, err)
		assert.Equal(t, finance.PaymentRefunded, pmt.Status)

		inv, err := env.Finance.GetInvoice(ctx, admin, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, finance.InvoicePartial, inv.Status)
		assert.Equal(t, finance.Amount(4000), inv.Paid)

		_, err = env.Finance.RefundPayment(ctx, admin, last.ID)
		assert.True(t, isValidationErr(err))
	})

	t.Run("pending payments are completed later", func(t *testing.T) {
		pending := pay(t, env, finance.NewPayment{InvoiceID: inv.ID, Amount: 1000, Method: finance.MethodTransfer, Status: finance.PaymentPending})
		inv, err := env.Finance.GetInvoice(ctx, admin, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, finance.Amount(4000), inv.Paid)

		pmt, err := env.Finance.CompletePayment(ctx, admin, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, finance.PaymentCompleted, pmt.Status)

		inv, err = env.Finance.GetInvoice(ctx, admin, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, finance.Amount(5000), inv.Paid)
	})

	t.Run("invoices with payments cannot be cancelled", func(t *testing.T) {
		_, err := env.Finance.Cancel(ctx, inv.ID)
		assert.True(t, isValidationErr(err))
	})

	t.Run("visibility", func(t *testing.T) {
		_, err := env.Finance.GetInvoice(ctx, parentP, inv.ID)
		assert.NoError(t, err)

		other := env.CreateStudent(t, "Yaw", "Boateng")
		_, err = env.Finance.GetInvoice(ctx, env.Principal(t, env.UserOf(t, other.UserID)), inv.ID)
		assert.Equal(t, finance.ErrInvoiceNotFound, err)

		teacher := env.CreateTeacher(t, "Ada", "Lovelace")
		invoices, err := env.Finance.QueryInvoices(ctx, env.Principal(t, env.UserOf(t, teacher.UserID)), finance.InvoiceFilter{}, nil)
		require.NoError(t, err)
		assert.Empty(t, invoices)

		finUser := env.CreateUser(t, user.RoleFinance, "Fin", "Ance")
		invoices, err = env.Finance.QueryInvoices(ctx, env.Principal(t, finUser), finance.InvoiceFilter{}, nil)
		require.NoError(t, err)
		assert.Len(t, invoices, 1)
	})

	logs, err := env.Recorder.Query(ctx, admin, activity.Filter{ActionType: activity.PaymentRecord}, nil)
	require.NoError(t, err)
	assert.Len(t, logs, 5)
}

func TestService_MarkOverdue(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()
	student := env.CreateStudent(t, "Ama", "Mensah")

	late := createSent(t, env, newInvoice(student.ID, today, today.AddDays(5), 1000))
	partial := createSent(t, env, newInvoice(student.ID, today, today.AddDays(5), 1000))
	pay(t, env, finance.NewPayment{InvoiceID: partial.ID, Amount: 500, Method: finance.MethodCash})
	onTime := createSent(t, env, newInvoice(student.ID, today, today.AddDays(20), 1000))
	draft, err := env.Finance.CreateInvoice(ctx, admin, newInvoice(student.ID, today, today.AddDays(5), 1000))
	require.NoError(t, err)

	n, err := env.Finance.MarkOverdue(ctx, today.AddDays(10))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]string{
		late.ID:    finance.InvoiceOverdue,
		partial.ID: finance.InvoiceOverdue,
		onTime.ID:  finance.InvoiceSent,
		draft.ID:   finance.InvoiceDraft,
	} {
		inv, err := env.Finance.GetInvoice(ctx, admin, id)
		require.NoError(t, err)
		assert.Equal(t, want, inv.Status, inv.Number)
	}

	n, err = env.Finance.MarkOverdue(ctx, today.AddDays(10))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestService_invoiceStatus(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()
	student := env.CreateStudent(t, "Ama", "Mensah")

	t.Run("fully discounted invoices are paid once sent", func(t *testing.T) {
		ni := newInvoice(student.ID, today, today.AddDays(10), 5000)
		ni.Discount = 5000
		inv := createSent(t, env, ni)
		assert.Equal(t, finance.InvoicePaid, inv.Status)
	})

	t.Run("refund on a past-due invoice", func(t *testing.T) {
		inv := createSent(t, env, newInvoice(student.ID, today.AddDays(-30), today.AddDays(-5), 2000))
		assert.Equal(t, finance.InvoiceOverdue, inv.Status)
		pmt := pay(t, env, finance.NewPayment{InvoiceID: inv.ID, Amount: 2000, Method: finance.MethodCash})

		inv, err := env.Finance.GetInvoice(ctx, admin, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, finance.InvoicePaid, inv.Status)

		_, err = env.Finance.RefundPayment(ctx, admin, pmt.ID)
		require.NoError(t, err)
		inv, err = env.Finance.GetInvoice(ctx, admin, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, finance.InvoiceSent, inv.Status)

		n, err := env.Finance.MarkOverdue(ctx, today)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		inv, err = env.Finance.GetInvoice(ctx, admin, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, finance.InvoiceOverdue, inv.Status)
	})
}

func TestService_Approve(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	finUser := env.CreateUser(t, user.RoleFinance, "Fin", "Ance")
	fin := env.Principal(t, finUser)
	e, err := env.Finance.CreateExpense(ctx, fin, finance.NewExpense{Category: finance.ExpenseSupplies, Description: "Chalk", Amount: 2500})
	require.NoError(t, err)
	assert.False(t, e.IsApproved)
	assert.True(t, e.ExpenseDate.Equal(testutil.Today()))

	teacher := env.CreateTeacher(t, "Ada", "Lovelace")
	_, err = env.Finance.Approve(ctx, env.Principal(t, env.UserOf(t, teacher.UserID)), e.ID)
	assert.Equal(t, core.ErrForbidden, err)

	e, err = env.Finance.Approve(ctx, fin, e.ID)
	require.NoError(t, err)
	assert.True(t, e.IsApproved)
	assert.Equal(t, finUser.ID, e.ApprovedBy.String)
	assert.True(t, e.ApprovalDate.Valid)

	_, err = env.Finance.Approve(ctx, fin, e.ID)
	assert.True(t, isValidationErr(err))
}

func TestService_DailyReport(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()
	student := env.CreateStudent(t, "Ama", "Mensah")

	current := createSent(t, env, newInvoice(student.ID, today, today.AddDays(10), 10000))
	pay(t, env, finance.NewPayment{InvoiceID: current.ID, Amount: 3000, Method: finance.MethodCash})

	old := createSent(t, env, newInvoice(student.ID, today.AddDays(-40), today.AddDays(-10), 5000))
	assert.Equal(t, finance.InvoiceOverdue, old.Status)
	pay(t, env, finance.NewPayment{InvoiceID: old.ID, Amount: 1000, Method: finance.MethodMobile, PaymentDate: today.AddDays(-1)})

	_, err := env.Finance.CreateInvoice(ctx, admin, newInvoice(student.ID, today, today.AddDays(10), 7000))
	require.NoError(t, err)
	e, err := env.Finance.CreateExpense(ctx, admin, finance.NewExpense{Category: finance.ExpenseUtilities, Description: "Electricity", Amount: 1500})
	require.NoError(t, err)
	_, err = env.Finance.Approve(ctx, admin, e.ID)
	require.NoError(t, err)
	_, err = env.Finance.CreateExpense(ctx, admin, finance.NewExpense{Category: finance.ExpenseFood, Description: "Not approved", Amount: 900})
	require.NoError(t, err)

	report, err := env.Finance.DailyReport(ctx, today)
	require.NoError(t, err)

	assert.Equal(t, "XOF", report.Currency)
	assert.Equal(t, 1, report.Payments.Count)
	assert.Equal(t, finance.Amount(3000), report.Payments.Total)
	assert.Equal(t, []finance.MethodFigure{{Method: finance.MethodCash, Count: 1, Total: 3000}}, report.Payments.ByMethod)
	assert.Equal(t, finance.Comparison{Previous: 1000, Difference: 2000, Percent: 200}, report.Comparison)
	assert.Equal(t, finance.Figure{Count: 1, Total: 10000}, report.InvoicesIssued)
	assert.Equal(t, finance.Figure{Count: 1, Total: 7000}, report.Pending)
	assert.Equal(t, finance.Figure{Count: 1, Total: 4000}, report.Overdue)
	assert.Equal(t, 2, report.PartialCount)
	assert.Equal(t, finance.Figure{Count: 1, Total: 1500}, report.Expenses)
	assert.Equal(t, finance.Amount(1500), report.NetBalance)

	t.Run("no payments the day before", func(t *testing.T) {
		report, err := env.Finance.DailyReport(ctx, today.AddDays(-1))
		require.NoError(t, err)
		assert.Equal(t, finance.Comparison{Previous: 0, Difference: 1000, Percent: 0}, report.Comparison)
	})

	t.Run("emailed to the finance team", func(t *testing.T) {
		env.Mail.Reset()
		sent, err := env.Finance.SendDailyReport(ctx, today)
		require.NoError(t, err)
		assert.Equal(t, report, sent)

		messages := env.Mail.Messages()
		require.Len(t, messages, 1)
		assert.Equal(t, "daily_financial_report", messages[0].TemplateName)
		assert.Equal(t, "finance@test.eschool", messages[0].To[0].Address)
		assert.Contains(t, messages[0].Subject, today.String())
		assert.NotEmpty(t, messages[0].TextContent)
	})
}
