package finance

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/activity"
	"github.com/eschool-app/eschool/core/communication"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/school"
	"github.com/eschool-app/eschool/core/user"
)

var (
	// errors
	ErrInvoiceNotFound     = core.NewNotFoundError("invoice")
	ErrPaymentNotFound     = core.NewNotFoundError("payment")
	ErrExpenseNotFound     = core.NewNotFoundError("expense")
	ErrInvoiceOverpaid     = errors.New("the amount exceeds the invoice balance")
	ErrInvoiceNotPayable   = errors.New("payments cannot be recorded on draft or cancelled invoices")
	ErrInvoiceNotDraft     = errors.New("only draft invoices can be sent")
	ErrInvoiceHasPayments  = errors.New("an invoice with completed payments cannot be cancelled")
	ErrDiscountTooHigh     = errors.New("the discount cannot exceed the subtotal")
	ErrPaymentTransition   = errors.New("invalid payment status transition")
	ErrExpenseApproved     = errors.New("the expense is already approved")
	ErrNoReportRecipients  = errors.New("no financial report recipients are configured")
	errUnexpectedSeqFormat = errors.New("unexpected sequence format")

	nowFunc = time.Now // mockable
)

const (
	invoicePrefix = "INV"
	paymentPrefix = "PAY"
)

var admin = rbac.Principal{Role: user.RoleAdmin}

type (
	Repository interface {
		CreateInvoice(ctx context.Context, inv Invoice, exec ...core.DBExecutor) (Invoice, error)
		UpdateInvoice(ctx context.Context, inv Invoice, exec ...core.DBExecutor) (Invoice, error)
		// QueryInvoices returns the invoices with their items and paid amount.
		QueryInvoices(ctx context.Context, filter InvoiceFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Invoice, error)
		// LastNumber returns the highest invoice number or payment reference starting with prefix, or "".
		LastNumber(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error)
		// MarkOverdue flags the SENT and PARTIAL invoices due before today as OVERDUE.
		MarkOverdue(ctx context.Context, today core.Date) (int, error)

		CreatePayment(ctx context.Context, p Payment, exec ...core.DBExecutor) (Payment, error)
		UpdatePayment(ctx context.Context, p Payment, exec ...core.DBExecutor) (Payment, error)
		QueryPayments(ctx context.Context, filter PaymentFilter, ordering []core.DBOrdering) ([]Payment, error)

		CreateExpense(ctx context.Context, e Expense) (Expense, error)
		UpdateExpense(ctx context.Context, e Expense) (Expense, error)
		QueryExpenses(ctx context.Context, filter ExpenseFilter, ordering []core.DBOrdering) ([]Expense, error)

		PaymentFigures(ctx context.Context, date core.Date) ([]MethodFigure, error)
		InvoiceFigures(ctx context.Context, date core.Date) (InvoiceFigures, error)
		ExpenseFigure(ctx context.Context, date core.Date) (Figure, error)
	}

	Service struct {
		tx         core.Transactor
		repo       Repository
		schoolSvc  *school.Service
		commSvc    *communication.Service
		mailSvc    core.EmailService
		recorder   *activity.Recorder
		logger     core.Logger
		loc        *time.Location
		currency   string
		recipients []string
	}
)

func NewService(
	tx core.Transactor,
	repo Repository,
	schoolSvc *school.Service,
	commSvc *communication.Service,
	mailSvc core.EmailService,
	recorder *activity.Recorder,
	logger core.Logger,
	conf *core.Config,
) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(tx, "tx"),
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(schoolSvc, "schoolSvc"),
		vala.IsNotNil(commSvc, "commSvc"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(recorder, "recorder"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	return &Service{
		tx:         tx,
		repo:       repo,
		schoolSvc:  schoolSvc,
		commSvc:    commSvc,
		mailSvc:    mailSvc,
		recorder:   recorder,
		logger:     logger,
		loc:        conf.Location(),
		currency:   conf.School.Currency,
		recipients: conf.School.FinanceReportRecipients,
	}
}

func (svc *Service) today() core.Date {
	return core.DateOf(nowFunc().In(svc.loc))
}

// nextNumber returns prefix+yyyymm followed by the 4-digit successor of the last number of that month.
func (svc *Service) nextNumber(ctx context.Context, prefix string, date core.Date, exec core.DBExecutor) (string, error) {
	base := fmt.Sprintf("%s%04d%02d", prefix, date.Year(), int(date.Month()))
	last, err := svc.repo.LastNumber(ctx, base, exec)
	if err != nil {
		return "", errors.Wrap(err, "finding last number")
	}
	seq := 0
	if strings.HasPrefix(last, base) {
		if seq, err = strconv.Atoi(last[len(base):]); err != nil {
			return "", errors.Wrap(errUnexpectedSeqFormat, last)
		}
	}
	return fmt.Sprintf("%s%04d", base, seq+1), nil
}

// Invoices

func (svc *Service) CreateInvoice(ctx context.Context, p rbac.Principal, ni NewInvoice) (Invoice, error) {
	if _, err := svc.schoolSvc.GetStudent(ctx, admin, ni.StudentID); err != nil {
		if core.IsNotFound(err) {
			return Invoice{}, core.NewFieldError("student_id", err.Error())
		}
		return Invoice{}, err
	}

	inv := Invoice{
		StudentID: ni.StudentID,
		IssueDate: ni.IssueDate,
		DueDate:   ni.DueDate,
		Discount:  ni.Discount,
		Status:    InvoiceDraft,
		Notes:     ni.Notes,
		CreatedBy: null.NewString(p.UserID, p.UserID != ""),
		CreatedAt: nowFunc().UTC(),
		Items:     make([]InvoiceItem, 0, len(ni.Items)),
	}
	inv.UpdatedAt = inv.CreatedAt
	if inv.IssueDate.IsZero() {
		inv.IssueDate = svc.today()
	}
	for _, it := range ni.Items {
		item := InvoiceItem{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
		inv.Items = append(inv.Items, item)
		inv.Subtotal += item.Total()
	}
	if inv.Discount > inv.Subtotal {
		return Invoice{}, core.NewFieldError("discount", ErrDiscountTooHigh.Error())
	}

	var created Invoice
	err := svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if inv.Number, err = svc.nextNumber(ctx, invoicePrefix, inv.IssueDate, exec); err != nil {
			return err
		}
		created, err = svc.repo.CreateInvoice(ctx, inv, exec)
		return errors.Wrap(err, "creating invoice")
	})
	if err != nil {
		return Invoice{}, err
	}

	svc.recorder.Record(ctx, p.UserID, activity.Entry{
		ActionType:  activity.InvoiceCreate,
		Description: fmt.Sprintf("invoice %s created for %d", created.Number, created.Total()),
		ContentType: "invoice",
		ObjectID:    created.ID,
		ObjectRepr:  created.Number,
	})
	return created, nil
}

func (svc *Service) QueryInvoices(ctx context.Context, p rbac.Principal, filter InvoiceFilter, ordering []core.DBOrdering) ([]Invoice, error) {
	filter.Scope = p.Scope(rbac.Invoices)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QueryInvoices(ctx, filter, ordering)
}

func (svc *Service) GetInvoice(ctx context.Context, p rbac.Principal, id string) (Invoice, error) {
	invoices, err := svc.QueryInvoices(ctx, p, InvoiceFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Invoice{}, errors.Wrap(err, "querying invoices")
	}
	if len(invoices) == 0 {
		return Invoice{}, ErrInvoiceNotFound
	}
	return invoices[0], nil
}

// Send issues a DRAFT invoice.
func (svc *Service) Send(ctx context.Context, id string) (Invoice, error) {
	inv, err := svc.GetInvoice(ctx, admin, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != InvoiceDraft {
		return Invoice{}, core.NewFieldError("status", ErrInvoiceNotDraft.Error())
	}
	inv.Status = InvoiceSent
	inv.Status = inv.derivedStatus()
	if inv.Status == InvoiceSent && inv.DueDate.Before(svc.today()) {
		inv.Status = InvoiceOverdue
	}
	inv.UpdatedAt = nowFunc().UTC()
	if inv, err = svc.repo.UpdateInvoice(ctx, inv); err != nil {
		return Invoice{}, errors.Wrap(err, "updating invoice")
	}
	svc.notifyParents(ctx, inv.StudentID, "New invoice "+inv.Number,
		fmt.Sprintf("Invoice %s of %d %s is due on %s.", inv.Number, inv.Total(), svc.currency, inv.DueDate),
		"/invoices/"+inv.ID)
	return inv, nil
}

func (svc *Service) Cancel(ctx context.Context, id string) (Invoice, error) {
	inv, err := svc.GetInvoice(ctx, admin, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status == InvoiceCancelled {
		return inv, nil
	}
	if inv.Paid > 0 {
		return Invoice{}, core.NewFieldError("status", ErrInvoiceHasPayments.Error())
	}
	inv.Status = InvoiceCancelled
	inv.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateInvoice(ctx, inv)
}

// MarkOverdue flags the unpaid invoices past their due date as OVERDUE.
func (svc *Service) MarkOverdue(ctx context.Context, today core.Date) (int, error) {
	if today.IsZero() {
		today = svc.today()
	}
	return svc.repo.MarkOverdue(ctx, today)
}

// refreshInvoice re-derives the status of an invoice from its completed payments.
func (svc *Service) refreshInvoice(ctx context.Context, invoiceID string, exec core.DBExecutor) (Invoice, error) {
	invoices, err := svc.repo.QueryInvoices(ctx, InvoiceFilter{IDs: []string{invoiceID}, Scope: rbac.All()}, nil, exec)
	if err != nil {
		return Invoice{}, errors.Wrap(err, "querying invoices")
	}
	if len(invoices) == 0 {
		return Invoice{}, ErrInvoiceNotFound
	}
	inv := invoices[0]
	if status := inv.derivedStatus(); status != inv.Status {
		inv.Status = status
		inv.UpdatedAt = nowFunc().UTC()
		return svc.repo.UpdateInvoice(ctx, inv, exec)
	}
	return inv, nil
}

// Payments

// RecordPayment records a payment on an issued invoice. A COMPLETED payment updates the invoice status.
func (svc *Service) RecordPayment(ctx context.Context, p rbac.Principal, np NewPayment) (Payment, error) {
	inv, err := svc.GetInvoice(ctx, admin, np.InvoiceID)
	if err != nil {
		if core.IsNotFound(err) {
			return Payment{}, core.NewFieldError("invoice_id", err.Error())
		}
		return Payment{}, err
	}
	if inv.Status == InvoiceDraft || inv.Status == InvoiceCancelled {
		return Payment{}, core.NewFieldError("invoice_id", ErrInvoiceNotPayable.Error())
	}
	if np.Amount > inv.Balance() {
		return Payment{}, core.NewFieldError("amount", ErrInvoiceOverpaid.Error())
	}
	if np.PaymentDate.IsZero() {
		np.PaymentDate = svc.today()
	}

	pmt := Payment{
		InvoiceID:     np.InvoiceID,
		Amount:        np.Amount,
		Method:        np.Method,
		TransactionID: np.TransactionID,
		PaymentDate:   np.PaymentDate,
		Status:        np.Status,
		Notes:         np.Notes,
		RecordedBy:    null.NewString(p.UserID, p.UserID != ""),
		CreatedAt:     nowFunc().UTC(),
	}
	err = svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		if pmt.Reference, err = svc.nextNumber(ctx, paymentPrefix, pmt.PaymentDate, exec); err != nil {
			return err
		}
		if pmt, err = svc.repo.CreatePayment(ctx, pmt, exec); err != nil {
			return errors.Wrap(err, "creating payment")
		}
		if pmt.Status == PaymentCompleted {
			_, err = svc.refreshInvoice(ctx, pmt.InvoiceID, exec)
		}
		return err
	})
	if err != nil {
		return Payment{}, err
	}

	svc.recorder.Record(ctx, p.UserID, activity.Entry{
		ActionType:  activity.PaymentRecord,
		Description: fmt.Sprintf("payment %s of %d on invoice %s", pmt.Reference, pmt.Amount, inv.Number),
		ContentType: "payment",
		ObjectID:    pmt.ID,
		ObjectRepr:  pmt.Reference,
		NewValues:   map[string]interface{}{"amount": pmt.Amount, "method": pmt.Method, "status": pmt.Status},
	})
	if pmt.Status == PaymentCompleted {
		svc.notifyPayment(ctx, inv, pmt)
	}
	return pmt, nil
}

func (svc *Service) QueryPayments(ctx context.Context, p rbac.Principal, filter PaymentFilter, ordering []core.DBOrdering) ([]Payment, error) {
	filter.Scope = p.Scope(rbac.Payments)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QueryPayments(ctx, filter, ordering)
}

func (svc *Service) GetPayment(ctx context.Context, p rbac.Principal, id string) (Payment, error) {
	payments, err := svc.QueryPayments(ctx, p, PaymentFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Payment{}, errors.Wrap(err, "querying payments")
	}
	if len(payments) == 0 {
		return Payment{}, ErrPaymentNotFound
	}
	return payments[0], nil
}

// CompletePayment completes a PENDING or PROCESSING payment.
func (svc *Service) CompletePayment(ctx context.Context, p rbac.Principal, id string) (Payment, error) {
	pmt, err := svc.GetPayment(ctx, admin, id)
	if err != nil {
		return Payment{}, err
	}
	if pmt.Status != PaymentPending && pmt.Status != PaymentProcessing {
		return Payment{}, core.NewFieldError("status", ErrPaymentTransition.Error())
	}
	inv, err := svc.GetInvoice(ctx, admin, pmt.InvoiceID)
	if err != nil {
		return Payment{}, err
	}
	if inv.Status == InvoiceCancelled {
		return Payment{}, core.NewFieldError("invoice_id", ErrInvoiceNotPayable.Error())
	}
	if pmt.Amount > inv.Balance() {
		return Payment{}, core.NewFieldError("amount", ErrInvoiceOverpaid.Error())
	}
	pmt, err = svc.setPaymentStatus(ctx, p, pmt, PaymentCompleted)
	if err != nil {
		return Payment{}, err
	}
	svc.notifyPayment(ctx, inv, pmt)
	return pmt, nil
}

// RefundPayment refunds a COMPLETED payment.
func (svc *Service) RefundPayment(ctx context.Context, p rbac.Principal, id string) (Payment, error) {
	pmt, err := svc.GetPayment(ctx, admin, id)
	if err != nil {
		return Payment{}, err
	}
	if pmt.Status != PaymentCompleted {
		return Payment{}, core.NewFieldError("status", ErrPaymentTransition.Error())
	}
	return svc.setPaymentStatus(ctx, p, pmt, PaymentRefunded)
}

func (svc *Service) setPaymentStatus(ctx context.Context, p rbac.Principal, pmt Payment, status string) (Payment, error) {
	old := pmt.Status
	pmt.Status = status
	err := svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if pmt, err = svc.repo.UpdatePayment(ctx, pmt, exec); err != nil {
			return errors.Wrap(err, "updating payment")
		}
		_, err = svc.refreshInvoice(ctx, pmt.InvoiceID, exec)
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	svc.recorder.Record(ctx, p.UserID, activity.Entry{
		ActionType:  activity.PaymentRecord,
		Description: fmt.Sprintf("payment %s %s", pmt.Reference, strings.ToLower(status)),
		ContentType: "payment",
		ObjectID:    pmt.ID,
		ObjectRepr:  pmt.Reference,
		OldValues:   map[string]string{"status": old},
		NewValues:   map[string]string{"status": status},
	})
	return pmt, nil
}

func (svc *Service) notifyPayment(ctx context.Context, inv Invoice, pmt Payment) {
	svc.notifyParents(ctx, inv.StudentID, "Payment received",
		fmt.Sprintf("Payment %s of %d %s received for invoice %s.", pmt.Reference, pmt.Amount, svc.currency, inv.Number),
		"/invoices/"+inv.ID)
}

// notifyParents sends a PAYMENT notification to the parents of a student. Failures are logged only.
func (svc *Service) notifyParents(ctx context.Context, studentID, title, message, link string) {
	parents, err := svc.schoolSvc.ParentsOf(ctx, studentID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("finance.notifyParents: %v", err), err)
		return
	}
	for _, parent := range parents {
		if _, err := svc.commSvc.Notify(ctx, parent.UserID, communication.NotificationPayment, title, message, link); err != nil {
			svc.logger.Error(fmt.Sprintf("finance.notifyParents: %v", err), err)
		}
	}
}

// Expenses

func (svc *Service) CreateExpense(ctx context.Context, p rbac.Principal, ne NewExpense) (Expense, error) {
	if ne.ExpenseDate.IsZero() {
		ne.ExpenseDate = svc.today()
	}
	return svc.repo.CreateExpense(ctx, Expense{
		Category:    ne.Category,
		Description: ne.Description,
		Amount:      ne.Amount,
		ExpenseDate: ne.ExpenseDate,
		CreatedBy:   null.NewString(p.UserID, p.UserID != ""),
		CreatedAt:   nowFunc().UTC(),
	})
}

func (svc *Service) QueryExpenses(ctx context.Context, p rbac.Principal, filter ExpenseFilter, ordering []core.DBOrdering) ([]Expense, error) {
	if p.Scope(rbac.Expenses).Empty() {
		return nil, nil
	}
	return svc.repo.QueryExpenses(ctx, filter, ordering)
}

func (svc *Service) GetExpense(ctx context.Context, p rbac.Principal, id string) (Expense, error) {
	expenses, err := svc.QueryExpenses(ctx, p, ExpenseFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Expense{}, errors.Wrap(err, "querying expenses")
	}
	if len(expenses) == 0 {
		return Expense{}, ErrExpenseNotFound
	}
	return expenses[0], nil
}

// Approve approves an expense; FINANCE and admins only.
func (svc *Service) Approve(ctx context.Context, p rbac.Principal, id string) (Expense, error) {
	if !p.IsAdmin() && !p.IsFinance() {
		return Expense{}, core.ErrForbidden
	}
	e, err := svc.GetExpense(ctx, p, id)
	if err != nil {
		return Expense{}, err
	}
	if e.IsApproved {
		return Expense{}, core.NewFieldError("is_approved", ErrExpenseApproved.Error())
	}
	e.IsApproved = true
	e.ApprovedBy = null.NewString(p.UserID, p.UserID != "")
	e.ApprovalDate = null.TimeFrom(nowFunc().UTC())
	if e, err = svc.repo.UpdateExpense(ctx, e); err != nil {
		return Expense{}, errors.Wrap(err, "updating expense")
	}

	svc.recorder.Record(ctx, p.UserID, activity.Entry{
		ActionType:  activity.ExpenseApprove,
		Description: fmt.Sprintf("%s expense of %d approved", e.Category, e.Amount),
		ContentType: "expense",
		ObjectID:    e.ID,
		ObjectRepr:  e.Description,
	})
	return e, nil
}

// Daily report

func sumMethods(figures []MethodFigure) PaymentFigures {
	pf := PaymentFigures{ByMethod: figures}
	if pf.ByMethod == nil {
		pf.ByMethod = []MethodFigure{}
	}
	for _, f := range figures {
		pf.Count += f.Count
		pf.Total += f.Total
	}
	return pf
}

// DailyReport compiles the financial figures of a day (today if zero).
func (svc *Service) DailyReport(ctx context.Context, date core.Date) (DailyReport, error) {
	if date.IsZero() {
		date = svc.today()
	}
	report := DailyReport{Date: date, Currency: svc.currency}

	figures, err := svc.repo.PaymentFigures(ctx, date)
	if err != nil {
		return DailyReport{}, errors.Wrap(err, "summing payments")
	}
	report.Payments = sumMethods(figures)

	previous, err := svc.repo.PaymentFigures(ctx, date.AddDays(-1))
	if err != nil {
		return DailyReport{}, errors.Wrap(err, "summing previous payments")
	}
	prev := sumMethods(previous).Total
	report.Comparison = Comparison{Previous: prev, Difference: report.Payments.Total - prev}
	if prev != 0 {
		report.Comparison.Percent = core.Round(float64(report.Comparison.Difference)/float64(prev)*100, 1)
	}

	invoices, err := svc.repo.InvoiceFigures(ctx, date)
	if err != nil {
		return DailyReport{}, errors.Wrap(err, "summing invoices")
	}
	report.InvoicesIssued = invoices.Issued
	report.Pending = invoices.Pending
	report.Overdue = invoices.Overdue
	report.PartialCount = invoices.PartialCount

	if report.Expenses, err = svc.repo.ExpenseFigure(ctx, date); err != nil {
		return DailyReport{}, errors.Wrap(err, "summing expenses")
	}
	report.NetBalance = report.Payments.Total - report.Expenses.Total
	return report, nil
}

// SendDailyReport emails the daily report to the configured finance recipients.
func (svc *Service) SendDailyReport(ctx context.Context, date core.Date) (DailyReport, error) {
	if len(svc.recipients) == 0 {
		return DailyReport{}, ErrNoReportRecipients
	}
	report, err := svc.DailyReport(ctx, date)
	if err != nil {
		return DailyReport{}, err
	}
	to := make([]mail.Address, 0, len(svc.recipients))
	for _, r := range svc.recipients {
		to = append(to, mail.Address{Address: r})
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           to,
		Subject:      "Daily financial report - " + report.Date.String(),
		TemplateName: "daily_financial_report",
		TemplateData: report,
	})
	return report, nil
}
