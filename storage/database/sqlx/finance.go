package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/finance"
)

const (
	// paid amount of invoice i
	invoicePaidExpr = "COALESCE((SELECT SUM(p.amount) FROM payment p WHERE p.invoice_id = i.id AND p.status = 'COMPLETED'), 0)"

	paymentFiguresQuery = `SELECT method, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total
	FROM payment
	WHERE payment_date = $1 AND status = 'COMPLETED'
	GROUP BY method
	ORDER BY method`

	expenseFigureQuery = `SELECT COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total
	FROM expense
	WHERE expense_date = $1 AND is_approved`

	// open invoices are pending until their due date, then overdue
	invoiceFiguresQuery = `SELECT
		COUNT(*) FILTER (WHERE issue_date = $1 AND status NOT IN ('DRAFT', 'CANCELLED')) AS issued_count,
		COALESCE(SUM(subtotal - discount) FILTER (WHERE issue_date = $1 AND status NOT IN ('DRAFT', 'CANCELLED')), 0) AS issued_total,
		COUNT(*) FILTER (WHERE status IN ('SENT', 'PARTIAL') AND due_date >= $1) AS pending_count,
		COALESCE(SUM(subtotal - discount - paid) FILTER (WHERE status IN ('SENT', 'PARTIAL') AND due_date >= $1), 0) AS pending_total,
		COUNT(*) FILTER (WHERE status IN ('SENT', 'PARTIAL', 'OVERDUE') AND due_date < $1) AS overdue_count,
		COALESCE(SUM(subtotal - discount - paid) FILTER (WHERE status IN ('SENT', 'PARTIAL', 'OVERDUE') AND due_date < $1), 0) AS overdue_total,
		COUNT(*) FILTER (WHERE status = 'PARTIAL') AS partial_count
	FROM (SELECT i.*, ` + invoicePaidExpr + ` AS paid FROM invoice i) inv`
)

var (
	invoiceOrderings = map[string]string{
		"number":     "i.number",
		"issue_date": "i.issue_date",
		"due_date":   "i.due_date",
		"status":     "i.status",
		"created_at": "i.created_at",
	}
	paymentOrderings = map[string]string{
		"reference":    "p.reference",
		"payment_date": "p.payment_date",
		"amount":       "p.amount",
		"created_at":   "p.created_at",
	}
	expenseOrderings = map[string]string{
		"expense_date": "expense_date",
		"amount":       "amount",
		"category":     "category",
		"created_at":   "created_at",
	}
)

type financeRepository struct {
	base
}

var _ finance.Repository = (*financeRepository)(nil) // interface compliance check

func NewFinanceRepository(db core.DBExecutor) *financeRepository {
	return &financeRepository{base{db: db}}
}

// Invoices

func (repo financeRepository) CreateInvoice(ctx context.Context, inv finance.Invoice, exec ...core.DBExecutor) (finance.Invoice, error) {
	db := repo.getExec(exec)
	inv.ID = newID()
	qb := psql.Insert("invoice").
		Columns("id", "number", "student_id", "issue_date", "due_date", "subtotal", "discount", "status", "notes",
			"created_by", "created_at", "updated_at").
		Values(inv.ID, inv.Number, inv.StudentID, inv.IssueDate, inv.DueDate, inv.Subtotal, inv.Discount, inv.Status, inv.Notes,
			inv.CreatedBy, inv.CreatedAt, inv.UpdatedAt)
	if _, err := repo.exec(ctx, db, qb); err != nil {
		return finance.Invoice{}, errors.Wrap(err, "inserting invoice")
	}

	if len(inv.Items) > 0 {
		items := psql.Insert("invoice_item").Columns("id", "invoice_id", "description", "quantity", "unit_price")
		for i := range inv.Items {
			inv.Items[i].ID = newID()
			inv.Items[i].InvoiceID = inv.ID
			it := inv.Items[i]
			items = items.Values(it.ID, it.InvoiceID, it.Description, it.Quantity, it.UnitPrice)
		}
		if _, err := repo.exec(ctx, db, items); err != nil {
			return finance.Invoice{}, errors.Wrap(err, "inserting invoice items")
		}
	}
	return inv, nil
}

func (repo financeRepository) UpdateInvoice(ctx context.Context, inv finance.Invoice, exec ...core.DBExecutor) (finance.Invoice, error) {
	qb := psql.Update("invoice").
		SetMap(map[string]interface{}{
			"due_date":   inv.DueDate,
			"discount":   inv.Discount,
			"status":     inv.Status,
			"notes":      inv.Notes,
			"updated_at": inv.UpdatedAt,
		}).
		Where(sq.Eq{"id": inv.ID})
	n, err := repo.exec(ctx, repo.getExec(exec), qb)
	if err != nil {
		return finance.Invoice{}, errors.Wrap(err, "updating invoice")
	}
	if n == 0 {
		return finance.Invoice{}, finance.ErrInvoiceNotFound
	}
	return inv, nil
}

func (repo financeRepository) QueryInvoices(ctx context.Context, filter finance.InvoiceFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]finance.Invoice, error) {
	db := repo.getExec(exec)
	qb := psql.Select("i.id, i.number, i.student_id, i.issue_date, i.due_date, i.subtotal, i.discount, i.status, i.notes,"+
		" i.created_by, i.created_at, i.updated_at", invoicePaidExpr+" AS paid").
		From("invoice i").
		OrderBy(orderBy(ordering, invoiceOrderings, "i.issue_date DESC", "i.number DESC")...)
	if filter.StudentID != "" {
		qb = qb.Where(sq.Eq{"i.student_id": filter.StudentID})
	}
	if len(filter.Status) > 0 {
		qb = qb.Where(anyOf("i.status", filter.Status))
	}
	qb = dateRange(qb, "i.issue_date", filter.DateFrom, filter.DateTo)
	if filter.Number != "" {
		qb = qb.Where(sq.Eq{"i.number": filter.Number})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("i.id::text", filter.IDs))
	}
	qb = scopeInvoices(qb, filter.Scope, "i.student_id")

	invoices := make([]finance.Invoice, 0)
	if err := repo.selectAll(ctx, db, &invoices, qb); err != nil {
		return nil, errors.Wrap(err, "querying invoices")
	}
	if len(invoices) == 0 {
		return invoices, nil
	}

	ids := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
	}
	items := make([]finance.InvoiceItem, 0)
	itemsQb := psql.Select("id, invoice_id, description, quantity, unit_price").
		From("invoice_item").
		Where(anyOf("invoice_id", ids)).
		OrderBy("description")
	if err := repo.selectAll(ctx, db, &items, itemsQb); err != nil {
		return nil, errors.Wrap(err, "querying invoice items")
	}
	byInvoice := make(map[string][]finance.InvoiceItem, len(invoices))
	for _, it := range items {
		byInvoice[it.InvoiceID] = append(byInvoice[it.InvoiceID], it)
	}
	for i := range invoices {
		invoices[i].Items = byInvoice[invoices[i].ID]
		if invoices[i].Items == nil {
			invoices[i].Items = []finance.InvoiceItem{}
		}
	}
	return invoices, nil
}

func (repo financeRepository) LastNumber(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error) {
	table, col := "invoice", "number"
	if len(prefix) >= 3 && prefix[:3] == "PAY" {
		table, col = "payment", "reference"
	}
	last, err := repo.lastValue(ctx, repo.getExec(exec), table, col, prefix)
	return last, errors.Wrap(err, "finding last number")
}

func (repo financeRepository) MarkOverdue(ctx context.Context, today core.Date) (int, error) {
	qb := psql.Update("invoice").
		Set("status", finance.InvoiceOverdue).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"status": []string{finance.InvoiceSent, finance.InvoicePartial}}).
		Where(sq.Lt{"due_date": today})
	n, err := repo.exec(ctx, repo.db, qb)
	return n, errors.Wrap(err, "marking overdue invoices")
}

// Payments

func (repo financeRepository) CreatePayment(ctx context.Context, p finance.Payment, exec ...core.DBExecutor) (finance.Payment, error) {
	p.ID = newID()
	qb := psql.Insert("payment").
		Columns("id", "reference", "invoice_id", "amount", "method", "transaction_id", "payment_date", "status", "notes",
			"recorded_by", "created_at").
		Values(p.ID, p.Reference, p.InvoiceID, p.Amount, p.Method, p.TransactionID, p.PaymentDate, p.Status, p.Notes,
			p.RecordedBy, p.CreatedAt)
	if _, err := repo.exec(ctx, repo.getExec(exec), qb); err != nil {
		return finance.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return p, nil
}

func (repo financeRepository) UpdatePayment(ctx context.Context, p finance.Payment, exec ...core.DBExecutor) (finance.Payment, error) {
	qb := psql.Update("payment").
		SetMap(map[string]interface{}{
			"status":         p.Status,
			"transaction_id": p.TransactionID,
			"notes":          p.Notes,
		}).
		Where(sq.Eq{"id": p.ID})
	n, err := repo.exec(ctx, repo.getExec(exec), qb)
	if err != nil {
		return finance.Payment{}, errors.Wrap(err, "updating payment")
	}
	if n == 0 {
		return finance.Payment{}, finance.ErrPaymentNotFound
	}
	return p, nil
}

func (repo financeRepository) QueryPayments(ctx context.Context, filter finance.PaymentFilter, ordering []core.DBOrdering) ([]finance.Payment, error) {
	qb := psql.Select("p.id, p.reference, p.invoice_id, p.amount, p.method, p.transaction_id, p.payment_date, p.status," +
		" p.notes, p.recorded_by, p.created_at").
		From("payment p").
		Join("invoice i ON i.id = p.invoice_id").
		OrderBy(orderBy(ordering, paymentOrderings, "p.payment_date DESC", "p.reference DESC")...)
	if filter.InvoiceID != "" {
		qb = qb.Where(sq.Eq{"p.invoice_id": filter.InvoiceID})
	}
	if filter.StudentID != "" {
		qb = qb.Where(sq.Eq{"i.student_id": filter.StudentID})
	}
	if filter.Method != "" {
		qb = qb.Where(sq.Eq{"p.method": filter.Method})
	}
	if filter.Status != "" {
		qb = qb.Where(sq.Eq{"p.status": filter.Status})
	}
	qb = dateRange(qb, "p.payment_date", filter.DateFrom, filter.DateTo)
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("p.id::text", filter.IDs))
	}
	qb = scopeInvoices(qb, filter.Scope, "i.student_id")

	payments := make([]finance.Payment, 0)
	if err := repo.selectAll(ctx, repo.db, &payments, qb); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	return payments, nil
}

// Expenses

func (repo financeRepository) CreateExpense(ctx context.Context, e finance.Expense) (finance.Expense, error) {
	e.ID = newID()
	qb := psql.Insert("expense").
		Columns("id", "category", "description", "amount", "expense_date", "is_approved", "approved_by", "approval_date",
			"created_by", "created_at").
		Values(e.ID, e.Category, e.Description, e.Amount, e.ExpenseDate, e.IsApproved, e.ApprovedBy, e.ApprovalDate,
			e.CreatedBy, e.CreatedAt)
	if _, err := repo.exec(ctx, repo.db, qb); err != nil {
		return finance.Expense{}, errors.Wrap(err, "inserting expense")
	}
	return e, nil
}

func (repo financeRepository) UpdateExpense(ctx context.Context, e finance.Expense) (finance.Expense, error) {
	qb := psql.Update("expense").
		SetMap(map[string]interface{}{
			"category":      e.Category,
			"description":   e.Description,
			"amount":        e.Amount,
			"expense_date":  e.ExpenseDate,
			"is_approved":   e.IsApproved,
			"approved_by":   e.ApprovedBy,
			"approval_date": e.ApprovalDate,
		}).
		Where(sq.Eq{"id": e.ID})
	n, err := repo.exec(ctx, repo.db, qb)
	if err != nil {
		return finance.Expense{}, errors.Wrap(err, "updating expense")
	}
	if n == 0 {
		return finance.Expense{}, finance.ErrExpenseNotFound
	}
	return e, nil
}

func (repo financeRepository) QueryExpenses(ctx context.Context, filter finance.ExpenseFilter, ordering []core.DBOrdering) ([]finance.Expense, error) {
	qb := psql.Select("id, category, description, amount, expense_date, is_approved, approved_by, approval_date, created_by, created_at").
		From("expense").
		OrderBy(orderBy(ordering, expenseOrderings, "expense_date DESC", "created_at DESC")...)
	if filter.Category != "" {
		qb = qb.Where(sq.Eq{"category": filter.Category})
	}
	if filter.IsApproved != nil {
		qb = qb.Where(sq.Eq{"is_approved": *filter.IsApproved})
	}
	qb = dateRange(qb, "expense_date", filter.DateFrom, filter.DateTo)
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("id::text", filter.IDs))
	}

	expenses := make([]finance.Expense, 0)
	if err := repo.selectAll(ctx, repo.db, &expenses, qb); err != nil {
		return nil, errors.Wrap(err, "querying expenses")
	}
	return expenses, nil
}

// Daily report

func (repo financeRepository) PaymentFigures(ctx context.Context, date core.Date) ([]finance.MethodFigure, error) {
	figures := make([]finance.MethodFigure, 0)
	if err := queries.Raw(paymentFiguresQuery, date).Bind(ctx, repo.db, &figures); err != nil {
		return nil, errors.Wrap(err, "summing payments")
	}
	return figures, nil
}

func (repo financeRepository) InvoiceFigures(ctx context.Context, date core.Date) (finance.InvoiceFigures, error) {
	var row struct {
		IssuedCount  int            `db:"issued_count"`
		IssuedTotal  finance.Amount `db:"issued_total"`
		PendingCount int            `db:"pending_count"`
		PendingTotal finance.Amount `db:"pending_total"`
		OverdueCount int            `db:"overdue_count"`
		OverdueTotal finance.Amount `db:"overdue_total"`
		PartialCount int            `db:"partial_count"`
	}
	if err := repo.db.GetContext(ctx, &row, invoiceFiguresQuery, date); err != nil {
		return finance.InvoiceFigures{}, errors.Wrap(err, "summing invoices")
	}
	return finance.InvoiceFigures{
		Issued:       finance.Figure{Count: row.IssuedCount, Total: row.IssuedTotal},
		Pending:      finance.Figure{Count: row.PendingCount, Total: row.PendingTotal},
		Overdue:      finance.Figure{Count: row.OverdueCount, Total: row.OverdueTotal},
		PartialCount: row.PartialCount,
	}, nil
}

func (repo financeRepository) ExpenseFigure(ctx context.Context, date core.Date) (finance.Figure, error) {
	var figure finance.Figure
	if err := queries.Raw(expenseFigureQuery, date).Bind(ctx, repo.db, &figure); err != nil {
		return finance.Figure{}, errors.Wrap(err, "summing expenses")
	}
	return figure, nil
}
