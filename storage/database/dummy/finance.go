package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/finance"
	"github.com/eschool-app/eschool/core/rbac"
)

type financeRepository struct {
	db *DB
}

var _ finance.Repository = (*financeRepository)(nil) // interface compliance check

func NewFinanceRepository(db *DB) *financeRepository {
	return &financeRepository{db: db}
}

func invoiceVisible(s rbac.Scope, studentID string) bool {
	return visible(s, nil, func(ids []string) bool { return core.ContainsString(ids, studentID) })
}

// paid sums the completed payments of an invoice.
func (repo *financeRepository) paid(invoiceID string) finance.Amount {
	var total finance.Amount
	for _, p := range repo.db.payments {
		if p.InvoiceID == invoiceID && p.Status == finance.PaymentCompleted {
			total += p.Amount
		}
	}
	return total
}

// Invoices

func (repo *financeRepository) CreateInvoice(ctx context.Context, inv finance.Invoice, exec ...core.DBExecutor) (finance.Invoice, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	inv.ID = newID()
	items := make([]finance.InvoiceItem, len(inv.Items))
	for i, it := range inv.Items {
		it.ID = newID()
		it.InvoiceID = inv.ID
		items[i] = it
	}
	inv.Items = items
	stored := inv
	repo.db.invoices[inv.ID] = &stored
	return inv, nil
}

func (repo *financeRepository) UpdateInvoice(ctx context.Context, inv finance.Invoice, exec ...core.DBExecutor) (finance.Invoice, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.invoices[inv.ID]
	if !ok {
		return finance.Invoice{}, finance.ErrInvoiceNotFound
	}
	existing.DueDate = inv.DueDate
	existing.Discount = inv.Discount
	existing.Status = inv.Status
	existing.Notes = inv.Notes
	existing.UpdatedAt = inv.UpdatedAt
	return inv, nil
}

func (repo *financeRepository) QueryInvoices(ctx context.Context, filter finance.InvoiceFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]finance.Invoice, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	invoices := make([]finance.Invoice, 0)
	for _, inv := range repo.db.invoices {
		if (filter.StudentID != "" && inv.StudentID != filter.StudentID) ||
			(len(filter.Status) > 0 && !core.ContainsString(filter.Status, inv.Status)) ||
			!inRange(inv.IssueDate, filter.DateFrom, filter.DateTo) ||
			(filter.Number != "" && inv.Number != filter.Number) ||
			!inIDs(filter.IDs, inv.ID) ||
			!invoiceVisible(filter.Scope, inv.StudentID) {
			continue
		}
		i := *inv
		i.Items = append([]finance.InvoiceItem{}, inv.Items...)
		i.Paid = repo.paid(inv.ID)
		invoices = append(invoices, i)
	}
	sort.Slice(invoices, func(i, j int) bool {
		if !invoices[i].IssueDate.Equal(invoices[j].IssueDate) {
			return invoices[i].IssueDate.After(invoices[j].IssueDate)
		}
		return invoices[i].Number > invoices[j].Number
	})
	return invoices, nil
}

func (repo *financeRepository) LastNumber(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	values := make([]string, 0)
	if strings.HasPrefix(prefix, "PAY") {
		for _, p := range repo.db.payments {
			values = append(values, p.Reference)
		}
	} else {
		for _, inv := range repo.db.invoices {
			values = append(values, inv.Number)
		}
	}
	return lastWithPrefix(prefix, values), nil
}

func (repo *financeRepository) MarkOverdue(ctx context.Context, today core.Date) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	n := 0
	for _, inv := range repo.db.invoices {
		if (inv.Status == finance.InvoiceSent || inv.Status == finance.InvoicePartial) && inv.DueDate.Before(today) {
			inv.Status = finance.InvoiceOverdue
			n++
		}
	}
	return n, nil
}

// Payments

func (repo *financeRepository) CreatePayment(ctx context.Context, p finance.Payment, exec ...core.DBExecutor) (finance.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p.ID = newID()
	stored := p
	repo.db.payments[p.ID] = &stored
	return p, nil
}

func (repo *financeRepository) UpdatePayment(ctx context.Context, p finance.Payment, exec ...core.DBExecutor) (finance.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.payments[p.ID]
	if !ok {
		return finance.Payment{}, finance.ErrPaymentNotFound
	}
	existing.Status = p.Status
	existing.TransactionID = p.TransactionID
	existing.Notes = p.Notes
	return p, nil
}

func (repo *financeRepository) QueryPayments(ctx context.Context, filter finance.PaymentFilter, ordering []core.DBOrdering) ([]finance.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	payments := make([]finance.Payment, 0)
	for _, p := range repo.db.payments {
		inv, ok := repo.db.invoices[p.InvoiceID]
		if !ok {
			continue
		}
		if (filter.InvoiceID != "" && p.InvoiceID != filter.InvoiceID) ||
			(filter.StudentID != "" && inv.StudentID != filter.StudentID) ||
			(filter.Method != "" && p.Method != filter.Method) ||
			(filter.Status != "" && p.Status != filter.Status) ||
			!inRange(p.PaymentDate, filter.DateFrom, filter.DateTo) ||
			!inIDs(filter.IDs, p.ID) ||
			!invoiceVisible(filter.Scope, inv.StudentID) {
			continue
		}
		payments = append(payments, *p)
	}
	sort.Slice(payments, func(i, j int) bool {
		if !payments[i].PaymentDate.Equal(payments[j].PaymentDate) {
			return payments[i].PaymentDate.After(payments[j].PaymentDate)
		}
		return payments[i].Reference > payments[j].Reference
	})
	return payments, nil
}

// Expenses

func (repo *financeRepository) CreateExpense(ctx context.Context, e finance.Expense) (finance.Expense, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	e.ID = newID()
	stored := e
	repo.db.expenses[e.ID] = &stored
	return e, nil
}

func (repo *financeRepository) UpdateExpense(ctx context.Context, e finance.Expense) (finance.Expense, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.expenses[e.ID]; !ok {
		return finance.Expense{}, finance.ErrExpenseNotFound
	}
	stored := e
	repo.db.expenses[e.ID] = &stored
	return e, nil
}

func (repo *financeRepository) QueryExpenses(ctx context.Context, filter finance.ExpenseFilter, ordering []core.DBOrdering) ([]finance.Expense, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	expenses := make([]finance.Expense, 0)
	for _, e := range repo.db.expenses {
		if (filter.Category != "" && e.Category != filter.Category) ||
			(filter.IsApproved != nil && e.IsApproved != *filter.IsApproved) ||
			!inRange(e.ExpenseDate, filter.DateFrom, filter.DateTo) ||
			!inIDs(filter.IDs, e.ID) {
			continue
		}
		expenses = append(expenses, *e)
	}
	sort.Slice(expenses, func(i, j int) bool {
		if !expenses[i].ExpenseDate.Equal(expenses[j].ExpenseDate) {
			return expenses[i].ExpenseDate.After(expenses[j].ExpenseDate)
		}
		return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
	})
	return expenses, nil
}

// Daily report

func (repo *financeRepository) PaymentFigures(ctx context.Context, date core.Date) ([]finance.MethodFigure, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	byMethod := make(map[string]*finance.MethodFigure)
	for _, p := range repo.db.payments {
		if p.Status != finance.PaymentCompleted || !p.PaymentDate.Equal(date) {
			continue
		}
		fig, ok := byMethod[p.Method]
		if !ok {
			fig = &finance.MethodFigure{Method: p.Method}
			byMethod[p.Method] = fig
		}
		fig.Count++
		fig.Total += p.Amount
	}

	figures := make([]finance.MethodFigure, 0, len(byMethod))
	for _, fig := range byMethod {
		figures = append(figures, *fig)
	}
	sort.Slice(figures, func(i, j int) bool { return figures[i].Method < figures[j].Method })
	return figures, nil
}

func (repo *financeRepository) InvoiceFigures(ctx context.Context, date core.Date) (finance.InvoiceFigures, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var figures finance.InvoiceFigures
	for _, inv := range repo.db.invoices {
		i := *inv
		i.Paid = repo.paid(inv.ID)
		open := i.Status == finance.InvoiceSent || i.Status == finance.InvoicePartial

		if i.IssueDate.Equal(date) && i.Status != finance.InvoiceDraft && i.Status != finance.InvoiceCancelled {
			figures.Issued.Count++
			figures.Issued.Total += i.Total()
		}
		switch {
		case open && !i.DueDate.Before(date):
			figures.Pending.Count++
			figures.Pending.Total += i.Balance()
		case (open || i.Status == finance.InvoiceOverdue) && i.DueDate.Before(date):
			figures.Overdue.Count++
			figures.Overdue.Total += i.Balance()
		}
		if i.Status == finance.InvoicePartial {
			figures.PartialCount++
		}
	}
	return figures, nil
}

func (repo *financeRepository) ExpenseFigure(ctx context.Context, date core.Date) (finance.Figure, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var figure finance.Figure
	for _, e := range repo.db.expenses {
		if e.IsApproved && e.ExpenseDate.Equal(date) {
			figure.Count++
			figure.Total += e.Amount
		}
	}
	return figure, nil
}
