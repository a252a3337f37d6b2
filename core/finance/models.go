package finance

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
)

// Amount is a sum of money in minor currency units.
type Amount int64

// Invoice statuses
const (
	InvoiceDraft     = "DRAFT"
	InvoiceSent      = "SENT"
	InvoicePartial   = "PARTIAL"
	InvoicePaid      = "PAID"
	InvoiceOverdue   = "OVERDUE"
	InvoiceCancelled = "CANCELLED"
)

// Payment methods
const (
	MethodCash     = "CASH"
	MethodCheck    = "CHECK"
	MethodTransfer = "TRANSFER"
	MethodCard     = "CARD"
	MethodMobile   = "MOBILE"
)

// Payment statuses
const (
	PaymentPending    = "PENDING"
	PaymentProcessing = "PROCESSING"
	PaymentCompleted  = "COMPLETED"
	PaymentFailed     = "FAILED"
	PaymentCancelled  = "CANCELLED"
	PaymentRefunded   = "REFUNDED"
)

// Expense categories
const (
	ExpenseSalaries       = "SALARIES"
	ExpenseUtilities      = "UTILITIES"
	ExpenseSupplies       = "SUPPLIES"
	ExpenseMaintenance    = "MAINTENANCE"
	ExpenseEquipment      = "EQUIPMENT"
	ExpenseTransportation = "TRANSPORTATION"
	ExpenseFood           = "FOOD"
	ExpenseOther          = "OTHER"
)

var PaymentMethods = []string{MethodCash, MethodCheck, MethodTransfer, MethodCard, MethodMobile}

type InvoiceItem struct {
	ID          string `json:"id" db:"id"`
	InvoiceID   string `json:"invoice_id" db:"invoice_id"`
	Description string `json:"description" db:"description"`
	Quantity    int    `json:"quantity" db:"quantity"`
	UnitPrice   Amount `json:"unit_price" db:"unit_price"`
}

func (it InvoiceItem) Total() Amount {
	return Amount(it.Quantity) * it.UnitPrice
}

type Invoice struct {
	ID        string        `json:"id" db:"id"`
	Number    string        `json:"number" db:"number"`
	StudentID string        `json:"student_id" db:"student_id"`
	IssueDate core.Date     `json:"issue_date" db:"issue_date"`
	DueDate   core.Date     `json:"due_date" db:"due_date"`
	Subtotal  Amount        `json:"subtotal" db:"subtotal"`
	Discount  Amount        `json:"discount" db:"discount"`
	Paid      Amount        `json:"paid" db:"paid"` // sum of the completed payments, read-only
	Status    string        `json:"status" db:"status"`
	Notes     string        `json:"notes" db:"notes"`
	CreatedBy null.String   `json:"created_by" db:"created_by"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
	Items     []InvoiceItem `json:"items" db:"-"`
}

func (inv Invoice) Total() Amount   { return inv.Subtotal - inv.Discount }
func (inv Invoice) Balance() Amount { return inv.Total() - inv.Paid }
func (inv Invoice) IsPaid() bool    { return inv.Balance() <= 0 }

func (inv Invoice) MarshalJSON() ([]byte, error) {
	type alias Invoice
	return json.Marshal(struct {
		alias
		Total   Amount `json:"total"`
		Balance Amount `json:"balance"`
		IsPaid  bool   `json:"is_paid"`
	}{alias(inv), inv.Total(), inv.Balance(), inv.IsPaid()})
}

// derivedStatus returns the status an invoice should have given its payments.
// DRAFT and CANCELLED invoices keep their status. An unpaid invoice is SENT unless MarkOverdue
// already flagged it.
func (inv Invoice) derivedStatus() string {
	switch {
	case inv.Status == InvoiceDraft || inv.Status == InvoiceCancelled:
		return inv.Status
	case inv.IsPaid():
		return InvoicePaid
	case inv.Paid > 0:
		return InvoicePartial
	case inv.Status == InvoiceOverdue:
		return InvoiceOverdue
	default:
		return InvoiceSent
	}
}

type Payment struct {
	ID            string      `json:"id" db:"id"`
	Reference     string      `json:"reference" db:"reference"`
	InvoiceID     string      `json:"invoice_id" db:"invoice_id"`
	Amount        Amount      `json:"amount" db:"amount"`
	Method        string      `json:"method" db:"method"`
	TransactionID string      `json:"transaction_id" db:"transaction_id"`
	PaymentDate   core.Date   `json:"payment_date" db:"payment_date"`
	Status        string      `json:"status" db:"status"`
	Notes         string      `json:"notes" db:"notes"`
	RecordedBy    null.String `json:"recorded_by" db:"recorded_by"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

type Expense struct {
	ID           string      `json:"id" db:"id"`
	Category     string      `json:"category" db:"category"`
	Description  string      `json:"description" db:"description"`
	Amount       Amount      `json:"amount" db:"amount"`
	ExpenseDate  core.Date   `json:"expense_date" db:"expense_date"`
	IsApproved   bool        `json:"is_approved" db:"is_approved"`
	ApprovedBy   null.String `json:"approved_by" db:"approved_by"`
	ApprovalDate null.Time   `json:"approval_date" db:"approval_date"`
	CreatedBy    null.String `json:"created_by" db:"created_by"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// daily report

type Figure struct {
	Count int    `json:"count" db:"count"`
	Total Amount `json:"total" db:"total"`
}

type MethodFigure struct {
	Method string `json:"method" db:"method"`
	Count  int    `json:"count" db:"count"`
	Total  Amount `json:"total" db:"total"`
}

type PaymentFigures struct {
	Count    int            `json:"count"`
	Total    Amount         `json:"total"`
	ByMethod []MethodFigure `json:"by_method"`
}

// InvoiceFigures are the invoice numbers of the daily report.
type InvoiceFigures struct {
	Issued       Figure `json:"issued"`
	Pending      Figure `json:"pending"` // outstanding balance
	Overdue      Figure `json:"overdue"` // outstanding balance
	PartialCount int    `json:"partial_count"`
}

type Comparison struct {
	Previous   Amount  `json:"previous"`
	Difference Amount  `json:"difference"`
	Percent    float64 `json:"percent"`
}

type DailyReport struct {
	Date           core.Date      `json:"date"`
	Currency       string         `json:"currency"`
	Payments       PaymentFigures `json:"payments"`
	Comparison     Comparison     `json:"comparison"`
	InvoicesIssued Figure         `json:"invoices_issued"`
	Pending        Figure         `json:"pending"`
	Overdue        Figure         `json:"overdue"`
	PartialCount   int            `json:"partial_count"`
	Expenses       Figure         `json:"expenses"`
	NetBalance     Amount         `json:"net_balance"`
}

// inputs

type NewItem struct {
	Description string `json:"description" validate:"required,max=200"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	UnitPrice   Amount `json:"unit_price" validate:"gte=0"`
}

type NewInvoice struct {
	StudentID string    `json:"student_id" validate:"required,uuid"`
	IssueDate core.Date `json:"issue_date"`
	DueDate   core.Date `json:"due_date"`
	Items     []NewItem `json:"items" validate:"required,min=1,dive"`
	Discount  Amount    `json:"discount" validate:"gte=0"`
	Notes     string    `json:"notes"`
}

func (ni *NewInvoice) Validate(validate *validator.Validate) error {
	ni.Notes = core.CleanString(ni.Notes)
	for i := range ni.Items {
		ni.Items[i].Description = core.CleanString(ni.Items[i].Description)
		if ni.Items[i].Quantity == 0 {
			ni.Items[i].Quantity = 1
		}
	}
	if err := validate.Struct(ni); err != nil {
		return err
	}
	if ni.DueDate.IsZero() {
		return core.NewFieldError("due_date", "due_date is required")
	}
	if !ni.IssueDate.IsZero() && ni.DueDate.Before(ni.IssueDate) {
		return core.NewFieldError("due_date", "due_date cannot be before issue_date")
	}
	return nil
}

type NewPayment struct {
	InvoiceID     string    `json:"invoice_id" validate:"required,uuid"`
	Amount        Amount    `json:"amount" validate:"gt=0"`
	Method        string    `json:"method" validate:"required,oneof=CASH CHECK TRANSFER CARD MOBILE"`
	TransactionID string    `json:"transaction_id" validate:"omitempty,max=100"`
	PaymentDate   core.Date `json:"payment_date"`
	Status        string    `json:"status" validate:"omitempty,oneof=PENDING COMPLETED"`
	Notes         string    `json:"notes"`
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.TransactionID = core.CleanString(np.TransactionID)
	np.Notes = core.CleanString(np.Notes)
	if np.Status == "" {
		np.Status = PaymentCompleted
	}
	return validate.Struct(np)
}

type NewExpense struct {
	Category    string    `json:"category" validate:"required,oneof=SALARIES UTILITIES SUPPLIES MAINTENANCE EQUIPMENT TRANSPORTATION FOOD OTHER"`
	Description string    `json:"description" validate:"required"`
	Amount      Amount    `json:"amount" validate:"gt=0"`
	ExpenseDate core.Date `json:"expense_date"`
}

func (ne *NewExpense) Validate(validate *validator.Validate) error {
	ne.Description = core.CleanString(ne.Description)
	return validate.Struct(ne)
}

// filters

type InvoiceFilter struct {
	StudentID string    `query:"student_id"`
	Status    []string  `query:"status"`
	DateFrom  core.Date `query:"date_from"` // issue date
	DateTo    core.Date `query:"date_to"`   // inclusive
	Number    string    `query:"-"`
	IDs       []string  `query:"-"`

	Scope rbac.Scope `query:"-"`
}

type PaymentFilter struct {
	InvoiceID string    `query:"invoice_id"`
	StudentID string    `query:"student_id"`
	Method    string    `query:"method"`
	Status    string    `query:"status"`
	DateFrom  core.Date `query:"date_from"`
	DateTo    core.Date `query:"date_to"` // inclusive
	IDs       []string  `query:"-"`

	Scope rbac.Scope `query:"-"`
}

type ExpenseFilter struct {
	Category   string    `query:"category"`
	IsApproved *bool     `query:"is_approved"`
	DateFrom   core.Date `query:"date_from"`
	DateTo     core.Date `query:"date_to"` // inclusive
	IDs        []string  `query:"-"`
}
