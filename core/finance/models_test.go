package finance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eschool-app/eschool/core"
)

func TestInvoice_derivedStatus(t *testing.T) {
	due := func(s string) core.Date { return core.MustParseDate(s) }

	tests := []struct {
		name string
		inv  Invoice
		want string
	}{
		{"draft is kept", Invoice{Status: InvoiceDraft, Subtotal: 100, Paid: 100}, InvoiceDraft},
		{"cancelled is kept", Invoice{Status: InvoiceCancelled, Subtotal: 100, DueDate: due("2024-01-01")}, InvoiceCancelled},
		{"unpaid", Invoice{Status: InvoiceSent, Subtotal: 100, DueDate: due("2024-03-15")}, InvoiceSent},
		{"unpaid past due waits for MarkOverdue", Invoice{Status: InvoiceSent, Subtotal: 100, DueDate: due("2024-03-14")}, InvoiceSent},
		{"overdue stays overdue", Invoice{Status: InvoiceOverdue, Subtotal: 100, DueDate: due("2024-03-01")}, InvoiceOverdue},
		{"partially paid", Invoice{Status: InvoiceSent, Subtotal: 100, Paid: 40, DueDate: due("2024-03-20")}, InvoicePartial},
		{"partially paid past due", Invoice{Status: InvoiceOverdue, Subtotal: 100, Paid: 40, DueDate: due("2024-03-01")}, InvoicePartial},
		{"paid", Invoice{Status: InvoicePartial, Subtotal: 100, Paid: 100, DueDate: due("2024-03-01")}, InvoicePaid},
		{"paid with discount", Invoice{Status: InvoiceSent, Subtotal: 100, Discount: 20, Paid: 80}, InvoicePaid},
		{"nothing to pay", Invoice{Status: InvoiceSent, Subtotal: 100, Discount: 100}, InvoicePaid},
		{"refunded back to unpaid", Invoice{Status: InvoicePaid, Subtotal: 100, DueDate: due("2024-04-01")}, InvoiceSent},
		{"refunded past due back to unpaid", Invoice{Status: InvoicePaid, Subtotal: 100, DueDate: due("2024-03-01")}, InvoiceSent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.inv.derivedStatus())
		})
	}
}

func TestInvoice_amounts(t *testing.T) {
	inv := Invoice{Subtotal: 15000, Discount: 2500, Paid: 5000}
	assert.Equal(t, Amount(12500), inv.Total())
	assert.Equal(t, Amount(7500), inv.Balance())
	assert.False(t, inv.IsPaid())

	inv.Paid = 12500
	assert.True(t, inv.IsPaid())

	assert.Equal(t, Amount(3000), InvoiceItem{Quantity: 3, UnitPrice: 1000}.Total())
}
