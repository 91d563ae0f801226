// Package payment implements the payment engine (component I): simple
// payments, FIFO allocation across a customer's pending invoices, and
// refunds against standing credit.
package payment

import "github.com/ironmark/ledgerengine/money"

// Type is the payment direction.
type Type string

const (
	Incoming Type = "incoming"
	Outgoing Type = "outgoing"
)

// Method is the raw payment method string supplied by the caller;
// NormalizeChannel derives the normalized channel type from it (§6 mapping table).
type Method string

// ChannelType is the normalized payment channel family.
type ChannelType string

const (
	ChannelCash        ChannelType = "cash"
	ChannelBank        ChannelType = "bank"
	ChannelCheque      ChannelType = "cheque"
	ChannelCard        ChannelType = "card"
	ChannelMobileMoney ChannelType = "mobile_money"
	ChannelUPI         ChannelType = "upi"
	ChannelOnline      ChannelType = "online"
	ChannelOther       ChannelType = "other"
)

// NormalizeChannel maps a free-form payment method string onto the
// engine's closed set of channel types (§6).
func NormalizeChannel(method Method) ChannelType {
	switch Method(lower(string(method))) {
	case "cash":
		return ChannelCash
	case "bank", "transfer", "wire":
		return ChannelBank
	case "cheque", "check":
		return ChannelCheque
	case "card", "credit_card", "debit_card":
		return ChannelCard
	case "jazzcash", "easypaisa":
		return ChannelMobileMoney
	case "upi":
		return ChannelUPI
	case "online", "digital":
		return ChannelOnline
	default:
		return ChannelOther
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Payment is one row of the payments table.
type Payment struct {
	ID         int64
	Code       string
	CustomerID int64
	InvoiceID  *int64
	Amount     money.Money
	Method     Method
	ChannelID  *int64
	Type       Type
	CreatedAt  string
	CreatedTime string
}

// Allocation is one row of invoice_payment_allocations: audit-only detail
// of how a FIFO payment was spread across invoices.
type Allocation struct {
	ID              int64
	PaymentID       int64
	InvoiceID       int64
	AllocatedAmount money.Money
	Order           int
	BalanceBefore   money.Money
	BalanceAfter    money.Money
}

// SimpleRequest is the input to RecordSimple.
type SimpleRequest struct {
	CustomerID int64 `validate:"min=-1"`
	InvoiceID  *int64
	Amount     money.Money
	Method     Method `validate:"required"`
	ChannelID  *int64
	Type       Type `validate:"required,oneof=incoming outgoing"`
}

// FIFORequest is the input to RecordFIFO.
type FIFORequest struct {
	CustomerID int64 `validate:"min=-1"`
	Amount     money.Money
	Method     Method `validate:"required"`
	ChannelID  *int64
}

// RefundRequest is the input to Refund.
type RefundRequest struct {
	CustomerID int64 `validate:"min=-1"`
	Amount     money.Money
	Method     Method `validate:"required"`
	ChannelID  *int64
}
