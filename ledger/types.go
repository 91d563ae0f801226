// Package ledger implements the balance manager (component E) and the
// ledger engine (component F): the append-only customer and daily ledgers
// that are the sole source of truth for customer balances.
package ledger

import "github.com/ironmark/ledgerengine/money"

// GuestCustomerID is the reserved synthetic customer used for walk-in
// sales. It never receives customer-ledger entries or a stored balance.
const GuestCustomerID int64 = -1

// EntryType is the customer-ledger entry kind.
type EntryType string

const (
	Debit      EntryType = "debit"
	Credit     EntryType = "credit"
	Adjustment EntryType = "adjustment"
)

// TransactionType labels why a customer-ledger entry was written, for
// reporting and audit.
type TransactionType string

const (
	TxInvoiceCharge   TransactionType = "invoice_charge"
	TxPayment         TransactionType = "payment"
	TxCreditApplied   TransactionType = "credit_applied"
	TxReturnCredit    TransactionType = "return_credit"
	TxRefund          TransactionType = "refund"
	TxInvoiceReversal TransactionType = "invoice_reversal"
	TxAllocationNote  TransactionType = "allocation_note"
)

// CustomerLedgerEntry is one append-only row of the per-customer ledger.
type CustomerLedgerEntry struct {
	ID              int64
	CustomerID      int64
	EntryType       EntryType
	TransactionType TransactionType
	Amount          money.Money
	BalanceBefore   money.Money
	BalanceAfter    money.Money
	ReferenceType   string
	ReferenceID     int64
	ReferenceNumber string
	Description     string
	CreatedAt       string // ISO YYYY-MM-DD
	CreatedTime     string // 12-hour hh:mm am/pm
}

// DailyEntryType is the cash-flow direction of a daily-ledger row.
type DailyEntryType string

const (
	Incoming DailyEntryType = "incoming"
	Outgoing DailyEntryType = "outgoing"
)

// DailyLedgerEntry is one append-only row of the business-level cash-flow
// ledger, keyed by date and payment channel.
type DailyLedgerEntry struct {
	ID            int64
	Date          string
	Time          string
	Type          DailyEntryType
	Category      string
	Amount        money.Money
	PaymentMethod string
	ChannelID     *int64
	ReferenceType string
	ReferenceID   int64
}
