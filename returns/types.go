// Package returns implements the returns engine (component J): item
// returns with ledger or cash settlement, stock restoration, and invoice
// total adjustment.
package returns

import "github.com/ironmark/ledgerengine/money"

// SettlementType selects how a return's value is given back to the
// customer.
type SettlementType string

const (
	SettlementLedger SettlementType = "ledger"
	SettlementCash   SettlementType = "cash"
)

// ItemRequest describes one returned invoice item.
type ItemRequest struct {
	InvoiceItemID int64 `validate:"required"`
	ProductID     *int64
	QuantityBase  int64 `validate:"gt=0"`
	Amount        money.Money
}

// Request is the input to Engine.Create.
type Request struct {
	OriginalInvoiceID int64          `validate:"required"`
	Settlement        SettlementType `validate:"required,oneof=ledger cash"`
	Items             []ItemRequest  `validate:"required,min=1,dive"`
	ChannelID         *int64
}

// Return is the returns header.
type Return struct {
	ID                int64
	ReturnNumber      string
	OriginalInvoiceID int64
	Settlement        SettlementType
	SettlementAmount  money.Money
	CreatedAt         string
}
