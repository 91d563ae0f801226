// Package invoice implements the invoice engine (component H): invoice
// creation, item/version management, status derivation, and deletion with
// full reversal of its ledger/stock side effects.
package invoice

import "github.com/ironmark/ledgerengine/money"

// Status is the derived invoice payment state.
type Status string

const (
	Pending       Status = "pending"
	PartiallyPaid Status = "partially_paid"
	Paid          Status = "paid"
)

// DeriveStatus implements the §4.H derivation: remaining <= 0.01 -> paid;
// 0 < payment_amount < grand_total -> partially_paid; else pending.
func DeriveStatus(grandTotal, paymentAmount, remaining money.Money) Status {
	if !remaining.GreaterThan(money.NewMoneyFromFloat(0.01)) {
		return Paid
	}
	if paymentAmount.IsPositive() && paymentAmount.LessThan(grandTotal) {
		return PartiallyPaid
	}
	return Pending
}

// TIron is the optional structured calculation metadata for a T-iron line
// item: pieces x length-per-piece x rate.
type TIron struct {
	Pieces         int
	LengthPerPiece money.Money
	TotalFeet      money.Money
	Unit           string
}

// Item is one invoice line. ProductID is nil for miscellaneous items.
type Item struct {
	ID              int64
	InvoiceID       int64
	ProductID       *int64
	Description     string
	QuantityBase    int64
	QuantityDisplay string
	UnitPrice       money.Money
	TotalPrice      money.Money
	IsMisc          bool
	IsNonStock      bool
	TIron           *TIron
	ReturnedBase    int64 // cumulative quantity already returned (J's per-item cap)
}

// Tracked reports whether this item participates in stock accounting:
// it must reference a product and not be flagged non-stock or misc.
func (it Item) Tracked() bool {
	return it.ProductID != nil && !it.IsNonStock && !it.IsMisc
}

// Invoice is the invoice header.
type Invoice struct {
	ID               int64
	BillNumber       string
	CustomerID       int64
	GrandTotal       money.Money
	PaymentAmount    money.Money
	RemainingBalance money.Money
	Status           Status
	Version          int
	CreatedAt        string
	Items            []Item
}

// ItemRequest describes one line to create on an invoice. TotalPrice is
// computed by the caller (it owns the product's unit-type conversion
// between base units and the priced display unit, e.g. grams vs kg) and
// carried here rather than re-derived, so this package never needs to know
// about unit types.
type ItemRequest struct {
	ProductID       *int64
	Description     string `validate:"required"`
	QuantityBase    int64  `validate:"gt=0"`
	QuantityDisplay string `validate:"required"`
	UnitPrice       money.Money
	TotalPrice      money.Money
	IsMisc          bool
	IsNonStock      bool
	TIron           *TIron
}

// CreateRequest is the input to Engine.Create.
type CreateRequest struct {
	CustomerID int64         `validate:"min=-1"`
	Items      []ItemRequest `validate:"required,min=1,dive"`
}

// ItemEdit describes a quantity/price change to an existing line item.
// QuantityDisplay and TotalPrice, like ItemRequest's, are computed by the
// caller.
type ItemEdit struct {
	ItemID          int64  `validate:"required"`
	QuantityBase    int64  `validate:"gt=0"`
	QuantityDisplay string `validate:"required"`
	UnitPrice       money.Money
	TotalPrice      money.Money
}

// UpdateRequest bundles the three kinds of item reconciliation
// add_items/update_item_quantity/remove_items perform, so update_invoice
// can run all three against one expected_version in a single pass.
type UpdateRequest struct {
	AddItems      []ItemRequest `validate:"omitempty,dive"`
	UpdateItems   []ItemEdit    `validate:"omitempty,dive"`
	RemoveItemIDs []int64       `validate:"omitempty,dive,gt=0"`
}
