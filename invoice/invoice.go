package invoice

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ironmark/ledgerengine/cache"
	"github.com/ironmark/ledgerengine/clock"
	"github.com/ironmark/ledgerengine/ledger"
	"github.com/ironmark/ledgerengine/money"
	"github.com/ironmark/ledgerengine/stock"
	"github.com/ironmark/ledgerengine/storage"
)

// Querier is satisfied by *sql.DB and *storage.Tx.
type Querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

// ConflictError reports an optimistic-lock failure on Update.
type ConflictError struct {
	InvoiceID       int64
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("invoice %d: version conflict (expected %d, have %d)", e.InvoiceID, e.ExpectedVersion, e.ActualVersion)
}

// BusinessRuleError reports a rule violation such as I7 (editing a
// partially/fully paid invoice without force).
type BusinessRuleError struct {
	Rule    string
	Message string
}

func (e *BusinessRuleError) Error() string { return e.Message }

// Engine is the invoice engine (H).
type Engine struct {
	stock  *stock.Engine
	ledger *ledger.Manager
	cache  *cache.Cache
}

// New builds an invoice Engine.
func New(s *stock.Engine, l *ledger.Manager, c *cache.Cache) *Engine {
	return &Engine{stock: s, ledger: l, cache: c}
}

// Create inserts the invoice header and items, decrements stock for
// tracked items, and writes the customer-ledger debit for the full
// grand_total. It does not record any payment: callers (the top-level
// engine) record cash/credit payments against the freshly-created invoice
// in the same transaction, then call RecomputeStatus.
//
// Bill numbers are generated by taking max(existing numeric bill_number)+1,
// left-zero-padded to at least 2 digits; this runs inside the caller's
// immediate transaction so concurrent inserts serialize on the writer lock
// rather than racing on the numeric scan (§4.H).
func (e *Engine) Create(tx *storage.Tx, req CreateRequest, now time.Time) (Invoice, error) {
	if len(req.Items) == 0 {
		return Invoice{}, &BusinessRuleError{Rule: "invoice_requires_items", Message: "invoice: at least one item is required"}
	}

	grandTotal := money.Zero
	for _, it := range req.Items {
		grandTotal = grandTotal.Add(it.TotalPrice)
	}

	billNumber, err := storage.NextSequenceNumber(tx, "invoices", "bill_number", 2)
	if err != nil {
		return Invoice{}, err
	}

	status := DeriveStatus(grandTotal, money.Zero, grandTotal)
	res, err := tx.Exec(`INSERT INTO invoices
		(bill_number, customer_id, grand_total, payment_amount, remaining_balance, status, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		billNumber, req.CustomerID, grandTotal.String(), "0.00", grandTotal.String(), string(status), clock.DateString(now))
	if err != nil {
		return Invoice{}, fmt.Errorf("invoice: insert header: %w", err)
	}
	invoiceID, _ := res.LastInsertId()

	items := make([]Item, 0, len(req.Items))
	for _, ir := range req.Items {
		item, err := e.insertItem(tx, invoiceID, ir)
		if err != nil {
			return Invoice{}, err
		}
		if item.Tracked() {
			if _, err := e.stock.AdjustStock(tx, *item.ProductID, item.QuantityBase, stock.Out,
				"invoice", invoiceID, billNumber, now); err != nil {
				return Invoice{}, err
			}
		}
		items = append(items, item)
	}

	if req.CustomerID != ledger.GuestCustomerID {
		if _, err := e.ledger.AppendCustomerEntry(tx, req.CustomerID, ledger.Debit, ledger.TxInvoiceCharge,
			grandTotal, "invoice", invoiceID, billNumber, fmt.Sprintf("Invoice %s charge", billNumber), now); err != nil {
			return Invoice{}, err
		}
	}

	if e.cache != nil {
		e.cache.InvalidateByPrefix("invoices_")
		e.cache.InvalidateByPrefix("customer_")
	}

	return Invoice{
		ID: invoiceID, BillNumber: billNumber, CustomerID: req.CustomerID,
		GrandTotal: grandTotal, PaymentAmount: money.Zero, RemainingBalance: grandTotal,
		Status: status, Version: 1, CreatedAt: clock.DateString(now), Items: items,
	}, nil
}

func (e *Engine) insertItem(tx *storage.Tx, invoiceID int64, ir ItemRequest) (Item, error) {
	var tPieces any
	var tLen, tFeet, tUnit any
	if ir.TIron != nil {
		tPieces = ir.TIron.Pieces
		tLen = ir.TIron.LengthPerPiece.String()
		tFeet = ir.TIron.TotalFeet.String()
		tUnit = ir.TIron.Unit
	}

	res, err := tx.Exec(`INSERT INTO invoice_items
		(invoice_id, product_id, description, quantity_base, quantity_display, unit_price, total_price,
		 is_misc_item, is_non_stock_item, tiron_pieces, tiron_length_per_piece, tiron_total_feet, tiron_unit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoiceID, ir.ProductID, ir.Description, ir.QuantityBase, ir.QuantityDisplay,
		ir.UnitPrice.String(), ir.TotalPrice.String(), boolToInt(ir.IsMisc), boolToInt(ir.IsNonStock),
		tPieces, tLen, tFeet, tUnit)
	if err != nil {
		return Item{}, fmt.Errorf("invoice: insert item: %w", err)
	}
	id, _ := res.LastInsertId()
	return Item{
		ID: id, InvoiceID: invoiceID, ProductID: ir.ProductID, Description: ir.Description,
		QuantityBase: ir.QuantityBase, QuantityDisplay: ir.QuantityDisplay,
		UnitPrice: ir.UnitPrice, TotalPrice: ir.TotalPrice, IsMisc: ir.IsMisc, IsNonStock: ir.IsNonStock,
		TIron: ir.TIron,
	}, nil
}

// RecomputeStatus recomputes payment_amount from SUM(payments where
// invoice_id=V and type=incoming), remaining_balance, and status, and
// persists them. This is the single source of truth the redesign uses in
// place of in-place `payment_amount = payment_amount + ?` arithmetic.
func (e *Engine) RecomputeStatus(tx Querier, invoiceID int64) (Invoice, error) {
	inv, err := e.load(tx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}

	row := tx.QueryRow(`SELECT COALESCE(SUM(CAST(amount AS REAL)), 0) FROM payments
		WHERE invoice_id = ? AND payment_type = 'incoming'`, invoiceID)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return Invoice{}, fmt.Errorf("invoice: sum payments for %d: %w", invoiceID, err)
	}
	paymentAmount := money.NewMoneyFromFloat(sum)
	remaining := inv.GrandTotal.Sub(paymentAmount).Max0()
	status := DeriveStatus(inv.GrandTotal, paymentAmount, remaining)

	if _, err := tx.Exec(`UPDATE invoices SET payment_amount = ?, remaining_balance = ?, status = ? WHERE id = ?`,
		paymentAmount.String(), remaining.String(), string(status), invoiceID); err != nil {
		return Invoice{}, fmt.Errorf("invoice: persist recomputed status: %w", err)
	}
	if e.cache != nil {
		e.cache.InvalidateByPrefix("invoices_")
	}

	inv.PaymentAmount = paymentAmount
	inv.RemainingBalance = remaining
	inv.Status = status
	return inv, nil
}

// Get loads an invoice header with its items.
func (e *Engine) Get(tx Querier, invoiceID int64) (Invoice, error) {
	inv, err := e.load(tx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	items, err := e.loadItems(tx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	inv.Items = items
	return inv, nil
}

func (e *Engine) load(tx Querier, invoiceID int64) (Invoice, error) {
	row := tx.QueryRow(`SELECT id, bill_number, customer_id, grand_total, payment_amount, remaining_balance,
		status, version, created_at FROM invoices WHERE id = ?`, invoiceID)
	var inv Invoice
	var grand, paid, rem string
	var status string
	if err := row.Scan(&inv.ID, &inv.BillNumber, &inv.CustomerID, &grand, &paid, &rem, &status, &inv.Version, &inv.CreatedAt); err != nil {
		return Invoice{}, fmt.Errorf("invoice: load %d: %w", invoiceID, err)
	}
	inv.GrandTotal, _ = money.ParseMoney(grand)
	inv.PaymentAmount, _ = money.ParseMoney(paid)
	inv.RemainingBalance, _ = money.ParseMoney(rem)
	inv.Status = Status(status)
	return inv, nil
}

func (e *Engine) loadItems(tx Querier, invoiceID int64) ([]Item, error) {
	rows, err := tx.Query(`SELECT id, product_id, description, quantity_base, quantity_display, unit_price,
		total_price, is_misc_item, is_non_stock_item, returned_base,
		tiron_pieces, tiron_length_per_piece, tiron_total_feet, tiron_unit
		FROM invoice_items WHERE invoice_id = ? ORDER BY id ASC`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice: load items for %d: %w", invoiceID, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var productID sql.NullInt64
		var unitPrice, totalPrice string
		var isMisc, isNonStock int
		var tPieces sql.NullInt64
		var tLen, tFeet, tUnit sql.NullString
		if err := rows.Scan(&it.ID, &productID, &it.Description, &it.QuantityBase, &it.QuantityDisplay,
			&unitPrice, &totalPrice, &isMisc, &isNonStock, &it.ReturnedBase, &tPieces, &tLen, &tFeet, &tUnit); err != nil {
			return nil, err
		}
		it.InvoiceID = invoiceID
		if productID.Valid {
			v := productID.Int64
			it.ProductID = &v
		}
		it.UnitPrice, _ = money.ParseMoney(unitPrice)
		it.TotalPrice, _ = money.ParseMoney(totalPrice)
		it.IsMisc = isMisc != 0
		it.IsNonStock = isNonStock != 0
		if tPieces.Valid {
			lp, _ := money.ParseMoney(tLen.String)
			tf, _ := money.ParseMoney(tFeet.String)
			it.TIron = &TIron{Pieces: int(tPieces.Int64), LengthPerPiece: lp, TotalFeet: tf, Unit: tUnit.String}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Delete removes an invoice and every dependent row, restoring stock and
// reversing the customer-ledger charge. Requires payment_amount = 0 (I7)
// unless force is true.
func (e *Engine) Delete(tx *storage.Tx, invoiceID int64, force bool, reversalMode ReversalMode, now time.Time) error {
	inv, err := e.Get(tx, invoiceID)
	if err != nil {
		return err
	}
	if !force && inv.PaymentAmount.IsPositive() {
		return &BusinessRuleError{Rule: "I7", Message: fmt.Sprintf(
			"invoice %s: cannot delete with a non-zero payment_amount without force_delete", inv.BillNumber)}
	}

	// Capture the invoice's payment ids before any mutation: force_delete's
	// reversal/transfer handling below unlinks (or removes) these rows, and
	// daily-ledger cleanup needs the payment ids themselves, not the
	// invoice id, to find the entries those payments wrote.
	paymentIDs, err := e.paymentIDsFor(tx, invoiceID)
	if err != nil {
		return err
	}

	for _, it := range inv.Items {
		if it.Tracked() {
			if _, err := e.stock.AdjustStock(tx, *it.ProductID, it.QuantityBase, stock.In,
				"invoice_delete", invoiceID, inv.BillNumber, now); err != nil {
				return err
			}
		}
	}

	// The charge is only reversed here when nothing has been collected
	// against it yet. Once a payment exists, the original debit plus the
	// payment's own credit already leave the ledger in the correct state
	// (paid-off invoice -> balance unaffected by deleting the header); a
	// reversal entry on top of that would double the credit. The non-force
	// path can never reach here with a positive payment_amount (I7 above),
	// so this only ever fires for an unpaid invoice.
	if !inv.PaymentAmount.IsPositive() && inv.CustomerID != ledger.GuestCustomerID && inv.GrandTotal.IsPositive() {
		if _, err := e.ledger.AppendCustomerEntry(tx, inv.CustomerID, ledger.Credit, ledger.TxInvoiceReversal,
			inv.GrandTotal, "invoice", invoiceID, inv.BillNumber,
			fmt.Sprintf("Reversal of invoice %s charge", inv.BillNumber), now); err != nil {
			return err
		}
	}

	if force {
		if err := e.handlePaymentsOnForceDelete(tx, inv, reversalMode, now); err != nil {
			return err
		}
	}

	if err := e.deleteDependents(tx, invoiceID, paymentIDs); err != nil {
		return err
	}

	if e.cache != nil {
		e.cache.InvalidateByPrefix("invoices_")
		e.cache.InvalidateByPrefix("customer_")
		e.cache.InvalidateByPrefix("stock_")
	}
	return nil
}

// paymentIDsFor returns the ids of every payments row currently linked to
// invoiceID.
func (e *Engine) paymentIDsFor(tx Querier, invoiceID int64) ([]int64, error) {
	rows, err := tx.Query(`SELECT id FROM payments WHERE invoice_id = ?`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice: load payment ids for %d: %w", invoiceID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReversalMode selects how force_delete handles previously recorded
// payments against the deleted invoice.
type ReversalMode string

const (
	ReversalReverse  ReversalMode = "reverse"  // convert paid amounts to customer credit
	ReversalTransfer ReversalMode = "transfer" // keep payment rows as unlinked advance payments
	ReversalIgnore   ReversalMode = "ignore"   // hard-delete payment rows
)

func (e *Engine) handlePaymentsOnForceDelete(tx *storage.Tx, inv Invoice, mode ReversalMode, now time.Time) error {
	switch mode {
	case ReversalTransfer:
		_, err := tx.Exec(`UPDATE payments SET invoice_id = NULL WHERE invoice_id = ?`, inv.ID)
		return err
	case ReversalIgnore:
		_, err := tx.Exec(`DELETE FROM payments WHERE invoice_id = ?`, inv.ID)
		return err
	case ReversalReverse, "":
		// Paid amounts become customer credit automatically: the original
		// charge debit plus the payment's own credit are already on the
		// ledger, and leaving both untouched is exactly "this much is now
		// standing credit". Unlink the payment rows from the deleted
		// invoice so they read as advance payments.
		_, err := tx.Exec(`UPDATE payments SET invoice_id = NULL WHERE invoice_id = ?`, inv.ID)
		return err
	default:
		return fmt.Errorf("invoice: unknown reversal mode %q", mode)
	}
}

// deleteDependents removes every row that hangs off the invoice header
// except the customer ledger: that ledger is append-only (§9 "the ledger
// is THE source of truth") and a header delete, even a forced one, must
// never rewrite its history — the charge debit and any payment credits
// already say everything that happened, and Delete above accounts for
// their net effect rather than erasing it.
func (e *Engine) deleteDependents(tx *storage.Tx, invoiceID int64, paymentIDs []int64) error {
	for _, paymentID := range paymentIDs {
		if _, err := tx.Exec(`DELETE FROM daily_ledger_entries WHERE reference_type = 'payment' AND reference_id = ?`,
			paymentID); err != nil {
			return fmt.Errorf("invoice: delete payment daily-ledger entries: %w", err)
		}
	}

	stmts := []string{
		`DELETE FROM invoice_items WHERE invoice_id = ?`,
		`DELETE FROM stock_movements WHERE reference_type = 'invoice' AND reference_id = ?`,
		`DELETE FROM daily_ledger_entries WHERE reference_type = 'invoice' AND reference_id = ?`,
		`DELETE FROM invoice_payment_allocations WHERE invoice_id = ?`,
		`DELETE FROM payments WHERE invoice_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, invoiceID); err != nil {
			return fmt.Errorf("invoice: delete dependents: %w", err)
		}
	}
	if _, err := tx.Exec(`UPDATE returns SET original_invoice_id = NULL WHERE original_invoice_id = ?`, invoiceID); err != nil {
		return fmt.Errorf("invoice: unlink returns: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM invoices WHERE id = ?`, invoiceID); err != nil {
		return fmt.Errorf("invoice: delete header: %w", err)
	}
	return nil
}

// CheckVersion enforces optimistic concurrency (I7/S6): the caller must
// supply the version it last read.
func (e *Engine) CheckVersion(tx Querier, invoiceID int64, expectedVersion int) error {
	row := tx.QueryRow(`SELECT version FROM invoices WHERE id = ?`, invoiceID)
	var actual int
	if err := row.Scan(&actual); err != nil {
		return fmt.Errorf("invoice: load version for %d: %w", invoiceID, err)
	}
	if actual != expectedVersion {
		return &ConflictError{InvoiceID: invoiceID, ExpectedVersion: expectedVersion, ActualVersion: actual}
	}
	return nil
}

// BumpVersion increments the optimistic-lock column after a successful
// edit.
func (e *Engine) BumpVersion(tx Querier, invoiceID int64) error {
	_, err := tx.Exec(`UPDATE invoices SET version = version + 1 WHERE id = ?`, invoiceID)
	return err
}

// editTolerance is the header-balance wiggle room §4.H grants a T-iron
// recalculation: an item edit that nets out within this amount is allowed
// even on an invoice that already carries payments (I7 otherwise forbids
// any item edit once payment_amount is non-zero).
var editTolerance = money.NewMoneyFromFloat(0.01)

// AddItems implements §4.H add_items: append new lines to invoiceID under
// the optimistic-lock version check, rebalancing stock and the customer
// ledger for the added total.
func (e *Engine) AddItems(tx *storage.Tx, invoiceID int64, items []ItemRequest, expectedVersion int, now time.Time) (Invoice, error) {
	return e.UpdateInvoice(tx, invoiceID, UpdateRequest{AddItems: items}, expectedVersion, now)
}

// UpdateItemQuantity implements §4.H update_item_quantity: change one
// line's quantity/price, rebalancing stock by the signed delta ("qty
// increased" / "qty decreased") and the customer ledger by the resulting
// change in outstanding balance.
func (e *Engine) UpdateItemQuantity(tx *storage.Tx, invoiceID int64, edit ItemEdit, expectedVersion int, now time.Time) (Invoice, error) {
	return e.UpdateInvoice(tx, invoiceID, UpdateRequest{UpdateItems: []ItemEdit{edit}}, expectedVersion, now)
}

// RemoveItems implements §4.H remove_items: drop lines from invoiceID,
// restocking each tracked item and crediting the customer ledger for the
// removed total.
func (e *Engine) RemoveItems(tx *storage.Tx, invoiceID int64, itemIDs []int64, expectedVersion int, now time.Time) (Invoice, error) {
	return e.UpdateInvoice(tx, invoiceID, UpdateRequest{RemoveItemIDs: itemIDs}, expectedVersion, now)
}

// UpdateInvoice implements §4.H update_invoice(req, expected_version): an
// optimistic-locked item reconciliation combining add/update/remove in one
// pass. It rejects a stale expectedVersion with a ConflictError (S6),
// requires payment_amount = 0 (I7) unless the net change to the header
// balance is within editTolerance (the T-iron-recalculation carve-out),
// rebalances stock per item with an explicit in/out movement describing
// the scenario, recomputes totals and status from the items themselves,
// posts the delta between old and new outstanding to the customer ledger,
// and bumps the version.
func (e *Engine) UpdateInvoice(tx *storage.Tx, invoiceID int64, req UpdateRequest, expectedVersion int, now time.Time) (Invoice, error) {
	if err := e.CheckVersion(tx, invoiceID, expectedVersion); err != nil {
		return Invoice{}, err
	}

	inv, err := e.Get(tx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	byID := make(map[int64]Item, len(inv.Items))
	for _, it := range inv.Items {
		byID[it.ID] = it
	}
	for _, id := range req.RemoveItemIDs {
		if _, ok := byID[id]; !ok {
			return Invoice{}, &BusinessRuleError{Rule: "item_not_found", Message: fmt.Sprintf(
				"invoice %s: item %d not found", inv.BillNumber, id)}
		}
	}
	for _, edit := range req.UpdateItems {
		if _, ok := byID[edit.ItemID]; !ok {
			return Invoice{}, &BusinessRuleError{Rule: "item_not_found", Message: fmt.Sprintf(
				"invoice %s: item %d not found", inv.BillNumber, edit.ItemID)}
		}
	}
	remainingCount := len(inv.Items) - len(req.RemoveItemIDs) + len(req.AddItems)
	if remainingCount <= 0 {
		return Invoice{}, &BusinessRuleError{Rule: "invoice_requires_items", Message: fmt.Sprintf(
			"invoice %s: reconciliation would leave no items", inv.BillNumber)}
	}

	oldOutstanding := inv.RemainingBalance
	projectedGrand := projectReconciledTotal(inv.Items, req)
	delta := projectedGrand.Sub(inv.GrandTotal)
	if inv.PaymentAmount.IsPositive() && moneyAbs(delta).GreaterThan(editTolerance) {
		return Invoice{}, &BusinessRuleError{Rule: "I7", Message: fmt.Sprintf(
			"invoice %s: cannot edit items once payment_amount is non-zero (change of %s exceeds tolerance)",
			inv.BillNumber, moneyAbs(delta))}
	}

	for _, id := range req.RemoveItemIDs {
		it := byID[id]
		if it.Tracked() {
			if _, err := e.stock.AdjustStock(tx, *it.ProductID, it.QuantityBase, stock.In,
				"item removed", invoiceID, inv.BillNumber, now); err != nil {
				return Invoice{}, err
			}
		}
		if _, err := tx.Exec(`DELETE FROM invoice_items WHERE id = ?`, id); err != nil {
			return Invoice{}, fmt.Errorf("invoice: remove item %d: %w", id, err)
		}
	}

	for _, edit := range req.UpdateItems {
		it := byID[edit.ItemID]
		if it.Tracked() {
			switch delta := edit.QuantityBase - it.QuantityBase; {
			case delta > 0:
				if _, err := e.stock.AdjustStock(tx, *it.ProductID, delta, stock.Out,
					"qty increased", invoiceID, inv.BillNumber, now); err != nil {
					return Invoice{}, err
				}
			case delta < 0:
				if _, err := e.stock.AdjustStock(tx, *it.ProductID, -delta, stock.In,
					"qty decreased", invoiceID, inv.BillNumber, now); err != nil {
					return Invoice{}, err
				}
			}
		}
		if _, err := tx.Exec(`UPDATE invoice_items SET quantity_base = ?, quantity_display = ?, unit_price = ?, total_price = ? WHERE id = ?`,
			edit.QuantityBase, edit.QuantityDisplay, edit.UnitPrice.String(), edit.TotalPrice.String(), edit.ItemID); err != nil {
			return Invoice{}, fmt.Errorf("invoice: update item %d: %w", edit.ItemID, err)
		}
	}

	for _, ir := range req.AddItems {
		item, err := e.insertItem(tx, invoiceID, ir)
		if err != nil {
			return Invoice{}, err
		}
		if item.Tracked() {
			if _, err := e.stock.AdjustStock(tx, *item.ProductID, item.QuantityBase, stock.Out,
				"item added", invoiceID, inv.BillNumber, now); err != nil {
				return Invoice{}, err
			}
		}
	}

	items, err := e.loadItems(tx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	newGrand := money.Zero
	for _, it := range items {
		newGrand = newGrand.Add(it.TotalPrice)
	}
	newRemaining := newGrand.Sub(inv.PaymentAmount).Max0()
	status := DeriveStatus(newGrand, inv.PaymentAmount, newRemaining)

	if _, err := tx.Exec(`UPDATE invoices SET grand_total = ?, remaining_balance = ?, status = ? WHERE id = ?`,
		newGrand.String(), newRemaining.String(), string(status), invoiceID); err != nil {
		return Invoice{}, fmt.Errorf("invoice: persist reconciled totals: %w", err)
	}

	actualDelta := newRemaining.Sub(oldOutstanding)
	if inv.CustomerID != ledger.GuestCustomerID && !actualDelta.IsZero() {
		if actualDelta.IsPositive() {
			if _, err := e.ledger.AppendCustomerEntry(tx, inv.CustomerID, ledger.Debit, ledger.TxInvoiceCharge,
				actualDelta, "invoice", invoiceID, inv.BillNumber,
				fmt.Sprintf("Invoice %s item reconciliation (+%s)", inv.BillNumber, actualDelta), now); err != nil {
				return Invoice{}, err
			}
		} else {
			credit := actualDelta.Neg()
			if _, err := e.ledger.AppendCustomerEntry(tx, inv.CustomerID, ledger.Credit, ledger.TxInvoiceReversal,
				credit, "invoice", invoiceID, inv.BillNumber,
				fmt.Sprintf("Invoice %s item reconciliation (-%s)", inv.BillNumber, credit), now); err != nil {
				return Invoice{}, err
			}
		}
	}

	if err := e.BumpVersion(tx, invoiceID); err != nil {
		return Invoice{}, err
	}

	if e.cache != nil {
		e.cache.InvalidateByPrefix("invoices_")
		e.cache.InvalidateByPrefix("customer_")
		e.cache.InvalidateByPrefix("stock_")
	}

	return e.Get(tx, invoiceID)
}

// projectReconciledTotal computes what grand_total would be after req is
// applied to items, without writing anything — used to gate I7 before any
// stock or ledger mutation happens.
func projectReconciledTotal(items []Item, req UpdateRequest) money.Money {
	totals := make(map[int64]money.Money, len(items))
	for _, it := range items {
		totals[it.ID] = it.TotalPrice
	}
	for _, id := range req.RemoveItemIDs {
		delete(totals, id)
	}
	for _, edit := range req.UpdateItems {
		totals[edit.ItemID] = edit.TotalPrice
	}
	sum := money.Zero
	for _, t := range totals {
		sum = sum.Add(t)
	}
	for _, ir := range req.AddItems {
		sum = sum.Add(ir.TotalPrice)
	}
	return sum
}

func moneyAbs(m money.Money) money.Money {
	if m.IsNegative() {
		return m.Neg()
	}
	return m
}

// ReduceForReturn lowers an invoice's totals by amount (floor at zero),
// used by the returns engine (J) to shrink grand_total / remaining_balance
// after a settled return. It recomputes status from the new totals but
// does not touch payment_amount, which is unaffected by a return.
func (e *Engine) ReduceForReturn(tx Querier, invoiceID int64, amount money.Money) (Invoice, error) {
	inv, err := e.load(tx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	newGrand := inv.GrandTotal.Sub(amount).Max0()
	newRemaining := newGrand.Sub(inv.PaymentAmount).Max0()
	status := DeriveStatus(newGrand, inv.PaymentAmount, newRemaining)

	if _, err := tx.Exec(`UPDATE invoices SET grand_total = ?, remaining_balance = ?, status = ? WHERE id = ?`,
		newGrand.String(), newRemaining.String(), string(status), invoiceID); err != nil {
		return Invoice{}, fmt.Errorf("invoice: reduce for return: %w", err)
	}
	if e.cache != nil {
		e.cache.InvalidateByPrefix("invoices_")
	}
	inv.GrandTotal = newGrand
	inv.RemainingBalance = newRemaining
	inv.Status = status
	return inv, nil
}

// MarkItemReturned increments an item's cumulative returned_base counter,
// enforcing that it never exceeds the item's original quantity.
func (e *Engine) MarkItemReturned(tx Querier, itemID int64, additionalBase int64) error {
	row := tx.QueryRow(`SELECT quantity_base, returned_base FROM invoice_items WHERE id = ?`, itemID)
	var qty, returned int64
	if err := row.Scan(&qty, &returned); err != nil {
		return fmt.Errorf("invoice: load item %d: %w", itemID, err)
	}
	if returned+additionalBase > qty {
		return &BusinessRuleError{Rule: "return_exceeds_original_quantity", Message: fmt.Sprintf(
			"invoice item %d: returning %d would exceed original quantity %d (already returned %d)",
			itemID, additionalBase, qty, returned)}
	}
	_, err := tx.Exec(`UPDATE invoice_items SET returned_base = returned_base + ? WHERE id = ?`, additionalBase, itemID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
