package payment

import (
	"fmt"
	"time"

	"github.com/ironmark/ledgerengine/cache"
	"github.com/ironmark/ledgerengine/clock"
	"github.com/ironmark/ledgerengine/invoice"
	"github.com/ironmark/ledgerengine/ledger"
	"github.com/ironmark/ledgerengine/money"
	"github.com/ironmark/ledgerengine/storage"
)

// ErrInsufficientCredit is returned by Refund when the requested amount
// exceeds the customer's available credit.
type ErrInsufficientCredit struct {
	CustomerID int64
	Available  money.Money
	Requested  money.Money
}

func (e *ErrInsufficientCredit) Error() string {
	return fmt.Sprintf("payment: customer %d has %s available credit, requested %s", e.CustomerID, e.Available, e.Requested)
}

// Engine is the payment engine (I).
type Engine struct {
	ledger  *ledger.Manager
	invoice *invoice.Engine
	cache   *cache.Cache
}

// New builds a payment Engine.
func New(l *ledger.Manager, inv *invoice.Engine, c *cache.Cache) *Engine {
	return &Engine{ledger: l, invoice: inv, cache: c}
}

// RecordSimple writes one payments row, the matching customer-ledger entry
// (credit for an incoming payment, debit for an outgoing one — skipped for
// the guest customer), and a daily-ledger entry for the channel actually
// used. When linked to an invoice, the invoice's payment_amount/
// remaining_balance/status are recomputed from SUM(payments), never
// adjusted in place.
func (e *Engine) RecordSimple(tx *storage.Tx, req SimpleRequest, now time.Time) (Payment, error) {
	p, err := e.insertPayment(tx, req.CustomerID, req.InvoiceID, req.Amount, req.Method, req.ChannelID, req.Type, now)
	if err != nil {
		return Payment{}, err
	}

	if req.CustomerID != ledger.GuestCustomerID {
		entryType := ledger.Credit
		txType := ledger.TxPayment
		if req.Type == Outgoing {
			entryType = ledger.Debit
			txType = ledger.TxRefund
		}
		if _, err := e.ledger.AppendCustomerEntry(tx, req.CustomerID, entryType, txType, req.Amount,
			"payment", p.ID, "", fmt.Sprintf("Payment %s", p.Code), now); err != nil {
			return Payment{}, err
		}
	}

	direction := ledger.Incoming
	if req.Type == Outgoing {
		direction = ledger.Outgoing
	}
	if err := e.ledger.AppendDailyEntry(tx, direction, "payment", req.Amount, string(req.Method), req.ChannelID,
		"payment", p.ID, now); err != nil {
		return Payment{}, err
	}

	if req.InvoiceID != nil {
		if _, err := e.invoice.RecomputeStatus(tx, *req.InvoiceID); err != nil {
			return Payment{}, err
		}
	}

	if e.cache != nil {
		e.cache.InvalidateByPrefix("customer_")
		e.cache.InvalidateByPrefix("invoices_")
	}
	return p, nil
}

func (e *Engine) insertPayment(tx *storage.Tx, customerID int64, invoiceID *int64, amount money.Money,
	method Method, channelID *int64, typ Type, now time.Time) (Payment, error) {
	res, err := tx.Exec(`INSERT INTO payments
		(code, customer_id, invoice_id, amount, method, channel_id, payment_type, created_at, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"", customerID, invoiceID, amount.String(), string(method), channelID, string(typ),
		clock.DateString(now), clock.TimeString(now))
	if err != nil {
		return Payment{}, fmt.Errorf("payment: insert: %w", err)
	}
	id, _ := res.LastInsertId()
	code := fmt.Sprintf("PAY-%06d", id)
	if _, err := tx.Exec(`UPDATE payments SET code = ? WHERE id = ?`, code, id); err != nil {
		return Payment{}, fmt.Errorf("payment: assign code: %w", err)
	}
	return Payment{
		ID: id, Code: code, CustomerID: customerID, InvoiceID: invoiceID, Amount: amount,
		Method: method, ChannelID: channelID, Type: typ, CreatedAt: clock.DateString(now), CreatedTime: clock.TimeString(now),
	}, nil
}

// pendingInvoice is the minimal projection RecordFIFO needs to walk a
// customer's open invoices oldest-first.
type pendingInvoice struct {
	id        int64
	billNo    string
	remaining money.Money
}

// RecordFIFO loads every pending/partially_paid invoice for the customer
// in (created_at asc, id asc) order and allocates the incoming amount
// invoice-by-invoice until exhausted. Any leftover becomes customer credit
// automatically, because the single ledger credit written below already
// reflects the full amount received, regardless of how much of it was
// applied to invoices.
//
// Writes exactly one parent payments row (the total), one child payments
// row per allocated invoice ("<code>-<n>", so reporting can see per-invoice
// payments), one invoice_payment_allocations row per allocation, one
// customer-ledger credit for the total, N zero-amount adjustment entries
// ("Applied X to INV-#"), and one daily-ledger entry for the total.
func (e *Engine) RecordFIFO(tx *storage.Tx, req FIFORequest, now time.Time) (Payment, []Allocation, error) {
	parent, err := e.insertPayment(tx, req.CustomerID, nil, req.Amount, req.Method, req.ChannelID, Incoming, now)
	if err != nil {
		return Payment{}, nil, err
	}

	invoices, err := e.loadPendingInvoices(tx, req.CustomerID)
	if err != nil {
		return Payment{}, nil, err
	}

	remainingToAllocate := req.Amount
	var allocations []Allocation
	order := 0
	for _, pi := range invoices {
		if !remainingToAllocate.IsPositive() {
			break
		}
		alloc := remainingToAllocate.Min(pi.remaining)
		if alloc.IsZero() {
			continue
		}
		order++

		child, err := e.insertPayment(tx, req.CustomerID, &pi.id, alloc, req.Method, req.ChannelID, Incoming, now)
		if err != nil {
			return Payment{}, nil, err
		}
		if _, err := tx.Exec(`UPDATE payments SET code = ? WHERE id = ?`,
			fmt.Sprintf("%s-%d", parent.Code, order), child.ID); err != nil {
			return Payment{}, nil, fmt.Errorf("payment: code child payment: %w", err)
		}
		// Re-derive from SUM(payments), never in-place arithmetic.
		updated, err := e.invoice.RecomputeStatus(tx, pi.id)
		if err != nil {
			return Payment{}, nil, err
		}
		before := updated.RemainingBalance.Add(alloc)

		res, err := tx.Exec(`INSERT INTO invoice_payment_allocations
			(payment_id, invoice_id, allocated_amount, allocation_order, balance_before, balance_after, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			parent.ID, pi.id, alloc.String(), order, before.String(), updated.RemainingBalance.String(), clock.DateString(now))
		if err != nil {
			return Payment{}, nil, fmt.Errorf("payment: insert allocation: %w", err)
		}
		allocID, _ := res.LastInsertId()

		if req.CustomerID != ledger.GuestCustomerID {
			if _, err := e.ledger.AppendAdjustment(tx, req.CustomerID, ledger.TxAllocationNote,
				"invoice", pi.id, pi.billNo, fmt.Sprintf("Applied %s to %s", alloc, pi.billNo), now); err != nil {
				return Payment{}, nil, err
			}
		}

		allocations = append(allocations, Allocation{
			ID: allocID, PaymentID: parent.ID, InvoiceID: pi.id, AllocatedAmount: alloc, Order: order,
			BalanceBefore: before, BalanceAfter: updated.RemainingBalance,
		})
		remainingToAllocate = remainingToAllocate.Sub(alloc)
	}

	if req.CustomerID != ledger.GuestCustomerID {
		if _, err := e.ledger.AppendCustomerEntry(tx, req.CustomerID, ledger.Credit, ledger.TxPayment,
			req.Amount, "payment", parent.ID, parent.Code, fmt.Sprintf("Payment %s", parent.Code), now); err != nil {
			return Payment{}, nil, err
		}
	}

	if err := e.ledger.AppendDailyEntry(tx, ledger.Incoming, "payment", req.Amount, string(req.Method), req.ChannelID,
		"payment", parent.ID, now); err != nil {
		return Payment{}, nil, err
	}

	if e.cache != nil {
		e.cache.InvalidateByPrefix("customer_")
		e.cache.InvalidateByPrefix("invoices_")
	}
	return parent, allocations, nil
}

func (e *Engine) loadPendingInvoices(tx *storage.Tx, customerID int64) ([]pendingInvoice, error) {
	rows, err := tx.Query(`SELECT id, bill_number, remaining_balance FROM invoices
		WHERE customer_id = ? AND status IN ('pending', 'partially_paid')
		ORDER BY created_at ASC, id ASC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("payment: load pending invoices: %w", err)
	}
	defer rows.Close()

	var out []pendingInvoice
	for rows.Next() {
		var pi pendingInvoice
		var rem string
		if err := rows.Scan(&pi.id, &pi.billNo, &rem); err != nil {
			return nil, err
		}
		pi.remaining, _ = money.ParseMoney(rem)
		out = append(out, pi)
	}
	return out, rows.Err()
}

// ApplyCredit applies up to requested of a customer's standing credit
// toward invoiceID, capped by both available_credit (computed before the
// invoice's own charge, via excludeInvoiceID) and the invoice's own
// outstanding balance, as a "customer_credit" payment (method="other").
// This keeps the invoice's payment_amount and status derived from the
// single payments-table source of truth instead of a separate code path
// for credit application (S2). The credit is already reflected in the
// customer's balance by the invoice's own charge debit, so applying it
// records only a payments row plus a zero-amount adjustment note for
// audit visibility — writing a second real ledger credit here would
// double-count against the standing credit. No daily-ledger entry is
// written: no cash moved.
func (e *Engine) ApplyCredit(tx *storage.Tx, customerID, invoiceID int64, requested money.Money, now time.Time) (money.Money, error) {
	available, err := e.ledger.AvailableCredit(tx, customerID, &invoiceID)
	if err != nil {
		return money.Zero, err
	}
	inv, err := e.invoice.Get(tx, invoiceID)
	if err != nil {
		return money.Zero, err
	}
	applied := requested.Min(available).Min(inv.RemainingBalance)
	if !applied.IsPositive() {
		return money.Zero, nil
	}

	p, err := e.insertPayment(tx, customerID, &invoiceID, applied, "other", nil, Incoming, now)
	if err != nil {
		return money.Zero, err
	}
	if customerID != ledger.GuestCustomerID {
		if _, err := e.ledger.AppendAdjustment(tx, customerID, ledger.TxCreditApplied,
			"payment", p.ID, p.Code, fmt.Sprintf("Credit %s applied via %s", applied, p.Code), now); err != nil {
			return money.Zero, err
		}
	}
	if _, err := e.invoice.RecomputeStatus(tx, invoiceID); err != nil {
		return money.Zero, err
	}
	if e.cache != nil {
		e.cache.InvalidateByPrefix("customer_")
		e.cache.InvalidateByPrefix("invoices_")
	}
	return applied, nil
}

// Refund gives cash back to a customer against standing credit
// (available_credit = max(0, -balance)). Writes a customer-ledger debit
// (reduces the credit) and a daily-ledger outgoing entry.
func (e *Engine) Refund(tx *storage.Tx, req RefundRequest, now time.Time) (Payment, error) {
	available, err := e.ledger.AvailableCredit(tx, req.CustomerID, nil)
	if err != nil {
		return Payment{}, err
	}
	if req.Amount.GreaterThan(available) {
		return Payment{}, &ErrInsufficientCredit{CustomerID: req.CustomerID, Available: available, Requested: req.Amount}
	}

	p, err := e.insertPayment(tx, req.CustomerID, nil, req.Amount, req.Method, req.ChannelID, Outgoing, now)
	if err != nil {
		return Payment{}, err
	}

	if req.CustomerID != ledger.GuestCustomerID {
		if _, err := e.ledger.AppendCustomerEntry(tx, req.CustomerID, ledger.Debit, ledger.TxRefund,
			req.Amount, "payment", p.ID, p.Code, fmt.Sprintf("Refund %s", p.Code), now); err != nil {
			return Payment{}, err
		}
	}
	if err := e.ledger.AppendDailyEntry(tx, ledger.Outgoing, "refund", req.Amount, string(req.Method), req.ChannelID,
		"payment", p.ID, now); err != nil {
		return Payment{}, err
	}

	if e.cache != nil {
		e.cache.InvalidateByPrefix("customer_")
	}
	return p, nil
}
