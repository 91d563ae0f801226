package returns

import (
	"fmt"
	"time"

	"github.com/ironmark/ledgerengine/cache"
	"github.com/ironmark/ledgerengine/clock"
	"github.com/ironmark/ledgerengine/invoice"
	"github.com/ironmark/ledgerengine/ledger"
	"github.com/ironmark/ledgerengine/money"
	"github.com/ironmark/ledgerengine/stock"
	"github.com/ironmark/ledgerengine/storage"
)

// BusinessRuleError reports a returns-specific rule violation: a return
// attempted on a partially-paid invoice, or a settlement type not permitted
// for the invoice's payment state. A quantity exceeding what remains
// returnable is reported by invoice.MarkItemReturned as an
// *invoice.BusinessRuleError.
type BusinessRuleError struct {
	Rule    string
	Message string
}

func (e *BusinessRuleError) Error() string { return e.Message }

// Engine is the returns engine (J).
type Engine struct {
	invoice *invoice.Engine
	stock   *stock.Engine
	ledger  *ledger.Manager
	cache   *cache.Cache
}

// New builds a returns Engine.
func New(inv *invoice.Engine, s *stock.Engine, l *ledger.Manager, c *cache.Cache) *Engine {
	return &Engine{invoice: inv, stock: s, ledger: l, cache: c}
}

// Create validates all return rules before any write, then performs the
// return atomically: returns + return_items rows, stock restoration for
// tracked items, settlement (ledger credit, optionally plus a cash
// daily-ledger entry), and the invoice total/status adjustment.
func (e *Engine) Create(tx *storage.Tx, req Request, now time.Time) (Return, error) {
	inv, err := e.invoice.Get(tx, req.OriginalInvoiceID)
	if err != nil {
		return Return{}, err
	}
	if inv.Status == invoice.PartiallyPaid {
		return Return{}, &BusinessRuleError{Rule: "no_return_on_partially_paid",
			Message: fmt.Sprintf("invoice %s: returns are not permitted on a partially paid invoice", inv.BillNumber)}
	}

	switch req.Settlement {
	case SettlementCash:
		if inv.Status != invoice.Paid {
			return Return{}, &BusinessRuleError{Rule: "cash_settlement_requires_paid_invoice",
				Message: fmt.Sprintf("invoice %s: cash settlement requires a fully paid invoice", inv.BillNumber)}
		}
	case SettlementLedger:
		// allowed whether the invoice is paid or unpaid
	default:
		return Return{}, fmt.Errorf("returns: unknown settlement type %q", req.Settlement)
	}

	total := money.Zero
	for _, it := range req.Items {
		total = total.Add(it.Amount)
	}

	for _, it := range req.Items {
		if err := e.invoice.MarkItemReturned(tx, it.InvoiceItemID, it.QuantityBase); err != nil {
			return Return{}, err
		}
	}

	returnNumber, err := e.nextReturnNumber(tx, now)
	if err != nil {
		return Return{}, err
	}

	res, err := tx.Exec(`INSERT INTO returns (return_number, original_invoice_id, settlement_type, settlement_amount, created_at)
		VALUES (?, ?, ?, ?, ?)`, returnNumber, req.OriginalInvoiceID, string(req.Settlement), total.String(), clock.DateString(now))
	if err != nil {
		return Return{}, fmt.Errorf("returns: insert header: %w", err)
	}
	returnID, _ := res.LastInsertId()

	for _, it := range req.Items {
		if _, err := tx.Exec(`INSERT INTO return_items (return_id, invoice_item_id, product_id, quantity_base, amount)
			VALUES (?, ?, ?, ?, ?)`, returnID, it.InvoiceItemID, it.ProductID, it.QuantityBase, it.Amount.String()); err != nil {
			return Return{}, fmt.Errorf("returns: insert item: %w", err)
		}
		if it.ProductID != nil {
			if _, err := e.stock.AdjustStock(tx, *it.ProductID, it.QuantityBase, stock.In,
				"return", returnID, returnNumber, now); err != nil {
				return Return{}, err
			}
		}
	}

	if inv.CustomerID != ledger.GuestCustomerID {
		if _, err := e.ledger.AppendCustomerEntry(tx, inv.CustomerID, ledger.Credit, ledger.TxReturnCredit,
			total, "return", returnID, returnNumber, fmt.Sprintf("Return %s credit", returnNumber), now); err != nil {
			return Return{}, err
		}
	}
	if req.Settlement == SettlementCash {
		// The credit entry just written grew available credit by `total`;
		// the cash actually handed back is capped at the resulting
		// available credit, per §4.J "limited by available credit".
		available, err := e.ledger.AvailableCredit(tx, inv.CustomerID, nil)
		if err != nil {
			return Return{}, err
		}
		cashOut := total.Min(available)
		if err := e.ledger.AppendDailyEntry(tx, ledger.Outgoing, "return_refund", cashOut, "cash", req.ChannelID,
			"return", returnID, now); err != nil {
			return Return{}, err
		}
	}

	if _, err := e.invoice.ReduceForReturn(tx, req.OriginalInvoiceID, total); err != nil {
		return Return{}, err
	}

	if e.cache != nil {
		e.cache.InvalidateByPrefix("invoices_")
		e.cache.InvalidateByPrefix("customer_")
		e.cache.InvalidateByPrefix("stock_")
	}

	return Return{
		ID: returnID, ReturnNumber: returnNumber, OriginalInvoiceID: req.OriginalInvoiceID,
		Settlement: req.Settlement, SettlementAmount: total, CreatedAt: clock.DateString(now),
	}, nil
}

// nextReturnNumber produces RET-YYYYMMDD-HHMMSS-NNN, unique even when
// several returns are created within the same second.
func (e *Engine) nextReturnNumber(tx *storage.Tx, now time.Time) (string, error) {
	prefix := fmt.Sprintf("RET-%s-%s", now.Format("20060102"), now.Format("150405"))
	row := tx.QueryRow(`SELECT COUNT(*) FROM returns WHERE return_number LIKE ?`, prefix+"-%")
	var n int
	if err := row.Scan(&n); err != nil {
		return "", fmt.Errorf("returns: sequence scan: %w", err)
	}
	return fmt.Sprintf("%s-%03d", prefix, n+1), nil
}
