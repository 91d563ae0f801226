/*
Package engine is the owned engine handle (§9 design notes): explicit
construction, scoped lifetime, and one public method per operation in
spec §4. It wires components A-K together and is the only package that
opens a storage transaction directly — every other package only ever
receives one.
*/
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ironmark/ledgerengine/cache"
	"github.com/ironmark/ledgerengine/clock"
	"github.com/ironmark/ledgerengine/events"
	"github.com/ironmark/ledgerengine/invoice"
	"github.com/ironmark/ledgerengine/ledger"
	"github.com/ironmark/ledgerengine/money"
	"github.com/ironmark/ledgerengine/payment"
	"github.com/ironmark/ledgerengine/returns"
	"github.com/ironmark/ledgerengine/stock"
	"github.com/ironmark/ledgerengine/storage"
)

// Engine owns the storage handle and every component built on top of it.
type Engine struct {
	store  *storage.Store
	cache  *cache.Cache
	ledger *ledger.Manager
	stock  *stock.Engine
	invoice *invoice.Engine
	payment *payment.Engine
	returns *returns.Engine
	events  *events.Emitter
	clock   clock.Clock
	cfg     Config
	logger  *log.Logger
}

// Option customizes an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the host clock (tests inject clock.Fixed).
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

// New opens (or creates) the embedded store at cfg.DBPath and wires every
// component together. Use ":memory:" for an ephemeral store in tests.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	st, err := storage.Open(cfg.DBPath, cfg.BusyTimeout, storage.RetryConfig{
		Max: cfg.TransactionRetry.Max, InitialBackoff: cfg.TransactionRetry.InitialBackoff, Factor: cfg.TransactionRetry.Factor,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	c := cache.New(cache.Config{MaxSize: cfg.Cache.MaxSize, DefaultTTL: cfg.Cache.DefaultTTL})
	lm := ledger.New(c)
	se := stock.New(c, cfg.AllowNegativeStock)
	ie := invoice.New(se, lm, c)
	pe := payment.New(lm, ie, c)
	re := returns.New(ie, se, lm, c)

	e := &Engine{
		store: st, cache: c, ledger: lm, stock: se, invoice: ie, payment: pe, returns: re,
		events: events.New(nil), clock: clock.System{}, cfg: cfg, logger: log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.events = events.New(e.logger)
	return e, nil
}

// Close releases the underlying store handle.
func (e *Engine) Close() error { return e.store.Close() }

// Subscribe registers a post-commit event handler.
func (e *Engine) Subscribe(topic events.Topic, h events.Handler) { e.events.Subscribe(topic, h) }

func (e *Engine) now() time.Time { return e.clock.Now() }

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.OperationTimeout)
}

// CreateInvoiceRequest bundles the invoice body with the payment
// instructions §4.H folds into invoice creation: optional cash amount and
// optional credit application.
type CreateInvoiceRequest struct {
	CustomerID  int64 `validate:"min=-1"`
	Items       []invoice.ItemRequest `validate:"required,min=1,dive"`
	CashAmount  money.Money
	CashMethod  payment.Method
	ChannelID   *int64
	ApplyCredit money.Money
}

// CreateInvoice implements §4.H create_invoice: validates, opens one
// immediate transaction, inserts the header/items, decrements stock,
// writes the customer-ledger charge, applies credit and/or cash payments,
// invalidates caches, and emits INVOICE_CREATED plus related events after
// commit.
func (e *Engine) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (invoice.Invoice, error) {
	if err := validateRequest(req); err != nil {
		return invoice.Invoice{}, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var result invoice.Invoice
	var appliedCredit money.Money
	now := e.now()

	err := e.store.WithImmediate(ctx, func(tx *storage.Tx) error {
		created, err := e.invoice.Create(tx, invoice.CreateRequest{CustomerID: req.CustomerID, Items: req.Items}, now)
		if err != nil {
			return err
		}

		if req.ApplyCredit.IsPositive() {
			applied, err := e.payment.ApplyCredit(tx, req.CustomerID, created.ID, req.ApplyCredit, now)
			if err != nil {
				return err
			}
			appliedCredit = applied
		}
		if req.CashAmount.IsPositive() {
			if _, err := e.payment.RecordSimple(tx, payment.SimpleRequest{
				CustomerID: req.CustomerID, InvoiceID: &created.ID, Amount: req.CashAmount,
				Method: req.CashMethod, ChannelID: req.ChannelID, Type: payment.Incoming,
			}, now); err != nil {
				return err
			}
		}

		final, err := e.invoice.Get(tx, created.ID)
		if err != nil {
			return err
		}
		result = final
		return nil
	})
	if err != nil {
		return invoice.Invoice{}, classify(err)
	}

	e.events.Emit(events.InvoiceCreated, map[string]any{"invoice_id": result.ID, "bill_number": result.BillNumber})
	e.events.Emit(events.CustomerBalanceUpdated, map[string]any{"customer_id": req.CustomerID})
	if appliedCredit.IsPositive() || req.CashAmount.IsPositive() {
		e.events.Emit(events.InvoicePaymentReceived, map[string]any{"invoice_id": result.ID})
	}
	for _, it := range result.Items {
		if it.Tracked() {
			e.events.Emit(events.StockUpdated, map[string]any{"product_id": *it.ProductID})
		}
	}
	return result, nil
}

// GetInvoice loads an invoice with its items directly from the store
// (read-only, no transaction needed).
func (e *Engine) GetInvoice(ctx context.Context, invoiceID int64) (invoice.Invoice, error) {
	inv, err := e.invoice.Get(e.store.DB(), invoiceID)
	if err != nil {
		return invoice.Invoice{}, classify(err)
	}
	return inv, nil
}

// DeleteInvoice implements §4.H delete_invoice/force_delete_invoice.
func (e *Engine) DeleteInvoice(ctx context.Context, invoiceID int64, force bool, mode invoice.ReversalMode) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	now := e.now()

	err := e.store.WithImmediate(ctx, func(tx *storage.Tx) error {
		return e.invoice.Delete(tx, invoiceID, force, mode, now)
	})
	if err != nil {
		return classify(err)
	}
	e.events.Emit(events.InvoiceDeleted, map[string]any{"invoice_id": invoiceID})
	e.events.Emit(events.CustomerBalanceUpdated, map[string]any{"invoice_id": invoiceID})
	return nil
}

// UpdateInvoice implements §4.H update_invoice(req, expected_version):
// optimistic-locked item reconciliation (add/update/remove) in one
// transaction, rejecting a stale expectedVersion with a Conflict error.
func (e *Engine) UpdateInvoice(ctx context.Context, invoiceID int64, req invoice.UpdateRequest, expectedVersion int) (invoice.Invoice, error) {
	if err := validateRequest(req); err != nil {
		return invoice.Invoice{}, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	now := e.now()

	var result invoice.Invoice
	err := e.store.WithImmediate(ctx, func(tx *storage.Tx) error {
		updated, err := e.invoice.UpdateInvoice(tx, invoiceID, req, expectedVersion, now)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return invoice.Invoice{}, classify(err)
	}
	e.events.Emit(events.InvoiceUpdated, map[string]any{"invoice_id": invoiceID})
	e.events.Emit(events.CustomerBalanceUpdated, map[string]any{"invoice_id": invoiceID})
	for _, it := range result.Items {
		if it.Tracked() {
			e.events.Emit(events.StockUpdated, map[string]any{"product_id": *it.ProductID})
		}
	}
	return result, nil
}

// RecordPayment implements §4.I record_simple_payment.
func (e *Engine) RecordPayment(ctx context.Context, req payment.SimpleRequest) (payment.Payment, error) {
	if err := validateRequest(req); err != nil {
		return payment.Payment{}, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	now := e.now()

	var result payment.Payment
	err := e.store.WithImmediate(ctx, func(tx *storage.Tx) error {
		p, err := e.payment.RecordSimple(tx, req, now)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return payment.Payment{}, classify(err)
	}
	e.events.Emit(events.PaymentRecorded, map[string]any{"payment_id": result.ID})
	e.events.Emit(events.CustomerBalanceUpdated, map[string]any{"customer_id": req.CustomerID})
	if req.InvoiceID != nil {
		e.events.Emit(events.InvoicePaymentReceived, map[string]any{"invoice_id": *req.InvoiceID})
	}
	return result, nil
}

// RecordFIFOPayment implements §4.I record_payment_with_fifo_allocation.
func (e *Engine) RecordFIFOPayment(ctx context.Context, req payment.FIFORequest) (payment.Payment, []payment.Allocation, error) {
	if err := validateRequest(req); err != nil {
		return payment.Payment{}, nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	now := e.now()

	var resultPayment payment.Payment
	var resultAllocs []payment.Allocation
	err := e.store.WithImmediate(ctx, func(tx *storage.Tx) error {
		p, allocs, err := e.payment.RecordFIFO(tx, req, now)
		if err != nil {
			return err
		}
		resultPayment, resultAllocs = p, allocs
		return nil
	})
	if err != nil {
		return payment.Payment{}, nil, classify(err)
	}
	e.events.Emit(events.PaymentRecorded, map[string]any{"payment_id": resultPayment.ID})
	e.events.Emit(events.CustomerBalanceUpdated, map[string]any{"customer_id": req.CustomerID})
	for _, a := range resultAllocs {
		e.events.Emit(events.InvoicePaymentReceived, map[string]any{"invoice_id": a.InvoiceID})
	}
	return resultPayment, resultAllocs, nil
}

// Refund implements §4.I give_money_to_customer.
func (e *Engine) Refund(ctx context.Context, req payment.RefundRequest) (payment.Payment, error) {
	if err := validateRequest(req); err != nil {
		return payment.Payment{}, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	now := e.now()

	var result payment.Payment
	err := e.store.WithImmediate(ctx, func(tx *storage.Tx) error {
		p, err := e.payment.Refund(tx, req, now)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return payment.Payment{}, classify(err)
	}
	e.events.Emit(events.VendorPaymentCreated, map[string]any{"payment_id": result.ID})
	e.events.Emit(events.CustomerBalanceUpdated, map[string]any{"customer_id": req.CustomerID})
	return result, nil
}

// CreateReturn implements §4.J.
func (e *Engine) CreateReturn(ctx context.Context, req returns.Request) (returns.Return, error) {
	if err := validateRequest(req); err != nil {
		return returns.Return{}, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	now := e.now()

	var result returns.Return
	err := e.store.WithImmediate(ctx, func(tx *storage.Tx) error {
		r, err := e.returns.Create(tx, req, now)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return returns.Return{}, classify(err)
	}
	e.events.Emit(events.ReturnCreated, map[string]any{"return_id": result.ID, "return_number": result.ReturnNumber})
	e.events.Emit(events.InvoiceUpdated, map[string]any{"invoice_id": result.OriginalInvoiceID})
	e.events.Emit(events.CustomerBalanceUpdated, map[string]any{"invoice_id": result.OriginalInvoiceID})
	return result, nil
}

// GetCustomerBalance implements §4.E get_current_balance. A discrepancy
// between the cached customers.balance and the ledger SUM is repaired in
// place via Reconcile and logged, never surfaced as an error to the caller
// (§7 integrity drift).
func (e *Engine) GetCustomerBalance(ctx context.Context, customerID int64) (money.Money, error) {
	bal, err := e.ledger.CurrentBalance(e.store.DB(), customerID)
	if err != nil {
		return money.Money{}, classify(err)
	}
	if customerID != ledger.GuestCustomerID {
		var stored string
		if err := e.store.DB().QueryRowContext(ctx, `SELECT balance FROM customers WHERE id = ?`, customerID).Scan(&stored); err == nil {
			if cached, perr := money.ParseMoney(stored); perr != nil || !cached.Equal(bal) {
				if err := e.Reconcile(ctx, customerID); err != nil {
					e.logger.Printf("engine: customer %d balance drift repair failed: %v", customerID, err)
				} else {
					e.logger.Printf("engine: customer %d balance drift repaired: cached %s, ledger %s", customerID, stored, bal)
				}
			}
		}
	}
	return bal, nil
}

// Reconcile implements §4.E reconcile: idempotent overwrite of
// customers.balance with the ledger SUM.
func (e *Engine) Reconcile(ctx context.Context, customerID int64) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	err := e.store.WithImmediate(ctx, func(tx *storage.Tx) error {
		return e.ledger.Reconcile(tx, customerID)
	})
	if err != nil {
		return classify(err)
	}
	e.events.Emit(events.CustomerBalanceUpdated, map[string]any{"customer_id": customerID})
	return nil
}

// RecalculateStock implements §4.G's recalculation utility: replays every
// movement for a product and overwrites its cached current_stock.
func (e *Engine) RecalculateStock(ctx context.Context, productID int64) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	var total int64
	err := e.store.WithImmediate(ctx, func(tx *storage.Tx) error {
		t, err := e.stock.Recalculate(tx, productID)
		total = t
		return err
	})
	if err != nil {
		return 0, classify(err)
	}
	e.events.Emit(events.StockUpdated, map[string]any{"product_id": productID})
	return total, nil
}
