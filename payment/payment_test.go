package payment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironmark/ledgerengine/cache"
	"github.com/ironmark/ledgerengine/invoice"
	"github.com/ironmark/ledgerengine/ledger"
	"github.com/ironmark/ledgerengine/money"
	"github.com/ironmark/ledgerengine/payment"
	"github.com/ironmark/ledgerengine/stock"
	"github.com/ironmark/ledgerengine/storage"
)

type harness struct {
	db      *storage.Store
	invoice *invoice.Engine
	payment *payment.Engine
	ledger  *ledger.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.Open(":memory:", 5*time.Second, storage.DefaultRetryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := cache.New(cache.DefaultConfig())
	lg := ledger.New(c)
	st := stock.New(c, false)
	invEng := invoice.New(st, lg, c)
	payEng := payment.New(lg, invEng, c)
	return &harness{db: db, invoice: invEng, payment: payEng, ledger: lg}
}

func (h *harness) createCustomer(t *testing.T) int64 {
	t.Helper()
	res, err := h.db.DB().Exec(`INSERT INTO customers (name, balance, created_at) VALUES ('Ravi', '0.00', '2026-01-01')`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func (h *harness) createInvoice(t *testing.T, customerID int64, amount float64) invoice.Invoice {
	t.Helper()
	var created invoice.Invoice
	err := h.db.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		var err error
		created, err = h.invoice.Create(tx, invoice.CreateRequest{
			CustomerID: customerID,
			Items: []invoice.ItemRequest{
				{Description: "Misc fee", IsMisc: true, QuantityBase: 1, QuantityDisplay: "1",
					UnitPrice: money.NewMoneyFromFloat(amount), TotalPrice: money.NewMoneyFromFloat(amount)},
			},
		}, time.Now())
		return err
	})
	require.NoError(t, err)
	return created
}

func TestRecordSimplePaymentRecomputesInvoiceStatus(t *testing.T) {
	h := newHarness(t)
	customerID := h.createCustomer(t)
	inv := h.createInvoice(t, customerID, 500)

	err := h.db.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		_, err := h.payment.RecordSimple(tx, payment.SimpleRequest{
			CustomerID: customerID, InvoiceID: &inv.ID, Amount: money.NewMoneyFromFloat(500),
			Method: "cash", Type: payment.Incoming,
		}, time.Now())
		return err
	})
	require.NoError(t, err)

	reloaded, err := h.invoice.Get(h.db.DB(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.Paid, reloaded.Status)
}

func TestRecordFIFOAllocatesOldestInvoicesFirst(t *testing.T) {
	h := newHarness(t)
	customerID := h.createCustomer(t)
	first := h.createInvoice(t, customerID, 300)
	time.Sleep(2 * time.Millisecond)
	second := h.createInvoice(t, customerID, 300)

	var allocations []payment.Allocation
	err := h.db.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		var err error
		_, allocations, err = h.payment.RecordFIFO(tx, payment.FIFORequest{
			CustomerID: customerID, Amount: money.NewMoneyFromFloat(400), Method: "cash",
		}, time.Now())
		return err
	})
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	assert.Equal(t, first.ID, allocations[0].InvoiceID)
	assert.Equal(t, "300.00", allocations[0].AllocatedAmount.String())
	assert.Equal(t, second.ID, allocations[1].InvoiceID)
	assert.Equal(t, "100.00", allocations[1].AllocatedAmount.String())

	firstReloaded, err := h.invoice.Get(h.db.DB(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.Paid, firstReloaded.Status)

	secondReloaded, err := h.invoice.Get(h.db.DB(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.PartiallyPaid, secondReloaded.Status)
}

func TestApplyCreditCapsAtAvailable(t *testing.T) {
	h := newHarness(t)
	customerID := h.createCustomer(t)

	// Overpay a first invoice to generate standing credit.
	first := h.createInvoice(t, customerID, 100)
	err := h.db.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		_, err := h.payment.RecordSimple(tx, payment.SimpleRequest{
			CustomerID: customerID, InvoiceID: &first.ID, Amount: money.NewMoneyFromFloat(150),
			Method: "cash", Type: payment.Incoming,
		}, time.Now())
		return err
	})
	require.NoError(t, err)

	credit, err := h.ledger.AvailableCredit(h.db.DB(), customerID, nil)
	require.NoError(t, err)
	assert.Equal(t, "50.00", credit.String())

	second := h.createInvoice(t, customerID, 200)
	var applied money.Money
	err = h.db.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		var err error
		applied, err = h.payment.ApplyCredit(tx, customerID, second.ID, money.NewMoneyFromFloat(200), time.Now())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "50.00", applied.String())
}

func TestRefundRejectsInsufficientCredit(t *testing.T) {
	h := newHarness(t)
	customerID := h.createCustomer(t)

	err := h.db.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		_, err := h.payment.Refund(tx, payment.RefundRequest{
			CustomerID: customerID, Amount: money.NewMoneyFromFloat(50), Method: "cash",
		}, time.Now())
		return err
	})
	assert.Error(t, err)
	var insufficient *payment.ErrInsufficientCredit
	assert.ErrorAs(t, err, &insufficient)
}

func TestNormalizeChannelMapsKnownMethods(t *testing.T) {
	assert.Equal(t, payment.ChannelCash, payment.NormalizeChannel("Cash"))
	assert.Equal(t, payment.ChannelBank, payment.NormalizeChannel("transfer"))
	assert.Equal(t, payment.ChannelMobileMoney, payment.NormalizeChannel("JazzCash"))
	assert.Equal(t, payment.ChannelOther, payment.NormalizeChannel("carrier_pigeon"))
}
