package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironmark/ledgerengine/clock"
	"github.com/ironmark/ledgerengine/engine"
	"github.com/ironmark/ledgerengine/invoice"
	"github.com/ironmark/ledgerengine/money"
	"github.com/ironmark/ledgerengine/payment"
	"github.com/ironmark/ledgerengine/returns"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.DBPath = ":memory:"
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	e, err := engine.New(cfg, engine.WithClock(clock.Fixed{At: now}))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// S1. Single cash sale, stock tracked.
func TestScenarioSingleCashSaleStockTracked(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	customer, err := e.CreateCustomer(ctx, "C1")
	require.NoError(t, err)
	product, err := e.CreateProduct(ctx, "P1", money.UnitKgGrams, money.NewMoneyFromFloat(100), true)
	require.NoError(t, err)
	require.NoError(t, e.SetInitialStock(ctx, product.ID, 10000))

	inv, err := e.CreateInvoice(ctx, engine.CreateInvoiceRequest{
		CustomerID: customer.ID,
		Items: []invoice.ItemRequest{
			{ProductID: &product.ID, Description: "P1", QuantityBase: 2500, QuantityDisplay: "2-500",
				UnitPrice: money.NewMoneyFromFloat(100), TotalPrice: money.NewMoneyFromFloat(250)},
		},
		CashAmount: money.NewMoneyFromFloat(250),
		CashMethod: "cash",
	})
	require.NoError(t, err)

	assert.Equal(t, "250.00", inv.GrandTotal.String())
	assert.True(t, inv.RemainingBalance.IsZero())
	assert.Equal(t, invoice.Paid, inv.Status)

	reloadedProduct, err := e.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), reloadedProduct.CurrentStock)

	bal, err := e.GetCustomerBalance(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

// S2. Credit-then-cash invoice.
func TestScenarioCreditThenCashInvoice(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	customer, err := e.CreateCustomer(ctx, "C2")
	require.NoError(t, err)

	// Give the customer 500 of standing credit: create a throwaway 1.00
	// invoice paid with 501 cash, then force-delete it with ReversalReverse,
	// which reverses the 1.00 charge and leaves the 500 overpayment behind
	// as customer credit.
	seed, err := e.CreateInvoice(ctx, engine.CreateInvoiceRequest{
		CustomerID: customer.ID,
		Items: []invoice.ItemRequest{
			{Description: "seed", IsMisc: true, QuantityBase: 1, QuantityDisplay: "1",
				UnitPrice: money.NewMoneyFromFloat(1), TotalPrice: money.NewMoneyFromFloat(1)},
		},
		CashAmount: money.NewMoneyFromFloat(501),
		CashMethod: "cash",
	})
	require.NoError(t, err)
	require.NoError(t, e.DeleteInvoice(ctx, seed.ID, true, invoice.ReversalReverse))

	bal, err := e.GetCustomerBalance(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "-500.00", bal.String())

	inv, err := e.CreateInvoice(ctx, engine.CreateInvoiceRequest{
		CustomerID: customer.ID,
		Items: []invoice.ItemRequest{
			{Description: "goods", IsMisc: true, QuantityBase: 1, QuantityDisplay: "1",
				UnitPrice: money.NewMoneyFromFloat(300), TotalPrice: money.NewMoneyFromFloat(300)},
		},
		ApplyCredit: money.NewMoneyFromFloat(500),
	})
	require.NoError(t, err)
	assert.Equal(t, invoice.Paid, inv.Status)

	bal, err = e.GetCustomerBalance(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "-200.00", bal.String())
}

// S3. FIFO allocation.
func TestScenarioFIFOAllocation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	customer, err := e.CreateCustomer(ctx, "C3")
	require.NoError(t, err)

	mkInvoice := func(amount float64) invoice.Invoice {
		inv, err := e.CreateInvoice(ctx, engine.CreateInvoiceRequest{
			CustomerID: customer.ID,
			Items: []invoice.ItemRequest{
				{Description: "goods", IsMisc: true, QuantityBase: 1, QuantityDisplay: "1",
					UnitPrice: money.NewMoneyFromFloat(amount), TotalPrice: money.NewMoneyFromFloat(amount)},
			},
		})
		require.NoError(t, err)
		return inv
	}
	inv1 := mkInvoice(100)
	inv2 := mkInvoice(200)
	inv3 := mkInvoice(300)

	_, allocations, err := e.RecordFIFOPayment(ctx, payment.FIFORequest{
		CustomerID: customer.ID, Amount: money.NewMoneyFromFloat(350), Method: "cash",
	})
	require.NoError(t, err)
	require.Len(t, allocations, 3)
	assert.Equal(t, inv1.ID, allocations[0].InvoiceID)
	assert.Equal(t, "100.00", allocations[0].AllocatedAmount.String())
	assert.Equal(t, inv2.ID, allocations[1].InvoiceID)
	assert.Equal(t, "200.00", allocations[1].AllocatedAmount.String())
	assert.Equal(t, inv3.ID, allocations[2].InvoiceID)
	assert.Equal(t, "50.00", allocations[2].AllocatedAmount.String())

	reloaded1, err := e.GetInvoice(ctx, inv1.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.Paid, reloaded1.Status)

	reloaded3, err := e.GetInvoice(ctx, inv3.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.PartiallyPaid, reloaded3.Status)
	assert.Equal(t, "250.00", reloaded3.RemainingBalance.String())
}

// S4. Return on a fully paid invoice, cash refund.
func TestScenarioReturnOnFullyPaidInvoiceCashRefund(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	customer, err := e.CreateCustomer(ctx, "C4")
	require.NoError(t, err)
	product, err := e.CreateProduct(ctx, "P4", money.UnitPiece, money.NewMoneyFromFloat(100), true)
	require.NoError(t, err)
	require.NoError(t, e.SetInitialStock(ctx, product.ID, 5))

	inv, err := e.CreateInvoice(ctx, engine.CreateInvoiceRequest{
		CustomerID: customer.ID,
		Items: []invoice.ItemRequest{
			{ProductID: &product.ID, Description: "P4", QuantityBase: 5, QuantityDisplay: "5",
				UnitPrice: money.NewMoneyFromFloat(100), TotalPrice: money.NewMoneyFromFloat(500)},
		},
		CashAmount: money.NewMoneyFromFloat(500),
		CashMethod: "cash",
	})
	require.NoError(t, err)
	require.Equal(t, invoice.Paid, inv.Status)

	ret, err := e.CreateReturn(ctx, returns.Request{
		OriginalInvoiceID: inv.ID,
		Settlement:        returns.SettlementCash,
		Items: []returns.ItemRequest{
			{InvoiceItemID: inv.Items[0].ID, ProductID: &product.ID, QuantityBase: 2, Amount: money.NewMoneyFromFloat(200)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "200.00", ret.SettlementAmount.String())

	reloadedProduct, err := e.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloadedProduct.CurrentStock)

	reloadedInvoice, err := e.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "300.00", reloadedInvoice.GrandTotal.String())
	assert.True(t, reloadedInvoice.RemainingBalance.IsZero())
}

// S5. Return on an unpaid invoice with ledger settlement.
func TestScenarioReturnOnUnpaidInvoiceLedgerSettlement(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	customer, err := e.CreateCustomer(ctx, "C5")
	require.NoError(t, err)

	inv, err := e.CreateInvoice(ctx, engine.CreateInvoiceRequest{
		CustomerID: customer.ID,
		Items: []invoice.ItemRequest{
			{Description: "goods", IsMisc: true, QuantityBase: 1, QuantityDisplay: "1",
				UnitPrice: money.NewMoneyFromFloat(500), TotalPrice: money.NewMoneyFromFloat(500)},
		},
	})
	require.NoError(t, err)

	_, err = e.CreateReturn(ctx, returns.Request{
		OriginalInvoiceID: inv.ID,
		Settlement:        returns.SettlementLedger,
		Items: []returns.ItemRequest{
			{InvoiceItemID: inv.Items[0].ID, QuantityBase: 1, Amount: money.NewMoneyFromFloat(150)},
		},
	})
	require.NoError(t, err)

	reloadedInvoice, err := e.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "350.00", reloadedInvoice.GrandTotal.String())
	assert.Equal(t, "350.00", reloadedInvoice.RemainingBalance.String())
	assert.Equal(t, invoice.Pending, reloadedInvoice.Status)

	bal, err := e.GetCustomerBalance(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "350.00", bal.String())
}

func TestCreateThenDeleteInvoiceRestoresPriorState(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	customer, err := e.CreateCustomer(ctx, "C6")
	require.NoError(t, err)
	product, err := e.CreateProduct(ctx, "P6", money.UnitKgGrams, money.NewMoneyFromFloat(100), true)
	require.NoError(t, err)
	require.NoError(t, e.SetInitialStock(ctx, product.ID, 10000))

	balBefore, err := e.GetCustomerBalance(ctx, customer.ID)
	require.NoError(t, err)

	inv, err := e.CreateInvoice(ctx, engine.CreateInvoiceRequest{
		CustomerID: customer.ID,
		Items: []invoice.ItemRequest{
			{ProductID: &product.ID, Description: "P6", QuantityBase: 2500, QuantityDisplay: "2-500",
				UnitPrice: money.NewMoneyFromFloat(100), TotalPrice: money.NewMoneyFromFloat(250)},
		},
	})
	require.NoError(t, err)

	require.NoError(t, e.DeleteInvoice(ctx, inv.ID, false, ""))

	reloadedProduct, err := e.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), reloadedProduct.CurrentStock)

	balAfter, err := e.GetCustomerBalance(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, balBefore.String(), balAfter.String())
}

func TestReconcileIsIdempotent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	customer, err := e.CreateCustomer(ctx, "C7")
	require.NoError(t, err)

	require.NoError(t, e.Reconcile(ctx, customer.ID))
	require.NoError(t, e.Reconcile(ctx, customer.ID))
}
