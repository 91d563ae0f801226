package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ironmark/ledgerengine/money"
	"github.com/ironmark/ledgerengine/stock"
	"github.com/ironmark/ledgerengine/storage"
)

// Customer is the minimal customer projection the engine exposes; balance
// is always read live from the ledger, never from the cached column.
type Customer struct {
	ID   int64
	Name string
}

// Product is the minimal product projection the engine exposes.
type Product struct {
	ID             int64
	Name           string
	UnitType       money.UnitType
	CurrentStock   int64
	RatePerUnit    money.Money
	TrackInventory bool
}

// CreateCustomer inserts a new customer with a zero starting balance.
func (e *Engine) CreateCustomer(ctx context.Context, name string) (Customer, error) {
	now := e.now()
	res, err := e.store.DB().ExecContext(ctx,
		`INSERT INTO customers (name, balance, created_at) VALUES (?, '0.00', ?)`, name, now.Format("2006-01-02"))
	if err != nil {
		return Customer{}, fmt.Errorf("engine: create customer: %w", err)
	}
	id, _ := res.LastInsertId()
	return Customer{ID: id, Name: name}, nil
}

// CreateProduct inserts a new product.
func (e *Engine) CreateProduct(ctx context.Context, name string, unitType money.UnitType, rate money.Money, trackInventory bool) (Product, error) {
	now := e.now()
	trackInt := 0
	if trackInventory {
		trackInt = 1
	}
	res, err := e.store.DB().ExecContext(ctx,
		`INSERT INTO products (name, unit_type, current_stock, rate_per_unit, track_inventory, status, created_at)
		 VALUES (?, ?, 0, ?, ?, 'active', ?)`, name, string(unitType), rate.String(), trackInt, now.Format("2006-01-02"))
	if err != nil {
		return Product{}, fmt.Errorf("engine: create product: %w", err)
	}
	id, _ := res.LastInsertId()
	return Product{ID: id, Name: name, UnitType: unitType, RatePerUnit: rate, TrackInventory: trackInventory}, nil
}

// SetInitialStock seeds a product's opening stock via a regular "in"
// movement, exactly like any other stock receipt.
func (e *Engine) SetInitialStock(ctx context.Context, productID int64, baseUnits int64) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	now := e.now()
	return classify(e.store.WithImmediate(ctx, func(tx *storage.Tx) error {
		_, err := e.stock.AdjustStock(tx, productID, baseUnits, stock.In, "opening_stock", 0, "", now)
		return err
	}))
}

// GetProduct loads a product by id.
func (e *Engine) GetProduct(ctx context.Context, productID int64) (Product, error) {
	row := e.store.DB().QueryRowContext(ctx,
		`SELECT id, name, unit_type, current_stock, rate_per_unit, track_inventory FROM products WHERE id = ?`, productID)
	var p Product
	var unitType, rate string
	var trackInt int
	if err := row.Scan(&p.ID, &p.Name, &unitType, &p.CurrentStock, &rate, &trackInt); err != nil {
		if err == sql.ErrNoRows {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("engine: load product %d: %w", productID, err)
	}
	p.UnitType = money.UnitType(unitType)
	p.RatePerUnit, _ = money.ParseMoney(rate)
	p.TrackInventory = trackInt != 0
	return p, nil
}
