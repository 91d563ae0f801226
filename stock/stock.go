/*
Package stock implements the stock engine (component G): stock on-hand,
append-only stock movements, and unit-aware adjustment of a product's
cached current_stock.
*/
package stock

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ironmark/ledgerengine/cache"
	"github.com/ironmark/ledgerengine/clock"
)

// MovementType is the stock_movements sign convention: for "in" and "out"
// rows the numeric quantity column is a positive magnitude and direction
// lives in MovementType; "adjustment" rows (AdjustCorrection) store the
// signed delta itself.
type MovementType string

const (
	In         MovementType = "in"
	Out        MovementType = "out"
	Adjustment MovementType = "adjustment"
)

// Querier is satisfied by *sql.DB and *storage.Tx.
type Querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

// ErrInsufficientStock is returned when an "out" movement would drive
// current_stock negative and the caller hasn't opted into negative stock.
type ErrInsufficientStock struct {
	ProductID int64
	Available int64
	Requested int64
}

func (e *ErrInsufficientStock) Error() string {
	return fmt.Sprintf("stock: product %d has %d available, requested %d", e.ProductID, e.Available, e.Requested)
}

// Engine is the stock engine.
type Engine struct {
	cache         *cache.Cache
	allowNegative bool
}

// New builds a stock Engine. allowNegative mirrors the engine-wide
// allow_negative_stock configuration option.
func New(c *cache.Cache, allowNegative bool) *Engine {
	return &Engine{cache: c, allowNegative: allowNegative}
}

// TrackInventory reports whether product p has inventory tracking on, and
// its current cached stock (base units).
func (e *Engine) TrackInventory(tx Querier, productID int64) (tracked bool, currentStock int64, err error) {
	row := tx.QueryRow(`SELECT track_inventory, current_stock FROM products WHERE id = ?`, productID)
	var trackedInt int
	if err := row.Scan(&trackedInt, &currentStock); err != nil {
		return false, 0, fmt.Errorf("stock: load product %d: %w", productID, err)
	}
	return trackedInt != 0, currentStock, nil
}

// AdjustStock appends a stock movement for productID and updates its
// cached current_stock. deltaBase is always given as a positive magnitude;
// movementType determines direction and must be In or Out (manual
// corrections go through AdjustCorrection). An Out movement is refused
// when it would go negative, unless the engine was configured to allow
// negative stock.
//
// Non-stock products (track_inventory = false) bypass stock handling
// entirely: their current stock is returned unchanged and no movement is
// recorded.
func (e *Engine) AdjustStock(tx Querier, productID int64, deltaBase int64, movementType MovementType,
	refType string, refID int64, refNumber string, now time.Time) (newStock int64, err error) {

	if deltaBase < 0 {
		return 0, fmt.Errorf("stock: deltaBase must be a positive magnitude, got %d", deltaBase)
	}

	tracked, previous, err := e.TrackInventory(tx, productID)
	if err != nil {
		return 0, err
	}
	if !tracked {
		return previous, nil
	}

	switch movementType {
	case In:
		newStock = previous + deltaBase
	case Out:
		newStock = previous - deltaBase
		if newStock < 0 && !e.allowNegative {
			return 0, &ErrInsufficientStock{ProductID: productID, Available: previous, Requested: deltaBase}
		}
	default:
		return 0, fmt.Errorf("stock: unknown movement type %q (use AdjustCorrection for manual adjustments)", movementType)
	}

	if _, err := tx.Exec(`INSERT INTO stock_movements
		(product_id, movement_type, quantity_base, previous_stock, new_stock,
		 reference_type, reference_id, reference_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		productID, string(movementType), deltaBase, previous, newStock,
		nullableStr(refType), refID, nullableStr(refNumber), clock.DateString(now)); err != nil {
		return 0, fmt.Errorf("stock: append movement: %w", err)
	}

	if _, err := tx.Exec(`UPDATE products SET current_stock = ? WHERE id = ?`, newStock, productID); err != nil {
		return 0, fmt.Errorf("stock: update cached stock: %w", err)
	}
	if e.cache != nil {
		e.cache.InvalidateByPrefix("stock_")
		e.cache.InvalidateByPrefix("products_")
	}

	return newStock, nil
}

// AdjustCorrection applies a manual stock correction ("reason=adjustment"
// in spec terms): unlike AdjustStock, it never refuses a negative result,
// since the whole point of a manual correction is to reconcile the
// recorded count with a physically-observed one. signedDelta may be
// positive or negative.
func (e *Engine) AdjustCorrection(tx Querier, productID int64, signedDelta int64,
	refType string, refID int64, refNumber string, now time.Time) (newStock int64, err error) {

	_, previous, err := e.TrackInventory(tx, productID)
	if err != nil {
		return 0, err
	}
	newStock = previous + signedDelta

	if _, err := tx.Exec(`INSERT INTO stock_movements
		(product_id, movement_type, quantity_base, previous_stock, new_stock,
		 reference_type, reference_id, reference_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		productID, string(Adjustment), signedDelta, previous, newStock,
		nullableStr(refType), refID, nullableStr(refNumber), clock.DateString(now)); err != nil {
		return 0, fmt.Errorf("stock: append correction: %w", err)
	}
	if _, err := tx.Exec(`UPDATE products SET current_stock = ? WHERE id = ?`, newStock, productID); err != nil {
		return 0, fmt.Errorf("stock: update cached stock: %w", err)
	}
	if e.cache != nil {
		e.cache.InvalidateByPrefix("stock_")
		e.cache.InvalidateByPrefix("products_")
	}
	return newStock, nil
}

// AdjustSigned is a convenience wrapper that accepts a signed delta
// (positive = in, negative = out) and dispatches to AdjustStock.
func (e *Engine) AdjustSigned(tx Querier, productID int64, signedDelta int64, refType string, refID int64,
	refNumber string, now time.Time) (int64, error) {
	if signedDelta >= 0 {
		return e.AdjustStock(tx, productID, signedDelta, In, refType, refID, refNumber, now)
	}
	return e.AdjustStock(tx, productID, -signedDelta, Out, refType, refID, refNumber, now)
}

// Recalculate replays every movement for productID in chronological order
// and overwrites current_stock. This is how a corrupted cache is repaired;
// it runs only when called explicitly (engine.RecalculateStock).
func (e *Engine) Recalculate(tx Querier, productID int64) (int64, error) {
	rows, err := tx.Query(`SELECT movement_type, quantity_base FROM stock_movements
		WHERE product_id = ? ORDER BY id ASC`, productID)
	if err != nil {
		return 0, fmt.Errorf("stock: recalculate product %d: %w", productID, err)
	}
	defer rows.Close()

	var total int64
	for rows.Next() {
		var mt string
		var qty int64
		if err := rows.Scan(&mt, &qty); err != nil {
			return 0, err
		}
		switch MovementType(mt) {
		case In, Adjustment:
			total += qty
		case Out:
			total -= qty
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`UPDATE products SET current_stock = ? WHERE id = ?`, total, productID); err != nil {
		return 0, fmt.Errorf("stock: persist recalculated stock: %w", err)
	}
	if e.cache != nil {
		e.cache.InvalidateByPrefix("stock_")
		e.cache.InvalidateByPrefix("products_")
	}
	return total, nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
