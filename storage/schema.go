/*
Package storage is the embedded relational store: a typed SQLite adapter
(component B) plus the authoritative schema registry (component C).

Every table and composite index the engine needs lives in this one file.
Ad-hoc ALTER TABLE is forbidden; any code path that needs new columns
changes the registry, not a migration script, since the engine targets a
single fixed centralized schema (no auto-migration scaffolding in scope).

SEE ALSO:
  - sqlite/sqlite.go (teacher): CREATE TABLE IF NOT EXISTS + composite index
    style this registry generalizes to the ERP's own tables.
*/
package storage

// Schema is the full DDL applied by Store.migrate on open. Every statement
// is idempotent (IF NOT EXISTS) so repeated opens of the same file are safe.
const Schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS customers (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	balance    TEXT NOT NULL DEFAULT '0.00',
	deleted_at TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vendors (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	balance    TEXT NOT NULL DEFAULT '0.00',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL,
	unit_type       TEXT NOT NULL,
	current_stock   INTEGER NOT NULL DEFAULT 0,
	rate_per_unit   TEXT NOT NULL DEFAULT '0.00',
	track_inventory INTEGER NOT NULL DEFAULT 1,
	status          TEXT NOT NULL DEFAULT 'active',
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_channels (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL,
	type      TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS invoices (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	bill_number       TEXT NOT NULL UNIQUE,
	customer_id       INTEGER NOT NULL,
	grand_total       TEXT NOT NULL,
	payment_amount    TEXT NOT NULL DEFAULT '0.00',
	remaining_balance TEXT NOT NULL,
	status            TEXT NOT NULL,
	version           INTEGER NOT NULL DEFAULT 1,
	created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_customer_date
	ON invoices(customer_id, created_at);

CREATE TABLE IF NOT EXISTS invoice_items (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_id         INTEGER NOT NULL,
	product_id         INTEGER,
	description        TEXT,
	quantity_base      INTEGER NOT NULL,
	quantity_display    TEXT NOT NULL,
	unit_price         TEXT NOT NULL,
	total_price        TEXT NOT NULL,
	is_misc_item       INTEGER NOT NULL DEFAULT 0,
	is_non_stock_item  INTEGER NOT NULL DEFAULT 0,
	tiron_pieces       INTEGER,
	tiron_length_per_piece TEXT,
	tiron_total_feet   TEXT,
	tiron_unit         TEXT,
	returned_base      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice
	ON invoice_items(invoice_id);

CREATE TABLE IF NOT EXISTS payments (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	code         TEXT NOT NULL UNIQUE,
	customer_id  INTEGER NOT NULL,
	invoice_id   INTEGER,
	amount       TEXT NOT NULL,
	method       TEXT NOT NULL,
	channel_id   INTEGER,
	payment_type TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	created_time TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_invoice
	ON payments(invoice_id, payment_type);
CREATE INDEX IF NOT EXISTS idx_payments_customer_date
	ON payments(customer_id, created_at);

CREATE TABLE IF NOT EXISTS invoice_payment_allocations (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	payment_id       INTEGER NOT NULL,
	invoice_id       INTEGER NOT NULL,
	allocated_amount TEXT NOT NULL,
	allocation_order INTEGER NOT NULL,
	balance_before   TEXT NOT NULL,
	balance_after    TEXT NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_allocations_invoice
	ON invoice_payment_allocations(invoice_id);
CREATE INDEX IF NOT EXISTS idx_allocations_payment
	ON invoice_payment_allocations(payment_id);

CREATE TABLE IF NOT EXISTS customer_ledger_entries (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	customer_id      INTEGER NOT NULL,
	entry_type       TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	amount           TEXT NOT NULL,
	balance_before   TEXT NOT NULL,
	balance_after    TEXT NOT NULL,
	reference_type   TEXT,
	reference_id     INTEGER,
	reference_number TEXT,
	description      TEXT,
	created_at       TEXT NOT NULL,
	created_time     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_customer_ledger_customer_date
	ON customer_ledger_entries(customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_customer_ledger_reference
	ON customer_ledger_entries(reference_type, reference_id);

CREATE TABLE IF NOT EXISTS daily_ledger_entries (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_date        TEXT NOT NULL,
	entry_time        TEXT NOT NULL,
	type              TEXT NOT NULL,
	category          TEXT,
	amount            TEXT NOT NULL,
	payment_method    TEXT,
	payment_channel_id INTEGER,
	reference_type    TEXT,
	reference_id      INTEGER,
	created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_daily_ledger_date
	ON daily_ledger_entries(entry_date, payment_channel_id);

CREATE TABLE IF NOT EXISTS stock_movements (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id      INTEGER NOT NULL,
	movement_type   TEXT NOT NULL,
	quantity_base   INTEGER NOT NULL,
	previous_stock  INTEGER NOT NULL,
	new_stock       INTEGER NOT NULL,
	reference_type  TEXT,
	reference_id    INTEGER,
	reference_number TEXT,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stock_movements_product_date
	ON stock_movements(product_id, created_at);

CREATE TABLE IF NOT EXISTS returns (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	return_number       TEXT NOT NULL UNIQUE,
	original_invoice_id INTEGER,
	settlement_type     TEXT NOT NULL,
	settlement_amount   TEXT NOT NULL,
	created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS return_items (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	return_id        INTEGER NOT NULL,
	invoice_item_id  INTEGER NOT NULL,
	product_id       INTEGER,
	quantity_base    INTEGER NOT NULL,
	amount           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_return_items_return
	ON return_items(return_id);
`
