package db

import (
	"context"
	"fmt"
	"strings"
)

// schema is written once; column types differing between dialects are
// expressed as {{placeholders}} and substituted per dialect.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sellers (
		id {{pk}},
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		iban TEXT NOT NULL DEFAULT '',
		bic TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		payment_key TEXT NOT NULL DEFAULT '',
		via_umbrella BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS baskets (
		id {{pk}},
		account_id BIGINT NOT NULL UNIQUE,
		address_1 TEXT NOT NULL DEFAULT '',
		address_2 TEXT NOT NULL DEFAULT '',
		address_3 TEXT NOT NULL DEFAULT '',
		address_4 TEXT NOT NULL DEFAULT '',
		address_5 TEXT NOT NULL DEFAULT '',
		transport TEXT NOT NULL DEFAULT 'n/a',
		shipping_cost {{money}} NOT NULL DEFAULT '0',
		vat_1_pct TEXT NOT NULL DEFAULT '',
		vat_1_amount {{money}} NOT NULL DEFAULT '0',
		vat_2_pct TEXT NOT NULL DEFAULT '',
		vat_2_amount {{money}} NOT NULL DEFAULT '0',
		vat_3_pct TEXT NOT NULL DEFAULT '',
		vat_3_amount {{money}} NOT NULL DEFAULT '0',
		total {{money}} NOT NULL DEFAULT '0',
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id {{pk}},
		number BIGINT NOT NULL UNIQUE,
		account_id BIGINT NOT NULL,
		seller_id BIGINT NOT NULL,
		seller_name TEXT NOT NULL DEFAULT '',
		seller_address TEXT NOT NULL DEFAULT '',
		seller_iban TEXT NOT NULL DEFAULT '',
		seller_bic TEXT NOT NULL DEFAULT '',
		seller_email TEXT NOT NULL DEFAULT '',
		automated_payment BOOLEAN NOT NULL DEFAULT FALSE,
		transport TEXT NOT NULL DEFAULT 'n/a',
		address_1 TEXT NOT NULL DEFAULT '',
		address_2 TEXT NOT NULL DEFAULT '',
		address_3 TEXT NOT NULL DEFAULT '',
		address_4 TEXT NOT NULL DEFAULT '',
		address_5 TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		log TEXT NOT NULL DEFAULT '',
		total {{money}} NOT NULL DEFAULT '0',
		vat_1_pct TEXT NOT NULL DEFAULT '',
		vat_1_amount {{money}} NOT NULL DEFAULT '0',
		vat_2_pct TEXT NOT NULL DEFAULT '',
		vat_2_amount {{money}} NOT NULL DEFAULT '0',
		vat_3_pct TEXT NOT NULL DEFAULT '',
		vat_3_amount {{money}} NOT NULL DEFAULT '0',
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_account ON orders (account_id)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		id {{pk}},
		basket_id BIGINT,
		order_id BIGINT,
		description TEXT NOT NULL,
		price {{money}} NOT NULL,
		discount {{money}} NOT NULL DEFAULT '0',
		vat_label TEXT NOT NULL DEFAULT '',
		vat_amount {{money}} NOT NULL DEFAULT '0',
		code TEXT NOT NULL,
		product_ref BIGINT NOT NULL DEFAULT 0,
		weight_grams INTEGER NOT NULL DEFAULT 0,
		created_at {{ts}} NOT NULL,
		CHECK (basket_id IS NULL OR order_id IS NULL)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_lines_basket ON order_lines (basket_id)`,
	`CREATE INDEX IF NOT EXISTS idx_order_lines_order ON order_lines (order_id)`,
	`CREATE TABLE IF NOT EXISTS payment_transactions (
		id {{pk}},
		order_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		reference TEXT NOT NULL,
		amount {{money}} NOT NULL,
		received BOOLEAN NOT NULL DEFAULT FALSE,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_transactions_order ON payment_transactions (order_id)`,
	`CREATE TABLE IF NOT EXISTS mutations (
		id {{pk}},
		code TEXT NOT NULL,
		account_id BIGINT,
		line_id BIGINT,
		order_id BIGINT,
		product_code TEXT NOT NULL DEFAULT '',
		product_ref BIGINT,
		quantity INTEGER NOT NULL DEFAULT 0,
		amount {{money}},
		transport TEXT NOT NULL DEFAULT '',
		success BOOLEAN,
		reference TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		is_processed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mutations_unprocessed ON mutations (is_processed, id)`,
	`CREATE TABLE IF NOT EXISTS order_number_counter (
		id INTEGER PRIMARY KEY,
		last_number BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS registration_offerings (
		id {{pk}},
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		seller_id BIGINT NOT NULL,
		starts_at {{ts}} NOT NULL,
		price {{money}} NOT NULL,
		seats_free INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS registrations (
		id {{pk}},
		offering_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		account_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		amount_paid {{money}} NOT NULL DEFAULT '0',
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS shop_products (
		id {{pk}},
		description TEXT NOT NULL,
		price {{money}} NOT NULL,
		vat_label TEXT NOT NULL DEFAULT '',
		weight_grams INTEGER NOT NULL DEFAULT 0,
		stock_total INTEGER NOT NULL DEFAULT 0,
		stock_reserved INTEGER NOT NULL DEFAULT 0,
		seller_id BIGINT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS shop_choices (
		id {{pk}},
		product_id BIGINT NOT NULL,
		account_id BIGINT NOT NULL,
		qty INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
}

func dialectReplacer(dialect Dialect) *strings.Replacer {
	if dialect == SQLite {
		return strings.NewReplacer(
			"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{money}}", "TEXT",
			"{{ts}}", "TIMESTAMP",
		)
	}
	return strings.NewReplacer(
		"{{pk}}", "BIGSERIAL PRIMARY KEY",
		"{{money}}", "NUMERIC(12,2)",
		"{{ts}}", "TIMESTAMPTZ",
	)
}

// ApplyMigrations creates all tables if they do not exist.
func ApplyMigrations(ctx context.Context, d *DB) error {
	r := dialectReplacer(d.dialect)
	for i, stmt := range schema {
		if _, err := d.sql.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}
	return nil
}
