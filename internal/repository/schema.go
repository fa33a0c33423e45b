package repository

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
)

const tablesDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id {{PK}},
	source_filename TEXT NOT NULL,
	original_path TEXT NOT NULL,
	target_path TEXT NOT NULL,
	customer_number TEXT,
	customer_name TEXT,
	order_number TEXT,
	document_date TEXT,
	document_type TEXT NOT NULL,
	vehicle_id TEXT,
	plate TEXT,
	year INTEGER,
	page_count INTEGER,
	confidence REAL NOT NULL,
	status TEXT NOT NULL,
	resolution_reason TEXT,
	content_hash TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_legacy (
	id {{PK}},
	source_filename TEXT NOT NULL,
	original_path TEXT NOT NULL,
	file_path TEXT NOT NULL,
	customer_name TEXT,
	order_number TEXT,
	document_date TEXT,
	document_type TEXT NOT NULL,
	vehicle_id TEXT,
	plate TEXT,
	postal_code TEXT,
	street TEXT,
	year INTEGER,
	page_count INTEGER,
	confidence REAL NOT NULL,
	match_reason TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	content_hash TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS customers (
	number TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	postal_code TEXT,
	city TEXT,
	street TEXT,
	phone TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vehicles (
	id {{PK}},
	vehicle_id TEXT NOT NULL,
	plate TEXT,
	customer_number TEXT NOT NULL,
	make TEXT,
	model TEXT,
	first_registration TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS idx_documents_customer ON documents(customer_number)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_vehicle ON documents(vehicle_id)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_order ON documents(order_number)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_year ON documents(year)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_plate ON documents(plate)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_customer_year ON documents(customer_number, year)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash) WHERE content_hash IS NOT NULL`,
	// pending entries have no customer number yet
	`CREATE INDEX IF NOT EXISTS idx_pending_customer_name ON pending_legacy(customer_name)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_vehicle ON pending_legacy(vehicle_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_legacy(status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_hash ON pending_legacy(content_hash) WHERE content_hash IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_customers_name ON customers(name)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_vehicle ON vehicles(vehicle_id)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_customer ON vehicles(customer_number)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_plate ON vehicles(plate)`,
}

// initSchema creates tables and indexes if they don't exist
func (db *DB) initSchema(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.dialect == dialect.Postgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	tables := strings.ReplaceAll(tablesDDL, "{{PK}}", pk)
	for _, stmt := range strings.Split(tables, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			db.logger.Error("failed to create table", "error", err)
			return fmt.Errorf("init schema: %w", err)
		}
	}
	for _, stmt := range indexDDL {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			db.logger.Error("failed to create index", "statement", stmt, "error", err)
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
