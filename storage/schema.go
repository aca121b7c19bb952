package storage

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		external_id BIGINT UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		price BIGINT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		is_good BOOLEAN NOT NULL DEFAULT FALSE,
		last_parsed TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id BIGSERIAL PRIMARY KEY,
		listing_id BIGINT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		price BIGINT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS commute_times (
		id BIGSERIAL PRIMARY KEY,
		listing_id BIGINT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		destination TEXT NOT NULL,
		minutes INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS photos (
		id BIGSERIAL PRIMARY KEY,
		listing_id BIGINT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		path TEXT NOT NULL,
		UNIQUE (listing_id, url)
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_listing_idx ON price_history (listing_id)`,
	`CREATE INDEX IF NOT EXISTS commute_times_listing_idx ON commute_times (listing_id)`,
}

// Columns added after the first release. Failures are logged and ignored so
// an older database keeps working.
var additiveMigrations = []string{
	`ALTER TABLE listings ADD COLUMN IF NOT EXISTS floor TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE listings ADD COLUMN IF NOT EXISTS latitude DOUBLE PRECISION`,
	`ALTER TABLE listings ADD COLUMN IF NOT EXISTS longitude DOUBLE PRECISION`,
	`ALTER TABLE listings ADD COLUMN IF NOT EXISTS external_id BIGINT UNIQUE`,
	`ALTER TABLE listings ADD COLUMN IF NOT EXISTS is_good BOOLEAN NOT NULL DEFAULT FALSE`,
	`ALTER TABLE listings ADD COLUMN IF NOT EXISTS last_parsed TIMESTAMPTZ`,
}

func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	for _, stmt := range additiveMigrations {
		if _, err := db.Exec(ctx, stmt); err != nil {
			slog.Warn("schema migration skipped", slog.String("statement", stmt), slog.Any("error", err))
		}
	}
	return nil
}
