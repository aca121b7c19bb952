package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/otodombot/models"
)

const listingColumns = `id, url, external_id, title, description, location, floor, price,
	latitude, longitude, notes, is_good, last_parsed, created_at`

// PostgresStore is the Store backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// ConnectPostgres opens a pool for dsn, verifies it and makes sure the
// schema exists.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	slog.Info("connected to postgres", slog.String("database", cfg.ConnConfig.Database))
	return &PostgresStore{db: pool}, nil
}

// NewPostgresStore wraps an existing pool. The schema is assumed to exist.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID,
		&l.URL,
		&l.ExternalID,
		&l.Title,
		&l.Description,
		&l.Location,
		&l.Floor,
		&l.Price,
		&l.Latitude,
		&l.Longitude,
		&l.Notes,
		&l.IsGood,
		&l.LastParsed,
		&l.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// FindByURL implements Store.
func (s *PostgresStore) FindByURL(ctx context.Context, url string) (*models.Listing, error) {
	return scanListing(s.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE url = $1`, url))
}

// FindByExternalID implements Store.
func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID int64) (*models.Listing, error) {
	return scanListing(s.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE external_id = $1`, externalID))
}

// UpsertListing implements Store.
func (s *PostgresStore) UpsertListing(ctx context.Context, u Upsert) (UpsertResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var result UpsertResult
	if u.ID == 0 {
		result, err = insertListing(ctx, tx, u.Update)
	} else {
		result, err = updateListing(ctx, tx, u.ID, u.Update)
	}
	if err != nil {
		return UpsertResult{}, err
	}

	if result.PriceRecorded {
		if _, err := tx.Exec(ctx,
			`INSERT INTO price_history (listing_id, price, timestamp) VALUES ($1, $2, $3)`,
			result.Listing.ID, result.Listing.Price, u.Update.ParsedAt,
		); err != nil {
			return UpsertResult{}, fmt.Errorf("insert price history: %w", err)
		}
	}

	if u.ReplaceCommutes {
		if err := replaceCommutes(ctx, tx, result.Listing.ID, u.Commutes); err != nil {
			return UpsertResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func insertListing(ctx context.Context, tx pgx.Tx, u models.Update) (UpsertResult, error) {
	l := models.ApplyUpdate(models.Listing{}, u)
	err := tx.QueryRow(ctx, `
		INSERT INTO listings (
			url, external_id, title, description, location, floor, price,
			latitude, longitude, notes, is_good, last_parsed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`,
		l.URL, l.ExternalID, l.Title, l.Description, l.Location, l.Floor, l.Price,
		l.Latitude, l.Longitude, l.Notes, l.IsGood, l.LastParsed,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("insert listing: %w", err)
	}
	return UpsertResult{Listing: l, Created: true, PriceRecorded: true}, nil
}

func updateListing(ctx context.Context, tx pgx.Tx, id int64, u models.Update) (UpsertResult, error) {
	current, err := scanListing(tx.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("load listing %d: %w", id, err)
	}

	l := models.ApplyUpdate(*current, u)
	_, err = tx.Exec(ctx, `
		UPDATE listings SET
			url = $2,
			external_id = $3,
			title = $4,
			description = $5,
			location = $6,
			floor = $7,
			price = $8,
			latitude = $9,
			longitude = $10,
			notes = $11,
			is_good = $12,
			last_parsed = $13
		WHERE id = $1
	`,
		l.ID, l.URL, l.ExternalID, l.Title, l.Description, l.Location, l.Floor, l.Price,
		l.Latitude, l.Longitude, l.Notes, l.IsGood, l.LastParsed,
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("update listing %d: %w", id, err)
	}
	return UpsertResult{Listing: l, PriceRecorded: l.Price != current.Price}, nil
}

// ReplaceCommuteTimes implements Store.
func (s *PostgresStore) ReplaceCommuteTimes(ctx context.Context, listingID int64, results []models.CommuteResult) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := replaceCommutes(ctx, tx, listingID, results); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func replaceCommutes(ctx context.Context, tx pgx.Tx, listingID int64, results []models.CommuteResult) error {
	if _, err := tx.Exec(ctx, `DELETE FROM commute_times WHERE listing_id = $1`, listingID); err != nil {
		return fmt.Errorf("delete commute times: %w", err)
	}
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(
			`INSERT INTO commute_times (listing_id, destination, minutes) VALUES ($1, $2, $3)`,
			listingID, r.Destination, r.Minutes,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert commute times: %w", err)
	}
	return nil
}

// AddPhoto implements Store.
func (s *PostgresStore) AddPhoto(ctx context.Context, p models.Photo) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO photos (listing_id, url, path)
		VALUES ($1, $2, $3)
		ON CONFLICT (listing_id, url) DO NOTHING
	`, p.ListingID, p.URL, p.Path)
	if err != nil {
		return false, fmt.Errorf("insert photo: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Photos implements Store.
func (s *PostgresStore) Photos(ctx context.Context, listingID int64) ([]models.Photo, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, listing_id, url, path FROM photos WHERE listing_id = $1 ORDER BY id`, listingID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Photo, error) {
		var p models.Photo
		err := row.Scan(&p.ID, &p.ListingID, &p.URL, &p.Path)
		return p, err
	})
}

// PriceHistory implements Store.
func (s *PostgresStore) PriceHistory(ctx context.Context, listingID int64) ([]models.PriceHistory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, listing_id, price, timestamp FROM price_history WHERE listing_id = $1 ORDER BY timestamp, id`, listingID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PriceHistory, error) {
		var h models.PriceHistory
		err := row.Scan(&h.ID, &h.ListingID, &h.Price, &h.Timestamp)
		return h, err
	})
}

// CommuteTimes implements Store.
func (s *PostgresStore) CommuteTimes(ctx context.Context, listingID int64) ([]models.CommuteTime, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, listing_id, destination, minutes FROM commute_times WHERE listing_id = $1 ORDER BY id`, listingID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanCommute)
}

func scanCommute(row pgx.CollectableRow) (models.CommuteTime, error) {
	var c models.CommuteTime
	err := row.Scan(&c.ID, &c.ListingID, &c.Destination, &c.Minutes)
	return c, err
}

// ListWithCoordinates implements Store.
func (s *PostgresStore) ListWithCoordinates(ctx context.Context) ([]ListingDetail, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ListingDetail
	index := make(map[int64]int)
	ids := make([]int64, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		index[l.ID] = len(out)
		ids = append(ids, l.ID)
		out = append(out, ListingDetail{Listing: *l, Commutes: []models.CommuteTime{}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []ListingDetail{}, nil
	}

	crows, err := s.db.Query(ctx, `
		SELECT id, listing_id, destination, minutes
		FROM commute_times
		WHERE listing_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, err
	}
	commutes, err := pgx.CollectRows(crows, scanCommute)
	if err != nil {
		return nil, err
	}
	for _, c := range commutes {
		i := index[c.ListingID]
		out[i].Commutes = append(out[i].Commutes, c)
	}
	return out, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*ListingDetail, error) {
	l, err := scanListing(s.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	detail := &ListingDetail{Listing: *l}
	if detail.Commutes, err = s.CommuteTimes(ctx, id); err != nil {
		return nil, err
	}
	if detail.Photos, err = s.Photos(ctx, id); err != nil {
		return nil, err
	}
	if detail.PriceHistory, err = s.PriceHistory(ctx, id); err != nil {
		return nil, err
	}
	if detail.Commutes == nil {
		detail.Commutes = []models.CommuteTime{}
	}
	return detail, nil
}
