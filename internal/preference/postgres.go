package preference

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the home_stations table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS home_stations (
    user_id      TEXT PRIMARY KEY,
    station_name TEXT NOT NULL,
    station_crs  CHAR(3) NOT NULL,
    distance     INTEGER NOT NULL DEFAULT 0,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

const backendPostgres = "postgres"

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

// Compile-time interface checks.
var (
	_ Store  = (*PostgresStore)(nil)
	_ Pinger = (*PostgresStore)(nil)
)

// NewPostgresStore creates a store on db. The caller is responsible for
// calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn, applies [Schema] and returns the
// store together with a function closing the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("preference: connect postgres: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("preference: migrate: %w", err)
	}
	return nil
}

// Get returns the stored home station or nil, nil.
func (s *PostgresStore) Get(ctx context.Context, userID string) (*HomeStation, error) {
	const query = `
		SELECT station_name, station_crs, distance
		FROM home_stations
		WHERE user_id = $1`

	var h HomeStation
	err := s.db.QueryRow(ctx, query, userID).Scan(&h.Station.Name, &h.Station.Code, &h.Distance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(backendPostgres, "get", err)
	}
	return &h, nil
}

// Set upserts the home station. The xmax system column is zero only for a
// freshly inserted row.
func (s *PostgresStore) Set(ctx context.Context, userID string, home HomeStation) (Result, error) {
	const query = `
		INSERT INTO home_stations (user_id, station_name, station_crs, distance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			station_name = EXCLUDED.station_name,
			station_crs  = EXCLUDED.station_crs,
			distance     = EXCLUDED.distance,
			updated_at   = now()
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := s.db.QueryRow(ctx, query,
		userID, home.Station.Name, home.Station.Code, home.Distance,
	).Scan(&inserted)
	if err != nil {
		return "", storeErr(backendPostgres, "set", err)
	}
	if inserted {
		return ResultSet, nil
	}
	return ResultUpdated, nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return storeErr(backendPostgres, "ping", err)
	}
	return nil
}

