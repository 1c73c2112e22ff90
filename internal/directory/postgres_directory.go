package directory

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
)

// PostgresDirectory reads driver profiles from the shared drivers table.
// Access is read-only; this process never writes driver data.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(dsn string) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresDirectory{db: db}, nil
}

func (p *PostgresDirectory) Profile(ctx context.Context, driverID string) (booking.DriverRef, bool) {
	var ref booking.DriverRef
	var rating sql.NullFloat64
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, vehicle, rating FROM drivers WHERE id = $1`, driverID).
		Scan(&ref.ID, &ref.Name, &ref.Vehicle, &rating)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.DriverRef{}, false
	}
	if err != nil {
		return booking.DriverRef{}, false
	}
	if rating.Valid {
		ref.Rating = rating.Float64
	}
	return ref, true
}

func (p *PostgresDirectory) Close() error { return p.db.Close() }
