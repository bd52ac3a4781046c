package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Postgres reads metadata from the hardware configuration database.
//
// Expected tables:
//
//	channel_map(valid_from timestamptz, name text, rawid int, system text, pulser_rate_hz double precision null)
//	diodes(name text primary key, mass_in_g double precision)
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open connection.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects using a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to metadata database: %w", err)
	}
	return NewPostgres(db), nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

const channelMapQuery = `
SELECT name, rawid, system, pulser_rate_hz
FROM channel_map
WHERE valid_from = (SELECT max(valid_from) FROM channel_map WHERE valid_from <= $1)`

type channelRow struct {
	Name         string          `db:"name"`
	Rawid        int             `db:"rawid"`
	System       string          `db:"system"`
	PulserRateHz sql.NullFloat64 `db:"pulser_rate_hz"`
}

// ChannelMap returns the channel map valid at the given time.
func (p *Postgres) ChannelMap(ctx context.Context, at time.Time) (ChannelMap, error) {
	var rows []channelRow
	if err := p.db.SelectContext(ctx, &rows, channelMapQuery, at.UTC()); err != nil {
		return nil, fmt.Errorf("failed to query channel map: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no channel map valid at %s: %w", at.Format(time.RFC3339), ErrNotFound)
	}

	m := make(ChannelMap, len(rows))
	for _, r := range rows {
		m[r.Name] = ChannelInfo{
			Name:         r.Name,
			Rawid:        r.Rawid,
			System:       r.System,
			PulserRateHz: r.PulserRateHz.Float64,
		}
	}
	return m, nil
}

// Diode returns production data for the named detector.
func (p *Postgres) Diode(ctx context.Context, name string) (Diode, error) {
	var d Diode
	err := p.db.GetContext(ctx, &d, `SELECT name, mass_in_g FROM diodes WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return Diode{}, fmt.Errorf("detector %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Diode{}, fmt.Errorf("failed to query detector %q: %w", name, err)
	}
	return d, nil
}
