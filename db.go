package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Database keeps the history of reconciliation runs
type Database struct {
	*sql.DB
}

// RunSummary is one row of run history
type RunSummary struct {
	ID             int64     `json:"id"`
	GeneratedAt    time.Time `json:"generated_at"`
	MonthlyDollars int64     `json:"monthly_dollars"`
	Sponsors       int       `json:"sponsors"`
	Members        int       `json:"members"`
	DonorCount     int       `json:"donor_count"`
}

// NewDatabase creates a new database connection
func NewDatabase(ctx context.Context, connStr string) (*Database, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &Database{conn}
	if err := db.createTables(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info().Msg("database connected")
	return db, nil
}

// createTables creates tables if they don't exist
func (db *Database) createTables(ctx context.Context) error {
	schema := `
    -- One row per successful run
    CREATE TABLE IF NOT EXISTS donor_runs (
        id SERIAL PRIMARY KEY,
        generated_at TIMESTAMPTZ NOT NULL,
        monthly_dollars BIGINT NOT NULL,
        sponsors INTEGER NOT NULL,
        members INTEGER NOT NULL
    );

    -- The public donor list of each run
    CREATE TABLE IF NOT EXISTS donor_snapshots (
        id SERIAL PRIMARY KEY,
        run_id INTEGER REFERENCES donor_runs(id) ON DELETE CASCADE,
        position INTEGER NOT NULL,
        customer_id VARCHAR(255),
        source VARCHAR(64),
        name VARCHAR(255),
        link TEXT,
        logo TEXT,
        style VARCHAR(64),
        amount BIGINT,
        past BOOLEAN,
        square_logo BOOLEAN,
        logo_scale REAL
    );

    CREATE INDEX IF NOT EXISTS idx_donor_runs_generated_at ON donor_runs(generated_at);
    CREATE INDEX IF NOT EXISTS idx_donor_snapshots_run_id ON donor_snapshots(run_id);
    `

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// SaveReport stores a report and its donor list in one transaction
func (db *Database) SaveReport(ctx context.Context, r *Report) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var runID int64
	err = tx.QueryRowContext(ctx, `
        INSERT INTO donor_runs (generated_at, monthly_dollars, sponsors, members)
        VALUES ($1, $2, $3, $4)
        RETURNING id
    `, r.GeneratedAt, r.Metrics.MonthlyDollars, r.Metrics.Sponsors, r.Metrics.Members).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("failed to create run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO donor_snapshots
            (run_id, position, customer_id, source, name, link, logo, style, amount, past, square_logo, logo_scale)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range r.Donors {
		var scale sql.NullFloat64
		if d.LogoScale != nil {
			scale = sql.NullFloat64{Float64: float64(*d.LogoScale), Valid: true}
		}
		_, err := stmt.ExecContext(ctx, runID, i,
			d.PayerID, nullString(d.Source), d.Name, d.Link, d.Logo, d.Style,
			d.Amount, d.Past, d.SquareLogo, scale)
		if err != nil {
			return 0, fmt.Errorf("failed to store donor %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}
	logger.Info().Int64("run_id", runID).Int("donors", len(r.Donors)).Msg("stored run")
	return runID, nil
}

// LatestReport loads the most recent stored report, or nil when there is none
func (db *Database) LatestReport(ctx context.Context) (*Report, error) {
	var runID int64
	r := &Report{}
	err := db.QueryRowContext(ctx, `
        SELECT id, generated_at, monthly_dollars, sponsors, members
        FROM donor_runs
        ORDER BY generated_at DESC, id DESC
        LIMIT 1
    `).Scan(&runID, &r.GeneratedAt, &r.Metrics.MonthlyDollars, &r.Metrics.Sponsors, &r.Metrics.Members)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest run: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
        SELECT customer_id, source, name, link, logo, style, amount, past, square_logo, logo_scale
        FROM donor_snapshots
        WHERE run_id = $1
        ORDER BY position
    `, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load donors of run %d: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var payer, source, name, link, logo, style sql.NullString
		var amount sql.NullInt64
		var past, square sql.NullBool
		var scale sql.NullFloat64
		if err := rows.Scan(&payer, &source, &name, &link, &logo, &style, &amount, &past, &square, &scale); err != nil {
			return nil, fmt.Errorf("failed to scan donor: %w", err)
		}

		d := Donor{
			PayerID: fromNullString(payer),
			Source:  source.String,
			Name:    fromNullString(name),
			Link:    fromNullString(link),
			Logo:    fromNullString(logo),
			Style:   fromNullString(style),
		}
		if amount.Valid {
			d.Amount = int64Ptr(amount.Int64)
		}
		if past.Valid {
			d.Past = boolPtr(past.Bool)
		}
		if square.Valid {
			d.SquareLogo = boolPtr(square.Bool)
		}
		if scale.Valid {
			s := float32(scale.Float64)
			d.LogoScale = &s
		}
		r.Donors = append(r.Donors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// History returns the most recent runs, newest first
func (db *Database) History(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT r.id, r.generated_at, r.monthly_dollars, r.sponsors, r.members, COUNT(s.id)
        FROM donor_runs r
        LEFT JOIN donor_snapshots s ON s.run_id = r.id
        GROUP BY r.id
        ORDER BY r.generated_at DESC, r.id DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		if err := rows.Scan(&run.ID, &run.GeneratedAt, &run.MonthlyDollars, &run.Sponsors, &run.Members, &run.DonorCount); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// HealthCheck verifies database connectivity
func (db *Database) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return stringPtr(s.String)
}
