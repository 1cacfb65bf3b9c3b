// Package journal records stored uploads in PostgreSQL, with a running
// total per date partition.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/fileproxy/internal/dbx"
	"github.com/dmitrijs2005/fileproxy/internal/ingest"
	"github.com/dmitrijs2005/fileproxy/internal/server/migrations"
)

// ErrNoPartition is returned when a partition has no recorded uploads.
var ErrNoPartition = errors.New("partition not found")

// Totals is the aggregate of one partition.
type Totals struct {
	Partition string
	Files     int64
	Bytes     int64
	UpdatedAt time.Time
}

// PostgresJournal implements ingest.Journal.
type PostgresJournal struct {
	db *sql.DB
}

// NewPostgresJournal wraps an open database.
func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Open connects to dsn with the pgx driver and migrates the schema.
func Open(ctx context.Context, dsn string) (*PostgresJournal, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return NewPostgresJournal(db), nil
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// Close releases the database.
func (j *PostgresJournal) Close() error {
	return j.db.Close()
}

// Record inserts the receipt and bumps its partition totals in one
// transaction.
func (j *PostgresJournal) Record(ctx context.Context, r ingest.Receipt) error {
	return dbx.WithTx(ctx, j.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := insertUpload(ctx, tx, r); err != nil {
			return err
		}
		return bumpPartition(ctx, tx, r)
	})
}

func insertUpload(ctx context.Context, db dbx.DBTX, r ingest.Receipt) error {
	query := `INSERT INTO uploads (id, filename, partition, path, size, digest, mode, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	res, err := db.ExecContext(ctx, query, r.ID, r.Filename, r.Partition, r.Path, r.Size, r.Digest, string(r.Mode), r.StoredAt)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func bumpPartition(ctx context.Context, db dbx.DBTX, r ingest.Receipt) error {
	query := `INSERT INTO partitions (partition, files, bytes, updated_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (partition)
		DO UPDATE SET
			files = partitions.files + 1,
			bytes = partitions.bytes + EXCLUDED.bytes,
			updated_at = EXCLUDED.updated_at`

	if _, err := db.ExecContext(ctx, query, r.Partition, r.Size, r.StoredAt); err != nil {
		return fmt.Errorf("update partition: %w", err)
	}
	return nil
}

// PartitionTotals returns the totals for a partition path.
func (j *PostgresJournal) PartitionTotals(ctx context.Context, partition string) (*Totals, error) {
	query := `SELECT partition, files, bytes, updated_at FROM partitions WHERE partition=$1`

	t := &Totals{}
	err := j.db.QueryRowContext(ctx, query, partition).Scan(&t.Partition, &t.Files, &t.Bytes, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPartition
	}
	if err != nil {
		return nil, fmt.Errorf("select partition: %w", err)
	}
	return t, nil
}

// Uploads lists the receipts recorded for a partition, oldest first.
func (j *PostgresJournal) Uploads(ctx context.Context, partition string) ([]ingest.Receipt, error) {
	query := `SELECT id, filename, partition, path, size, digest, mode, stored_at FROM uploads
		WHERE partition=$1 ORDER BY stored_at, filename`

	rows, err := j.db.QueryContext(ctx, query, partition)
	if err != nil {
		return nil, fmt.Errorf("select uploads: %w", err)
	}
	defer rows.Close()

	var result []ingest.Receipt
	for rows.Next() {
		var (
			r    ingest.Receipt
			mode string
		)
		if err := rows.Scan(&r.ID, &r.Filename, &r.Partition, &r.Path, &r.Size, &r.Digest, &mode, &r.StoredAt); err != nil {
			return nil, err
		}
		r.Mode = ingest.Mode(mode)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
