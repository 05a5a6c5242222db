package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultAnalysesTable = "analyses"

// PostgresStore keeps analyses in a Postgres table keyed by file name.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithAnalysesTable overrides the table name.
func WithAnalysesTable(table string) PostgresOption {
	return func(s *PostgresStore) {
		if table != "" {
			s.table = table
		}
	}
}

// OpenPostgres opens a pgx-backed database handle and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenPostgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("OpenPostgres: ping: %w", err)
	}
	return db, nil
}

// NewPostgresStore creates a PostgresStore. The table is created by
// cmd/migrate.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, table: defaultAnalysesTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, req SaveRequest) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("postgres store: nil db")
	}
	sum, err := validateSave(req)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	file_name,
	bank_name,
	statement_date,
	analysis,
	created_at,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $5
)
ON CONFLICT (file_name)
DO UPDATE SET
	analysis = EXCLUDED.analysis,
	updated_at = EXCLUDED.updated_at`, s.table)

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, sum.FileName, sum.BankName, sum.StatementDate, string(req.Analysis), now); err != nil {
		return "", fmt.Errorf("PostgresStore.Save: %w", err)
	}
	return sum.FileName, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]Summary, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres store: nil db")
	}
	query := fmt.Sprintf(`SELECT file_name, bank_name, statement_date FROM %s ORDER BY file_name`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("PostgresStore.List: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.FileName, &sum.BankName, &sum.StatementDate); err != nil {
			return nil, fmt.Errorf("PostgresStore.List: scan: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("PostgresStore.List: %w", err)
	}
	return out, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, fileName string) (*Saved, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres store: nil db")
	}
	if _, err := ParseFileName(fileName); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT bank_name, statement_date, analysis::text FROM %s WHERE file_name = $1`, s.table)
	var (
		saved    = Saved{Summary: Summary{FileName: fileName}}
		analysis string
	)
	err := s.db.QueryRowContext(ctx, query, fileName).Scan(&saved.BankName, &saved.StatementDate, &analysis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileName)
	}
	if err != nil {
		return nil, fmt.Errorf("PostgresStore.Get: %w", err)
	}
	saved.Analysis = []byte(analysis)
	return &saved, nil
}

var _ Store = (*PostgresStore)(nil)
