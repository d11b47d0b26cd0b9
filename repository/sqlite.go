package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/config"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var _ sectionsense.AccountStore = SQLiteRepository{}

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

type SQLiteRepository struct {
	db *sql.DB
}

// creates a new repository backed by sqlite
// returns an error if the connection cannot be established, a ping fails or migrations fail
func newSQLiteRepository(ctx context.Context, cfg config.SQLite) (SQLiteRepository, error) {
	// open connection
	db, err := sql.Open("sqlite", cfg.ConnectionString)
	if err != nil {
		return SQLiteRepository{}, fmt.Errorf("failed to open connection to sqlite: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := prepareSQLite(ctx, db); err != nil {
		db.Close()
		return SQLiteRepository{}, err
	}

	return SQLiteRepository{db}, nil
}

// prepareSQLite checks the connection and applies the embedded migrations
func prepareSQLite(ctx context.Context, db *sql.DB) error {
	// check connection
	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping db: %w", err)
	}

	// perform migrations
	source, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to execute migrations: %w", err)
	}

	version, _, _ := m.Version()
	log.Debug().Str("module", "repository").Uint("version", version).Msg("sqlite migrations applied")

	return nil
}

const accountColumns = "id, username, password, sections, interval_seconds, total_checks, total_gained, total_lost, last_check, registered_at"

func (r SQLiteRepository) Get(ctx context.Context, id string) (sectionsense.Account, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id=$1", id)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sectionsense.Account{}, sectionsense.ErrAccountNotFound
	} else if err != nil {
		return sectionsense.Account{}, fmt.Errorf("failed to read account %s: %w", id, err)
	}

	return account, nil
}

func (r SQLiteRepository) Put(ctx context.Context, account sectionsense.Account) error {
	sections, err := json.Marshal(account.Sections)
	if err != nil {
		return fmt.Errorf("failed to encode sections: %w", err)
	}
	if account.Sections == nil {
		sections = []byte("{}")
	}

	var lastCheck sql.NullInt64
	if !account.LastCheck.IsZero() {
		lastCheck = sql.NullInt64{Int64: account.LastCheck.UnixNano(), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT(id) DO UPDATE SET
			username=excluded.username,
			password=excluded.password,
			sections=excluded.sections,
			interval_seconds=excluded.interval_seconds,
			total_checks=excluded.total_checks,
			total_gained=excluded.total_gained,
			total_lost=excluded.total_lost,
			last_check=excluded.last_check,
			registered_at=excluded.registered_at`,
		account.ID, account.Username, account.Password.Reveal(), string(sections), account.IntervalSeconds,
		account.TotalChecks, account.TotalGained, account.TotalLost, lastCheck, unixNano(account.RegisteredAt))
	if err != nil {
		return fmt.Errorf("upsert statement failed: %w", err)
	}

	return nil
}

func (r SQLiteRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM accounts WHERE id=$1", id)
	if err != nil {
		return false, fmt.Errorf("delete statement failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to fetch affected rows: %w", err)
	}

	return affected > 0, nil
}

func (r SQLiteRepository) List(ctx context.Context) ([]sectionsense.Account, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []sectionsense.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}

func (r SQLiteRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (sectionsense.Account, error) {
	var (
		account      sectionsense.Account
		password     string
		sections     string
		lastCheck    sql.NullInt64
		registeredAt int64
	)

	err := row.Scan(&account.ID, &account.Username, &password, &sections, &account.IntervalSeconds,
		&account.TotalChecks, &account.TotalGained, &account.TotalLost, &lastCheck, &registeredAt)
	if err != nil {
		return sectionsense.Account{}, err
	}

	account.Password = sectionsense.Secret(password)
	account.Sections = make(sectionsense.Snapshot)
	if err := json.Unmarshal([]byte(sections), &account.Sections); err != nil {
		return sectionsense.Account{}, fmt.Errorf("failed to decode sections of %s: %w", account.ID, err)
	}
	if lastCheck.Valid {
		account.LastCheck = time.Unix(0, lastCheck.Int64)
	}
	if registeredAt != 0 {
		account.RegisteredAt = time.Unix(0, registeredAt)
	}

	return account, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
