// Package account persists player accounts in SQLite and authenticates
// login attempts against them.
package account

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrAccountNotFound is returned when a username has no account row.
var ErrAccountNotFound = errors.New("account not found")

// ErrAccountExists is returned when creating a username that is taken.
var ErrAccountExists = errors.New("account already exists")

// Account is one player account row.
type Account struct {
	ID            int64      `json:"id"`
	Username      string     `json:"username"`
	PasswordHash  string     `json:"-"`
	Enabled       bool       `json:"enabled"`
	MaxCharacters int        `json:"max_characters"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	LoginCount    int        `json:"login_count"`
}

// Store wraps a SQLite accounts database with serialized write access.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewStore opens or creates the accounts database at the given path and
// migrates its schema.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// SQLite does not support concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL keeps reads from blocking on writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		log.Warn().Err(err).Msg("failed to enable foreign keys")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate accounts database: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("accounts database opened")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			max_characters INTEGER NOT NULL DEFAULT 2,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_login DATETIME,
			login_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_username ON accounts(username);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	// Account IDs start at 1000, below that is reserved for system use.
	_, err := s.db.Exec(`
		INSERT INTO sqlite_sequence (name, seq)
		SELECT 'accounts', 999
		WHERE NOT EXISTS (SELECT 1 FROM sqlite_sequence WHERE name = 'accounts')
	`)
	if err != nil {
		return fmt.Errorf("failed to seed account id sequence: %w", err)
	}

	log.Debug().Msg("accounts schema migrated")
	return nil
}

// CreateAccount inserts a new enabled account.
func (s *Store) CreateAccount(username, passwordHash string, maxCharacters int) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO accounts (username, password_hash, max_characters)
		VALUES (?, ?, ?)
	`, username, passwordHash, maxCharacters)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account %s: %w", username, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read new account id: %w", err)
	}

	return &Account{
		ID:            id,
		Username:      username,
		PasswordHash:  passwordHash,
		Enabled:       true,
		MaxCharacters: maxCharacters,
		CreatedAt:     time.Now(),
	}, nil
}

// GetAccount fetches one account by username.
func (s *Store) GetAccount(username string) (*Account, error) {
	row := s.db.QueryRow(`
		SELECT id, username, password_hash, enabled, max_characters,
		       created_at, last_login, login_count
		FROM accounts WHERE username = ?
	`, username)

	acc, err := scanAccount(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", username, err)
	}
	return acc, nil
}

// ListAccounts returns every account ordered by creation time.
func (s *Store) ListAccounts() ([]Account, error) {
	rows, err := s.db.Query(`
		SELECT id, username, password_hash, enabled, max_characters,
		       created_at, last_login, login_count
		FROM accounts ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// RecordLogin bumps the login counter and stamps the login time.
func (s *Store) RecordLogin(id int64, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE accounts SET login_count = login_count + 1, last_login = ?
		WHERE id = ?
	`, when, id)
	if err != nil {
		return fmt.Errorf("failed to record login for account %d: %w", id, err)
	}
	return nil
}

// SetEnabled toggles an account's enabled flag.
func (s *Store) SetEnabled(username string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE accounts SET enabled = ? WHERE username = ?", enabled, username)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Count returns the number of accounts.
func (s *Store) Count() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return count, nil
}

// scanAccount reads one account row via the given Scan function.
func scanAccount(scan func(...interface{}) error) (*Account, error) {
	var acc Account
	var lastLogin sql.NullTime

	err := scan(&acc.ID, &acc.Username, &acc.PasswordHash, &acc.Enabled,
		&acc.MaxCharacters, &acc.CreatedAt, &lastLogin, &acc.LoginCount)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		acc.LastLogin = &lastLogin.Time
	}
	return &acc, nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
