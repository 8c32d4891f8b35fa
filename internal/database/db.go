package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// DB wraps the aggregate store connection
type DB struct {
	*sql.DB
	logger *zap.Logger
}

var ErrDeviceNotFound = errors.New("device not found")

// PersistenceError is a failed write to the aggregate store
type PersistenceError struct {
	Table string
	Key   string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to write %s %s: %v", e.Table, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Connect establishes a connection to the Postgres aggregate store
func Connect(connectionString string, logger *zap.Logger) (*DB, error) {
	db, err := Open("postgres", connectionString, logger)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

// Open opens and pings a database through any registered driver
func Open(driver, dsn string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{DB: db, logger: logger.Named("database")}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(ctx context.Context, migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		db.logger.Info("running migration", zap.String("file", filename))

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	db.logger.Info("migrations completed", zap.Int("files", len(sqlFiles)))
	return nil
}

// args collects positional parameters for dynamically built queries
type args []any

// next appends v and returns its placeholder
func (a *args) next(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}
