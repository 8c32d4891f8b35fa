// Package testutil provides fixtures shared by package tests. Importing it changes the working
// directory to the repository root so migrations can be found.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/database"
)

func init() {
	_, filename, _, _ := runtime.Caller(0)
	dir := path.Join(path.Dir(filename), "..", "..")
	if err := os.Chdir(dir); err != nil {
		panic(err)
	}
}

// NewDB opens a private in-memory SQLite store with the schema applied.
func NewDB(t testing.TB) *database.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Open("sqlite3", dsn, zap.NewNop())
	require.NoError(t, err)

	// a shared-cache memory database lives as long as one connection does
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(context.Background(), "migrations"))
	return db
}

// Day returns the civil date at 00:00 UTC.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
