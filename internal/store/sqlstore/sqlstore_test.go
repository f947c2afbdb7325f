package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petshop/backend/internal/store"
	"petshop/backend/internal/store/storetest"
)

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "petshop.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

// Each subtest truncates the shared database, so they cannot run in parallel.
func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("PETSHOP_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PETSHOP_TEST_DATABASE_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Repository {
		s, err := OpenPostgres(context.Background(), dsn)
		require.NoError(t, err)
		_, err = s.db.Exec(`TRUNCATE sale_aggregates, inventory_items, users`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "petshop.db")

	first, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, DialectSQLite, second.Dialect())
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	lite := &Store{dialect: DialectSQLite}

	query := `UPDATE t SET a = ?, b = ? WHERE id IN (?,?)`
	assert.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE id IN ($3,$4)`, pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, `%100\%\_pure%`, likePattern("100%_Pure"))
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?,?,?", placeholders(3))
}

func TestScanners(t *testing.T) {
	var d time.Time
	require.NoError(t, dayValue{&d}.Scan("2024-03-01"))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d)

	require.NoError(t, dayValue{&d}.Scan(time.Date(2024, 3, 2, 0, 0, 0, 0, time.FixedZone("x", 3600))))
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), d)

	require.NoError(t, dayValue{&d}.Scan([]byte("2024-03-03T00:00:00Z")))
	assert.Equal(t, "2024-03-03", d.Format("2006-01-02"))

	var ts time.Time
	require.NoError(t, timeValue{&ts}.Scan("2024-03-01T10:11:12.5Z"))
	assert.Equal(t, 10, ts.Hour())
	require.Error(t, timeValue{&ts}.Scan("yesterday"))
	require.Error(t, dayValue{&d}.Scan(42))
}
