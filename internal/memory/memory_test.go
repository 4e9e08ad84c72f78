package memory

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestKeywords(t *testing.T) {
	got := Keywords("¿Te acuerdas de lo que hablamos sobre el viaje a Mérida? El viaje")
	assert.Equal(t, []string{"viaje", "mérida"}, got)
	assert.Empty(t, Keywords("¿y tú qué?"))
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{UserTag: "ana", Content: FormatExchange("quiero ir a Mérida", "Mérida es preciosa"), CreatedAt: base},
		{UserTag: "ana", Content: FormatExchange("receta de arepas", "Necesitas harina"), CreatedAt: base.Add(time.Hour)},
		{UserTag: "ana", Content: FormatExchange("viaje a Mérida en diciembre", "Lleva abrigo"), CreatedAt: base.Add(2 * time.Hour)},
		{UserTag: "luis", Content: FormatExchange("Mérida", "ok"), CreatedAt: base},
	}
	for _, e := range entries {
		require.NoError(t, s.Append(ctx, e))
	}
}

func TestSQLiteStoreQuery(t *testing.T) {
	s := newSQLite(t)
	seed(t, s)
	ctx := context.Background()

	got, err := s.Query(ctx, Query{UserTag: "ana", Keywords: []string{"viaje", "mérida"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Content, "diciembre", "two keyword hits rank first")
	assert.NotEmpty(t, got[0].ID)

	recent, err := s.Query(ctx, Query{UserTag: "ana", Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Contains(t, recent[0].Content, "diciembre")

	none, err := s.Query(ctx, Query{UserTag: "pedro", Keywords: []string{"viaje"}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRankLimit(t *testing.T) {
	var entries []Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, Entry{Content: "arepa"})
	}
	assert.Len(t, rank(entries, []string{"arepa"}, 0), DefaultLimit)
	assert.Len(t, rank(entries, nil, 3), 3)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("OLGA_TEST_REDIS")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	s, err := NewRedisStore(RedisConfig{Addr: addr, Stream: "olga:test:" + t.Name()})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	defer s.rdb.Del(ctx, s.key("ana"), s.key("luis"))

	seed(t, s)
	got, err := s.Query(ctx, Query{UserTag: "ana", Keywords: []string{"mérida"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Content, "diciembre", "newest first among equal scores")
}
