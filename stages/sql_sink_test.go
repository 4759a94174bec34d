package stages

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/creastat/collate/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Each connection gets its own in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLSinkWritesRecordsAndForwardsEvents(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()

	sink, err := NewSQLSink(ctx, SQLSinkConfig{
		DB:     db,
		Driver: "sqlite",
		Logger: testLogger(),
	})
	require.NoError(t, err)

	input := make(chan core.Event, 4)
	output := make(chan core.Event, 4)
	input <- orderRecord("W-1", 1)
	input <- orderRecord("W-2", 2)
	input <- core.FlushEvent{}
	input <- core.DoneEvent{Records: 2}
	close(input)

	require.NoError(t, sink.Process(ctx, input, output))
	assert.Len(t, output, 4)

	rows, err := db.QueryContext(ctx, "SELECT id, body FROM "+DefaultSQLTable+" ORDER BY created_at, body")
	require.NoError(t, err)
	defer rows.Close()

	var numbers []any
	ids := map[string]bool{}
	for rows.Next() {
		var id, body string
		require.NoError(t, rows.Scan(&id, &body))
		ids[id] = true

		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &decoded))
		numbers = append(numbers, decoded["WONumber"])
	}
	require.NoError(t, rows.Err())

	assert.ElementsMatch(t, []any{"W-1", "W-2"}, numbers)
	assert.Len(t, ids, 2)
}

func TestSQLSinkRejectsBadTableName(t *testing.T) {
	db := openMemoryDB(t)
	_, err := NewSQLSink(context.Background(), SQLSinkConfig{
		DB:     db,
		Driver: "sqlite",
		Table:  "records; DROP TABLE x",
		Logger: testLogger(),
	})
	assert.Error(t, err)
}

func TestSQLSinkRequiresDB(t *testing.T) {
	_, err := NewSQLSink(context.Background(), SQLSinkConfig{Driver: "sqlite", Logger: testLogger()})
	assert.Error(t, err)
}

func TestSQLSinkWriteFailureKeepsForwarding(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()

	sink, err := NewSQLSink(ctx, SQLSinkConfig{
		DB:     db,
		Driver: "sqlite",
		Table:  "orders",
		Logger: testLogger(),
	})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "DROP TABLE orders")
	require.NoError(t, err)

	input := make(chan core.Event, 1)
	output := make(chan core.Event, 1)
	input <- orderRecord("W-1", 1)
	close(input)

	require.NoError(t, sink.Process(ctx, input, output))
	assert.Len(t, output, 1)
}

func TestInsertStatementPlaceholders(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"postgres", "INSERT INTO t (id, body, created_at) VALUES ($1, $2, $3)"},
		{"mysql", "INSERT INTO t (id, body, created_at) VALUES (?, ?, ?)"},
		{"sqlite", "INSERT INTO t (id, body, created_at) VALUES (?, ?, ?)"},
	}
	for _, tt := range tests {
		if got := insertStatement(tt.driver, "t"); got != tt.want {
			t.Errorf("insertStatement(%q) = %q, want %q", tt.driver, got, tt.want)
		}
	}
}
