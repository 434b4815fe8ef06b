// ABOUTME: Tests for the read-only analytics SQL tools
// ABOUTME: Seeds a SQLite file, then reopens it through the query-only handle

package builtins

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalytics(t *testing.T) *Analytics {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.db")

	seed, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = seed.Exec(`
		CREATE TABLE sales (region TEXT NOT NULL, product TEXT NOT NULL, total INTEGER NOT NULL);
		INSERT INTO sales VALUES ('east', 'widget', 10), ('west', 'widget', 7), ('east', 'gadget', 3);
	`)
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	a, err := OpenAnalytics("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAnalytics_ListAndDescribe(t *testing.T) {
	a := newTestAnalytics(t)
	ctx := context.Background()

	tables := call(t, findTool(a.Tools(), "list_tables"), ctx, `{}`)
	assert.Equal(t, []any{"sales"}, tables["tables"])

	desc := call(t, findTool(a.Tools(), "describe_table"), ctx, `{"table":"sales"}`)
	cols, _ := desc["columns"].([]any)
	require.Len(t, cols, 3)
	first := cols[0].(map[string]any)
	assert.Equal(t, "region", first["column_name"])
	assert.Equal(t, "TEXT", first["data_type"])

	_, err := findTool(a.Tools(), "describe_table")(ctx, json.RawMessage(`{"table":"missing"}`))
	assert.Error(t, err)
}

func TestAnalytics_RunQuery(t *testing.T) {
	a := newTestAnalytics(t)

	out, err := findTool(a.Tools(), "run_query")(context.Background(),
		json.RawMessage(`{"sql":"SELECT region, SUM(total) AS total FROM sales GROUP BY region ORDER BY region;"}`))
	require.NoError(t, err)

	assert.Equal(t, 2, out.RowCount)
	assert.JSONEq(t, `[{"region":"east","total":13},{"region":"west","total":7}]`, string(out.Rows))
	assert.JSONEq(t, string(out.Rows), out.Text)
}

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		ok   bool
	}{
		{name: "select", sql: "SELECT * FROM sales", ok: true},
		{name: "cte", sql: "with t as (select 1 as n) select n from t", ok: true},
		{name: "trailing semicolon", sql: "select 1;", ok: true},
		{name: "column named created_at", sql: "select created_at from orders", ok: true},
		{name: "delete", sql: "DELETE FROM sales", ok: false},
		{name: "stacked", sql: "select 1; drop table sales", ok: false},
		{name: "cte with write", sql: "with x as (delete from sales returning *) select * from x", ok: false},
		{name: "empty", sql: "  ", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := checkReadOnly(tt.sql)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrNotReadOnly)
			}
		})
	}
}

func TestAnalytics_WritesRejected(t *testing.T) {
	a := newTestAnalytics(t)
	_, err := findTool(a.Tools(), "run_query")(context.Background(), json.RawMessage(`{"sql":"DELETE FROM sales"}`))
	assert.ErrorIs(t, err, ErrNotReadOnly)
}

func TestOpenAnalytics_UnknownDriver(t *testing.T) {
	_, err := OpenAnalytics("oracle", "dsn")
	assert.Error(t, err)
}

func TestSalesAnalyst(t *testing.T) {
	a := newTestAnalytics(t)
	s := SalesAnalyst(a, []string{"m"})
	assert.Equal(t, SalesAnalystName, s.Name)
	assert.Equal(t, []string{"list_tables", "describe_table", "run_query"}, s.ToolNames())
}
