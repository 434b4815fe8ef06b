// ABOUTME: Sales analytics specialist with read-only SQL tools over an analytics database
// ABOUTME: Query rows become the turn's query results; more than one row enables charting

package builtins

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/2389/assistant-gateway/internal/agent"
)

// SalesAnalystName is the orchestrator tool name of the sales analytics specialist.
const SalesAnalystName = "sales_analytics_assistant"

const salesPrompt = `You are a sales analytics assistant with read-only SQL access to the sales database.
Inspect the schema with list_tables and describe_table before writing queries.
Use run_query with a single SELECT statement. Summarise the results in plain language and mention notable trends.`

// MaxQueryRows caps the rows returned by run_query.
const MaxQueryRows = 200

const queryTimeout = 30 * time.Second

// ErrNotReadOnly rejects statements that could modify data.
var ErrNotReadOnly = errors.New("only single SELECT statements are allowed")

var (
	readOnlyPrefix = regexp.MustCompile(`(?is)^\s*(select|with)\b`)
	writeKeyword   = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|attach|pragma|vacuum|replace)\b`)
)

// Analytics is a read-only handle on the analytics database.
type Analytics struct {
	db     *sql.DB
	driver string
}

// OpenAnalytics connects to the analytics database. driver is "sqlite" or
// "postgres"; SQLite connections are opened query-only.
func OpenAnalytics(driver, dsn string) (*Analytics, error) {
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=query_only(1)"
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported analytics driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening analytics database: %w", err)
	}
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging analytics database: %w", err)
	}
	return &Analytics{db: db, driver: driver}, nil
}

// Close closes the database.
func (a *Analytics) Close() error {
	return a.db.Close()
}

// SalesAnalyst creates the sales analytics specialist.
func SalesAnalyst(a *Analytics, models []string) *agent.Specialist {
	return &agent.Specialist{
		Name:         SalesAnalystName,
		Description:  "Answers questions about sales, revenue and orders using the analytics database",
		SystemPrompt: salesPrompt,
		Models:       models,
		Tools:        a.Tools(),
	}
}

// Tools returns list_tables, describe_table and run_query.
func (a *Analytics) Tools() []agent.Tool {
	return []agent.Tool{
		{
			Name:        "list_tables",
			Description: "List tables in the analytics database",
			InputSchema: map[string]any{"properties": map[string]any{}},
			Handler:     a.listTables,
		},
		{
			Name:        "describe_table",
			Description: "List the columns and types of a table",
			InputSchema: agent.ObjectSchema([]string{"table"}, map[string]string{"table": "Table name"}),
			Handler:     a.describeTable,
		},
		{
			Name:        "run_query",
			Description: "Run a read-only SELECT query and return rows as JSON",
			InputSchema: agent.ObjectSchema([]string{"sql"}, map[string]string{"sql": "A single SELECT statement"}),
			Handler:     a.runQuery,
		},
	}
}

func (a *Analytics) listTables(ctx context.Context, _ json.RawMessage) (agent.Output, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	if a.driver == "postgres" {
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`
	}
	rows, _, err := a.query(ctx, query)
	if err != nil {
		return agent.Output{}, err
	}

	names := make([]string, 0, len(rows))
	for _, r := range rows {
		for _, v := range r {
			names = append(names, fmt.Sprint(v))
		}
	}
	return agent.JSONOutput(map[string]any{"tables": names})
}

type describeInput struct {
	Table string `json:"table"`
}

func (a *Analytics) describeTable(ctx context.Context, input json.RawMessage) (agent.Output, error) {
	var in describeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return agent.Output{}, fmt.Errorf("invalid input: %w", err)
	}
	if in.Table == "" {
		return agent.Output{}, errors.New("table is required")
	}

	query := `SELECT name AS column_name, type AS data_type FROM pragma_table_info(?)`
	if a.driver == "postgres" {
		query = `SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`
	}
	rows, _, err := a.query(ctx, query, in.Table)
	if err != nil {
		return agent.Output{}, err
	}
	if len(rows) == 0 {
		return agent.Output{}, fmt.Errorf("table %q not found", in.Table)
	}
	return agent.JSONOutput(map[string]any{"table": in.Table, "columns": rows})
}

type queryInput struct {
	SQL string `json:"sql"`
}

func (a *Analytics) runQuery(ctx context.Context, input json.RawMessage) (agent.Output, error) {
	var in queryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return agent.Output{}, fmt.Errorf("invalid input: %w", err)
	}
	stmt, err := checkReadOnly(in.SQL)
	if err != nil {
		return agent.Output{}, err
	}

	rows, truncated, err := a.query(ctx, stmt)
	if err != nil {
		return agent.Output{}, err
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return agent.Output{}, fmt.Errorf("marshal rows: %w", err)
	}
	text := string(data)
	if truncated {
		text = fmt.Sprintf(`{"rows":%s,"truncated":true,"limit":%d}`, data, MaxQueryRows)
	}
	return agent.Output{Text: text, Rows: data, RowCount: len(rows)}, nil
}

// checkReadOnly trims a trailing semicolon and rejects anything that is not a
// single SELECT or WITH statement.
func checkReadOnly(stmt string) (string, error) {
	stmt = strings.TrimSpace(stmt)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" || strings.Contains(stmt, ";") {
		return "", ErrNotReadOnly
	}
	if !readOnlyPrefix.MatchString(stmt) || writeKeyword.MatchString(stmt) {
		return "", ErrNotReadOnly
	}
	return stmt, nil
}

// query runs a statement inside a read-only transaction on postgres and
// returns at most MaxQueryRows rows.
func (a *Analytics) query(ctx context.Context, query string, args ...any) ([]map[string]any, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var q interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	} = a.db
	if a.driver == "postgres" {
		tx, err := a.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, false, fmt.Errorf("begin read-only transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		q = tx
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, false, err
	}

	out := []map[string]any{}
	truncated := false
	for rows.Next() {
		if len(out) == MaxQueryRows {
			truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, false, fmt.Errorf("scanning row: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, truncated, rows.Err()
}
