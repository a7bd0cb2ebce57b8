// ABOUTME: Storage pack exposing a SQLite database through SQL tools.
// ABOUTME: Read and write queries are gated separately; identifiers are validated.

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/halcyard/toolgate/internal/provider"
)

// identifierPattern matches bare SQL identifiers. Table and column names from
// tool input are interpolated into statements, so anything else is rejected.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Open opens (or creates) the pack's database.
func Open(path string) (*sql.DB, error) {
	// Pragmas ride the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite",
		path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening storage database: %w", err)
	}
	return db, nil
}

// NewPack creates the storage pack over an open database.
func NewPack(db *sql.DB, logger *slog.Logger) *provider.Pack {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{db: db, logger: logger.With("component", "storage")}

	return &provider.Pack{
		ID:      "storage",
		Version: "1.0.0",
		Tools: []*provider.Tool{
			{
				Descriptor: provider.Descriptor{
					Name:        "read_query",
					Description: "Execute a SELECT query and return matching rows",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"SELECT statement to execute"}},"required":["query"]}`),
					Idempotent:  true,
				},
				Handler: h.readQuery,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "write_query",
					Description: "Execute an INSERT, UPDATE, DELETE, or DDL statement",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Non-SELECT statement to execute"}},"required":["query"]}`),
					Idempotent:  false,
				},
				Handler: h.writeQuery,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "list_tables",
					Description: "List all tables in the database",
					InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
					Idempotent:  true,
				},
				Handler: h.listTables,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "describe_table",
					Description: "Show the column layout of a table",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"table_name":{"type":"string"}},"required":["table_name"]}`),
					Idempotent:  true,
				},
				Handler: h.describeTable,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "query_record",
					Description: "Look up rows in a table by exact column value",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"table_name":{"type":"string"},"column":{"type":"string"},"value":{"type":"string"},"limit":{"type":"integer"}},"required":["table_name","column","value"]}`),
					Idempotent:  true,
				},
				Handler: h.queryRecord,
			},
		},
	}
}

type handlers struct {
	db     *sql.DB
	logger *slog.Logger
}

type queryInput struct {
	Query string `json:"query"`
}

func (h *handlers) readQuery(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in queryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	stmt := strings.TrimSpace(in.Query)
	upper := strings.ToUpper(stmt)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT queries are allowed for read_query")
	}

	rows, err := h.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	return marshalRows(rows)
}

func (h *handlers) writeQuery(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in queryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	stmt := strings.TrimSpace(in.Query)
	if strings.HasPrefix(strings.ToUpper(stmt), "SELECT") {
		return nil, fmt.Errorf("SELECT queries are not allowed for write_query, use read_query")
	}

	res, err := h.db.ExecContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("statement failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}

	h.logger.Info("write query executed", "rows_affected", affected)
	return json.Marshal(map[string]any{"rows_affected": affected})
}

func (h *handlers) listTables(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"tables": tables})
}

type describeTableInput struct {
	TableName string `json:"table_name"`
}

func (h *handlers) describeTable(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in describeTableInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if !identifierPattern.MatchString(in.TableName) {
		return nil, fmt.Errorf("invalid table name %q", in.TableName)
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)`, in.TableName)
	if err != nil {
		return nil, fmt.Errorf("describing table: %w", err)
	}
	defer rows.Close()

	type column struct {
		Name       string  `json:"name"`
		Type       string  `json:"type"`
		NotNull    bool    `json:"not_null"`
		Default    *string `json:"default"`
		PrimaryKey bool    `json:"primary_key"`
	}
	columns := []column{}
	for rows.Next() {
		var c column
		var notNull, pk int
		if err := rows.Scan(&c.Name, &c.Type, &notNull, &c.Default, &pk); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		c.NotNull = notNull != 0
		c.PrimaryKey = pk != 0
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q does not exist", in.TableName)
	}
	return json.Marshal(map[string]any{"table": in.TableName, "columns": columns})
}

type queryRecordInput struct {
	TableName string `json:"table_name"`
	Column    string `json:"column"`
	Value     string `json:"value"`
	Limit     int    `json:"limit"`
}

func (h *handlers) queryRecord(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in queryRecordInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if !identifierPattern.MatchString(in.TableName) {
		return nil, fmt.Errorf("invalid table name %q", in.TableName)
	}
	if !identifierPattern.MatchString(in.Column) {
		return nil, fmt.Errorf("invalid column name %q", in.Column)
	}
	limit := in.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	// Identifiers are validated above; the value itself is parameterized.
	stmt := fmt.Sprintf(`SELECT * FROM "%s" WHERE "%s" = ? LIMIT %d`,
		in.TableName, in.Column, limit)
	rows, err := h.db.QueryContext(ctx, stmt, in.Value)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	return marshalRows(rows)
}

// marshalRows converts a result set to {"columns": [...], "rows": [{...}]}.
func marshalRows(rows *sql.Rows) (json.RawMessage, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"columns": cols,
		"rows":    out,
		"count":   len(out),
	})
}
