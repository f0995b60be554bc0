package txn

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Table is a column-oriented result set: column name -> row index ->
// value. Row indices are decimal strings so the shape survives JSON
// transport unchanged.
type Table map[string]map[string]any

// Manager owns one live database connection for the duration of a
// single dispatched action.
type Manager struct {
	dialect   Dialect
	db        *sql.DB
	conn      *sql.Conn
	tx        *sql.Tx
	committed bool
	closed    bool
}

// Connect opens a fresh connection for one action. The handshake is
// bounded by timeout; a dial or auth failure surfaces here, never
// later.
func Connect(ctx context.Context, dialect Dialect, params ConnParams, timeout time.Duration) (*Manager, error) {
	dsn, err := dialect.DSN(params, timeout)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("txn: open %s: %w", dialect.DriverName(), err)
	}
	db.SetMaxOpenConns(1)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := db.Conn(dialCtx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("txn: connect %s: %w", dialect.DriverName(), err)
	}
	if err := conn.PingContext(dialCtx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("txn: handshake %s: %w", dialect.DriverName(), err)
	}
	return &Manager{dialect: dialect, db: db, conn: conn}, nil
}

// Read executes one parameterized query and fetches the full result as
// a column-oriented table.
func (m *Manager) Read(ctx context.Context, stmt string, args []any) (Table, error) {
	rows, err := m.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("txn: query: %w", err)
	}
	defer rows.Close()
	return scanTable(rows)
}

// Write executes one parameterized statement inside the manager's
// transaction, beginning it on first use. It never commits.
func (m *Manager) Write(ctx context.Context, stmt string, args []any) error {
	if m.tx == nil {
		tx, err := m.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("txn: begin: %w", err)
		}
		m.tx = tx
	}
	if _, err := m.tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("txn: exec: %w", err)
	}
	return nil
}

// Commit commits the transaction begun by Write. Calling Commit with no
// pending writes is a no-op.
func (m *Manager) Commit() error {
	if m.tx == nil {
		return nil
	}
	if err := m.tx.Commit(); err != nil {
		return fmt.Errorf("txn: commit: %w", err)
	}
	m.committed = true
	return nil
}

// Disconnect releases the connection. An uncommitted transaction is
// rolled back first. Safe to call exactly once on every exit path; a
// second call is a no-op.
func (m *Manager) Disconnect() {
	if m.closed {
		return
	}
	m.closed = true
	if m.tx != nil && !m.committed {
		m.tx.Rollback()
	}
	m.conn.Close()
	m.db.Close()
}

// Tables lists the table names of database using the manager's dialect.
func (m *Manager) Tables(ctx context.Context, database string) ([]string, error) {
	stmt, args := m.dialect.TablesQuery(database)
	rows, err := m.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("txn: list tables: %w", err)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("txn: scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("txn: list tables: %w", err)
	}
	return tables, nil
}

// Columns maps each column of table to its declared type and size.
func (m *Manager) Columns(ctx context.Context, database, table string) (map[string][]any, error) {
	stmt, args := m.dialect.ColumnsQuery(database, table)
	rows, err := m.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("txn: list columns: %w", err)
	}
	defer rows.Close()
	cols := make(map[string][]any)
	for rows.Next() {
		var name, declared string
		var size int64
		if err := rows.Scan(&name, &declared, &size); err != nil {
			return nil, fmt.Errorf("txn: scan column: %w", err)
		}
		if size == 0 {
			declared, size = splitDeclaredSize(declared)
		}
		cols[name] = []any{declared, size}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("txn: list columns: %w", err)
	}
	return cols, nil
}

func scanTable(rows *sql.Rows) (Table, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("txn: columns: %w", err)
	}
	table := make(Table, len(columns))
	for _, col := range columns {
		table[col] = make(map[string]any)
	}
	row := 0
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("txn: scan row %d: %w", row, err)
		}
		key := strconv.Itoa(row)
		for i, col := range columns {
			table[col][key] = normalizeValue(values[i])
		}
		row++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("txn: fetch: %w", err)
	}
	return table, nil
}

// normalizeValue keeps results JSON-friendly: drivers hand back []byte
// for text columns.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// splitDeclaredSize parses declarations like VARCHAR(20) into the bare
// type and its size.
func splitDeclaredSize(declared string) (string, int64) {
	open := -1
	for i, r := range declared {
		if r == '(' {
			open = i
			break
		}
	}
	if open < 0 || declared[len(declared)-1] != ')' {
		return declared, 0
	}
	size, err := strconv.ParseInt(declared[open+1:len(declared)-1], 10, 64)
	if err != nil {
		return declared, 0
	}
	return declared[:open], size
}
