package txn

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

var ErrUnknownDriver = errors.New("txn: unknown driver")

// ConnParams is the resolved connection parameter set for one action.
// Host, Port and Driver are always injected from server configuration;
// client-supplied values for them are ignored upstream.
type ConnParams struct {
	Driver   string
	User     string
	Password string
	Host     string
	Port     int
	Database string
}

// Dialect abstracts the per-engine pieces: DSN construction and the
// schema introspection queries.
type Dialect interface {
	// DriverName is the database/sql registration name.
	DriverName() string
	// DSN renders params into a driver source name.
	DSN(params ConnParams, timeout time.Duration) (string, error)
	// TablesQuery lists the tables of a database.
	TablesQuery(database string) (string, []any)
	// ColumnsQuery lists (column, declared type, size) for a table.
	ColumnsQuery(database, table string) (string, []any)
}

// ForDriver resolves the dialect registered under name.
func ForDriver(name string) (Dialect, error) {
	switch name {
	case "mysql":
		return mysqlDialect{}, nil
	case "sqlite":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
}

type mysqlDialect struct{}

func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) DSN(params ConnParams, timeout time.Duration) (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = params.User
	cfg.Passwd = params.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", params.Host, params.Port)
	cfg.DBName = params.Database
	cfg.Timeout = timeout
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func (mysqlDialect) TablesQuery(database string) (string, []any) {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = ? ORDER BY table_name",
		[]any{database}
}

func (mysqlDialect) ColumnsQuery(database, table string) (string, []any) {
	return "SELECT column_name, data_type, COALESCE(character_maximum_length, numeric_precision, 0) " +
			"FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position",
		[]any{database, table}
}

type sqliteDialect struct{}

func (sqliteDialect) DriverName() string { return "sqlite" }

// DSN treats Database as a filesystem path (or ":memory:"); there is no
// network handshake so user, password and address are ignored.
func (sqliteDialect) DSN(params ConnParams, _ time.Duration) (string, error) {
	if params.Database == "" {
		return "", errors.New("txn: sqlite requires a database path")
	}
	return params.Database, nil
}

func (sqliteDialect) TablesQuery(string) (string, []any) {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name",
		nil
}

func (sqliteDialect) ColumnsQuery(_, table string) (string, []any) {
	return "SELECT name, type, 0 FROM pragma_table_info(?) ORDER BY cid",
		[]any{table}
}
