package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gatesql/gatesql/internal/protocol"
	"github.com/gatesql/gatesql/internal/registry"
	"github.com/gatesql/gatesql/internal/txn"
)

func newSQLiteDispatcher(t *testing.T) (*Dispatcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.db")
	reg := registry.New(registry.Constants{DatabaseName: "ledger"})
	d := New(DBConfig{Driver: "sqlite", ConnectTimeout: 5 * time.Second}, reg)
	return d, path
}

func run(t *testing.T, d *Dispatcher, action string, value map[string]any) protocol.Response {
	t.Helper()
	return d.Dispatch(context.Background(), protocol.Request{Action: action, Value: value})
}

func connString(path string) map[string]any {
	return map[string]any{
		"connection_string": map[string]any{
			"user":     "alice",
			"password": "secret",
			"database": path,
			// Server-enforced fields: client values must be ignored.
			"driver": "oracle",
			"host":   "evil.example.com",
		},
	}
}

func seedUsers(t *testing.T, d *Dispatcher, path string) {
	t.Helper()
	value := connString(path)
	value["transaction_type"] = "write"
	value["statement"] = []any{
		"CREATE TABLE users (username VARCHAR(32), last_login VARCHAR(40))",
		"INSERT INTO users (username, last_login) VALUES ('alice', '')",
		"CREATE TABLE user_roles (username VARCHAR(32), role VARCHAR(32))",
		"INSERT INTO user_roles (username, role) VALUES ('alice', 'admin')",
		"CREATE TABLE role_permissions (role VARCHAR(32), object_id VARCHAR(32), operation VARCHAR(16))",
		"INSERT INTO role_permissions (role, object_id, operation) VALUES ('admin', 'ledger', 'write')",
		"INSERT INTO role_permissions (role, object_id, operation) VALUES ('admin', 'reports', 'read')",
	}
	value["parameters"] = nil
	resp := run(t, d, ActionDBTransact, value)
	if !resp.Success {
		t.Fatalf("seed failed: %v", resp.Value)
	}
}

func TestUnknownAction(t *testing.T) {
	d, _ := newSQLiteDispatcher(t)
	resp := run(t, d, "nonexistent", nil)
	if resp.Success {
		t.Fatalf("unknown action succeeded")
	}
	if resp.Value != "invalid action nonexistent" {
		t.Fatalf("unexpected failure value: %v", resp.Value)
	}
}

func TestDBLoginUpdatesTimestamp(t *testing.T) {
	d, path := newSQLiteDispatcher(t)
	seedUsers(t, d, path)

	resp := run(t, d, ActionDBLogin, connString(path))
	if !resp.Success {
		t.Fatalf("login failed: %v", resp.Value)
	}
	if resp.Value != nil {
		t.Fatalf("login value should be null, got %v", resp.Value)
	}

	value := connString(path)
	value["transaction_type"] = "read"
	value["statement"] = "SELECT last_login FROM users WHERE username = 'alice'"
	value["parameters"] = nil
	read := run(t, d, ActionDBTransact, value)
	if !read.Success {
		t.Fatalf("read back failed: %v", read.Value)
	}
	table := read.Value.(txn.Table)
	if table["last_login"]["0"] == "" {
		t.Fatalf("last_login not stamped")
	}
}

func TestDBLoginRequiresUser(t *testing.T) {
	d, path := newSQLiteDispatcher(t)
	value := map[string]any{
		"connection_string": map[string]any{"database": path},
	}
	resp := run(t, d, ActionDBLogin, value)
	if resp.Success {
		t.Fatalf("login without user succeeded")
	}
}

func TestDBTransactRead(t *testing.T) {
	d, path := newSQLiteDispatcher(t)
	value := connString(path)
	value["transaction_type"] = "read"
	value["statement"] = "SELECT 1"
	value["parameters"] = nil

	resp := run(t, d, ActionDBTransact, value)
	if !resp.Success {
		t.Fatalf("read failed: %v", resp.Value)
	}
	table, ok := resp.Value.(txn.Table)
	if !ok {
		t.Fatalf("expected table result, got %T", resp.Value)
	}
	if table["1"]["0"] != int64(1) {
		t.Fatalf("unexpected result: %v", table)
	}
}

func TestDBTransactBatchAllOrNothing(t *testing.T) {
	d, path := newSQLiteDispatcher(t)
	seedUsers(t, d, path)

	value := connString(path)
	value["transaction_type"] = "write"
	value["statement"] = []any{
		"INSERT INTO users (username, last_login) VALUES ('bob', '')",
		"INSERT INTO broken_table (x) VALUES (1)",
		"INSERT INTO users (username, last_login) VALUES ('carol', '')",
	}
	value["parameters"] = nil

	resp := run(t, d, ActionDBTransact, value)
	if resp.Success {
		t.Fatalf("batch with failing statement succeeded")
	}
	desc, ok := resp.Value.(string)
	if !ok {
		t.Fatalf("failure value not a description: %v", resp.Value)
	}
	if want := "statement 1 (INSERT INTO broken_table"; len(desc) < len(want) || desc[:len(want)] != want {
		t.Fatalf("failure does not cite failing statement: %q", desc)
	}

	// Nothing from the batch may have been committed.
	check := connString(path)
	check["transaction_type"] = "read"
	check["statement"] = "SELECT COUNT(*) AS n FROM users"
	check["parameters"] = nil
	read := run(t, d, ActionDBTransact, check)
	if !read.Success {
		t.Fatalf("read back failed: %v", read.Value)
	}
	table := read.Value.(txn.Table)
	if table["n"]["0"] != int64(1) {
		t.Fatalf("batch leaked rows: %v", table["n"]["0"])
	}
}

func TestDBTransactBatchWithParameters(t *testing.T) {
	d, path := newSQLiteDispatcher(t)
	seedUsers(t, d, path)

	value := connString(path)
	value["transaction_type"] = "write"
	value["statement"] = []any{
		"INSERT INTO users (username, last_login) VALUES (?, ?)",
		"INSERT INTO users (username, last_login) VALUES (?, ?)",
	}
	value["parameters"] = []any{
		[]any{"bob", ""},
		[]any{"carol", ""},
	}
	resp := run(t, d, ActionDBTransact, value)
	if !resp.Success {
		t.Fatalf("batch failed: %v", resp.Value)
	}
}

func TestDBTransactInvalidType(t *testing.T) {
	d, path := newSQLiteDispatcher(t)
	value := connString(path)
	value["transaction_type"] = "upsert"
	value["statement"] = "SELECT 1"
	resp := run(t, d, ActionDBTransact, value)
	if resp.Success {
		t.Fatalf("invalid transaction_type succeeded")
	}
}

func TestDBTransactMissingStatement(t *testing.T) {
	d, path := newSQLiteDispatcher(t)
	value := connString(path)
	value["transaction_type"] = "read"
	resp := run(t, d, ActionDBTransact, value)
	if resp.Success {
		t.Fatalf("missing statement succeeded")
	}
}

func TestDBSchema(t *testing.T) {
	d, path := newSQLiteDispatcher(t)
	seedUsers(t, d, path)

	value := connString(path)
	value["database"] = ""
	resp := run(t, d, ActionDBSchema, value)
	if !resp.Success {
		t.Fatalf("schema tables failed: %v", resp.Value)
	}

	value = connString(path)
	value["database"] = ""
	value["table"] = "users"
	resp = run(t, d, ActionDBSchema, value)
	if !resp.Success {
		t.Fatalf("schema columns failed: %v", resp.Value)
	}
	cols, ok := resp.Value.(map[string][]any)
	if !ok {
		t.Fatalf("expected column mapping, got %T", resp.Value)
	}
	if cols["username"][0] != "VARCHAR" || cols["username"][1] != int64(32) {
		t.Fatalf("unexpected username column: %v", cols["username"])
	}
}

func TestPermissionsJoin(t *testing.T) {
	d, path := newSQLiteDispatcher(t)
	seedUsers(t, d, path)

	resp := run(t, d, ActionPermissions, connString(path))
	if !resp.Success {
		t.Fatalf("permissions failed: %v", resp.Value)
	}
	table := resp.Value.(txn.Table)
	if len(table["object_id"]) != 2 {
		t.Fatalf("expected two permission rows: %v", table)
	}

	value := connString(path)
	value["operation"] = "read"
	resp = run(t, d, ActionPermissions, value)
	if !resp.Success {
		t.Fatalf("filtered permissions failed: %v", resp.Value)
	}
	table = resp.Value.(txn.Table)
	if len(table["object_id"]) != 1 || table["object_id"]["0"] != "reports" {
		t.Fatalf("filter not applied: %v", table)
	}
}

func TestConstantsAction(t *testing.T) {
	d, _ := newSQLiteDispatcher(t)
	resp := run(t, d, ActionConstants, nil)
	if !resp.Success {
		t.Fatalf("constants failed: %v", resp.Value)
	}
	attrs := resp.Value.(map[string]any)
	if attrs["database_name"] != "ledger" {
		t.Fatalf("unexpected constants: %v", attrs)
	}

	resp = run(t, d, ActionConstants, map[string]any{"subset": "bogus"})
	if resp.Success {
		t.Fatalf("unknown subset succeeded")
	}
}

func TestIDLifecycleActions(t *testing.T) {
	d, _ := newSQLiteDispatcher(t)

	resp := run(t, d, ActionAddIDs, map[string]any{
		"id_code":  "AR",
		"ids":      []any{"1001", "1002"},
		"instance": "client-a",
	})
	if !resp.Success {
		t.Fatalf("add_ids failed: %v", resp.Value)
	}

	resp = run(t, d, ActionRequestIDs, map[string]any{"id_code": "AR", "instance": "client-b"})
	if !resp.Success {
		t.Fatalf("request_ids failed: %v", resp.Value)
	}
	ids := resp.Value.([]string)
	if len(ids) != 2 {
		t.Fatalf("expected both claims visible to another instance: %v", ids)
	}

	resp = run(t, d, ActionRemoveIDs, map[string]any{"ids": []any{"1001"}, "id_code": "AR"})
	if !resp.Success {
		t.Fatalf("remove_ids failed: %v", resp.Value)
	}

	resp = run(t, d, ActionRequestIDs, map[string]any{"id_code": "AR"})
	ids = resp.Value.([]string)
	if len(ids) != 1 || ids[0] != "1002" {
		t.Fatalf("unexpected remainder: %v", ids)
	}
}

func TestAddIDsMissingArgs(t *testing.T) {
	d, _ := newSQLiteDispatcher(t)
	resp := run(t, d, ActionAddIDs, map[string]any{"ids": []any{"1"}})
	if resp.Success {
		t.Fatalf("add_ids without id_code succeeded")
	}
	resp = run(t, d, ActionRemoveIDs, nil)
	if resp.Success {
		t.Fatalf("remove_ids without any selector succeeded")
	}
}

func TestConnectionStringRequired(t *testing.T) {
	d, _ := newSQLiteDispatcher(t)
	resp := run(t, d, ActionDBTransact, map[string]any{"transaction_type": "read", "statement": "SELECT 1"})
	if resp.Success {
		t.Fatalf("missing connection_string succeeded")
	}
	if resp.Value != "missing argument connection_string" {
		t.Fatalf("unexpected description: %v", resp.Value)
	}
}
