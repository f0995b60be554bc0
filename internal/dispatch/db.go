package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gatesql/gatesql/internal/observability"
	"github.com/gatesql/gatesql/internal/protocol"
	"github.com/gatesql/gatesql/internal/txn"
)

// connect opens the per-action transaction manager.
func (d *Dispatcher) connect(ctx context.Context, params txn.ConnParams) (*txn.Manager, error) {
	dialect, err := txn.ForDriver(params.Driver)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	mgr, err := txn.Connect(ctx, dialect, params, d.db.ConnectTimeout)
	observability.RecordDBConnect(params.Driver, err == nil, time.Since(start))
	return mgr, err
}

// dbLogin opens a connection as the client user and stamps their last
// login.
func (d *Dispatcher) dbLogin(ctx context.Context, value map[string]any) protocol.Response {
	params, err := d.connParams(value)
	if err != nil {
		return failFrom(err)
	}
	if params.User == "" {
		return protocol.Fail("missing argument user")
	}
	mgr, err := d.connect(ctx, params)
	if err != nil {
		return failFrom(err)
	}
	defer mgr.Disconnect()

	n := d.registry.Constants().Naming
	stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
		n.UsersTable, n.LastLoginField, n.UserField)
	if err := mgr.Write(ctx, stmt, []any{time.Now().UTC().Format(time.RFC3339), params.User}); err != nil {
		return failFrom(err)
	}
	if err := mgr.Commit(); err != nil {
		return failFrom(err)
	}
	return protocol.OK(nil)
}

// dbSchema lists tables, or the columns of one table.
func (d *Dispatcher) dbSchema(ctx context.Context, value map[string]any) protocol.Response {
	params, err := d.connParams(value)
	if err != nil {
		return failFrom(err)
	}
	database, err := stringArg(value, "database", true)
	if err != nil {
		return failFrom(err)
	}
	table, err := stringArg(value, "table", false)
	if err != nil {
		return failFrom(err)
	}
	mgr, err := d.connect(ctx, params)
	if err != nil {
		return failFrom(err)
	}
	defer mgr.Disconnect()

	if table == "" {
		tables, err := mgr.Tables(ctx, database)
		if err != nil {
			return failFrom(err)
		}
		return protocol.OK(tables)
	}
	columns, err := mgr.Columns(ctx, database, table)
	if err != nil {
		return failFrom(err)
	}
	return protocol.OK(columns)
}

// dbTransact runs a read query or a write batch. A write batch commits
// only when every statement executes cleanly; the first failure aborts
// the rest, names the failing statement, and the rollback on Disconnect
// undoes anything already executed.
func (d *Dispatcher) dbTransact(ctx context.Context, value map[string]any) protocol.Response {
	params, err := d.connParams(value)
	if err != nil {
		return failFrom(err)
	}
	kind, err := stringArg(value, "transaction_type", true)
	if err != nil {
		return failFrom(err)
	}
	switch kind {
	case "read":
		return d.transactRead(ctx, params, value)
	case "write":
		return d.transactWrite(ctx, params, value)
	default:
		return protocol.Fail("invalid transaction_type %s", kind)
	}
}

func (d *Dispatcher) transactRead(ctx context.Context, params txn.ConnParams, value map[string]any) protocol.Response {
	stmt, err := stringArg(value, "statement", true)
	if err != nil {
		return failFrom(err)
	}
	args, err := paramList(value["parameters"])
	if err != nil {
		return failFrom(err)
	}
	mgr, err := d.connect(ctx, params)
	if err != nil {
		return failFrom(err)
	}
	defer mgr.Disconnect()

	table, err := mgr.Read(ctx, stmt, args)
	if err != nil {
		return failFrom(err)
	}
	return protocol.OK(table)
}

func (d *Dispatcher) transactWrite(ctx context.Context, params txn.ConnParams, value map[string]any) protocol.Response {
	stmts, err := stringList(value, "statement", true)
	if err != nil {
		return failFrom(err)
	}
	argSets, err := batchParams(value["parameters"], len(stmts))
	if err != nil {
		return failFrom(err)
	}
	mgr, err := d.connect(ctx, params)
	if err != nil {
		return failFrom(err)
	}
	defer mgr.Disconnect()

	for i, stmt := range stmts {
		if err := mgr.Write(ctx, stmt, argSets[i]); err != nil {
			return protocol.Fail("statement %d (%s) failed: %v", i, stmt, err)
		}
	}
	if err := mgr.Commit(); err != nil {
		return failFrom(err)
	}
	return protocol.OK(nil)
}

// batchParams aligns the parameters argument with n statements. A
// single statement takes one flat parameter list; a batch takes a list
// of parameter lists, one per statement, or null for none at all.
func batchParams(raw any, n int) ([][]any, error) {
	if raw == nil {
		return make([][]any, n), nil
	}
	if n == 1 {
		// Accept either a flat list or a one-element list of lists.
		list, ok := raw.([]any)
		if !ok {
			return nil, badArg("parameters must be a list or null")
		}
		if len(list) == 1 {
			if inner, ok := list[0].([]any); ok {
				return [][]any{inner}, nil
			}
		}
		return [][]any{list}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, badArg("parameters must be a list of lists for a batch")
	}
	if len(list) != n {
		return nil, badArg("parameters count %d does not match %d statements", len(list), n)
	}
	out := make([][]any, n)
	for i, item := range list {
		set, err := paramList(item)
		if err != nil {
			return nil, badArg("parameters[%d] must be a list or null", i)
		}
		out[i] = set
	}
	return out, nil
}

// permissions joins user, role and permission associations for the
// authenticated user, optionally filtered.
func (d *Dispatcher) permissions(ctx context.Context, value map[string]any) protocol.Response {
	params, err := d.connParams(value)
	if err != nil {
		return failFrom(err)
	}
	if params.User == "" {
		return protocol.Fail("missing argument user")
	}
	objects, err := stringList(value, "object_id", false)
	if err != nil {
		return failFrom(err)
	}
	operations, err := stringList(value, "operation", false)
	if err != nil {
		return failFrom(err)
	}
	mgr, err := d.connect(ctx, params)
	if err != nil {
		return failFrom(err)
	}
	defer mgr.Disconnect()

	n := d.registry.Constants().Naming
	var sb strings.Builder
	args := []any{params.User}
	fmt.Fprintf(&sb, "SELECT u.%s, p.%s, p.%s FROM %s u JOIN %s r ON r.%s = u.%s JOIN %s p ON p.%s = r.%s WHERE u.%s = ?",
		n.UserField, n.ObjectField, n.OperationField,
		n.UsersTable, n.RolesTable, n.UserField, n.UserField,
		n.PermissionsTable, n.RoleField, n.RoleField,
		n.UserField)
	appendFilter(&sb, &args, "p."+n.ObjectField, objects)
	appendFilter(&sb, &args, "p."+n.OperationField, operations)

	table, err := mgr.Read(ctx, sb.String(), args)
	if err != nil {
		return failFrom(err)
	}
	return protocol.OK(table)
}

func appendFilter(sb *strings.Builder, args *[]any, column string, values []string) {
	if len(values) == 0 {
		return
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	fmt.Fprintf(sb, " AND %s IN (%s)", column, placeholders)
	for _, v := range values {
		*args = append(*args, v)
	}
}

// failFrom renders any handler error as an action-level failure.
func failFrom(err error) protocol.Response {
	var arg argError
	if errors.As(err, &arg) {
		return protocol.Fail("%s", arg.msg)
	}
	return protocol.Fail("%v", err)
}
