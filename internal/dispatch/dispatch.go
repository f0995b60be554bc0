package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatesql/gatesql/internal/observability"
	"github.com/gatesql/gatesql/internal/protocol"
	"github.com/gatesql/gatesql/internal/registry"
)

// Action names accepted on the wire.
const (
	ActionDBLogin     = "db_login"
	ActionDBSchema    = "db_schema"
	ActionDBTransact  = "db_transact"
	ActionPermissions = "permissions"
	ActionConstants   = "constants"
	ActionAddIDs      = "add_ids"
	ActionRemoveIDs   = "remove_ids"
	ActionRequestIDs  = "request_ids"
)

// DBConfig carries the server-enforced connection fields. Clients never
// choose the driver or endpoint; these come from process configuration.
type DBConfig struct {
	Driver         string
	Host           string
	Port           int
	ConnectTimeout time.Duration
}

type handlerFunc func(ctx context.Context, value map[string]any) protocol.Response

// Dispatcher resolves actions against a fixed handler table.
type Dispatcher struct {
	db       DBConfig
	registry *registry.Registry
	handlers map[string]handlerFunc
}

// New builds a dispatcher around the injected registry and the
// server-side database defaults.
func New(db DBConfig, reg *registry.Registry) *Dispatcher {
	if db.ConnectTimeout <= 0 {
		db.ConnectTimeout = 10 * time.Second
	}
	d := &Dispatcher{db: db, registry: reg}
	d.handlers = map[string]handlerFunc{
		ActionDBLogin:     d.dbLogin,
		ActionDBSchema:    d.dbSchema,
		ActionDBTransact:  d.dbTransact,
		ActionPermissions: d.permissions,
		ActionConstants:   d.constants,
		ActionAddIDs:      d.addIDs,
		ActionRemoveIDs:   d.removeIDs,
		ActionRequestIDs:  d.requestIDs,
	}
	return d
}

// Dispatch runs the handler for req and always produces a response. An
// unknown action is an action-level failure, not a connection fault.
func (d *Dispatcher) Dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	handler, ok := d.handlers[req.Action]
	if !ok {
		observability.RecordRequest(req.Action, false, 0)
		return protocol.Fail("invalid action %s", req.Action)
	}
	start := time.Now()
	resp := handler(ctx, req.Value)
	elapsed := time.Since(start)
	observability.RecordRequest(req.Action, resp.Success, elapsed)
	if !resp.Success {
		log.Debug().Str("action", req.Action).Any("reason", resp.Value).Msg("action failed")
	}
	return resp
}
