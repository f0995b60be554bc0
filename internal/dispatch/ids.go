package dispatch

import (
	"context"

	"github.com/gatesql/gatesql/internal/protocol"
)

// constants serves the registry catalogue, optionally one subset.
func (d *Dispatcher) constants(_ context.Context, value map[string]any) protocol.Response {
	subset, err := stringArg(value, "subset", false)
	if err != nil {
		return failFrom(err)
	}
	attrs, err := d.registry.FormatAttrs(subset)
	if err != nil {
		return failFrom(err)
	}
	return protocol.OK(attrs)
}

// addIDs claims not-yet-persisted record ids for a client instance.
func (d *Dispatcher) addIDs(_ context.Context, value map[string]any) protocol.Response {
	idCode, err := stringArg(value, "id_code", true)
	if err != nil {
		return failFrom(err)
	}
	ids, err := stringList(value, "ids", true)
	if err != nil {
		return failFrom(err)
	}
	instance, err := stringArg(value, "instance", false)
	if err != nil {
		return failFrom(err)
	}
	total := d.registry.AddUnsavedIDs(idCode, ids, instance)
	return protocol.OK(map[string]any{"claimed": len(ids), "total": total})
}

// removeIDs releases claims by id, by instance, or by code.
func (d *Dispatcher) removeIDs(_ context.Context, value map[string]any) protocol.Response {
	ids, err := stringList(value, "ids", false)
	if err != nil {
		return failFrom(err)
	}
	idCode, err := stringArg(value, "id_code", false)
	if err != nil {
		return failFrom(err)
	}
	instance, err := stringArg(value, "instance", false)
	if err != nil {
		return failFrom(err)
	}
	if len(ids) == 0 && idCode == "" && instance == "" {
		return protocol.Fail("remove_ids requires ids, id_code or instance")
	}
	removed := d.registry.RemoveUnsavedIDs(ids, idCode, instance)
	return protocol.OK(map[string]any{"removed": removed})
}

// requestIDs lists ids already claimed under a code, excluding the
// calling instance's own claims when it names itself.
func (d *Dispatcher) requestIDs(_ context.Context, value map[string]any) protocol.Response {
	idCode, err := stringArg(value, "id_code", true)
	if err != nil {
		return failFrom(err)
	}
	instance, err := stringArg(value, "instance", false)
	if err != nil {
		return failFrom(err)
	}
	return protocol.OK(d.registry.GetUnsavedIDs(idCode, instance))
}
