package dispatch

import (
	"fmt"

	"github.com/gatesql/gatesql/internal/txn"
)

// argError marks a malformed or missing argument. These are handled
// failures, never crashes.
type argError struct {
	msg string
}

func (e argError) Error() string { return e.msg }

func badArg(format string, args ...any) error {
	return argError{msg: fmt.Sprintf(format, args...)}
}

func stringArg(value map[string]any, key string, required bool) (string, error) {
	raw, ok := value[key]
	if !ok || raw == nil {
		if required {
			return "", badArg("missing argument %s", key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", badArg("argument %s must be a string", key)
	}
	return s, nil
}

func mapArg(value map[string]any, key string, required bool) (map[string]any, error) {
	raw, ok := value[key]
	if !ok || raw == nil {
		if required {
			return nil, badArg("missing argument %s", key)
		}
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, badArg("argument %s must be a mapping", key)
	}
	return m, nil
}

// stringList accepts either one string or a list of strings.
func stringList(value map[string]any, key string, required bool) ([]string, error) {
	raw, ok := value[key]
	if !ok || raw == nil {
		if required {
			return nil, badArg("missing argument %s", key)
		}
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, badArg("argument %s must hold strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, badArg("argument %s must be a string or list", key)
	}
}

// paramList normalizes one parameter set: null, or a list of values.
func paramList(raw any) ([]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return nil, badArg("parameters must be a list or null")
	}
}

// connParams resolves the client connection_string against the
// server-enforced defaults. Driver, host and port always come from the
// server; user, password and database come from the client.
func (d *Dispatcher) connParams(value map[string]any) (txn.ConnParams, error) {
	cs, err := mapArg(value, "connection_string", true)
	if err != nil {
		return txn.ConnParams{}, err
	}
	user, err := stringArg(cs, "user", false)
	if err != nil {
		return txn.ConnParams{}, err
	}
	password, err := stringArg(cs, "password", false)
	if err != nil {
		return txn.ConnParams{}, err
	}
	database, err := stringArg(cs, "database", false)
	if err != nil {
		return txn.ConnParams{}, err
	}
	return txn.ConnParams{
		Driver:   d.db.Driver,
		Host:     d.db.Host,
		Port:     d.db.Port,
		User:     user,
		Password: password,
		Database: database,
	}, nil
}
