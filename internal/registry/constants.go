package registry

import "fmt"

// Naming carries the table and field naming conventions the SQL action
// handlers depend on.
type Naming struct {
	UsersTable       string `yaml:"users_table"`
	UserField        string `yaml:"user_field"`
	LastLoginField   string `yaml:"last_login_field"`
	RolesTable       string `yaml:"roles_table"`
	RoleField        string `yaml:"role_field"`
	PermissionsTable string `yaml:"permissions_table"`
	ObjectField      string `yaml:"object_field"`
	OperationField   string `yaml:"operation_field"`
}

// RecordRule is one business record or audit-rule definition. The
// server does not interpret these; clients fetch them through the
// constants action.
type RecordRule struct {
	IDCode      string         `yaml:"id_code"`
	Label       string         `yaml:"label"`
	Table       string         `yaml:"table"`
	Fields      []string       `yaml:"fields"`
	Constraints map[string]any `yaml:"constraints"`
}

// Constants is the full constants catalogue served by the constants
// action.
type Constants struct {
	DatabaseName string                `yaml:"database_name"`
	Naming       Naming                `yaml:"naming"`
	Records      map[string]RecordRule `yaml:"records"`
}

// DefaultNaming matches the conventional schema layout.
func DefaultNaming() Naming {
	return Naming{
		UsersTable:       "users",
		UserField:        "username",
		LastLoginField:   "last_login",
		RolesTable:       "user_roles",
		RoleField:        "role",
		PermissionsTable: "role_permissions",
		ObjectField:      "object_id",
		OperationField:   "operation",
	}
}

// FormatAttrs renders the catalogue as the mapping shape the wire
// protocol carries, optionally restricted to one named subset.
func (c Constants) FormatAttrs(subset string) (map[string]any, error) {
	all := map[string]any{
		"database_name": c.DatabaseName,
		"naming": map[string]any{
			"users_table":       c.Naming.UsersTable,
			"user_field":        c.Naming.UserField,
			"last_login_field":  c.Naming.LastLoginField,
			"roles_table":       c.Naming.RolesTable,
			"role_field":        c.Naming.RoleField,
			"permissions_table": c.Naming.PermissionsTable,
			"object_field":      c.Naming.ObjectField,
			"operation_field":   c.Naming.OperationField,
		},
		"records": c.recordAttrs(),
	}
	if subset == "" {
		return all, nil
	}
	val, ok := all[subset]
	if !ok {
		return nil, fmt.Errorf("unknown constants subset %q", subset)
	}
	return map[string]any{subset: val}, nil
}

func (c Constants) recordAttrs() map[string]any {
	out := make(map[string]any, len(c.Records))
	for name, rule := range c.Records {
		out[name] = map[string]any{
			"id_code":     rule.IDCode,
			"label":       rule.Label,
			"table":       rule.Table,
			"fields":      rule.Fields,
			"constraints": rule.Constraints,
		}
	}
	return out
}
