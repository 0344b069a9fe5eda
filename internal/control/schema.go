package control

import sig "github.com/tanged123/hermes/internal/signal"

// SignalSchema is one entry in a module's schema signal list.
type SignalSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ModuleSchema is the signal list for one module, keyed in the schema
// message by module name ("_default" for unqualified signals).
type ModuleSchema struct {
	Signals []SignalSchema `json:"signals"`
}

// Schema is the full schema message payload, grouping every backplane
// signal by its owning module.
type Schema struct {
	Modules map[string]ModuleSchema
}

// BuildSchema groups names by their qualified module prefix. types
// optionally maps a qualified name to its declared type string;
// signals absent from types default to "f64", matching an attach-only
// client (e.g. list-signals) that has no declared type information.
func BuildSchema(names []string, types map[string]string) Schema {
	groups := make(map[string][]SignalSchema)
	order := make([]string, 0)

	for _, name := range names {
		module, local, ok := sig.Split(name)
		key := module
		if !ok {
			key = "_default"
			local = name
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		typ := types[name]
		if typ == "" {
			typ = "f64"
		}
		groups[key] = append(groups[key], SignalSchema{Name: local, Type: typ})
	}

	modules := make(map[string]ModuleSchema, len(groups))
	for _, key := range order {
		modules[key] = ModuleSchema{Signals: groups[key]}
	}
	return Schema{Modules: modules}
}
