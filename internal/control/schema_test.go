package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_BuildSchemaGroupsByModulePrefix(t *testing.T) {
	names := []string{"phys.x", "phys.y", "ctrl.cmd"}
	types := map[string]string{"phys.x": "f64", "ctrl.cmd": "bool"}

	schema := BuildSchema(names, types)

	require.Contains(t, schema.Modules, "phys")
	require.Contains(t, schema.Modules, "ctrl")
	assert.ElementsMatch(t, []SignalSchema{{Name: "x", Type: "f64"}, {Name: "y", Type: "f64"}}, schema.Modules["phys"].Signals)
	assert.Equal(t, []SignalSchema{{Name: "cmd", Type: "bool"}}, schema.Modules["ctrl"].Signals)
}

func Test_BuildSchemaDefaultsUnqualifiedToDefaultGroup(t *testing.T) {
	schema := BuildSchema([]string{"standalone"}, nil)

	require.Contains(t, schema.Modules, "_default")
	assert.Equal(t, []SignalSchema{{Name: "standalone", Type: "f64"}}, schema.Modules["_default"].Signals)
}

func Test_BuildSchemaDefaultsMissingTypeToF64(t *testing.T) {
	schema := BuildSchema([]string{"phys.x"}, map[string]string{})

	assert.Equal(t, "f64", schema.Modules["phys"].Signals[0].Type)
}
