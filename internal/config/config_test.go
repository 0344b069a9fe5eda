package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Modules: map[string]ModuleConfig{
			"inputs": {
				Kind: "in_process",
				InprocID: "mock_inputs",
				Signals: []SignalConfig{
					{Name: "cmd", Type: "f64", Writable: true},
				},
			},
			"physics": {
				Kind: "in_process",
				InprocID: "mock_physics",
				Signals: []SignalConfig{
					{Name: "input", Type: "f64", Writable: true},
					{Name: "output", Type: "f64"},
				},
			},
		},
		Wiring: []WireConfig{
			{Src: "inputs.cmd", Dst: "physics.input", Gain: 1, Offset: 0},
		},
		Execution: ExecutionConfig{
			Mode:   "afap",
			RateHz: 100,
			Schedule: []ScheduleConfig{
				{Name: "inputs"},
				{Name: "physics", RateHz: 500},
			},
		},
	}
}

func Test_ValidateAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func Test_ValidateRejectsUnknownModuleKind(t *testing.T) {
	cfg := validConfig()
	m := cfg.Modules["inputs"]
	m.Kind = "bogus"
	cfg.Modules["inputs"] = m

	assert.Error(t, cfg.Validate())
}

func Test_ValidateRejectsMissingExecutableForSubprocess(t *testing.T) {
	cfg := validConfig()
	cfg.Modules["worker"] = ModuleConfig{Kind: "subprocess_exec"}

	assert.Error(t, cfg.Validate())
}

func Test_ValidateRejectsUnknownWireEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Wiring = append(cfg.Wiring, WireConfig{Src: "nope.src", Dst: "physics.input"})

	assert.Error(t, cfg.Validate())
}

func Test_ValidateRejectsUnknownScheduleModule(t *testing.T) {
	cfg := validConfig()
	cfg.Execution.Schedule = append(cfg.Execution.Schedule, ScheduleConfig{Name: "ghost"})

	assert.Error(t, cfg.Validate())
}

func Test_ValidateRejectsNonIntegerSubstepRatio(t *testing.T) {
	cfg := validConfig()
	cfg.Execution.Schedule[1].RateHz = 333

	assert.Error(t, cfg.Validate())
}

func Test_ValidateRejectsDuplicateSignalName(t *testing.T) {
	cfg := validConfig()
	m := cfg.Modules["inputs"]
	m.Signals = append(m.Signals, SignalConfig{Name: "cmd", Type: "f64"})
	cfg.Modules["inputs"] = m

	assert.Error(t, cfg.Validate())
}

func Test_DefaultConfigIsValidWithEmptyModules(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}
