package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/gogpu/gcl"
	"github.com/gogpu/gcl/driver"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := DefaultConfig()
	if *cfg != *want {
		t.Errorf("Load() = %+v, want %+v", *cfg, *want)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
device:
  backend: software
  validation: true
  prefer: discrete
memory:
  budget_mb: 256
logging:
  level: debug
  format: json
bench:
  elements: 4096
  reps: 3
  timeout_ms: 500
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Backend != "software" || !cfg.Device.Validation || cfg.Device.Prefer != "discrete" {
		t.Errorf("Device = %+v", cfg.Device)
	}
	if cfg.Memory.BudgetMB != 256 {
		t.Errorf("Memory.BudgetMB = %d, want 256", cfg.Memory.BudgetMB)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Bench != (BenchConfig{Elements: 4096, Reps: 3, TimeoutMS: 500}) {
		t.Errorf("Bench = %+v", cfg.Bench)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "device:\n  backend: vulkan\nbench:\n  reps: 5\n")
	t.Setenv("GCL_BENCH_REPS", "7")
	t.Setenv("GCL_MEMORY_BUDGET_MB", "32")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("backend", "", "")
	flags.Int("reps", 0, "")
	if err := flags.Parse([]string{"--backend", "software"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Backend != "software" {
		t.Errorf("Device.Backend = %q, want flag value software", cfg.Device.Backend)
	}
	if cfg.Bench.Reps != 7 {
		t.Errorf("Bench.Reps = %d, want env value 7", cfg.Bench.Reps)
	}
	if cfg.Memory.BudgetMB != 32 {
		t.Errorf("Memory.BudgetMB = %d, want env value 32", cfg.Memory.BudgetMB)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad prefer", "device:\n  prefer: fastest\n", "device.prefer"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"negative budget", "memory:\n  budget_mb: -1\n", "memory.budget_mb"},
		{"zero elements", "bench:\n  elements: 0\n", "bench.elements"},
		{"zero reps", "bench:\n  reps: 0\n", "bench.reps"},
		{"malformed yaml", "device: [\n", "reading config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.Backend = "software"
	cfg.Device.Prefer = "integrated"
	cfg.Memory.BudgetMB = 8

	c := gcl.DefaultConfig()
	for _, opt := range cfg.Options() {
		opt(&c)
	}
	if c.Backend != "software" || c.MemoryBudgetMB != 8 || c.Label != "gcl" {
		t.Errorf("gcl config = %+v", c)
	}
	if c.AdapterFilter == nil {
		t.Fatal("AdapterFilter not set for prefer=integrated")
	}
	if c.AdapterFilter(driver.AdapterInfo{}) {
		t.Error("filter accepted an adapter of kind other")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging = LoggingConfig{Level: "info", Format: "json"}

	var buf bytes.Buffer
	l, err := cfg.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	l.Debug("hidden")
	l.Info("shown", "k", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output %q is not JSON with msg shown", out)
	}
}
