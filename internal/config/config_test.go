package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gpuwaste"
	"github.com/mitchellh/go-homedir"
)

func init() {
	homedir.DisableCache = true
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if time.Duration(cfg.Timeout) != 600*time.Second {
		t.Errorf("Timeout = %v, want 600s", time.Duration(cfg.Timeout))
	}
	if cfg.RemoteAddress != "localhost:38920" {
		t.Errorf("RemoteAddress = %q", cfg.RemoteAddress)
	}
	if cfg.Thresholds != gpuwaste.DefaultThresholds() {
		t.Errorf("Thresholds = %+v", cfg.Thresholds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(PathEnv, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output.Format != FormatText {
		t.Errorf("Output.Format = %q", cfg.Output.Format)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected an error for a missing explicit file")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
module_path = ["~/shaders", "/opt/shaders"]
remote_address = "10.0.0.5:38920"
workers = 4
timeout = "90s"

[log]
level = "debug"
format = "json"

[output]
format = "yaml"
no_color = true

[thresholds]
overdraw_ratio = 2.5
top_draws = 5
`)
	t.Setenv("HOME", "/home/tester")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RemoteAddress != "10.0.0.5:38920" || cfg.Workers != 4 {
		t.Errorf("cfg = %+v", cfg)
	}
	if time.Duration(cfg.Timeout) != 90*time.Second {
		t.Errorf("Timeout = %v", time.Duration(cfg.Timeout))
	}
	if time.Duration(cfg.RequestTimeout) != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want the default", time.Duration(cfg.RequestTimeout))
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Output.Format != FormatYAML || !cfg.Output.NoColor {
		t.Errorf("Output = %+v", cfg.Output)
	}
	if cfg.Thresholds.OverdrawRatio != 2.5 || cfg.Thresholds.TopDraws != 5 {
		t.Errorf("Thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Thresholds.PixelsPerTriangle != 100 {
		t.Errorf("unset threshold lost its default: %+v", cfg.Thresholds)
	}

	dirs := cfg.SearchPath()
	if len(dirs) != 2 || dirs[0] != "/home/tester/shaders" || dirs[1] != "/opt/shaders" {
		t.Errorf("SearchPath() = %v", dirs)
	}
	if opts := cfg.OpenOptions(); opts.RequestTimeout != 30*time.Second || len(opts.SearchPath) != 2 {
		t.Errorf("OpenOptions() = %+v", opts)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
workers = 4
[log]
level = "info"
`)
	t.Setenv("GPUWASTE_WORKERS", "8")
	t.Setenv("GPUWASTE_LOG_LEVEL", "error")
	t.Setenv("GPUWASTE_REQUEST_TIMEOUT", "5s")
	t.Setenv("GPUWASTE_OUTPUT_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 8 || cfg.Log.Level != "error" || cfg.Output.Format != FormatJSON {
		t.Errorf("cfg = %+v", cfg)
	}
	if time.Duration(cfg.RequestTimeout) != 5*time.Second {
		t.Errorf("RequestTimeout = %v", time.Duration(cfg.RequestTimeout))
	}
}

func TestLoadPathFromEnvironment(t *testing.T) {
	path := writeConfig(t, `remote_address = "gpu-box:38920"`)
	t.Setenv(PathEnv, path)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RemoteAddress != "gpu-box:38920" {
		t.Errorf("RemoteAddress = %q", cfg.RemoteAddress)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{name: "unknown key", body: `colour = true`, want: "colour"},
		{name: "syntax", body: `workers = `, want: "config:"},
		{name: "duration", body: `timeout = "soon"`, want: "config:"},
		{name: "negative workers", body: `workers = -1`, want: "workers"},
		{name: "log level", body: "[log]\nlevel = \"loud\"", want: "log level"},
		{name: "log format", body: "[log]\nformat = \"xml\"", want: "log format"},
		{name: "output format", body: "[output]\nformat = \"html\"", want: "output format"},
		{name: "env", env: map[string]string{"GPUWASTE_WORKERS": "many"}, want: "environment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestEngineOptions(t *testing.T) {
	cfg := Default()
	cfg.Workers = 3
	e, err := gpuwaste.New(cfg.EngineOptions("memory")...)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Detectors(); len(got) != 1 || got[0] != "memory" {
		t.Errorf("Detectors() = %v", got)
	}

	e, err = gpuwaste.New(cfg.EngineOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Detectors(); len(got) != 2 {
		t.Errorf("default detectors = %v", got)
	}
}
