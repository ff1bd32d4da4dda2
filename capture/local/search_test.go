package local

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestDefaultSearchPath(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	t.Setenv(ModulePathEnv, a+string(os.PathListSeparator)+b+string(os.PathListSeparator)+a)

	dirs := DefaultSearchPath()
	if len(dirs) < 4 || dirs[0] != a || dirs[1] != b {
		t.Fatalf("DefaultSearchPath() = %v, want env entries first, deduplicated", dirs)
	}
	if dirs[len(dirs)-1] != "/usr/share/gpuwaste/shaders" {
		t.Errorf("last dir = %s", dirs[len(dirs)-1])
	}
	if slices.Contains(dirs, "~/.gpuwaste/shaders") {
		t.Errorf("~ not expanded: %v", dirs)
	}
}

func TestSearchPathResolveOrder(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	for _, dir := range []string{first, second} {
		if err := os.WriteFile(filepath.Join(dir, "a.wgsl"), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(second, "b.wgsl"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(first, "c.wgsl"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ModulePathEnv, "")

	p := NewSearchPath(first, second)
	tests := []struct {
		name string
		want string
	}{
		{"a.wgsl", filepath.Join(first, "a.wgsl")},
		{"b.wgsl", filepath.Join(second, "b.wgsl")},
		{filepath.Join(second, "a.wgsl"), filepath.Join(second, "a.wgsl")},
	}
	for _, tt := range tests {
		got, err := p.Resolve(tt.name)
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", tt.name, got, err, tt.want)
		}
	}

	for _, name := range []string{"c.wgsl", "missing.wgsl", filepath.Join(first, "missing.wgsl")} {
		if _, err := p.Resolve(name); !errors.Is(err, ErrShaderNotFound) {
			t.Errorf("Resolve(%q) err = %v, want ErrShaderNotFound", name, err)
		}
	}
}
