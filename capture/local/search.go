package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// ModulePathEnv lists extra shader directories, separated by the OS path
// list separator.
const ModulePathEnv = "GPUWASTE_MODULE_PATH"

// Fixed shader directories, searched after ModulePathEnv.
var fixedShaderDirs = []string{
	"~/.gpuwaste/shaders",
	"/usr/share/gpuwaste/shaders",
}

// ErrShaderNotFound reports a shader file missing from every search
// directory.
var ErrShaderNotFound = errors.New("local: shader file not found")

// DefaultSearchPath returns the directories from ModulePathEnv followed by
// the fixed shader directories, with ~ expanded.
func DefaultSearchPath() []string {
	var dirs []string
	if env := os.Getenv(ModulePathEnv); env != "" {
		dirs = append(dirs, filepath.SplitList(env)...)
	}
	dirs = append(dirs, fixedShaderDirs...)
	return expandDirs(dirs)
}

func expandDirs(dirs []string) []string {
	seen := make(map[string]bool, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if exp, err := homedir.Expand(d); err == nil {
			d = exp
		}
		d = filepath.Clean(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// SearchPath resolves shader file names against an ordered list of
// directories.
type SearchPath struct {
	dirs []string
}

// NewSearchPath returns a search path over dirs followed by
// DefaultSearchPath. Duplicates are dropped.
func NewSearchPath(dirs ...string) *SearchPath {
	return &SearchPath{dirs: expandDirs(append(append([]string(nil), dirs...), DefaultSearchPath()...))}
}

// Dirs returns the directories in search order.
func (p *SearchPath) Dirs() []string {
	return append([]string(nil), p.dirs...)
}

// Resolve returns the path of the first regular file named name. Absolute
// and ~-prefixed names are checked as given.
func (p *SearchPath) Resolve(name string) (string, error) {
	if exp, err := homedir.Expand(name); err == nil {
		name = exp
	}
	if filepath.IsAbs(name) {
		if isFile(name) {
			return name, nil
		}
		return "", fmt.Errorf("%w: %s", ErrShaderNotFound, name)
	}
	for _, dir := range p.dirs {
		candidate := filepath.Join(dir, name)
		if isFile(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s (searched %d directories)", ErrShaderNotFound, name, len(p.dirs))
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode()&fs.ModeType == 0
}
