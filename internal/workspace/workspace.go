// Package workspace manages the per-run output directory tree.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/browser"
)

// OutputDir is the subdirectory receiving file-production results.
const OutputDir = "OUTPUT"

// ErrInvalidName indicates a workspace or subdirectory name that would
// escape the workspace root.
var ErrInvalidName = errors.New("invalid workspace name")

// Workspace is the directory <root>/<name> owned by one run.
type Workspace struct {
	root string
}

// New creates (if needed) the workspace directory for name under root.
func New(root, name string) (*Workspace, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if root == "" {
		root = "."
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Workspace{root: dir}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

// Path joins elem onto the workspace directory.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.root}, elem...)...)
}

// CreateSubdir creates <workspace>/name and returns its path. Calling it for
// an existing directory is not an error.
func (w *Workspace) CreateSubdir(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	dir := w.Path(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// OutputPath returns the path of file inside the OUTPUT subdirectory.
func (w *Workspace) OutputPath(file string) string {
	return w.Path(OutputDir, file)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func init() {
	// stdout carries the paths a run produced
	browser.Stdout = os.Stderr
}

// Launcher starts the platform viewer for a file. It is a variable so
// callers running headless can replace it.
var Launcher = browser.OpenFile

// Open displays path with the platform viewer.
func (w *Workspace) Open(path string) error {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err == nil {
			path = abs
		}
	}
	if err := Launcher(path); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return nil
}
