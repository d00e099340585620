// Package playbooks resolves and lists the executable artifacts stored
// under the configured playbooks root.
package playbooks

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies a playbook by the runner that executes it.
type Kind int

const (
	KindUnsupported Kind = iota
	KindShell
	KindPython
	KindAnsible
)

func (k Kind) String() string {
	switch k {
	case KindShell:
		return "shell"
	case KindPython:
		return "python"
	case KindAnsible:
		return "ansible"
	}
	return "unsupported"
}

// KindOf maps a file extension to its runner kind.
func KindOf(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".sh":
		return KindShell
	case ".py":
		return KindPython
	case ".yml", ".yaml":
		return KindAnsible
	}
	return KindUnsupported
}

// ErrOutsideRoot is returned when a requested name escapes the playbooks
// root. This is a security invariant: the engine must never spawn a
// process for such a request.
var ErrOutsideRoot = errors.New("playbook path escapes the playbooks root")

// ErrNotFound is returned when the resolved file does not exist.
var ErrNotFound = errors.New("playbook not found")

// Resolve joins name onto root, canonicalizes and verifies the result
// stays under root and exists. Symlinks are followed before the
// containment check, so a link pointing outside the root is rejected.
func Resolve(root, name string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve playbooks root: %w", err)
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolve playbooks root: %w", err)
	}
	candidate := filepath.Clean(filepath.Join(absRoot, name))
	if !contained(absRoot, candidate) {
		return "", ErrOutsideRoot
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", ErrNotFound
	}
	if !contained(absRoot, resolved) {
		return "", ErrOutsideRoot
	}
	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return resolved, nil
}

func contained(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// Entry describes one playbook file in a listing.
type Entry struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Listing holds the flat and grouped-by-directory views of the root.
type Listing struct {
	Playbooks []Entry            `json:"playbooks"`
	Grouped   map[string][]Entry `json:"grouped"`
}

// List walks the root and returns every supported playbook, keyed in the
// grouped view by its directory relative to the root ("." for top level).
func List(root string) (Listing, error) {
	listing := Listing{Grouped: make(map[string][]Entry)}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if KindOf(d.Name()) == KindUnsupported {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry := Entry{
			Name:     filepath.ToSlash(rel),
			Type:     KindOf(d.Name()).String(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		}
		listing.Playbooks = append(listing.Playbooks, entry)
		dir := filepath.ToSlash(filepath.Dir(rel))
		listing.Grouped[dir] = append(listing.Grouped[dir], entry)
		return nil
	})
	if err != nil {
		return Listing{}, fmt.Errorf("walk playbooks root: %w", err)
	}
	return listing, nil
}
