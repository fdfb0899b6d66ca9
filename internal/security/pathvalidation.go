// Package security guards file access that is driven by request input.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrBadName is returned for names that are not a single path element.
	ErrBadName = errors.New("not a plain file name")
	// ErrOutsideRoot is returned for paths that resolve outside their root.
	ErrOutsideRoot = errors.New("path escapes its root directory")
)

// JoinName joins a request-supplied name onto root after checking that the
// name is one path element and that the result, symlinks included, stays
// under root.
func JoinName(root, name string) (string, error) {
	if err := CheckName(name); err != nil {
		return "", err
	}
	p := filepath.Join(root, name)
	if err := Confine(root, p); err != nil {
		return "", err
	}
	return p, nil
}

// CheckName rejects empty names, dot names and anything with a separator.
func CheckName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrBadName, name)
	case strings.ContainsAny(name, `/\`), filepath.Base(name) != name:
		return fmt.Errorf("%w: %q contains a separator", ErrBadName, name)
	}
	return nil
}

// Confine reports ErrOutsideRoot unless p lies at or below root after both
// are made absolute and their symlinks are resolved. Neither needs to exist.
func Confine(root, p string) error {
	r, err := resolve(root)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", root, err)
	}
	q, err := resolve(p)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", p, err)
	}
	rel, err := filepath.Rel(r, q)
	if err != nil || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") ||
		strings.HasPrefix(rel, `..\`) {
		return fmt.Errorf("%w: %s is not under %s", ErrOutsideRoot, p, root)
	}
	return nil
}

// resolve returns the absolute form of p with symlinks in its deepest
// existing ancestor evaluated, so root/link/new.txt with link -> /etc comes
// back as /etc/new.txt.
func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	var tail []string
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
	}
}
