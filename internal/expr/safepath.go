package expr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultBlocklist returns the sensitive-path glob patterns safe_path
// rejects regardless of workspace containment. Patterns are matched with
// doublestar against the slash-separated path relative to the workspace root.
func DefaultBlocklist() []string {
	return []string{
		"**/.git/**",
		".git/**",
		"**/.env",
		"**/.env.*",
		"**/.ssh/**",
		".ssh/**",
		"**/secrets/**",
		"secrets/**",
		"**/id_rsa*",
		"**/*.pem",
	}
}

// SafePath validates that p resolves to a location inside the configured
// workspace root and outside the sensitive-path blocklist, returning the
// cleaned absolute path. Relative paths are joined to the root. The check is
// both lexical (no ".." escape after cleaning) and physical: symlinks on the
// deepest existing ancestor are resolved and must still land inside the
// resolved root.
func (e *Evaluator) SafePath(p string) (string, error) {
	if e.workspaceRoot == "" {
		return "", fmt.Errorf("safe_path: no workspace root configured")
	}

	root, err := filepath.Abs(e.workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("safe_path: resolve workspace root: %w", err)
	}

	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("safe_path: %q escapes the workspace root", p)
	}

	// Resolve symlinks on the deepest existing ancestor so a link pointing
	// outside the workspace cannot smuggle the path out.
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("safe_path: resolve workspace root: %w", err)
	}
	if resolved, ok := resolveExisting(abs); ok {
		relResolved, err := filepath.Rel(resolvedRoot, resolved)
		if err != nil || relResolved == ".." || strings.HasPrefix(relResolved, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("safe_path: %q resolves outside the workspace root", p)
		}
	}

	slashRel := filepath.ToSlash(rel)
	for _, pattern := range e.blocklist {
		matched, err := doublestar.Match(pattern, slashRel)
		if err != nil {
			return "", fmt.Errorf("safe_path: bad blocklist pattern %q: %w", pattern, err)
		}
		if matched {
			return "", fmt.Errorf("safe_path: %q matches blocked pattern %q", p, pattern)
		}
	}

	return abs, nil
}

// resolveExisting walks up from path to the deepest ancestor that exists,
// resolves its symlinks, and rejoins the non-existing suffix. The second
// return value is false when nothing along the path exists.
func resolveExisting(path string) (string, bool) {
	suffix := ""
	current := path
	for {
		if _, err := os.Lstat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				return "", false
			}
			return filepath.Join(resolved, suffix), true
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		suffix = filepath.Join(filepath.Base(current), suffix)
		current = parent
	}
}
