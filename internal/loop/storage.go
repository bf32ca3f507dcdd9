package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/KareemHossam19/Stepwright/internal/action"
	"github.com/KareemHossam19/Stepwright/internal/jsonutil"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// Result storage backends for loop iterations.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageNone   = "none"
)

// storageOf returns the step's storage backend, defaulting to memory.
func storageOf(step *workflow.Step) string {
	switch step.ResultStorage {
	case StorageFile, StorageNone:
		return step.ResultStorage
	default:
		return StorageMemory
	}
}

// openResultFile creates the JSONL file for a file-storage loop under the
// run's result directory and returns its path. The directory must sit inside
// one of the allowed roots (temp dir, home dir, working directory); the check
// resolves symlinks so a link cannot smuggle the file elsewhere.
func openResultFile(ec *action.ExecContext, stepID string) (string, error) {
	dir := os.TempDir()
	if ec != nil && ec.ResultDir != "" {
		dir = ec.ResultDir
	}
	if err := checkResultDir(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating result dir: %w", err)
	}

	runID := ""
	if ec != nil {
		runID = ec.RunID
	}
	h := xxhash.Sum64String(fmt.Sprintf("%s/%s/%d", runID, stepID, time.Now().UnixNano()))
	path := filepath.Join(dir, fmt.Sprintf("loop_%s_%08x.jsonl", stepID, h))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating result file: %w", err)
	}
	return path, f.Close()
}

// appendResult appends one iteration record to the JSONL result file.
func appendResult(path string, record map[string]any) error {
	return jsonutil.AppendLine(path, record)
}

// ReadResults loads every record from a JSONL result file, for callers that
// post-process file-storage loops.
func ReadResults(path string) ([]any, error) {
	return jsonutil.ReadLines(path)
}

// checkResultDir verifies dir resolves inside an allowed root.
func checkResultDir(dir string) error {
	roots := allowedRoots()

	resolved, err := resolvePath(dir)
	if err != nil {
		return fmt.Errorf("resolving result dir: %w", err)
	}
	for _, root := range roots {
		rr, err := resolvePath(root)
		if err != nil {
			continue
		}
		if contains(rr, resolved) {
			return nil
		}
	}
	return fmt.Errorf("result dir %s is outside the allowed locations (temp, home, working directory)", dir)
}

func allowedRoots() []string {
	roots := []string{os.TempDir()}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, home)
	}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
	}
	return roots
}

// resolvePath makes path absolute and resolves symlinks through its deepest
// existing ancestor, so checks hold for directories that do not exist yet.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	probe := abs
	var tail []string
	for {
		if resolved, err := filepath.EvalSymlinks(probe); err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return abs, nil
		}
		tail = append(tail, filepath.Base(probe))
		probe = parent
	}
}

func contains(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
