package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KareemHossam19/Stepwright/internal/config"
	"github.com/KareemHossam19/Stepwright/internal/engine"
	"github.com/KareemHossam19/Stepwright/internal/expr"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// loadConfig resolves the effective stepwright.toml for the current
// directory, honoring --config.
func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.Load(cwd, flagConfig)
}

// resolveWorkflowPath turns the run/validate argument into a file path. A
// bare name (no extension, no separator) resolves through the configured
// workflows directory.
func resolveWorkflowPath(cfg *config.Config, arg string) string {
	if strings.ContainsAny(arg, "/\\") || strings.HasSuffix(arg, ".yaml") || strings.HasSuffix(arg, ".yml") {
		return arg
	}
	dir := cfg.Project.WorkflowsDir
	if dir == "" {
		return arg
	}
	for _, ext := range []string{".yaml", ".yml"} {
		candidate := filepath.Join(dir, arg+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return arg
}

// loadDocument reads and parses a workflow file.
func loadDocument(cfg *config.Config, arg string) (*workflow.Document, error) {
	path := resolveWorkflowPath(cfg, arg)
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow: %w", err)
	}
	doc, err := workflow.Parse(src, path)
	if err != nil {
		var perr *workflow.ParseError
		if errors.As(err, &perr) && perr.Pretty != "" {
			return nil, fmt.Errorf("%s\n%s", perr.Error(), perr.Pretty)
		}
		return nil, err
	}
	return doc, nil
}

// buildEvaluator wires the sandbox settings from config into an evaluator.
func buildEvaluator(cfg *config.Config) *expr.Evaluator {
	var opts []expr.Option
	root := cfg.Security.WorkspaceRoot
	if root == "" {
		root, _ = os.Getwd()
	}
	if root != "" {
		opts = append(opts, expr.WithWorkspaceRoot(root))
	}
	if len(cfg.Security.Blocklist) > 0 {
		opts = append(opts, expr.WithBlocklist(append(expr.DefaultBlocklist(), cfg.Security.Blocklist...)))
	}
	return expr.New(opts...)
}

// engineOptions translates config into engine options; callers append their
// own on top.
func engineOptions(cfg *config.Config) []engine.Option {
	opts := []engine.Option{engine.WithEvaluator(buildEvaluator(cfg))}
	if cfg.Engine.WorkDir != "" {
		opts = append(opts, engine.WithWorkDir(cfg.Engine.WorkDir))
	}
	if cfg.Engine.ResultDir != "" {
		opts = append(opts, engine.WithResultDir(cfg.Engine.ResultDir))
	}
	if cfg.Engine.TimeoutSeconds > 0 {
		opts = append(opts, engine.WithTimeout(time.Duration(cfg.Engine.TimeoutSeconds*float64(time.Second))))
	}
	if cfg.Engine.MaxNodeVisits > 0 {
		opts = append(opts, engine.WithMaxNodeVisits(cfg.Engine.MaxNodeVisits))
	}
	if len(cfg.Env) > 0 {
		opts = append(opts, engine.WithEnv(cfg.Env))
	}
	return opts
}
