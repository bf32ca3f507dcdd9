// Package config loads stepwright.toml, the optional per-project
// configuration that supplies engine defaults the workflow file itself does
// not carry: directories, timeouts, environment additions, and expression
// sandbox tightening.
package config

// Config is the top-level configuration structure mapping to stepwright.toml.
type Config struct {
	Project  ProjectConfig  `toml:"project"`
	Engine   EngineConfig   `toml:"engine"`
	Security SecurityConfig `toml:"security"`

	// Env entries are added to every workflow run's environment; the
	// workflow's own env block wins on conflict.
	Env map[string]string `toml:"env"`
}

// ProjectConfig maps to the [project] section in stepwright.toml.
type ProjectConfig struct {
	Name string `toml:"name"`

	// WorkflowsDir is where bare workflow names resolve, e.g.
	// `stepwright run deploy` looks for <dir>/deploy.yaml.
	WorkflowsDir string `toml:"workflows_dir"`
}

// EngineConfig maps to the [engine] section in stepwright.toml.
type EngineConfig struct {
	// WorkDir is the working directory for shell steps; empty uses the
	// process working directory.
	WorkDir string `toml:"work_dir"`

	// ResultDir receives capture files and loop result files.
	ResultDir string `toml:"result_dir"`

	// TimeoutSeconds bounds a whole run; zero means unlimited.
	TimeoutSeconds float64 `toml:"timeout_seconds"`

	// MaxNodeVisits overrides the runaway guard; zero keeps the default.
	MaxNodeVisits int `toml:"max_node_visits"`
}

// SecurityConfig maps to the [security] section in stepwright.toml.
type SecurityConfig struct {
	// Blocklist extends the safe_path filter's glob patterns.
	Blocklist []string `toml:"blocklist"`

	// WorkspaceRoot confines safe_path results; empty uses the working
	// directory.
	WorkspaceRoot string `toml:"workspace_root"`
}
