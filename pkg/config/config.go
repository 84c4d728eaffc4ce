// Package config defines the process configuration schema and the
// koanf-based loader that reads it from a YAML file plus environment
// variables, trimmed from the teacher's multi-backend loader down to the
// single file-provider path this deployment needs.
package config

import "fmt"

// LLMProviderKind names which LLMProvider adapter to construct.
type LLMProviderKind string

const (
	LLMProviderOpenAI LLMProviderKind = "openai"
)

// LLMConfig configures the structured-output LLM adapter.
type LLMConfig struct {
	Provider    LLMProviderKind `yaml:"provider"`
	BaseURL     string          `yaml:"base_url"`
	APIKey      string          `yaml:"api_key"`
	Model       string          `yaml:"model"`
	Temperature float64         `yaml:"temperature"`
	MaxRetries  int             `yaml:"max_retries"`
}

// DatabaseConfig configures the SQL-backed persistence layer. Driver
// selects between the three dialects the teacher already links drivers
// for; an empty Driver means the in-memory stores are used instead,
// which is the default for local development.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RouterConfig selects the cold-start router strategy.
type RouterConfig struct {
	// Strategy is "static" or "keyword". Defaults to "keyword".
	Strategy         string  `yaml:"strategy"`
	StaticWorkflowID string  `yaml:"static_workflow_id"`
	MatchThreshold   float64 `yaml:"match_threshold"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig configures the shared structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Config is the root process configuration.
type Config struct {
	LLM          LLMConfig      `yaml:"llm"`
	Database     DatabaseConfig `yaml:"database"`
	Router       RouterConfig   `yaml:"router"`
	Server       ServerConfig   `yaml:"server"`
	Logging      LoggingConfig  `yaml:"logging"`
	WorkflowsDir string         `yaml:"workflows_dir"`
}

// SetDefaults fills unset fields with their process defaults, mirroring
// the teacher's SetDefaults-on-typed-config pattern.
func (c *Config) SetDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = LLMProviderOpenAI
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.Router.Strategy == "" {
		c.Router.Strategy = "keyword"
	}
	if c.Router.MatchThreshold == 0 {
		c.Router.MatchThreshold = 0.2
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.WorkflowsDir == "" {
		c.WorkflowsDir = "./workflows"
	}
}

// Validate checks the fields that have no safe default.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("config: llm.base_url is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("config: llm.api_key is required")
	}
	if c.Database.Driver != "" {
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("config: database.dsn is required when database.driver is set")
		}
	}
	if c.Router.Strategy == "static" && c.Router.StaticWorkflowID == "" {
		return fmt.Errorf("config: router.static_workflow_id is required for the static strategy")
	}
	return nil
}
