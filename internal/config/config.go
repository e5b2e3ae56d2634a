package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultModelVersion is stamped on every interpretation unless overridden.
const DefaultModelVersion = "interpreter-v1.0.0"

// Data source kinds.
const (
	SourceSample   = "sample"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
)

// Config is the process-wide configuration. It is built once at startup and
// passed by value into every component constructor.
type Config struct {
	Env          string     `yaml:"env" json:"env"`
	ServiceName  string     `yaml:"service_name" json:"service_name"`
	ModelVersion string     `yaml:"model_version" json:"model_version"`
	Log          Log        `yaml:"log" json:"log"`
	Features     Features   `yaml:"features" json:"features"`
	Data         Data       `yaml:"data" json:"data"`
	LLM          LLM        `yaml:"llm" json:"llm"`
	Narrative    Narrative  `yaml:"narrative" json:"narrative"`
	Validation   Validation `yaml:"validation" json:"validation"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // text or json
}

// Features are the feature flags that drive mode selection.
type Features struct {
	GraphEnabled      bool `yaml:"graph_enabled" json:"graph_enabled"`
	AllowFallback     bool `yaml:"allow_fallback" json:"allow_fallback"`
	GenerativeEnabled bool `yaml:"generative_enabled" json:"generative_enabled"`
	StrictValidation  bool `yaml:"strict_validation" json:"strict_validation"`
}

// Data configures the mart source, the reference dictionaries and the ledger.
type Data struct {
	Source       string `yaml:"source" json:"source"`
	SampleFile   string `yaml:"sample_file" json:"sample_file"`
	DSN          string `yaml:"dsn" json:"dsn"`
	ReferenceDir string `yaml:"reference_dir" json:"reference_dir"`
	WindowDays   int    `yaml:"window_days" json:"window_days"`
	LedgerDriver string `yaml:"ledger_driver" json:"ledger_driver"` // memory, sqlite, postgres
	LedgerDSN    string `yaml:"ledger_dsn" json:"ledger_dsn"`
}

// LLM configures the optional generative narrative provider.
type LLM struct {
	Provider    string        `yaml:"provider" json:"provider"` // "" or "openai"
	Endpoint    string        `yaml:"endpoint" json:"endpoint"`
	Model       string        `yaml:"model" json:"model"`
	APIKey      string        `yaml:"api_key" json:"-"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// Narrative tunes the hybrid selector rules.
type Narrative struct {
	MinLength          int      `yaml:"min_length" json:"min_length"`
	SpeculativeMarkers []string `yaml:"speculative_markers" json:"speculative_markers"`
	CodePattern        string   `yaml:"code_pattern" json:"code_pattern"`
}

type Validation struct {
	ClockSkew     time.Duration `yaml:"clock_skew" json:"clock_skew"`
	CohortPattern string        `yaml:"cohort_pattern" json:"cohort_pattern"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Env:          "local",
		ServiceName:  "telemetry-agent",
		ModelVersion: DefaultModelVersion,
		Log:          Log{Level: "info", Format: "text"},
		Features: Features{
			GraphEnabled:      true,
			AllowFallback:     true,
			GenerativeEnabled: false,
		},
		Data: Data{
			Source:       SourceSample,
			SampleFile:   "data/sample/marts.json",
			ReferenceDir: "data/reference",
			WindowDays:   30,
			LedgerDriver: "memory",
		},
		LLM: LLM{
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-4.1-mini",
			Temperature: 0.2,
			MaxTokens:   1024,
			Timeout:     8 * time.Second,
		},
		Narrative: Narrative{
			MinLength: 80,
		},
		Validation: Validation{
			ClockSkew: 5 * time.Minute,
		},
	}
}

// Load reads a YAML or JSON configuration file (format by extension) on top
// of Default, then applies environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config json: %w", err)
			}
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config yaml: %w", err)
			}
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables using the given lookup function.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	str("APP_ENV", &c.Env)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	flag("FEATURE_GRAPH", &c.Features.GraphEnabled)
	flag("FEATURE_ALLOW_DETERMINISTIC_FALLBACK", &c.Features.AllowFallback)
	flag("FEATURE_GENAI", &c.Features.GenerativeEnabled)
	str("DATA_SOURCE", &c.Data.Source)
	str("DATA_DSN", &c.Data.DSN)
	str("REFERENCE_DIR", &c.Data.ReferenceDir)
	str("OPENAI_API_KEY", &c.LLM.APIKey)
	str("OPENAI_MODEL", &c.LLM.Model)
	str("OPENAI_BASE_URL", &c.LLM.Endpoint)
	if c.LLM.APIKey != "" && c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}

	if c.Env == "prod" {
		c.Features.StrictValidation = true
	}
}

// Validate checks for configurations the service refuses to start with.
func (c Config) Validate() error {
	switch c.Env {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("config: unknown env %q", c.Env)
	}
	switch c.Data.Source {
	case SourceSample, SourceSQLite, SourcePostgres:
	default:
		return fmt.Errorf("config: unknown data source %q", c.Data.Source)
	}
	if c.Data.Source != SourceSample && c.Data.DSN == "" {
		return fmt.Errorf("config: data.dsn is required for source %q", c.Data.Source)
	}
	if c.Data.WindowDays <= 0 {
		return fmt.Errorf("config: data.window_days must be positive, got %d", c.Data.WindowDays)
	}
	if !c.Features.GraphEnabled && !c.Features.AllowFallback {
		return fmt.Errorf("config: graph_enabled=false requires allow_fallback=true")
	}
	if c.Features.GenerativeEnabled && c.LLM.Timeout <= 0 {
		return fmt.Errorf("config: llm.timeout must be positive when generative narrative is enabled")
	}
	if c.Validation.ClockSkew < 0 {
		return fmt.Errorf("config: validation.clock_skew must not be negative")
	}
	if c.ModelVersion == "" {
		return fmt.Errorf("config: model_version is required")
	}
	return nil
}

// Summary returns a human-readable, secret-free description of the config.
func (c Config) Summary() string {
	llm := "unset"
	if c.LLM.APIKey != "" {
		llm = "set"
	}
	return fmt.Sprintf("env=%s source=%s graph=%t fallback=%t genai=%t strict=%t llm_key=%s model_version=%s",
		c.Env, c.Data.Source, c.Features.GraphEnabled, c.Features.AllowFallback,
		c.Features.GenerativeEnabled, c.Features.StrictValidation, llm, c.ModelVersion)
}
