package qalens

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "qalens.yaml"

// CombineMode decides how several tables become one analysis dataset.
type CombineMode string

const (
	// CombineJoin left-joins every table onto the first one by the join role.
	CombineJoin CombineMode = "join"
	// CombineAppend concatenates the tables' records in upload order.
	CombineAppend CombineMode = "append"
)

// Config aggregates engine settings persisted to qalens.yaml.
type Config struct {
	ProjectType      string             `yaml:"project_type" json:"projectType"`
	QualityType      string             `yaml:"quality_type" json:"qualityType"`
	QualityOverride  *QualityTypeConfig `yaml:"quality_override,omitempty" json:"qualityOverride,omitempty"`
	CatalogPath      string             `yaml:"catalog_path,omitempty" json:"catalogPath,omitempty"`
	Combine          CombineMode        `yaml:"combine" json:"combine"`
	JoinRole         Role               `yaml:"join_role" json:"joinRole"`
	MaxMatchesPerKey int                `yaml:"max_matches_per_key" json:"maxMatchesPerKey"`
	Consensus        ConsensusOptions   `yaml:"consensus" json:"consensus"`
	Aggregate        AggregateConfig    `yaml:"aggregate" json:"aggregate"`
	Load             LoadOptions        `yaml:"load" json:"load"`
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults populates zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.ProjectType == "" {
		c.ProjectType = "generic"
	}
	if c.QualityType == "" {
		c.QualityType = "numeric_1_5"
	}
	if c.Combine == "" {
		c.Combine = CombineJoin
	}
	if c.JoinRole == "" {
		c.JoinRole = RoleExpertID
	}
	if c.MaxMatchesPerKey <= 0 {
		c.MaxMatchesPerKey = defaultMaxMatchesPerKey
	}
	c.Aggregate.ApplyDefaults()
	c.Load = c.Load.withDefaults()
}

// Validate checks the settings that do not depend on a catalog.
func (c Config) Validate() error {
	if c.Combine != CombineJoin && c.Combine != CombineAppend {
		return fmt.Errorf("unknown combine mode %q", c.Combine)
	}
	if !c.JoinRole.Valid() {
		return fmt.Errorf("join role: %w %q", ErrUnknownRole, c.JoinRole)
	}
	if c.Consensus.RaterRole != "" && c.Consensus.RaterRole != RoleReviewer && c.Consensus.RaterRole != RoleExpertID {
		return fmt.Errorf("rater role must be %s or %s, got %q", RoleReviewer, RoleExpertID, c.Consensus.RaterRole)
	}
	if c.QualityOverride != nil {
		if err := c.QualityOverride.Validate(); err != nil {
			return fmt.Errorf("quality override: %w", err)
		}
	}
	return c.Aggregate.Validate()
}

// LoadConfig reads the YAML config at path (default qalens.yaml), then applies a .env file
// and QALENS_* environment overrides. A missing config file yields defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = defaultConfigFile
	}
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from QALENS_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("QALENS_PROJECT_TYPE", &c.ProjectType)
	str("QALENS_QUALITY_TYPE", &c.QualityType)
	str("QALENS_CATALOG", &c.CatalogPath)
	if v, ok := lookup("QALENS_JOIN_ROLE"); ok && strings.TrimSpace(v) != "" {
		c.JoinRole = Role(strings.TrimSpace(v))
	}
	if v, ok := lookup("QALENS_GRANULARITY"); ok && strings.TrimSpace(v) != "" {
		c.Aggregate.Granularity = Granularity(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := lookup("QALENS_MAX_MATCHES"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("QALENS_MAX_MATCHES: %w", err)
		}
		c.MaxMatchesPerKey = n
	}
	return nil
}

// SaveConfig persists configuration to disk atomically.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		path = defaultConfigFile
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg.ApplyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
