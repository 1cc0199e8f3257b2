// Package config loads reqgraph settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/logging"
	"github.com/systemshift/reqgraph/internal/query"
)

// Storage backends for the reference server.
const (
	StorageSQLite = "sqlite"
	StorageNeo4j  = "neo4j"
)

type Config struct {
	Server ServerConfig   `yaml:"server"`
	Client ClientConfig   `yaml:"client"`
	Model  ModelConfig    `yaml:"model"`
	Log    logging.Config `yaml:"log"`
}

// ServerConfig configures reqgraphd.
type ServerConfig struct {
	Port       string      `yaml:"port" validate:"required,numeric"`
	Storage    string      `yaml:"storage" validate:"required,oneof=sqlite neo4j"`
	SQLitePath string      `yaml:"sqlite_path"`
	Neo4j      Neo4jConfig `yaml:"neo4j"`
	AccessLog  bool        `yaml:"access_log"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// ClientConfig configures the CLI and TUI.
type ClientConfig struct {
	BaseURL          string        `yaml:"base_url" validate:"required,url"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	PageSize         int           `yaml:"page_size" validate:"min=1"`
	TypeTags         []string      `yaml:"type_tags" validate:"dive,alphanum"`
	DisplayAttribute string        `yaml:"display_attribute"`
}

// ModelConfig overrides how type tags are classified.
type ModelConfig struct {
	DefinitionSuffixes []string `yaml:"definition_suffixes,omitempty"`
	UsageSuffixes      []string `yaml:"usage_suffixes,omitempty"`
	RelationshipKinds  []string `yaml:"relationship_kinds,omitempty"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:       "8080",
			Storage:    StorageSQLite,
			SQLitePath: defaultDataPath(),
			Neo4j: Neo4jConfig{
				URI:      "bolt://localhost:7687",
				User:     "neo4j",
				Password: "password",
				Database: "neo4j",
			},
			AccessLog: true,
		},
		Client: ClientConfig{
			BaseURL:          "http://localhost:8080",
			Timeout:          30 * time.Second,
			PageSize:         query.DefaultPageSize,
			TypeTags:         []string{"RequirementDefinition", "RequirementUsage", "Satisfies"},
			DisplayAttribute: element.AttrDisplayName,
		},
		Model: ModelConfig{
			DefinitionSuffixes: element.DefaultDefinitionSuffixes,
			UsageSuffixes:      element.DefaultUsageSuffixes,
			RelationshipKinds:  element.DefaultRelationshipKinds,
		},
		Log: logging.Config{Level: "info", Format: "text"},
	}
}

// DefaultPath is ~/.config/reqgraph/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "reqgraph.yaml"
	}
	return filepath.Join(home, ".config", "reqgraph", "config.yaml")
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "reqgraph.db"
	}
	return filepath.Join(home, ".local", "share", "reqgraph", "reqgraph.db")
}

// Load reads path over the defaults, then applies environment overrides
// and validates the result. A missing file is not an error; an empty path
// means DefaultPath.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", getEnv("REQGRAPH_PORT", c.Server.Port))
	c.Server.Storage = getEnv("REQGRAPH_STORAGE", c.Server.Storage)
	c.Server.SQLitePath = getEnv("REQGRAPH_SQLITE_PATH", c.Server.SQLitePath)
	c.Server.Neo4j.URI = getEnv("NEO4J_URI", c.Server.Neo4j.URI)
	c.Server.Neo4j.User = getEnv("NEO4J_USER", c.Server.Neo4j.User)
	c.Server.Neo4j.Password = getEnv("NEO4J_PASSWORD", c.Server.Neo4j.Password)
	c.Server.Neo4j.Database = getEnv("NEO4J_DATABASE", c.Server.Neo4j.Database)

	c.Client.BaseURL = getEnv("REQGRAPH_SERVER", c.Client.BaseURL)
	if s := os.Getenv("REQGRAPH_PAGE_SIZE"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("REQGRAPH_PAGE_SIZE: %w", err)
		}
		c.Client.PageSize = n
	}
	if s := os.Getenv("REQGRAPH_TYPES"); s != "" {
		c.Client.TypeTags = splitList(s)
	}

	c.Log.Level = getEnv("REQGRAPH_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("REQGRAPH_LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("REQGRAPH_LOG_FILE", c.Log.File)
	return nil
}

// Validate checks field constraints and the storage-specific settings.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Client.PageSize > query.MaxPageSize {
		return fmt.Errorf("invalid config: page_size %d exceeds %d", c.Client.PageSize, query.MaxPageSize)
	}
	switch c.Server.Storage {
	case StorageSQLite:
		if c.Server.SQLitePath == "" {
			return errors.New("invalid config: sqlite_path is required for sqlite storage")
		}
	case StorageNeo4j:
		if c.Server.Neo4j.URI == "" {
			return errors.New("invalid config: neo4j.uri is required for neo4j storage")
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Classifier builds the type tag classifier. Empty rule lists fall back to
// the defaults.
func (c Config) Classifier() element.Classifier {
	cl := element.Classifier{
		DefinitionSuffixes: c.Model.DefinitionSuffixes,
		UsageSuffixes:      c.Model.UsageSuffixes,
		RelationshipKinds:  c.Model.RelationshipKinds,
	}
	if cl.IsZero() {
		return element.DefaultClassifier()
	}
	return cl
}

// Save writes c to path as YAML, creating the directory.
func Save(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
