package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Specification is the engine configuration. Precedence:
// defaults < YAML < env < flags.
type Specification struct {
	Provider       string   `yaml:"provider" envconfig:"PROVIDER"`
	APIKey         string   `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel     string   `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	Dim            int      `yaml:"providerDim" envconfig:"EMBED_DIM"`
	Database       string   `yaml:"database" envconfig:"DB_URL"`
	Workspace      string   `yaml:"workspace" split_words:"true"`
	Folders        []string `yaml:"folders"`
	Watch          bool     `yaml:"watch"`
	CacheEvictSpec string   `yaml:"cacheEvictSpec" envconfig:"CACHE_EVICT_SPEC"`
	LogLevel       string   `yaml:"logLevel" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

const envPrefix = "ANNEX"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load resolves configuration: defaults < YAML < env < flags. configPath may
// be empty; discovery checks ANNEX_CONFIG and the usual candidates.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/annex.yaml",
				"config/config.yaml",
				"./annex.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.Database) == "" {
		return Specification{}, fmt.Errorf("ANNEX_DB_URL is required (env/file/flag)")
	}
	if strings.TrimSpace(cfg.Workspace) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Specification{}, fmt.Errorf("resolve workspace: %w", err)
		}
		cfg.Workspace = wd
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// Capture --config before Parse so discovery can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Embedding provider (none, gemini)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")
	fs.String("db-url", c.Database, "Database URL (DSN)")
	fs.String("workspace", c.Workspace, "Workspace root (always indexed)")
	fs.StringSlice("folder", c.Folders, "Additional folder to index (repeatable)")
	fs.Bool("watch", c.Watch, "Watch indexed folders for changes")
	fs.String("cache-evict-spec", c.CacheEvictSpec, "Cron spec for embedding cache eviction")
	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")

	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}

	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setInt("embed-dim", &c.Dim)
	setStr("db-url", &c.Database)
	setStr("workspace", &c.Workspace)
	setBool("watch", &c.Watch)
	setStr("cache-evict-spec", &c.CacheEvictSpec)
	setStr("log-level", &c.LogLevel)
	if fs.Changed("folder") {
		v, _ := fs.GetStringSlice("folder")
		c.Folders = v
	}
}

func setDefaults(c *Specification) {
	c.Provider = "none"
	c.Watch = true
	c.CacheEvictSpec = "0 3 * * *"
	c.LogLevel = "info"
	c.Dim = 0
}
