// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
	collyfetcher "github.com/JakeFAU/snp-citation-crawler/internal/fetcher/colly"
)

// EnvPrefix prefixes every environment override, e.g. CITECRAWLER_CRAWL_DELAY.
const EnvPrefix = "CITECRAWLER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Input    InputConfig    `mapstructure:"input"`
	Output   OutputConfig   `mapstructure:"output"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// InputConfig points at the backlog file.
type InputConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig controls the TSV result store.
type OutputConfig struct {
	Path        string `mapstructure:"path"`
	WriteHeader bool   `mapstructure:"write_header"`
}

// CrawlConfig governs the worker pool.
type CrawlConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	Delay           time.Duration `mapstructure:"delay"`
	DrainMultiplier int           `mapstructure:"drain_multiplier"`
}

// FetchConfig configures the lookup client.
type FetchConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	UserAgent            string        `mapstructure:"user_agent"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	MaxRequestsPerSecond float64       `mapstructure:"max_requests_per_second"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig enables the admin HTTP server when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// PostgresConfig enables the database mirror when DSN is set.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// GCSConfig enables the report upload when Bucket is set.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// PubSubConfig enables the run summary notification when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"rs_file":   "input.path",
	"out_file":  "output.path",
	"threading": "crawl.concurrency",
	"delay":     "crawl.delay",
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load builds a Config from defaults, an optional file at path, the
// environment and any changed flags, in increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.path", "")
	v.SetDefault("output.path", "./output.txt")
	v.SetDefault("output.write_header", false)
	v.SetDefault("crawl.concurrency", 20)
	v.SetDefault("crawl.delay", "3s")
	v.SetDefault("crawl.drain_multiplier", 2)
	v.SetDefault("fetch.base_url", citation.DefaultLookupURL)
	v.SetDefault("fetch.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("fetch.request_timeout", collyfetcher.DefaultRequestTimeout.String())
	v.SetDefault("fetch.max_attempts", collyfetcher.DefaultMaxAttempts)
	v.SetDefault("fetch.max_requests_per_second", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "snp_citations")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.object", "citations/output.tsv")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Input.Path) == "" {
		errs = append(errs, errors.New("input.path is required"))
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		errs = append(errs, errors.New("output.path must not be empty"))
	}
	if c.Crawl.Concurrency <= 0 {
		errs = append(errs, errors.New("crawl.concurrency must be > 0"))
	}
	if c.Crawl.Delay < 0 {
		errs = append(errs, errors.New("crawl.delay must be >= 0"))
	}
	if c.Crawl.DrainMultiplier <= 0 {
		errs = append(errs, errors.New("crawl.drain_multiplier must be > 0"))
	}
	if c.Fetch.RequestTimeout <= 0 {
		errs = append(errs, errors.New("fetch.request_timeout must be > 0"))
	}
	if c.Fetch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("fetch.max_attempts must be > 0"))
	}
	if c.Fetch.MaxRequestsPerSecond < 0 {
		errs = append(errs, errors.New("fetch.max_requests_per_second must be >= 0"))
	}
	if c.Postgres.DSN != "" && !tableName.MatchString(c.Postgres.Table) {
		errs = append(errs, fmt.Errorf("postgres.table %q is not a plain identifier", c.Postgres.Table))
	}
	if c.GCS.Bucket != "" && strings.TrimSpace(c.GCS.Object) == "" {
		errs = append(errs, errors.New("gcs.object must be set when gcs.bucket is"))
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic is"))
	}
	return errors.Join(errs...)
}

// DrainEvery is the number of completed lookups buffered between writes.
func (c Config) DrainEvery() int {
	return c.Crawl.Concurrency * c.Crawl.DrainMultiplier
}
