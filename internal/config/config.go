// Package config assembles the importer settings from defaults, an optional
// YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/OFFIS-RIT/relannis/internal/storage"
	"github.com/OFFIS-RIT/relannis/internal/util"
)

const (
	configName = "relannis"
	configType = "yaml"

	MediaBackendLocal = "local"
	MediaBackendS3    = "s3"
)

type Import struct {
	TemporaryStaging  bool
	StatisticsTarget  int
	DistinctTokenHack bool
	ExampleQueries    string
	LockTTL           time.Duration
	LockWait          bool
	HashWorkers       int
}

type Media struct {
	Backend string
	Dir     string
	S3      storage.S3Config
}

type RabbitMQ struct {
	User     string
	Password string
	Host     string
	Port     string
}

// URL is the AMQP connection string.
func (r RabbitMQ) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.Host, r.Port)
}

type Config struct {
	DatabaseURL string
	Debug       bool
	LogFormat   string
	Import      Import
	Media       Media
	RabbitMQ    RabbitMQ
	// MimeTypes extends the built-in media extension map.
	MimeTypes   map[string]string
}

// DefaultMediaDir is $XDG_DATA_HOME/relannis/media.
func DefaultMediaDir() string {
	xdg.Reload()
	dataHome := xdg.DataHome
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), configName, "media")
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, configName, "media")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "text")
	v.SetDefault("import.temporary_staging", true)
	v.SetDefault("import.statistics_target", 250)
	v.SetDefault("import.distinct_token_hack", false)
	v.SetDefault("import.example_queries", "IF_MISSING")
	v.SetDefault("import.lock_ttl", "5m")
	v.SetDefault("import.lock_wait", true)
	v.SetDefault("import.hash_workers", 4)
	v.SetDefault("media.backend", MediaBackendLocal)
	v.SetDefault("media.dir", DefaultMediaDir())
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", "5672")
	return v
}

// Load reads path, or relannis.yaml from the working directory or
// $XDG_CONFIG_HOME/relannis when path is empty. A missing default file is
// not an error.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, configName))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	c := &Config{
		DatabaseURL: v.GetString("database_url"),
		Debug:       v.GetBool("debug"),
		LogFormat:   v.GetString("log_format"),
		Import: Import{
			TemporaryStaging:  v.GetBool("import.temporary_staging"),
			StatisticsTarget:  v.GetInt("import.statistics_target"),
			DistinctTokenHack: v.GetBool("import.distinct_token_hack"),
			ExampleQueries:    v.GetString("import.example_queries"),
			LockTTL:           v.GetDuration("import.lock_ttl"),
			LockWait:          v.GetBool("import.lock_wait"),
			HashWorkers:       v.GetInt("import.hash_workers"),
		},
		Media: Media{
			Backend: v.GetString("media.backend"),
			Dir:     v.GetString("media.dir"),
			S3: storage.S3Config{
				Region:   v.GetString("media.s3.region"),
				Endpoint: v.GetString("media.s3.endpoint"),
				Bucket:   v.GetString("media.s3.bucket"),
				Prefix:   v.GetString("media.s3.prefix"),
			},
		},
		RabbitMQ: RabbitMQ{
			User: v.GetString("rabbitmq.user"),
			Host: v.GetString("rabbitmq.host"),
			Port: v.GetString("rabbitmq.port"),
		},
		MimeTypes: v.GetStringMapString("mime_types"),
	}
	c.applyEnv()

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv lets the environment override file and default values.
func (c *Config) applyEnv() {
	c.DatabaseURL = util.GetEnvString("DATABASE_URL", c.DatabaseURL)
	c.Debug = util.GetEnvBool("DEBUG", c.Debug)
	c.LogFormat = util.GetEnvString("LOG_FORMAT", c.LogFormat)

	c.Import.TemporaryStaging = util.GetEnvBool("IMPORT_TEMPORARY_STAGING", c.Import.TemporaryStaging)
	c.Import.StatisticsTarget = util.GetEnvNumeric("IMPORT_STATISTICS_TARGET", c.Import.StatisticsTarget)
	c.Import.DistinctTokenHack = util.GetEnvBool("IMPORT_DISTINCT_TOKEN_HACK", c.Import.DistinctTokenHack)
	c.Import.ExampleQueries = util.GetEnvString("IMPORT_EXAMPLE_QUERIES", c.Import.ExampleQueries)
	c.Import.LockTTL = util.GetEnvDuration("IMPORT_LOCK_TTL", c.Import.LockTTL)

	c.Media.Backend = util.GetEnvString("MEDIA_BACKEND", c.Media.Backend)
	c.Media.Dir = util.GetEnvString("MEDIA_DIR", c.Media.Dir)
	c.Media.S3.Region = util.GetEnvString("AWS_REGION", c.Media.S3.Region)
	c.Media.S3.Endpoint = util.GetEnvString("AWS_ENDPOINT", c.Media.S3.Endpoint)
	c.Media.S3.AccessKey = util.GetEnvString("AWS_ACCESS_KEY", c.Media.S3.AccessKey)
	c.Media.S3.SecretKey = util.GetEnvString("AWS_SECRET_KEY", c.Media.S3.SecretKey)
	c.Media.S3.Bucket = util.GetEnvString("AWS_BUCKET", c.Media.S3.Bucket)

	c.RabbitMQ.User = util.GetEnvString("RABBITMQ_USER", c.RabbitMQ.User)
	c.RabbitMQ.Password = util.GetEnvString("RABBITMQ_PASSWORD", c.RabbitMQ.Password)
	c.RabbitMQ.Host = util.GetEnvString("RABBITMQ_HOST", c.RabbitMQ.Host)
	c.RabbitMQ.Port = util.GetEnvString("RABBITMQ_PORT", c.RabbitMQ.Port)
}

func (c *Config) validate() error {
	c.Media.Backend = strings.ToLower(c.Media.Backend)
	switch c.Media.Backend {
	case MediaBackendLocal:
		if c.Media.Dir == "" {
			return errors.New("media.dir must be set for the local media backend")
		}
	case MediaBackendS3:
		if c.Media.S3.Bucket == "" {
			return errors.New("AWS_BUCKET must be set for the s3 media backend")
		}
	default:
		return fmt.Errorf("unknown media backend %q", c.Media.Backend)
	}
	if c.Import.StatisticsTarget <= 0 {
		return fmt.Errorf("import.statistics_target must be positive, got %d", c.Import.StatisticsTarget)
	}
	return nil
}
