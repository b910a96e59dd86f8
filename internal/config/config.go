package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all job settings, populated from environment variables and
// optionally overlaid by a YAML job file.
type Config struct {
	DengueInput     string
	RainInput       string
	SkipHeaderLines int

	OutputDir    string
	OutputPrefix string
	OutputSuffix string
	OutputShards int

	// RainStrict makes a non-numeric rainfall reading fail the run. When false
	// such readings count as zero, like non-numeric dengue case counts.
	RainStrict bool

	// Optional sinks. Empty values disable them.
	KafkaBrokers   []string
	KafkaSinkTopic string
	SQLitePath     string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	JobConfig string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	skipHeader, err := parseNonNegativeInt("SKIP_HEADER_LINES", 1)
	if err != nil {
		return nil, err
	}

	shards, err := parsePositiveInt("OUTPUT_SHARDS", 1)
	if err != nil {
		return nil, err
	}

	rainStrict, err := parseBool("RAIN_STRICT", true)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = sharedcfg.ParseBrokers(raw)
	}

	cfg := &Config{
		DengueInput:     sharedcfg.EnvOrDefault("DENGUE_INPUT", "sample_casos_dengue.txt"),
		RainInput:       sharedcfg.EnvOrDefault("RAIN_INPUT", "sample_chuvas.csv"),
		SkipHeaderLines: skipHeader,

		OutputDir:    sharedcfg.EnvOrDefault("OUTPUT_DIR", "."),
		OutputPrefix: sharedcfg.EnvOrDefault("OUTPUT_PREFIX", "resultado"),
		OutputSuffix: sharedcfg.EnvOrDefault("OUTPUT_SUFFIX", ".csv"),
		OutputShards: shards,

		RainStrict: rainStrict,

		KafkaBrokers:   brokers,
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "dengue-rain-monthly"),
		SQLitePath:     os.Getenv("SQLITE_PATH"),

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		JobConfig: os.Getenv("JOB_CONFIG"),
	}

	if cfg.JobConfig != "" {
		if err := applyJobFile(cfg, cfg.JobConfig); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// KafkaEnabled reports whether rows should also be published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c *Config) validate() error {
	if c.DengueInput == "" {
		return errors.New("DENGUE_INPUT is required")
	}
	if c.RainInput == "" {
		return errors.New("RAIN_INPUT is required")
	}
	if c.OutputPrefix == "" {
		return errors.New("OUTPUT_PREFIX is required")
	}
	if c.OutputShards < 1 {
		return errors.New("OUTPUT_SHARDS must be positive")
	}
	if c.SkipHeaderLines < 0 {
		return errors.New("SKIP_HEADER_LINES must not be negative")
	}
	if c.KafkaEnabled() && c.KafkaSinkTopic == "" {
		return errors.New("KAFKA_SINK_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

func parsePositiveInt(key string, def int) (int, error) {
	n, err := parseInt(key, def)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	n, err := parseInt(key, def)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return n, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
