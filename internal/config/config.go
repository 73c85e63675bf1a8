// Package config loads daemon settings from an optional YAML file and
// GRIDLOCK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "GRIDLOCK"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Circuit   CircuitConfig   `mapstructure:"circuit"`
	Poll      PollConfig      `mapstructure:"poll"`
	Threshold ThresholdConfig `mapstructure:"threshold"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Scorer    ScorerConfig    `mapstructure:"scorer"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Feedback  FeedbackConfig  `mapstructure:"feedback"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Proof     ProofConfig     `mapstructure:"proof"`
	Drift     DriftConfig     `mapstructure:"drift"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type CircuitConfig struct {
	ID string `mapstructure:"id"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ThresholdConfig struct {
	Baseline    float64       `mapstructure:"baseline"`
	AdaptValue  float64       `mapstructure:"adapt_value"`
	AdaptWindow time.Duration `mapstructure:"adapt_window"`
}

type TelemetryConfig struct {
	Source   string        `mapstructure:"source"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

type SimulatorConfig struct {
	Dataset string `mapstructure:"dataset"`
	Seed    uint64 `mapstructure:"seed"`
	Mode    string `mapstructure:"mode"`
}

type ScorerConfig struct {
	Kind     string        `mapstructure:"kind"`
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Endpoint string        `mapstructure:"endpoint"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type FeedbackConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig points at the episode journal. An empty DSN disables it.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// JournalConfig controls pruning of resolved episodes. Zero keeps them forever.
type JournalConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

type NotifyConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	WebhookURL string        `mapstructure:"webhook_url"`
	RetrainURL string        `mapstructure:"retrain_url"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ProofConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// DriftConfig sets the anomalous-tick percentage over the 5 minute window
// above which a retrain is requested.
type DriftConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfig returns the settings used when neither file nor environment
// override them.
func DefaultConfig() Config {
	return Config{
		Server:    ServerConfig{Port: "8080", CORSOrigins: []string{"*"}},
		Circuit:   CircuitConfig{ID: "circuit-1"},
		Poll:      PollConfig{Interval: 3 * time.Second},
		Threshold: ThresholdConfig{Baseline: 0.75, AdaptValue: 0.99, AdaptWindow: 30 * time.Second},
		Telemetry: TelemetryConfig{Source: "simulator", CacheTTL: 2 * time.Second, MaxAge: 10 * time.Second},
		MQTT:      MQTTConfig{Broker: "tcp://localhost:1883", Topic: "gridlock/readings", ClientID: "gridlock-sentinel"},
		Simulator: SimulatorConfig{Seed: 42, Mode: "NORMAL"},
		Scorer:    ScorerConfig{Kind: "http", URL: "http://localhost:8000", Timeout: 3 * time.Second},
		AWS:       AWSConfig{Region: "us-east-1"},
		Ledger:    LedgerConfig{Backend: "file", Path: "data/ledger.jsonl"},
		Feedback:  FeedbackConfig{Path: "data/feedback_log.csv"},
		Notify:    NotifyConfig{Timeout: 3 * time.Second},
		Kafka:     KafkaConfig{Topic: "gridlock.events"},
		Proof:     ProofConfig{Prefix: "proofs"},
		Drift:     DriftConfig{Threshold: 40},
		Log:       LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
	}
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())
	return v
}

// Every key needs a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("circuit.id", d.Circuit.ID)
	v.SetDefault("poll.interval", d.Poll.Interval)
	v.SetDefault("threshold.baseline", d.Threshold.Baseline)
	v.SetDefault("threshold.adapt_value", d.Threshold.AdaptValue)
	v.SetDefault("threshold.adapt_window", d.Threshold.AdaptWindow)
	v.SetDefault("telemetry.source", d.Telemetry.Source)
	v.SetDefault("telemetry.cache_ttl", d.Telemetry.CacheTTL)
	v.SetDefault("telemetry.max_age", d.Telemetry.MaxAge)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("simulator.dataset", d.Simulator.Dataset)
	v.SetDefault("simulator.seed", d.Simulator.Seed)
	v.SetDefault("simulator.mode", d.Simulator.Mode)
	v.SetDefault("scorer.kind", d.Scorer.Kind)
	v.SetDefault("scorer.url", d.Scorer.URL)
	v.SetDefault("scorer.timeout", d.Scorer.Timeout)
	v.SetDefault("scorer.endpoint", d.Scorer.Endpoint)
	v.SetDefault("aws.region", d.AWS.Region)
	v.SetDefault("ledger.backend", d.Ledger.Backend)
	v.SetDefault("ledger.path", d.Ledger.Path)
	v.SetDefault("feedback.path", d.Feedback.Path)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("journal.retention", d.Journal.Retention)
	v.SetDefault("notify.timeout", d.Notify.Timeout)
	v.SetDefault("notify.webhook_url", d.Notify.WebhookURL)
	v.SetDefault("notify.retrain_url", d.Notify.RetrainURL)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("proof.bucket", d.Proof.Bucket)
	v.SetDefault("proof.prefix", d.Proof.Prefix)
	v.SetDefault("drift.threshold", d.Drift.Threshold)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

// Load reads path (optional) and the environment on top of the defaults.
// A missing file is not an error.
func Load(path string) (Config, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Circuit.ID == "" {
		errs = append(errs, errors.New("circuit.id is required"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Threshold.Baseline < 0 || c.Threshold.Baseline > 1 {
		errs = append(errs, fmt.Errorf("threshold.baseline %v must be within [0,1]", c.Threshold.Baseline))
	}
	if c.Threshold.AdaptValue < 0 || c.Threshold.AdaptValue > 1 {
		errs = append(errs, fmt.Errorf("threshold.adapt_value %v must be within [0,1]", c.Threshold.AdaptValue))
	}
	if c.Threshold.AdaptWindow <= 0 {
		errs = append(errs, errors.New("threshold.adapt_window must be positive"))
	}
	switch c.Telemetry.Source {
	case "http", "simulator":
	case "mqtt":
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt.broker and mqtt.topic are required for telemetry.source=mqtt"))
		}
	default:
		errs = append(errs, fmt.Errorf("telemetry.source %q must be http, mqtt or simulator", c.Telemetry.Source))
	}
	switch c.Scorer.Kind {
	case "http":
		if c.Scorer.URL == "" {
			errs = append(errs, errors.New("scorer.url is required for scorer.kind=http"))
		}
	case "sagemaker":
		if c.Scorer.Endpoint == "" {
			errs = append(errs, errors.New("scorer.endpoint is required for scorer.kind=sagemaker"))
		}
	default:
		errs = append(errs, fmt.Errorf("scorer.kind %q must be http or sagemaker", c.Scorer.Kind))
	}
	if c.Ledger.Backend != "file" && c.Ledger.Backend != "sqlite" {
		errs = append(errs, fmt.Errorf("ledger.backend %q must be file or sqlite", c.Ledger.Backend))
	}
	if c.Ledger.Path == "" {
		errs = append(errs, errors.New("ledger.path is required"))
	}
	if c.Feedback.Path == "" {
		errs = append(errs, errors.New("feedback.path is required"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when kafka.brokers is set"))
	}
	if c.Drift.Threshold <= 0 || c.Drift.Threshold > 100 {
		errs = append(errs, fmt.Errorf("drift.threshold %v must be within (0,100]", c.Drift.Threshold))
	}
	return errors.Join(errs...)
}

// Watch re-reads path whenever it changes and passes the valid result to fn.
// Invalid edits are reported through onErr and otherwise ignored.
func Watch(path string, fn func(Config), onErr func(error)) error {
	if path == "" {
		return errors.New("watch requires a config file")
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}
