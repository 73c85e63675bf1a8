package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Threshold.Baseline != 0.75 {
		t.Errorf("expected baseline 0.75, got %v", cfg.Threshold.Baseline)
	}
	if cfg.Threshold.AdaptWindow != 30*time.Second {
		t.Errorf("expected 30s adapt window, got %v", cfg.Threshold.AdaptWindow)
	}
	if cfg.Poll.Interval != 3*time.Second {
		t.Errorf("expected 3s poll interval, got %v", cfg.Poll.Interval)
	}
	if cfg.Database.DSN != "" {
		t.Errorf("expected journal disabled by default, got %s", cfg.Database.DSN)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("GRIDLOCK_SERVER_PORT", "9090")
	t.Setenv("GRIDLOCK_THRESHOLD_BASELINE", "0.8")
	t.Setenv("GRIDLOCK_POLL_INTERVAL", "500ms")
	t.Setenv("GRIDLOCK_DATABASE_DSN", "postgres://custom@db:5432/test?sslmode=disable")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Threshold.Baseline != 0.8 {
		t.Errorf("expected baseline 0.8, got %v", cfg.Threshold.Baseline)
	}
	if cfg.Poll.Interval != 500*time.Millisecond {
		t.Errorf("expected 500ms interval, got %v", cfg.Poll.Interval)
	}
	if cfg.Database.DSN != "postgres://custom@db:5432/test?sslmode=disable" {
		t.Errorf("unexpected DSN: %s", cfg.Database.DSN)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	yaml := `
circuit:
  id: feeder-12
telemetry:
  source: mqtt
mqtt:
  broker: tcp://broker:1883
  topic: site/feeder-12
kafka:
  brokers: ["k1:9092", "k2:9092"]
ledger:
  backend: sqlite
  path: /var/lib/gridlock/ledger.db
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GRIDLOCK_CIRCUIT_ID", "feeder-13")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Environment wins over the file
	if cfg.Circuit.ID != "feeder-13" {
		t.Errorf("expected env override feeder-13, got %s", cfg.Circuit.ID)
	}
	if cfg.Telemetry.Source != "mqtt" || cfg.MQTT.Topic != "site/feeder-12" {
		t.Errorf("unexpected telemetry settings: %+v %+v", cfg.Telemetry, cfg.MQTT)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("expected 2 kafka brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Ledger.Backend != "sqlite" {
		t.Errorf("expected sqlite backend, got %s", cfg.Ledger.Backend)
	}
	// Unset keys keep their defaults
	if cfg.Scorer.Timeout != 3*time.Second {
		t.Errorf("expected default scorer timeout, got %v", cfg.Scorer.Timeout)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Circuit.ID != "circuit-1" {
		t.Errorf("expected default circuit, got %s", cfg.Circuit.ID)
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold.Baseline = 1.5
	cfg.Scorer.Kind = "grpc"
	cfg.Ledger.Backend = "s3"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"threshold.baseline", "scorer.kind", "ledger.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestValidate_SourceRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.Source = "mqtt"
	cfg.MQTT.Broker = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for mqtt without broker")
	}

	cfg = DefaultConfig()
	cfg.Scorer.Kind = "sagemaker"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for sagemaker without endpoint")
	}
	cfg.Scorer.Endpoint = "theft-detector"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	if err := os.WriteFile(path, []byte("threshold:\n  baseline: 0.75\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []float64
	err := Watch(path, func(c Config) {
		mu.Lock()
		got = append(got, c.Threshold.Baseline)
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("threshold:\n  baseline: 0.6\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		last := 0.0
		if n > 0 {
			last = got[n-1]
		}
		mu.Unlock()
		if last == 0.6 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("expected reload with baseline 0.6")
}

func TestWatch_RequiresFile(t *testing.T) {
	if err := Watch("", func(Config) {}, nil); err == nil {
		t.Error("expected error without a file")
	}
}
