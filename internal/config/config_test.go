package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sigstream.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
transport:
  addr: "collector:4403"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Capture.Dir != "./data/sessions" {
		t.Fatalf("capture.dir = %q", cfg.Capture.Dir)
	}
	if cfg.Capture.BatchSize != 64 || cfg.Capture.QueueDepth != 16 {
		t.Fatalf("capture defaults = %+v", cfg.Capture)
	}
	if cfg.Transfer.RetryCeiling != 5 || cfg.Transfer.BackoffBase.Std() != 100*time.Millisecond {
		t.Fatalf("transfer defaults = %+v", cfg.Transfer)
	}
	if cfg.Transport.CreditWindow != 8 {
		t.Fatalf("transport.credit_window = %d", cfg.Transport.CreditWindow)
	}
	if cfg.API.Addr != ":8080" || cfg.Metrics.Addr != ":9100" || cfg.Log.Level != "info" {
		t.Fatalf("ambient defaults: api=%q metrics=%q log=%q",
			cfg.API.Addr, cfg.Metrics.Addr, cfg.Log.Level)
	}
}

func TestLoadHonoursOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
capture:
  dir: /var/lib/sigstream/sessions
  sample_rate_hz: 8000
  batch_size: 32
transfer:
  retry_ceiling: 10
transport:
  addr: "collector:4403"
  credit_window: 4
log:
  level: debug
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Capture.Dir != "/var/lib/sigstream/sessions" || cfg.Capture.SampleRateHz != 8000 {
		t.Fatalf("capture = %+v", cfg.Capture)
	}
	if cfg.Capture.BatchSize != 32 {
		t.Fatalf("batch_size = %d", cfg.Capture.BatchSize)
	}
	if cfg.Transfer.RetryCeiling != 10 {
		t.Fatalf("retry_ceiling = %d", cfg.Transfer.RetryCeiling)
	}
	if cfg.Transport.CreditWindow != 4 {
		t.Fatalf("credit_window = %d", cfg.Transport.CreditWindow)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log.level = %q", cfg.Log.Level)
	}
}

func TestLoadParsesDurationStrings(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
transfer:
  backoff_base: 250ms
  backoff_max: 3s
  credit_wait: 750ms
transport:
  addr: "collector:4403"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transfer.BackoffBase.Std() != 250*time.Millisecond {
		t.Fatalf("backoff_base = %v", cfg.Transfer.BackoffBase.Std())
	}
	if cfg.Transfer.BackoffMax.Std() != 3*time.Second {
		t.Fatalf("backoff_max = %v", cfg.Transfer.BackoffMax.Std())
	}
	if cfg.Transfer.CreditWait.Std() != 750*time.Millisecond {
		t.Fatalf("credit_wait = %v", cfg.Transfer.CreditWait.Std())
	}
}

func TestLoadRejectsMissingTransportAddr(t *testing.T) {
	if _, err := Load(writeConfig(t, `
capture:
  batch_size: 8
`)); err == nil {
		t.Fatalf("expected validation error for missing transport.addr")
	}
}

func TestValidateRejectsInvertedBackoff(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	cfg.Transport.Addr = "x:1"
	cfg.Transfer.BackoffBase = Duration(5 * time.Second)
	cfg.Transfer.BackoffMax = Duration(time.Second)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for backoff_base > backoff_max")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
