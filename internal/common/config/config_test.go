package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
	if cfg.Optimizer.HorizonMinutes != 60 {
		t.Errorf("expected default horizon 60, got %d", cfg.Optimizer.HorizonMinutes)
	}
	if cfg.Optimizer.MaxDelayMin != 60 {
		t.Errorf("expected default max delay 60, got %d", cfg.Optimizer.MaxDelayMin)
	}
	if cfg.Optimizer.MaxIterations != 1000 {
		t.Errorf("expected default iteration cap 1000, got %d", cfg.Optimizer.MaxIterations)
	}
	if cfg.Optimizer.TimeBudget != 30*time.Second {
		t.Errorf("expected default time budget 30s, got %v", cfg.Optimizer.TimeBudget)
	}
	if cfg.Audit.Driver != "sqlite" {
		t.Errorf("expected default audit driver sqlite, got %s", cfg.Audit.Driver)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPT_HORIZON_MINUTES", "120")
	t.Setenv("OPT_ENABLE_REROUTE", "false")
	t.Setenv("OPT_SEED", "42")
	t.Setenv("DISPATCH_INTERVAL", "5s")
	t.Setenv("AUDIT_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Optimizer.HorizonMinutes != 120 {
		t.Errorf("expected horizon 120, got %d", cfg.Optimizer.HorizonMinutes)
	}
	if cfg.Optimizer.EnableReroute {
		t.Error("expected reroute disabled")
	}
	if cfg.Optimizer.Seed != 42 {
		t.Errorf("expected seed 42, got %d", cfg.Optimizer.Seed)
	}
	if cfg.Dispatch.CycleInterval != 5*time.Second {
		t.Errorf("expected dispatch interval 5s, got %v", cfg.Dispatch.CycleInterval)
	}
	if cfg.Audit.Driver != "memory" {
		t.Errorf("expected audit driver memory, got %s", cfg.Audit.Driver)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("OPT_MAX_ITERATIONS", "not-a-number")
	t.Setenv("DISPATCH_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Optimizer.MaxIterations != 1000 {
		t.Errorf("bad int should fall back to 1000, got %d", cfg.Optimizer.MaxIterations)
	}
	if cfg.Dispatch.CycleInterval != 30*time.Second {
		t.Errorf("bad duration should fall back to 30s, got %v", cfg.Dispatch.CycleInterval)
	}
}

func TestValidateRejectsBadDriver(t *testing.T) {
	t.Setenv("AUDIT_DRIVER", "cassandra")
	if _, err := Load(); err == nil {
		t.Error("expected error for unknown audit driver")
	}
}

func TestValidateRejectsOversizedHorizon(t *testing.T) {
	t.Setenv("OPT_HORIZON_MINUTES", "481")
	if _, err := Load(); err == nil {
		t.Error("expected error for horizon above 480 minutes")
	}
}

func TestPostgresConnectionString(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5433", User: "rail", Password: "pw", DBName: "railopt"}
	want := "host=db port=5433 user=rail password=pw dbname=railopt sslmode=disable"
	if got := p.ConnectionString(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
