package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	// Test case with empty ProjectName and DataSource DNS
	cnf := Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}
	cnf = Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
		Redis: RedisConfig{
			Dns: "",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}
	// Test case with all required fields filled, expect no error
	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	// Test default port setting
	cnf.Server.Port = ""
	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}

	// Direct DNS falls back to the pooled DNS when not provided
	if cnf.DataSource.DirectDns != cnf.DataSource.Dns {
		t.Errorf("Expected direct DNS fallback to %s, got %s", cnf.DataSource.Dns, cnf.DataSource.DirectDns)
	}
}

func TestQueueDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cnf.Queue.DividendQueue != "dividends" {
		t.Errorf("Expected default dividend queue name, got %s", cnf.Queue.DividendQueue)
	}
	if cnf.Queue.MaxRetryAttempts != 3 {
		t.Errorf("Expected 3 retry attempts, got %d", cnf.Queue.MaxRetryAttempts)
	}
	if cnf.Queue.RetryBaseDelaySec != 5 {
		t.Errorf("Expected 5s base retry delay, got %d", cnf.Queue.RetryBaseDelaySec)
	}
	if cnf.Queue.WorkerConcurrency != 1 {
		t.Errorf("Expected worker concurrency 1, got %d", cnf.Queue.WorkerConcurrency)
	}
	if cnf.Queue.JobStartsPerWindow != 10 || cnf.Queue.RateWindowSec != 60 {
		t.Errorf("Expected rate limit 10/60s, got %d/%ds", cnf.Queue.JobStartsPerWindow, cnf.Queue.RateWindowSec)
	}
}

func TestInitConfigFromFile(t *testing.T) {
	cnf := Configuration{
		ProjectName: "cardroom file test",
		DataSource:  DataSourceConfig{Dns: "postgres://localhost:5432/cardroom"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
	raw, err := json.Marshal(&cnf)
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.CreateTemp(t.TempDir(), "cardroom*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if err := InitConfig(f.Name()); err != nil {
		t.Fatalf("Expected config to load, got %v", err)
	}

	loaded, err := Fetch()
	if err != nil {
		t.Fatalf("Expected config to fetch, got %v", err)
	}
	if loaded.ProjectName != "cardroom file test" {
		t.Errorf("Expected project name from file, got %s", loaded.ProjectName)
	}
	if loaded.Pool.PoolSize == 0 {
		t.Error("Expected pool size to be resolved on load")
	}
}
