package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquedb/parquedb/internal/config"
)

func Test_Load_Returns_Defaults_When_File_Missing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.Type != "local" {
		t.Fatalf("storage.type = %q, want default %q", cfg.Storage.Type, "local")
	}

	if cfg.EventWriter.MaxBufferSize != 1000 {
		t.Fatalf("eventWriter.maxBufferSize = %d, want default 1000", cfg.EventWriter.MaxBufferSize)
	}
}

func Test_Load_Parses_JSON_With_Comments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	contents := `{
		// storage is always local for this test fixture
		"name": "testdb",
		"storage": {"type": "local", "dataDir": "mydata"},
		"eventWriter": {"maxBufferSize": 42, "maxBufferBytes": 1024, "flushIntervalMs": 1000},
	}`

	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Name != "testdb" {
		t.Fatalf("name = %q, want %q", cfg.Name, "testdb")
	}

	if cfg.Storage.DataDir != "mydata" {
		t.Fatalf("storage.dataDir = %q, want %q", cfg.Storage.DataDir, "mydata")
	}

	if cfg.EventWriter.MaxBufferSize != 42 {
		t.Fatalf("eventWriter.maxBufferSize = %d, want 42", cfg.EventWriter.MaxBufferSize)
	}

	// field left out of the fixture should keep its default
	if cfg.VectorIndex.Metric != "cosine" {
		t.Fatalf("vectorIndex.metric = %q, want default %q", cfg.VectorIndex.Metric, "cosine")
	}
}

func Test_Load_Rejects_Invalid_Storage_Type(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	contents := `{"storage": {"type": "carrier-pigeon"}}`
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := config.Load(dir); err == nil {
		t.Fatalf("expected validation error for unknown storage type")
	}
}

func Test_Load_Requires_BaseURL_For_Remote_Storage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	contents := `{"storage": {"type": "remote"}}`
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := config.Load(dir); err == nil {
		t.Fatalf("expected validation error for remote storage without baseUrl")
	}
}

func Test_Save_Then_Load_Round_Trips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg := config.Default()
	cfg.Name = "roundtrip"
	cfg.Storage.DataDir = "custom-data"

	if err := config.Save(dir, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if reloaded.Name != "roundtrip" || reloaded.Storage.DataDir != "custom-data" {
		t.Fatalf("reloaded = %+v, want name/dataDir to round-trip", reloaded)
	}
}
