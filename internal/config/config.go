// Package config loads parquedb.json, the single JSON-with-comments
// configuration file at a database root (spec.md §6 "External Interfaces").
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/parquedb/parquedb/internal/domainerr"
)

// FileName is the config file name expected at a database root.
const FileName = "parquedb.json"

// StorageConfig selects and locates the object-store backend.
type StorageConfig struct {
	Type      string `json:"type"` // "local" or "remote"
	DataDir   string `json:"dataDir,omitempty"`
	EventsDir string `json:"eventsDir,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"` // remote backend only
}

// EventWriterConfig configures the buffering event-log writer
// (spec.md §4.2).
type EventWriterConfig struct {
	MaxBufferSize   int `json:"maxBufferSize"`
	MaxBufferBytes  int `json:"maxBufferBytes"`
	FlushIntervalMs int `json:"flushIntervalMs"`
}

// SnapshotsConfig configures entity-history snapshot acceleration
// (spec.md §4.3).
type SnapshotsConfig struct {
	AutoSnapshotThreshold int `json:"autoSnapshotThreshold"`
}

// VectorIndexConfig configures the vector index family (spec.md §4.5).
type VectorIndexConfig struct {
	Dimensions     int    `json:"dimensions"`
	Metric         string `json:"metric"`
	M              int    `json:"m"`
	EfConstruction int    `json:"efConstruction"`
	MaxNodes       int    `json:"maxNodes"`
	MaxBytes       int64  `json:"maxBytes"`
}

// FTSConfig configures the full-text index family (spec.md §4.5).
type FTSConfig struct {
	Language       string `json:"language"`
	MinWordLength  int    `json:"minWordLength"`
	IndexPositions bool   `json:"indexPositions"`
}

// RetentionPolicy is one granularity's time-to-live (spec.md §4.9).
type RetentionPolicy struct {
	TTLDays int `json:"ttlDays"`
}

// RetentionConfig configures the retention manager (spec.md §4.9).
type RetentionConfig struct {
	Collection       string                     `json:"collection"`
	Policies         map[string]RetentionPolicy `json:"policies"` // "hourly"|"daily"|"monthly"|"default"
	BatchSize        int                        `json:"batchSize"`
	TimestampField   string                     `json:"timestampField"`
	GranularityField string                     `json:"granularityField"`
}

// CompactionConfig configures the compaction scheduler (spec.md §4.8).
type CompactionConfig struct {
	MinFiles   int   `json:"minFiles"`
	MaxFiles   int   `json:"maxFiles"`
	TargetSize int64 `json:"targetSize"`
	WindowMs   int   `json:"windowMs"`
}

// Config is the fully-resolved parquedb.json contents plus defaults
// (spec.md §6 "Configuration knobs (enumerated)").
type Config struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	CreatedAt string    `json:"createdAt,omitempty"`
	Storage   StorageConfig `json:"storage"`

	EventWriter EventWriterConfig `json:"eventWriter"`
	Snapshots   SnapshotsConfig   `json:"snapshots"`
	VectorIndex VectorIndexConfig `json:"vectorIndex"`
	FTS         FTSConfig         `json:"fts"`
	Retention   RetentionConfig   `json:"retention"`
	Compaction  CompactionConfig  `json:"compaction"`
}

// Default returns Config populated with spec.md's documented defaults,
// applied once at construction and never mutated afterward (teacher's
// config.go "DefaultConfig, then merge file on top" pattern).
func Default() Config {
	return Config{
		Version: 1,
		Storage: StorageConfig{
			Type:      "local",
			DataDir:   "data",
			EventsDir: "events",
		},
		EventWriter: EventWriterConfig{
			MaxBufferSize:   1000,
			MaxBufferBytes:  4 << 20,
			FlushIntervalMs: 5000,
		},
		Snapshots: SnapshotsConfig{AutoSnapshotThreshold: 50},
		VectorIndex: VectorIndexConfig{
			Metric:         "cosine",
			M:              16,
			EfConstruction: 200,
			MaxNodes:       100000,
		},
		FTS: FTSConfig{
			Language:      "en",
			MinWordLength: 2,
		},
		Compaction: CompactionConfig{
			MinFiles:   4,
			MaxFiles:   32,
			TargetSize: 128 << 20,
			WindowMs:   60000,
		},
	}
}

// Load reads and parses dir/parquedb.json (JSON-with-comments via hujson,
// matching the teacher's own config file format) on top of [Default]. A
// missing file is not an error: Default() is returned as-is, since a fresh
// database directory has no config file yet.
func Load(dir string) (Config, error) {
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}

		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	return parse(data)
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, &domainerr.Error{Kind: domainerr.ErrValidation, Err: fmt.Errorf("invalid JSONC: %w", err)}
	}

	cfg := Default()

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, &domainerr.Error{Kind: domainerr.ErrValidation, Err: fmt.Errorf("invalid config JSON: %w", err)}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Storage.Type != "local" && cfg.Storage.Type != "remote" {
		return &domainerr.Error{
			Kind: domainerr.ErrValidation,
			Err:  fmt.Errorf("storage.type must be %q or %q, got %q", "local", "remote", cfg.Storage.Type),
		}
	}

	if cfg.Storage.Type == "remote" && cfg.Storage.BaseURL == "" {
		return &domainerr.Error{Kind: domainerr.ErrValidation, Err: fmt.Errorf("storage.baseUrl is required for remote storage")}
	}

	return nil
}

// Save writes cfg to dir/parquedb.json as plain JSON (the file is only
// ever hand-edited with comments; ParqueDB itself always writes clean
// JSON back).
func Save(dir string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	path := filepath.Join(dir, FileName)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}

	return nil
}
