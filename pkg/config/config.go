// Package config handles boutinf configuration via environment variables and
// an optional YAML file.
//
// Every setting has a default, can be overridden by a BOUTINF_* environment
// variable, and (when a file is given) by the YAML document. Environment
// variables always win over the file so that a container can patch one value
// without shipping a new file.
//
// Example Usage:
//
//	cfg, err := config.Load("/etc/boutinf.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	fmt.Println(cfg)
//
// Environment Variables:
//   - BOUTINF_DATA_DIR="./data"
//   - BOUTINF_TRIPLES_IN_MEMORY=false
//   - BOUTINF_TRIPLES_SYNC_WRITES=false
//   - BOUTINF_TRIPLES_BLOCK_CACHE="32MB"
//   - BOUTINF_LATTICE_REBUILD=1024
//   - BOUTINF_SNAPSHOT_KEEP=3
//   - BOUTINF_FLUSH_INTERVAL=0 (disabled)
//   - BOUTINF_INGEST_WORKERS=4
//   - BOUTINF_INGEST_QUEUE=1024
//   - BOUTINF_INGEST_RATE=0 (unlimited)
//   - BOUTINF_PAGE_SIZE=20
//   - BOUTINF_MAX_LIMIT=1000
//   - BOUTINF_QUERY_CACHE_SIZE=1000
//   - BOUTINF_QUERY_CACHE_TTL=5m
//   - BOUTINF_MEMORY_LIMIT="0"
//   - BOUTINF_GC_PERCENT=100
//   - BOUTINF_POOL_ENABLED=true
//   - BOUTINF_LOG_LEVEL=info
//   - BOUTINF_LOG_FORMAT=text
package config

import (
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all boutinf configuration.
//
// Sections:
//   - Storage: data directory and the triple store engine
//   - Index: ray locking, lattice and snapshot policy
//   - Ingest: the background ingestion pool
//   - Query: pagination and parsed-query caching
//   - Memory: Go runtime and pooling knobs
//   - Logging: level and format
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Index   IndexConfig   `yaml:"index"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Query   QueryConfig   `yaml:"query"`
	Memory  MemoryConfig  `yaml:"memory"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds the on-disk layout and triple store settings.
type StorageConfig struct {
	// DataDir holds the ray snapshots (under "ray") and the triple store
	// (under "triples").
	DataDir string `yaml:"data_dir"`
	// InMemoryTriples runs the triple store without touching disk.
	InMemoryTriples bool `yaml:"in_memory_triples"`
	// SyncWrites fsyncs every triple store commit.
	SyncWrites bool `yaml:"sync_writes"`
	// BlockCache is the badger block cache size, e.g. "32MB".
	BlockCache string `yaml:"block_cache"`
	// BlockCacheBytes is BlockCache parsed.
	BlockCacheBytes int64 `yaml:"-"`
}

// IndexConfig holds ray settings.
type IndexConfig struct {
	// LatticeRebuild is how many newly registered ids trigger a lattice rebuild.
	LatticeRebuild int `yaml:"lattice_rebuild"`
	// SnapshotKeep is how many published snapshots survive pruning.
	SnapshotKeep int `yaml:"snapshot_keep"`
	// FlushInterval flushes the ray periodically; zero disables it.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// IngestConfig holds the ingestion pool settings.
type IngestConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// RatePerSecond caps ingested messages per second; zero means unlimited.
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// QueryConfig holds pagination and caching settings.
type QueryConfig struct {
	PageSize  int           `yaml:"page_size"`
	MaxLimit  int           `yaml:"max_limit"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// MemoryConfig holds Go runtime memory settings.
type MemoryConfig struct {
	// RuntimeLimitStr is the soft memory limit, e.g. "2GB" or "0" for none.
	RuntimeLimitStr string `yaml:"limit"`
	RuntimeLimit    int64  `yaml:"-"`
	GCPercent       int    `yaml:"gc_percent"`
	PoolEnabled     bool   `yaml:"pool_enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is "stderr", "stdout" or a file path.
	Output string `yaml:"output"`
}

// Default returns the built-in defaults without consulting the environment.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:         "./data",
			BlockCache:      "32MB",
			BlockCacheBytes: 32 << 20,
		},
		Index: IndexConfig{
			LatticeRebuild: 1024,
			SnapshotKeep:   3,
		},
		Ingest: IngestConfig{
			Workers:   4,
			QueueSize: 1024,
		},
		Query: QueryConfig{
			PageSize:  20,
			MaxLimit:  1000,
			CacheSize: 1000,
			CacheTTL:  5 * time.Minute,
		},
		Memory: MemoryConfig{
			RuntimeLimitStr: "0",
			GCPercent:       100,
			PoolEnabled:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadFromEnv returns the defaults overridden by BOUTINF_* variables.
func LoadFromEnv() *Config {
	config := Default()
	applyEnv(config)
	return config
}

// Load reads the YAML file at path (if path is not empty), then applies the
// environment on top and validates the result.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		if err := config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	applyEnv(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// document keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Storage.BlockCacheBytes = parseMemorySize(c.Storage.BlockCache)
	c.Memory.RuntimeLimit = parseMemorySize(c.Memory.RuntimeLimitStr)
	return nil
}

func applyEnv(config *Config) {
	config.Storage.DataDir = getEnv("BOUTINF_DATA_DIR", config.Storage.DataDir)
	config.Storage.InMemoryTriples = getEnvBool("BOUTINF_TRIPLES_IN_MEMORY", config.Storage.InMemoryTriples)
	config.Storage.SyncWrites = getEnvBool("BOUTINF_TRIPLES_SYNC_WRITES", config.Storage.SyncWrites)
	config.Storage.BlockCache = getEnv("BOUTINF_TRIPLES_BLOCK_CACHE", config.Storage.BlockCache)
	config.Storage.BlockCacheBytes = parseMemorySize(config.Storage.BlockCache)

	config.Index.LatticeRebuild = getEnvInt("BOUTINF_LATTICE_REBUILD", config.Index.LatticeRebuild)
	config.Index.SnapshotKeep = getEnvInt("BOUTINF_SNAPSHOT_KEEP", config.Index.SnapshotKeep)
	config.Index.FlushInterval = getEnvDuration("BOUTINF_FLUSH_INTERVAL", config.Index.FlushInterval)

	config.Ingest.Workers = getEnvInt("BOUTINF_INGEST_WORKERS", config.Ingest.Workers)
	config.Ingest.QueueSize = getEnvInt("BOUTINF_INGEST_QUEUE", config.Ingest.QueueSize)
	config.Ingest.RatePerSecond = getEnvFloat("BOUTINF_INGEST_RATE", config.Ingest.RatePerSecond)

	config.Query.PageSize = getEnvInt("BOUTINF_PAGE_SIZE", config.Query.PageSize)
	config.Query.MaxLimit = getEnvInt("BOUTINF_MAX_LIMIT", config.Query.MaxLimit)
	config.Query.CacheSize = getEnvInt("BOUTINF_QUERY_CACHE_SIZE", config.Query.CacheSize)
	config.Query.CacheTTL = getEnvDuration("BOUTINF_QUERY_CACHE_TTL", config.Query.CacheTTL)

	config.Memory.RuntimeLimitStr = getEnv("BOUTINF_MEMORY_LIMIT", config.Memory.RuntimeLimitStr)
	config.Memory.RuntimeLimit = parseMemorySize(config.Memory.RuntimeLimitStr)
	config.Memory.GCPercent = getEnvInt("BOUTINF_GC_PERCENT", config.Memory.GCPercent)
	config.Memory.PoolEnabled = getEnvBool("BOUTINF_POOL_ENABLED", config.Memory.PoolEnabled)

	config.Logging.Level = getEnv("BOUTINF_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("BOUTINF_LOG_FORMAT", config.Logging.Format)
	config.Logging.Output = getEnv("BOUTINF_LOG_OUTPUT", config.Logging.Output)
}

// Validate checks the configuration for logical errors and invalid values.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	// the ray always needs a directory, even with in-memory triples
	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Index.LatticeRebuild <= 0 {
		return fmt.Errorf("invalid lattice rebuild threshold: %d", c.Index.LatticeRebuild)
	}
	if c.Index.SnapshotKeep < 1 {
		return fmt.Errorf("snapshot keep must be at least 1, got %d", c.Index.SnapshotKeep)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("invalid ingest workers: %d", c.Ingest.Workers)
	}
	if c.Ingest.QueueSize < 0 {
		return fmt.Errorf("invalid ingest queue size: %d", c.Ingest.QueueSize)
	}
	if c.Ingest.RatePerSecond < 0 {
		return fmt.Errorf("invalid ingest rate: %v", c.Ingest.RatePerSecond)
	}
	if c.Query.PageSize <= 0 {
		return fmt.Errorf("invalid page size: %d", c.Query.PageSize)
	}
	if c.Query.MaxLimit < c.Query.PageSize {
		return fmt.Errorf("max limit %d is below page size %d", c.Query.MaxLimit, c.Query.PageSize)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, InMemoryTriples: %v, BlockCache: %s, Workers: %d, PageSize: %d, Log: %s/%s}",
		c.Storage.DataDir, c.Storage.InMemoryTriples,
		FormatMemorySize(c.Storage.BlockCacheBytes), c.Ingest.Workers,
		c.Query.PageSize,
		c.Logging.Level, c.Logging.Format,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (c *MemoryConfig) ApplyRuntimeMemory() {
	if c.RuntimeLimit > 0 {
		debug.SetMemoryLimit(c.RuntimeLimit)
	}
	if c.GCPercent != 100 {
		debug.SetGCPercent(c.GCPercent)
	}
}
