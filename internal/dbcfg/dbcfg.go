// Package dbcfg loads engine configuration, grounded on the teacher's
// config layering (cmd/bd/config.go's yaml-vs-database split and
// internal/config/local_config.go's typed-struct-plus-env-override shape in
// the reference corpus), generalized from beads' CLI settings to
// ParqueDB's storage-backend and tuning knobs (SPEC_FULL.md §7.2).
package dbcfg

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Backend selects which blobstore.Store implementation the engine wires up.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendS3    Backend = "s3"
	BackendGCS   Backend = "gcs"
	BackendAzure Backend = "azure"
)

// Config holds every tunable the engine reads at startup. Field names match
// the TOML/env keys 1:1 (lowercase, underscore-separated) via viper's
// default case-insensitive key matching.
type Config struct {
	// Backend selects the blobstore.Store implementation.
	Backend Backend `toml:"backend"`

	// LocalPath roots a BackendLocal store. Ignored by cloud backends.
	LocalPath string `toml:"local_path"`

	// Bucket names the cloud bucket/container for S3/GCS/Azure backends.
	Bucket string `toml:"bucket"`

	// Prefix scopes every blob path under this key prefix, letting multiple
	// logical databases share one bucket.
	Prefix string `toml:"prefix"`

	// Region is the AWS region for BackendS3. Ignored by other backends.
	Region string `toml:"region"`

	// Endpoint overrides the backend's default service URL: an
	// S3-compatible endpoint (e.g. MinIO) for BackendS3, or the storage
	// account URL for BackendAzure.
	Endpoint string `toml:"endpoint"`

	// AccessKeyID and SecretAccessKey, if both set, are used as static
	// BackendS3 credentials instead of the AWS SDK's default credential
	// chain (environment, shared config, instance role).
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`

	// CompressionThreshold is the serialized event size, in bytes, above
	// which the event log marks an event for zstd compression (spec.md §4.3);
	// below it the compression round-trip costs more than it saves.
	CompressionThreshold int `toml:"compression_threshold"`

	// EntityCacheSize bounds the C6 entity-reconstruction LRU, in entries.
	EntityCacheSize int `toml:"entity_cache_size"`

	// CompactionInterval is how often the vacuum scheduler considers a
	// namespace for compaction.
	CompactionInterval time.Duration `toml:"compaction_interval"`

	// CompactionDryRun runs the compactor's fold-and-verify path without
	// publishing the result (SPEC_FULL.md §10).
	CompactionDryRun bool `toml:"compaction_dry_run"`

	// LeaseTTL is how long a vacuum namespace lease (meta/lease/<ns>.json)
	// stays valid before another worker may reclaim it.
	LeaseTTL time.Duration `toml:"lease_ttl"`

	// RetryMaxAttempts bounds the compactor's backoff retries on
	// ErrETagMismatch during the final conditional publish.
	RetryMaxAttempts int `toml:"retry_max_attempts"`
}

// Defaults returns the configuration used when no file or env var overrides
// a field.
func Defaults() Config {
	return Config{
		Backend:              BackendLocal,
		LocalPath:            "./parquedb-data",
		CompressionThreshold: 64 * 1024,
		EntityCacheSize:      1_000,
		CompactionInterval:   5 * time.Minute,
		LeaseTTL:             30 * time.Second,
		RetryMaxAttempts:     5,
	}
}

// Load reads configuration from, in ascending priority: Defaults(), the
// TOML file at path (if non-empty and present), then PARQUEDB_-prefixed
// environment variables (e.g. PARQUEDB_BACKEND, PARQUEDB_BUCKET).
func Load(path string) (Config, error) {
	defaults := Defaults()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("PARQUEDB")
	v.AutomaticEnv()

	setDefaults(v, defaults)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("dbcfg: reading %s: %w", path, err)
			}
		}
	}

	cfg := Config{
		Backend:              Backend(v.GetString("backend")),
		LocalPath:            v.GetString("local_path"),
		Bucket:               v.GetString("bucket"),
		Prefix:               v.GetString("prefix"),
		Region:               v.GetString("region"),
		Endpoint:             v.GetString("endpoint"),
		AccessKeyID:          v.GetString("access_key_id"),
		SecretAccessKey:      v.GetString("secret_access_key"),
		CompressionThreshold: v.GetInt("compression_threshold"),
		EntityCacheSize:      v.GetInt("entity_cache_size"),
		CompactionInterval:   v.GetDuration("compaction_interval"),
		CompactionDryRun:     v.GetBool("compaction_dry_run"),
		LeaseTTL:             v.GetDuration("lease_ttl"),
		RetryMaxAttempts:     v.GetInt("retry_max_attempts"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("backend", string(d.Backend))
	v.SetDefault("local_path", d.LocalPath)
	v.SetDefault("bucket", d.Bucket)
	v.SetDefault("prefix", d.Prefix)
	v.SetDefault("region", d.Region)
	v.SetDefault("endpoint", d.Endpoint)
	v.SetDefault("access_key_id", d.AccessKeyID)
	v.SetDefault("secret_access_key", d.SecretAccessKey)
	v.SetDefault("compression_threshold", d.CompressionThreshold)
	v.SetDefault("entity_cache_size", d.EntityCacheSize)
	v.SetDefault("compaction_interval", d.CompactionInterval)
	v.SetDefault("compaction_dry_run", d.CompactionDryRun)
	v.SetDefault("lease_ttl", d.LeaseTTL)
	v.SetDefault("retry_max_attempts", d.RetryMaxAttempts)
}

// Validate rejects configurations that would fail later with a confusing
// error deep inside a backend constructor.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
		if c.LocalPath == "" {
			return fmt.Errorf("dbcfg: backend %q requires local_path", c.Backend)
		}
	case BackendS3, BackendGCS, BackendAzure:
		if c.Bucket == "" {
			return fmt.Errorf("dbcfg: backend %q requires bucket", c.Backend)
		}
		if c.Backend == BackendAzure && c.Endpoint == "" {
			return fmt.Errorf("dbcfg: backend %q requires endpoint (storage account URL)", c.Backend)
		}
	default:
		return fmt.Errorf("dbcfg: unknown backend %q", c.Backend)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("dbcfg: compression_threshold must be >= 0, got %d", c.CompressionThreshold)
	}
	if c.EntityCacheSize <= 0 {
		return fmt.Errorf("dbcfg: entity_cache_size must be > 0, got %d", c.EntityCacheSize)
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("dbcfg: retry_max_attempts must be > 0, got %d", c.RetryMaxAttempts)
	}
	return nil
}

// WriteTOML serializes cfg as TOML to path, for `parquedb config init`-style
// workflows that materialize a starting config file.
func WriteTOML(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}
