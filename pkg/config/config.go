// Package config loads and validates a shard process's runtime
// configuration via struct tags.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate is a singleton validator instance.
var validate = validator.New()

// Config is a shard process's full runtime configuration, loaded from YAML
// and struct-tag validated.
type Config struct {
	// ListenAddr is the TCP address the wire server binds, e.g. "0.0.0.0:7070".
	ListenAddr string `yaml:"listen_addr" validate:"required,hostname_port"`

	// DataDir is the directory each collection's tree is rooted under.
	DataDir string `yaml:"data_dir" validate:"required"`

	// PageSize is the fixed page size in bytes. The on-disk layout is
	// compiled against pagecache.PageSize; this field exists so a config
	// written for a differently-built binary is rejected at startup
	// instead of silently misreading its files.
	PageSize int `yaml:"page_size" validate:"required,min=512"`

	// PageCacheCapacity is the shared page cache's bound, in pages.
	PageCacheCapacity int `yaml:"page_cache_capacity" validate:"required,min=1"`

	// TreeCapacity is the hard memtable capacity (entries).
	TreeCapacity int `yaml:"tree_capacity" validate:"required,min=1"`

	// SyncWALFile enables fdatasync after every WAL write.
	SyncWALFile bool `yaml:"sync_wal_file"`

	// WALCompression enables snappy framing of WAL record payloads.
	WALCompression bool `yaml:"wal_compression"`

	// JWTSecret authenticates every non-metadata wire request.
	JWTSecret string `yaml:"jwt_secret" validate:"required,min=16"`

	// ColdStore configures optional S3 archival of compacted SSTables.
	// A zero-value Bucket leaves archival disabled.
	ColdStore ColdStoreConfig `yaml:"cold_store"`

	// ReplicationFactor is the number of replicas the ring resolves a key
	// to; reported to clients via get_cluster_metadata.
	ReplicationFactor int `yaml:"replication_factor" validate:"required,min=1"`

	// ClusterNodes is the full membership list reported to clients via
	// get_cluster_metadata, including this shard's own address.
	ClusterNodes []NodeAddr `yaml:"cluster_nodes" validate:"required,min=1,dive"`
}

// NodeAddr is one cluster member's dial address.
type NodeAddr struct {
	IP   string `yaml:"ip" validate:"required"`
	Port int    `yaml:"port" validate:"required"`
}

// ColdStoreConfig is the S3 archival sub-section of Config.
type ColdStoreConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Default returns a Config with the system's baseline values: PAGE_SIZE=4096,
// TREE_CAPACITY=4096, sync/compression off by default.
func Default() Config {
	return Config{
		ListenAddr:        "0.0.0.0:7070",
		DataDir:           "./data",
		PageSize:          4096,
		PageCacheCapacity: 16384,
		TreeCapacity:      4096,
		SyncWALFile:       false,
		WALCompression:    false,
		ReplicationFactor: 1,
	}
}

// Load reads and validates a Config from the YAML file at path, starting
// from Default() so unset fields retain their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, formatValidationError(err)
	}
	return cfg, nil
}

// formatValidationError converts the first struct-tag validation failure
// into a user-friendly message.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("config: %w", err)
	}

	for _, e := range validationErrs {
		switch e.Tag() {
		case "required":
			return fmt.Errorf("config: %s is required", e.Field())
		case "min":
			return fmt.Errorf("config: %s must be at least %s", e.Field(), e.Param())
		case "hostname_port":
			return fmt.Errorf("config: %s must be a host:port address", e.Field())
		default:
			return fmt.Errorf("config: %s failed validation (%s)", e.Field(), e.Tag())
		}
	}
	return err
}
