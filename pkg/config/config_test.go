package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validClusterNodes = `
cluster_nodes:
  - ip: "127.0.0.1"
    port: 7070
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "shard.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTempConfig(t, `
listen_addr: "127.0.0.1:7070"
data_dir: "/tmp/shard"
jwt_secret: "0123456789abcdef"
replication_factor: 3
`+validClusterNodes)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PageSize != 4096 || cfg.TreeCapacity != 4096 || cfg.PageCacheCapacity != 16384 {
		t.Fatalf("expected defaults to survive partial override, got %+v", cfg)
	}
	if cfg.ReplicationFactor != 3 {
		t.Fatalf("expected replication_factor 3, got %d", cfg.ReplicationFactor)
	}
	if len(cfg.ClusterNodes) != 1 || cfg.ClusterNodes[0].Port != 7070 {
		t.Fatalf("expected one cluster node on port 7070, got %+v", cfg.ClusterNodes)
	}
}

func TestLoad_RejectsMissingJWTSecret(t *testing.T) {
	path := writeTempConfig(t, `
listen_addr: "127.0.0.1:7070"
data_dir: "/tmp/shard"
replication_factor: 1
`+validClusterNodes)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure for missing jwt_secret")
	}
}

func TestLoad_RejectsShortJWTSecret(t *testing.T) {
	path := writeTempConfig(t, `
listen_addr: "127.0.0.1:7070"
data_dir: "/tmp/shard"
jwt_secret: "short"
replication_factor: 1
`+validClusterNodes)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure for too-short jwt_secret")
	}
}

func TestLoad_RejectsMalformedListenAddr(t *testing.T) {
	path := writeTempConfig(t, `
listen_addr: "not-a-host-port"
data_dir: "/tmp/shard"
jwt_secret: "0123456789abcdef"
replication_factor: 1
`+validClusterNodes)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure for malformed listen_addr")
	}
}

func TestLoad_RejectsEmptyClusterNodes(t *testing.T) {
	path := writeTempConfig(t, `
listen_addr: "127.0.0.1:7070"
data_dir: "/tmp/shard"
jwt_secret: "0123456789abcdef"
replication_factor: 1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure for empty cluster_nodes")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error reading a nonexistent file")
	}
}
