package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	_, err := Load("/nonexistent/path/rstar.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
	// Load with empty path uses default search (may use defaults if no config file)
	cfg, _ := Load("")
	if cfg.Index.PageSize != 4096 {
		t.Errorf("default page_size: got %d", cfg.Index.PageSize)
	}
	if cfg.Index.MinFill != 0.4 {
		t.Errorf("default min_fill: got %v", cfg.Index.MinFill)
	}
	if cfg.Index.ReinsertFraction != 0.3 {
		t.Errorf("default reinsert_fraction: got %v", cfg.Index.ReinsertFraction)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("default backend: got %s", cfg.Storage.Backend)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Index.Insertion != "combined" || cfg.Index.Overflow != "limited-reinsert" {
		t.Errorf("default strategies: %s / %s", cfg.Index.Insertion, cfg.Index.Overflow)
	}
	if cfg.Index.BulkSplit != "str" || cfg.Index.Split != "topological" {
		t.Errorf("default splits: bulk %q, split %q", cfg.Index.BulkSplit, cfg.Index.Split)
	}
	if cfg.Storage.CacheSize != 1024 {
		t.Errorf("default cache_size: got %d", cfg.Storage.CacheSize)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
index:
  dimensions: 3
  leaf_capacity: 16
  dir_capacity: 8
  min_fill: 0.3
  reinsert_fraction: 0.25
  overflow: split
  distance: manhattan
  check_integrity: true
storage:
  backend: sqlite
  path: "test_data/pages.db"
  cache_size: 64
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Index.Dimensions != 3 {
		t.Errorf("dimensions: got %d", cfg.Index.Dimensions)
	}
	if cfg.Index.LeafCapacity != 16 || cfg.Index.DirCapacity != 8 {
		t.Errorf("capacities: got %d/%d", cfg.Index.LeafCapacity, cfg.Index.DirCapacity)
	}
	if cfg.Index.ReinsertFraction != 0.25 {
		t.Errorf("reinsert_fraction: got %v", cfg.Index.ReinsertFraction)
	}
	if cfg.Index.Overflow != "split" || !cfg.Index.CheckIntegrity {
		t.Errorf("overflow/check: got %s/%v", cfg.Index.Overflow, cfg.Index.CheckIntegrity)
	}
	if cfg.Index.Reinsert != "far" {
		t.Errorf("unset reinsert should default to far, got %s", cfg.Index.Reinsert)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.CacheSize != 64 {
		t.Errorf("storage: got %s/%d", cfg.Storage.Backend, cfg.Storage.CacheSize)
	}
	if cfg.Storage.Relation != "memory" {
		t.Errorf("relation default: got %s", cfg.Storage.Relation)
	}
}

func TestInvalidFractionsFallBack(t *testing.T) {
	cfg := &Config{Index: IndexConfig{MinFill: 0.9, ReinsertFraction: 1.5}}
	applyDefaults(cfg)
	if cfg.Index.MinFill != 0.4 || cfg.Index.ReinsertFraction != 0.3 {
		t.Errorf("fractions: got %v/%v", cfg.Index.MinFill, cfg.Index.ReinsertFraction)
	}
}

func TestBulkSplitOptOut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nobulk.yaml")
	if err := os.WriteFile(path, []byte("index:\n  bulk_split: none\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Index.BulkSplit != "none" {
		t.Errorf("explicit none overridden: got %q", cfg.Index.BulkSplit)
	}

	cfg = &Config{}
	applyDefaults(cfg)
	if cfg.Index.BulkSplit != "str" {
		t.Errorf("applyDefaults bulk_split: got %q", cfg.Index.BulkSplit)
	}
}
