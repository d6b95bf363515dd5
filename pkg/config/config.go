package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Storage StorageConfig `yaml:"storage"`
}

type IndexConfig struct {
	Dimensions       int     `yaml:"dimensions"`        // 0: taken from the first inserted object
	PageSize         int     `yaml:"page_size"`         // bytes, used to derive capacities
	LeafCapacity     int     `yaml:"leaf_capacity"`     // 0: derived from page_size
	DirCapacity      int     `yaml:"dir_capacity"`      // 0: derived from page_size
	MinFill          float64 `yaml:"min_fill"`          // fraction of capacity
	ReinsertFraction float64 `yaml:"reinsert_fraction"` // share of entries reinserted on overflow
	Insertion        string  `yaml:"insertion"`         // combined | least-enlargement | least-overlap
	Overflow         string  `yaml:"overflow"`          // limited-reinsert | split
	Reinsert         string  `yaml:"reinsert"`          // far | close
	Split            string  `yaml:"split"`             // topological
	BulkSplit        string  `yaml:"bulk_split"`        // str | zcurve | onedim | none
	Distance         string  `yaml:"distance"`          // euclidean, manhattan, chebyshev, minkowski-<p>
	CheckIntegrity   bool    `yaml:"check_integrity"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend"` // memory | sqlite | log | snapshot
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"` // decoded nodes kept by the paged store
	Relation  string `yaml:"relation"`   // memory | sqlite
}

func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Index: IndexConfig{
			PageSize:         4096,
			MinFill:          0.4,
			ReinsertFraction: 0.3,
			Insertion:        "combined",
			Overflow:         "limited-reinsert",
			Reinsert:         "far",
			Split:            "topological",
			BulkSplit:        "str",
			Distance:         "euclidean",
		},
		Storage: StorageConfig{
			Backend:   "memory",
			Path:      "rstar_data",
			CacheSize: 1024,
			Relation:  "memory",
		},
	}

	if configPath == "" {
		for _, p := range []string{"configs/rstar.yaml", "rstar.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the built-in configuration without touching the filesystem.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	applyIndexDefaults(cfg)
	applyStorageDefaults(cfg)
}

func applyIndexDefaults(cfg *Config) {
	if cfg.Index.PageSize <= 0 {
		cfg.Index.PageSize = 4096
	}
	if cfg.Index.MinFill <= 0 || cfg.Index.MinFill > 0.5 {
		cfg.Index.MinFill = 0.4
	}
	if cfg.Index.ReinsertFraction <= 0 || cfg.Index.ReinsertFraction >= 1 {
		cfg.Index.ReinsertFraction = 0.3
	}
	if cfg.Index.Insertion == "" {
		cfg.Index.Insertion = "combined"
	}
	if cfg.Index.Overflow == "" {
		cfg.Index.Overflow = "limited-reinsert"
	}
	if cfg.Index.Reinsert == "" {
		cfg.Index.Reinsert = "far"
	}
	if cfg.Index.Split == "" {
		cfg.Index.Split = "topological"
	}
	// "none" turns bulk loading off explicitly.
	if cfg.Index.BulkSplit == "" {
		cfg.Index.BulkSplit = "str"
	}
	if cfg.Index.Distance == "" {
		cfg.Index.Distance = "euclidean"
	}
}

func applyStorageDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "rstar_data"
	}
	if cfg.Storage.CacheSize <= 0 {
		cfg.Storage.CacheSize = 1024
	}
	if cfg.Storage.Relation == "" {
		cfg.Storage.Relation = "memory"
	}
}
