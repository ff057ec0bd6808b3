/*
Package config loads pipeline configuration from a JSON file with
environment overrides.

PURPOSE:
  Deployments differ only in data: which stores to process, where the
  database and exclusion log live, when the schedule fires. All of that is
  a JSON document plus a handful of environment variables - no code changes
  to add a store.

JSON SCHEMA:
  {
    "db_path": "./data/stock.db",
    "exclusions_csv": "./data/exclusions.csv",
    "epoch": "2024-10-26",
    "abs_max": 1000000,
    "cron_spec": "15 2 * * *",
    "port": 8080,
    "stores": [
      {"name": "downtown", "store_id": 1},
      {"name": "harbor", "store_id": 2}
    ]
  }

ENVIRONMENT OVERRIDES (highest precedence; .env is loaded if present):
  STOCK_DB_PATH, STOCK_EXCLUSIONS_CSV, STOCK_EPOCH, STOCK_ABS_MAX,
  STOCK_CRON_SPEC, STOCK_PORT

DEFAULTS:
  Missing fields get sensible defaults. The store list is validated: it must
  be non-empty with unique, non-empty names, because a pipeline with nothing
  to process is a deployment mistake.
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/osmart/stock-ledger/exclusions"
	"github.com/osmart/stock-ledger/ledger"
)

// DefaultEpoch is the first day balances are reconstructed from when a
// config does not pin one. Everything before it is assumed zero.
var DefaultEpoch = ledger.NewDay(2024, 10, 26)

// StoreSource names one logical store to process.
type StoreSource struct {
	Name    string `json:"name"`
	StoreID int    `json:"store_id"`
}

// Config is the full pipeline configuration.
type Config struct {
	DBPath        string        `json:"db_path"`
	ExclusionsCSV string        `json:"exclusions_csv"`
	Epoch         ledger.Day    `json:"epoch"`
	AbsMax        int64         `json:"abs_max"`
	CronSpec      string        `json:"cron_spec"`
	Port          int           `json:"port"`
	Stores        []StoreSource `json:"stores"`
}

// Load reads the JSON config at path, applies environment overrides, and
// fills defaults. An empty path skips the file and builds the config from
// environment and defaults alone.
func Load(path string) (*Config, error) {
	// Best-effort: absence of a .env file is the normal case.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("STOCK_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("STOCK_EXCLUSIONS_CSV"); v != "" {
		c.ExclusionsCSV = v
	}
	if v := os.Getenv("STOCK_EPOCH"); v != "" {
		d, err := ledger.ParseDay(v)
		if err != nil {
			return fmt.Errorf("invalid STOCK_EPOCH: %w", err)
		}
		c.Epoch = d
	}
	if v := os.Getenv("STOCK_ABS_MAX"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid STOCK_ABS_MAX: %w", err)
		}
		c.AbsMax = n
	}
	if v := os.Getenv("STOCK_CRON_SPEC"); v != "" {
		c.CronSpec = v
	}
	if v := os.Getenv("STOCK_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid STOCK_PORT: %w", err)
		}
		c.Port = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "stock.db"
	}
	if c.ExclusionsCSV == "" {
		c.ExclusionsCSV = "exclusions.csv"
	}
	if c.Epoch.IsZero() {
		c.Epoch = DefaultEpoch
	}
	if c.AbsMax <= 0 {
		c.AbsMax = exclusions.DefaultAbsMax
	}
	if c.CronSpec == "" {
		c.CronSpec = "15 2 * * *" // nightly, after upstream closes its books
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

func (c *Config) validate() error {
	if len(c.Stores) == 0 {
		return fmt.Errorf("config: at least one store is required")
	}
	seen := make(map[string]bool, len(c.Stores))
	for _, s := range c.Stores {
		if s.Name == "" {
			return fmt.Errorf("config: store with id %d has no name", s.StoreID)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate store name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
