package configs

import (
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

var conLock = sync.Mutex{}

// ServerConfig is the JSON shape of the server config file.
type ServerConfig struct {
	Server struct {
		Address string `json:"address"`
	} `json:"server"`
	Database struct {
		Catalog string `json:"catalog"`
	} `json:"database"`
	Redis struct {
		Address string `json:"address"`
	} `json:"redis"`
	Transfer struct {
		OpTimeoutMS      int `json:"op_timeout_ms"`
		CommitApplyRetry int `json:"commit_apply_retry"`
		SweepAfterMS     int `json:"sweep_after_ms"`
		SweepIntervalMS  int `json:"sweep_interval_ms"`
	} `json:"transfer"`
}

// LoadConfig reads the config file and applies it to the global knobs.
// Missing file falls back to one directory up, then to the defaults.
func LoadConfig(path string) error {
	conLock.Lock()
	defer conLock.Unlock()
	if path == "" {
		path = ConfigFileLocation
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		raw, err = os.ReadFile("." + path)
	}
	if err != nil {
		return err
	}
	var cfg ServerConfig
	if err = json.Unmarshal(raw, &cfg); err != nil {
		return err
	}
	if cfg.Server.Address != "" {
		ChatServerAddress = cfg.Server.Address
	}
	if cfg.Database.Catalog != "" {
		CatalogConnInfo = cfg.Database.Catalog
	}
	if cfg.Redis.Address != "" {
		RedisAddress = cfg.Redis.Address
	}
	if cfg.Transfer.OpTimeoutMS > 0 {
		OpTimeout = time.Duration(cfg.Transfer.OpTimeoutMS) * time.Millisecond
	}
	if cfg.Transfer.CommitApplyRetry > 0 {
		CommitApplyRetry = cfg.Transfer.CommitApplyRetry
	}
	if cfg.Transfer.SweepAfterMS > 0 {
		SweepAfter = time.Duration(cfg.Transfer.SweepAfterMS) * time.Millisecond
	}
	if cfg.Transfer.SweepIntervalMS > 0 {
		SweepInterval = time.Duration(cfg.Transfer.SweepIntervalMS) * time.Millisecond
	}
	return nil
}
