// Package config loads the disk layer settings from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	c "blkio/internal"
	"blkio/internal/iomgr"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Backend		string	`yaml:"backend"`
	Direct		bool	`yaml:"direct"`
	BlockSize	uint64	`yaml:"block_size"`
	RingEntries	uint32	`yaml:"ring_entries"`
	RingCPU		int		`yaml:"ring_cpu"`
	PoolWorkers	int		`yaml:"pool_workers"`
	DumpWrites	bool	`yaml:"dump_writes"`
	LogLevel	string	`yaml:"log_level"`
}

func Default() Config {
	return Config{
		Backend:		iomgr.BackendUring.String(),
		Direct:			true,
		BlockSize:		c.DEVICE_BLOCK_SIZE,
		RingEntries:	iomgr.RING_ENTRIES,
		RingCPU:		-1,
		PoolWorkers:	iomgr.POOL_WORKERS,
		LogLevel:		"info",
	}
}

// Load reads path over the defaults. Keys missing from the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (cfg Config) Validate() error {
	if _, err := iomgr.ParseBackendKind(cfg.Backend); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if !c.IsPow2(cfg.BlockSize) || cfg.BlockSize < c.MIN_BLOCK_SIZE {
		return fmt.Errorf("%w: block_size %d is not a power of two >= %d", ErrInvalid, cfg.BlockSize, c.MIN_BLOCK_SIZE)
	}
	if !c.IsPow2(uint64(cfg.RingEntries)) {
		return fmt.Errorf("%w: ring_entries %d is not a power of two", ErrInvalid, cfg.RingEntries)
	}
	if cfg.PoolWorkers < 1 {
		return fmt.Errorf("%w: pool_workers must be >= 1", ErrInvalid)
	}
	if _, err := cfg.Level(); err != nil {
		return err
	}
	return nil
}

func (cfg Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(cfg.LogLevel))); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalid, cfg.LogLevel)
	}
	return lvl, nil
}

// DiskOptions turns a validated config into disk manager options.
func (cfg Config) DiskOptions() iomgr.Options {
	opts := iomgr.DefaultOptions()
	opts.Backend, _ = iomgr.ParseBackendKind(cfg.Backend)
	opts.RingEntries = cfg.RingEntries
	opts.RingCPU = cfg.RingCPU
	opts.PoolWorkers = cfg.PoolWorkers
	opts.DumpWrites = cfg.DumpWrites
	return opts
}
