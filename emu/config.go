package emu

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/armsim/insts"
)

// Decode cache policies.
const (
	CachePolicyFlush = "flush"
	CachePolicyLRU   = "lru"
)

// Config holds the engine settings. It is copied into the Emulator at
// construction and never changes afterwards.
type Config struct {
	// PCReadOffset is added to the address of the current instruction when
	// PC is read. Either 0 or 8. Default: 8.
	PCReadOffset uint32 `json:"pc_read_offset"`

	// PCSpecialBehavior adds another 4 when PC is stored by STR/STM or used
	// as a register-specified shift operand. Default: false.
	PCSpecialBehavior bool `json:"pc_special_behavior"`

	// RunMaxIterations bounds every Step call. Default: 2500.
	RunMaxIterations uint64 `json:"run_max_iterations"`

	// MaxHistoryDepth is the number of cycles that can be stepped back.
	// Default: 1000.
	MaxHistoryDepth int `json:"max_history_depth"`

	// FillValue initializes declared but uninitialized memory. It is used
	// by the loader. Default: 0xFF.
	FillValue uint8 `json:"fill_value"`

	// AllowUserModeSwitch lets MSR change the mode bits from User mode.
	// Default: true.
	AllowUserModeSwitch bool `json:"allow_user_mode_switch"`

	// DecodeCachePolicy is either "flush" (a map emptied once it holds more
	// than DecodeCacheLimit entries) or "lru". Default: "flush".
	DecodeCachePolicy string `json:"decode_cache_policy"`

	// DecodeCacheLimit is the FlushCache capacity. Default: 2000.
	DecodeCacheLimit int `json:"decode_cache_limit"`

	// DecodeCacheSets and DecodeCacheWays shape the LRU cache.
	// Defaults: 256 sets, 8 ways.
	DecodeCacheSets int `json:"decode_cache_sets"`
	DecodeCacheWays int `json:"decode_cache_ways"`
}

// DefaultConfig returns the settings the debugger ships with.
func DefaultConfig() *Config {
	return &Config{
		PCReadOffset:        8,
		PCSpecialBehavior:   false,
		RunMaxIterations:    2500,
		MaxHistoryDepth:     1000,
		FillValue:           0xFF,
		AllowUserModeSwitch: true,
		DecodeCachePolicy:   CachePolicyFlush,
		DecodeCacheLimit:    insts.DefaultCacheLimit,
		DecodeCacheSets:     256,
		DecodeCacheWays:     8,
	}
}

// LoadConfig loads a Config from a JSON file. Missing fields keep their
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return config, nil
}

// SaveConfig writes a Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that all values are in range.
func (c *Config) Validate() error {
	if c.PCReadOffset != 0 && c.PCReadOffset != 8 {
		return fmt.Errorf("pc_read_offset must be 0 or 8")
	}
	if c.RunMaxIterations == 0 {
		return fmt.Errorf("run_max_iterations must be > 0")
	}
	if c.MaxHistoryDepth <= 0 {
		return fmt.Errorf("max_history_depth must be > 0")
	}
	switch c.DecodeCachePolicy {
	case CachePolicyFlush:
		if c.DecodeCacheLimit <= 0 {
			return fmt.Errorf("decode_cache_limit must be > 0")
		}
	case CachePolicyLRU:
		if c.DecodeCacheSets <= 0 || c.DecodeCacheWays <= 0 {
			return fmt.Errorf("decode_cache_sets and decode_cache_ways must be > 0")
		}
	default:
		return fmt.Errorf("unknown decode_cache_policy %q", c.DecodeCachePolicy)
	}
	return nil
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// NewDecodeCache builds the decode cache selected by the config.
func (c *Config) NewDecodeCache() insts.DecodeCache {
	if c.DecodeCachePolicy == CachePolicyLRU {
		return insts.NewLRUCache(c.DecodeCacheSets, c.DecodeCacheWays)
	}
	return insts.NewFlushCache(c.DecodeCacheLimit)
}
