package memory

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds tunables that do not change the allocator's correctness
// properties, only its footprint and verbosity. Zero-valued Config is the
// allocator's built-in, size-class-derived default for everything.
type Config struct {
	// CacheCapacity overrides the derived per-size-class thread cache
	// capacity, keyed by block size in bytes (e.g. "64" => 64-byte class).
	CacheCapacity map[string]int `toml:"cache_capacity"`

	// DescriptorChunkPages sets the minimum number of OS pages the
	// descriptor pool requests per growth, when its free stack runs dry.
	// A growth always maps at least enough pages for one slab of
	// descriptorsPerSlab descriptors, so smaller values have no effect.
	DescriptorChunkPages int `toml:"descriptor_chunk_pages"`

	// LogLevel is one of "debug", "info", "warn", "error"; empty leaves
	// the current logger unchanged (a disabled logger unless one was
	// installed earlier).
	LogLevel string `toml:"log_level"`
}

// LoadConfig reads and parses a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("memory: load config: %w", err)
	}
	return &c, nil
}

// Configure applies c to the default Allocator: it overrides per-class
// cache capacities, sets the descriptor-pool growth chunk, and installs a
// zap logger at the requested level. Configure never touches in-flight
// superblocks or caches; capacity overrides take effect the next time a
// Cache fills, frees into, or flushes that class.
func Configure(c *Config) error {
	if c == nil {
		return nil
	}

	if c.LogLevel != "" {
		level, err := zapcore.ParseLevel(c.LogLevel)
		if err != nil {
			return fmt.Errorf("memory: configure: %w", err)
		}
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		l, err := zc.Build()
		if err != nil {
			return fmt.Errorf("memory: configure: %w", err)
		}
		SetLogger(l)
	}

	if c.DescriptorChunkPages > 0 {
		Default.descPool.setChunkPages(c.DescriptorChunkPages)
	}

	if len(c.CacheCapacity) > 0 {
		for key, capacity := range c.CacheCapacity {
			sc := Default.classIndexForKey(key)
			if sc > 0 {
				Default.heaps[sc].setCacheCapacityOverride(capacity)
			}
		}
	}
	return nil
}

// WatchConfig loads path once, applies it, then watches it for writes and
// re-applies on every change until stop is closed. Watch errors are
// logged, not returned, since a broken watch should not take down a
// process that is otherwise allocating fine.
func WatchConfig(path string, stop <-chan struct{}) error {
	c, err := LoadConfig(path)
	if err != nil {
		return err
	}
	if err := Configure(c); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("memory: watch config: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("memory: watch config: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				c, err := LoadConfig(path)
				if err != nil {
					currentLogger().Warnw("config reload failed", "path", path, "error", err)
					continue
				}
				if err := Configure(c); err != nil {
					currentLogger().Warnw("config apply failed", "path", path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				currentLogger().Warnw("config watch error", "error", err)
			case <-stop:
				return
			}
		}
	}()
	return nil
}
