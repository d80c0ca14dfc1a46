// Package config loads tracefold.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"tracefold/internal/extsort"
	"tracefold/internal/store"
	"tracefold/internal/tracefile"
)

// FileName is the configuration file looked up from the working directory.
const FileName = "tracefold.toml"

var (
	// ErrUnknownKey is returned for keys the file defines but tracefold
	// does not know.
	ErrUnknownKey = errors.New("unknown configuration key")
	ErrInvalid    = errors.New("invalid configuration value")
)

type Config struct {
	// Path is the file the configuration came from, empty for defaults.
	Path  string      `toml:"-"`
	Sort  SortConfig  `toml:"sort"`
	Parse ParseConfig `toml:"parse"`
	Store StoreConfig `toml:"store"`
	Cache CacheConfig `toml:"cache"`
	Log   LogConfig   `toml:"log"`
	Serve ServeConfig `toml:"serve"`
	Run   RunConfig   `toml:"run"`
}

type SortConfig struct {
	ChunkSize int    `toml:"chunk_size"`
	TempDir   string `toml:"temp_dir"`
	// Index checkpoint spacing in the sorted trace.
	CheckpointInterval int `toml:"checkpoint_interval"`
}

type ParseConfig struct {
	Strict bool `toml:"strict"`
}

type StoreConfig struct {
	CheckpointInterval int `toml:"checkpoint_interval"`
}

type CacheConfig struct {
	Dir string `toml:"dir"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServeConfig struct {
	Addr string `toml:"addr"`
}

type RunConfig struct {
	Jobs int `toml:"jobs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Sort: SortConfig{
			ChunkSize:          extsort.DefaultChunkSize,
			CheckpointInterval: tracefile.DefaultCheckpointInterval,
		},
		Parse: ParseConfig{Strict: true},
		Store: StoreConfig{CheckpointInterval: store.DefaultCheckpointInterval},
		Cache: CacheConfig{Dir: DefaultCacheDir()},
		Log:   LogConfig{Level: "warn", Format: "text"},
		Serve: ServeConfig{Addr: "127.0.0.1:7420"},
		Run:   RunConfig{Jobs: runtime.GOMAXPROCS(0)},
	}
}

// DefaultCacheDir is $XDG_CACHE_HOME/tracefold, falling back to the user
// cache directory and finally the system temp directory.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "tracefold")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "tracefold")
	}
	return filepath.Join(os.TempDir(), "tracefold-cache")
}

// Find walks up from startDir looking for tracefold.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads path, or the file found from the working directory when path
// is empty. Missing files yield defaults.
func Load(path string) (Config, error) {
	if path == "" {
		found, ok, err := Find(".")
		if err != nil {
			return Config{}, err
		}
		if !ok {
			return Default(), nil
		}
		path = found
	}
	return LoadFile(path)
}

// LoadFile decodes one file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	var file Config
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: %w: %s", path, ErrUnknownKey, strings.Join(keys, ", "))
	}
	cfg.Path = path

	if meta.IsDefined("sort", "chunk_size") {
		cfg.Sort.ChunkSize = file.Sort.ChunkSize
	}
	if meta.IsDefined("sort", "temp_dir") {
		cfg.Sort.TempDir = file.Sort.TempDir
	}
	if meta.IsDefined("sort", "checkpoint_interval") {
		cfg.Sort.CheckpointInterval = file.Sort.CheckpointInterval
	}
	if meta.IsDefined("parse", "strict") {
		cfg.Parse.Strict = file.Parse.Strict
	}
	if meta.IsDefined("store", "checkpoint_interval") {
		cfg.Store.CheckpointInterval = file.Store.CheckpointInterval
	}
	if meta.IsDefined("cache", "dir") {
		cfg.Cache.Dir = expandHome(file.Cache.Dir)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = file.Log.Level
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = file.Log.Format
	}
	if meta.IsDefined("serve", "addr") {
		cfg.Serve.Addr = file.Serve.Addr
	}
	if meta.IsDefined("run", "jobs") {
		cfg.Run.Jobs = file.Run.Jobs
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.Sort.ChunkSize <= 0:
		return fmt.Errorf("%w: [sort].chunk_size must be positive", ErrInvalid)
	case c.Sort.CheckpointInterval <= 0:
		return fmt.Errorf("%w: [sort].checkpoint_interval must be positive", ErrInvalid)
	case c.Store.CheckpointInterval <= 0:
		return fmt.Errorf("%w: [store].checkpoint_interval must be positive", ErrInvalid)
	case c.Run.Jobs < 0:
		return fmt.Errorf("%w: [run].jobs must not be negative", ErrInvalid)
	case strings.TrimSpace(c.Cache.Dir) == "":
		return fmt.Errorf("%w: [cache].dir is empty", ErrInvalid)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: [log].format must be text or json", ErrInvalid)
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
