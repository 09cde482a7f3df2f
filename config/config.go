// Package config loads the runtime settings a zerobuffer process needs
// before it can create or attach to any buffer: where shared memory and
// lock files live, and the default sizes new buffers get. Grounded on the
// teacher's own config/config.go TOML loader and its ALEPH_FEEDER_CONFIG
// env override, carried forward here as ZEROBUFFER_CONFIG.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/AlephTX/zerobuffer"
	"github.com/AlephTX/zerobuffer/internal/platform"
)

// defaultConfigPath mirrors the teacher's hardcoded fallback path style.
const defaultConfigPath = "zerobuffer.toml"

// configPathEnv overrides defaultConfigPath, the way ALEPH_FEEDER_CONFIG
// overrides the teacher's config path.
const configPathEnv = "ZEROBUFFER_CONFIG"

// RuntimeConfig describes where a process's buffers live and how big a new
// buffer is by default.
type RuntimeConfig struct {
	ShmDir            string `toml:"shm_dir"`
	RunDir            string `toml:"run_dir"`
	DefaultMetadataSize uint64 `toml:"default_metadata_size"`
	DefaultPayloadSize  uint64 `toml:"default_payload_size"`
}

// Namespace builds the platform.Namespace this config describes, falling
// back to platform.DefaultNamespace's fields for anything left zero.
func (c RuntimeConfig) Namespace() platform.Namespace {
	def := platform.DefaultNamespace()
	ns := platform.Namespace{ShmDir: c.ShmDir, RunDir: c.RunDir}
	if ns.ShmDir == "" {
		ns.ShmDir = def.ShmDir
	}
	if ns.RunDir == "" {
		ns.RunDir = def.RunDir
	}
	return ns
}

// BufferConfig builds the zerobuffer.BufferConfig this config describes,
// falling back to zerobuffer.DefaultBufferConfig for anything left zero.
func (c RuntimeConfig) BufferConfig() zerobuffer.BufferConfig {
	cfg := zerobuffer.DefaultBufferConfig
	if c.DefaultMetadataSize != 0 {
		cfg.MetadataSize = c.DefaultMetadataSize
	}
	if c.DefaultPayloadSize != 0 {
		cfg.PayloadSize = c.DefaultPayloadSize
	}
	return cfg
}

// Load reads a .env file (if present, via godotenv, silently ignored if
// absent — local-dev convenience only) and then a TOML RuntimeConfig from
// path, or from the configPathEnv override, or from defaultConfigPath if
// neither exists. A missing config file is not an error: Load returns the
// zero RuntimeConfig, which Namespace/BufferConfig turn into the built-in
// defaults.
func Load(path string) (RuntimeConfig, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path == "" {
		path = defaultConfigPath
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeConfig{}, nil
		}
		return RuntimeConfig{}, err
	}

	var c RuntimeConfig
	if err := toml.Unmarshal(b, &c); err != nil {
		return RuntimeConfig{}, err
	}
	return c, nil
}
