// Package config handles loading and managing sriracha configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the sriracha configuration.
type Config struct {
	Index  IndexConfig  `toml:"index"`
	Build  BuildConfig  `toml:"build"`
	Search SearchConfig `toml:"search"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// IndexConfig holds index placement configuration.
type IndexConfig struct {
	// Dir, if set, collects index files in one directory instead of placing
	// each beside its archive.
	Dir string `toml:"dir"`
}

// BuildConfig holds index build configuration.
type BuildConfig struct {
	// MaxMessageMB limits a single message read from an archive, in MiB.
	MaxMessageMB int64 `toml:"max_message_mb"`
}

// SearchConfig holds result presentation configuration.
type SearchConfig struct {
	// Limit is the default maximum number of results per query.
	Limit int `toml:"limit"`
}

// DefaultHome returns the default sriracha home directory.
// Respects the SRIRACHA_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("SRIRACHA_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sriracha"
	}
	return filepath.Join(home, ".sriracha")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.sriracha/config.toml).
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		Build: BuildConfig{
			MaxMessageMB: 128,
		},
		Search: SearchConfig{
			Limit: 50,
		},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Index.Dir = expandPath(cfg.Index.Dir)
	return cfg, nil
}

// IndexPathFor returns where the index for an archive should live: inside the
// configured index directory when one is set, beside the archive otherwise.
// The empty return means "use the derived default".
func (c *Config) IndexPathFor(archivePath string) string {
	if c.Index.Dir == "" {
		return ""
	}
	base := filepath.Base(archivePath)
	return filepath.Join(c.Index.Dir, base+".sriracha.db")
}

// MaxMessageBytes returns the configured per-message size limit in bytes.
func (c *Config) MaxMessageBytes() int64 {
	if c.Build.MaxMessageMB <= 0 {
		return 0
	}
	return c.Build.MaxMessageMB << 20
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
