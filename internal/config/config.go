// Package config provides configuration management for boxdrive.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// Config represents the complete boxdrive configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Mounting MountingConfig `yaml:"mounting"`
	Drives   DrivesConfig   `yaml:"drives"`
	Gamebox  GameboxConfig  `yaml:"gamebox"`
	DOSView  DOSViewConfig  `yaml:"dosview"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StorageConfig holds storage path configuration.
type StorageConfig struct {
	StatePath  string `yaml:"state_path"`
	ShadowPath string `yaml:"shadow_path"`
}

// MountingConfig holds disk image mounting configuration.
type MountingConfig struct {
	Backend     string   `yaml:"backend"`
	MountRoot   string   `yaml:"mount_root"`
	ReadOnly    bool     `yaml:"read_only"`
	HdiutilPath string   `yaml:"hdiutil_path"`
	Timeout     string   `yaml:"timeout"`
	VolumeDirs  []string `yaml:"volume_dirs"`
}

// DrivesConfig holds the defaults used when mounting drives.
type DrivesConfig struct {
	AvoidDriveC      bool `yaml:"avoid_drive_c"`
	KeepWithSameType bool `yaml:"keep_with_same_type"`
	UseShadowing     bool `yaml:"use_shadowing"`
	Replace          bool `yaml:"replace"`
}

// GameboxConfig holds gamebox configuration.
type GameboxConfig struct {
	WritableTTL string `yaml:"writable_ttl"`
}

// DOSViewConfig holds configuration for the FUSE view of mounted drives.
type DOSViewConfig struct {
	MountPath      string   `yaml:"mount_path"`
	HiddenPatterns []string `yaml:"hidden_patterns"`
	AllowOther     bool     `yaml:"allow_other"`
	EntryTimeout   string   `yaml:"entry_timeout"`
	AttrTimeout    string   `yaml:"attr_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			StatePath:  "/tmp/boxdrive/state",
			ShadowPath: "/tmp/boxdrive/shadow",
		},
		Mounting: MountingConfig{
			Backend:     "auto",
			MountRoot:   "/tmp/boxdrive/volumes",
			ReadOnly:    true,
			HdiutilPath: "hdiutil",
			Timeout:     "60s",
			VolumeDirs:  []string{"/Volumes", "/media", "/run/media"},
		},
		Drives: DrivesConfig{
			UseShadowing: true,
		},
		Gamebox: GameboxConfig{
			WritableTTL: "3s",
		},
		DOSView: DOSViewConfig{
			MountPath:      "/tmp/boxdrive/dos",
			HiddenPatterns: []string{".*", "*.tmp"},
			EntryTimeout:   "1s",
			AttrTimeout:    "1s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file, or returns default if file doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// GetTimeout returns the mount timeout as a time.Duration.
func (c *MountingConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// MountOptions converts the drive defaults into mount options.
func (c *DrivesConfig) MountOptions() types.MountOptions {
	return types.MountOptions{
		Replace:          c.Replace,
		AvoidDriveC:      c.AvoidDriveC,
		KeepWithSameType: c.KeepWithSameType,
		UseShadowing:     c.UseShadowing,
	}
}

// GetWritableTTL returns how long gamebox writability checks are cached.
func (c *GameboxConfig) GetWritableTTL() time.Duration {
	d, err := time.ParseDuration(c.WritableTTL)
	if err != nil {
		return 3 * time.Second
	}
	return d
}

// GetEntryTimeout returns the FUSE entry cache timeout.
func (c *DOSViewConfig) GetEntryTimeout() time.Duration {
	d, err := time.ParseDuration(c.EntryTimeout)
	if err != nil {
		return time.Second
	}
	return d
}

// GetAttrTimeout returns the FUSE attribute cache timeout.
func (c *DOSViewConfig) GetAttrTimeout() time.Duration {
	d, err := time.ParseDuration(c.AttrTimeout)
	if err != nil {
		return time.Second
	}
	return d
}
