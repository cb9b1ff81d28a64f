// Package config handles application configuration and saved hosts.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HostProfile stores connection settings for a saved host.
type HostProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Protocol string `json:"protocol"` // "sftp", "ftp" or "ftps"
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	// Passwords live in the credential store, never here.
	PrivateKeyPath   string    `json:"private_key_path,omitempty"`
	RemoteDir        string    `json:"remote_dir,omitempty"`
	FilenameEncoding string    `json:"filename_encoding,omitempty"`
	TLSImplicit      bool      `json:"tls_implicit,omitempty"`
	TLSSkipVerify    bool      `json:"tls_skip_verify,omitempty"`
	Timeout          int       `json:"timeout_seconds,omitempty"`
	LastUsed         time.Time `json:"last_used,omitempty"`
}

// Validate checks the fields needed to connect.
func (p HostProfile) Validate() error {
	switch p.Protocol {
	case "sftp", "ftp", "ftps":
	default:
		return fmt.Errorf("unsupported protocol %q", p.Protocol)
	}
	if p.Host == "" {
		return errors.New("host is required")
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d", p.Port)
	}
	return nil
}

// AppConfig holds the application configuration.
type AppConfig struct {
	Profiles             []HostProfile `json:"profiles"`
	MaxParallelTransfers int           `json:"max_parallel_transfers"`
	CacheTTLSeconds      int           `json:"cache_ttl_seconds"`
	CacheSize            int           `json:"cache_size"`
	ReconnectAttempts    int           `json:"reconnect_attempts"`
	ReconnectDelayMS     int           `json:"reconnect_delay_ms"`
	VirtualThreshold     int           `json:"virtual_threshold"`
	Overscan             int           `json:"overscan"`
	LogLevel             string        `json:"log_level"`
	LogPath              string        `json:"log_path"`
	Theme                string        `json:"theme"` // "light", "dark", "system"
	WindowWidth          int           `json:"window_width"`
	WindowHeight         int           `json:"window_height"`
	ShowHiddenFiles      bool          `json:"show_hidden_files"`
	DefaultLocalDir      string        `json:"default_local_dir"`
	// Bandwidth limit (bytes per second, 0 = unlimited)
	UploadRateLimit int64 `json:"upload_rate_limit"`
	// Desktop notifications
	EnableNotifications bool `json:"enable_notifications"`
}

// CacheTTL returns the directory cache lifetime.
func (c AppConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// ReconnectDelay returns the pause between reconnect attempts.
func (c AppConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// Dir returns the default configuration directory.
func Dir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "panesync")
}

// DefaultPath returns the default configuration file.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *AppConfig {
	homeDir, _ := os.UserHomeDir()

	return &AppConfig{
		Profiles:             make([]HostProfile, 0),
		MaxParallelTransfers: 4,
		CacheTTLSeconds:      10,
		CacheSize:            256,
		ReconnectAttempts:    3,
		ReconnectDelayMS:     1000,
		VirtualThreshold:     50,
		Overscan:             6,
		LogLevel:             "info",
		LogPath:              filepath.Join(Dir(), "logs", "panesync.log"),
		Theme:                "system",
		WindowWidth:          1280,
		WindowHeight:         800,
		DefaultLocalDir:      homeDir,
		EnableNotifications:  true,
	}
}

// ConfigManager handles loading and saving configuration.
type ConfigManager struct {
	config *AppConfig
	path   string
	mu     sync.RWMutex
}

// NewConfigManager loads configPath, falling back to defaults when the file
// does not exist yet.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	cm := &ConfigManager{path: configPath}

	if err := cm.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cm.config = DefaultConfig()
			return cm, nil
		}
		return nil, err
	}
	return cm, nil
}

// Path returns the file the configuration is stored in.
func (cm *ConfigManager) Path() string { return cm.path }

// Load reads the configuration from disk.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := os.ReadFile(cm.path)
	if err != nil {
		return err
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse %s: %w", cm.path, err)
	}
	config.normalize()
	cm.config = config
	return nil
}

// normalize replaces out-of-range values with defaults.
func (c *AppConfig) normalize() {
	def := DefaultConfig()
	if c.MaxParallelTransfers <= 0 {
		c.MaxParallelTransfers = def.MaxParallelTransfers
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = def.CacheTTLSeconds
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = def.ReconnectAttempts
	}
	if c.ReconnectDelayMS < 0 {
		c.ReconnectDelayMS = def.ReconnectDelayMS
	}
	if c.VirtualThreshold < 0 {
		c.VirtualThreshold = def.VirtualThreshold
	}
	if c.Overscan < 0 {
		c.Overscan = def.Overscan
	}
	if c.UploadRateLimit < 0 {
		c.UploadRateLimit = 0
	}
}

// Save writes the configuration to disk.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.save()
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() AppConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c := *cm.config
	c.Profiles = append([]HostProfile(nil), cm.config.Profiles...)
	return c
}

// Set updates the configuration.
func (cm *ConfigManager) Set(config *AppConfig) error {
	config.normalize()
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.config = config
	return cm.save()
}

// AddProfile adds a host profile and returns its id.
func (cm *ConfigManager) AddProfile(profile HostProfile) (string, error) {
	if err := profile.Validate(); err != nil {
		return "", err
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	cm.config.Profiles = append(cm.config.Profiles, profile)
	return profile.ID, cm.save()
}

// UpdateProfile replaces the profile with the same id.
func (cm *ConfigManager) UpdateProfile(profile HostProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for i, p := range cm.config.Profiles {
		if p.ID == profile.ID {
			cm.config.Profiles[i] = profile
			return cm.save()
		}
	}
	return fmt.Errorf("profile not found: %s", profile.ID)
}

// DeleteProfile removes a profile by id.
func (cm *ConfigManager) DeleteProfile(id string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for i, p := range cm.config.Profiles {
		if p.ID == id {
			cm.config.Profiles = append(cm.config.Profiles[:i], cm.config.Profiles[i+1:]...)
			return cm.save()
		}
	}
	return nil
}

// GetProfile returns a profile by id.
func (cm *ConfigManager) GetProfile(id string) (HostProfile, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, p := range cm.config.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return HostProfile{}, false
}

// GetProfiles returns all profiles.
func (cm *ConfigManager) GetProfiles() []HostProfile {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return append([]HostProfile(nil), cm.config.Profiles...)
}

// UpdateLastUsed stamps a profile as just used.
func (cm *ConfigManager) UpdateLastUsed(id string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for i, p := range cm.config.Profiles {
		if p.ID == id {
			cm.config.Profiles[i].LastUsed = time.Now()
			return cm.save()
		}
	}
	return nil
}

// save writes config without locking (caller must hold lock).
func (cm *ConfigManager) save() error {
	if err := os.MkdirAll(filepath.Dir(cm.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cm.path, data, 0600)
}
