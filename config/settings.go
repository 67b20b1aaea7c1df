package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server   ServerSettings   `json:"server"`
	Database DatabaseSettings `json:"database"`
	Resolver ResolverSettings `json:"resolver"`
	Cache    CacheSettings    `json:"cache"`
	Devices  DeviceSettings   `json:"devices"`
	Log      LogConfig        `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// AuthSecret signs bearer tokens. Generated and persisted on first boot
	// when empty.
	AuthSecret string `json:"authSecret,omitempty"`
}

// DatabaseSettings defines where the SQLite document store lives.
type DatabaseSettings struct {
	Path string `json:"path"`
}

// ResolverSettings configures the upstream stream-resolution gateways.
// BaseURLs lists functionally identical endpoints (primary + mirrors); per
// request the order is shuffled and endpoints are tried until one answers.
type ResolverSettings struct {
	APIKey           string   `json:"apiKey"`
	BaseURLs         []string `json:"baseUrls"`
	TimeoutSeconds   int      `json:"timeoutSeconds"`
	Version          int      `json:"version"`
	ProviderPriority []string `json:"providerPriority,omitempty"`
}

// CacheSettings governs the stream cache read path and retention.
// FreshnessHours is the window during which a cached entry short-circuits
// live resolution; RetentionDays is how long entries survive before the
// reaper deletes them outright.
type CacheSettings struct {
	FreshnessHours    int `json:"freshnessHours"`
	RetentionDays     int `json:"retentionDays"`
	ReapIntervalHours int `json:"reapIntervalHours"`
}

// DeviceSettings governs per-account device registration and the streaming
// slot TTL.
type DeviceSettings struct {
	MaxDevices       int `json:"maxDevices"`
	StreamTTLSeconds int `json:"streamTtlSeconds"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns the configuration written on first boot.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host: "0.0.0.0",
			Port: 8480,
		},
		Database: DatabaseSettings{
			Path: filepath.Join("cache", "streamgate.db"),
		},
		Resolver: ResolverSettings{
			BaseURLs: []string{
				"https://zentlify.qzz.io/api/streams",
				"https://anya-gw-1.mnflix-mirror.workers.dev/api/streams",
				"https://anya-gw-2.mnflix-mirror2.workers.dev/api/streams",
			},
			TimeoutSeconds: 15,
			Version:        1,
		},
		Cache: CacheSettings{
			FreshnessHours:    3,
			RetentionDays:     30,
			ReapIntervalHours: 6,
		},
		Devices: DeviceSettings{
			MaxDevices:       3,
			StreamTTLSeconds: 90,
		},
		Log: LogConfig{
			File:       filepath.Join("cache", "logs", "streamgate.log"),
			MaxSize:    20,
			MaxAge:     14,
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures the parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings from disk, creating the file with defaults when it does
// not exist yet. Missing fields are backfilled with defaults so older config
// files keep working after upgrades.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	dec := json.NewDecoder(f)
	if err := dec.Decode(&s); err != nil {
		return Settings{}, err
	}

	applyDefaults(&s)
	return s, nil
}

func applyDefaults(s *Settings) {
	defaults := DefaultSettings()

	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = defaults.Server.Host
	}
	if s.Server.Port <= 0 {
		s.Server.Port = defaults.Server.Port
	}
	if strings.TrimSpace(s.Database.Path) == "" {
		s.Database.Path = defaults.Database.Path
	}
	if len(s.Resolver.BaseURLs) == 0 {
		s.Resolver.BaseURLs = defaults.Resolver.BaseURLs
	}
	if s.Resolver.TimeoutSeconds <= 0 {
		s.Resolver.TimeoutSeconds = defaults.Resolver.TimeoutSeconds
	}
	if s.Resolver.Version <= 0 {
		s.Resolver.Version = defaults.Resolver.Version
	}
	if s.Cache.FreshnessHours <= 0 {
		s.Cache.FreshnessHours = defaults.Cache.FreshnessHours
	}
	if s.Cache.RetentionDays <= 0 {
		s.Cache.RetentionDays = defaults.Cache.RetentionDays
	}
	if s.Cache.ReapIntervalHours <= 0 {
		s.Cache.ReapIntervalHours = defaults.Cache.ReapIntervalHours
	}
	if s.Devices.MaxDevices <= 0 {
		s.Devices.MaxDevices = defaults.Devices.MaxDevices
	}
	if s.Devices.StreamTTLSeconds <= 0 {
		s.Devices.StreamTTLSeconds = defaults.Devices.StreamTTLSeconds
	}
	if s.Log.MaxSize <= 0 {
		s.Log.MaxSize = defaults.Log.MaxSize
	}
	if s.Log.MaxAge <= 0 {
		s.Log.MaxAge = defaults.Log.MaxAge
	}
	if s.Log.MaxBackups <= 0 {
		s.Log.MaxBackups = defaults.Log.MaxBackups
	}
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
