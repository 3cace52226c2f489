package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the name used when writing or discovering a config file.
const DefaultFileName = "vrpsync.yaml"

// Config is the top-level configuration. It is loaded once at startup and
// handed to every component that needs it; nothing mutates it afterwards.
type Config struct {
	RclonePath       string   `yaml:"rclone_path"`
	RcloneConfigPath string   `yaml:"rclone_config_path"`
	SevenZipPath     string   `yaml:"sevenzip_path"`
	TempPath         string   `yaml:"temp_path"`
	Destination      string   `yaml:"destination"`
	Proxy            string   `yaml:"proxy"`
	ManifestURL      string   `yaml:"manifest_url"`
	ManifestCache    string   `yaml:"manifest_cache"`
	GameListDir      string   `yaml:"gamelist_dir"`
	DBPath           string   `yaml:"db_path"`
	RCAddr           string   `yaml:"rc_addr"`
	TPSLimit         float64  `yaml:"tps_limit"`
	TPSBurst         int      `yaml:"tps_burst"`
	Exclude          []string `yaml:"exclude"`
}

// SetupError reports a configuration problem that prevents a run from starting.
type SetupError struct {
	Field  string
	Reason string
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.Field, e.Reason)
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		RclonePath:    "rclone",
		SevenZipPath:  "7z",
		ManifestURL:   "https://wiki.vrpirates.club/downloads/vrp-public.json",
		ManifestCache: "vrp-public.json",
		GameListDir:   ".",
		DBPath:        "vrpsync.db",
		RCAddr:        "localhost:5572",
		TPSLimit:      1.0,
		TPSBurst:      3,
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		DefaultFileName,
		filepath.Join("/etc/vrpsync", DefaultFileName),
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "vrpsync", DefaultFileName),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks that every external collaborator the run depends on is
// reachable. The first problem found is returned as a *SetupError.
func (c *Config) Validate() error {
	if err := checkTool("rclone_path", c.RclonePath); err != nil {
		return err
	}
	if err := checkTool("sevenzip_path", c.SevenZipPath); err != nil {
		return err
	}

	if c.RcloneConfigPath != "" {
		if _, err := os.Stat(c.RcloneConfigPath); err != nil {
			return &SetupError{Field: "rclone_config_path", Reason: "rclone config not found"}
		}
	}

	if c.TempPath == "" {
		return &SetupError{Field: "temp_path", Reason: "must be set"}
	}
	fi, err := os.Stat(c.TempPath)
	if err != nil || !fi.IsDir() {
		return &SetupError{Field: "temp_path", Reason: "not found or not a valid directory"}
	}

	if strings.TrimSpace(c.Destination) == "" {
		return &SetupError{Field: "destination", Reason: "must be a valid rclone destination, e.g. my_ftp: or my_ftp:/backups"}
	}

	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &SetupError{Field: "proxy", Reason: "expected http(s)://[user:password@]host:port"}
		}
	}

	if c.RCAddr == "" {
		return &SetupError{Field: "rc_addr", Reason: "must be set"}
	}
	if c.TPSLimit <= 0 {
		return &SetupError{Field: "tps_limit", Reason: "must be positive"}
	}
	if c.TPSBurst < 1 {
		return &SetupError{Field: "tps_burst", Reason: "must be at least 1"}
	}

	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return &SetupError{Field: "exclude", Reason: fmt.Sprintf("invalid pattern %q", pattern)}
		}
	}

	return nil
}

// ProxyEnabled reports whether downloads should go through the outbound proxy.
func (c *Config) ProxyEnabled() bool {
	return c.Proxy != ""
}

// Excluded reports whether a release name matches one of the exclude patterns.
func (c *Config) Excluded(name string) bool {
	for _, pattern := range c.Exclude {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Redacted returns a copy of the config that is safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Exclude = append([]string(nil), c.Exclude...)
	if u, err := url.Parse(c.Proxy); err == nil && u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
		out.Proxy = u.String()
	}
	return &out
}

// WriteDefault writes a default config file to path. It refuses to overwrite
// an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(defaultTemplate), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func checkTool(field, path string) error {
	if path == "" {
		return &SetupError{Field: field, Reason: "must be set"}
	}
	if _, err := exec.LookPath(path); err != nil {
		return &SetupError{Field: field, Reason: fmt.Sprintf("%q not found or not a valid command", path)}
	}
	return nil
}

const defaultTemplate = `# rclone_path can be a full path (C:\rclone.exe, /usr/bin/rclone) or a command on PATH
rclone_path: rclone
# if set, rclone is called with --config pointing at this file
rclone_config_path: ""
# sevenzip_path can be a full path (C:\7z.exe, /usr/bin/7z) or a command on PATH
sevenzip_path: 7z
# temp_path is the staging directory for downloads and extraction; it has to exist
temp_path: ""
# destination has to be a valid rclone destination, e.g. my_ftp: or my_ftp:/backups
destination: ""
# if set, downloads go through this proxy: http(s)://user:password@ip:port or http(s)://ip:port
proxy: ""
manifest_url: https://wiki.vrpirates.club/downloads/vrp-public.json
manifest_cache: vrp-public.json
gamelist_dir: .
db_path: vrpsync.db
rc_addr: localhost:5572
tps_limit: 1.0
tps_burst: 3
# release names matching these patterns are never added or removed
exclude: []
`
