package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/msalah0e/valence/internal/layout"
)

// ProjectFile is looked up from the working directory upwards and overrides
// the user config.
const ProjectFile = ".valence.toml"

// Config holds valence configuration.
type Config struct {
	UI       UIConfig       `toml:"ui"`
	Layout   layout.Params  `toml:"layout"`
	Storage  StorageConfig  `toml:"storage"`
	Supabase SupabaseConfig `toml:"supabase"`
	Server   ServerConfig   `toml:"server"`
	Activity ActivityConfig `toml:"activity"`
	Hooks    HooksConfig    `toml:"hooks"`
}

// UIConfig controls display options.
type UIConfig struct {
	Emoji bool `toml:"emoji"`
	Color bool `toml:"color"`
}

// StorageConfig selects where sessions are persisted.
type StorageConfig struct {
	Backend    string `toml:"backend"` // "file", "sqlite", "supabase"
	User       string `toml:"user"`
	Dir        string `toml:"dir,omitempty"`
	SQLitePath string `toml:"sqlite_path,omitempty"`
	Encrypt    bool   `toml:"encrypt"`
}

// SupabaseConfig holds the remote project. Both values are normally supplied
// through SUPABASE_URL and SUPABASE_KEY.
type SupabaseConfig struct {
	URL string `toml:"url,omitempty"`
	Key string `toml:"key,omitempty"`
}

// ServerConfig controls the live layout server.
type ServerConfig struct {
	Addr          string  `toml:"addr"`
	FrameMillis   int     `toml:"frame_ms"`
	DragThreshold float64 `toml:"drag_threshold"`
	Watch         bool    `toml:"watch"`
}

// ActivityConfig controls the mutation log.
type ActivityConfig struct {
	Enabled bool `toml:"enabled"`
}

// HooksConfig defines lifecycle hook scripts.
type HooksConfig struct {
	PostSave string `toml:"post_save"`
	PostLoad string `toml:"post_load"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		UI:       UIConfig{Emoji: true, Color: true},
		Layout:   layout.DefaultParams(),
		Storage:  StorageConfig{Backend: "file", User: "local"},
		Server:   ServerConfig{Addr: "127.0.0.1:7420", FrameMillis: 16, DragThreshold: 3, Watch: true},
		Activity: ActivityConfig{Enabled: true},
	}
}

// ConfigDir returns the valence config directory path.
func ConfigDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "valence")
}

// Path returns the user config file path.
func Path() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the user config, then the nearest project config, then the
// environment. Missing or unreadable files leave defaults in place.
func Load() *Config {
	return LoadFrom(Path())
}

// LoadFrom is Load with an explicit user config file.
func LoadFrom(path string) *Config {
	cfg := Default()
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, cfg)
	}
	if project := findProjectConfig(); project != "" {
		if data, err := os.ReadFile(project); err == nil {
			_ = toml.Unmarshal(data, cfg)
		}
	}
	applyEnv(cfg)
	return cfg
}

// applyEnv loads .env from the working directory without overriding variables
// already set, then applies the recognised ones.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Supabase.URL = v
	}
	if v := os.Getenv("SUPABASE_KEY"); v != "" {
		cfg.Supabase.Key = v
	}
	if v := os.Getenv("VALENCE_USER"); v != "" {
		cfg.Storage.User = v
	}
	if v := os.Getenv("VALENCE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
}

func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ProjectFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Save writes the config to disk. Supabase credentials are never written.
func Save(cfg *Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	out := *cfg
	out.Supabase = SupabaseConfig{URL: cfg.Supabase.URL}
	return toml.NewEncoder(f).Encode(out)
}

// EnsureExists creates the config file with defaults if it doesn't exist.
func EnsureExists() error {
	if _, err := os.Stat(Path()); err == nil {
		return nil
	}
	return Save(Default())
}
