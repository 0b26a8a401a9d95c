package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Catalog   CatalogConfig   `mapstructure:"catalog" toml:"catalog"`
	Providers ProvidersConfig `mapstructure:"providers" toml:"providers"`
	Matching  MatchingConfig  `mapstructure:"matching" toml:"matching"`
	Cache     CacheConfig     `mapstructure:"cache" toml:"cache"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
	UI        UIConfig        `mapstructure:"ui" toml:"ui"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path" toml:"path"`
	Timeout     time.Duration `mapstructure:"timeout" toml:"timeout"`
	SearchIndex string        `mapstructure:"search_index" toml:"search_index"`
}

type CatalogConfig struct {
	Endpoint string        `mapstructure:"endpoint" toml:"endpoint"`
	Token    string        `mapstructure:"token" toml:"token"`
	Timeout  time.Duration `mapstructure:"timeout" toml:"timeout"`
}

type ProvidersConfig struct {
	HTTPTimeout time.Duration  `mapstructure:"http_timeout" toml:"http_timeout"`
	UserAgent   string         `mapstructure:"user_agent" toml:"user_agent"`
	Enabled     []string       `mapstructure:"enabled" toml:"enabled"`
	AllowLocal  bool           `mapstructure:"allow_local" toml:"allow_local"`
	MangaDex    MangaDexConfig `mapstructure:"mangadex" toml:"mangadex"`
	Sites       []SiteConfig   `mapstructure:"sites" toml:"sites"`
	Feeds       []FeedConfig   `mapstructure:"feeds" toml:"feeds"`
}

type MangaDexConfig struct {
	APIURL   string `mapstructure:"api_url" toml:"api_url"`
	Language string `mapstructure:"language" toml:"language"`
}

// SiteConfig describes a scraped HTML provider with CSS selectors.
// SearchPath may use {query} and {page} placeholders.
type SiteConfig struct {
	Name       string        `mapstructure:"name" toml:"name"`
	BaseURL    string        `mapstructure:"base_url" toml:"base_url"`
	SeriesPath string        `mapstructure:"series_path" toml:"series_path"`
	SearchPath string        `mapstructure:"search_path" toml:"search_path"`
	Selectors  SiteSelectors `mapstructure:"selectors" toml:"selectors"`
}

type SiteSelectors struct {
	Result       string `mapstructure:"result" toml:"result"`
	ResultTitle  string `mapstructure:"result_title" toml:"result_title"`
	ResultImage  string `mapstructure:"result_image" toml:"result_image"`
	DetailTitle  string `mapstructure:"detail_title" toml:"detail_title"`
	DetailStatus string `mapstructure:"detail_status" toml:"detail_status"`
	Chapter      string `mapstructure:"chapter" toml:"chapter"`
	ChapterLink  string `mapstructure:"chapter_link" toml:"chapter_link"`
	ChapterDate  string `mapstructure:"chapter_date" toml:"chapter_date"`
}

// FeedConfig describes a provider that publishes RSS/Atom feeds: a search
// feed whose items are series and a per-series chapter feed.
type FeedConfig struct {
	Name      string `mapstructure:"name" toml:"name"`
	SearchURL string `mapstructure:"search_url" toml:"search_url"`
	SeriesURL string `mapstructure:"series_url" toml:"series_url"`
}

type MatchingConfig struct {
	AutoSelectScore float64 `mapstructure:"auto_select_score" toml:"auto_select_score"`
	AutoSelectGap   float64 `mapstructure:"auto_select_gap" toml:"auto_select_gap"`
	MaxTerms        int     `mapstructure:"max_terms" toml:"max_terms"`
	ASCIIWeight     float64 `mapstructure:"ascii_weight" toml:"ascii_weight"`
	LengthWeight    float64 `mapstructure:"length_weight" toml:"length_weight"`
	DigitBonus      float64 `mapstructure:"digit_bonus" toml:"digit_bonus"`
}

type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl" toml:"ttl"`
	PrefetchWorkers int           `mapstructure:"prefetch_workers" toml:"prefetch_workers"`
}

type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
	File  string `mapstructure:"file" toml:"file"`
}

type UIConfig struct {
	// Opener is the command used to open provider pages. Empty picks the
	// platform default.
	Opener string   `mapstructure:"opener" toml:"opener"`
	Colors UIColors `mapstructure:"colors" toml:"colors"`
}

type UIColors struct {
	Primary   string `mapstructure:"primary" toml:"primary"`
	Secondary string `mapstructure:"secondary" toml:"secondary"`
	Accent    string `mapstructure:"accent" toml:"accent"`
	Muted     string `mapstructure:"muted" toml:"muted"`
	Error     string `mapstructure:"error" toml:"error"`
	Success   string `mapstructure:"success" toml:"success"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".crossread")

	return &Config{
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "crossread.db"),
			Timeout:     1 * time.Second,
			SearchIndex: filepath.Join(dataDir, "library.bleve"),
		},
		Catalog: CatalogConfig{
			Endpoint: "https://graphql.anilist.co",
			Timeout:  15 * time.Second,
		},
		Providers: ProvidersConfig{
			HTTPTimeout: 20 * time.Second,
			UserAgent:   "crossread/1.0 (https://github.com/pders01/crossread)",
			Enabled:     []string{"mangadex"},
			MangaDex: MangaDexConfig{
				APIURL:   "https://api.mangadex.org",
				Language: "en",
			},
		},
		Matching: MatchingConfig{
			AutoSelectScore: 0.92,
			AutoSelectGap:   0.12,
			MaxTerms:        8,
			ASCIIWeight:     0.6,
			LengthWeight:    0.35,
			DigitBonus:      0.05,
		},
		Cache: CacheConfig{
			TTL:             10 * time.Minute,
			PrefetchWorkers: 3,
		},
		Log: LogConfig{
			Level: "off",
			File:  filepath.Join(dataDir, "crossread.log"),
		},
		UI: UIConfig{
			Colors: UIColors{
				Primary:   "#FF6B6B",
				Secondary: "#4ECDC4",
				Accent:    "#95E1D3",
				Muted:     "#94A3B8",
				Error:     "#F87171",
				Success:   "#4ADE80",
			},
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	cfg := defaultConfig()
	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Dir(DefaultPath()))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CROSSREAD")
	v.AutomaticEnv()
	// the catalog token usually lives in the environment, not the file
	_ = v.BindEnv("catalog.token", "CROSSREAD_CATALOG_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers leaf keys so a partially written section in the
// file still inherits the remaining defaults.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.timeout", cfg.Database.Timeout)
	v.SetDefault("database.search_index", cfg.Database.SearchIndex)
	v.SetDefault("catalog.endpoint", cfg.Catalog.Endpoint)
	v.SetDefault("catalog.token", cfg.Catalog.Token)
	v.SetDefault("catalog.timeout", cfg.Catalog.Timeout)
	v.SetDefault("providers.http_timeout", cfg.Providers.HTTPTimeout)
	v.SetDefault("providers.user_agent", cfg.Providers.UserAgent)
	v.SetDefault("providers.enabled", cfg.Providers.Enabled)
	v.SetDefault("providers.allow_local", cfg.Providers.AllowLocal)
	v.SetDefault("providers.mangadex.api_url", cfg.Providers.MangaDex.APIURL)
	v.SetDefault("providers.mangadex.language", cfg.Providers.MangaDex.Language)
	v.SetDefault("matching.auto_select_score", cfg.Matching.AutoSelectScore)
	v.SetDefault("matching.auto_select_gap", cfg.Matching.AutoSelectGap)
	v.SetDefault("matching.max_terms", cfg.Matching.MaxTerms)
	v.SetDefault("matching.ascii_weight", cfg.Matching.ASCIIWeight)
	v.SetDefault("matching.length_weight", cfg.Matching.LengthWeight)
	v.SetDefault("matching.digit_bonus", cfg.Matching.DigitBonus)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.prefetch_workers", cfg.Cache.PrefetchWorkers)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("ui.opener", cfg.UI.Opener)
	v.SetDefault("ui.colors.primary", cfg.UI.Colors.Primary)
	v.SetDefault("ui.colors.secondary", cfg.UI.Colors.Secondary)
	v.SetDefault("ui.colors.accent", cfg.UI.Colors.Accent)
	v.SetDefault("ui.colors.muted", cfg.UI.Colors.Muted)
	v.SetDefault("ui.colors.error", cfg.UI.Colors.Error)
	v.SetDefault("ui.colors.success", cfg.UI.Colors.Success)
}

// Validate rejects settings the matcher or cache cannot work with.
func (c *Config) Validate() error {
	m := c.Matching
	if m.AutoSelectScore <= 0 || m.AutoSelectScore > 1 {
		return fmt.Errorf("matching.auto_select_score must be in (0,1], got %v", m.AutoSelectScore)
	}
	if m.AutoSelectGap < 0 || m.AutoSelectGap > 1 {
		return fmt.Errorf("matching.auto_select_gap must be in [0,1], got %v", m.AutoSelectGap)
	}
	if m.MaxTerms < 1 {
		return fmt.Errorf("matching.max_terms must be positive, got %d", m.MaxTerms)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %v", c.Cache.TTL)
	}
	for _, site := range c.Providers.Sites {
		if site.Name == "" || site.BaseURL == "" {
			return fmt.Errorf("providers.sites entries need name and base_url")
		}
	}
	for _, feed := range c.Providers.Feeds {
		if feed.Name == "" || feed.SearchURL == "" {
			return fmt.Errorf("providers.feeds entries need name and search_url")
		}
	}
	return nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	cfg.Log.File = expandPath(cfg.Log.File)
}

// settings is the file layout of cfg with durations as strings. The catalog
// token is left out so it never lands on disk or in `config show`.
func settings(config *Config) map[string]any {
	return map[string]any{
		"database": map[string]any{
			"path":         config.Database.Path,
			"timeout":      config.Database.Timeout.String(),
			"search_index": config.Database.SearchIndex,
		},
		"catalog": map[string]any{
			"endpoint": config.Catalog.Endpoint,
			"timeout":  config.Catalog.Timeout.String(),
		},
		"providers": map[string]any{
			"http_timeout": config.Providers.HTTPTimeout.String(),
			"user_agent":   config.Providers.UserAgent,
			"enabled":      config.Providers.Enabled,
			"allow_local":  config.Providers.AllowLocal,
			"mangadex": map[string]any{
				"api_url":  config.Providers.MangaDex.APIURL,
				"language": config.Providers.MangaDex.Language,
			},
			"sites": config.Providers.Sites,
			"feeds": config.Providers.Feeds,
		},
		"matching": config.Matching,
		"cache": map[string]any{
			"ttl":              config.Cache.TTL.String(),
			"prefetch_workers": config.Cache.PrefetchWorkers,
		},
		"log": config.Log,
		"ui":  config.UI,
	}
}

func Save(config *Config, path string) error {
	v := viper.New()
	for key, value := range settings(config) {
		v.Set(key, value)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

// TOML renders the effective configuration the way Save writes it.
func (c *Config) TOML() ([]byte, error) {
	out, err := toml.Marshal(settings(c))
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}

// DefaultPath is where Load looks for the config file first.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "crossread", "config.toml")
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
