package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort             = 8080
	defaultDataDir          = "data"
	defaultStore            = StoreFile
	defaultSQLiteFile       = "status.db"
	defaultFFmpegPath       = "ffmpeg"
	defaultTranscodeTimeout = 30 * time.Minute
	defaultMaxUploadMB      = 512

	defaultMaxConcurrentTranscodes = 2

	StoreFile   = "file"
	StoreSQLite = "sqlite"

	envPrefix = "VIDSTORE_"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port                    int           `yaml:"port" validate:"min=1,max=65535"`
	DataDir                 string        `yaml:"data_dir" validate:"required"`
	AllowedExtensions       []string      `yaml:"allowed_extensions" validate:"min=1,dive,startswith=."`
	Store                   string        `yaml:"store" validate:"oneof=file sqlite"`
	SQLitePath              string        `yaml:"sqlite_path"`
	FFmpegPath              string        `yaml:"ffmpeg_path" validate:"required"`
	TranscodeTimeout        time.Duration `yaml:"transcode_timeout" validate:"gt=0"`
	MaxConcurrentTranscodes int           `yaml:"max_concurrent_transcodes" validate:"min=1"`
	MaxUploadMB             int64         `yaml:"max_upload_mb" validate:"min=1"`
	MetricsEnabled          bool          `yaml:"metrics_enabled"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:                    defaultPort,
		DataDir:                 defaultDataDir,
		AllowedExtensions:       []string{".mp4"},
		Store:                   defaultStore,
		FFmpegPath:              defaultFFmpegPath,
		TranscodeTimeout:        defaultTranscodeTimeout,
		MaxConcurrentTranscodes: defaultMaxConcurrentTranscodes,
		MaxUploadMB:             defaultMaxUploadMB,
		MetricsEnabled:          true,
	}
}

// Load reads YAML config from the provided path, then applies VIDSTORE_*
// environment overrides. A missing or empty file yields defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	normalize(&cfg)
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SQLiteFile returns the database location, defaulting into the data dir.
func (c Config) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, defaultSQLiteFile)
}

// MaxUploadBytes converts the upload limit for the HTTP layer.
func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(envPrefix + "PORT"); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %sPORT: %w", envPrefix, err)
		}
		cfg.Port = port
	}
	if v, ok := lookup(envPrefix + "DATA_DIR"); ok && v != "" {
		cfg.DataDir = v
	}
	if v, ok := lookup(envPrefix + "FFMPEG_PATH"); ok && v != "" {
		cfg.FFmpegPath = v
	}
	if v, ok := lookup(envPrefix + "STORE"); ok && v != "" {
		cfg.Store = v
	}
	return nil
}

// basic normalization
func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.Store == "" {
		cfg.Store = defaultStore
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.AllowedExtensions = normalizeExtensions(cfg.AllowedExtensions)
}

func normalizeExtensions(in []string) []string {
	if len(in) == 0 {
		return []string{".mp4"}
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
