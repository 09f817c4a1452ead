// Package config loads application settings.
//
// Precedence, highest first:
//  1. Environment variables (REDDIT_CLIENT_ID, GEMINI_API_KEY, DATA_DIR, ...)
//  2. Variables from a .env file in the working directory
//  3. The YAML config file
//  4. Built-in defaults
//
// Environment variables map onto keys by splitting on the first underscore:
//
//	REDDIT_CLIENT_ID       -> reddit.client_id
//	HUGGINGFACE_API_TOKEN  -> huggingface.api_token
//	CACHE_BACKEND          -> cache.backend
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"mindpulse/models"
)

// DefaultFile config file picked up from the working directory when no path is given.
const DefaultFile = "mindpulse.yaml"

const maxConfigFileSize = 1024 * 1024

// Validation errors. All wrap models.ErrConfiguration.
var (
	ErrInvalidPort        = fmt.Errorf("%w: server.port must be between 1 and 65535", models.ErrConfiguration)
	ErrInvalidBackend     = fmt.Errorf("%w: cache.backend must be file, sqlite or redis", models.ErrConfiguration)
	ErrInvalidLogLevel    = fmt.Errorf("%w: logging.level must be debug, info, warn or error", models.ErrConfiguration)
	ErrInvalidLogFormat   = fmt.Errorf("%w: logging.format must be json or console", models.ErrConfiguration)
	ErrConfigFileTooLarge = fmt.Errorf("%w: config file exceeds 1MB", models.ErrConfiguration)
)

// sections top-level keys environment variables may target
var sections = map[string]bool{
	"server": true, "data": true, "cache": true, "reddit": true, "huggingface": true,
	"gemini": true, "moderation": true, "annotate": true, "logging": true,
}

// Load reads configuration from path (or DefaultFile when path is empty and
// the file exists), the .env file and the environment.
func Load(path string) (*models.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	content, err := readConfigFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg models.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, ErrConfigFileTooLarge
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Variables outside the
// known sections are ignored.
func envKey(s string) string {
	parts := strings.SplitN(strings.ToLower(s), "_", 2)
	if len(parts) != 2 || !sections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

func applyDefaults(cfg *models.Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = cfg.Data.GetDir()
	}
	cfg.Cache.Backend = cfg.Cache.GetBackend()
	if cfg.Cache.SQLitePath == "" {
		cfg.Cache.SQLitePath = filepath.Join(cfg.Data.Dir, "mindpulse.db")
	}
	// REDDIT_SUBREDDITS arrives as a comma separated value
	if len(cfg.Reddit.Subreddits) > 0 {
		cfg.Reddit.Subreddits = splitList(strings.Join(cfg.Reddit.Subreddits, ","))
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks values that have no safe fallback.
func Validate(cfg *models.Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return ErrInvalidPort
	}
	switch cfg.Cache.GetBackend() {
	case models.CacheBackendFile, models.CacheBackendSQLite, models.CacheBackendRedis:
	default:
		return ErrInvalidBackend
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "console":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
