package models

import (
	"strings"
)

// Secret credential value that redacts itself when printed or logged.
type Secret string

// String implements fmt.Stringer. Always returns a redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the raw secret.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a non-blank value was configured.
func (s Secret) IsSet() bool {
	return strings.TrimSpace(string(s)) != ""
}

// Config complete application configuration
type Config struct {
	Server      ServerConfig     `koanf:"server"`
	Data        DataConfig       `koanf:"data"`
	Cache       CacheConfig      `koanf:"cache"`
	Reddit      RedditConfig     `koanf:"reddit"`
	HuggingFace SentimentConfig  `koanf:"huggingface"`
	Gemini      InsightConfig    `koanf:"gemini"`
	Moderation  ModerationConfig `koanf:"moderation"`
	Annotate    AnnotateConfig   `koanf:"annotate"`
	Logging     LoggingConfig    `koanf:"logging"`
}

// ServerConfig HTTP listener
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// DataConfig working directory for cache entries and result snapshots
type DataConfig struct {
	Dir string `koanf:"dir"`
}

// GetDir returns the data directory, ./data when unset.
func (d DataConfig) GetDir() string {
	if d.Dir == "" {
		return "./data"
	}
	return d.Dir
}

// Cache backends
const (
	CacheBackendFile   = "file"
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

// CacheConfig selects where cache entries live
type CacheConfig struct {
	// Backend one of file, sqlite, redis
	Backend string `koanf:"backend"`
	// SQLitePath database file, defaults to <data dir>/mindpulse.db
	SQLitePath string `koanf:"sqlite_path"`
	// RedisAddr host:port of the redis server
	RedisAddr string `koanf:"redis_addr"`
	RedisDB   int    `koanf:"redis_db"`
	// RedisPassword optional
	RedisPassword Secret `koanf:"redis_password"`
}

// GetBackend returns the configured backend, file by default.
func (c CacheConfig) GetBackend() string {
	if c.Backend == "" {
		return CacheBackendFile
	}
	return strings.ToLower(c.Backend)
}

// GetRedisAddr returns the redis address, localhost:6379 by default.
func (c CacheConfig) GetRedisAddr() string {
	if c.RedisAddr == "" {
		return "localhost:6379"
	}
	return c.RedisAddr
}

// RedditConfig post collection settings
type RedditConfig struct {
	ClientID     string   `koanf:"client_id"`
	ClientSecret Secret   `koanf:"client_secret"`
	UserAgent    string   `koanf:"user_agent"`
	Subreddits   []string `koanf:"subreddits"`
	// APIBase OAuth API host
	APIBase string `koanf:"api_base"`
	// TokenURL app-only token endpoint
	TokenURL string `koanf:"token_url"`
	// FeedBase host used by the RSS fallback source
	FeedBase string `koanf:"feed_base"`
	// RequestsPerSecond throttle for listing / moderator requests
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	// RosterTTL minutes a moderator list stays cached
	RosterTTL int `koanf:"roster_ttl"`
	// Timeout seconds per HTTP request
	Timeout int `koanf:"timeout"`
}

// HasCredentials reports whether app-only OAuth can be used.
func (r RedditConfig) HasCredentials() bool {
	return strings.TrimSpace(r.ClientID) != "" && r.ClientSecret.IsSet()
}

// GetUserAgent returns the user agent sent to Reddit.
func (r RedditConfig) GetUserAgent() string {
	if r.UserAgent == "" {
		return "mindpulse/1.0"
	}
	return r.UserAgent
}

// GetSubreddits returns the collections walked on every fetch.
func (r RedditConfig) GetSubreddits() []string {
	if len(r.Subreddits) == 0 {
		return []string{"mentalhealth", "depression", "anxiety", "therapy", "CPTSD"}
	}
	return r.Subreddits
}

// GetAPIBase returns the OAuth API host.
func (r RedditConfig) GetAPIBase() string {
	if r.APIBase == "" {
		return "https://oauth.reddit.com"
	}
	return strings.TrimSuffix(r.APIBase, "/")
}

// GetTokenURL returns the token endpoint.
func (r RedditConfig) GetTokenURL() string {
	if r.TokenURL == "" {
		return "https://www.reddit.com/api/v1/access_token"
	}
	return r.TokenURL
}

// GetFeedBase returns the public host used for RSS feeds.
func (r RedditConfig) GetFeedBase() string {
	if r.FeedBase == "" {
		return "https://www.reddit.com"
	}
	return strings.TrimSuffix(r.FeedBase, "/")
}

// GetRequestsPerSecond returns the request budget, 1/s by default.
func (r RedditConfig) GetRequestsPerSecond() float64 {
	if r.RequestsPerSecond <= 0 {
		return 1
	}
	return r.RequestsPerSecond
}

// GetRosterTTL returns the moderator list lifetime in minutes, 60 by default.
func (r RedditConfig) GetRosterTTL() int {
	if r.RosterTTL <= 0 {
		return 60
	}
	return r.RosterTTL
}

// GetTimeout returns the per-request timeout in seconds, 15 by default.
func (r RedditConfig) GetTimeout() int {
	if r.Timeout <= 0 {
		return 15
	}
	return r.Timeout
}

// SentimentConfig HuggingFace inference settings
type SentimentConfig struct {
	APIToken Secret `koanf:"api_token"`
	APIBase  string `koanf:"api_base"`
	Model    string `koanf:"model"`
	// Timeout seconds
	Timeout int `koanf:"timeout"`
	// MaxChars input is truncated to this many characters
	MaxChars int `koanf:"max_chars"`
}

// GetAPIBase returns the inference host.
func (s SentimentConfig) GetAPIBase() string {
	if s.APIBase == "" {
		return "https://api-inference.huggingface.co/models"
	}
	return strings.TrimSuffix(s.APIBase, "/")
}

// GetModel returns the sentiment model id.
func (s SentimentConfig) GetModel() string {
	if s.Model == "" {
		return "distilbert-base-uncased-finetuned-sst-2-english"
	}
	return s.Model
}

// GetTimeout returns the request timeout in seconds, 15 by default.
func (s SentimentConfig) GetTimeout() int {
	if s.Timeout <= 0 {
		return 15
	}
	return s.Timeout
}

// GetMaxChars returns the input truncation length, 512 by default.
func (s SentimentConfig) GetMaxChars() int {
	if s.MaxChars <= 0 {
		return 512
	}
	return s.MaxChars
}

// InsightConfig Gemini settings
type InsightConfig struct {
	APIKey          Secret  `koanf:"api_key"`
	APIBase         string  `koanf:"api_base"`
	Model           string  `koanf:"model"`
	Prompt          string  `koanf:"prompt"`
	Temperature     float64 `koanf:"temperature"`
	MaxOutputTokens int     `koanf:"max_output_tokens"`
	// Timeout seconds
	Timeout int `koanf:"timeout"`
	// MaxChars post text is truncated to this many characters inside the prompt
	MaxChars          int     `koanf:"max_chars"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	// BreakerFailures consecutive failures before the circuit opens
	BreakerFailures int `koanf:"breaker_failures"`
	// BreakerCooldown seconds the circuit stays open
	BreakerCooldown int `koanf:"breaker_cooldown"`
}

// GetAPIBase returns the generative language API host.
func (c InsightConfig) GetAPIBase() string {
	if c.APIBase == "" {
		return "https://generativelanguage.googleapis.com/v1beta/models"
	}
	return strings.TrimSuffix(c.APIBase, "/")
}

// GetModel returns the model name.
func (c InsightConfig) GetModel() string {
	if c.Model == "" {
		return "gemini-2.0-flash"
	}
	return c.Model
}

// GetPrompt returns the instruction placed before the post content.
func (c InsightConfig) GetPrompt() string {
	if c.Prompt == "" {
		return "Analyze this Reddit post from a mental health professional perspective. " +
			"Identify key emotional themes, potential concerns, and provide " +
			"supportive, clinically-informed insights. Keep response concise (3-4 sentences)."
	}
	return c.Prompt
}

// GetTemperature returns the sampling temperature, 0.5 by default.
func (c InsightConfig) GetTemperature() float64 {
	if c.Temperature <= 0 {
		return 0.5
	}
	return c.Temperature
}

// GetMaxOutputTokens returns the response token cap, 256 by default.
func (c InsightConfig) GetMaxOutputTokens() int {
	if c.MaxOutputTokens <= 0 {
		return 256
	}
	return c.MaxOutputTokens
}

// GetTimeout returns the request timeout in seconds, 15 by default.
func (c InsightConfig) GetTimeout() int {
	if c.Timeout <= 0 {
		return 15
	}
	return c.Timeout
}

// GetMaxChars returns the prompt truncation length, 2000 by default.
func (c InsightConfig) GetMaxChars() int {
	if c.MaxChars <= 0 {
		return 2000
	}
	return c.MaxChars
}

// GetRequestsPerSecond returns the request budget, 2/s by default.
func (c InsightConfig) GetRequestsPerSecond() float64 {
	if c.RequestsPerSecond <= 0 {
		return 2
	}
	return c.RequestsPerSecond
}

// GetBreakerFailures returns the trip threshold, 5 by default.
func (c InsightConfig) GetBreakerFailures() int {
	if c.BreakerFailures <= 0 {
		return 5
	}
	return c.BreakerFailures
}

// GetBreakerCooldown returns the open-state duration in seconds, 30 by default.
func (c InsightConfig) GetBreakerCooldown() int {
	if c.BreakerCooldown <= 0 {
		return 30
	}
	return c.BreakerCooldown
}

// ModerationConfig filter rule source
type ModerationConfig struct {
	// RulesFile optional YAML file overriding the built-in rules
	RulesFile string `koanf:"rules_file"`
	// Watch reload RulesFile on change and clean the cache
	Watch bool `koanf:"watch"`
}

// AnnotateConfig per-post annotation
type AnnotateConfig struct {
	// Concurrency posts annotated in parallel
	Concurrency int `koanf:"concurrency"`
}

// GetConcurrency returns the annotation parallelism, 4 by default.
func (a AnnotateConfig) GetConcurrency() int {
	if a.Concurrency <= 0 {
		return 4
	}
	return a.Concurrency
}

// LoggingConfig log output
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
