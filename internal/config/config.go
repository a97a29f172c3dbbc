package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "FEDQUERY_"

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `json:"database"  envPrefix:"DB_"`
	Cache     CacheConfig     `json:"cache"     envPrefix:"CACHE_"`
	Logging   LoggingConfig   `json:"logging"   envPrefix:"LOG_"`
	Search    SearchConfig    `json:"search"    envPrefix:"SEARCH_"`
	Generator GeneratorConfig `json:"generator" envPrefix:"GENERATOR_"`
	LLM       LLMConfig       `json:"llm"       envPrefix:"LLM_"`
	Embedding EmbeddingConfig `json:"embedding" envPrefix:"EMBEDDING_"`
	Server    ServerConfig    `json:"server"    envPrefix:"SERVER_"`
	Debug     DebugConfig     `json:"debug"`

	// Sources are the structured data sources queries are federated over.
	Sources []SourceConfig `json:"sources"`
	// SourceSpecs holds "name=driver:dsn" entries from the environment.
	SourceSpecs []string `json:"-" env:"SOURCES" envSeparator:";"`
}

// DatabaseConfig configures the DuckDB file holding schema descriptors and documents
type DatabaseConfig struct {
	Path            string `json:"path"               env:"PATH"               envDefault:"~/.config/fedquery/fedquery.duckdb"`
	MaxConnections  int    `json:"max_connections"    env:"MAX_CONNECTIONS"    envDefault:"10"`
	MaxIdleConns    int    `json:"max_idle_conns"     env:"MAX_IDLE_CONNS"     envDefault:"5"`
	ConnMaxLifetime string `json:"conn_max_lifetime"  env:"CONN_MAX_LIFETIME"  envDefault:"30m"`
	ConnMaxIdleTime string `json:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME" envDefault:"5m"`
	QueryTimeout    string `json:"query_timeout"      env:"QUERY_TIMEOUT"      envDefault:"30s"`
}

// CacheConfig configures the result cache
type CacheConfig struct {
	Enabled        bool   `json:"enabled"         env:"ENABLED"          envDefault:"true"`
	MaxEntrySizeMB int    `json:"max_entry_size_mb" env:"MAX_ENTRY_SIZE_MB" envDefault:"100"`
	MaxTotalSizeMB int    `json:"max_total_size_mb" env:"MAX_TOTAL_SIZE_MB" envDefault:"500"`
	MaxEntries     int    `json:"max_entries"     env:"MAX_ENTRIES"      envDefault:"10000"`
	TTL            string `json:"ttl"             env:"TTL"              envDefault:"1h"`
	ComputeTimeout string `json:"compute_timeout" env:"COMPUTE_TIMEOUT"  envDefault:"60s"`
	RedisAddr      string `json:"redis_addr"      env:"REDIS_ADDR"       envDefault:""`
	RedisPassword  string `json:"redis_password"  env:"REDIS_PASSWORD"   envDefault:""`
	RedisDB        int    `json:"redis_db"        env:"REDIS_DB"         envDefault:"0"`
	RedisKeyPrefix string `json:"redis_key_prefix" env:"REDIS_KEY_PREFIX" envDefault:"fedquery:query_cache:"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      env:"LEVEL"      envDefault:"info"`                             // debug, info, warn, error
	Format    string `json:"format"     env:"FORMAT"     envDefault:"text"`                             // text, json
	Output    string `json:"output"     env:"OUTPUT"     envDefault:"stderr"`                           // stdout, stderr, file
	File      string `json:"file"       env:"FILE"       envDefault:"~/.config/fedquery/logs/fedquery.log"` // log file path when output is file
	AddSource bool   `json:"add_source" env:"ADD_SOURCE" envDefault:"false"`
}

// SearchConfig configures the federated search orchestrator
type SearchConfig struct {
	LegTimeout           string  `json:"leg_timeout"            env:"LEG_TIMEOUT"            envDefault:"30s"`
	MaxConcurrentSources int     `json:"max_concurrent_sources" env:"MAX_CONCURRENT_SOURCES" envDefault:"4"`
	LimitPerSource       int     `json:"limit_per_source"       env:"LIMIT_PER_SOURCE"       envDefault:"100"`
	PageSize             int     `json:"page_size"              env:"PAGE_SIZE"              envDefault:"10"`
	MediumRowThreshold   int     `json:"medium_row_threshold"   env:"MEDIUM_ROW_THRESHOLD"   envDefault:"100"`
	MediumRowBoost       float64 `json:"medium_row_boost"       env:"MEDIUM_ROW_BOOST"       envDefault:"1.2"`
	LargeRowThreshold    int     `json:"large_row_threshold"    env:"LARGE_ROW_THRESHOLD"    envDefault:"1000"`
	LargeRowBoost        float64 `json:"large_row_boost"        env:"LARGE_ROW_BOOST"        envDefault:"1.5"`
}

// GeneratorConfig configures natural-language query generation
type GeneratorConfig struct {
	UseModel             bool    `json:"use_model"              env:"USE_MODEL"              envDefault:"false"`
	TopK                 int     `json:"top_k"                  env:"TOP_K"                  envDefault:"3"`
	BaseConfidence       float64 `json:"base_confidence"        env:"BASE_CONFIDENCE"        envDefault:"0.5"`
	PatternIncrement     float64 `json:"pattern_increment"      env:"PATTERN_INCREMENT"      envDefault:"0.1"`
	MaxRuleConfidence    float64 `json:"max_rule_confidence"    env:"MAX_RULE_CONFIDENCE"    envDefault:"0.9"`
	ModelConfidence      float64 `json:"model_confidence"       env:"MODEL_CONFIDENCE"       envDefault:"0.8"`
	DefaultLimit         int     `json:"default_limit"          env:"DEFAULT_LIMIT"          envDefault:"100"`
	SampleRows           int     `json:"sample_rows"            env:"SAMPLE_ROWS"            envDefault:"5"`
	StatisticsSampleRows int     `json:"statistics_sample_rows" env:"STATISTICS_SAMPLE_ROWS" envDefault:"100"`
}

// LLMConfig configures the optional language-model service
type LLMConfig struct {
	Provider      string `json:"provider"       env:"PROVIDER"       envDefault:"ollama"` // ollama, gemini
	Model         string `json:"model"          env:"MODEL"          envDefault:"codellama:7b"`
	BaseURL       string `json:"base_url"       env:"BASE_URL"       envDefault:"http://localhost:11434"`
	APIKey        string `json:"api_key"        env:"API_KEY"        envDefault:""`
	Timeout       string `json:"timeout"        env:"TIMEOUT"        envDefault:"30s"`
	RetryAttempts int    `json:"retry_attempts" env:"RETRY_ATTEMPTS" envDefault:"2"`
}

// EmbeddingConfig configures the embedding service
type EmbeddingConfig struct {
	Provider   string `json:"provider"   env:"PROVIDER"   envDefault:"hash"` // hash, ollama, gemini
	Model      string `json:"model"      env:"MODEL"      envDefault:"all-minilm"`
	Dimensions int    `json:"dimensions" env:"DIMENSIONS" envDefault:"384"`
	BaseURL    string `json:"base_url"   env:"BASE_URL"   envDefault:"http://localhost:11434"`
	APIKey     string `json:"api_key"    env:"API_KEY"    envDefault:""`
	Timeout    string `json:"timeout"    env:"TIMEOUT"    envDefault:"30s"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `json:"addr" env:"ADDR" envDefault:"127.0.0.1:8088"`
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled bool `json:"enabled" env:"DEBUG"   envDefault:"false"`
	Verbose bool `json:"verbose" env:"VERBOSE" envDefault:"false"`
}

// SourceConfig names a structured data source
type SourceConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"` // duckdb, sqlite, postgres, mysql
	DSN    string `json:"dsn"`
}

var validDrivers = map[string]bool{
	"duckdb": true, "sqlite": true, "postgres": true, "mysql": true,
}

// DefaultConfig returns the configuration built only from envDefault tags
func DefaultConfig() *Config {
	config := &Config{}
	_ = env.ParseWithOptions(config, env.Options{
		Prefix:      envPrefix,
		Environment: map[string]string{},
	})

	return config
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides.
// Precedence is flags, then environment, then the config file, then defaults.
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := DefaultConfig()

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	sources, err := ParseSourceSpecs(config.SourceSpecs)
	if err != nil {
		return nil, err
	}

	config.Sources = mergeSources(config.Sources, sources)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvironment copies onto config only the fields whose variable is set.
// envDefault values must not clobber what the config file already supplied.
func applyEnvironment(config *Config) error {
	fromEnv := &Config{}
	if err := env.ParseWithOptions(fromEnv, env.Options{Prefix: envPrefix}); err != nil {
		return err
	}

	overlaySetFields(reflect.ValueOf(config).Elem(), reflect.ValueOf(fromEnv).Elem(), envPrefix)

	return nil
}

func overlaySetFields(dst, src reflect.Value, prefix string) {
	t := dst.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			overlaySetFields(dst.Field(i), src.Field(i), prefix+field.Tag.Get("envPrefix"))
			continue
		}

		key := field.Tag.Get("env")
		if key == "" {
			continue
		}

		if value, ok := os.LookupEnv(prefix + key); ok && value != "" {
			dst.Field(i).Set(src.Field(i))
		}
	}
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "db-path":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Path = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "log-format":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Format = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
			}
		case "use-model":
			if b, ok := value.(bool); ok {
				config.Generator.UseModel = b
			}
		case "source":
			if specs, ok := value.([]string); ok {
				config.SourceSpecs = append(config.SourceSpecs, specs...)
			}
		default:
			return fmt.Errorf("unknown override: %s", key)
		}
	}

	return nil
}

// ParseSourceSpecs parses "name=driver:dsn" source declarations
func ParseSourceSpecs(specs []string) ([]SourceConfig, error) {
	sources := make([]SourceConfig, 0, len(specs))

	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		name, rest, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid source %q: expected name=driver:dsn", spec)
		}

		driver, dsn, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("invalid source %q: expected name=driver:dsn", spec)
		}

		sources = append(sources, SourceConfig{
			Name:   strings.TrimSpace(name),
			Driver: strings.ToLower(strings.TrimSpace(driver)),
			DSN:    dsn,
		})
	}

	return sources, nil
}

// mergeSources appends extra sources, replacing any with the same name
func mergeSources(base, extra []SourceConfig) []SourceConfig {
	merged := make([]SourceConfig, 0, len(base)+len(extra))
	index := make(map[string]int, len(base)+len(extra))

	for _, src := range append(append([]SourceConfig{}, base...), extra...) {
		if i, ok := index[src.Name]; ok {
			merged[i] = src
			continue
		}

		index[src.Name] = len(merged)
		merged = append(merged, src)
	}

	return merged
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	durations := map[string]string{
		"database query timeout": config.Database.QueryTimeout,
		"cache ttl":              config.Cache.TTL,
		"cache compute timeout":  config.Cache.ComputeTimeout,
		"search leg timeout":     config.Search.LegTimeout,
		"llm timeout":            config.LLM.Timeout,
		"embedding timeout":      config.Embedding.Timeout,
	}
	for name, value := range durations {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s: %s", name, value)
		}
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf(
			"database max connections must be positive: %d",
			config.Database.MaxConnections,
		)
	}

	if config.Cache.MaxEntrySizeMB <= 0 || config.Cache.MaxTotalSizeMB <= 0 {
		return fmt.Errorf("cache sizes must be positive")
	}

	if config.Search.MaxConcurrentSources <= 0 {
		return fmt.Errorf(
			"search max concurrent sources must be positive: %d",
			config.Search.MaxConcurrentSources,
		)
	}

	if config.Search.LimitPerSource <= 0 || config.Search.PageSize <= 0 {
		return fmt.Errorf("search limit per source and page size must be positive")
	}

	if config.Generator.BaseConfidence < 0 || config.Generator.MaxRuleConfidence > 1 ||
		config.Generator.BaseConfidence > config.Generator.MaxRuleConfidence {
		return fmt.Errorf(
			"generator confidence bounds must satisfy 0 <= base (%.2f) <= max (%.2f) <= 1",
			config.Generator.BaseConfidence, config.Generator.MaxRuleConfidence,
		)
	}

	if config.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive: %d", config.Embedding.Dimensions)
	}

	seen := make(map[string]bool)
	for _, src := range config.Sources {
		if src.Name == "" {
			return fmt.Errorf("source name is required")
		}

		if seen[src.Name] {
			return fmt.Errorf("duplicate source: %s", src.Name)
		}

		seen[src.Name] = true

		if !validDrivers[src.Driver] {
			return fmt.Errorf(
				"invalid driver for source %s: %s (must be duckdb, sqlite, postgres, or mysql)",
				src.Name, src.Driver,
			)
		}
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv(envPrefix + "CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// expandPath expands ~ to home directory in file paths
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Database.Path = expandPath(c.Database.Path)
	c.Logging.File = expandPath(c.Logging.File)

	for i, src := range c.Sources {
		if src.Driver == "duckdb" || src.Driver == "sqlite" {
			c.Sources[i].DSN = expandPath(src.DSN)
		}
	}
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/fedquery"
	}

	return filepath.Join(homeDir, ".config", "fedquery")
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Database.Path)}
	if strings.EqualFold(c.Logging.Output, "file") {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}

// mustDuration parses a validated duration string
func mustDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

// QueryTimeoutDuration returns the per-query database timeout
func (c DatabaseConfig) QueryTimeoutDuration() time.Duration {
	return mustDuration(c.QueryTimeout, 30*time.Second)
}

// TTLDuration returns the default cache entry lifetime
func (c CacheConfig) TTLDuration() time.Duration {
	return mustDuration(c.TTL, time.Hour)
}

// ComputeTimeoutDuration bounds a single cache materialization
func (c CacheConfig) ComputeTimeoutDuration() time.Duration {
	return mustDuration(c.ComputeTimeout, time.Minute)
}

// MaxEntryBytes returns the per-entry admission limit in bytes
func (c CacheConfig) MaxEntryBytes() int64 {
	return int64(c.MaxEntrySizeMB) << 20
}

// MaxTotalBytes returns the global cache budget in bytes
func (c CacheConfig) MaxTotalBytes() int64 {
	return int64(c.MaxTotalSizeMB) << 20
}

// LegTimeoutDuration returns the independent timeout for each search leg
func (c SearchConfig) LegTimeoutDuration() time.Duration {
	return mustDuration(c.LegTimeout, 30*time.Second)
}

// TimeoutDuration returns the language-model call timeout
func (c LLMConfig) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout, 30*time.Second)
}

// TimeoutDuration returns the embedding call timeout
func (c EmbeddingConfig) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout, 30*time.Second)
}
