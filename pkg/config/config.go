// Package config provides configuration loading, validation, and management for promptsmith.
//
// A single global Config is kept in memory behind a mutex. LoadConfig reads
// <projectDir>/.promptsmith/config.json (or config.yaml), applies defaults and PROMPTSMITH_*
// environment overrides, validates, and writes the JSON file back so new fields appear.
// GetConfig returns the config by value.
//
//	err := config.LoadConfig(projectDir)
//	cfg, err := config.GetConfig()
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"promptsmith/pkg/logx"
)

// SchemaVersion is bumped on every incompatible config change.
const SchemaVersion = "1.0"

// ProjectConfigDir is the per-project directory holding config, store and logs.
const ProjectConfigDir = ".promptsmith"

// Store backends.
const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// Loop and scoring defaults.
const (
	DefaultMaxIterations     = 5
	DefaultOptimalThreshold  = 8.5
	DefaultClarifyThreshold  = 0.3
	DefaultHeuristicWeight   = 0.5
	DefaultModelWeight       = 0.5
	DefaultLearnThreshold    = 8.0
	DefaultSolutionThreshold = 7.0
	DefaultSimilarity        = 0.9
	DefaultGenerationTimeout = 60 * time.Second
)

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string
	logger     *logx.Logger
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LoopConfig controls iteration and convergence.
type LoopConfig struct {
	MaxIterations    int     `json:"max_iterations" yaml:"max_iterations"`
	OptimalThreshold float64 `json:"optimal_threshold" yaml:"optimal_threshold"`
	ClarifyThreshold float64 `json:"clarify_threshold" yaml:"clarify_threshold"`
}

// ScoringConfig controls score aggregation and what the store learns.
type ScoringConfig struct {
	HeuristicWeight   float64 `json:"heuristic_weight" yaml:"heuristic_weight"`
	ModelWeight       float64 `json:"model_weight" yaml:"model_weight"`
	LearnThreshold    float64 `json:"learn_threshold" yaml:"learn_threshold"`
	SolutionThreshold float64 `json:"solution_threshold" yaml:"solution_threshold"`
}

// StoreConfig selects and configures the pattern store backend.
type StoreConfig struct {
	Backend    string  `json:"backend" yaml:"backend"`
	Path       string  `json:"path" yaml:"path"`
	RedisURL   string  `json:"redis_url" yaml:"redis_url"`
	RedisKey   string  `json:"redis_key" yaml:"redis_key"`
	Similarity float64 `json:"similarity" yaml:"similarity"`
	AutoFlush  bool    `json:"auto_flush" yaml:"auto_flush"`
}

// CircuitBreakerConfig defines configuration for circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
}

// RetryConfig defines configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
	Jitter        bool          `json:"jitter" yaml:"jitter"`
}

// RateLimitConfig bounds provider throughput shared by concurrent sessions.
type RateLimitConfig struct {
	TokensPerMinute int `json:"tokens_per_minute" yaml:"tokens_per_minute"`
	MaxConcurrency  int `json:"max_concurrency" yaml:"max_concurrency"`
}

// ResilienceConfig bundles the generation middleware settings.
type ResilienceConfig struct {
	Timeout        time.Duration        `json:"timeout" yaml:"timeout"`
	Retry          RetryConfig          `json:"retry" yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
}

// LLMConfig configures the optional generation capability.
type LLMConfig struct {
	Enabled     bool             `json:"enabled" yaml:"enabled"`
	Model       string           `json:"model" yaml:"model"`
	MaxTokens   int              `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64          `json:"temperature" yaml:"temperature"`
	Resilience  ResilienceConfig `json:"resilience" yaml:"resilience"`
}

// MetricsConfig defines configuration for metrics collection.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// LogsConfig controls the rotated log file.
type LogsConfig struct {
	Dir       string `json:"dir" yaml:"dir"`
	MaxSizeMB int    `json:"max_size_mb" yaml:"max_size_mb"`
	Tee       bool   `json:"tee" yaml:"tee"`
}

// EventsConfig controls the JSONL progress event log.
type EventsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
}

// Config is the full promptsmith configuration.
type Config struct {
	SchemaVersion string        `json:"schema_version" yaml:"schema_version"`
	Loop          LoopConfig    `json:"loop" yaml:"loop"`
	Scoring       ScoringConfig `json:"scoring" yaml:"scoring"`
	Store         StoreConfig   `json:"store" yaml:"store"`
	LLM           LLMConfig     `json:"llm" yaml:"llm"`
	Metrics       MetricsConfig `json:"metrics" yaml:"metrics"`
	Logs          LogsConfig    `json:"logs" yaml:"logs"`
	Events        EventsConfig  `json:"events" yaml:"events"`
}

// Default returns a config with every default applied.
func Default() Config {
	cfg := Config{SchemaVersion: SchemaVersion}
	applyDefaults(&cfg)
	return cfg
}

// GetConfig returns the current global config BY VALUE.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting sets the global config. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// GetProjectDir returns the directory passed to LoadConfig.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// LoadConfig loads <projectDir>/.promptsmith/config.{json,yaml} into the global singleton.
//
// Missing file: a default config is created and saved.
// Unparseable file: an error is returned so user edits are never overwritten.
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = inputProjectDir
	dir := filepath.Join(projectDir, ProjectConfigDir)
	jsonPath := filepath.Join(dir, "config.json")
	yamlPath := filepath.Join(dir, "config.yaml")

	var loaded *Config
	var err error
	switch {
	case fileExists(yamlPath):
		getLogger().Info("📝 Loading config from %s", yamlPath)
		loaded, err = loadYAML(yamlPath)
	case fileExists(jsonPath):
		getLogger().Info("📝 Loading config from %s", jsonPath)
		loaded, err = loadJSON(jsonPath)
	default:
		getLogger().Info("📝 Config file not found, creating new config at %s", jsonPath)
		cfg := Default()
		loaded = &cfg
	}
	if err != nil {
		return fmt.Errorf("fatal: config file exists but cannot be parsed (to avoid overwriting your changes): %w", err)
	}

	applyDefaults(loaded)
	applyEnvOverrides(loaded)
	resolvePaths(loaded, projectDir)
	if err := validateConfig(loaded); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config = loaded

	if !fileExists(yamlPath) {
		if err := SaveConfig(config, projectDir); err != nil {
			return fmt.Errorf("failed to save config with applied defaults: %w", err)
		}
	}
	getLogger().Info("✅ Config loaded and validated successfully")
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON %s: %w", path, err)
	}
	return &cfg, nil
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig saves config to <projectDir>/.promptsmith/config.json.
func SaveConfig(cfg *Config, projectDir string) error {
	configPath := filepath.Join(projectDir, ProjectConfigDir, "config.json")
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyDefaults fills zero values.
func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.Loop.MaxIterations == 0 {
		cfg.Loop.MaxIterations = DefaultMaxIterations
	}
	if cfg.Loop.OptimalThreshold == 0 {
		cfg.Loop.OptimalThreshold = DefaultOptimalThreshold
	}
	if cfg.Loop.ClarifyThreshold == 0 {
		cfg.Loop.ClarifyThreshold = DefaultClarifyThreshold
	}
	if cfg.Scoring.HeuristicWeight == 0 && cfg.Scoring.ModelWeight == 0 {
		cfg.Scoring.HeuristicWeight = DefaultHeuristicWeight
		cfg.Scoring.ModelWeight = DefaultModelWeight
	}
	if cfg.Scoring.LearnThreshold == 0 {
		cfg.Scoring.LearnThreshold = DefaultLearnThreshold
	}
	if cfg.Scoring.SolutionThreshold == 0 {
		cfg.Scoring.SolutionThreshold = DefaultSolutionThreshold
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendFile
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Backend {
		case StoreBackendSQLite:
			cfg.Store.Path = "patterns.db"
		default:
			cfg.Store.Path = "learning_cache.json"
		}
	}
	if cfg.Store.RedisKey == "" {
		cfg.Store.RedisKey = "promptsmith:patterns"
	}
	if cfg.Store.Similarity == 0 {
		cfg.Store.Similarity = DefaultSimilarity
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = ModelGPT4Turbo
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	res := &cfg.LLM.Resilience
	if res.Timeout == 0 {
		res.Timeout = DefaultGenerationTimeout
	}
	if res.Retry.MaxAttempts == 0 {
		res.Retry = RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 2.0,
			Jitter:        true,
		}
	}
	if res.CircuitBreaker.FailureThreshold == 0 {
		res.CircuitBreaker = CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		}
	}
	if res.RateLimit.TokensPerMinute == 0 {
		res.RateLimit.TokensPerMinute = 100000
	}
	if res.RateLimit.MaxConcurrency == 0 {
		res.RateLimit.MaxConcurrency = 4
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "promptsmith"
	}
	if cfg.Logs.Dir == "" {
		cfg.Logs.Dir = "logs"
	}
	if cfg.Logs.MaxSizeMB == 0 {
		cfg.Logs.MaxSizeMB = 10
	}
	if cfg.Events.Dir == "" {
		cfg.Events.Dir = "events"
	}
}

// resolvePaths anchors relative paths under <projectDir>/.promptsmith.
func resolvePaths(cfg *Config, dir string) {
	base := filepath.Join(dir, ProjectConfigDir)
	if !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(base, cfg.Store.Path)
	}
	if !filepath.IsAbs(cfg.Logs.Dir) {
		cfg.Logs.Dir = filepath.Join(base, cfg.Logs.Dir)
	}
	if !filepath.IsAbs(cfg.Events.Dir) {
		cfg.Events.Dir = filepath.Join(base, cfg.Events.Dir)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be positive, got %d", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.OptimalThreshold <= 0 || cfg.Loop.OptimalThreshold > 10 {
		return fmt.Errorf("loop.optimal_threshold must be in (0, 10], got %.2f", cfg.Loop.OptimalThreshold)
	}
	if cfg.Loop.ClarifyThreshold < 0 || cfg.Loop.ClarifyThreshold > 1 {
		return fmt.Errorf("loop.clarify_threshold must be in [0, 1], got %.2f", cfg.Loop.ClarifyThreshold)
	}
	h, m := cfg.Scoring.HeuristicWeight, cfg.Scoring.ModelWeight
	if h < 0 || m < 0 || h+m == 0 {
		return fmt.Errorf("scoring weights must be non-negative and not both zero")
	}
	if math.Abs(h+m-1) > 1e-6 {
		getLogger().Warn("⚠️  Scoring weights %.2f/%.2f do not sum to 1; they will be normalised", h, m)
	}
	if cfg.Store.Similarity <= 0 || cfg.Store.Similarity > 1 {
		return fmt.Errorf("store.similarity must be in (0, 1], got %.2f", cfg.Store.Similarity)
	}
	switch cfg.Store.Backend {
	case StoreBackendFile, StoreBackendSQLite, StoreBackendMemory:
	case StoreBackendRedis:
		if cfg.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if cfg.LLM.Enabled {
		if _, err := GetModelProvider(cfg.LLM.Model); err != nil {
			return fmt.Errorf("llm.model: %w", err)
		}
	}
	if cfg.LLM.Resilience.Timeout <= 0 {
		return fmt.Errorf("llm.resilience.timeout must be positive")
	}
	return nil
}
