// Package config loads the engine's configuration from a YAML file with
// environment variable overrides, and supports hot-reloading per-metric
// threshold overrides from a watched file.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// EnvMode is the deployment mode.
type EnvMode string

const (
	EnvDev     EnvMode = "dev"
	EnvStaging EnvMode = "staging"
	EnvProd    EnvMode = "prod"
	EnvDemo    EnvMode = "demo"
)

// AuthMode selects whether the HTTP surface requires authentication.
type AuthMode string

const (
	AuthPublic  AuthMode = "public"
	AuthPrivate AuthMode = "private"
)

// Config is the root configuration object, unmarshalled from YAML and then
// overridden by recognized environment variables.
type Config struct {
	EnvMode               EnvMode            `yaml:"env_mode"`
	AuthMode              AuthMode           `yaml:"auth_mode"`
	DatabaseURL           string             `yaml:"database_url"`
	EnableLLMTranslation  bool               `yaml:"enable_llm_translation"`
	TimeseriesBackend     string             `yaml:"timeseries_backend"` // "memory" | "influx"
	AssessmentDays        int                `yaml:"assessment_days"`
	MaxBatchIngest        int                `yaml:"max_batch_ingest"`
	MaxDailyInsights      int                `yaml:"max_daily_insights"`
	MinDaysBetweenRepeats int                `yaml:"min_days_between_repeats"`
	RateLimitPerMinute    int                `yaml:"rate_limit_per_minute"`
	ThresholdOverrides    map[string]float64 `yaml:"threshold_overrides"`
}

// Default returns the built-in defaults matching spec.md §6.
func Default() Config {
	return Config{
		EnvMode:               EnvDev,
		AuthMode:              AuthPrivate,
		TimeseriesBackend:     "memory",
		AssessmentDays:        30,
		MaxBatchIngest:        1000,
		MaxDailyInsights:      10,
		MinDaysBetweenRepeats: 7,
		RateLimitPerMinute:    120,
		ThresholdOverrides:    map[string]float64{},
	}
}

// Load reads a YAML config file (if path is non-empty and exists), then
// applies recognized environment variable overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENV_MODE"); v != "" {
		cfg.EnvMode = EnvMode(v)
	}
	if v := os.Getenv("AUTH_MODE"); v != "" {
		cfg.AuthMode = AuthMode(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ENABLE_LLM_TRANSLATION"); v != "" {
		cfg.EnableLLMTranslation = v == "true" || v == "1"
	}
	if v := os.Getenv("TIMESERIES_BACKEND"); v != "" {
		cfg.TimeseriesBackend = v
	}
	if v := envInt("ASSESSMENT_DAYS"); v != nil {
		cfg.AssessmentDays = *v
	}
	if v := envInt("MAX_BATCH_INGEST"); v != nil {
		cfg.MaxBatchIngest = *v
	}
	if v := envInt("MAX_DAILY_INSIGHTS"); v != nil {
		cfg.MaxDailyInsights = *v
	}
	if v := envInt("MIN_DAYS_BETWEEN_REPEATS"); v != nil {
		cfg.MinDaysBetweenRepeats = *v
	}
	if v := envInt("RATE_LIMIT_PER_MINUTE"); v != nil {
		cfg.RateLimitPerMinute = *v
	}

	prefix := "METRIC_THRESHOLD_"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		metricKey := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		if f, err := strconv.ParseFloat(parts[1], 64); err == nil {
			if cfg.ThresholdOverrides == nil {
				cfg.ThresholdOverrides = map[string]float64{}
			}
			cfg.ThresholdOverrides[metricKey] = f
		}
	}
}

func envInt(name string) *int {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

// ThresholdWatcher watches a YAML file of per-metric threshold overrides
// and atomically swaps them in on change, so Get returns the current
// values without a restart. The loop runner and attribution engine do not
// read it; their thresholds come from their own policy tables.
type ThresholdWatcher struct {
	mu      sync.RWMutex
	current map[string]float64
	watcher *fsnotify.Watcher
}

// NewThresholdWatcher loads path once and begins watching it for changes.
// If path is empty or the file does not exist, the watcher holds an empty
// override map and watches nothing.
func NewThresholdWatcher(path string) (*ThresholdWatcher, error) {
	tw := &ThresholdWatcher{current: map[string]float64{}}
	if path == "" {
		return tw, nil
	}
	if err := tw.reload(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err == nil {
		tw.watcher = w
		go tw.watchLoop(path)
	} else {
		_ = w.Close()
	}
	return tw, nil
}

func (tw *ThresholdWatcher) reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]float64
	if err := yaml.Unmarshal(data, &m); err != nil {
		return err
	}
	tw.mu.Lock()
	tw.current = m
	tw.mu.Unlock()
	return nil
}

func (tw *ThresholdWatcher) watchLoop(path string) {
	for event := range tw.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
			_ = tw.reload(path)
		}
	}
}

// Get returns the override for metricKey and whether one is configured.
func (tw *ThresholdWatcher) Get(metricKey string) (float64, bool) {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	v, ok := tw.current[metricKey]
	return v, ok
}

// Close stops the underlying filesystem watcher, if any.
func (tw *ThresholdWatcher) Close() error {
	if tw.watcher == nil {
		return nil
	}
	return tw.watcher.Close()
}
