// Package config loads the runtime's environment-driven configuration:
// .env files via godotenv, ${VAR}/${VAR:-default} expansion via regexp,
// and (for the small number of structured settings that warrant it) YAML
// decoded with yaml.v3 into a mapstructure-tagged struct, hot-reloaded on
// file change via fsnotify — grounded directly on the teacher's
// pkg/config/env.go (expandEnvVars, LoadEnvFiles, GetProviderAPIKey) and
// pkg/config/provider/file.go (fsnotify watch-with-debounce loop),
// generalized from Hector's YAML-first agent config to this runtime's
// flat environment-variable configuration surface (spec.md §6).
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/heavyforge/heavyforge/internal/rtlog"
)

// Config is the fully resolved runtime configuration, populated from
// environment variables (after .env expansion) per spec.md §6.
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	JWTSecretKey string `mapstructure:"jwt_secret_key"`
	JWTAlgorithm string `mapstructure:"jwt_algorithm"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	StoragePath string `mapstructure:"storage_path"`

	DefaultModel       string `mapstructure:"default_model"`
	ReasoningModel     string `mapstructure:"reasoning_model"`
	AdvancedModel      string `mapstructure:"advanced_model"`
	FastModel          string `mapstructure:"fast_model"`
	MultimodalModel    string `mapstructure:"multimodal_model"`
	EmbeddingModel     string `mapstructure:"embedding_model"`
	SearchModel        string `mapstructure:"search_model"`
	CostEfficientModel string `mapstructure:"cost_efficient_model"`

	RateLimitRequestsPerMinute int           `mapstructure:"rate_limit_requests_per_minute"`
	SessionTimeout             time.Duration `mapstructure:"session_timeout"`
	MaxConcurrentSessions      int           `mapstructure:"max_concurrent_sessions"`
	AgentTimeout               time.Duration `mapstructure:"agent_timeout"`
	MaxWorkflowDuration        time.Duration `mapstructure:"max_workflow_duration"`
	MaxAgentsPerWorkflow       int           `mapstructure:"max_agents_per_workflow"`

	// ProviderAPIKeys maps a provider name (openai/anthropic/gemini/...)
	// to its API key, read from <PROVIDER>_API_KEY.
	ProviderAPIKeys map[string]string `mapstructure:"-"`

	// Extra holds any additional YAML-sourced settings not covered by the
	// named fields above (e.g. per-environment overrides), decoded loosely.
	Extra map[string]any `mapstructure:"-"`
}

var knownProviders = []string{"openai", "anthropic", "gemini", "cohere", "mistral", "groq"}

// defaults mirrors hector's SetDefaults pattern: every field gets a
// sensible value so an operator can run with an empty environment.
func defaults() Config {
	return Config{
		JWTAlgorithm:               "HS256",
		StoragePath:                "./data",
		DefaultModel:               "gpt-4o-mini",
		ReasoningModel:             "o1",
		AdvancedModel:              "gpt-4o",
		FastModel:                  "gpt-4o-mini",
		MultimodalModel:            "gpt-4o",
		EmbeddingModel:             "text-embedding-3-small",
		SearchModel:                "gpt-4o-mini",
		CostEfficientModel:         "gpt-4o-mini",
		RateLimitRequestsPerMinute: 60,
		SessionTimeout:             30 * time.Minute,
		MaxConcurrentSessions:      100,
		AgentTimeout:               120 * time.Second,
		MaxWorkflowDuration:        4 * time.Hour,
		MaxAgentsPerWorkflow:       20,
		ProviderAPIKeys:            map[string]string{},
	}
}

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
	simple      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

// expandEnvVars resolves ${VAR}, ${VAR:-default}, and $VAR references
// against the process environment.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) != 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.simple.FindStringSubmatch(match)
		if len(parts) != 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
	return s
}

// LoadEnvFiles loads .env.local then .env into the process environment,
// not overriding variables already set (godotenv's default behavior).
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ProviderAPIKey returns the API key environment variable for provider,
// e.g. "anthropic" -> ANTHROPIC_API_KEY.
func ProviderAPIKey(provider string) string {
	return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
}

func getenvExpanded(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return expandEnvVars(v), true
}

func getenvInt(key string, fallback int) int {
	if v, ok := getenvExpanded(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvMinutes(key string, fallback time.Duration) time.Duration {
	if v, ok := getenvExpanded(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Minute
		}
	}
	return fallback
}

func getenvSeconds(key string, fallback time.Duration) time.Duration {
	if v, ok := getenvExpanded(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getenvHours(key string, fallback time.Duration) time.Duration {
	if v, ok := getenvExpanded(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Hour
		}
	}
	return fallback
}

func getenvList(key string, fallback []string) []string {
	v, ok := getenvExpanded(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads the process environment (after loading .env files) into a
// Config, applying defaults for anything unset, per spec.md §6.
func Load() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}
	cfg := defaults()

	if v, ok := getenvExpanded("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := getenvExpanded("JWT_SECRET_KEY"); ok {
		cfg.JWTSecretKey = v
	}
	if v, ok := getenvExpanded("JWT_ALGORITHM"); ok {
		cfg.JWTAlgorithm = v
	}
	cfg.CORSOrigins = getenvList("CORS_ORIGINS", cfg.CORSOrigins)
	if v, ok := getenvExpanded("STORAGE_PATH"); ok {
		cfg.StoragePath = v
	}

	if v, ok := getenvExpanded("DEFAULT_MODEL"); ok {
		cfg.DefaultModel = v
	}
	if v, ok := getenvExpanded("REASONING_MODEL"); ok {
		cfg.ReasoningModel = v
	}
	if v, ok := getenvExpanded("ADVANCED_MODEL"); ok {
		cfg.AdvancedModel = v
	}
	if v, ok := getenvExpanded("FAST_MODEL"); ok {
		cfg.FastModel = v
	}
	if v, ok := getenvExpanded("MULTIMODAL_MODEL"); ok {
		cfg.MultimodalModel = v
	}
	if v, ok := getenvExpanded("EMBEDDING_MODEL"); ok {
		cfg.EmbeddingModel = v
	}
	if v, ok := getenvExpanded("SEARCH_MODEL"); ok {
		cfg.SearchModel = v
	}
	if v, ok := getenvExpanded("COST_EFFICIENT_MODEL"); ok {
		cfg.CostEfficientModel = v
	}

	cfg.RateLimitRequestsPerMinute = getenvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", cfg.RateLimitRequestsPerMinute)
	cfg.SessionTimeout = getenvMinutes("SESSION_TIMEOUT_MINUTES", cfg.SessionTimeout)
	cfg.MaxConcurrentSessions = getenvInt("MAX_CONCURRENT_SESSIONS", cfg.MaxConcurrentSessions)
	cfg.AgentTimeout = getenvSeconds("AGENT_TIMEOUT_SECONDS", cfg.AgentTimeout)
	cfg.MaxWorkflowDuration = getenvHours("MAX_WORKFLOW_DURATION_HOURS", cfg.MaxWorkflowDuration)
	cfg.MaxAgentsPerWorkflow = getenvInt("MAX_AGENTS_PER_WORKFLOW", cfg.MaxAgentsPerWorkflow)

	for _, p := range knownProviders {
		if key := ProviderAPIKey(p); key != "" {
			cfg.ProviderAPIKeys[p] = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the runtime cannot safely start with.
func (c *Config) Validate() error {
	if c.JWTAlgorithm != "" && c.JWTAlgorithm != "HS256" && c.JWTAlgorithm != "RS256" {
		return fmt.Errorf("config: unsupported jwt algorithm %q", c.JWTAlgorithm)
	}
	if c.RateLimitRequestsPerMinute < 0 {
		return fmt.Errorf("config: rate_limit_requests_per_minute must be >= 0")
	}
	if c.MaxConcurrentSessions < 0 {
		return fmt.Errorf("config: max_concurrent_sessions must be >= 0")
	}
	return nil
}

// LoadExtraYAML decodes an optional YAML file (e.g. routing targets,
// team rosters) into Extra, expanding env vars in every string value
// first. Missing files are not an error.
func (c *Config) LoadExtraYAML(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	c.Extra = expandEnvVarsInData(raw).(map[string]any)
	return nil
}

func parseValue(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// DecodeExtra decodes c.Extra (raw YAML-sourced data, after env
// expansion) into out, a pointer to a caller-owned struct — mirrors the
// teacher's loader.go decodeConfig step, generalized so any package can
// pull its own typed settings out of the supplementary YAML tree without
// this package knowing its shape.
func (c *Config) DecodeExtra(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("config: failed to build decoder: %w", err)
	}
	return dec.Decode(c.Extra)
}

func expandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		expanded := expandEnvVars(v)
		if expanded != v {
			return parseValue(expanded)
		}
		return expanded
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = expandEnvVarsInData(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = expandEnvVarsInData(val)
		}
		return out
	default:
		return v
	}
}

// Watcher hot-reloads extra YAML config on file change, mirroring the
// teacher's FileProvider: watch the containing directory (not the file
// directly, since editors replace files on save rather than writing
// in-place), debounce bursts of events, and deliver the reloaded Config
// on a channel.
type Watcher struct {
	path string
	base *Config

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewWatcher builds a Watcher over path, layering reloads onto base.
func NewWatcher(path string, base *Config) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to resolve path: %w", err)
	}
	return &Watcher{path: abs, base: base}, nil
}

// Watch starts watching w.path for changes, invoking onChange with a
// freshly reloaded Config after each debounced burst. Blocks until ctx is
// cancelled.
func (w *Watcher) Watch(ctx context.Context, onChange func(*Config)) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("config: watcher is closed")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("config: failed to create file watcher: %w", err)
	}
	w.watcher = watcher
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: failed to watch %s: %w", dir, err)
	}
	defer watcher.Close()

	const debounce = 100 * time.Millisecond
	var timer *time.Timer
	fire := func() {
		cfg := *w.base
		if err := cfg.LoadExtraYAML(w.path); err != nil {
			rtlog.Logger().Error("config reload failed", "error", err)
			return
		}
		onChange(&cfg)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, fire)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			rtlog.Logger().Error("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}
