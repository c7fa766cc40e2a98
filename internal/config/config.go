// Package config loads and validates the orchestration configuration from
// YAML with environment overrides, and supports hot reload of tuning knobs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"inquest/internal/tracing"
)

// Default search paths tried when INQUEST_CONFIG is unset.
var defaultPaths = []string{
	"./config/inquest.yaml",
	"/etc/inquest/inquest.yaml",
}

// GateConfig holds the confidence-gate policy knobs. The thresholds encode
// the decision bands; they are configurable but must stay ordered.
type GateConfig struct {
	ClarifyThreshold float64 `mapstructure:"clarify_threshold"` // below: always clarify
	ConfirmThreshold float64 `mapstructure:"confirm_threshold"` // below: clarify when a required dimension is missing
	ProceedThreshold float64 `mapstructure:"proceed_threshold"` // at or above: proceed
	// PreSearch enables the lightweight background search for unverified
	// domain terms before evaluation.
	PreSearch        bool `mapstructure:"pre_search"`
	PreSearchResults int  `mapstructure:"pre_search_results"`
}

// BudgetConfig holds the three nested per-worker time budgets. Outer
// budgets must be at least as large as inner ones.
type BudgetConfig struct {
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	SoftExit    time.Duration `mapstructure:"soft_exit"`
	HardCeiling time.Duration `mapstructure:"hard_ceiling"`
}

// ResearchConfig holds pool and worker knobs.
type ResearchConfig struct {
	MaxParallelWorkers int `mapstructure:"max_parallel_workers"`
	RetrievalPermits   int `mapstructure:"retrieval_permits"`
	// AdaptivePermits lets the permit pool shrink or grow with observed
	// downstream latency and error rate.
	AdaptivePermits bool `mapstructure:"adaptive_permits"`
	// BlendWeight is the weight of model confidence in the final blend:
	// final = rule*(1-w) + model*w. The optimum is unresolved; the default
	// leans on rule confidence.
	BlendWeight float64 `mapstructure:"blend_weight"`

	MaxFindingsPerSubtask int `mapstructure:"max_findings_per_subtask"`
	MaxSourcesPerSubtask  int `mapstructure:"max_sources_per_subtask"`
	SnippetLimit          int `mapstructure:"snippet_limit"`
	FindingLimit          int `mapstructure:"finding_limit"`
	DeepFetchLimit        int `mapstructure:"deep_fetch_limit"`
}

// RetryConfig is the single retry policy applied to retrieval calls.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// RetrieverConfig holds the search/fetch capability endpoints.
type RetrieverConfig struct {
	SearchURL string  `mapstructure:"search_url"`
	RateRPS   float64 `mapstructure:"rate_rps"`
	RateBurst int     `mapstructure:"rate_burst"`
	// APIKey is normally injected via INQUEST_RETRIEVER_API_KEY.
	APIKey string      `mapstructure:"api_key"`
	Retry  RetryConfig `mapstructure:"retry"`
}

// LLMConfig holds the language-model service endpoint used by the
// evaluator, query suggester, scorer and composer capabilities.
type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	Backend   string        `mapstructure:"backend"` // "memory" or "redis"
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// SynthesisConfig holds synthesizer input caps and the authority rules file.
type SynthesisConfig struct {
	AuthorityRulesPath  string `mapstructure:"authority_rules_path"`
	MaxFindingsPerFocus int    `mapstructure:"max_findings_per_focus"`
	MaxSourcesPerFocus  int    `mapstructure:"max_sources_per_focus"`
}

// ObservabilityConfig holds metrics and logging settings.
type ObservabilityConfig struct {
	MetricsPort int `mapstructure:"metrics_port"`
	Logging     struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// Config is the root configuration object.
type Config struct {
	Gate          GateConfig          `mapstructure:"gate"`
	Budgets       BudgetConfig        `mapstructure:"budgets"`
	Research      ResearchConfig      `mapstructure:"research"`
	Retriever     RetrieverConfig     `mapstructure:"retriever"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Session       SessionConfig       `mapstructure:"session"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gate.clarify_threshold", 0.60)
	v.SetDefault("gate.confirm_threshold", 0.70)
	v.SetDefault("gate.proceed_threshold", 0.85)
	v.SetDefault("gate.pre_search", true)
	v.SetDefault("gate.pre_search_results", 3)

	v.SetDefault("budgets.tool_timeout", 20*time.Second)
	v.SetDefault("budgets.soft_exit", 30*time.Second)
	v.SetDefault("budgets.hard_ceiling", 300*time.Second)

	v.SetDefault("research.max_parallel_workers", 5)
	v.SetDefault("research.retrieval_permits", 5)
	v.SetDefault("research.adaptive_permits", true)
	v.SetDefault("research.blend_weight", 0.3)
	v.SetDefault("research.max_findings_per_subtask", 5)
	v.SetDefault("research.max_sources_per_subtask", 8)
	v.SetDefault("research.snippet_limit", 300)
	v.SetDefault("research.finding_limit", 300)
	v.SetDefault("research.deep_fetch_limit", 3)

	v.SetDefault("retriever.search_url", "https://serpapi.com/search.json")
	v.SetDefault("retriever.rate_rps", 2.0)
	v.SetDefault("retriever.rate_burst", 4)
	v.SetDefault("retriever.retry.max_attempts", 3)
	v.SetDefault("retriever.retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("retriever.retry.max_interval", 5*time.Second)

	v.SetDefault("llm.base_url", "http://llm-service:8000")
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.ttl", 24*time.Hour)

	v.SetDefault("synthesis.max_findings_per_focus", 10)
	v.SetDefault("synthesis.max_sources_per_focus", 5)

	v.SetDefault("observability.metrics_port", 2112)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "inquest")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("INQUEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// resolvePath returns the config file path to use, or "" when running on
// defaults only.
func resolvePath() string {
	if p := os.Getenv("INQUEST_CONFIG"); p != "" {
		return p
	}
	for _, p := range defaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ResolvePath exposes the config file the loader would pick, for callers
// that need to watch it.
func ResolvePath() string { return resolvePath() }

// Load reads configuration from INQUEST_CONFIG (or the default search
// paths), applies environment overrides and validates the result. A
// missing config file is not an error; defaults plus env apply.
func Load() (*Config, error) {
	return LoadFile(resolvePath())
}

// LoadFile is Load with an explicit path. An empty path skips file reading.
func LoadFile(path string) (*Config, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	g := c.Gate
	if !(g.ClarifyThreshold > 0 && g.ClarifyThreshold <= g.ConfirmThreshold && g.ConfirmThreshold <= g.ProceedThreshold && g.ProceedThreshold <= 1) {
		return fmt.Errorf("gate thresholds must satisfy 0 < clarify <= confirm <= proceed <= 1, got %.2f/%.2f/%.2f",
			g.ClarifyThreshold, g.ConfirmThreshold, g.ProceedThreshold)
	}
	b := c.Budgets
	if b.ToolTimeout <= 0 || b.SoftExit < b.ToolTimeout || b.HardCeiling < b.SoftExit {
		return fmt.Errorf("budgets must satisfy 0 < tool_timeout <= soft_exit <= hard_ceiling, got %s/%s/%s",
			b.ToolTimeout, b.SoftExit, b.HardCeiling)
	}
	r := c.Research
	if r.MaxParallelWorkers < 1 {
		return fmt.Errorf("research.max_parallel_workers must be >= 1, got %d", r.MaxParallelWorkers)
	}
	if r.RetrievalPermits < 1 {
		return fmt.Errorf("research.retrieval_permits must be >= 1, got %d", r.RetrievalPermits)
	}
	if r.BlendWeight < 0 || r.BlendWeight > 1 {
		return fmt.Errorf("research.blend_weight must be in [0,1], got %.2f", r.BlendWeight)
	}
	if c.Retriever.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retriever.retry.max_attempts must be >= 1, got %d", c.Retriever.Retry.MaxAttempts)
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.backend must be \"memory\" or \"redis\", got %q", c.Session.Backend)
	}
	return nil
}
