package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/linnemanlabs/repute/internal/incident"
)

// Analyzer providers.
const (
	AnalyzerNone   = "none"
	AnalyzerClaude = "claude"
	AnalyzerOpenAI = "openai"
)

// Config holds the service configuration. It implements the common
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	SlackWebhookURL       string

	Analyzer         string
	ClaudeAPIKey     string
	ClaudeModel      string
	OpenAIAPIKey     string
	OpenAIOrgID      string
	OpenAIModel      string
	OpenAIBaseURL    string
	AnalyzerTimeout  time.Duration
	AnalyzerRate     float64
	AnalyzerBurst    int
	AnalyzerCacheTTL time.Duration

	CredibilityFile      string
	SimilarityThreshold  float64
	AttentionThreshold   float64
	ReescalateThreshold  float64
	CorroborationSources int
	QuietPeriod          time.Duration
	ReopenWindow         time.Duration
	AutoReopen           bool
	SweepInterval        time.Duration
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	def := incident.DefaultPolicy()

	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")

	fs.StringVar(&c.Analyzer, "analyzer", AnalyzerNone, "claim analyzer provider (none, claude, openai)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude analyzer")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI analyzer")
	fs.StringVar(&c.OpenAIOrgID, "openai-org-id", "", "OpenAI organization ID (optional)")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o-mini", "OpenAI model to use")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible API base URL (empty = api.openai.com)")
	fs.DurationVar(&c.AnalyzerTimeout, "analyzer-timeout", def.AnalyzerTimeout, "per-mention analyzer deadline, including rate limit waits")
	fs.Float64Var(&c.AnalyzerRate, "analyzer-rate", 5, "analyzer requests per second (0 = unlimited)")
	fs.IntVar(&c.AnalyzerBurst, "analyzer-burst", 5, "analyzer request burst")
	fs.DurationVar(&c.AnalyzerCacheTTL, "analyzer-cache-ttl", time.Hour, "how long analyzer results are reused for identical text (0 = no cache)")

	fs.StringVar(&c.CredibilityFile, "credibility-file", "", "YAML credibility table (empty = built-in weights)")
	fs.Float64Var(&c.SimilarityThreshold, "similarity-threshold", def.SimilarityThreshold, "minimum similarity for a mention to join an incident (0..1]")
	fs.Float64Var(&c.AttentionThreshold, "attention-threshold", def.AttentionThreshold, "risk score that escalates an open incident to monitoring")
	fs.Float64Var(&c.ReescalateThreshold, "reescalate-threshold", def.ReescalateThreshold, "risk score that sends a responded incident back to monitoring")
	fs.IntVar(&c.CorroborationSources, "corroboration-sources", def.CorroborationSources, "distinct sources that escalate an open incident")
	fs.DurationVar(&c.QuietPeriod, "quiet-period", def.QuietPeriod, "time without mentions after which responded incidents close")
	fs.DurationVar(&c.ReopenWindow, "reopen-window", def.ReopenWindow, "how long a closed incident can still be reopened")
	fs.BoolVar(&c.AutoReopen, "auto-reopen", def.AutoReopen, "reopen closed incidents on hot new mentions")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", 5*time.Minute, "how often quiet incidents are checked for closure")
}

// Policy returns the default policy with the configured overrides applied.
func (c *Config) Policy() incident.Policy {
	p := incident.DefaultPolicy()
	p.SimilarityThreshold = c.SimilarityThreshold
	p.AttentionThreshold = c.AttentionThreshold
	p.ReescalateThreshold = c.ReescalateThreshold
	p.CorroborationSources = c.CorroborationSources
	p.QuietPeriod = c.QuietPeriod
	p.ReopenWindow = c.ReopenWindow
	p.AutoReopen = c.AutoReopen
	p.AnalyzerTimeout = c.AnalyzerTimeout
	return p
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.Analyzer {
	case AnalyzerNone:
	case AnalyzerClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required with ANALYZER=claude"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required with ANALYZER=claude"))
		}
	case AnalyzerOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required with ANALYZER=openai"))
		}
		if c.OpenAIModel == "" {
			errs = append(errs, errors.New("OPENAI_MODEL is required with ANALYZER=openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid ANALYZER %q (must be none, claude or openai)", c.Analyzer))
	}

	if c.AnalyzerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid ANALYZER_TIMEOUT %s (must be positive)", c.AnalyzerTimeout))
	}
	if c.AnalyzerRate < 0 {
		errs = append(errs, fmt.Errorf("invalid ANALYZER_RATE %v (must be >= 0)", c.AnalyzerRate))
	}
	if c.AnalyzerRate > 0 && c.AnalyzerBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid ANALYZER_BURST %d (must be >= 1)", c.AnalyzerBurst))
	}
	if c.AnalyzerCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid ANALYZER_CACHE_TTL %s (must be >= 0)", c.AnalyzerCacheTTL))
	}

	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid SWEEP_INTERVAL %s (must be positive)", c.SweepInterval))
	}

	// Thresholds and windows share the engine's own checks
	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid policy: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
