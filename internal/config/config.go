// Package config loads and validates the veridict configuration. It wraps
// viper so settings come from the config file, environment variables with
// the VERIDICT prefix, and command-line flags, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/veridict/veridict/internal/integrity"
	"github.com/veridict/veridict/internal/worker"
)

// Config represents the complete veridict configuration.
type Config struct {
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Integrity   IntegrityConfig   `mapstructure:"integrity"`
	Budget      BudgetConfig      `mapstructure:"budget"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Paths       PathsConfig       `mapstructure:"paths"`
}

// PipelineConfig controls chunking, stage deadlines and stage pool size.
type PipelineConfig struct {
	// ChunkSize is the maximum chunk length in characters
	ChunkSize int `mapstructure:"chunk_size"`
	// ChunkOverlap is the number of characters shared between adjacent chunks
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Per-stage deadlines in seconds
	ExtractTimeoutSeconds int `mapstructure:"extract_timeout_seconds"`
	AuditTimeoutSeconds   int `mapstructure:"audit_timeout_seconds"`
	JudgeTimeoutSeconds   int `mapstructure:"judge_timeout_seconds"`
	ArbiterTimeoutSeconds int `mapstructure:"arbiter_timeout_seconds"`

	// Minimum successful workers per stage; below these the run aborts
	MinExtractors int `mapstructure:"min_extractors"`
	MinAuditors   int `mapstructure:"min_auditors"`
	MinJudges     int `mapstructure:"min_judges"`

	// MaxPool caps concurrent worker calls per stage
	MaxPool int `mapstructure:"max_pool"`
}

// ExtractTimeout returns the extraction stage deadline as a time.Duration.
func (p *PipelineConfig) ExtractTimeout() time.Duration {
	return time.Duration(p.ExtractTimeoutSeconds) * time.Second
}

// AuditTimeout returns the audit stage deadline as a time.Duration.
func (p *PipelineConfig) AuditTimeout() time.Duration {
	return time.Duration(p.AuditTimeoutSeconds) * time.Second
}

// JudgeTimeout returns the judgment stage deadline as a time.Duration.
func (p *PipelineConfig) JudgeTimeout() time.Duration {
	return time.Duration(p.JudgeTimeoutSeconds) * time.Second
}

// ArbiterTimeout returns the arbitration deadline as a time.Duration.
func (p *PipelineConfig) ArbiterTimeout() time.Duration {
	return time.Duration(p.ArbiterTimeoutSeconds) * time.Second
}

// RoleConfig binds one worker role to its model failover chain.
type RoleConfig struct {
	// Name is the stable worker id, e.g. "extractor-1"
	Name string `mapstructure:"name"`
	// Model is the primary model for the role
	Model string `mapstructure:"model"`
	// Substitutes are tried in order once the primary is spent
	Substitutes []string `mapstructure:"substitutes"`
	// Temperature passed to every call of this role
	Temperature float64 `mapstructure:"temperature"`
}

// Binding converts the role to its runtime form.
func (r RoleConfig) Binding() worker.RoleBinding {
	return worker.RoleBinding{
		Role:        r.Name,
		Primary:     r.Model,
		Substitutes: r.Substitutes,
		Temperature: r.Temperature,
	}
}

// ModelConfig carries the per-model call discipline.
type ModelConfig struct {
	// TimeoutSeconds bounds one call to the model
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MaxOutput is the completion token budget per call
	MaxOutput int `mapstructure:"max_output"`
	// MaxRetries is the number of retries per model; some models get zero
	// because retrying reproduces the refusal
	MaxRetries int `mapstructure:"max_retries"`
	// BackoffMs is the base backoff, doubled per retry
	BackoffMs int `mapstructure:"backoff_ms"`
}

// Spec converts the model config to its runtime form.
func (m ModelConfig) Spec() worker.ModelSpec {
	return worker.ModelSpec{
		Timeout:    time.Duration(m.TimeoutSeconds) * time.Second,
		MaxOutput:  m.MaxOutput,
		MaxRetries: m.MaxRetries,
		Backoff:    time.Duration(m.BackoffMs) * time.Millisecond,
	}
}

// WorkersConfig declares every worker role and the model catalog.
type WorkersConfig struct {
	Extractors []RoleConfig `mapstructure:"extractors"`
	Auditors   []RoleConfig `mapstructure:"auditors"`
	Judges     []RoleConfig `mapstructure:"judges"`
	Arbiter    RoleConfig   `mapstructure:"arbiter"`

	// AdversarialAuditor names the auditor that reviews adversarially.
	// Empty selects the last configured auditor.
	AdversarialAuditor string `mapstructure:"adversarial_auditor"`

	// Models maps model names to their call discipline
	Models map[string]ModelConfig `mapstructure:"models"`
}

// AdversarialRole resolves the adversarial auditor's role name.
func (w *WorkersConfig) AdversarialRole() string {
	if w.AdversarialAuditor != "" {
		return w.AdversarialAuditor
	}
	if len(w.Auditors) == 0 {
		return ""
	}
	return w.Auditors[len(w.Auditors)-1].Name
}

// ModelSpecs converts the model catalog to its runtime form.
func (w *WorkersConfig) ModelSpecs() map[string]worker.ModelSpec {
	specs := make(map[string]worker.ModelSpec, len(w.Models))
	for name, m := range w.Models {
		specs[name] = m.Spec()
	}
	return specs
}

// Bindings converts a role list to runtime bindings.
func Bindings(roles []RoleConfig) []worker.RoleBinding {
	out := make([]worker.RoleBinding, len(roles))
	for i, r := range roles {
		out[i] = r.Binding()
	}
	return out
}

// AggregationConfig controls evidence deduplication and the outlier filter.
type AggregationConfig struct {
	// SpanTolerance is the overlap slack, in characters, within which two
	// spans of the same value count as the same occurrence
	SpanTolerance int `mapstructure:"span_tolerance"`
	// OutlierRatio flags a worker whose item count falls below this share
	// of the median; 0 disables the filter
	OutlierRatio float64 `mapstructure:"outlier_ratio"`
}

// IntegrityConfig controls citation verification and the confidence penalty.
type IntegrityConfig struct {
	// OffsetWindow is the tolerance within which a misplaced excerpt is
	// imprecise rather than wrong
	OffsetWindow int `mapstructure:"offset_window"`

	// Penalty weights per annotation code
	PenaltyImprecise       float64 `mapstructure:"penalty_imprecise"`
	PenaltyWrong           float64 `mapstructure:"penalty_wrong"`
	PenaltyMismatch        float64 `mapstructure:"penalty_mismatch"`
	PenaltyUnknownEvidence float64 `mapstructure:"penalty_unknown_evidence"`
	PenaltyUncited         float64 `mapstructure:"penalty_uncited"`

	// PenaltyCap bounds the total subtracted penalty
	PenaltyCap float64 `mapstructure:"penalty_cap"`
	// SevereCeiling caps confidence when any citation was invented
	SevereCeiling float64 `mapstructure:"severe_ceiling"`
	// CoverageFloor and CoverageRate penalize coverage below the floor
	CoverageFloor float64 `mapstructure:"coverage_floor"`
	CoverageRate  float64 `mapstructure:"coverage_penalty_rate"`
	// UnresolvedPenalty applies per disagreement the arbiter left open
	UnresolvedPenalty float64 `mapstructure:"unresolved_penalty"`
}

// Policy converts the integrity config to its runtime form.
func (i *IntegrityConfig) Policy() integrity.Policy {
	return integrity.Policy{
		Penalties: map[integrity.Code]float64{
			integrity.CodeOffsetImprecise:    i.PenaltyImprecise,
			integrity.CodeOffsetWrong:        i.PenaltyWrong,
			integrity.CodeExcerptMismatch:    i.PenaltyMismatch,
			integrity.CodeUnknownEvidence:    i.PenaltyUnknownEvidence,
			integrity.CodeUncitedDeterminant: i.PenaltyUncited,
		},
		Cap:               i.PenaltyCap,
		SevereCeiling:     i.SevereCeiling,
		CoverageFloor:     i.CoverageFloor,
		CoverageRate:      i.CoverageRate,
		UnresolvedPenalty: i.UnresolvedPenalty,
	}
}

// BudgetConfig limits total usage per run. Zero disables a limit.
type BudgetConfig struct {
	MaxTotalTokens int64 `mapstructure:"max_total_tokens"`
	MaxCalls       int64 `mapstructure:"max_calls"`
}

// RegistryConfig controls basis reference verification.
type RegistryConfig struct {
	// Enabled turns registry lookups on; without a configured registry the
	// decision's basis references stay unverified
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is the registry service base URL
	Endpoint string `mapstructure:"endpoint"`
	// CacheSize bounds the resolved-name cache
	CacheSize int `mapstructure:"cache_size"`
	// DiscoveryTimeoutSeconds bounds one rediscovery attempt
	DiscoveryTimeoutSeconds int `mapstructure:"discovery_timeout_seconds"`
}

// DiscoveryTimeout returns the rediscovery bound as a time.Duration.
func (r *RegistryConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(r.DiscoveryTimeoutSeconds) * time.Second
}

// LoggingConfig controls debug logging behavior.
type LoggingConfig struct {
	// Enabled controls whether run logs are written (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
}

// PathsConfig controls where veridict stores run artifacts.
type PathsConfig struct {
	// ArtifactDir is where per-run artifacts are written. If empty, it
	// defaults to ".veridict/runs" relative to the working directory.
	// Supports ~ for home directory expansion.
	ArtifactDir string `mapstructure:"artifact_dir"`
}

// ResolveArtifactDir returns the resolved artifact directory path.
func (p *PathsConfig) ResolveArtifactDir(baseDir string) string {
	if p.ArtifactDir == "" {
		return filepath.Join(baseDir, ".veridict", "runs")
	}

	path := p.ArtifactDir
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			ChunkSize:             24000,
			ChunkOverlap:          2000,
			ExtractTimeoutSeconds: 300,
			AuditTimeoutSeconds:   240,
			JudgeTimeoutSeconds:   240,
			ArbiterTimeoutSeconds: 180,
			MinExtractors:         2,
			MinAuditors:           2,
			MinJudges:             2,
			MaxPool:               8,
		},
		Workers: WorkersConfig{
			Extractors: []RoleConfig{
				{Name: "extractor-1", Model: "standard"},
				{Name: "extractor-2", Model: "standard"},
				{Name: "extractor-3", Model: "fast"},
			},
			Auditors: []RoleConfig{
				{Name: "auditor-1", Model: "standard"},
				{Name: "auditor-2", Model: "strong", Temperature: 0.3},
			},
			Judges: []RoleConfig{
				{Name: "judge-1", Model: "strong"},
				{Name: "judge-2", Model: "standard"},
			},
			Arbiter:            RoleConfig{Name: "arbiter", Model: "strong", Substitutes: []string{"standard"}},
			AdversarialAuditor: "", // last auditor by default
			Models: map[string]ModelConfig{
				"fast":     {TimeoutSeconds: 60, MaxOutput: 4096, MaxRetries: 0, BackoffMs: 250},
				"standard": {TimeoutSeconds: 120, MaxOutput: 8192, MaxRetries: 1, BackoffMs: 500},
				"strong":   {TimeoutSeconds: 180, MaxOutput: 8192, MaxRetries: 2, BackoffMs: 1000},
			},
		},
		Aggregation: AggregationConfig{
			SpanTolerance: 32,
			OutlierRatio:  0.40,
		},
		Integrity: IntegrityConfig{
			OffsetWindow:           200,
			PenaltyImprecise:       0.01,
			PenaltyWrong:           0.03,
			PenaltyMismatch:        0.08,
			PenaltyUnknownEvidence: 0.05,
			PenaltyUncited:         0.05,
			PenaltyCap:             0.60,
			SevereCeiling:          0.80,
			CoverageFloor:          0.85,
			CoverageRate:           0.25,
			UnresolvedPenalty:      0.02,
		},
		Budget: BudgetConfig{
			MaxTotalTokens: 0, // No limit by default
			MaxCalls:       0,
		},
		Registry: RegistryConfig{
			Enabled:                 false,
			Endpoint:                "",
			CacheSize:               256,
			DiscoveryTimeoutSeconds: 5,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Paths: PathsConfig{
			ArtifactDir: "", // Empty means use default: .veridict/runs
		},
	}
}

// SetDefaults registers default values with viper. Role lists and the model
// catalog are not registered here; Load falls back to the defaults when the
// configuration leaves them empty.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("pipeline.chunk_size", defaults.Pipeline.ChunkSize)
	viper.SetDefault("pipeline.chunk_overlap", defaults.Pipeline.ChunkOverlap)
	viper.SetDefault("pipeline.extract_timeout_seconds", defaults.Pipeline.ExtractTimeoutSeconds)
	viper.SetDefault("pipeline.audit_timeout_seconds", defaults.Pipeline.AuditTimeoutSeconds)
	viper.SetDefault("pipeline.judge_timeout_seconds", defaults.Pipeline.JudgeTimeoutSeconds)
	viper.SetDefault("pipeline.arbiter_timeout_seconds", defaults.Pipeline.ArbiterTimeoutSeconds)
	viper.SetDefault("pipeline.min_extractors", defaults.Pipeline.MinExtractors)
	viper.SetDefault("pipeline.min_auditors", defaults.Pipeline.MinAuditors)
	viper.SetDefault("pipeline.min_judges", defaults.Pipeline.MinJudges)
	viper.SetDefault("pipeline.max_pool", defaults.Pipeline.MaxPool)

	viper.SetDefault("aggregation.span_tolerance", defaults.Aggregation.SpanTolerance)
	viper.SetDefault("aggregation.outlier_ratio", defaults.Aggregation.OutlierRatio)

	viper.SetDefault("integrity.offset_window", defaults.Integrity.OffsetWindow)
	viper.SetDefault("integrity.penalty_imprecise", defaults.Integrity.PenaltyImprecise)
	viper.SetDefault("integrity.penalty_wrong", defaults.Integrity.PenaltyWrong)
	viper.SetDefault("integrity.penalty_mismatch", defaults.Integrity.PenaltyMismatch)
	viper.SetDefault("integrity.penalty_unknown_evidence", defaults.Integrity.PenaltyUnknownEvidence)
	viper.SetDefault("integrity.penalty_uncited", defaults.Integrity.PenaltyUncited)
	viper.SetDefault("integrity.penalty_cap", defaults.Integrity.PenaltyCap)
	viper.SetDefault("integrity.severe_ceiling", defaults.Integrity.SevereCeiling)
	viper.SetDefault("integrity.coverage_floor", defaults.Integrity.CoverageFloor)
	viper.SetDefault("integrity.coverage_penalty_rate", defaults.Integrity.CoverageRate)
	viper.SetDefault("integrity.unresolved_penalty", defaults.Integrity.UnresolvedPenalty)

	viper.SetDefault("budget.max_total_tokens", defaults.Budget.MaxTotalTokens)
	viper.SetDefault("budget.max_calls", defaults.Budget.MaxCalls)

	viper.SetDefault("registry.enabled", defaults.Registry.Enabled)
	viper.SetDefault("registry.endpoint", defaults.Registry.Endpoint)
	viper.SetDefault("registry.cache_size", defaults.Registry.CacheSize)
	viper.SetDefault("registry.discovery_timeout_seconds", defaults.Registry.DiscoveryTimeoutSeconds)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.artifact_dir", defaults.Paths.ArtifactDir)

	viper.SetDefault("workers.adversarial_auditor", defaults.Workers.AdversarialAuditor)
}

// Load reads the configuration from viper into a Config struct and
// validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyWorkerFallbacks(&cfg)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// applyWorkerFallbacks fills role lists and the model catalog from the
// defaults when the configuration leaves them empty. Lists are
// all-or-nothing; a partially declared list is taken as the user's.
func applyWorkerFallbacks(cfg *Config) {
	defaults := Default()
	if len(cfg.Workers.Extractors) == 0 {
		cfg.Workers.Extractors = defaults.Workers.Extractors
	}
	if len(cfg.Workers.Auditors) == 0 {
		cfg.Workers.Auditors = defaults.Workers.Auditors
	}
	if len(cfg.Workers.Judges) == 0 {
		cfg.Workers.Judges = defaults.Workers.Judges
	}
	if cfg.Workers.Arbiter.Name == "" {
		cfg.Workers.Arbiter = defaults.Workers.Arbiter
	}
	if len(cfg.Workers.Models) == 0 {
		cfg.Workers.Models = defaults.Workers.Models
	}
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "veridict")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".veridict"
	}
	return filepath.Join(home, ".config", "veridict")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
