package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "pipeline.chunk_size")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePipeline()...)
	errors = append(errors, c.validateWorkers()...)
	errors = append(errors, c.validateAggregation()...)
	errors = append(errors, c.validateIntegrity()...)
	errors = append(errors, c.validateRegistry()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validatePipeline() []ValidationError {
	var errors []ValidationError
	p := c.Pipeline

	if p.ChunkSize <= 0 {
		errors = append(errors, ValidationError{
			Field: "pipeline.chunk_size", Value: p.ChunkSize,
			Message: "must be positive",
		})
	}
	if p.ChunkOverlap < 0 || (p.ChunkSize > 0 && p.ChunkOverlap >= p.ChunkSize) {
		errors = append(errors, ValidationError{
			Field: "pipeline.chunk_overlap", Value: p.ChunkOverlap,
			Message: "must be non-negative and smaller than chunk_size",
		})
	}

	for _, t := range []struct {
		field string
		value int
	}{
		{"pipeline.extract_timeout_seconds", p.ExtractTimeoutSeconds},
		{"pipeline.audit_timeout_seconds", p.AuditTimeoutSeconds},
		{"pipeline.judge_timeout_seconds", p.JudgeTimeoutSeconds},
		{"pipeline.arbiter_timeout_seconds", p.ArbiterTimeoutSeconds},
	} {
		if t.value <= 0 {
			errors = append(errors, ValidationError{
				Field: t.field, Value: t.value,
				Message: "must be positive",
			})
		}
	}

	if p.MaxPool <= 0 {
		errors = append(errors, ValidationError{
			Field: "pipeline.max_pool", Value: p.MaxPool,
			Message: "must be positive",
		})
	}
	return errors
}

func (c *Config) validateWorkers() []ValidationError {
	var errors []ValidationError
	w := c.Workers

	type roleList struct {
		field    string
		roles    []RoleConfig
		minField string
		min      int
	}
	lists := []roleList{
		{"workers.extractors", w.Extractors, "pipeline.min_extractors", c.Pipeline.MinExtractors},
		{"workers.auditors", w.Auditors, "pipeline.min_auditors", c.Pipeline.MinAuditors},
		{"workers.judges", w.Judges, "pipeline.min_judges", c.Pipeline.MinJudges},
	}

	for _, l := range lists {
		if len(l.roles) == 0 {
			errors = append(errors, ValidationError{
				Field: l.field, Value: 0,
				Message: "at least one role is required",
			})
			continue
		}
		if l.min < 1 || l.min > len(l.roles) {
			errors = append(errors, ValidationError{
				Field: l.minField, Value: l.min,
				Message: fmt.Sprintf("must be between 1 and the %d configured roles", len(l.roles)),
			})
		}
		errors = append(errors, c.validateRoles(l.field, l.roles)...)
	}

	if w.Arbiter.Name == "" {
		errors = append(errors, ValidationError{
			Field: "workers.arbiter.name", Value: w.Arbiter.Name,
			Message: "is required",
		})
	} else {
		errors = append(errors, c.validateRoles("workers.arbiter", []RoleConfig{w.Arbiter})...)
	}

	if w.AdversarialAuditor != "" {
		found := slices.ContainsFunc(w.Auditors, func(r RoleConfig) bool {
			return r.Name == w.AdversarialAuditor
		})
		if !found {
			errors = append(errors, ValidationError{
				Field: "workers.adversarial_auditor", Value: w.AdversarialAuditor,
				Message: "must name a configured auditor",
			})
		}
	}

	for name, m := range w.Models {
		if m.TimeoutSeconds <= 0 {
			errors = append(errors, ValidationError{
				Field: fmt.Sprintf("workers.models.%s.timeout_seconds", name), Value: m.TimeoutSeconds,
				Message: "must be positive",
			})
		}
		if m.MaxRetries < 0 {
			errors = append(errors, ValidationError{
				Field: fmt.Sprintf("workers.models.%s.max_retries", name), Value: m.MaxRetries,
				Message: "must be non-negative",
			})
		}
		if m.BackoffMs < 0 {
			errors = append(errors, ValidationError{
				Field: fmt.Sprintf("workers.models.%s.backoff_ms", name), Value: m.BackoffMs,
				Message: "must be non-negative",
			})
		}
	}
	return errors
}

// validateRoles checks that every role has a name and that its whole
// failover chain is declared in the model catalog.
func (c *Config) validateRoles(field string, roles []RoleConfig) []ValidationError {
	var errors []ValidationError
	seen := make(map[string]bool)

	for i, r := range roles {
		if r.Name == "" {
			errors = append(errors, ValidationError{
				Field: fmt.Sprintf("%s[%d].name", field, i), Value: r.Name,
				Message: "is required",
			})
		} else if seen[r.Name] {
			errors = append(errors, ValidationError{
				Field: fmt.Sprintf("%s[%d].name", field, i), Value: r.Name,
				Message: "duplicates another role name",
			})
		}
		seen[r.Name] = true

		chain := append([]string{r.Model}, r.Substitutes...)
		for _, model := range chain {
			if model == "" {
				errors = append(errors, ValidationError{
					Field: fmt.Sprintf("%s[%d].model", field, i), Value: model,
					Message: "is required",
				})
				continue
			}
			if _, ok := c.Workers.Models[model]; !ok {
				errors = append(errors, ValidationError{
					Field: fmt.Sprintf("%s[%d]", field, i), Value: model,
					Message: "references a model missing from workers.models",
				})
			}
		}
	}
	return errors
}

func (c *Config) validateAggregation() []ValidationError {
	var errors []ValidationError
	a := c.Aggregation

	if a.SpanTolerance < 0 {
		errors = append(errors, ValidationError{
			Field: "aggregation.span_tolerance", Value: a.SpanTolerance,
			Message: "must be non-negative",
		})
	}
	if a.OutlierRatio < 0 || a.OutlierRatio >= 1 {
		errors = append(errors, ValidationError{
			Field: "aggregation.outlier_ratio", Value: a.OutlierRatio,
			Message: "must be in [0, 1); 0 disables the filter",
		})
	}
	return errors
}

func (c *Config) validateIntegrity() []ValidationError {
	var errors []ValidationError
	i := c.Integrity

	if i.OffsetWindow < 0 {
		errors = append(errors, ValidationError{
			Field: "integrity.offset_window", Value: i.OffsetWindow,
			Message: "must be non-negative",
		})
	}

	unit := []struct {
		field string
		value float64
	}{
		{"integrity.penalty_imprecise", i.PenaltyImprecise},
		{"integrity.penalty_wrong", i.PenaltyWrong},
		{"integrity.penalty_mismatch", i.PenaltyMismatch},
		{"integrity.penalty_unknown_evidence", i.PenaltyUnknownEvidence},
		{"integrity.penalty_uncited", i.PenaltyUncited},
		{"integrity.penalty_cap", i.PenaltyCap},
		{"integrity.severe_ceiling", i.SevereCeiling},
		{"integrity.coverage_floor", i.CoverageFloor},
		{"integrity.coverage_penalty_rate", i.CoverageRate},
		{"integrity.unresolved_penalty", i.UnresolvedPenalty},
	}
	for _, u := range unit {
		if u.value < 0 || u.value > 1 {
			errors = append(errors, ValidationError{
				Field: u.field, Value: u.value,
				Message: "must be in [0, 1]",
			})
		}
	}
	return errors
}

func (c *Config) validateRegistry() []ValidationError {
	var errors []ValidationError
	r := c.Registry

	if r.Enabled {
		if r.Endpoint == "" {
			errors = append(errors, ValidationError{
				Field: "registry.endpoint", Value: r.Endpoint,
				Message: "is required when the registry is enabled",
			})
		}
		if r.CacheSize <= 0 {
			errors = append(errors, ValidationError{
				Field: "registry.cache_size", Value: r.CacheSize,
				Message: "must be positive when the registry is enabled",
			})
		}
		if r.DiscoveryTimeoutSeconds <= 0 {
			errors = append(errors, ValidationError{
				Field: "registry.discovery_timeout_seconds", Value: r.DiscoveryTimeoutSeconds,
				Message: "must be positive when the registry is enabled",
			})
		}
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field: "logging.level", Value: c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	return errors
}
