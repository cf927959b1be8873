package cmd

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veridict/veridict/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify Veridict configuration",
	Long: `View or modify Veridict configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  veridict config set pipeline.chunk_size 16000
  veridict config set logging.level debug
  veridict config set registry.endpoint http://localhost:8080

Valid keys:
  pipeline.chunk_size         - Characters per chunk
  pipeline.chunk_overlap      - Overlap between adjacent chunks
  pipeline.max_pool           - Simultaneous worker call limit
  aggregation.span_tolerance  - Duplicate span tolerance in characters
  aggregation.outlier_ratio   - Outlier cutoff relative to the median
  integrity.offset_window     - Citation offset tolerance in characters
  budget.max_total_tokens     - Token budget per run (0 = unlimited)
  budget.max_calls            - Call budget per run (0 = unlimited)
  registry.enabled            - Verify basis references (true/false)
  registry.endpoint           - Registry service base URL
  logging.level               - Log level (debug, info, warn, error)
  paths.artifact_dir          - Where run artifacts are written`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/veridict/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Println("Current configuration:")
	fmt.Println()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Config file: (none - using defaults)\n")
	}
	fmt.Println()

	fmt.Println("pipeline:")
	fmt.Printf("  chunk_size: %d\n", cfg.Pipeline.ChunkSize)
	fmt.Printf("  chunk_overlap: %d\n", cfg.Pipeline.ChunkOverlap)
	fmt.Printf("  max_pool: %d\n", cfg.Pipeline.MaxPool)
	fmt.Printf("  min_extractors: %d\n", cfg.Pipeline.MinExtractors)
	fmt.Printf("  min_auditors: %d\n", cfg.Pipeline.MinAuditors)
	fmt.Printf("  min_judges: %d\n", cfg.Pipeline.MinJudges)

	fmt.Println("workers:")
	printRoles := func(label string, roles []config.RoleConfig) {
		fmt.Printf("  %s:\n", label)
		for _, r := range roles {
			line := fmt.Sprintf("    %s: %s", r.Name, r.Model)
			if len(r.Substitutes) > 0 {
				line += " -> " + strings.Join(r.Substitutes, " -> ")
			}
			fmt.Println(line)
		}
	}
	printRoles("extractors", cfg.Workers.Extractors)
	printRoles("auditors", cfg.Workers.Auditors)
	printRoles("judges", cfg.Workers.Judges)
	printRoles("arbiter", []config.RoleConfig{cfg.Workers.Arbiter})
	fmt.Printf("  adversarial_auditor: %s\n", cfg.Workers.AdversarialRole())

	fmt.Println("aggregation:")
	fmt.Printf("  span_tolerance: %d\n", cfg.Aggregation.SpanTolerance)
	fmt.Printf("  outlier_ratio: %v\n", cfg.Aggregation.OutlierRatio)

	fmt.Println("integrity:")
	fmt.Printf("  offset_window: %d\n", cfg.Integrity.OffsetWindow)
	fmt.Printf("  penalty_cap: %v\n", cfg.Integrity.PenaltyCap)
	fmt.Printf("  severe_ceiling: %v\n", cfg.Integrity.SevereCeiling)

	fmt.Println("budget:")
	fmt.Printf("  max_total_tokens: %d\n", cfg.Budget.MaxTotalTokens)
	fmt.Printf("  max_calls: %d\n", cfg.Budget.MaxCalls)

	fmt.Println("registry:")
	fmt.Printf("  enabled: %v\n", cfg.Registry.Enabled)
	if cfg.Registry.Endpoint != "" {
		fmt.Printf("  endpoint: %s\n", cfg.Registry.Endpoint)
	}

	fmt.Println("logging:")
	fmt.Printf("  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Printf("  level: %s\n", cfg.Logging.Level)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Validate the key exists
	validKeys := map[string]string{
		"pipeline.chunk_size":        "int",
		"pipeline.chunk_overlap":     "int",
		"pipeline.max_pool":          "int",
		"aggregation.span_tolerance": "int",
		"aggregation.outlier_ratio":  "float",
		"integrity.offset_window":    "int",
		"budget.max_total_tokens":    "int",
		"budget.max_calls":           "int",
		"registry.enabled":           "bool",
		"registry.endpoint":          "string",
		"logging.level":              "string",
		"paths.artifact_dir":         "string",
	}

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'veridict config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue interface{}
	switch keyType {
	case "string":
		if key == "logging.level" && !slices.Contains(config.ValidLogLevels(), value) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	case "float":
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected number", key)
		}
		if floatVal < 0 || floatVal > 1 {
			return fmt.Errorf("invalid value for %s: must be in [0, 1]", key)
		}
		typedValue = floatVal
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Set %s = %v\n", key, typedValue)
	fmt.Printf("Config saved to %s\n", configFile)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'veridict config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# Veridict Configuration

# Chunking and stage orchestration
pipeline:
  # Characters per chunk and overlap between adjacent chunks
  chunk_size: 24000
  chunk_overlap: 2000
  # Per-stage deadlines in seconds
  extract_timeout_seconds: 300
  audit_timeout_seconds: 240
  judge_timeout_seconds: 240
  arbiter_timeout_seconds: 180
  # Minimum successful workers per stage before the run fails
  min_extractors: 2
  min_auditors: 2
  min_judges: 2
  # Simultaneous worker calls across all stages
  max_pool: 8

# Worker roles. Each role names a primary model and optional substitutes
# tried in order when the primary keeps failing.
workers:
  extractors:
    - name: extractor-1
      model: standard
    - name: extractor-2
      model: standard
    - name: extractor-3
      model: fast
  auditors:
    - name: auditor-1
      model: standard
    - name: auditor-2
      model: strong
      temperature: 0.3
  judges:
    - name: judge-1
      model: strong
    - name: judge-2
      model: standard
  arbiter:
    name: arbiter
    model: strong
    substitutes: [standard]
  # Which auditor argues against the extracted claims (default: the last)
  adversarial_auditor: ""
  # Model catalog referenced by the roles above
  models:
    fast:
      timeout_seconds: 60
      max_output: 4096
      max_retries: 0
      backoff_ms: 250
    standard:
      timeout_seconds: 120
      max_output: 8192
      max_retries: 1
      backoff_ms: 500
    strong:
      timeout_seconds: 180
      max_output: 8192
      max_retries: 2
      backoff_ms: 1000

# Evidence deduplication and the outlier filter
aggregation:
  span_tolerance: 32
  outlier_ratio: 0.40

# Citation verification and the confidence penalty
integrity:
  offset_window: 200
  penalty_cap: 0.60
  severe_ceiling: 0.80

# Per-run usage limits (0 = unlimited)
budget:
  max_total_tokens: 0
  max_calls: 0

# Basis reference verification against an external registry
registry:
  enabled: false
  endpoint: ""
  cache_size: 256
  discovery_timeout_seconds: 5

logging:
  enabled: true
  level: info

paths:
  # Where run artifacts are written (default: .veridict/runs)
  artifact_dir: ""
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	fmt.Println("Edit this file to customize Veridict's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Println("\nSearch paths:")
	fmt.Printf("  1. %s\n", config.ConfigFile())
	fmt.Printf("  2. $HOME/.config/veridict/config.yaml\n")
	fmt.Printf("  3. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: VERIDICT_* (e.g., VERIDICT_PIPELINE_CHUNK_SIZE)")

	return nil
}
