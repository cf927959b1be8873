package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd is nil")
	}
	if rootCmd.Use != "veridict" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "veridict")
	}

	// Check for expected subcommands (compare by Name(), not Use which includes args)
	expectedCmds := []string{"analyze", "config"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestAnalyzeCommand_MissingDocument(t *testing.T) {
	_, err := executeCommand(rootCmd, "analyze", "no-such-document.txt")
	if err == nil {
		t.Fatal("analyze should fail for a missing document")
	}
	if !strings.Contains(err.Error(), "failed to read document") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAnalyzeCommand_RequiresArgument(t *testing.T) {
	_, err := executeCommand(rootCmd, "analyze")
	if err == nil {
		t.Error("analyze without a document should fail")
	}
}

func TestConfigSetCommand_UnknownKey(t *testing.T) {
	_, err := executeCommand(rootCmd, "config", "set", "no.such.key", "1")
	if err == nil {
		t.Fatal("config set should reject unknown keys")
	}
	if !strings.Contains(err.Error(), "unknown configuration key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConfigSetCommand_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-integer chunk size", "pipeline.chunk_size", "lots"},
		{"negative pool", "pipeline.max_pool", "-1"},
		{"non-boolean registry toggle", "registry.enabled", "maybe"},
		{"ratio above one", "aggregation.outlier_ratio", "1.5"},
		{"unknown log level", "logging.level", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := executeCommand(rootCmd, "config", "set", tt.key, tt.value); err == nil {
				t.Errorf("config set %s %s should fail", tt.key, tt.value)
			}
		})
	}
}
