// Package artifact persists per-run stage results. Each stage writes one
// canonical JSON artifact plus a human-readable markdown rendering derived
// from it. The JSON is always the source of truth; the markdown is never
// parsed back.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/veridict/veridict/internal/errors"
	"github.com/veridict/veridict/internal/logging"
)

// Store writes artifacts under {base}/{runID}/.
type Store struct {
	base   string
	logger *logging.Logger
}

// NewStore creates a Store rooted at base.
func NewStore(base string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{base: base, logger: logger}
}

// RunDir returns the directory holding one run's artifacts.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.base, runID)
}

// WriteStage persists a stage's typed result and its rendering. The
// markdown may be empty when a stage has no human-readable form.
func (s *Store) WriteStage(runID, stage string, result any, markdown string) error {
	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s artifact: %w", stage, err)
	}
	jsonPath := filepath.Join(dir, stage+".json")
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("writing %s artifact: %w", stage, err)
	}

	if markdown != "" {
		mdPath := filepath.Join(dir, stage+".md")
		if err := os.WriteFile(mdPath, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("writing %s rendering: %w", stage, err)
		}
	}

	s.logger.Debug("stage artifact written", "run_id", runID, "stage", stage, "path", jsonPath)
	return nil
}

// ReadStage loads a stage's canonical artifact into result.
func (s *Store) ReadStage(runID, stage string, result any) error {
	path := filepath.Join(s.RunDir(runID), stage+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("artifact", runID+"/"+stage)
		}
		return fmt.Errorf("reading %s artifact: %w", stage, err)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding %s artifact: %w", stage, err)
	}
	return nil
}
