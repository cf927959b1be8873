package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/veridict/veridict/internal/errors"
)

type stagePayload struct {
	Items   int     `json:"items"`
	Percent float64 `json:"percent"`
}

func TestWriteAndReadStage(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	in := stagePayload{Items: 12, Percent: 0.93}
	if err := store.WriteStage("run-1", "extraction", in, "# Extraction\n\n12 items\n"); err != nil {
		t.Fatalf("WriteStage: %v", err)
	}

	var out stagePayload
	if err := store.ReadStage("run-1", "extraction", &out); err != nil {
		t.Fatalf("ReadStage: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestWriteStage_BothFilesKeyedByRunAndStage(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base, nil)

	if err := store.WriteStage("run-7", "audit", stagePayload{Items: 3}, "# Audit\n"); err != nil {
		t.Fatalf("WriteStage: %v", err)
	}

	jsonPath := filepath.Join(base, "run-7", "audit.json")
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("reading JSON artifact: %v", err)
	}
	if !strings.Contains(string(data), `"items": 3`) {
		t.Errorf("JSON artifact = %s, want items field", data)
	}

	md, err := os.ReadFile(filepath.Join(base, "run-7", "audit.md"))
	if err != nil {
		t.Fatalf("reading markdown rendering: %v", err)
	}
	if !strings.HasPrefix(string(md), "# Audit") {
		t.Errorf("markdown = %q, want rendering", md)
	}
}

func TestWriteStage_EmptyMarkdownSkipsRendering(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base, nil)

	if err := store.WriteStage("run-1", "integrity", stagePayload{}, ""); err != nil {
		t.Fatalf("WriteStage: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "run-1", "integrity.md")); !os.IsNotExist(err) {
		t.Error("markdown file written for empty rendering")
	}
}

func TestReadStage_MissingArtifact(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	var out stagePayload
	err := store.ReadStage("run-1", "judgment", &out)
	if err == nil {
		t.Fatal("ReadStage on missing artifact succeeded, want error")
	}
	var nf *errors.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("error type = %T, want NotFoundError", err)
	}
}
