package claim

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/veridict/veridict/internal/errors"
)

// ItemType classifies an extracted fact.
type ItemType string

const (
	ItemDate      ItemType = "date"
	ItemAmount    ItemType = "amount"
	ItemEntity    ItemType = "entity"
	ItemReference ItemType = "reference"
	ItemOther     ItemType = "other"
)

// ParseItemType maps a worker-supplied type string onto the closed set.
// Unknown strings become ItemOther rather than failing the item.
func ParseItemType(s string) ItemType {
	switch ItemType(strings.ToLower(strings.TrimSpace(s))) {
	case ItemDate:
		return ItemDate
	case ItemAmount:
		return ItemAmount
	case ItemEntity:
		return ItemEntity
	case ItemReference:
		return ItemReference
	default:
		return ItemOther
	}
}

// EvidenceItem is one atomic extracted fact. Items are owned by the
// extraction stage and referenced by id (never copied) afterwards.
type EvidenceItem struct {
	ID    string       `json:"id"`
	Type  ItemType     `json:"type"`
	Value string       `json:"value"` // normalized value
	Spans []SourceSpan `json:"spans"`

	// Workers lists every worker id that produced this item (grows as
	// duplicates collapse during aggregation).
	Workers []string `json:"workers"`

	// Conflicting marks items whose type or value disagreed with another
	// worker's item over overlapping spans. Conflicts are surfaced, never
	// discarded.
	Conflicting   bool     `json:"conflicting,omitempty"`
	ConflictsWith []string `json:"conflicts_with,omitempty"` // conflicting item ids
}

// NewEvidenceItem creates a validated EvidenceItem with a fresh id. Items
// without a value or without at least one span are rejected.
func NewEvidenceItem(itemType ItemType, value, workerID string, spans ...SourceSpan) (*EvidenceItem, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.NewValidationError("evidence item requires a value").
			WithField("value")
	}
	if len(spans) == 0 {
		return nil, errors.NewValidationError("evidence item requires at least one source span").
			WithField("spans").
			WithValue(0)
	}
	if workerID == "" {
		return nil, errors.NewValidationError("evidence item requires a producing worker").
			WithField("workers")
	}
	return &EvidenceItem{
		ID:      uuid.NewString(),
		Type:    itemType,
		Value:   value,
		Spans:   spans,
		Workers: []string{workerID},
	}, nil
}

// NormalizedValue returns the case-folded, whitespace-collapsed value used
// for duplicate detection during aggregation.
func (e *EvidenceItem) NormalizedValue() string {
	return strings.Join(strings.Fields(strings.ToLower(e.Value)), " ")
}

// AddWorker records another contributing worker, keeping the list sorted
// and free of duplicates.
func (e *EvidenceItem) AddWorker(workerID string) {
	for _, w := range e.Workers {
		if w == workerID {
			return
		}
	}
	e.Workers = append(e.Workers, workerID)
	sort.Strings(e.Workers)
}

// MarkConflict flags the item as conflicting with another item.
func (e *EvidenceItem) MarkConflict(otherID string) {
	e.Conflicting = true
	for _, id := range e.ConflictsWith {
		if id == otherID {
			return
		}
	}
	e.ConflictsWith = append(e.ConflictsWith, otherID)
}
