package document

import (
	"fmt"
)

// Chunk is a contiguous, possibly overlapping slice of the document.
// Offsets are monotonic across the chunk list and the union of all chunks
// covers the whole document.
type Chunk struct {
	Index     int
	Start     int
	End       int
	FirstPage int
	LastPage  int
	Total     int // total number of chunks in the run
}

// Text returns the chunk's slice of the document.
func (c Chunk) Text(doc *Document) string {
	return doc.Slice(c.Start, c.End)
}

// Chunker splits documents into overlapping chunks of bounded size.
type Chunker struct {
	MaxSize int // maximum chunk size in characters
	Overlap int // characters shared with the previous chunk
}

// NewChunker creates a Chunker. Overlap must be smaller than MaxSize so
// every chunk makes forward progress.
func NewChunker(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, maxSize)
	}
	return &Chunker{MaxSize: maxSize, Overlap: overlap}, nil
}

// Split produces the ordered chunk list for a document. An empty document
// yields a single empty chunk so downstream stages always have at least one
// unit of work to report against.
func (ck *Chunker) Split(doc *Document) []Chunk {
	pm := NewPageMap(doc)

	if doc.Len() == 0 {
		return []Chunk{{Index: 0, Start: 0, End: 0, FirstPage: 1, LastPage: 1, Total: 1}}
	}

	var chunks []Chunk
	start := 0
	for {
		end := start + ck.MaxSize
		if end >= doc.Len() {
			end = doc.Len()
		}

		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Start:     start,
			End:       end,
			FirstPage: pm.PageFor(start),
			LastPage:  pm.PageFor(end - 1),
		})

		if end == doc.Len() {
			break
		}
		start = end - ck.Overlap
	}

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}
