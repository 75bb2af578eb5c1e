package chunker

import (
	"bytes"
	"strings"

	"github.com/mdresser/chunkorch/pkg/core"
	"github.com/mdresser/chunkorch/pkg/security"
)

// DefaultMaxChunkBytes is the payload budget per chunk.
const DefaultMaxChunkBytes = 24 << 10

// ChunkSpec is one entry of a chunk plan: a page range and the payload cut
// from it. Indices are 0-based and dense.
type ChunkSpec struct {
	Index     int
	PageStart int
	PageEnd   int
	SizeBytes int
	Payload   []byte
}

// Option configures a Planner.
type Option interface {
	apply(*Planner)
}

type optionFunc func(*Planner)

func (f optionFunc) apply(p *Planner) { f(p) }

// MaxChunkBytes sets the payload budget per chunk. Values are capped at
// security.MaxChunkPayloadSize.
func MaxChunkBytes(n int) Option {
	return optionFunc(func(p *Planner) {
		if n > 0 {
			if n > security.MaxChunkPayloadSize {
				n = security.MaxChunkPayloadSize
			}
			p.maxChunkBytes = n
		}
	})
}

// PageOverlap makes each chunk after the first repeat the last n pages of
// its predecessor, giving the processor context across chunk boundaries.
func PageOverlap(n int) Option {
	return optionFunc(func(p *Planner) {
		if n >= 0 {
			p.pageOverlap = n
		}
	})
}

// Planner splits documents into chunk plans.
type Planner struct {
	maxChunkBytes int
	pageOverlap   int
}

// NewPlanner creates a Planner with the given options.
func NewPlanner(opts ...Option) *Planner {
	p := &Planner{maxChunkBytes: DefaultMaxChunkBytes}
	for _, opt := range opts {
		opt.apply(p)
	}
	return p
}

// Plan computes the ordered chunk plan for a document. Pages are never
// split: a page larger than the budget becomes a chunk of its own, but a
// chunk exceeding security.MaxChunkPayloadSize is rejected outright. Pages
// with no text are skipped; a document with no text at all is rejected.
func (p *Planner) Plan(doc core.Document) ([]ChunkSpec, error) {
	pages := make([]core.Page, 0, len(doc.Pages))
	for _, page := range doc.Pages {
		if strings.TrimSpace(page.Text) != "" {
			pages = append(pages, page)
		}
	}
	if len(pages) == 0 {
		return nil, core.ErrEmptyDocument
	}

	var specs []ChunkSpec
	start := 0
	size := 0
	for i, page := range pages {
		pageSize := len(page.Text)
		if i > start && size+pageSize > p.maxChunkBytes {
			specs = append(specs, p.cut(pages, start, i))
			start = i - p.pageOverlap
			if start < 0 {
				start = 0
			}
			size = p.rangeSize(pages, start, i)
		}
		size += pageSize
	}
	specs = append(specs, p.cut(pages, start, len(pages)))

	for i := range specs {
		specs[i].Index = i
		if specs[i].SizeBytes > security.MaxChunkPayloadSize {
			return nil, core.ErrChunkTooLarge
		}
	}
	return specs, nil
}

// cut builds the spec for pages[start:end).
func (p *Planner) cut(pages []core.Page, start, end int) ChunkSpec {
	var buf bytes.Buffer
	for i := start; i < end; i++ {
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(pages[i].Text)
	}
	payload := buf.Bytes()
	return ChunkSpec{
		PageStart: pages[start].Number,
		PageEnd:   pages[end-1].Number,
		SizeBytes: len(payload),
		Payload:   payload,
	}
}

func (p *Planner) rangeSize(pages []core.Page, start, end int) int {
	size := 0
	for i := start; i < end; i++ {
		size += len(pages[i].Text)
	}
	return size
}
