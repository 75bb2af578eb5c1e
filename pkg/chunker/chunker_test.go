package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdresser/chunkorch/pkg/core"
	"github.com/mdresser/chunkorch/pkg/security"
)

func pagesOf(texts ...string) []core.Page {
	pages := make([]core.Page, len(texts))
	for i, text := range texts {
		pages[i] = core.Page{Number: i + 1, Text: text}
	}
	return pages
}

func TestPlanPacksPagesUnderBudget(t *testing.T) {
	p := NewPlanner(MaxChunkBytes(20))
	doc := core.Document{ID: "doc", Pages: pagesOf("aaaaaaaa", "bbbbbbbb", "cccccccc")}

	specs, err := p.Plan(doc)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, 0, specs[0].Index)
	assert.Equal(t, 1, specs[0].PageStart)
	assert.Equal(t, 2, specs[0].PageEnd)
	assert.Equal(t, []byte("aaaaaaaa\n\nbbbbbbbb"), specs[0].Payload)

	assert.Equal(t, 1, specs[1].Index)
	assert.Equal(t, 3, specs[1].PageStart)
	assert.Equal(t, 3, specs[1].PageEnd)
	assert.Equal(t, []byte("cccccccc"), specs[1].Payload)
}

func TestPlanNeverSplitsAPage(t *testing.T) {
	p := NewPlanner(MaxChunkBytes(10))
	huge := strings.Repeat("x", 50)
	doc := core.Document{ID: "doc", Pages: pagesOf("small", huge, "tiny")}

	specs, err := p.Plan(doc)
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, huge, string(specs[1].Payload), "oversized page gets a chunk of its own")
	assert.Equal(t, 2, specs[1].PageStart)
	assert.Equal(t, 2, specs[1].PageEnd)
}

func TestPlanSkipsBlankPages(t *testing.T) {
	p := NewPlanner()
	doc := core.Document{ID: "doc", Pages: []core.Page{
		{Number: 1, Text: "   \n\t"},
		{Number: 2, Text: "content"},
		{Number: 3, Text: ""},
	}}

	specs, err := p.Plan(doc)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, 2, specs[0].PageStart)
	assert.Equal(t, 2, specs[0].PageEnd)
	assert.Equal(t, []byte("content"), specs[0].Payload)
}

func TestPlanEmptyDocument(t *testing.T) {
	p := NewPlanner()

	_, err := p.Plan(core.Document{ID: "doc"})
	assert.ErrorIs(t, err, core.ErrEmptyDocument)

	_, err = p.Plan(core.Document{ID: "doc", Pages: pagesOf("", "  ")})
	assert.ErrorIs(t, err, core.ErrEmptyDocument)
}

func TestPlanIndicesAreDense(t *testing.T) {
	p := NewPlanner(MaxChunkBytes(6))
	doc := core.Document{ID: "doc", Pages: pagesOf("aaaa", "bbbb", "cccc", "dddd", "eeee")}

	specs, err := p.Plan(doc)
	require.NoError(t, err)
	for i, spec := range specs {
		assert.Equal(t, i, spec.Index)
		assert.Equal(t, len(spec.Payload), spec.SizeBytes)
	}
}

func TestPlanPageOverlapRepeatsTrailingPages(t *testing.T) {
	p := NewPlanner(MaxChunkBytes(12), PageOverlap(1))
	doc := core.Document{ID: "doc", Pages: pagesOf("aaaa", "bbbb", "cccc", "dddd")}

	specs, err := p.Plan(doc)
	require.NoError(t, err)
	require.True(t, len(specs) >= 2)

	// Each chunk after the first starts on the last page of its predecessor.
	for i := 1; i < len(specs); i++ {
		assert.Equal(t, specs[i-1].PageEnd, specs[i].PageStart,
			"chunk %d should overlap its predecessor by one page", i)
	}
}

func TestPlanRejectsOversizedPage(t *testing.T) {
	p := NewPlanner()
	doc := core.Document{ID: "doc", Pages: []core.Page{
		{Number: 1, Text: strings.Repeat("x", security.MaxChunkPayloadSize+1)},
	}}

	_, err := p.Plan(doc)
	assert.ErrorIs(t, err, core.ErrChunkTooLarge)
}

func TestMaxChunkBytesIsCapped(t *testing.T) {
	p := NewPlanner(MaxChunkBytes(security.MaxChunkPayloadSize * 2))
	assert.Equal(t, security.MaxChunkPayloadSize, p.maxChunkBytes)
}

func TestPlanIsDeterministic(t *testing.T) {
	p := NewPlanner(MaxChunkBytes(16))
	doc := core.Document{ID: "doc", Pages: pagesOf("alpha", "beta", "gamma", "delta", "epsilon")}

	first, err := p.Plan(doc)
	require.NoError(t, err)
	second, err := p.Plan(doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
