package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func TestBufferChunksAcrossPages(t *testing.T) {
	buf := NewBuffer[int](100)

	var chunks []Chunk[int]
	for _, page := range [][]int{seq(0, 50), seq(50, 100), seq(100, 150), seq(150, 200), seq(200, 230)} {
		buf.Push(page...)
		chunks = append(chunks, buf.DrainReady()...)
	}
	last, ok := buf.DrainRemainder()
	require.True(t, ok)
	chunks = append(chunks, last)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Records, 100)
	assert.Len(t, chunks[1].Records, 100)
	assert.Len(t, chunks[2].Records, 30)
	assert.Equal(t, 200, chunks[2].Start)
	assert.Equal(t, 230, chunks[2].End())

	var all []int
	for _, c := range chunks {
		all = append(all, c.Records...)
	}
	assert.Equal(t, seq(0, 230), all)
}

func TestBufferExactMultipleHasNoRemainder(t *testing.T) {
	buf := NewBuffer[int](100)
	buf.Push(seq(0, 200)...)

	chunks := buf.DrainReady()
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 100, chunks[1].Start)

	_, ok := buf.DrainRemainder()
	assert.False(t, ok)
	assert.Zero(t, buf.Len())
}

func TestBufferEmptyStream(t *testing.T) {
	buf := NewBuffer[string](10)
	assert.Empty(t, buf.DrainReady())
	_, ok := buf.DrainRemainder()
	assert.False(t, ok)
}

func TestBufferChunksDoNotAliasInput(t *testing.T) {
	buf := NewBuffer[int](2)
	in := []int{1, 2, 3}
	buf.Push(in...)
	chunks := buf.DrainReady()
	in[0] = 99
	assert.Equal(t, []int{1, 2}, chunks[0].Records)
}
