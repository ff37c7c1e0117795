package pipeline

// Chunk is a contiguous run of records drained from a Buffer. Start is the
// 0-based position of the first record in the overall stream.
type Chunk[T any] struct {
	Records []T
	Start   int
}

// End is the position one past the last record.
func (c Chunk[T]) End() int {
	return c.Start + len(c.Records)
}

// Buffer accumulates records across pages and releases them in fixed-size
// chunks, preserving encounter order. Not safe for concurrent use; a run
// owns its buffer.
type Buffer[T any] struct {
	size    int
	pending []T
	drained int
}

// NewBuffer returns a Buffer that releases chunks of exactly chunkSize
// records. Sizes below one are treated as one.
func NewBuffer[T any](chunkSize int) *Buffer[T] {
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &Buffer[T]{size: chunkSize}
}

func (b *Buffer[T]) Push(records ...T) {
	b.pending = append(b.pending, records...)
}

func (b *Buffer[T]) Len() int {
	return len(b.pending)
}

// DrainReady removes and returns every full chunk currently buffered.
func (b *Buffer[T]) DrainReady() []Chunk[T] {
	var chunks []Chunk[T]
	for len(b.pending) >= b.size {
		chunks = append(chunks, b.take(b.size))
	}
	if len(chunks) > 0 {
		b.pending = append([]T(nil), b.pending...)
	}
	return chunks
}

// DrainRemainder returns the final short chunk. ok is false when nothing is
// left, so callers never see an empty chunk.
func (b *Buffer[T]) DrainRemainder() (chunk Chunk[T], ok bool) {
	if len(b.pending) == 0 {
		return Chunk[T]{}, false
	}
	chunk = b.take(len(b.pending))
	b.pending = nil
	return chunk, true
}

func (b *Buffer[T]) take(n int) Chunk[T] {
	records := make([]T, n)
	copy(records, b.pending[:n])
	b.pending = b.pending[n:]
	chunk := Chunk[T]{Records: records, Start: b.drained}
	b.drained += n
	return chunk
}
