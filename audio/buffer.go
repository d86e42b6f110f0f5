package audio

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrBufferFull is returned when a chunk would push the buffer past its maximum size
var ErrBufferFull = errors.New("audio buffer full")

// DefaultMaxBufferSize bounds captured audio between flushes (about 30s of 16 kHz mono PCM)
const DefaultMaxBufferSize = 1 << 20

// Buffer accumulates captured PCM chunks until the next flush
type Buffer struct {
	chunks    [][]byte
	totalSize int
	maxSize   int
	mu        sync.Mutex
}

// NewBuffer creates a buffer holding at most maxSize bytes
func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	return &Buffer{maxSize: maxSize}
}

func (b *Buffer) MaxSize() int {
	return b.maxSize
}

// Append adds a chunk. The chunk is rejected whole when it does not fit.
func (b *Buffer) Append(chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	newSize := b.totalSize + len(chunk)
	if newSize > b.maxSize {
		return ErrBufferFull
	}

	b.chunks = append(b.chunks, chunk)
	b.totalSize = newSize
	return nil
}

// Flush concatenates all chunks in arrival order and empties the buffer
func (b *Buffer) Flush() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 {
		return nil
	}

	result := make([]byte, 0, b.totalSize)
	for _, chunk := range b.chunks {
		result = append(result, chunk...)
	}
	b.chunks = nil
	b.totalSize = 0
	return result
}

// Clear drops everything buffered
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.totalSize = 0
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize
}

func (b *Buffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks) == 0
}

func (b *Buffer) ChunkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
