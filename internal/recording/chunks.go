package recording

import "bytes"

// ChunkSequence accumulates recorder slices in arrival order. It is
// append-only and never drops a slice.
type ChunkSequence struct {
	chunks [][]byte
	size   int
}

func NewChunkSequence() *ChunkSequence {
	return &ChunkSequence{}
}

// Append stores a copy of chunk. Empty slices are ignored.
func (s *ChunkSequence) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	s.chunks = append(s.chunks, c)
	s.size += len(c)
}

func (s *ChunkSequence) Len() int { return len(s.chunks) }

func (s *ChunkSequence) Size() int { return s.size }

// Bytes concatenates every chunk in order.
func (s *ChunkSequence) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(s.size)
	for _, c := range s.chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}

// Artifact is the assembled recording returned by Stop.
type Artifact struct {
	Data     []byte
	MimeType string
	Chunks   int
}
