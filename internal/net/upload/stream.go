// Package upload provides request body streams: a buffered element stream
// assembled before the request starts, and a chunked stream fed while the
// request is in flight.
package upload

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed is returned when appending to a finished chunked stream
var ErrStreamClosed = errors.New("upload stream already finished")

// Stream is a request body
type Stream interface {
	io.Reader
	// Size is the total length, or -1 when unknown (chunked)
	Size() int64
	// IsChunked reports whether the body uses chunked transfer
	IsChunked() bool
	// Position is the number of bytes consumed so far
	Position() int64
}

// ElementsStream concatenates a fixed list of byte elements
type ElementsStream struct {
	elements [][]byte
	reader   io.Reader
	size     int64
	pos      int64
}

// NewElementsStream builds a stream from elements. Elements are not copied.
func NewElementsStream(elements [][]byte) *ElementsStream {
	readers := make([]io.Reader, 0, len(elements))
	var size int64
	for _, e := range elements {
		readers = append(readers, bytes.NewReader(e))
		size += int64(len(e))
	}
	return &ElementsStream{
		elements: elements,
		reader:   io.MultiReader(readers...),
		size:     size,
	}
}

func (s *ElementsStream) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	s.pos += int64(n)
	return n, err
}

// Size returns the total byte count
func (s *ElementsStream) Size() int64 { return s.size }

// IsChunked is always false
func (s *ElementsStream) IsChunked() bool { return false }

// Position returns bytes read so far
func (s *ElementsStream) Position() int64 { return s.pos }

// Elements returns the element list
func (s *ElementsStream) Elements() [][]byte { return s.elements }

// Len returns the unread byte count
func (s *ElementsStream) Len() int { return int(s.size - s.pos) }

// ChunkedStream is fed with AppendChunk while a reader drains it.
// Read blocks until data or the final chunk arrives.
type ChunkedStream struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  [][]byte
	finished bool
	closed   bool
	pos      int64
	total    int64
}

// NewChunkedStream creates an empty chunked stream
func NewChunkedStream() *ChunkedStream {
	s := &ChunkedStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// AppendChunk queues a copy of data. isLast finishes the stream.
func (s *ChunkedStream) AppendChunk(data []byte, isLast bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return ErrStreamClosed
	}
	if len(data) > 0 {
		chunk := make([]byte, len(data))
		copy(chunk, data)
		s.pending = append(s.pending, chunk)
		s.total += int64(len(chunk))
	}
	if isLast {
		s.finished = true
	}
	s.cond.Broadcast()
	return nil
}

// Read implements io.Reader
func (s *ChunkedStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) == 0 && !s.finished && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if len(s.pending) == 0 {
		return 0, io.EOF
	}

	n := copy(p, s.pending[0])
	if n == len(s.pending[0]) {
		s.pending[0] = nil
		s.pending = s.pending[1:]
	} else {
		s.pending[0] = s.pending[0][n:]
	}
	s.pos += int64(n)
	return n, nil
}

// Close unblocks readers with io.ErrClosedPipe
func (s *ChunkedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

// Size is unknown for chunked streams
func (s *ChunkedStream) Size() int64 { return -1 }

// IsChunked is always true
func (s *ChunkedStream) IsChunked() bool { return true }

// Position returns bytes read so far
func (s *ChunkedStream) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Appended returns the number of bytes appended so far
func (s *ChunkedStream) Appended() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Finished reports whether the final chunk was appended
func (s *ChunkedStream) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}
