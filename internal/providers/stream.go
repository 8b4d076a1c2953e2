package providers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"

	"raggate-api/internal/shared"
)

// Stream is a lazy sequence of normalized deltas read from one backend
// connection. Consumers pull one delta at a time with Next; stopping
// consumption and calling Close cancels the stream and releases the
// connection. A stream is finite and not restartable.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	adapter Adapter
	done    bool
	closed  bool
}

// OpenStream wraps a streaming backend response. The caller owns the stream
// and must drain it to io.EOF or Close it.
func OpenStream(res *http.Response, adapter Adapter) *Stream {
	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{
		body:    res.Body,
		scanner: scanner,
		adapter: adapter,
	}
}

// Next returns the next delta. io.EOF signals a clean end of stream. A
// stream that ends without the backend's end marker surfaces
// shared.ErrProviderProtocol so partial output is never silently delivered
// as complete.
func (s *Stream) Next() (*shared.ChatCompletionChunk, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		chunk, done, err := s.adapter.TranslateChunk(line)
		if err != nil {
			return nil, err
		}
		if done {
			s.done = true
			if chunk != nil {
				return chunk, nil
			}
			return nil, io.EOF
		}
		if chunk == nil {
			continue
		}
		return chunk, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: reading stream: %w", shared.ErrProviderUnavailable, err)
	}
	return nil, fmt.Errorf("%w: stream ended without end-of-stream marker", shared.ErrProviderProtocol)
}

// Close releases the backend connection. Safe to call after EOF or mid-stream.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
