package ingest

import (
	"context"
	"errors"
	"io"
)

// Event is one unit of a streamed response. A nil Payload marks a control
// or metadata event that carries no data.
type Event struct {
	Payload []byte
}

// Stream is an ordered source of events. Next returns io.EOF once the source
// has signalled a normal end-of-stream; any other error ends the stream
// abnormally.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Sourced is implemented by streams that can name the object they read, for
// error messages.
type Sourced interface {
	Source() string
}

const DefaultChunkSize = 64 * 1024

// ReaderStream turns a byte stream into data events of at most chunkSize bytes.
type ReaderStream struct {
	r         io.ReadCloser
	source    string
	chunkSize int
	err       error
}

// NewReaderStream reads r in chunkSize pieces. A reader error other than
// io.EOF is reported as a truncated stream.
func NewReaderStream(r io.ReadCloser, source string, chunkSize int) *ReaderStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ReaderStream{r: r, source: source, chunkSize: chunkSize}
}

func (s *ReaderStream) Source() string { return s.source }

func (s *ReaderStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.err != nil {
		return Event{}, s.classify(s.err)
	}

	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			// report err on the following call, after this payload
			s.err = err
			return Event{Payload: buf[:n]}, nil
		}
		if err != nil {
			s.err = err
			return Event{}, s.classify(err)
		}
	}
}

func (s *ReaderStream) classify(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return &Error{Kind: ErrStreamTruncated, Source: s.source, Err: err}
}

func (s *ReaderStream) Close() error { return s.r.Close() }
