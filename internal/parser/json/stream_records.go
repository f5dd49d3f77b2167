// Package json streams JSON records out of staged source objects.
//
// Accepted layouts, freely mixed within one stream:
//   - newline-delimited or concatenated objects: {"a":1}\n{"a":2}
//   - a root array of objects: [{"a":1},{"a":2}]
//   - a single object per file, as the song metadata files are laid out
//
// Numbers are decoded as json.Number so that text columns receive the
// literal digits from the source.
package json

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is one decoded JSON object.
type Record struct {
	// Index is the 1-based position of the record in the stream, counting
	// records that failed to decode.
	Index  int
	Fields map[string]any
}

// StreamRecords decodes every JSON object in r and sends it to out.
//
// Error handling:
//   - With onParseErr == nil, the first malformed record aborts the stream.
//   - Otherwise onParseErr is called with the record index and the error,
//     and decoding resumes. After a syntax error the stream resynchronises
//     at the next newline; a non-object value (e.g. a bare number) is
//     skipped whole.
//   - null values are skipped and do not count as records.
//
// StreamRecords never closes out.
func StreamRecords(
	ctx context.Context,
	r io.Reader,
	out chan<- Record,
	onParseErr func(index int, err error),
) error {
	s := &recordStream{
		ctx:        ctx,
		out:        out,
		onParseErr: onParseErr,
	}
	br := bufio.NewReader(r)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		dec := json.NewDecoder(br)
		dec.UseNumber()

		err := s.decode(dec, br)
		if err == nil {
			return nil
		}
		var syn *json.SyntaxError
		if !errors.As(err, &syn) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}
		s.index++
		if err := s.fail(fmt.Errorf("json: record %d: %w", s.index, err)); err != nil {
			return err
		}

		// The decoder's buffer still holds the bad value from its first byte
		// (including the whitespace before it); drop through the end of its
		// line.
		br = bufio.NewReader(io.MultiReader(dec.Buffered(), br))
		if _, err := peekNonSpace(br); errors.Is(err, io.EOF) {
			return nil
		}
		if _, err := br.ReadSlice('\n'); err != nil {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = br.ReadSlice('\n')
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

type recordStream struct {
	ctx        context.Context
	out        chan<- Record
	onParseErr func(index int, err error)
	index      int
}

// decode runs one decoder until EOF or a syntax error. A root array is
// streamed element by element; anything after it is decoded as further
// top-level values.
func (s *recordStream) decode(dec *json.Decoder, br *bufio.Reader) error {
	if c, err := peekNonSpace(br); err == nil && c == '[' {
		if _, err := dec.Token(); err != nil {
			return err
		}
		for dec.More() {
			if err := s.decodeOne(dec); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
	}

	for {
		if err := s.decodeOne(dec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s *recordStream) decodeOne(dec *json.Decoder) error {
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	s.index++
	obj, ok := raw.(map[string]any)
	if !ok {
		return s.fail(fmt.Errorf("json: record %d: not an object (got %T)", s.index, raw))
	}
	select {
	case s.out <- Record{Index: s.index, Fields: obj}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// fail reports a record error, or returns it when there is no callback.
func (s *recordStream) fail(err error) error {
	if s.onParseErr == nil {
		return err
	}
	s.onParseErr(s.index, err)
	return nil
}

// peekNonSpace discards leading JSON whitespace and returns the next byte
// without consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.Discard(1)
		default:
			return b[0], nil
		}
	}
}
