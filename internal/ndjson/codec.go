// Package ndjson provides a size-bounded newline-delimited JSON encoder and
// decoder, used as the event store's append-only journal format.
package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize is the maximum NDJSON message size (256 KiB), matching the
// agent subprocess contract's own framing limit.
const MaxMessageSize = 256 * 1024

// Encoder writes NDJSON messages to an output stream, flushing after every
// line so a concurrent reader (or a crash) never observes a partial record.
type Encoder struct {
	writer *bufio.Writer
}

// NewEncoder creates a new NDJSON encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: bufio.NewWriter(w)}
}

// Encode writes a message as a single JSON line.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds limit %d", len(data), MaxMessageSize)
	}
	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return e.writer.Flush()
}

// Decoder reads NDJSON messages from an input stream.
type Decoder struct {
	scanner *bufio.Scanner
	lineNum int
}

// NewDecoder creates a new NDJSON decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxMessageSize)
	scanner.Buffer(buf, MaxMessageSize)
	return &Decoder{scanner: scanner}
}

// Decode reads the next non-empty NDJSON message into v. Returns io.EOF
// when the stream is exhausted.
func (d *Decoder) Decode(v any) error {
	for d.scanner.Scan() {
		d.lineNum++
		data := d.scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to unmarshal line %d: %w", d.lineNum, err)
		}
		return nil
	}
	if err := d.scanner.Err(); err != nil {
		return fmt.Errorf("scanner error at line %d: %w", d.lineNum, err)
	}
	return io.EOF
}
