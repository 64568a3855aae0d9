// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// =============================================================================
// SSE CONSTANTS
// =============================================================================

// MaxEventSize is the maximum allowed size of a single SSE event (1MB).
const MaxEventSize = 1024 * 1024

// doneSentinel terminates an OpenAI-style stream.
var doneSentinel = []byte("[DONE]")

// ErrEventTooLarge is returned when a single event exceeds MaxEventSize.
var ErrEventTooLarge = errors.New("sse event exceeds maximum size")

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
//
// Upstreams differ in framing: some end every event with a blank line,
// others send one complete payload per data line. A data line that follows
// a complete JSON value or [DONE] therefore starts a new event.
type SSEReader struct {
	reader *bufio.Reader
	// held is a data line read past the end of the previous event.
	held []byte
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error. Data lines continuing an
// incomplete payload are joined with "\n". Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	size := 0

	if s.held != nil {
		data := s.held
		s.held = nil
		if bytes.Equal(data, doneSentinel) {
			return "", data, nil
		}
		dataLines = append(dataLines, data)
		size = len(data)
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			if errors.Is(err, io.EOF) && len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		// Trim trailing newline and carriage return
		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[len("data:"):]
			// A single leading space belongs to the framing, not the payload
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			if len(dataLines) > 0 {
				if buffered := bytes.Join(dataLines, []byte("\n")); completePayload(buffered) {
					s.held = append([]byte(nil), data...)
					return eventType, buffered, nil
				}
			}
			size += len(data)
			if size > MaxEventSize {
				return "", nil, ErrEventTooLarge
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
			// [DONE] never continues, so do not wait for a terminating blank line.
			if len(dataLines) == 1 && bytes.Equal(data, doneSentinel) {
				return eventType, dataLines[0], nil
			}
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}

// completePayload reports whether data is already a whole event payload.
func completePayload(data []byte) bool {
	return bytes.Equal(data, doneSentinel) || json.Valid(data)
}
