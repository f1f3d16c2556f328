// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

var errEventTooLarge = errors.New("sse event exceeds size limit")

// =============================================================================
// SSE READER
// =============================================================================

// maxEventSize is the maximum allowed size for a single SSE event (64KB).
const maxEventSize = 64 * 1024

// sseReader parses Server-Sent Events from a response body.
type sseReader struct {
	reader *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReader(r)}
}

// readEvent reads the next SSE event, returning the event type and joined
// data payload. Returns io.EOF when the stream ends.
func (s *sseReader) readEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	var total int

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimSpace(line[5:])
			total += len(data)
			if total > maxEventSize {
				return "", nil, errEventTooLarge
			}
			dataLines = append(dataLines, data)
		}
		// Ignore id:, retry:, and comment lines
	}
}
