// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package sseevent parses the text/event-stream wire format shared by the
// SSE and streamable HTTP transports.
package sseevent

import (
	"bufio"
	"io"
	"strings"
)

// Event is one server-sent event. Data lines are joined with \n; events
// with no data field at all are discarded by Scanner.Next.
type Event struct {
	ID    string
	Name  string
	Data  string
}

// Scanner reads events off a stream. Not safe for concurrent use.
type Scanner struct {
	reader *bufio.Reader
}

// NewScanner wraps r. The buffer grows as needed for long data lines.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event carrying data, or the stream error. Comment
// lines (leading ':') and unknown fields are ignored per the SSE spec.
func (s *Scanner) Next() (*Event, error) {
	ev := &Event{Name: "message"}
	var data []string
	dispatched := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			// A partial line at EOF is dropped: the event was never
			// terminated.
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(data) > 0 {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			if dispatched {
				// Event without data is discarded; reset and keep reading.
				ev = &Event{Name: "message"}
				dispatched = false
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "id":
			ev.ID = value
			dispatched = true
		case "event":
			ev.Name = value
			dispatched = true
		case "data":
			data = append(data, value)
			dispatched = true
		}
	}
}

// splitField separates "field: value" per the SSE grammar, stripping one
// optional leading space from the value.
func splitField(line string) (string, string) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return line, ""
	}
	field := line[:idx]
	value := line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
