// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package toolclient

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Event is one server-sent event. Name comes from the "event:" field
// (empty when the server omitted it); Data is the concatenation of the
// "data:" lines joined by newlines, per the SSE framing rules.
type Event struct {
	Name string
	Data []byte
}

// EventReader incrementally parses a text/event-stream body. It handles
// multi-line data fields, comment lines, and CRLF endings; "id:" and
// "retry:" fields are ignored since tool streams do not resume.
type EventReader struct {
	r *bufio.Reader
}

// NewEventReader wraps a streaming response body.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{r: bufio.NewReader(r)}
}

// Next blocks until a complete event (terminated by a blank line) has
// been read. Returns io.EOF when the stream ends; an event still being
// assembled at EOF is discarded, as server-sent events framing requires.
func (er *EventReader) Next() (*Event, error) {
	var (
		name     string
		data     [][]byte
		sawField bool
	)

	for {
		line, err := er.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil, io.EOF
			}
			if err != io.EOF {
				return nil, err
			}
			// Final line without a trailing newline: fall through and let
			// the dispatch-on-blank-line logic discard the partial event.
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if sawField && len(data) > 0 {
				return &Event{Name: name, Data: bytes.Join(data, []byte("\n"))}, nil
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			// Blank line with no pending data: keep-alive separator.
			name = ""
			data = nil
			sawField = false
			continue
		}
		if err == io.EOF {
			return nil, io.EOF
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
			sawField = true
		case "data":
			data = append(data, []byte(value))
			sawField = true
		}
	}
}
