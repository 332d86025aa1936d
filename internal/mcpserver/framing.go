package mcpserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// wire speaks both MCP stdio framings: Content-Length framed messages
// and newline-delimited JSON. The first inbound message fixes the
// outbound framing for the rest of the connection.
type wire struct {
	in       *bufio.Reader
	out      *bufio.Writer
	jsonLine bool
	modeSet  bool
}

func newWire(in io.Reader, out io.Writer) *wire {
	return &wire{
		in:  bufio.NewReader(in),
		out: bufio.NewWriter(out),
	}
}

func (w *wire) read() ([]byte, error) {
	first, err := w.in.ReadString('\n')
	if err != nil {
		if err == io.EOF && first == "" {
			return nil, io.EOF
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(first)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		payload, err := w.readJSONLines(first)
		if err == nil && !w.modeSet {
			w.jsonLine = true
			w.modeSet = true
		}
		return payload, err
	}

	payload, err := w.readFramed(first)
	if err == nil && !w.modeSet {
		w.modeSet = true
	}
	return payload, err
}

// readJSONLines accumulates lines until they form one valid JSON value.
func (w *wire) readJSONLines(first string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(first)
	for {
		if candidate := bytes.TrimSpace(buf.Bytes()); json.Valid(candidate) {
			return candidate, nil
		}
		line, err := w.in.ReadString('\n')
		if err != nil {
			return nil, err
		}
		buf.WriteString(line)
	}
}

// readFramed consumes a header block and the Content-Length sized body
// that follows it. Blank lines before the first header are tolerated.
func (w *wire) readFramed(first string) ([]byte, error) {
	length := -1
	line := first
	for {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" && length >= 0 {
			break
		}
		if name, value, ok := strings.Cut(trimmed, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			parsed, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
			length = parsed
		}

		var err error
		if line, err = w.in.ReadString('\n'); err != nil {
			return nil, err
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(w.in, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (w *wire) write(payload []byte) error {
	if w.jsonLine {
		if _, err := w.out.Write(payload); err != nil {
			return err
		}
		if err := w.out.WriteByte('\n'); err != nil {
			return err
		}
		return w.out.Flush()
	}

	if _, err := fmt.Fprintf(w.out, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := w.out.Write(payload); err != nil {
		return err
	}
	return w.out.Flush()
}
